package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whiteboard-backend/internal/database/dbtest"
	"whiteboard-backend/internal/model"
	"whiteboard-backend/internal/repo"
	"whiteboard-backend/internal/service"
	"whiteboard-backend/internal/session"
)

type harness struct {
	t        *testing.T
	ctx      context.Context
	coord    *Coordinator
	users    *repo.UserRepo
	canvases *repo.CanvasRepo
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := dbtest.New(t)
	users := repo.NewUserRepo(db)
	canvases := repo.NewCanvasRepo(db)
	coord := NewCoordinator(canvases, users, service.NewAccessService(canvases), nil, Options{
		ChatMaxLength:    20,
		CommentMaxLength: 20,
		StoreTimeout:     time.Second,
	})
	return &harness{t: t, ctx: context.Background(), coord: coord, users: users, canvases: canvases}
}

func (h *harness) user(email string) *model.User {
	h.t.Helper()
	u := &model.User{Email: email, Provider: model.ProviderLocal.String()}
	require.NoError(h.t, h.users.Create(h.ctx, u))
	return u
}

func (h *harness) canvas(owner *model.User, collaborators ...*model.User) uuid.UUID {
	h.t.Helper()
	id, err := h.canvases.Create(h.ctx, owner.ID)
	require.NoError(h.t, err)
	for _, u := range collaborators {
		require.NoError(h.t, h.canvases.AddCollaborator(h.ctx, id, u.ID))
	}
	return id
}

// connect opens an authenticated fake peer.
func (h *harness) connect(u *model.User) *session.Session {
	s := session.New(64)
	if u != nil {
		s.Authenticate(u.ID, u.Email)
	}
	h.coord.Connect(s)
	return s
}

func (h *harness) join(s *session.Session, canvasID uuid.UUID) *Snapshot {
	h.t.Helper()
	snap, err := h.coord.Join(h.ctx, s, canvasID)
	require.NoError(h.t, err)
	return snap
}

func (h *harness) send(s *session.Session, eventType string, payload any) {
	h.t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(h.t, err)
	frame, err := json.Marshal(Envelope{Type: eventType, Payload: data})
	require.NoError(h.t, err)
	h.coord.HandleMessage(h.ctx, s, frame)
}

// drain returns everything queued on the peer so far.
func drain(s *session.Session) []Envelope {
	var out []Envelope
	for {
		select {
		case msg, ok := <-s.Outbound():
			if !ok {
				return out
			}
			var env Envelope
			if err := json.Unmarshal(msg, &env); err == nil {
				out = append(out, env)
			}
		default:
			return out
		}
	}
}

func ofType(envs []Envelope, eventType string) []Envelope {
	var out []Envelope
	for _, e := range envs {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func payloadOf[T any](t *testing.T, env Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Payload, &v))
	return v
}

func TestLiveUpdateRelaysVerbatimToOthersInOrder(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.user("alice@example.com"), h.user("bob@example.com")
	id := h.canvas(alice, bob)

	a := h.connect(alice)
	b1 := h.connect(bob)
	b2 := h.connect(bob)
	for _, s := range []*session.Session{a, b1, b2} {
		h.join(s, id)
	}
	drain(a)
	drain(b1)
	drain(b2)

	payloads := make([]json.RawMessage, 0, 5)
	for i := 0; i < 5; i++ {
		raw := json.RawMessage(fmt.Sprintf(`[{"id":0,"type":"LINE","x1":0,"y1":0,"x2":%d,"y2":%d,"roughEle":{"seed":%d}}]`, i, i, i))
		payloads = append(payloads, raw)
		require.NoError(t, h.coord.LiveUpdate(a, id, raw))
	}

	assert.Empty(t, drain(a), "sender never receives its own update")
	for _, peer := range []*session.Session{b1, b2} {
		got := ofType(drain(peer), EventDrawingUpdate)
		require.Len(t, got, len(payloads))
		for i, env := range got {
			p := payloadOf[ElementsPayload](t, env)
			assert.Equal(t, id, p.CanvasID)
			assert.JSONEq(t, string(payloads[i]), string(p.Elements))
		}
	}
}

func TestLiveUpdateRequiresJoin(t *testing.T) {
	h := newHarness(t)
	alice := h.user("alice@example.com")
	id := h.canvas(alice)

	s := h.connect(alice)
	err := h.coord.LiveUpdate(s, id, json.RawMessage(`[]`))
	assert.ErrorIs(t, err, model.ErrUnauthorized)

	anon := h.connect(nil)
	h.send(anon, EventDrawingUpdate, ElementsPayload{CanvasID: id, Elements: json.RawMessage(`[]`)})
	denied := ofType(drain(anon), EventAccessDenied)
	require.Len(t, denied, 1)
	assert.Equal(t, "INVALID_CREDENTIAL", payloadOf[accessDeniedPayload](t, denied[0]).Code)
}

func TestJoinUnauthorizedLeaksNothing(t *testing.T) {
	h := newHarness(t)
	alice, mallory := h.user("alice@example.com"), h.user("mallory@example.com")
	id := h.canvas(alice)
	require.NoError(t, h.canvases.ReplaceElements(h.ctx, id, []model.Element{
		{ID: 0, Kind: model.KindText, Shape: model.Label{Text: "secret"}},
	}))

	a := h.connect(alice)
	h.join(a, id)
	drain(a)

	m := h.connect(mallory)
	snap, err := h.coord.Join(h.ctx, m, id)
	assert.ErrorIs(t, err, model.ErrUnauthorized)
	assert.Nil(t, snap)

	h.send(m, EventJoinCanvas, CanvasRef{CanvasID: id})
	envs := drain(m)
	require.Len(t, envs, 1)
	assert.Equal(t, EventAccessDenied, envs[0].Type)
	assert.NotContains(t, string(envs[0].Payload), "secret")
	assert.Equal(t, "UNAUTHORIZED", payloadOf[accessDeniedPayload](t, envs[0]).Code)

	assert.Empty(t, drain(a), "a rejected join changes no session state")
	assert.Len(t, h.coord.Sessions().ListParticipants(id), 1)

	_, err = h.coord.Join(h.ctx, m, uuid.New())
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestCheckpointThenJoinRoundTrip(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.user("alice@example.com"), h.user("bob@example.com")
	id := h.canvas(alice, bob)

	a := h.connect(alice)
	h.join(a, id)

	elements := json.RawMessage(`[
		{"id":0,"type":"RECTANGLE","stroke":"#000000","size":2,"x1":0,"y1":0,"x2":10,"y2":10},
		{"id":1,"type":"BRUSH","stroke":"#ff0000","size":4,"points":[{"x":1,"y":1},{"x":2,"y":2}]}
	]`)
	require.NoError(t, h.coord.Checkpoint(h.ctx, a, id, elements))

	want, err := model.DecodeElements(elements)
	require.NoError(t, err)

	snap := h.join(h.connect(bob), id)
	assert.Equal(t, want, snap.Elements)
	assert.False(t, snap.IsOwner)
	assert.Equal(t, "alice@example.com", snap.OwnerEmail)
	assert.Equal(t, []string{"bob@example.com"}, snap.SharedEmails)
	assert.Zero(t, h.coord.locks.size())
}

func TestCheckpointRejectsInvalidElements(t *testing.T) {
	h := newHarness(t)
	alice := h.user("alice@example.com")
	id := h.canvas(alice)
	a := h.connect(alice)
	h.join(a, id)
	drain(a)

	h.send(a, EventCheckpoint, ElementsPayload{CanvasID: id, Elements: json.RawMessage(`[{"id":0,"type":"HEXAGON"}]`)})
	errs := ofType(drain(a), EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "INVALID_PAYLOAD", payloadOf[errorPayload](t, errs[0]).Code)
}

type failingStore struct {
	*repo.CanvasRepo
}

func (failingStore) ReplaceElements(context.Context, uuid.UUID, []model.Element) error {
	return fmt.Errorf("%w: connection refused", model.ErrPersistence)
}

func TestCheckpointFailureIsSoft(t *testing.T) {
	h := newHarness(t)
	alice := h.user("alice@example.com")
	id := h.canvas(alice)

	store := failingStore{h.canvases}
	h.coord = NewCoordinator(store, h.users, service.NewAccessService(h.canvases), nil, Options{})

	a := h.connect(alice)
	h.join(a, id)
	drain(a)

	h.send(a, EventCheckpoint, ElementsPayload{CanvasID: id, Elements: json.RawMessage(`[]`)})
	envs := drain(a)
	require.Len(t, envs, 1)
	assert.Equal(t, EventSaveFailed, envs[0].Type)
	assert.False(t, a.IsClosed())

	// the connection keeps working
	_, err := h.coord.AddComment(h.ctx, a, id, CommentInput{Text: "still here"})
	assert.NoError(t, err)
}

// blockingStore holds ReplaceElements until released.
type blockingStore struct {
	*repo.CanvasRepo
	entered chan struct{}
	release chan struct{}
	ctxErr  chan error
}

func (s blockingStore) ReplaceElements(ctx context.Context, canvasID uuid.UUID, elements []model.Element) error {
	close(s.entered)
	<-s.release
	s.ctxErr <- ctx.Err()
	return s.CanvasRepo.ReplaceElements(ctx, canvasID, elements)
}

func TestCheckpointOutlivesConnection(t *testing.T) {
	h := newHarness(t)
	alice := h.user("alice@example.com")
	id := h.canvas(alice)

	store := blockingStore{
		CanvasRepo: h.canvases,
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
		ctxErr:     make(chan error, 1),
	}
	h.coord = NewCoordinator(store, h.users, service.NewAccessService(h.canvases), nil, Options{StoreTimeout: 5 * time.Second})

	a := h.connect(alice)
	h.join(a, id)
	drain(a)

	elements := json.RawMessage(`[{"id":0,"type":"RECTANGLE","stroke":"#000000","size":2,"x1":0,"y1":0,"x2":10,"y2":10}]`)
	want, err := model.DecodeElements(elements)
	require.NoError(t, err)

	payload, err := json.Marshal(ElementsPayload{CanvasID: id, Elements: elements})
	require.NoError(t, err)
	frame, err := json.Marshal(Envelope{Type: EventCheckpoint, Payload: payload})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.coord.HandleMessage(a.Context(), a, frame)
	}()

	<-store.entered
	a.Close()
	require.Error(t, a.Context().Err())
	close(store.release)
	<-done

	assert.NoError(t, <-store.ctxErr, "the write is not tied to the connection")

	doc, err := h.canvases.Load(h.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, want, doc.Elements)
}

// cancelledStore fails every write with a cancelled context.
type cancelledStore struct {
	*repo.CanvasRepo
}

func (cancelledStore) ReplaceElements(context.Context, uuid.UUID, []model.Element) error {
	return fmt.Errorf("replace elements: %w", context.Canceled)
}

func TestCheckpointCancelledIsSaveFailed(t *testing.T) {
	h := newHarness(t)
	alice := h.user("alice@example.com")
	id := h.canvas(alice)
	h.coord = NewCoordinator(cancelledStore{h.canvases}, h.users, service.NewAccessService(h.canvases), nil, Options{})

	a := h.connect(alice)
	h.join(a, id)
	drain(a)

	h.send(a, EventCheckpoint, ElementsPayload{CanvasID: id, Elements: json.RawMessage(`[]`)})
	envs := drain(a)
	require.Len(t, envs, 1)
	assert.Equal(t, EventSaveFailed, envs[0].Type)
	assert.Empty(t, ofType(envs, EventError))
}

func TestPresenceIsDeduplicatedByUser(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.user("alice@example.com"), h.user("bob@example.com")
	id := h.canvas(alice, bob)

	b := h.connect(bob)
	h.join(b, id)
	drain(b)

	tab1, tab2 := h.connect(alice), h.connect(alice)
	h.join(tab1, id)
	h.join(tab2, id)

	envs := drain(b)
	presence := ofType(envs, EventPresenceChanged)
	require.NotEmpty(t, presence)
	last := payloadOf[presencePayload](t, presence[len(presence)-1])
	assert.Equal(t, []session.Participant{
		{UserID: bob.ID, Email: "bob@example.com"},
		{UserID: alice.ID, Email: "alice@example.com"},
	}, last.Participants)
	assert.Len(t, ofType(envs, EventParticipantJoined), 2)

	// closing one tab keeps alice present and sends no participant_left
	h.coord.Disconnect(tab1)
	envs = drain(b)
	assert.Empty(t, ofType(envs, EventParticipantLeft))
	assert.Len(t, h.coord.Sessions().ListParticipants(id), 2)

	h.coord.Disconnect(tab2)
	left := ofType(drain(b), EventParticipantLeft)
	require.Len(t, left, 1)
	assert.Equal(t, alice.ID, payloadOf[participantPayload](t, left[0]).UserID)
}

func TestDisconnectCleansEverySession(t *testing.T) {
	h := newHarness(t)
	alice := h.user("alice@example.com")
	id := h.canvas(alice)

	for i := 0; i < 20; i++ {
		s := h.connect(alice)
		h.join(s, id)
		h.coord.Disconnect(s)
		assert.True(t, s.IsClosed())
	}

	conns, canvases := h.coord.Sessions().Stats()
	assert.Zero(t, conns)
	assert.Zero(t, canvases)
	assert.Empty(t, h.coord.Sessions().ListParticipants(id))
}

func TestJoinIsExclusivePerConnection(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.user("alice@example.com"), h.user("bob@example.com")
	first := h.canvas(alice, bob)
	second := h.canvas(alice)

	b := h.connect(bob)
	h.join(b, first)
	a := h.connect(alice)
	h.join(a, first)
	drain(b)

	h.join(a, second)
	assert.False(t, h.coord.Sessions().IsJoined(first, a.ID))
	assert.True(t, h.coord.Sessions().IsJoined(second, a.ID))

	left := ofType(drain(b), EventParticipantLeft)
	require.Len(t, left, 1)
	assert.Equal(t, alice.ID, payloadOf[participantPayload](t, left[0]).UserID)

	h.send(a, EventLeaveCanvas, CanvasRef{CanvasID: second})
	assert.Equal(t, session.StateAuthenticated, a.GetState())
	_, canvases := h.coord.Sessions().Stats()
	assert.Equal(t, 1, canvases)
}

// revokingGate allows the first access check on a canvas and denies the rest.
type revokingGate struct {
	Gate
	canvasID uuid.UUID

	mu    sync.Mutex
	calls int
}

func (g *revokingGate) CanAccess(ctx context.Context, canvasID uuid.UUID, userID int64) error {
	if canvasID != g.canvasID {
		return g.Gate.CanAccess(ctx, canvasID, userID)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.calls > 1 {
		return model.ErrUnauthorized
	}
	return g.Gate.CanAccess(ctx, canvasID, userID)
}

func TestJoinRevokedMidwayIsUndone(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.user("alice@example.com"), h.user("bob@example.com")
	home := h.canvas(bob)
	id := h.canvas(alice, bob)

	gate := &revokingGate{Gate: service.NewAccessService(h.canvases), canvasID: id}
	h.coord = NewCoordinator(h.canvases, h.users, gate, nil, Options{})

	b := h.connect(bob)
	h.join(b, home)
	drain(b)

	snap, err := h.coord.Join(h.ctx, b, id)
	assert.ErrorIs(t, err, model.ErrUnauthorized)
	assert.Nil(t, snap)

	assert.False(t, h.coord.Sessions().IsJoined(id, b.ID))
	assert.True(t, h.coord.Sessions().IsJoined(home, b.ID), "the previous canvas stays joined")
	assert.Equal(t, session.StateJoined, b.GetState())
	assert.Empty(t, ofType(drain(b), EventCanvasSnapshot))
	assert.NoError(t, h.coord.LiveUpdate(b, home, json.RawMessage(`[]`)))
	assert.ErrorIs(t, h.coord.LiveUpdate(b, id, json.RawMessage(`[]`)), model.ErrUnauthorized)

	// a fresh connection falls back to authenticated
	gate.mu.Lock()
	gate.calls = 0
	gate.mu.Unlock()
	b2 := h.connect(bob)
	_, err = h.coord.Join(h.ctx, b2, id)
	assert.ErrorIs(t, err, model.ErrUnauthorized)
	assert.Equal(t, session.StateAuthenticated, b2.GetState())
	assert.Empty(t, drain(b2))
	assert.Empty(t, h.coord.Sessions().ListParticipants(id))
	assert.Zero(t, h.coord.locks.size())
}

func TestCommentsBroadcastToEveryoneIncludingSender(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.user("alice@example.com"), h.user("bob@example.com")
	id := h.canvas(alice, bob)
	a, b := h.connect(alice), h.connect(bob)
	h.join(a, id)
	h.join(b, id)
	drain(a)
	drain(b)

	h.send(a, EventAddComment, addCommentPayload{CanvasID: id, Comment: CommentInput{Text: "  look here  ", X: 3, Y: 4}})

	for _, s := range []*session.Session{a, b} {
		got := ofType(drain(s), EventCommentAdded)
		require.Len(t, got, 1)
		c := payloadOf[commentAddedPayload](t, got[0]).Comment
		assert.NotZero(t, c.ID)
		assert.Equal(t, "look here", c.Text)
		assert.Equal(t, "alice@example.com", c.Author)
		assert.Equal(t, 3.0, c.X)
	}

	h.send(a, EventAddComment, addCommentPayload{CanvasID: id, Comment: CommentInput{Text: "   "}})
	errs := ofType(drain(a), EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "INVALID_PAYLOAD", payloadOf[errorPayload](t, errs[0]).Code)
}

func TestChatCarriesIdempotencyTokenAndOwnerFlag(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.user("alice@example.com"), h.user("bob@example.com")
	id := h.canvas(alice, bob)
	a, b := h.connect(alice), h.connect(bob)
	h.join(a, id)
	h.join(b, id)
	drain(a)
	drain(b)

	h.send(a, EventSendMessage, sendMessagePayload{CanvasID: id, Message: MessageInput{Text: "hello", ClientMsgID: "tok-a"}})
	h.send(b, EventSendMessage, sendMessagePayload{CanvasID: id, Message: MessageInput{Text: "a very long message that will be cut", ClientMsgID: "tok-b"}})

	got := ofType(drain(a), EventMessageAdded)
	require.Len(t, got, 2)

	first := payloadOf[messageAddedPayload](t, got[0]).Message
	assert.Equal(t, "tok-a", first.ClientMsgID)
	assert.True(t, first.IsOwner)

	second := payloadOf[messageAddedPayload](t, got[1]).Message
	assert.Equal(t, "tok-b", second.ClientMsgID)
	assert.False(t, second.IsOwner)
	assert.Len(t, []rune(second.Text), 20)

	assert.Len(t, ofType(drain(b), EventMessageAdded), 2)
}

func TestShareFailures(t *testing.T) {
	h := newHarness(t)
	alice, bob, carol := h.user("alice@example.com"), h.user("bob@example.com"), h.user("carol@example.com")
	id := h.canvas(alice, bob)

	err := h.coord.Share(h.ctx, alice.ID, alice.Email, id, "nobody@example.com")
	assert.ErrorIs(t, err, model.ErrUserNotFound)

	err = h.coord.Share(h.ctx, bob.ID, bob.Email, id, "ALICE@example.com")
	assert.ErrorIs(t, err, model.ErrAlreadyOwner)

	err = h.coord.Share(h.ctx, alice.ID, alice.Email, id, "bob@example.com")
	assert.ErrorIs(t, err, model.ErrAlreadyShared)

	err = h.coord.Share(h.ctx, alice.ID, alice.Email, id, "carol@example.com")
	assert.ErrorIs(t, err, model.ErrTargetOffline)
	m, err := h.canvases.Membership(h.ctx, id)
	require.NoError(t, err)
	assert.False(t, m.Allows(carol.ID), "offline share must not mutate the collaborator set")
	assert.Zero(t, h.coord.invites.count())

	err = h.coord.Share(h.ctx, carol.ID, carol.Email, id, "bob@example.com")
	assert.ErrorIs(t, err, model.ErrUnauthorized)
}

func TestInviteAcceptIsIdempotent(t *testing.T) {
	h := newHarness(t)
	alice, carol := h.user("alice@example.com"), h.user("carol@example.com")
	id := h.canvas(alice)

	a := h.connect(alice)
	c1, c2 := h.connect(carol), h.connect(carol)

	require.NoError(t, h.coord.Share(h.ctx, alice.ID, alice.Email, id, "carol@example.com"))
	for _, s := range []*session.Session{c1, c2} {
		req := ofType(drain(s), EventInviteRequest)
		require.Len(t, req, 1, "every tab of the invitee gets the invitation")
		p := payloadOf[inviteRequestPayload](t, req[0])
		assert.Equal(t, alice.ID, p.InviterID)
		assert.Equal(t, "alice@example.com", p.InviterEmail)
	}

	require.NoError(t, h.coord.RespondToInvite(h.ctx, carol.ID, carol.Email, id, alice.ID, model.InviteAccepted))
	err := h.coord.RespondToInvite(h.ctx, carol.ID, carol.Email, id, alice.ID, model.InviteAccepted)
	assert.ErrorIs(t, err, model.ErrNoPendingInvite)

	m, err := h.canvases.Membership(h.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []int64{carol.ID}, m.CollaboratorIDs)

	accepted := ofType(drain(a), EventInviteAccepted)
	require.Len(t, accepted, 1)
	assert.Equal(t, carol.ID, payloadOf[inviteResultPayload](t, accepted[0]).InviteeID)

	for _, s := range []*session.Session{c1, c2} {
		envs := drain(s)
		assert.Len(t, ofType(envs, EventInviteConfirmed), 1)
		assert.Len(t, ofType(envs, EventCanvasListChanged), 1)
	}
}

func TestInviteReject(t *testing.T) {
	h := newHarness(t)
	alice, carol := h.user("alice@example.com"), h.user("carol@example.com")
	id := h.canvas(alice)
	a, c := h.connect(alice), h.connect(carol)

	require.NoError(t, h.coord.Share(h.ctx, alice.ID, alice.Email, id, "carol@example.com"))
	drain(c)

	h.send(c, EventRespondInvite, respondInvitePayload{CanvasID: id, InviterID: alice.ID, Response: model.InviteRejected})

	rejected := ofType(drain(a), EventInviteRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, "carol@example.com", payloadOf[inviteResultPayload](t, rejected[0]).InviteeEmail)
	assert.Empty(t, drain(c))

	m, err := h.canvases.Membership(h.ctx, id)
	require.NoError(t, err)
	assert.Empty(t, m.CollaboratorIDs)

	h.send(c, EventRespondInvite, respondInvitePayload{CanvasID: id, InviterID: alice.ID, Response: "maybe"})
	errs := ofType(drain(c), EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "INVALID_PAYLOAD", payloadOf[errorPayload](t, errs[0]).Code)
}

func TestInviteeDisconnectDropsPendingInvites(t *testing.T) {
	h := newHarness(t)
	alice, carol := h.user("alice@example.com"), h.user("carol@example.com")
	id := h.canvas(alice)
	h.connect(alice)
	c1, c2 := h.connect(carol), h.connect(carol)

	require.NoError(t, h.coord.Share(h.ctx, alice.ID, alice.Email, id, "carol@example.com"))
	h.coord.Disconnect(c1)
	assert.Equal(t, 1, h.coord.invites.count(), "another tab is still open")

	h.coord.Disconnect(c2)
	assert.Zero(t, h.coord.invites.count())

	err := h.coord.RespondToInvite(h.ctx, carol.ID, carol.Email, id, alice.ID, model.InviteAccepted)
	assert.ErrorIs(t, err, model.ErrNoPendingInvite)
}

func TestUnshareEvictsAndBroadcasts(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.user("alice@example.com"), h.user("bob@example.com")
	id := h.canvas(alice, bob)
	a, b := h.connect(alice), h.connect(bob)
	h.join(a, id)
	h.join(b, id)
	drain(a)
	drain(b)

	emails, err := h.coord.Unshare(h.ctx, alice.ID, id, bob.ID)
	require.NoError(t, err)
	assert.Empty(t, emails)

	envs := drain(b)
	require.Len(t, ofType(envs, EventAccessDenied), 1)
	assert.Len(t, ofType(envs, EventCanvasListChanged), 1)
	assert.False(t, h.coord.Sessions().IsJoined(id, b.ID))

	update := ofType(drain(a), EventSharingUpdate)
	require.Len(t, update, 1)
	assert.Empty(t, payloadOf[sharingUpdatePayload](t, update[0]).SharedEmails)

	assert.ErrorIs(t, h.coord.LiveUpdate(b, id, json.RawMessage(`[]`)), model.ErrUnauthorized)
	_, err = h.coord.Join(h.ctx, b, id)
	assert.ErrorIs(t, err, model.ErrUnauthorized)
}

func TestUnshareOwnerIsRejected(t *testing.T) {
	h := newHarness(t)
	alice, bob, carol := h.user("alice@example.com"), h.user("bob@example.com"), h.user("carol@example.com")
	id := h.canvas(alice, bob)
	a, b := h.connect(alice), h.connect(bob)
	h.join(a, id)
	h.join(b, id)
	drain(a)
	drain(b)

	_, err := h.coord.Unshare(h.ctx, bob.ID, id, alice.ID)
	assert.ErrorIs(t, err, model.ErrAlreadyOwner)

	assert.Empty(t, drain(a), "the owner keeps the session")
	assert.Empty(t, drain(b))
	assert.True(t, h.coord.Sessions().IsJoined(id, a.ID))
	assert.NoError(t, h.coord.LiveUpdate(a, id, json.RawMessage(`[]`)))

	// carol was never shared the canvas
	emails, err := h.coord.Unshare(h.ctx, alice.ID, id, carol.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob@example.com"}, emails)
	assert.Empty(t, drain(b), "nobody is evicted")
	assert.True(t, h.coord.Sessions().IsJoined(id, b.ID))

	m, err := h.canvases.Membership(h.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, m.OwnerID)
	assert.Equal(t, []int64{bob.ID}, m.CollaboratorIDs)
}

func TestLeaveCanvas(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.user("alice@example.com"), h.user("bob@example.com")
	id := h.canvas(alice, bob)

	assert.ErrorIs(t, h.coord.LeaveCanvas(h.ctx, alice.ID, id), model.ErrAlreadyOwner)
	require.NoError(t, h.coord.LeaveCanvas(h.ctx, bob.ID, id))
	assert.ErrorIs(t, h.coord.LeaveCanvas(h.ctx, bob.ID, id), model.ErrUnauthorized)

	m, err := h.canvases.Membership(h.ctx, id)
	require.NoError(t, err)
	assert.Empty(t, m.CollaboratorIDs)
}

func TestSlowConsumerIsClosed(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.user("alice@example.com"), h.user("bob@example.com")
	id := h.canvas(alice, bob)

	a := h.connect(alice)
	h.join(a, id)

	slow := session.New(2)
	slow.Authenticate(bob.ID, bob.Email)
	h.coord.Connect(slow)
	h.join(slow, id) // snapshot + presence fill the queue

	require.NoError(t, h.coord.LiveUpdate(a, id, json.RawMessage(`[]`)))
	assert.True(t, slow.IsClosed())
}

func TestMalformedFrames(t *testing.T) {
	h := newHarness(t)
	alice := h.user("alice@example.com")
	s := h.connect(alice)

	h.coord.HandleMessage(h.ctx, s, []byte("not json"))
	h.coord.HandleMessage(h.ctx, s, []byte(`{"type":"teleport","payload":{}}`))
	h.coord.HandleMessage(h.ctx, s, []byte(`{"type":"join_canvas"}`))

	errs := ofType(drain(s), EventError)
	require.Len(t, errs, 3)
	for _, e := range errs {
		assert.Equal(t, "INVALID_PAYLOAD", payloadOf[errorPayload](t, e).Code)
	}

	h.send(s, EventPing, struct{}{})
	assert.Len(t, ofType(drain(s), EventPong), 1)
}

func TestEndToEndScenario(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.user("alice@example.com"), h.user("bob@example.com")

	id, err := h.canvases.Create(h.ctx, alice.ID)
	require.NoError(t, err)

	a := h.connect(alice)
	h.send(a, EventJoinCanvas, CanvasRef{CanvasID: id})
	snaps := ofType(drain(a), EventCanvasSnapshot)
	require.Len(t, snaps, 1)
	snap := payloadOf[Snapshot](t, snaps[0])
	assert.True(t, snap.IsOwner)
	assert.Empty(t, snap.SharedEmails)

	rect := json.RawMessage(`[{"id":0,"type":"RECTANGLE","stroke":"#000000","size":1,"x1":0,"y1":0,"x2":10,"y2":10}]`)
	h.send(a, EventCheckpoint, ElementsPayload{CanvasID: id, Elements: rect})
	assert.Empty(t, ofType(drain(a), EventSaveFailed))

	bTab1, bTab2 := h.connect(bob), h.connect(bob)
	h.send(bTab1, EventJoinCanvas, CanvasRef{CanvasID: id})
	denied := ofType(drain(bTab1), EventAccessDenied)
	require.Len(t, denied, 1)
	assert.Equal(t, "UNAUTHORIZED", payloadOf[accessDeniedPayload](t, denied[0]).Code)

	h.send(a, EventShareCanvas, shareCanvasPayload{CanvasID: id, Email: "bob@example.com"})
	assert.Len(t, ofType(drain(a), EventInviteSent), 1)
	assert.Len(t, ofType(drain(bTab1), EventInviteRequest), 1)
	assert.Len(t, ofType(drain(bTab2), EventInviteRequest), 1)

	h.send(bTab1, EventRespondInvite, respondInvitePayload{CanvasID: id, InviterID: alice.ID, Response: model.InviteAccepted})
	assert.Len(t, ofType(drain(a), EventInviteAccepted), 1)
	assert.Len(t, ofType(drain(bTab2), EventCanvasListChanged), 1)

	h.send(bTab1, EventJoinCanvas, CanvasRef{CanvasID: id})
	snaps = ofType(drain(bTab1), EventCanvasSnapshot)
	require.Len(t, snaps, 1)
	snap = payloadOf[Snapshot](t, snaps[0])
	require.Len(t, snap.Elements, 1)
	assert.Equal(t, model.KindRectangle, snap.Elements[0].Kind)
	assert.Equal(t, model.Segment{X1: 0, Y1: 0, X2: 10, Y2: 10}, snap.Elements[0].Shape)
	assert.Equal(t, []string{"bob@example.com"}, snap.SharedEmails)
}

func TestCanvasDeletedEvictsParticipants(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.user("alice@example.com"), h.user("bob@example.com")
	id := h.canvas(alice, bob)
	a, b := h.connect(alice), h.connect(bob)
	h.join(a, id)
	h.join(b, id)
	drain(a)
	drain(b)

	m, err := h.canvases.Membership(h.ctx, id)
	require.NoError(t, err)
	require.NoError(t, h.canvases.Delete(h.ctx, id, alice.ID))
	h.coord.CanvasDeleted(id, m)

	for _, s := range []*session.Session{a, b} {
		envs := drain(s)
		denied := ofType(envs, EventAccessDenied)
		require.Len(t, denied, 1)
		assert.Equal(t, "NOT_FOUND", payloadOf[accessDeniedPayload](t, denied[0]).Code)
		assert.Len(t, ofType(envs, EventCanvasListChanged), 1)
	}
	_, canvases := h.coord.Sessions().Stats()
	assert.Zero(t, canvases)
}

// recordingMirror records presence calls in the order they ran.
type recordingMirror struct {
	mu    sync.Mutex
	calls []string
}

func (m *recordingMirror) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *recordingMirror) snapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *recordingMirror) SetOnline(_ context.Context, userID int64, _ string) error {
	time.Sleep(20 * time.Millisecond)
	m.record(fmt.Sprintf("online:%d", userID))
	return nil
}

func (m *recordingMirror) Refresh(_ context.Context, userID int64) error {
	m.record(fmt.Sprintf("refresh:%d", userID))
	return nil
}

func (m *recordingMirror) SetOffline(_ context.Context, userID int64) error {
	m.record(fmt.Sprintf("offline:%d", userID))
	return nil
}

func TestPresenceMirrorKeepsOrder(t *testing.T) {
	h := newHarness(t)
	alice := h.user("alice@example.com")

	mirror := &recordingMirror{}
	h.coord = NewCoordinator(h.canvases, h.users, service.NewAccessService(h.canvases), mirror, Options{})

	a := h.connect(alice)
	h.coord.Ping(a)
	h.coord.Disconnect(a)
	h.coord.Close()

	want := []string{
		fmt.Sprintf("online:%d", alice.ID),
		fmt.Sprintf("refresh:%d", alice.ID),
		fmt.Sprintf("offline:%d", alice.ID),
	}
	assert.Equal(t, want, mirror.snapshot())

	// closed coordinators drop further updates
	h.connect(alice)
	h.coord.Close()
	assert.Equal(t, want, mirror.snapshot())
}
