// Package realtime 캔버스 협업 세션 (참여, 실시간 드로잉 중계, 체크포인트, 코멘트, 채팅, 초대)
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"whiteboard-backend/internal/model"
	"whiteboard-backend/internal/session"
)

// DocumentStore 캔버스 영구 저장소
type DocumentStore interface {
	Load(ctx context.Context, canvasID uuid.UUID) (*model.Document, error)
	Membership(ctx context.Context, canvasID uuid.UUID) (*model.Membership, error)
	ReplaceElements(ctx context.Context, canvasID uuid.UUID, elements []model.Element) error
	AppendComment(ctx context.Context, canvasID uuid.UUID, comment model.Comment) (*model.Comment, error)
	AppendMessage(ctx context.Context, canvasID uuid.UUID, msg model.ChatMessage) (*model.ChatMessage, error)
	AddCollaborator(ctx context.Context, canvasID uuid.UUID, userID int64) error
	RemoveCollaborator(ctx context.Context, canvasID uuid.UUID, userID int64) error
	SharedEmails(ctx context.Context, canvasID uuid.UUID) ([]string, error)
}

// UserDirectory 공유 대상 조회
type UserDirectory interface {
	FindByEmail(ctx context.Context, email string) (*model.User, error)
}

// Gate 캔버스 접근 권한 판단
type Gate interface {
	CanAccess(ctx context.Context, canvasID uuid.UUID, userID int64) error
}

// PresenceMirror 사용자 접속 상태를 프로세스 외부에 기록
type PresenceMirror interface {
	SetOnline(ctx context.Context, userID int64, email string) error
	Refresh(ctx context.Context, userID int64) error
	SetOffline(ctx context.Context, userID int64) error
}

// Options 제한값과 타임아웃
type Options struct {
	ChatMaxLength    int
	CommentMaxLength int
	StoreTimeout     time.Duration
}

const mirrorQueueSize = 1024

// Coordinator 실시간 연결 전체의 생명주기 관리자
type Coordinator struct {
	sessions *session.Store
	docs     DocumentStore
	users    UserDirectory
	gate     Gate
	presence PresenceMirror // Redis 비활성화 시 nil
	opts     Options

	locks   *canvasLocks
	invites *inviteBook

	// presence 미러 호출은 하나의 워커가 순서대로 처리
	mirrorQ   chan mirrorJob
	stop      chan struct{}
	stopOnce  sync.Once
	mirrorEnd chan struct{}
}

type mirrorJob func(ctx context.Context, p PresenceMirror) error

// NewCoordinator Coordinator 생성 (presence는 nil 가능)
func NewCoordinator(docs DocumentStore, users UserDirectory, gate Gate, presence PresenceMirror, opts Options) *Coordinator {
	if opts.ChatMaxLength <= 0 {
		opts.ChatMaxLength = 2000
	}
	if opts.CommentMaxLength <= 0 {
		opts.CommentMaxLength = 2000
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	c := &Coordinator{
		sessions:  session.NewStore(),
		docs:      docs,
		users:     users,
		gate:      gate,
		presence:  presence,
		opts:      opts,
		locks:     newCanvasLocks(),
		invites:   newInviteBook(),
		stop:      make(chan struct{}),
		mirrorEnd: make(chan struct{}),
	}
	if presence != nil {
		c.mirrorQ = make(chan mirrorJob, mirrorQueueSize)
		go c.runMirror()
	} else {
		close(c.mirrorEnd)
	}
	return c
}

// Sessions 상태 조회용 세션 저장소
func (c *Coordinator) Sessions() *session.Store {
	return c.sessions
}

// Close presence 워커 종료 (대기 중인 호출은 처리 후 종료)
func (c *Coordinator) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.mirrorEnd
}

// =============================================================================
// 연결 생명주기
// =============================================================================

// Connect 연결 등록 (핸드셰이크에 유효한 토큰이 있으면 먼저 Authenticate)
func (c *Coordinator) Connect(sess *session.Session) {
	c.sessions.Attach(sess)

	userID, email := sess.Identity()
	if userID == 0 {
		log.Printf("[Coordinator] 🔌 Connected %s (unauthenticated)", sess.ID)
		return
	}
	log.Printf("[Coordinator] 🔌 Connected %s user=%d", sess.ID, userID)
	c.mirror(func(ctx context.Context, p PresenceMirror) error {
		return p.SetOnline(ctx, userID, email)
	})
}

// Disconnect 참여 중인 모든 세션에서 연결을 제거하고 남은 참여자에게 알림
func (c *Coordinator) Disconnect(sess *session.Session) {
	userID, email := sess.Identity()

	for _, canvasID := range c.sessions.Unregister(sess.ID) {
		c.announceLeave(canvasID, userID, email)
	}

	if c.sessions.Detach(sess.ID) {
		if n := c.invites.dropInvitee(userID); n > 0 {
			log.Printf("[Coordinator] Dropped %d pending invitation(s) for user %d", n, userID)
		}
		c.mirror(func(ctx context.Context, p PresenceMirror) error {
			return p.SetOffline(ctx, userID)
		})
	}

	sess.Close()
	log.Printf("[Coordinator] 🛑 Disconnected %s (duration: %v)", sess.ID, sess.Duration().Round(time.Second))
}

// Ping presence TTL 갱신 후 pong 응답
func (c *Coordinator) Ping(sess *session.Session) {
	if userID, email := sess.Identity(); userID != 0 {
		c.mirror(func(ctx context.Context, p PresenceMirror) error {
			if err := p.Refresh(ctx, userID); err != nil {
				// 하트비트 사이에 키 만료
				return p.SetOnline(ctx, userID, email)
			}
			return nil
		})
	}
	c.deliver(sess, encode(EventPong, nil))
}

// =============================================================================
// 참여 / 나가기
// =============================================================================

// Join 권한 확인 후 참여 등록, 스냅샷 전송
//
// 연결당 하나의 캔버스만 참여한다. 다른 캔버스에 참여하면 이전 캔버스에서 나간다.
// 실패하면 이전 참여 상태는 그대로 유지된다.
func (c *Coordinator) Join(ctx context.Context, sess *session.Session, canvasID uuid.UUID) (*Snapshot, error) {
	userID, email := sess.Identity()
	if userID == 0 {
		return nil, model.ErrInvalidCredential
	}

	if err := c.authorize(ctx, canvasID, userID); err != nil {
		return nil, err
	}

	unlock := c.locks.lock(canvasID)
	doc, err := c.load(ctx, canvasID)
	if err != nil {
		unlock()
		return nil, err
	}

	wasJoined := c.sessions.IsJoined(canvasID, sess.ID)
	previous, switched := sess.Join(canvasID)
	if sess.GetState() != session.StateJoined {
		unlock()
		return nil, model.ErrInvalidCredential
	}
	c.sessions.Register(canvasID, sess.ID, userID, email)

	// 등록 전에 권한이 회수됐다면 evict가 이 연결을 놓쳤으므로 등록 후 다시 확인
	if err := c.authorize(ctx, canvasID, userID); err != nil {
		c.sessions.Leave(canvasID, sess.ID)
		if switched {
			sess.Join(previous)
		} else {
			sess.Leave(canvasID)
		}
		unlock()
		if wasJoined {
			c.announceLeave(canvasID, userID, email)
		}
		return nil, err
	}
	unlock()

	if switched {
		if c.sessions.Leave(previous, sess.ID) {
			c.announceLeave(previous, userID, email)
		}
	}

	snap := &Snapshot{
		CanvasID:     canvasID,
		Elements:     doc.Elements,
		Comments:     doc.Comments,
		Messages:     doc.Messages,
		SharedEmails: doc.SharedEmails,
		OwnerEmail:   doc.OwnerEmail,
		IsOwner:      doc.IsOwner(userID),
	}
	c.deliver(sess, encode(EventCanvasSnapshot, snap))

	c.broadcast(canvasID, "", encode(EventPresenceChanged, presencePayload{
		CanvasID:     canvasID,
		Participants: c.sessions.ListParticipants(canvasID),
	}))
	c.broadcast(canvasID, sess.ID, encode(EventParticipantJoined, participantPayload{
		CanvasID: canvasID, UserID: userID, Email: email,
	}))

	log.Printf("[Canvas %s] ✅ user %d joined (conn %s)", canvasID, userID, sess.ID)
	return snap, nil
}

// Leave 캔버스에서 연결 제거 (참여하지 않은 캔버스면 무시)
func (c *Coordinator) Leave(sess *session.Session, canvasID uuid.UUID) {
	sess.Leave(canvasID)
	if c.sessions.Leave(canvasID, sess.ID) {
		userID, email := sess.Identity()
		c.announceLeave(canvasID, userID, email)
	}
}

func (c *Coordinator) announceLeave(canvasID uuid.UUID, userID int64, email string) {
	c.broadcast(canvasID, "", encode(EventPresenceChanged, presencePayload{
		CanvasID:     canvasID,
		Participants: c.sessions.ListParticipants(canvasID),
	}))
	if !c.sessions.HasUser(canvasID, userID) {
		c.broadcast(canvasID, "", encode(EventParticipantLeft, participantPayload{
			CanvasID: canvasID, UserID: userID, Email: email,
		}))
	}
}

// evict userID의 모든 연결을 캔버스에서 내보내고 사유 전달
func (c *Coordinator) evict(canvasID uuid.UUID, userID int64, cause error) {
	denied := encode(EventAccessDenied, accessDeniedPayload{
		CanvasID: canvasID,
		Code:     model.ErrorCode(cause),
		Reason:   cause.Error(),
	})

	var email string
	removed := false
	for _, s := range c.sessions.ConnectionsIn(canvasID) {
		id, e := s.Identity()
		if id != userID {
			continue
		}
		email = e
		s.Leave(canvasID)
		if c.sessions.Leave(canvasID, s.ID) {
			removed = true
			c.deliver(s, denied)
		}
	}
	if removed {
		c.announceLeave(canvasID, userID, email)
	}
}

// =============================================================================
// 드로잉
// =============================================================================

// LiveUpdate 요소 목록을 그대로 다른 참여자에게 중계 (저장하지 않음)
func (c *Coordinator) LiveUpdate(sess *session.Session, canvasID uuid.UUID, elements json.RawMessage) error {
	if !sess.IsAuthenticated() {
		return model.ErrInvalidCredential
	}
	if !c.sessions.IsJoined(canvasID, sess.ID) {
		return model.ErrUnauthorized
	}
	if len(elements) == 0 {
		return fmt.Errorf("%w: elements missing", model.ErrInvalidPayload)
	}

	c.broadcast(canvasID, sess.ID, encode(EventDrawingUpdate, ElementsPayload{
		CanvasID: canvasID,
		Elements: elements,
	}))
	return nil
}

// Checkpoint 저장된 요소 목록을 통째로 교체
//
// 저장은 연결 종료와 무관하게 끝까지 진행된다.
func (c *Coordinator) Checkpoint(ctx context.Context, sess *session.Session, canvasID uuid.UUID, raw json.RawMessage) error {
	userID, _ := sess.Identity()
	if userID == 0 {
		return model.ErrInvalidCredential
	}

	elements, err := model.DecodeElements(raw)
	if err != nil {
		return err
	}
	if dups := model.DuplicateIDs(elements); len(dups) > 0 {
		log.Printf("[Canvas %s] ⚠️ checkpoint from conn %s has duplicate element ids %v", canvasID, sess.ID, dups)
	}

	if err := c.authorize(ctx, canvasID, userID); err != nil {
		return err
	}

	unlock := c.locks.lock(canvasID)
	defer unlock()

	storeCtx, cancel := c.storeContext(ctx)
	defer cancel()

	if err := c.docs.ReplaceElements(storeCtx, canvasID, elements); err != nil {
		log.Printf("[Canvas %s] ❌ checkpoint failed (conn %s): %v", canvasID, sess.ID, err)
		return err
	}
	return nil
}

// =============================================================================
// 코멘트 / 채팅
// =============================================================================

// AddComment 코멘트 저장 후 보낸 사람을 포함한 모두에게 저장본 전송
func (c *Coordinator) AddComment(ctx context.Context, sess *session.Session, canvasID uuid.UUID, in CommentInput) (*model.Comment, error) {
	userID, email := sess.Identity()
	if userID == 0 {
		return nil, model.ErrInvalidCredential
	}

	text, err := clampText(in.Text, c.opts.CommentMaxLength)
	if err != nil {
		return nil, err
	}

	if err := c.authorize(ctx, canvasID, userID); err != nil {
		return nil, err
	}

	unlock := c.locks.lock(canvasID)
	storeCtx, cancel := c.storeContext(ctx)
	stored, err := c.docs.AppendComment(storeCtx, canvasID, model.Comment{
		Text:   text,
		X:      in.X,
		Y:      in.Y,
		Author: email,
	})
	cancel()
	unlock()
	if err != nil {
		log.Printf("[Canvas %s] ❌ comment failed (conn %s): %v", canvasID, sess.ID, err)
		return nil, err
	}

	c.broadcastWithSender(canvasID, sess, encode(EventCommentAdded, commentAddedPayload{
		CanvasID: canvasID,
		Comment:  *stored,
	}))
	return stored, nil
}

// SendMessage 채팅 메시지 저장 후 모두에게 전송 (isOwner는 전송 시점 기준)
func (c *Coordinator) SendMessage(ctx context.Context, sess *session.Session, canvasID uuid.UUID, in MessageInput) (*model.ChatMessage, error) {
	userID, email := sess.Identity()
	if userID == 0 {
		return nil, model.ErrInvalidCredential
	}

	text, err := clampText(in.Text, c.opts.ChatMaxLength)
	if err != nil {
		return nil, err
	}

	if err := c.authorize(ctx, canvasID, userID); err != nil {
		return nil, err
	}

	unlock := c.locks.lock(canvasID)
	storeCtx, cancel := c.storeContext(ctx)
	stored, err := func() (*model.ChatMessage, error) {
		m, err := c.docs.Membership(storeCtx, canvasID)
		if err != nil {
			return nil, err
		}
		return c.docs.AppendMessage(storeCtx, canvasID, model.ChatMessage{
			Text:        text,
			Author:      email,
			Email:       email,
			IsOwner:     m.OwnerID == userID,
			ClientMsgID: in.ClientMsgID,
		})
	}()
	cancel()
	unlock()
	if err != nil {
		if errors.Is(err, model.ErrPersistence) {
			log.Printf("[Canvas %s] ❌ message failed (conn %s): %v", canvasID, sess.ID, err)
		}
		return nil, err
	}

	c.broadcastWithSender(canvasID, sess, encode(EventMessageAdded, messageAddedPayload{
		CanvasID: canvasID,
		Message:  *stored,
	}))
	return stored, nil
}

// clampText 공백 제거 후 max 글자로 자름
func clampText(text string, max int) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: empty text", model.ErrInvalidPayload)
	}
	if utf8.RuneCountInString(text) > max {
		text = string([]rune(text)[:max])
	}
	return text, nil
}

// =============================================================================
// 헬퍼
// =============================================================================

func (c *Coordinator) authorize(ctx context.Context, canvasID uuid.UUID, userID int64) error {
	storeCtx, cancel := context.WithTimeout(ctx, c.opts.StoreTimeout)
	defer cancel()
	return c.gate.CanAccess(storeCtx, canvasID, userID)
}

func (c *Coordinator) load(ctx context.Context, canvasID uuid.UUID) (*model.Document, error) {
	storeCtx, cancel := context.WithTimeout(ctx, c.opts.StoreTimeout)
	defer cancel()
	return c.docs.Load(storeCtx, canvasID)
}

// deliver 한 연결에 메시지 전송, 큐가 가득 찬 연결은 닫음 (건너뛰면 순서가 깨짐)
func (c *Coordinator) deliver(sess *session.Session, msg []byte) {
	if msg == nil {
		return
	}
	if err := sess.Send(msg); errors.Is(err, session.ErrQueueFull) {
		log.Printf("[Coordinator] ⚠️ send queue full, closing slow connection %s", sess.ID)
		sess.Close()
	}
}

// broadcast exceptConnID를 제외한 캔버스 전체 연결에 전송
func (c *Coordinator) broadcast(canvasID uuid.UUID, exceptConnID string, msg []byte) {
	for _, s := range c.sessions.ConnectionsIn(canvasID) {
		if s.ID == exceptConnID {
			continue
		}
		c.deliver(s, msg)
	}
}

// broadcastWithSender 캔버스 전체와 보낸 사람에게 전송 (보낸 사람이 참여 전이어도)
func (c *Coordinator) broadcastWithSender(canvasID uuid.UUID, sender *session.Session, msg []byte) {
	c.broadcast(canvasID, "", msg)
	if !c.sessions.IsJoined(canvasID, sender.ID) {
		c.deliver(sender, msg)
	}
}

// notifyUser userID의 모든 연결(탭)에 전송
func (c *Coordinator) notifyUser(userID int64, msg []byte) int {
	conns := c.sessions.AllConnectionsFor(userID)
	for _, s := range conns {
		c.deliver(s, msg)
	}
	return len(conns)
}

// storeContext 쓰기용 컨텍스트 (연결 종료로 취소되지 않고 StoreTimeout만 적용)
func (c *Coordinator) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), c.opts.StoreTimeout)
}

// mirror presence 미러 호출을 워커 큐에 추가 (이벤트 처리 경로를 막지 않음)
func (c *Coordinator) mirror(fn mirrorJob) {
	if c.presence == nil {
		return
	}
	select {
	case <-c.stop:
		return
	default:
	}
	select {
	case c.mirrorQ <- fn:
	default:
		log.Printf("[Redis] ⚠️ presence queue full, dropping update")
	}
}

// runMirror 큐에 들어온 순서대로 presence 미러 호출 실행
func (c *Coordinator) runMirror() {
	defer close(c.mirrorEnd)
	for {
		select {
		case fn := <-c.mirrorQ:
			c.runMirrorJob(fn)
		case <-c.stop:
			for {
				select {
				case fn := <-c.mirrorQ:
					c.runMirrorJob(fn)
				default:
					return
				}
			}
		}
	}
}

func (c *Coordinator) runMirrorJob(fn mirrorJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := fn(ctx, c.presence); err != nil {
		log.Printf("[Redis] ⚠️ presence update failed: %v", err)
	}
}
