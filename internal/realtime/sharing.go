package realtime

import (
	"context"
	"errors"
	"log"

	"github.com/google/uuid"

	"whiteboard-backend/internal/model"
)

// Share 이메일로 등록된 사용자에게 초대 전송 (수락 전까지 공동 작업자 목록은 그대로)
func (c *Coordinator) Share(ctx context.Context, inviterID int64, inviterEmail string, canvasID uuid.UUID, email string) error {
	if inviterID == 0 {
		return model.ErrInvalidCredential
	}
	if err := c.authorize(ctx, canvasID, inviterID); err != nil {
		return err
	}

	storeCtx, cancel := context.WithTimeout(ctx, c.opts.StoreTimeout)
	defer cancel()

	target, err := c.users.FindByEmail(storeCtx, email)
	if err != nil {
		return err
	}

	m, err := c.docs.Membership(storeCtx, canvasID)
	if err != nil {
		return err
	}
	if m.OwnerID == target.ID {
		return model.ErrAlreadyOwner
	}
	if m.Allows(target.ID) {
		return model.ErrAlreadyShared
	}

	if !c.sessions.IsOnline(target.ID) {
		return model.ErrTargetOffline
	}

	c.invites.add(inviteKey{canvasID: canvasID, inviterID: inviterID, inviteeID: target.ID}, inviterEmail)
	n := c.notifyUser(target.ID, encode(EventInviteRequest, inviteRequestPayload{
		CanvasID:     canvasID,
		InviterID:    inviterID,
		InviterEmail: inviterEmail,
	}))

	log.Printf("[Canvas %s] 📨 user %d invited user %d (%d connection(s))", canvasID, inviterID, target.ID, n)
	return nil
}

// RespondToInvite 대기 중인 초대에 대한 응답 처리
func (c *Coordinator) RespondToInvite(ctx context.Context, inviteeID int64, inviteeEmail string, canvasID uuid.UUID, inviterID int64, response model.InviteResponse) error {
	if inviteeID == 0 {
		return model.ErrInvalidCredential
	}
	if !response.Valid() {
		return model.ErrInvalidPayload
	}

	key := inviteKey{canvasID: canvasID, inviterID: inviterID, inviteeID: inviteeID}
	inv, ok := c.invites.take(key)
	if !ok {
		return model.ErrNoPendingInvite
	}

	result := inviteResultPayload{CanvasID: canvasID, InviteeID: inviteeID, InviteeEmail: inviteeEmail}

	if response == model.InviteRejected {
		c.notifyUser(inviterID, encode(EventInviteRejected, result))
		log.Printf("[Canvas %s] user %d rejected invitation from user %d", canvasID, inviteeID, inviterID)
		return nil
	}

	unlock := c.locks.lock(canvasID)
	storeCtx, cancel := c.storeContext(ctx)
	emails, err := func() ([]string, error) {
		// 그 사이 캔버스가 삭제됐으면 ErrNotFound
		if err := c.docs.AddCollaborator(storeCtx, canvasID, inviteeID); err != nil {
			return nil, err
		}
		return c.docs.SharedEmails(storeCtx, canvasID)
	}()
	cancel()
	unlock()
	if err != nil {
		if isRetryable(err) {
			c.invites.restore(key, inv)
		}
		log.Printf("[Canvas %s] ❌ accepting invitation for user %d failed: %v", canvasID, inviteeID, err)
		return err
	}

	c.notifyUser(inviterID, encode(EventInviteAccepted, result))
	c.notifyUser(inviteeID, encode(EventInviteConfirmed, CanvasRef{CanvasID: canvasID}))
	c.notifyUser(inviteeID, encode(EventCanvasListChanged, CanvasRef{CanvasID: canvasID}))
	c.broadcast(canvasID, "", encode(EventSharingUpdate, sharingUpdatePayload{
		CanvasID:     canvasID,
		SharedEmails: emails,
	}))

	log.Printf("[Canvas %s] ✅ user %d accepted invitation from user %d", canvasID, inviteeID, inviterID)
	return nil
}

// Unshare 공동 작업자 제거 후 남은 공동 작업자 이메일 반환
//
// 소유자는 제거할 수 없다. 대상이 이미 공동 작업자가 아니면 아무도 내보내지 않는다.
func (c *Coordinator) Unshare(ctx context.Context, requesterID int64, canvasID uuid.UUID, targetID int64) ([]string, error) {
	if requesterID == 0 {
		return nil, model.ErrInvalidCredential
	}
	if err := c.authorize(ctx, canvasID, requesterID); err != nil {
		return nil, err
	}

	emails, removed, err := c.removeCollaborator(ctx, canvasID, targetID)
	if err != nil {
		return nil, err
	}
	if !removed {
		return emails, nil
	}

	c.revoked(canvasID, targetID, emails)
	log.Printf("[Canvas %s] user %d removed user %d", canvasID, requesterID, targetID)
	return emails, nil
}

// LeaveCanvas 공동 작업자 본인이 나감 (소유자는 불가)
func (c *Coordinator) LeaveCanvas(ctx context.Context, userID int64, canvasID uuid.UUID) error {
	if userID == 0 {
		return model.ErrInvalidCredential
	}

	emails, removed, err := c.removeCollaborator(ctx, canvasID, userID)
	if err != nil {
		return err
	}
	if !removed {
		return model.ErrUnauthorized
	}

	c.revoked(canvasID, userID, emails)
	log.Printf("[Canvas %s] user %d left", canvasID, userID)
	return nil
}

// revoked 권한을 잃은 사용자를 세션에서 내보내고 목록 갱신을 알림
func (c *Coordinator) revoked(canvasID uuid.UUID, userID int64, emails []string) {
	c.evict(canvasID, userID, model.ErrUnauthorized)
	c.notifyUser(userID, encode(EventCanvasListChanged, CanvasRef{CanvasID: canvasID}))
	c.broadcast(canvasID, "", encode(EventSharingUpdate, sharingUpdatePayload{
		CanvasID:     canvasID,
		SharedEmails: emails,
	}))
}

// CanvasDeleted 삭제된 캔버스의 참여자를 내보내고 이전 멤버 전원에게 목록 갱신 알림
func (c *Coordinator) CanvasDeleted(canvasID uuid.UUID, members *model.Membership) {
	c.invites.dropCanvas(canvasID)

	for _, s := range c.sessions.ConnectionsIn(canvasID) {
		userID, _ := s.Identity()
		c.evict(canvasID, userID, model.ErrNotFound)
	}

	if members == nil {
		return
	}
	refresh := encode(EventCanvasListChanged, CanvasRef{CanvasID: canvasID})
	c.notifyUser(members.OwnerID, refresh)
	for _, id := range members.CollaboratorIDs {
		c.notifyUser(id, refresh)
	}
}

// removeCollaborator 캔버스 락 안에서 멤버십 확인 후 제거
//
// removed는 userID가 실제로 공동 작업자였는지 여부. 소유자는 ErrAlreadyOwner.
func (c *Coordinator) removeCollaborator(ctx context.Context, canvasID uuid.UUID, userID int64) (emails []string, removed bool, err error) {
	unlock := c.locks.lock(canvasID)
	defer unlock()

	storeCtx, cancel := c.storeContext(ctx)
	defer cancel()

	m, err := c.docs.Membership(storeCtx, canvasID)
	if err != nil {
		return nil, false, err
	}
	if m.OwnerID == userID {
		return nil, false, model.ErrAlreadyOwner
	}

	if m.Allows(userID) {
		if err := c.docs.RemoveCollaborator(storeCtx, canvasID, userID); err != nil {
			return nil, false, err
		}
		removed = true
	}

	emails, err = c.docs.SharedEmails(storeCtx, canvasID)
	if err != nil {
		return nil, false, err
	}
	return emails, removed, nil
}

// isRetryable 실패한 수락에 다시 응답할 수 있는지 여부
func isRetryable(err error) bool {
	return !errors.Is(err, model.ErrNotFound) && !errors.Is(err, model.ErrAlreadyOwner)
}
