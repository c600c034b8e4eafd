package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"runtime/debug"

	"github.com/google/uuid"

	"whiteboard-backend/internal/model"
	"whiteboard-backend/internal/session"
)

// HandleMessage 수신 프레임 하나를 디코딩해 해당 작업 실행
//
// 실패 응답은 같은 연결에만 보낸다. 패닉은 로그를 남기고 이 프레임 안에서 끝난다.
func (c *Coordinator) HandleMessage(ctx context.Context, sess *session.Session, raw []byte) {
	var env Envelope
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Coordinator] 💥 panic handling %q on %s: %v\n%s", env.Type, sess.ID, r, debug.Stack())
			c.deliver(sess, encode(EventError, errorPayload{Code: "INTERNAL", Reason: "internal error"}))
		}
	}()

	if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
		c.replyError(sess, nil, fmt.Errorf("%w: malformed envelope", model.ErrInvalidPayload))
		return
	}

	switch env.Type {
	case EventPing:
		c.Ping(sess)

	case EventJoinCanvas:
		var p CanvasRef
		if !c.decode(sess, env, &p) {
			return
		}
		if _, err := c.Join(ctx, sess, p.CanvasID); err != nil {
			c.deny(sess, p.CanvasID, err)
		}

	case EventLeaveCanvas:
		var p CanvasRef
		if !c.decode(sess, env, &p) {
			return
		}
		c.Leave(sess, p.CanvasID)

	case EventDrawingUpdate:
		var p ElementsPayload
		if !c.decode(sess, env, &p) {
			return
		}
		if err := c.LiveUpdate(sess, p.CanvasID, p.Elements); err != nil {
			c.reply(sess, p.CanvasID, err)
		}

	case EventCheckpoint:
		var p ElementsPayload
		if !c.decode(sess, env, &p) {
			return
		}
		err := c.Checkpoint(ctx, sess, p.CanvasID, p.Elements)
		switch {
		case err == nil:
		case errors.Is(err, model.ErrPersistence), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			c.deliver(sess, encode(EventSaveFailed, saveFailedPayload{
				CanvasID: p.CanvasID,
				Reason:   "canvas could not be saved",
			}))
		default:
			c.reply(sess, p.CanvasID, err)
		}

	case EventAddComment:
		var p addCommentPayload
		if !c.decode(sess, env, &p) {
			return
		}
		if _, err := c.AddComment(ctx, sess, p.CanvasID, p.Comment); err != nil {
			c.reply(sess, p.CanvasID, err)
		}

	case EventSendMessage:
		var p sendMessagePayload
		if !c.decode(sess, env, &p) {
			return
		}
		if _, err := c.SendMessage(ctx, sess, p.CanvasID, p.Message); err != nil {
			c.reply(sess, p.CanvasID, err)
		}

	case EventShareCanvas:
		var p shareCanvasPayload
		if !c.decode(sess, env, &p) {
			return
		}
		userID, email := sess.Identity()
		if err := c.Share(ctx, userID, email, p.CanvasID, p.Email); err != nil {
			c.reply(sess, p.CanvasID, err)
			return
		}
		c.deliver(sess, encode(EventInviteSent, inviteSentPayload{CanvasID: p.CanvasID, Email: p.Email}))

	case EventRespondInvite:
		var p respondInvitePayload
		if !c.decode(sess, env, &p) {
			return
		}
		userID, email := sess.Identity()
		if err := c.RespondToInvite(ctx, userID, email, p.CanvasID, p.InviterID, p.Response); err != nil {
			c.reply(sess, p.CanvasID, err)
		}

	default:
		c.replyError(sess, nil, fmt.Errorf("%w: unknown event %q", model.ErrInvalidPayload, env.Type))
	}
}

func (c *Coordinator) decode(sess *session.Session, env Envelope, dst any) bool {
	if len(env.Payload) == 0 {
		c.replyError(sess, nil, fmt.Errorf("%w: %s without payload", model.ErrInvalidPayload, env.Type))
		return false
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		c.replyError(sess, nil, fmt.Errorf("%w: %s: %v", model.ErrInvalidPayload, env.Type, err))
		return false
	}
	return true
}

// reply 권한 실패는 access_denied, 나머지는 error로 응답
func (c *Coordinator) reply(sess *session.Session, canvasID uuid.UUID, err error) {
	if errors.Is(err, model.ErrInvalidCredential) || errors.Is(err, model.ErrUnauthorized) || errors.Is(err, model.ErrNotFound) {
		c.deny(sess, canvasID, err)
		return
	}
	c.replyError(sess, &canvasID, err)
}

func (c *Coordinator) deny(sess *session.Session, canvasID uuid.UUID, err error) {
	c.deliver(sess, encode(EventAccessDenied, accessDeniedPayload{
		CanvasID: canvasID,
		Code:     model.ErrorCode(err),
		Reason:   publicReason(err),
	}))
}

func (c *Coordinator) replyError(sess *session.Session, canvasID *uuid.UUID, err error) {
	c.deliver(sess, encode(EventError, errorPayload{
		CanvasID: canvasID,
		Code:     model.ErrorCode(err),
		Reason:   publicReason(err),
	}))
}

// publicReason 저장소 내부 오류는 클라이언트에 숨김
func publicReason(err error) string {
	if errors.Is(err, model.ErrPersistence) {
		return model.ErrPersistence.Error()
	}
	return err.Error()
}
