package realtime

import (
	"encoding/json"
	"log"

	"github.com/google/uuid"

	"whiteboard-backend/internal/model"
	"whiteboard-backend/internal/session"
)

// 이벤트 타입 (클라이언트 → 서버)
const (
	EventJoinCanvas    = "join_canvas"
	EventLeaveCanvas   = "leave_canvas"
	EventDrawingUpdate = "drawing_update"
	EventCheckpoint    = "checkpoint"
	EventAddComment    = "add_comment"
	EventSendMessage   = "send_message"
	EventShareCanvas   = "share_canvas"
	EventRespondInvite = "respond_invite"
	EventPing          = "ping"
)

// 이벤트 타입 (서버 → 클라이언트)
const (
	EventCanvasSnapshot    = "canvas_snapshot"
	EventAccessDenied      = "access_denied"
	EventSaveFailed        = "save_failed"
	EventCommentAdded      = "comment_added"
	EventMessageAdded      = "message_added"
	EventPresenceChanged   = "presence_changed"
	EventParticipantJoined = "participant_joined"
	EventParticipantLeft   = "participant_left"
	EventInviteRequest     = "invite_request"
	EventInviteSent        = "invite_sent"
	EventInviteAccepted    = "invite_accepted"
	EventInviteRejected    = "invite_rejected"
	EventInviteConfirmed   = "invite_confirmed"
	EventCanvasListChanged = "canvas_list_changed"
	EventSharingUpdate     = "sharing_update"
	EventPong              = "pong"
	EventError             = "error"
)

// Envelope 양방향 공통 프레임
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// CanvasRef join_canvas / leave_canvas 페이로드
type CanvasRef struct {
	CanvasID uuid.UUID `json:"canvasId"`
}

// ElementsPayload drawing_update / checkpoint 페이로드 (중계 시 원본 그대로 전달하도록 raw 유지)
type ElementsPayload struct {
	CanvasID uuid.UUID       `json:"canvasId"`
	Elements json.RawMessage `json:"elements"`
}

// CommentInput add_comment 입력
type CommentInput struct {
	Text string  `json:"text"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

type addCommentPayload struct {
	CanvasID uuid.UUID    `json:"canvasId"`
	Comment  CommentInput `json:"comment"`
}

// MessageInput send_message 입력
type MessageInput struct {
	Text        string `json:"text"`
	ClientMsgID string `json:"clientMsgId"`
}

type sendMessagePayload struct {
	CanvasID uuid.UUID    `json:"canvasId"`
	Message  MessageInput `json:"message"`
}

type shareCanvasPayload struct {
	CanvasID uuid.UUID `json:"canvasId"`
	Email    string    `json:"email"`
}

type respondInvitePayload struct {
	CanvasID  uuid.UUID            `json:"canvasId"`
	InviterID int64                `json:"inviterId"`
	Response  model.InviteResponse `json:"response"`
}

// Snapshot canvas_snapshot 페이로드
type Snapshot struct {
	CanvasID     uuid.UUID           `json:"canvasId"`
	Elements     []model.Element     `json:"elements"`
	Comments     []model.Comment     `json:"comments"`
	Messages     []model.ChatMessage `json:"messages"`
	SharedEmails []string            `json:"sharedEmails"`
	OwnerEmail   string              `json:"ownerEmail"`
	IsOwner      bool                `json:"isOwner"`
}

type accessDeniedPayload struct {
	CanvasID uuid.UUID `json:"canvasId"`
	Code     string    `json:"code"`
	Reason   string    `json:"reason"`
}

type errorPayload struct {
	CanvasID *uuid.UUID `json:"canvasId,omitempty"`
	Code     string     `json:"code"`
	Reason   string     `json:"reason"`
}

type saveFailedPayload struct {
	CanvasID uuid.UUID `json:"canvasId"`
	Reason   string    `json:"reason"`
}

type commentAddedPayload struct {
	CanvasID uuid.UUID     `json:"canvasId"`
	Comment  model.Comment `json:"comment"`
}

type messageAddedPayload struct {
	CanvasID uuid.UUID         `json:"canvasId"`
	Message  model.ChatMessage `json:"message"`
}

type presencePayload struct {
	CanvasID     uuid.UUID             `json:"canvasId"`
	Participants []session.Participant `json:"participants"`
}

type participantPayload struct {
	CanvasID uuid.UUID `json:"canvasId"`
	UserID   int64     `json:"userId"`
	Email    string    `json:"email"`
}

type inviteRequestPayload struct {
	CanvasID     uuid.UUID `json:"canvasId"`
	InviterID    int64     `json:"inviterId"`
	InviterEmail string    `json:"inviterEmail"`
}

type inviteSentPayload struct {
	CanvasID uuid.UUID `json:"canvasId"`
	Email    string    `json:"email"`
}

type inviteResultPayload struct {
	CanvasID     uuid.UUID `json:"canvasId"`
	InviteeID    int64     `json:"inviteeId"`
	InviteeEmail string    `json:"inviteeEmail"`
}

type sharingUpdatePayload struct {
	CanvasID     uuid.UUID `json:"canvasId"`
	SharedEmails []string  `json:"sharedEmails"`
}

// encode 송신 프레임 생성 (직렬화 실패는 로그 후 nil)
func encode(eventType string, payload any) []byte {
	env := struct {
		Type    string `json:"type"`
		Payload any    `json:"payload,omitempty"`
	}{Type: eventType, Payload: payload}

	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("[Coordinator] ❌ encode %s: %v", eventType, err)
		return nil
	}
	return data
}
