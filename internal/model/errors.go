package model

import "errors"

var (
	ErrInvalidCredential = errors.New("invalid credential")
	ErrUnauthorized      = errors.New("not authorized for this canvas")
	ErrNotFound          = errors.New("canvas not found")
	ErrUserNotFound      = errors.New("user with this email not found")
	ErrAlreadyOwner      = errors.New("user is the owner of this canvas")
	ErrAlreadyShared     = errors.New("already shared with this user")
	ErrTargetOffline     = errors.New("user is currently offline and cannot accept invitations")
	ErrPersistence       = errors.New("persistence failure")
	ErrInvalidPayload    = errors.New("invalid payload")
	ErrNoPendingInvite   = errors.New("no pending invitation")
)

// ErrorCode 에러를 와이어 코드로 변환
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredential):
		return "INVALID_CREDENTIAL"
	case errors.Is(err, ErrUnauthorized):
		return "UNAUTHORIZED"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrUserNotFound):
		return "USER_NOT_FOUND"
	case errors.Is(err, ErrAlreadyOwner):
		return "ALREADY_OWNER"
	case errors.Is(err, ErrAlreadyShared):
		return "ALREADY_SHARED"
	case errors.Is(err, ErrTargetOffline):
		return "TARGET_OFFLINE"
	case errors.Is(err, ErrInvalidPayload):
		return "INVALID_PAYLOAD"
	case errors.Is(err, ErrNoPendingInvite):
		return "NO_PENDING_INVITE"
	case errors.Is(err, ErrPersistence):
		return "PERSISTENCE_FAILURE"
	default:
		return "INTERNAL"
	}
}
