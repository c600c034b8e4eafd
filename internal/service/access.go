package service

import (
	"context"

	"github.com/google/uuid"

	"whiteboard-backend/internal/model"
)

// MembershipSource 캔버스 소유자/공동 작업자 조회
type MembershipSource interface {
	Membership(ctx context.Context, canvasID uuid.UUID) (*model.Membership, error)
}

// AccessService 캔버스 접근 권한 판단 (캐시 없이 매 요청마다 재평가)
type AccessService struct {
	canvases MembershipSource
}

// NewAccessService AccessService 생성
func NewAccessService(canvases MembershipSource) *AccessService {
	return &AccessService{canvases: canvases}
}

// CanAccess 소유자 또는 공동 작업자이면 nil
//
// 캔버스가 없으면 ErrNotFound, 권한이 없으면 ErrUnauthorized.
func (s *AccessService) CanAccess(ctx context.Context, canvasID uuid.UUID, userID int64) error {
	if userID == 0 {
		return model.ErrUnauthorized
	}
	m, err := s.canvases.Membership(ctx, canvasID)
	if err != nil {
		return err
	}
	if !m.Allows(userID) {
		return model.ErrUnauthorized
	}
	return nil
}

// Membership 권한 판단에 쓰인 멤버십 그대로 반환
func (s *AccessService) Membership(ctx context.Context, canvasID uuid.UUID) (*model.Membership, error) {
	return s.canvases.Membership(ctx, canvasID)
}
