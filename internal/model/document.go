package model

import (
	"time"

	"github.com/google/uuid"
)

// Document 캔버스 전체 상태 (Canvas + 공동 작업자 + 코멘트 + 채팅)
type Document struct {
	ID              uuid.UUID     `json:"id"`
	OwnerID         int64         `json:"ownerId"`
	OwnerEmail      string        `json:"ownerEmail"`
	CollaboratorIDs []int64       `json:"collaboratorIds"`
	SharedEmails    []string      `json:"sharedEmails"`
	Elements        []Element     `json:"elements"`
	Comments        []Comment     `json:"comments"`
	Messages        []ChatMessage `json:"messages"`
	CreatedAt       time.Time     `json:"createdAt"`
}

// IsOwner 소유자 여부
func (d *Document) IsOwner(userID int64) bool {
	return d.OwnerID == userID
}

// CanvasSummary 캔버스 목록 항목
type CanvasSummary struct {
	ID           uuid.UUID `json:"id"`
	OwnerID      int64     `json:"ownerId"`
	OwnerEmail   string    `json:"ownerEmail"`
	SharedEmails []string  `json:"sharedEmails"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Membership 권한 판단에 필요한 최소 정보
type Membership struct {
	OwnerID         int64
	CollaboratorIDs []int64
}

// Allows 소유자 또는 공동 작업자이면 접근 허용
func (m *Membership) Allows(userID int64) bool {
	if m == nil || userID == 0 {
		return false
	}
	if m.OwnerID == userID {
		return true
	}
	for _, id := range m.CollaboratorIDs {
		if id == userID {
			return true
		}
	}
	return false
}
