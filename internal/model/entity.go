package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// User 사용자
type User struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Email        string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	PasswordHash *string   `gorm:"type:varchar(255)" json:"-"`
	Provider     string    `gorm:"type:varchar(20);not null;default:'local'" json:"provider"` // local, google
	ProviderID   *string   `gorm:"type:varchar(255)" json:"provider_id,omitempty"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (User) TableName() string {
	return "users"
}

// Canvas 캔버스 (요소 목록은 체크포인트마다 통째로 교체)
type Canvas struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID   int64          `gorm:"not null;index" json:"owner_id"`
	Elements  datatypes.JSON `json:"elements"`
	CreatedAt time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`

	// Relations
	Owner         User                 `gorm:"foreignKey:OwnerID" json:"owner,omitempty"`
	Collaborators []CanvasCollaborator `gorm:"foreignKey:CanvasID" json:"collaborators,omitempty"`
}

func (Canvas) TableName() string {
	return "canvases"
}

// BeforeCreate ID가 비어 있으면 UUID 발급
func (c *Canvas) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// CanvasCollaborator 캔버스 공동 작업자 (소유자는 포함되지 않음)
type CanvasCollaborator struct {
	CanvasID  uuid.UUID `gorm:"type:uuid;primaryKey" json:"canvas_id"`
	UserID    int64     `gorm:"primaryKey;index" json:"user_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`

	// Relations
	User User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (CanvasCollaborator) TableName() string {
	return "canvas_collaborators"
}

// Comment 캔버스 코멘트 (추가만 가능)
type Comment struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CanvasID  uuid.UUID `gorm:"type:uuid;not null;index" json:"canvasId"`
	Text      string    `gorm:"type:text;not null" json:"text"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Author    string    `gorm:"type:varchar(255)" json:"author"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (Comment) TableName() string {
	return "canvas_comments"
}

// ChatMessage 캔버스 채팅 메시지 (추가만 가능)
type ChatMessage struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CanvasID    uuid.UUID `gorm:"type:uuid;not null;index" json:"canvasId"`
	Text        string    `gorm:"type:text;not null" json:"text"`
	Author      string    `gorm:"type:varchar(255)" json:"author"`
	Email       string    `gorm:"type:varchar(255)" json:"email"`
	IsOwner     bool      `gorm:"default:false" json:"isOwner"`
	ClientMsgID string    `gorm:"type:varchar(100);index" json:"clientMsgId"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (ChatMessage) TableName() string {
	return "canvas_messages"
}
