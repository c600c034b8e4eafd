package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"whiteboard-backend/internal/model"
)

// CanvasRepo 캔버스 문서 저장소 (gorm)
type CanvasRepo struct {
	db *gorm.DB
}

// NewCanvasRepo CanvasRepo 생성
func NewCanvasRepo(db *gorm.DB) *CanvasRepo {
	return &CanvasRepo{db: db}
}

func persistenceErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.ErrNotFound
	}
	return fmt.Errorf("%w: %w", model.ErrPersistence, err)
}

// Create 빈 캔버스 생성 (요청자가 소유자)
func (r *CanvasRepo) Create(ctx context.Context, ownerID int64) (uuid.UUID, error) {
	canvas := model.Canvas{
		OwnerID:  ownerID,
		Elements: datatypes.JSON("[]"),
	}
	if err := r.db.WithContext(ctx).Create(&canvas).Error; err != nil {
		return uuid.Nil, persistenceErr(err)
	}
	return canvas.ID, nil
}

// Membership 소유자와 공동 작업자 ID만 조회
func (r *CanvasRepo) Membership(ctx context.Context, canvasID uuid.UUID) (*model.Membership, error) {
	var canvas model.Canvas
	if err := r.db.WithContext(ctx).Select("id", "owner_id").First(&canvas, "id = ?", canvasID).Error; err != nil {
		return nil, persistenceErr(err)
	}

	var ids []int64
	if err := r.db.WithContext(ctx).Model(&model.CanvasCollaborator{}).
		Where("canvas_id = ?", canvasID).
		Order("created_at ASC").
		Pluck("user_id", &ids).Error; err != nil {
		return nil, persistenceErr(err)
	}

	return &model.Membership{OwnerID: canvas.OwnerID, CollaboratorIDs: ids}, nil
}

// Load 캔버스 전체 문서 조회
func (r *CanvasRepo) Load(ctx context.Context, canvasID uuid.UUID) (*model.Document, error) {
	db := r.db.WithContext(ctx)

	var canvas model.Canvas
	if err := db.Preload("Owner").
		Preload("Collaborators", func(tx *gorm.DB) *gorm.DB { return tx.Order("created_at ASC") }).
		Preload("Collaborators.User").
		First(&canvas, "id = ?", canvasID).Error; err != nil {
		return nil, persistenceErr(err)
	}

	elements, err := model.DecodeElements(canvas.Elements)
	if err != nil {
		return nil, fmt.Errorf("%w: stored elements for %s: %w", model.ErrPersistence, canvasID, err)
	}

	comments := make([]model.Comment, 0)
	if err := db.Where("canvas_id = ?", canvasID).Order("id ASC").Find(&comments).Error; err != nil {
		return nil, persistenceErr(err)
	}

	messages := make([]model.ChatMessage, 0)
	if err := db.Where("canvas_id = ?", canvasID).Order("id ASC").Find(&messages).Error; err != nil {
		return nil, persistenceErr(err)
	}

	doc := &model.Document{
		ID:              canvas.ID,
		OwnerID:         canvas.OwnerID,
		OwnerEmail:      canvas.Owner.Email,
		CollaboratorIDs: make([]int64, 0, len(canvas.Collaborators)),
		SharedEmails:    make([]string, 0, len(canvas.Collaborators)),
		Elements:        elements,
		Comments:        comments,
		Messages:        messages,
		CreatedAt:       canvas.CreatedAt,
	}
	for _, c := range canvas.Collaborators {
		doc.CollaboratorIDs = append(doc.CollaboratorIDs, c.UserID)
		doc.SharedEmails = append(doc.SharedEmails, c.User.Email)
	}

	return doc, nil
}

// ReplaceElements 요소 목록 통째로 교체 (병합/diff 없음)
func (r *CanvasRepo) ReplaceElements(ctx context.Context, canvasID uuid.UUID, elements []model.Element) error {
	if elements == nil {
		elements = []model.Element{}
	}
	data, err := json.Marshal(elements)
	if err != nil {
		return fmt.Errorf("%w: %w", model.ErrInvalidPayload, err)
	}

	result := r.db.WithContext(ctx).Model(&model.Canvas{}).
		Where("id = ?", canvasID).
		Update("elements", datatypes.JSON(data))
	if result.Error != nil {
		return persistenceErr(result.Error)
	}
	if result.RowsAffected == 0 {
		return model.ErrNotFound
	}
	return nil
}

// AppendComment 코멘트 추가 후 서버가 부여한 ID/시간을 포함해 반환
func (r *CanvasRepo) AppendComment(ctx context.Context, canvasID uuid.UUID, comment model.Comment) (*model.Comment, error) {
	if err := r.exists(ctx, canvasID); err != nil {
		return nil, err
	}

	comment.ID = 0
	comment.CanvasID = canvasID
	if err := r.db.WithContext(ctx).Create(&comment).Error; err != nil {
		return nil, persistenceErr(err)
	}
	return &comment, nil
}

// AppendMessage 채팅 메시지 추가
func (r *CanvasRepo) AppendMessage(ctx context.Context, canvasID uuid.UUID, msg model.ChatMessage) (*model.ChatMessage, error) {
	if err := r.exists(ctx, canvasID); err != nil {
		return nil, err
	}

	msg.ID = 0
	msg.CanvasID = canvasID
	if err := r.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return nil, persistenceErr(err)
	}
	return &msg, nil
}

// AddCollaborator 공동 작업자 추가 (멱등, 소유자는 추가 불가)
func (r *CanvasRepo) AddCollaborator(ctx context.Context, canvasID uuid.UUID, userID int64) error {
	var canvas model.Canvas
	if err := r.db.WithContext(ctx).Select("id", "owner_id").First(&canvas, "id = ?", canvasID).Error; err != nil {
		return persistenceErr(err)
	}
	if canvas.OwnerID == userID {
		return model.ErrAlreadyOwner
	}

	row := model.CanvasCollaborator{CanvasID: canvasID, UserID: userID}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return persistenceErr(err)
	}
	return nil
}

// RemoveCollaborator 공동 작업자 제거 (멱등)
func (r *CanvasRepo) RemoveCollaborator(ctx context.Context, canvasID uuid.UUID, userID int64) error {
	if err := r.exists(ctx, canvasID); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).
		Where("canvas_id = ? AND user_id = ?", canvasID, userID).
		Delete(&model.CanvasCollaborator{}).Error; err != nil {
		return persistenceErr(err)
	}
	return nil
}

// SharedEmails 공동 작업자 이메일 목록 (추가 순서)
func (r *CanvasRepo) SharedEmails(ctx context.Context, canvasID uuid.UUID) ([]string, error) {
	emails := make([]string, 0)
	err := r.db.WithContext(ctx).Table("canvas_collaborators").
		Joins("JOIN users ON users.id = canvas_collaborators.user_id").
		Where("canvas_collaborators.canvas_id = ?", canvasID).
		Order("canvas_collaborators.created_at ASC").
		Pluck("users.email", &emails).Error
	if err != nil {
		return nil, persistenceErr(err)
	}
	return emails, nil
}

// Delete 캔버스 삭제 (소유자만 가능)
func (r *CanvasRepo) Delete(ctx context.Context, canvasID uuid.UUID, requesterID int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var canvas model.Canvas
		if err := tx.Select("id", "owner_id").First(&canvas, "id = ?", canvasID).Error; err != nil {
			return persistenceErr(err)
		}
		if canvas.OwnerID != requesterID {
			return model.ErrUnauthorized
		}

		if err := tx.Where("canvas_id = ?", canvasID).Delete(&model.CanvasCollaborator{}).Error; err != nil {
			return persistenceErr(err)
		}
		if err := tx.Where("canvas_id = ?", canvasID).Delete(&model.Comment{}).Error; err != nil {
			return persistenceErr(err)
		}
		if err := tx.Where("canvas_id = ?", canvasID).Delete(&model.ChatMessage{}).Error; err != nil {
			return persistenceErr(err)
		}
		if err := tx.Delete(&model.Canvas{}, "id = ?", canvasID).Error; err != nil {
			return persistenceErr(err)
		}
		return nil
	})
}

// List 사용자가 소유하거나 공유받은 캔버스 목록 (최신순)
func (r *CanvasRepo) List(ctx context.Context, userID int64) ([]model.CanvasSummary, error) {
	var canvases []model.Canvas
	err := r.db.WithContext(ctx).
		Preload("Owner").
		Preload("Collaborators", func(tx *gorm.DB) *gorm.DB { return tx.Order("created_at ASC") }).
		Preload("Collaborators.User").
		Where("owner_id = ? OR id IN (?)", userID,
			r.db.Model(&model.CanvasCollaborator{}).Select("canvas_id").Where("user_id = ?", userID)).
		Order("created_at DESC").
		Find(&canvases).Error
	if err != nil {
		return nil, persistenceErr(err)
	}

	summaries := make([]model.CanvasSummary, 0, len(canvases))
	for _, c := range canvases {
		shared := make([]string, 0, len(c.Collaborators))
		for _, collab := range c.Collaborators {
			shared = append(shared, collab.User.Email)
		}
		summaries = append(summaries, model.CanvasSummary{
			ID:           c.ID,
			OwnerID:      c.OwnerID,
			OwnerEmail:   c.Owner.Email,
			SharedEmails: shared,
			CreatedAt:    c.CreatedAt,
			UpdatedAt:    c.UpdatedAt,
		})
	}
	return summaries, nil
}

// Stats 운영 점검용 집계
func (r *CanvasRepo) Stats(ctx context.Context) (canvases, collaborators, comments, messages int64, err error) {
	db := r.db.WithContext(ctx)
	if err = db.Model(&model.Canvas{}).Count(&canvases).Error; err != nil {
		return
	}
	if err = db.Model(&model.CanvasCollaborator{}).Count(&collaborators).Error; err != nil {
		return
	}
	if err = db.Model(&model.Comment{}).Count(&comments).Error; err != nil {
		return
	}
	err = db.Model(&model.ChatMessage{}).Count(&messages).Error
	return
}

func (r *CanvasRepo) exists(ctx context.Context, canvasID uuid.UUID) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&model.Canvas{}).Where("id = ?", canvasID).Count(&count).Error; err != nil {
		return persistenceErr(err)
	}
	if count == 0 {
		return model.ErrNotFound
	}
	return nil
}
