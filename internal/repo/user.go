package repo

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"whiteboard-backend/internal/model"
)

// UserRepo 사용자 디렉터리
type UserRepo struct {
	db *gorm.DB
}

// NewUserRepo UserRepo 생성
func NewUserRepo(db *gorm.DB) *UserRepo {
	return &UserRepo{db: db}
}

// NormalizeEmail 이메일 정규화 (공백 제거 + 소문자)
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// FindByEmail 이메일로 사용자 조회
func (r *UserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Where("email = ?", NormalizeEmail(email)).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, model.ErrUserNotFound
	}
	if err != nil {
		return nil, persistenceErr(err)
	}
	return &user, nil
}

// FindByID ID로 사용자 조회
func (r *UserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).First(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, model.ErrUserNotFound
	}
	if err != nil {
		return nil, persistenceErr(err)
	}
	return &user, nil
}

// Create 사용자 생성
func (r *UserRepo) Create(ctx context.Context, user *model.User) error {
	user.Email = NormalizeEmail(user.Email)
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return persistenceErr(err)
	}
	return nil
}

// Save 사용자 정보 갱신
func (r *UserRepo) Save(ctx context.Context, user *model.User) error {
	if err := r.db.WithContext(ctx).Save(user).Error; err != nil {
		return persistenceErr(err)
	}
	return nil
}

// Search 이메일 부분 일치 검색 (본인 제외, 최대 limit명)
func (r *UserRepo) Search(ctx context.Context, query string, excludeID int64, limit int) ([]model.User, int64, error) {
	pattern := "%" + escapeLike(NormalizeEmail(query)) + "%"
	base := r.db.WithContext(ctx).Model(&model.User{}).
		Where("id != ?", excludeID).
		Where("email LIKE ? ESCAPE '\\'", pattern).
		Session(&gorm.Session{})

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, persistenceErr(err)
	}

	users := make([]model.User, 0)
	if err := base.Order("email ASC").Limit(limit).Find(&users).Error; err != nil {
		return nil, 0, persistenceErr(err)
	}
	return users, total, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
