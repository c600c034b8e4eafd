package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"whiteboard-backend/internal/auth"
	"whiteboard-backend/internal/model"
	"whiteboard-backend/internal/service"
)

// CanvasMiddleware 캔버스 권한 미들웨어
type CanvasMiddleware struct {
	access *service.AccessService
}

// NewCanvasMiddleware CanvasMiddleware 생성
func NewCanvasMiddleware(access *service.AccessService) *CanvasMiddleware {
	return &CanvasMiddleware{access: access}
}

// CanvasIDFromContext 미들웨어가 저장한 캔버스 ID
func CanvasIDFromContext(c *fiber.Ctx) uuid.UUID {
	id, _ := c.Locals("canvasID").(uuid.UUID)
	return id
}

// MembershipFromContext 미들웨어가 조회한 멤버십 (RequireOwnership 이후에만 존재)
func MembershipFromContext(c *fiber.Ctx) *model.Membership {
	m, _ := c.Locals("membership").(*model.Membership)
	return m
}

// parseCanvasID URL에서 캔버스 ID 추출
func parseCanvasID(c *fiber.Ctx) (uuid.UUID, error) {
	idStr := c.Params("canvasId")
	if idStr == "" {
		idStr = c.Params("id")
	}
	return uuid.Parse(idStr)
}

// RequireAccess 소유자 또는 공동 작업자 필수
func (m *CanvasMiddleware) RequireAccess() fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, err := auth.GetClaimsFromContext(c)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "unauthorized",
				"code":  model.ErrorCode(model.ErrInvalidCredential),
			})
		}

		canvasID, err := parseCanvasID(c)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid canvas ID",
			})
		}

		if err := m.access.CanAccess(c.UserContext(), canvasID, claims.UserID); err != nil {
			return denied(c, err, "not an owner or collaborator of this canvas")
		}

		c.Locals("canvasID", canvasID)
		return c.Next()
	}
}

// RequireOwnership 캔버스 소유자 필수
func (m *CanvasMiddleware) RequireOwnership() fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, err := auth.GetClaimsFromContext(c)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "unauthorized",
				"code":  model.ErrorCode(model.ErrInvalidCredential),
			})
		}

		canvasID, err := parseCanvasID(c)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid canvas ID",
			})
		}

		membership, err := m.access.Membership(c.UserContext(), canvasID)
		if err == nil && membership.OwnerID != claims.UserID {
			err = model.ErrUnauthorized
		}
		if err != nil {
			return denied(c, err, "owner permission required")
		}

		c.Locals("canvasID", canvasID)
		c.Locals("membership", membership)
		return c.Next()
	}
}

func denied(c *fiber.Ctx, err error, forbidden string) error {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "canvas not found",
			"code":  model.ErrorCode(err),
		})
	case errors.Is(err, model.ErrUnauthorized):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": forbidden,
			"code":  model.ErrorCode(err),
		})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to check canvas permission",
		})
	}
}
