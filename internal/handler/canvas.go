package handler

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"whiteboard-backend/internal/auth"
	"whiteboard-backend/internal/middleware"
	"whiteboard-backend/internal/presence"
	"whiteboard-backend/internal/realtime"
	"whiteboard-backend/internal/repo"
)

// CanvasHandler 캔버스 관리 핸들러
type CanvasHandler struct {
	canvases *repo.CanvasRepo
	coord    *realtime.Coordinator
	presence *presence.Manager // Redis 비활성화 시 nil
}

// NewCanvasHandler CanvasHandler 생성
func NewCanvasHandler(canvases *repo.CanvasRepo, coord *realtime.Coordinator, presenceManager *presence.Manager) *CanvasHandler {
	return &CanvasHandler{
		canvases: canvases,
		coord:    coord,
		presence: presenceManager,
	}
}

// ShareRequest 공유 요청
type ShareRequest struct {
	Email string `json:"email"`
}

// UnshareRequest 공유 해제 요청
type UnshareRequest struct {
	UserIDToRemove int64 `json:"userIdToRemove"`
}

// OnlineStatus 접속 상태 항목
type OnlineStatus struct {
	UserID  int64  `json:"userId"`
	Email   string `json:"email"`
	IsOwner bool   `json:"isOwner"`
	Online  bool   `json:"online"`
}

// CreateCanvas 캔버스 생성 (요청자가 소유자)
func (h *CanvasHandler) CreateCanvas(c *fiber.Ctx) error {
	claims, err := auth.GetClaimsFromContext(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	id, err := h.canvases.Create(c.UserContext(), claims.UserID)
	if err != nil {
		return respondError(c, err)
	}

	log.Printf("[Canvas %s] created by user %d", id, claims.UserID)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"canvasId": id,
	})
}

// ListCanvases 내가 소유하거나 공유받은 캔버스 목록
func (h *CanvasHandler) ListCanvases(c *fiber.Ctx) error {
	claims, err := auth.GetClaimsFromContext(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	list, err := h.canvases.List(c.UserContext(), claims.UserID)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"canvases": list,
	})
}

// GetCanvas 캔버스 문서 전체 조회
func (h *CanvasHandler) GetCanvas(c *fiber.Ctx) error {
	doc, err := h.canvases.Load(c.UserContext(), middleware.CanvasIDFromContext(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(doc)
}

// DeleteCanvas 캔버스 삭제 (소유자 전용)
func (h *CanvasHandler) DeleteCanvas(c *fiber.Ctx) error {
	claims, err := auth.GetClaimsFromContext(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}
	canvasID := middleware.CanvasIDFromContext(c)

	if err := h.canvases.Delete(c.UserContext(), canvasID, claims.UserID); err != nil {
		return respondError(c, err)
	}

	h.coord.CanvasDeleted(canvasID, middleware.MembershipFromContext(c))
	log.Printf("[Canvas %s] deleted by user %d", canvasID, claims.UserID)

	return c.JSON(fiber.Map{
		"message": "canvas deleted",
	})
}

// ShareCanvas 이메일로 초대 전송 (수락 전까지 공동 작업자 목록은 변경되지 않음)
func (h *CanvasHandler) ShareCanvas(c *fiber.Ctx) error {
	claims, err := auth.GetClaimsFromContext(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	var req ShareRequest
	if err := c.BodyParser(&req); err != nil || repo.NormalizeEmail(req.Email) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "email is required",
		})
	}

	canvasID := middleware.CanvasIDFromContext(c)
	if err := h.coord.Share(c.UserContext(), claims.UserID, claims.Email, canvasID, req.Email); err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"message": "invitation sent, awaiting response",
	})
}

// UnshareCanvas 공동 작업자 제거
func (h *CanvasHandler) UnshareCanvas(c *fiber.Ctx) error {
	claims, err := auth.GetClaimsFromContext(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	var req UnshareRequest
	if err := c.BodyParser(&req); err != nil || req.UserIDToRemove == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "userIdToRemove is required",
		})
	}

	emails, err := h.coord.Unshare(c.UserContext(), claims.UserID, middleware.CanvasIDFromContext(c), req.UserIDToRemove)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"sharedEmails": emails,
	})
}

// LeaveCanvas 공동 작업자 본인이 캔버스에서 나감
func (h *CanvasHandler) LeaveCanvas(c *fiber.Ctx) error {
	claims, err := auth.GetClaimsFromContext(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	canvasID, err := parseCanvasParam(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid canvas ID"})
	}

	if err := h.coord.LeaveCanvas(c.UserContext(), claims.UserID, canvasID); err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"message": "left canvas",
	})
}

// GetOnlineStatus 소유자와 공동 작업자의 접속 상태
func (h *CanvasHandler) GetOnlineStatus(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
	defer cancel()

	doc, err := h.canvases.Load(ctx, middleware.CanvasIDFromContext(c))
	if err != nil {
		return respondError(c, err)
	}

	ids := append([]int64{doc.OwnerID}, doc.CollaboratorIDs...)
	emails := append([]string{doc.OwnerEmail}, doc.SharedEmails...)

	online := make(map[int64]bool, len(ids))
	if h.presence != nil {
		// 다른 인스턴스에 접속한 사용자도 포함
		statuses, err := h.presence.GetMultiPresence(ctx, ids)
		if err != nil {
			log.Printf("[Redis] ⚠️ presence lookup failed, using local sessions: %v", err)
		}
		for id := range statuses {
			online[id] = true
		}
	}
	for _, id := range ids {
		if h.coord.Sessions().IsOnline(id) {
			online[id] = true
		}
	}

	result := make([]OnlineStatus, 0, len(ids))
	for i, id := range ids {
		result = append(result, OnlineStatus{
			UserID:  id,
			Email:   emails[i],
			IsOwner: i == 0,
			Online:  online[id],
		})
	}

	return c.JSON(fiber.Map{
		"users": result,
	})
}

func parseCanvasParam(c *fiber.Ctx) (uuid.UUID, error) {
	return uuid.Parse(c.Params("id"))
}
