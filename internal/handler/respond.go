package handler

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"whiteboard-backend/internal/model"
)

// respondError 도메인 에러를 HTTP 상태 코드로 변환
func respondError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrInvalidCredential):
		status = fiber.StatusUnauthorized
	case errors.Is(err, model.ErrUnauthorized):
		status = fiber.StatusForbidden
	case errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrUserNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, model.ErrAlreadyOwner), errors.Is(err, model.ErrAlreadyShared), errors.Is(err, model.ErrTargetOffline):
		status = fiber.StatusConflict
	case errors.Is(err, model.ErrInvalidPayload), errors.Is(err, model.ErrNoPendingInvite):
		status = fiber.StatusBadRequest
	}

	message := err.Error()
	if status == fiber.StatusInternalServerError {
		log.Printf("❌ %s %s: %v", c.Method(), c.Path(), err)
		message = "internal server error"
	}

	return c.Status(status).JSON(fiber.Map{
		"error": message,
		"code":  model.ErrorCode(err),
	})
}
