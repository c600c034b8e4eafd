package handler

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"whiteboard-backend/internal/auth"
	"whiteboard-backend/internal/model"
	"whiteboard-backend/internal/repo"
)

// AuthHandler 인증 핸들러
type AuthHandler struct {
	users        *repo.UserRepo
	jwtManager   *auth.JWTManager
	googleAuth   auth.GoogleVerifier
	tokenExpiry  time.Duration
	secureCookie bool
}

// NewAuthHandler AuthHandler 생성
func NewAuthHandler(users *repo.UserRepo, jwtManager *auth.JWTManager, googleAuth auth.GoogleVerifier, tokenExpiry time.Duration, secureCookie bool) *AuthHandler {
	return &AuthHandler{
		users:        users,
		jwtManager:   jwtManager,
		googleAuth:   googleAuth,
		tokenExpiry:  tokenExpiry,
		secureCookie: secureCookie,
	}
}

// CredentialsRequest 이메일/비밀번호 요청
type CredentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// GoogleLoginRequest Google 로그인 요청
type GoogleLoginRequest struct {
	IDToken string `json:"id_token"`
}

// AuthResponse 인증 응답
type AuthResponse struct {
	User        UserResponse `json:"user"`
	AccessToken string       `json:"access_token"`
	ExpiresIn   int64        `json:"expires_in"`
}

// UserResponse 사용자 응답
type UserResponse struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	Provider string `json:"provider"`
}

// Register 이메일/비밀번호 회원가입
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req CredentialsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	email := repo.NormalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "email and password are required",
		})
	}

	if _, err := h.users.FindByEmail(c.UserContext(), email); err == nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "user with this email already exists",
		})
	} else if !errors.Is(err, model.ErrUserNotFound) {
		return respondError(c, err)
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to hash password",
		})
	}

	user := model.User{
		Email:        email,
		PasswordHash: &hash,
		Provider:     model.ProviderLocal.String(),
	}
	if err := h.users.Create(c.UserContext(), &user); err != nil {
		return respondError(c, err)
	}

	return h.issue(c, fiber.StatusCreated, &user)
}

// Login 이메일/비밀번호 로그인
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req CredentialsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	user, err := h.users.FindByEmail(c.UserContext(), req.Email)
	if errors.Is(err, model.ErrUserNotFound) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "invalid email or password",
			"code":  model.ErrorCode(model.ErrInvalidCredential),
		})
	}
	if err != nil {
		return respondError(c, err)
	}

	// Google로만 가입한 계정은 비밀번호가 없음
	if user.PasswordHash == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "this account was registered with Google, please sign in with Google",
		})
	}

	if err := auth.CheckPassword(*user.PasswordHash, req.Password); err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "invalid email or password",
			"code":  model.ErrorCode(model.ErrInvalidCredential),
		})
	}

	return h.issue(c, fiber.StatusOK, user)
}

// GoogleLogin Google OAuth 로그인
func (h *AuthHandler) GoogleLogin(c *fiber.Ctx) error {
	if h.googleAuth == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "google login is not configured",
		})
	}

	var req GoogleLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	if req.IDToken == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "id_token is required",
		})
	}

	// Google ID Token 검증
	ctx, cancel := context.WithTimeout(c.UserContext(), 10*time.Second)
	defer cancel()

	googleUser, err := h.googleAuth.VerifyIDToken(ctx, req.IDToken)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "invalid google token",
			"code":  model.ErrorCode(model.ErrInvalidCredential),
		})
	}

	// 사용자 조회 또는 생성
	user, err := h.users.FindByEmail(ctx, googleUser.Email)
	switch {
	case errors.Is(err, model.ErrUserNotFound):
		user = &model.User{
			Email:      googleUser.Email,
			Provider:   model.ProviderGoogle.String(),
			ProviderID: &googleUser.ID,
		}
		if err := h.users.Create(ctx, user); err != nil {
			return respondError(c, err)
		}
	case err != nil:
		return respondError(c, err)
	case user.ProviderID == nil:
		// 기존 로컬 계정에 Google 연결
		user.ProviderID = &googleUser.ID
		if err := h.users.Save(ctx, user); err != nil {
			return respondError(c, err)
		}
	}

	return h.issue(c, fiber.StatusOK, user)
}

// Logout 로그아웃
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	c.Cookie(&fiber.Cookie{
		Name:     "access_token",
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Secure:   h.secureCookie,
		HTTPOnly: true,
	})

	return c.JSON(fiber.Map{
		"message": "logged out successfully",
	})
}

// GetMe 현재 사용자 정보
func (h *AuthHandler) GetMe(c *fiber.Ctx) error {
	claims, err := auth.GetClaimsFromContext(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "unauthorized",
		})
	}

	user, err := h.users.FindByID(c.UserContext(), claims.UserID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "user not found",
		})
	}

	return c.JSON(toUserResponse(user))
}

// issue 액세스 토큰 발급 후 쿠키와 본문으로 전달
func (h *AuthHandler) issue(c *fiber.Ctx, status int, user *model.User) error {
	accessToken, err := h.jwtManager.GenerateAccessToken(user.ID, user.Email)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to generate token",
		})
	}

	// WebSocket 핸드셰이크에서도 읽을 수 있도록 쿠키로도 설정
	c.Cookie(&fiber.Cookie{
		Name:     "access_token",
		Value:    accessToken,
		Path:     "/",
		MaxAge:   int(h.tokenExpiry.Seconds()),
		Secure:   h.secureCookie,
		HTTPOnly: true,
		SameSite: "Lax",
	})

	return c.Status(status).JSON(AuthResponse{
		User:        toUserResponse(user),
		AccessToken: accessToken,
		ExpiresIn:   int64(h.tokenExpiry.Seconds()),
	})
}

func toUserResponse(user *model.User) UserResponse {
	return UserResponse{
		ID:       user.ID,
		Email:    user.Email,
		Provider: user.Provider,
	}
}
