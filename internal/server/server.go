package server

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"whiteboard-backend/internal/auth"
	"whiteboard-backend/internal/config"
	"whiteboard-backend/internal/handler"
	"whiteboard-backend/internal/middleware"
	"whiteboard-backend/internal/presence"
	"whiteboard-backend/internal/realtime"
	"whiteboard-backend/internal/repo"
	"whiteboard-backend/internal/service"
)

// Server Fiber 서버 래퍼
type Server struct {
	app              *fiber.App
	cfg              *config.Config
	db               *gorm.DB
	jwtManager       *auth.JWTManager
	presence         *presence.Manager
	coord            *realtime.Coordinator
	authHandler      *handler.AuthHandler
	userHandler      *handler.UserHandler
	canvasHandler    *handler.CanvasHandler
	canvasWSHandler  *handler.CanvasWSHandler
	healthHandler    *handler.HealthHandler
	canvasMiddleware *middleware.CanvasMiddleware
}

// New 새 서버 인스턴스 생성
func New(cfg *config.Config, db *gorm.DB) *Server {
	app := fiber.New(fiber.Config{
		AppName:         "Collaborative Whiteboard API",
		ServerHeader:    "Fiber",
		StrictRouting:   true,
		CaseSensitive:   true,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		Prefork:         false, // WebSocket과 호환성 문제로 비활성화
		ReadBufferSize:  16384, // 16KB - 큰 헤더 허용
		WriteBufferSize: 16384,
		BodyLimit:       4 * 1024 * 1024,
	})

	// 저장소 + 권한
	users := repo.NewUserRepo(db)
	canvases := repo.NewCanvasRepo(db)
	access := service.NewAccessService(canvases)

	// Auth 초기화
	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry)
	var googleAuth auth.GoogleVerifier
	if cfg.Auth.GoogleClientID != "" {
		googleAuth = auth.NewGoogleAuthenticator(cfg.Auth.GoogleClientID)
	} else {
		log.Println("ℹ️ GOOGLE_CLIENT_ID not set (Google sign-in will be disabled)")
	}

	// Redis presence 미러 (선택적)
	presenceManager := connectPresence(cfg.Redis)
	var mirror realtime.PresenceMirror
	if presenceManager != nil {
		mirror = presenceManager
	}

	coord := realtime.NewCoordinator(canvases, users, access, mirror, realtime.Options{
		ChatMaxLength:    cfg.Realtime.ChatMaxLength,
		CommentMaxLength: cfg.Realtime.CommentMaxLength,
		StoreTimeout:     cfg.Realtime.StoreTimeout,
	})

	return &Server{
		app:              app,
		cfg:              cfg,
		db:               db,
		jwtManager:       jwtManager,
		presence:         presenceManager,
		coord:            coord,
		authHandler:      handler.NewAuthHandler(users, jwtManager, googleAuth, cfg.Auth.AccessTokenExpiry, cfg.Auth.SecureCookie),
		userHandler:      handler.NewUserHandler(users),
		canvasHandler:    handler.NewCanvasHandler(canvases, coord, presenceManager),
		canvasWSHandler:  handler.NewCanvasWSHandler(coord, jwtManager, cfg.WebSocket),
		healthHandler:    handler.NewHealthHandler(db, presenceManager, coord),
		canvasMiddleware: middleware.NewCanvasMiddleware(access),
	}
}

// connectPresence Redis 연결, 실패하면 presence 미러 없이 계속 진행
func connectPresence(cfg config.RedisConfig) *presence.Manager {
	if !cfg.Enabled {
		log.Println("ℹ️ Redis presence not configured (online status served from memory)")
		return nil
	}

	serverID, err := os.Hostname()
	if err != nil || serverID == "" {
		serverID = uuid.NewString()
	}

	manager, err := presence.Connect(cfg.Addr, cfg.Password, cfg.DB, cfg.PresenceTTL, serverID)
	if err != nil {
		log.Printf("⚠️ Redis presence initialization failed: %v (online status served from memory)", err)
		return nil
	}
	log.Printf("✅ Redis presence connected (addr: %s, server: %s)", cfg.Addr, serverID)
	return manager
}

// App 테스트용 fiber 앱 접근
func (s *Server) App() *fiber.App {
	return s.app
}

// SetupMiddleware 미들웨어 설정
func (s *Server) SetupMiddleware() {
	// 패닉 복구
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// 로깅
	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))

	// CORS
	s.app.Use(cors.New(cors.Config{
		AllowOrigins:     s.cfg.CORS.AllowOrigins,
		AllowHeaders:     s.cfg.CORS.AllowHeaders,
		AllowMethods:     "GET, POST, PUT, DELETE, OPTIONS",
		AllowCredentials: true,
	}))
}

// SetupRoutes 라우트 설정
func (s *Server) SetupRoutes() {
	// 헬스체크 엔드포인트
	s.app.Get("/health", s.healthHandler.Check)
	s.app.Get("/health/live", s.healthHandler.Liveness)
	s.app.Get("/health/ready", s.healthHandler.Readiness)

	// Rate Limiter 설정 (인증 엔드포인트용 - Brute Force 방지)
	authLimiter := limiter.New(limiter.Config{
		Max:        10,              // 최대 10회
		Expiration: 1 * time.Minute, // 1분당
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP() // IP 기반 제한
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many requests, please try again later",
			})
		},
	})

	// Auth 라우트 그룹
	authGroup := s.app.Group("/auth")
	authGroup.Post("/register", authLimiter, s.authHandler.Register)
	authGroup.Post("/login", authLimiter, s.authHandler.Login)
	authGroup.Post("/google", authLimiter, s.authHandler.GoogleLogin)
	authGroup.Post("/logout", auth.AuthMiddleware(s.jwtManager), s.authHandler.Logout)
	authGroup.Get("/me", auth.AuthMiddleware(s.jwtManager), s.authHandler.GetMe)

	// User 라우트 그룹 (인증 필요)
	userGroup := s.app.Group("/api/users", auth.AuthMiddleware(s.jwtManager))
	userGroup.Get("/search", s.userHandler.SearchUsers)

	// Canvas 라우트 그룹 (인증 필요)
	canvasGroup := s.app.Group("/api/canvas", auth.AuthMiddleware(s.jwtManager))
	canvasGroup.Post("", s.canvasHandler.CreateCanvas)
	canvasGroup.Get("", s.canvasHandler.ListCanvases)
	canvasGroup.Delete("/:id/leave", s.canvasHandler.LeaveCanvas)
	canvasGroup.Post("/:id/share", s.canvasMiddleware.RequireAccess(), s.canvasHandler.ShareCanvas)
	canvasGroup.Post("/:id/unshare", s.canvasMiddleware.RequireAccess(), s.canvasHandler.UnshareCanvas)
	canvasGroup.Get("/:id/online", s.canvasMiddleware.RequireAccess(), s.canvasHandler.GetOnlineStatus)
	canvasGroup.Get("/:id", s.canvasMiddleware.RequireAccess(), s.canvasHandler.GetCanvas)
	canvasGroup.Delete("/:id", s.canvasMiddleware.RequireOwnership(), s.canvasHandler.DeleteCanvas)

	// WebSocket 캔버스 협업 엔드포인트
	s.app.Get("/ws/canvas", s.canvasWSHandler.Upgrade, websocket.New(s.canvasWSHandler.HandleWebSocket, websocket.Config{
		ReadBufferSize:   s.cfg.WebSocket.ReadBufferSize,
		WriteBufferSize:  s.cfg.WebSocket.WriteBufferSize,
		HandshakeTimeout: s.cfg.WebSocket.HandshakeTimeout,
	}))
}

// Start 서버 시작 (Graceful Shutdown 지원)
func (s *Server) Start() error {
	// Graceful Shutdown 설정
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("🛑 Shutting down server...")
		if err := s.Shutdown(); err != nil {
			log.Fatalf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("🚀 Collaborative Whiteboard API starting on %s", s.cfg.Server.Port)
	log.Printf("📡 WebSocket endpoint: ws://localhost%s/ws/canvas", s.cfg.Server.Port)

	return s.app.Listen(s.cfg.Server.Port)
}

// Shutdown 서버 종료
func (s *Server) Shutdown() error {
	err := s.app.ShutdownWithTimeout(30 * time.Second)

	// 남은 presence 기록을 처리한 뒤 Redis 종료
	s.coord.Close()

	if s.presence != nil {
		if cerr := s.presence.Close(); cerr != nil {
			log.Printf("⚠️ Redis close failed: %v", cerr)
		}
	}

	return err
}
