package handler

import (
	"log"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"whiteboard-backend/internal/auth"
	"whiteboard-backend/internal/config"
	"whiteboard-backend/internal/realtime"
	"whiteboard-backend/internal/session"
)

const maxFrameSize = 4 << 20 // 큰 체크포인트 허용

// CanvasWSHandler 캔버스 협업 WebSocket 핸들러
type CanvasWSHandler struct {
	coord        *realtime.Coordinator
	jwtManager   *auth.JWTManager
	sendBuffer   int
	writeTimeout time.Duration
	pingInterval time.Duration
}

// NewCanvasWSHandler CanvasWSHandler 생성
func NewCanvasWSHandler(coord *realtime.Coordinator, jwtManager *auth.JWTManager, cfg config.WebSocketConfig) *CanvasWSHandler {
	pingInterval := cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &CanvasWSHandler{
		coord:        coord,
		jwtManager:   jwtManager,
		sendBuffer:   cfg.SendBuffer,
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
	}
}

// Upgrade 업그레이드 전 자격 증명 확인
//
// 토큰이 없거나 잘못되어도 연결은 허용하고, 이후 권한이 필요한 이벤트가
// access_denied로 거절된다.
func (h *CanvasWSHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	if token := auth.ExtractToken(c); token != "" {
		claims, err := h.jwtManager.ValidateAccessToken(token)
		if err == nil {
			c.Locals("userId", claims.UserID)
			c.Locals("email", claims.Email)
		} else {
			log.Printf("[CanvasWS] ⚠️ handshake with invalid credential from %s: %v", c.IP(), err)
		}
	}

	return c.Next()
}

// HandleWebSocket WebSocket 연결 처리
func (h *CanvasWSHandler) HandleWebSocket(conn *websocket.Conn) {
	sess := session.New(h.sendBuffer)
	if userID, ok := conn.Locals("userId").(int64); ok {
		email, _ := conn.Locals("email").(string)
		sess.Authenticate(userID, email)
	}

	h.coord.Connect(sess)

	done := make(chan struct{})
	go h.writePump(conn, sess, done)

	defer func() {
		// 패닉 복구 - 서버 크래시 방지
		if r := recover(); r != nil {
			log.Printf("[CanvasWS] 💥 panic on %s: %v", sess.ID, r)
		}
		h.coord.Disconnect(sess)
		<-done
		conn.Close()
	}()

	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(2 * h.pingInterval))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * h.pingInterval))
	})

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[CanvasWS] read error on %s: %v", sess.ID, err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		conn.SetReadDeadline(time.Now().Add(2 * h.pingInterval))
		h.coord.HandleMessage(sess.Context(), sess, msg)
	}
}

// writePump 송신 큐를 소켓에 기록, 세션이 닫히면 소켓도 닫아 읽기 루프를 깨운다
func (h *CanvasWSHandler) writePump(conn *websocket.Conn, sess *session.Session, done chan struct{}) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		close(done)
	}()

	for {
		select {
		case msg, ok := <-sess.Outbound():
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(h.writeTimeout))
				conn.Close()
				return
			}
			conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Printf("[CanvasWS] write failed on %s: %v", sess.ID, err)
				sess.Close()
				conn.Close()
				drain(sess)
				return
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.writeTimeout)); err != nil {
				sess.Close()
				conn.Close()
				drain(sess)
				return
			}
		}
	}
}

// drain 닫힌 세션의 남은 메시지 버림
func drain(sess *session.Session) {
	for range sess.Outbound() {
	}
}
