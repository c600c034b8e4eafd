package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrClosed    = errors.New("session closed")
	ErrQueueFull = errors.New("session send queue full")
)

// State WebSocket 연결 상태
type State int

const (
	StateUnauthenticated State = iota // 자격 증명 없음 또는 검증 실패
	StateAuthenticated                // 인증됨, 캔버스 미참여
	StateJoined                       // 캔버스 세션 참여 중
	StateClosed                       // 연결 종료
)

// String 상태를 문자열로 반환
func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session 클라이언트 연결 하나 (Thread-Safe)
type Session struct {
	ID          string
	ConnectedAt time.Time

	mu       sync.RWMutex
	state    State
	userID   int64
	email    string
	canvasID uuid.UUID

	// 송신 큐 (write pump가 소비)
	outbound chan []byte
	ctx      context.Context
	cancel   context.CancelFunc
}

// New 새 세션 생성
func New(bufferSize int) *Session {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Session{
		ID:          uuid.New().String(),
		ConnectedAt: time.Now(),
		state:       StateUnauthenticated,
		outbound:    make(chan []byte, bufferSize),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Context 세션 컨텍스트 반환 (Close 시 취소)
func (s *Session) Context() context.Context {
	return s.ctx
}

// Outbound 송신 큐 (Close 시 닫힘)
func (s *Session) Outbound() <-chan []byte {
	return s.outbound
}

// Authenticate 검증된 사용자 정보 기록
func (s *Session) Authenticate(userID int64, email string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateUnauthenticated || userID == 0 {
		return
	}
	s.userID = userID
	s.email = email
	s.state = StateAuthenticated
}

// Identity 인증된 사용자 정보 (미인증이면 0, "")
func (s *Session) Identity() (int64, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.userID, s.email
}

// IsAuthenticated 인증 여부
func (s *Session) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.userID != 0 && s.state != StateClosed
}

// Join 참여 캔버스 전환, 이전에 참여 중이던 캔버스 반환
func (s *Session) Join(canvasID uuid.UUID) (previous uuid.UUID, switched bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateAuthenticated && s.state != StateJoined {
		return uuid.Nil, false
	}
	if s.state == StateJoined && s.canvasID != canvasID {
		previous, switched = s.canvasID, true
	}
	s.canvasID = canvasID
	s.state = StateJoined
	return previous, switched
}

// Leave 현재 캔버스에서 나감 (해당 캔버스에 참여 중이 아니면 false)
func (s *Session) Leave(canvasID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateJoined || s.canvasID != canvasID {
		return false
	}
	s.canvasID = uuid.Nil
	s.state = StateAuthenticated
	return true
}

// GetState 현재 상태 조회
func (s *Session) GetState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state
}

// Send 송신 큐에 메시지 추가 (블로킹 없음)
func (s *Session) Send(msg []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state == StateClosed {
		return ErrClosed
	}
	select {
	case s.outbound <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Duration 연결 유지 시간
func (s *Session) Duration() time.Duration {
	return time.Since(s.ConnectedAt)
}

// Close 세션 정리
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return
	}

	s.state = StateClosed
	s.cancel()
	close(s.outbound)
}

// IsClosed 세션 종료 여부 확인
func (s *Session) IsClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state == StateClosed
}
