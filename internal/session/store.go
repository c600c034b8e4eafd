package session

import (
	"sync"

	"github.com/google/uuid"
)

// Participant 캔버스 참여자 (사용자 단위)
type Participant struct {
	UserID int64  `json:"userId"`
	Email  string `json:"email"`
}

type presence struct {
	connID string
	Participant
}

// Store 캔버스별 접속자 관리 (메모리 전용, Thread-Safe)
type Store struct {
	mu sync.RWMutex

	conns    map[string]*Session               // connID -> 연결
	byUser   map[int64]map[string]struct{}     // userID -> connID 집합
	canvases map[uuid.UUID][]presence          // canvasID -> 참여 순서대로
	joined   map[string]map[uuid.UUID]struct{} // connID -> 참여 캔버스
}

// NewStore Store 생성
func NewStore() *Store {
	return &Store{
		conns:    make(map[string]*Session),
		byUser:   make(map[int64]map[string]struct{}),
		canvases: make(map[uuid.UUID][]presence),
		joined:   make(map[string]map[uuid.UUID]struct{}),
	}
}

// Attach 살아있는 연결 등록 (인증된 경우 사용자 인덱스에도 추가)
func (st *Store) Attach(s *Session) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.conns[s.ID] = s
	if userID, _ := s.Identity(); userID != 0 {
		if st.byUser[userID] == nil {
			st.byUser[userID] = make(map[string]struct{})
		}
		st.byUser[userID][s.ID] = struct{}{}
	}
}

// Detach 연결 등록 해제, 해당 사용자의 마지막 연결이었으면 true
func (st *Store) Detach(connID string) (lastForUser bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.conns[connID]
	if !ok {
		return false
	}
	delete(st.conns, connID)

	userID, _ := s.Identity()
	if userID == 0 {
		return false
	}
	set := st.byUser[userID]
	delete(set, connID)
	if len(set) == 0 {
		delete(st.byUser, userID)
		return true
	}
	return false
}

// Register 캔버스 참여 기록 (멱등)
func (st *Store) Register(canvasID uuid.UUID, connID string, userID int64, email string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	for _, p := range st.canvases[canvasID] {
		if p.connID == connID {
			return
		}
	}
	st.canvases[canvasID] = append(st.canvases[canvasID], presence{
		connID:      connID,
		Participant: Participant{UserID: userID, Email: email},
	})
	if st.joined[connID] == nil {
		st.joined[connID] = make(map[uuid.UUID]struct{})
	}
	st.joined[connID][canvasID] = struct{}{}
}

// Leave 한 캔버스에서만 연결 제거, 제거되었으면 true
func (st *Store) Leave(canvasID uuid.UUID, connID string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	return st.removeLocked(canvasID, connID)
}

// Unregister 연결이 참여한 모든 캔버스에서 제거, 제거된 캔버스 목록 반환
func (st *Store) Unregister(connID string) []uuid.UUID {
	st.mu.Lock()
	defer st.mu.Unlock()

	left := make([]uuid.UUID, 0, len(st.joined[connID]))
	for canvasID := range st.joined[connID] {
		if st.removeLocked(canvasID, connID) {
			left = append(left, canvasID)
		}
	}
	delete(st.joined, connID)
	return left
}

func (st *Store) removeLocked(canvasID uuid.UUID, connID string) bool {
	entries := st.canvases[canvasID]
	idx := -1
	for i, p := range entries {
		if p.connID == connID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}

	entries = append(entries[:idx], entries[idx+1:]...)
	if len(entries) == 0 {
		// 마지막 참여자가 나가면 캔버스 기록 자체를 삭제
		delete(st.canvases, canvasID)
	} else {
		st.canvases[canvasID] = entries
	}

	if set := st.joined[connID]; set != nil {
		delete(set, canvasID)
		if len(set) == 0 {
			delete(st.joined, connID)
		}
	}
	return true
}

// IsJoined 연결이 캔버스에 참여 중인지 확인
func (st *Store) IsJoined(canvasID uuid.UUID, connID string) bool {
	st.mu.RLock()
	defer st.mu.RUnlock()

	_, ok := st.joined[connID][canvasID]
	return ok
}

// ListParticipants 캔버스 참여자 목록 (userID 기준 중복 제거, 참여 순서)
func (st *Store) ListParticipants(canvasID uuid.UUID) []Participant {
	st.mu.RLock()
	defer st.mu.RUnlock()

	entries := st.canvases[canvasID]
	result := make([]Participant, 0, len(entries))
	seen := make(map[int64]struct{}, len(entries))
	for _, p := range entries {
		if _, dup := seen[p.UserID]; dup {
			continue
		}
		seen[p.UserID] = struct{}{}
		result = append(result, p.Participant)
	}
	return result
}

// HasUser 사용자의 다른 연결이 아직 캔버스에 남아있는지 확인
func (st *Store) HasUser(canvasID uuid.UUID, userID int64) bool {
	st.mu.RLock()
	defer st.mu.RUnlock()

	for _, p := range st.canvases[canvasID] {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// ConnectionsIn 캔버스에 참여 중인 연결 목록
func (st *Store) ConnectionsIn(canvasID uuid.UUID) []*Session {
	st.mu.RLock()
	defer st.mu.RUnlock()

	entries := st.canvases[canvasID]
	result := make([]*Session, 0, len(entries))
	for _, p := range entries {
		if s, ok := st.conns[p.connID]; ok {
			result = append(result, s)
		}
	}
	return result
}

// AllConnectionsFor 사용자의 모든 살아있는 연결 (참여 캔버스와 무관)
func (st *Store) AllConnectionsFor(userID int64) []*Session {
	st.mu.RLock()
	defer st.mu.RUnlock()

	set := st.byUser[userID]
	result := make([]*Session, 0, len(set))
	for connID := range set {
		if s, ok := st.conns[connID]; ok {
			result = append(result, s)
		}
	}
	return result
}

// IsOnline 사용자에게 살아있는 연결이 하나라도 있는지 확인
func (st *Store) IsOnline(userID int64) bool {
	st.mu.RLock()
	defer st.mu.RUnlock()

	return len(st.byUser[userID]) > 0
}

// Stats 현재 연결 수와 활성 캔버스 수
func (st *Store) Stats() (connections, canvases int) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	return len(st.conns), len(st.canvases)
}
