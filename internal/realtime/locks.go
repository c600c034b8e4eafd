package realtime

import (
	"sync"

	"github.com/google/uuid"
)

// canvasLocks 캔버스별 영구 변경 직렬화 (참조 카운트가 0이 되면 항목 제거)
type canvasLocks struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newCanvasLocks() *canvasLocks {
	return &canvasLocks{entries: make(map[uuid.UUID]*lockEntry)}
}

// lock 캔버스 락 획득 후 해제 함수 반환
func (l *canvasLocks) lock(canvasID uuid.UUID) func() {
	l.mu.Lock()
	e, ok := l.entries[canvasID]
	if !ok {
		e = &lockEntry{}
		l.entries[canvasID] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()

		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.entries, canvasID)
		}
		l.mu.Unlock()
	}
}

func (l *canvasLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
