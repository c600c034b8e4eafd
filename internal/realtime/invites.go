package realtime

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type inviteKey struct {
	canvasID  uuid.UUID
	inviterID int64
	inviteeID int64
}

// pendingInvite invite_request 이후 응답 전까지 유지되는 초대
type pendingInvite struct {
	inviterEmail string
	sentAt       time.Time
}

// inviteBook 대기 중인 초대 (메모리 전용)
type inviteBook struct {
	mu      sync.Mutex
	pending map[inviteKey]pendingInvite
}

func newInviteBook() *inviteBook {
	return &inviteBook{pending: make(map[inviteKey]pendingInvite)}
}

func (b *inviteBook) add(key inviteKey, inviterEmail string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending[key] = pendingInvite{inviterEmail: inviterEmail, sentAt: time.Now()}
}

// take 초대를 꺼내 반환
func (b *inviteBook) take(key inviteKey) (pendingInvite, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	inv, ok := b.pending[key]
	if ok {
		delete(b.pending, key)
	}
	return inv, ok
}

// restore 수락 저장에 실패한 초대를 되돌림
func (b *inviteBook) restore(key inviteKey, inv pendingInvite) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.pending[key]; !exists {
		b.pending[key] = inv
	}
}

// dropInvitee 사용자에게 온 초대 전부 삭제
func (b *inviteBook) dropInvitee(userID int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for key := range b.pending {
		if key.inviteeID == userID {
			delete(b.pending, key)
			n++
		}
	}
	return n
}

// dropCanvas 삭제된 캔버스의 초대 전부 삭제
func (b *inviteBook) dropCanvas(canvasID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key := range b.pending {
		if key.canvasID == canvasID {
			delete(b.pending, key)
		}
	}
}

func (b *inviteBook) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
