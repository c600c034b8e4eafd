// Package presence 사용자 접속 상태를 Redis에 기록 (다른 인스턴스와 HTTP API에서 조회)
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Channel 상태 변경 이벤트 채널
const Channel = "presence_updates"

// PresenceStatus 상태 상수
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "ONLINE"
	StatusOffline PresenceStatus = "OFFLINE"
)

// PresenceData Redis에 저장될 상태 데이터
type PresenceData struct {
	UserID        int64          `json:"userId"`
	Email         string         `json:"email,omitempty"`
	Status        PresenceStatus `json:"status"`
	LastHeartbeat int64          `json:"lastHeartbeat"`
	ServerID      string         `json:"serverId"` // 멀티 서버 확장 대비
}

// Manager Presence 관리자
type Manager struct {
	client   *redis.Client
	ttl      time.Duration
	serverID string
}

// Connect Redis 연결 후 Manager 생성
func Connect(addr, password string, db int, ttl time.Duration, serverID string) (*Manager, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	log.Printf("[Redis] Connected to %s", addr)
	return NewManager(client, ttl, serverID), nil
}

// NewManager 기존 클라이언트로 Manager 생성
func NewManager(client *redis.Client, ttl time.Duration, serverID string) *Manager {
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	return &Manager{client: client, ttl: ttl, serverID: serverID}
}

func userKey(userID int64) string {
	return fmt.Sprintf("presence:user:%d", userID)
}

// SetOnline 접속 상태 기록 후 변경 이벤트 발행
func (m *Manager) SetOnline(ctx context.Context, userID int64, email string) error {
	data := PresenceData{
		UserID:        userID,
		Email:         email,
		Status:        StatusOnline,
		LastHeartbeat: time.Now().Unix(),
		ServerID:      m.serverID,
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if err := m.client.Set(ctx, userKey(userID), jsonData, m.ttl).Err(); err != nil {
		return err
	}
	return m.publish(ctx, data)
}

// Refresh 생존 신고 (TTL 연장)
func (m *Manager) Refresh(ctx context.Context, userID int64) error {
	ok, err := m.client.Expire(ctx, userKey(userID), m.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("user %d not found (offline)", userID)
	}
	return nil
}

// SetOffline 상태 삭제 후 변경 이벤트 발행
func (m *Manager) SetOffline(ctx context.Context, userID int64) error {
	if err := m.client.Del(ctx, userKey(userID)).Err(); err != nil {
		return err
	}
	return m.publish(ctx, PresenceData{
		UserID:        userID,
		Status:        StatusOffline,
		LastHeartbeat: time.Now().Unix(),
		ServerID:      m.serverID,
	})
}

// GetMultiPresence 여러 유저 상태 조회 (없는 유저는 결과에서 빠짐)
func (m *Manager) GetMultiPresence(ctx context.Context, userIDs []int64) (map[int64]*PresenceData, error) {
	if len(userIDs) == 0 {
		return map[int64]*PresenceData{}, nil
	}

	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = userKey(id)
	}

	// MGET으로 한 번에 조회
	results, err := m.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	presenceMap := make(map[int64]*PresenceData)
	for i, result := range results {
		strVal, ok := result.(string)
		if !ok {
			continue // Offline
		}

		var data PresenceData
		if err := json.Unmarshal([]byte(strVal), &data); err == nil {
			presenceMap[userIDs[i]] = &data
		}
	}

	return presenceMap, nil
}

func (m *Manager) publish(ctx context.Context, data PresenceData) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return m.client.Publish(ctx, Channel, jsonData).Err()
}

// Ping 헬스 체크용
func (m *Manager) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// Close 연결 종료
func (m *Manager) Close() error {
	return m.client.Close()
}
