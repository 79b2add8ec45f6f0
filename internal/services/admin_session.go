package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// AdminSessionDuration is 12 hours; operators sign in again each shift
	AdminSessionDuration = 12 * time.Hour
	// AdminSessionKeyPrefix is the Redis key prefix for admin sessions
	AdminSessionKeyPrefix = "admin_session:"
	// AdminToSessionKeyPrefix is the Redis key prefix for admin->session mapping
	AdminToSessionKeyPrefix = "admin_to_session:"
)

// AdminSessions issues and checks operator bearer tokens.
type AdminSessions interface {
	Create(ctx context.Context, adminID uuid.UUID) (string, error)
	Validate(ctx context.Context, token string) (uuid.UUID, bool, error)
	Invalidate(ctx context.Context, token string) error
}

func newSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// RedisAdminSessions keeps one live session per admin.
type RedisAdminSessions struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisAdminSessions(client *redis.Client) *RedisAdminSessions {
	return &RedisAdminSessions{client: client, ttl: AdminSessionDuration}
}

// Create replaces any existing session of the admin with a new one.
func (s *RedisAdminSessions) Create(ctx context.Context, adminID uuid.UUID) (string, error) {
	_ = s.invalidateAdmin(ctx, adminID)

	token, err := newSessionToken()
	if err != nil {
		return "", err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, AdminSessionKeyPrefix+token, adminID.String(), s.ttl)
		pipe.Set(ctx, AdminToSessionKeyPrefix+adminID.String(), token, s.ttl)
		return nil
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

func (s *RedisAdminSessions) Validate(ctx context.Context, token string) (uuid.UUID, bool, error) {
	if token == "" {
		return uuid.Nil, false, nil
	}
	raw, err := s.client.Get(ctx, AdminSessionKeyPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	adminID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false, err
	}
	return adminID, true, nil
}

func (s *RedisAdminSessions) Invalidate(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	sessionKey := AdminSessionKeyPrefix + token
	if raw, err := s.client.Get(ctx, sessionKey).Result(); err == nil && raw != "" {
		_ = s.client.Del(ctx, AdminToSessionKeyPrefix+raw).Err()
	}
	return s.client.Del(ctx, sessionKey).Err()
}

func (s *RedisAdminSessions) invalidateAdmin(ctx context.Context, adminID uuid.UUID) error {
	mapKey := AdminToSessionKeyPrefix + adminID.String()
	if token, err := s.client.Get(ctx, mapKey).Result(); err == nil && token != "" {
		_ = s.client.Del(ctx, AdminSessionKeyPrefix+token).Err()
	}
	return s.client.Del(ctx, mapKey).Err()
}

// MemoryAdminSessions is used when Redis is not configured.
type MemoryAdminSessions struct {
	mu      sync.Mutex
	ttl     time.Duration
	byToken map[string]memorySession
	byAdmin map[uuid.UUID]string
	nowF    func() time.Time
}

type memorySession struct {
	adminID uuid.UUID
	expires time.Time
}

func NewMemoryAdminSessions() *MemoryAdminSessions {
	return &MemoryAdminSessions{
		ttl:     AdminSessionDuration,
		byToken: make(map[string]memorySession),
		byAdmin: make(map[uuid.UUID]string),
		nowF:    time.Now,
	}
}

func (s *MemoryAdminSessions) Create(_ context.Context, adminID uuid.UUID) (string, error) {
	token, err := newSessionToken()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.byAdmin[adminID]; ok {
		delete(s.byToken, old)
	}
	s.byToken[token] = memorySession{adminID: adminID, expires: s.nowF().Add(s.ttl)}
	s.byAdmin[adminID] = token
	return token, nil
}

func (s *MemoryAdminSessions) Validate(_ context.Context, token string) (uuid.UUID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byToken[token]
	if !ok || s.nowF().After(sess.expires) {
		return uuid.Nil, false, nil
	}
	return sess.adminID, true, nil
}

func (s *MemoryAdminSessions) Invalidate(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.byToken[token]; ok {
		delete(s.byAdmin, sess.adminID)
		delete(s.byToken, token)
	}
	return nil
}
