package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// PendingRecordsKey is the Redis list holding usage recordings awaiting replay.
const PendingRecordsKey = "trial:pending_records"

// RecordStep is one independent write of a usage recording.
type RecordStep string

const (
	StepIncrement      RecordStep = "increment"
	StepLinkAccount    RecordStep = "link_account"
	StepFirmActivation RecordStep = "firm_activation"
	StepNetwork        RecordStep = "network"
)

// PendingRecord is the unapplied remainder of a usage recording.
type PendingRecord struct {
	Usage     Usage        `json:"usage"`
	Steps     []RecordStep `json:"steps"`
	Replays   int          `json:"replays"`
	LastError string       `json:"last_error,omitempty"`
	QueuedAt  time.Time    `json:"queued_at"`
}

// PendingQueue parks recordings that could not be written so they are
// replayed instead of lost.
type PendingQueue interface {
	Push(ctx context.Context, rec PendingRecord) error
	// Pop returns nil when the queue is empty.
	Pop(ctx context.Context) (*PendingRecord, error)
	Len(ctx context.Context) (int, error)
}

type MemoryPendingQueue struct {
	mu    sync.Mutex
	items []PendingRecord
}

func NewMemoryPendingQueue() *MemoryPendingQueue {
	return &MemoryPendingQueue{}
}

func (q *MemoryPendingQueue) Push(_ context.Context, rec PendingRecord) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, rec)
	return nil
}

func (q *MemoryPendingQueue) Pop(_ context.Context) (*PendingRecord, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, nil
	}
	rec := q.items[0]
	q.items = q.items[1:]
	return &rec, nil
}

func (q *MemoryPendingQueue) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}

// RedisPendingQueue shares the backlog between instances.
type RedisPendingQueue struct {
	client *redis.Client
	key    string
}

func NewRedisPendingQueue(client *redis.Client) *RedisPendingQueue {
	return &RedisPendingQueue{client: client, key: PendingRecordsKey}
}

func (q *RedisPendingQueue) Push(ctx context.Context, rec PendingRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return q.client.RPush(ctx, q.key, data).Err()
}

func (q *RedisPendingQueue) Pop(ctx context.Context) (*PendingRecord, error) {
	data, err := q.client.LPop(ctx, q.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec PendingRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (q *RedisPendingQueue) Len(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	return int(n), err
}
