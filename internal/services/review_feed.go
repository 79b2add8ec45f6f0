package services

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReviewChannel is the Redis pub/sub channel operators' live feed listens on.
const ReviewChannel = "trial:review"

const (
	EventVerdictDenied = "verdict_denied"
	EventAdminAction   = "admin_action"
)

// ReviewEvent is pushed to operators watching the live review feed. It may
// carry the exact reason since only operators see it.
type ReviewEvent struct {
	Type          string    `json:"type"`
	DeviceID      string    `json:"device_id,omitempty"`
	UserID        string    `json:"user_id,omitempty"`
	NetworkPrefix string    `json:"network_prefix,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	Kind          string    `json:"record_type,omitempty"`
	RecordID      string    `json:"record_id,omitempty"`
	Action        string    `json:"action,omitempty"`
	Operator      string    `json:"operator,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// ReviewPublisher is best-effort; a lost event never affects a verdict.
type ReviewPublisher interface {
	Publish(ctx context.Context, evt ReviewEvent)
}

// ReviewFeed fans events out to local websocket subscribers. With a Redis
// client the events travel through pub/sub so every instance sees them.
type ReviewFeed struct {
	client *redis.Client

	mu          sync.RWMutex
	subscribers map[chan ReviewEvent]struct{}
	started     sync.Once
}

func NewReviewFeed(client *redis.Client) *ReviewFeed {
	return &ReviewFeed{client: client, subscribers: make(map[chan ReviewEvent]struct{})}
}

func (f *ReviewFeed) Publish(ctx context.Context, evt ReviewEvent) {
	if f == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	if f.client == nil {
		f.fanOut(evt)
		return
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := f.client.Publish(ctx, ReviewChannel, data).Err(); err != nil {
		log.Printf("review feed publish failed: %v", err)
	}
}

// Subscribe registers a local listener. The returned func unregisters it.
func (f *ReviewFeed) Subscribe() (<-chan ReviewEvent, func()) {
	ch := make(chan ReviewEvent, 32)
	f.mu.Lock()
	f.subscribers[ch] = struct{}{}
	f.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subscribers, ch)
			f.mu.Unlock()
			close(ch)
		})
	}
}

func (f *ReviewFeed) fanOut(evt ReviewEvent) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for ch := range f.subscribers {
		select {
		case ch <- evt:
		default:
			// slow consumer, drop
		}
	}
}

// Start runs the shared Redis listener once per instance.
func (f *ReviewFeed) Start(ctx context.Context) {
	if f == nil || f.client == nil {
		return
	}
	f.started.Do(func() {
		go f.listen(ctx)
	})
}

func (f *ReviewFeed) listen(ctx context.Context) {
	wait := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		func() {
			pubsub := f.client.Subscribe(ctx, ReviewChannel)
			defer pubsub.Close()

			log.Printf("✅ Review feed subscriber started (channel: %s)", ReviewChannel)
			for {
				msg, err := pubsub.ReceiveMessage(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					log.Printf("Review feed subscriber error: %v", err)
					time.Sleep(wait)
					wait = min(wait*2, 30*time.Second)
					return
				}
				wait = time.Second

				var evt ReviewEvent
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					log.Printf("failed to unmarshal review event: %v", err)
					continue
				}
				f.fanOut(evt)
			}
		}()
	}
}
