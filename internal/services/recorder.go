package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/AnshRaj112/trialguard-backend/internal/metrics"
	"github.com/AnshRaj112/trialguard-backend/internal/models"
	"github.com/AnshRaj112/trialguard-backend/internal/store"
)

// ErrRecordDeferred means some writes of a recording were parked for replay.
var ErrRecordDeferred = errors.New("usage recording deferred")

// Usage is one successful trial consumption.
type Usage struct {
	UserID        string `json:"user_id"`
	DeviceID      string `json:"device_id"`
	FirmID        string `json:"firm_id,omitempty"`
	NetworkPrefix string `json:"network_prefix,omitempty"`
}

// Recorder applies the bookkeeping after a trial-gated action succeeded.
// It must be called exactly once per action.
type Recorder struct {
	store       store.Store
	queue       PendingQueue
	metrics     *metrics.Metrics
	maxAttempts uint
	newBackOff  func() backoff.BackOff
}

type RecorderOption func(*Recorder)

func WithPendingQueue(q PendingQueue) RecorderOption {
	return func(r *Recorder) { r.queue = q }
}

func WithRecorderMetrics(m *metrics.Metrics) RecorderOption {
	return func(r *Recorder) { r.metrics = m }
}

// WithRetry sets how many times each write is attempted and the wait between attempts.
func WithRetry(attempts uint, newBackOff func() backoff.BackOff) RecorderOption {
	return func(r *Recorder) {
		if attempts > 0 {
			r.maxAttempts = attempts
		}
		if newBackOff != nil {
			r.newBackOff = newBackOff
		}
	}
}

func NewRecorder(s store.Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:       s,
		maxAttempts: 5,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 50 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.queue == nil {
		r.queue = NewMemoryPendingQueue()
	}
	return r
}

// Record increments the device counter and links the account in one write,
// activates the firm if unset and links the network prefix. Writes already
// applied are not repeated; the rest is queued when retries run out.
func (r *Recorder) Record(ctx context.Context, u Usage) error {
	return r.run(ctx, PendingRecord{Usage: u, Steps: stepsFor(u)})
}

func stepsFor(u Usage) []RecordStep {
	// StepIncrement links the account too; StepLinkAccount only replays older queue entries
	steps := []RecordStep{StepIncrement}
	if u.FirmID != "" {
		steps = append(steps, StepFirmActivation)
	}
	if u.NetworkPrefix != "" {
		steps = append(steps, StepNetwork)
	}
	return steps
}

func (r *Recorder) run(ctx context.Context, rec PendingRecord) error {
	for i, step := range rec.Steps {
		err := r.retry(ctx, func() error { return r.apply(ctx, rec.Usage, step) })
		if err == nil {
			continue
		}

		r.metrics.RecordFailure(string(step))
		log.Printf("🚨 usage recording for device %s failed at %s: %v", rec.Usage.DeviceID, step, err)

		rec.Steps = rec.Steps[i:]
		rec.LastError = err.Error()
		if rec.QueuedAt.IsZero() {
			rec.QueuedAt = time.Now().UTC()
		}
		// the request context may be the reason for the failure
		qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if qerr := r.queue.Push(qctx, rec); qerr != nil {
			log.Printf("🚨 usage recording for device %s lost, queue unavailable: %v", rec.Usage.DeviceID, qerr)
			return fmt.Errorf("record %s: %w (queue: %v)", step, err, qerr)
		}
		r.reportPending(qctx)
		return fmt.Errorf("%w at %s: %v", ErrRecordDeferred, step, err)
	}
	return nil
}

// ObserveNetwork links a gated request that will not be recorded (a denial,
// a check or a subscriber use) to its network prefix. It is best-effort.
func (r *Recorder) ObserveNetwork(ctx context.Context, u Usage) {
	if u.NetworkPrefix == "" {
		return
	}
	if err := r.apply(ctx, u, StepNetwork); err != nil {
		r.metrics.RecordFailure("observe_network")
		log.Printf("⚠️  network observation for %s failed: %v", u.NetworkPrefix, err)
	}
}

func (r *Recorder) apply(ctx context.Context, u Usage, step RecordStep) error {
	switch step {
	case StepIncrement:
		_, err := r.store.IncrementReports(ctx, u.DeviceID, u.UserID)
		return err
	case StepLinkAccount:
		return r.store.LinkAccountToDevice(ctx, u.DeviceID, u.UserID)
	case StepFirmActivation:
		_, err := r.store.SetFirmActivated(ctx, u.DeviceID, u.FirmID)
		return err
	case StepNetwork:
		link := models.NetworkLink{FirmID: u.FirmID, DeviceID: u.DeviceID, UserID: u.UserID}
		if err := r.store.LinkNetwork(ctx, u.NetworkPrefix, link); err != nil {
			return err
		}
		err := r.store.SetDeviceNetwork(ctx, u.DeviceID, u.NetworkPrefix)
		if errors.Is(err, store.ErrNotFound) {
			// removed by an operator in the meantime
			return nil
		}
		return err
	default:
		return backoff.Permanent(fmt.Errorf("unknown record step %q", step))
	}
}

func (r *Recorder) retry(ctx context.Context, op func() error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, op()
	}, backoff.WithBackOff(r.newBackOff()), backoff.WithMaxTries(r.maxAttempts))
	return err
}

// DrainPending replays every recording queued before the call. Recordings that
// fail again go back to the queue.
func (r *Recorder) DrainPending(ctx context.Context) (int, error) {
	n, err := r.queue.Len(ctx)
	if err != nil {
		return 0, err
	}
	replayed := 0
	for i := 0; i < n; i++ {
		rec, err := r.queue.Pop(ctx)
		if err != nil {
			return replayed, err
		}
		if rec == nil {
			break
		}
		rec.Replays++
		if err := r.run(ctx, *rec); err != nil {
			continue
		}
		replayed++
	}
	r.reportPending(ctx)
	return replayed, nil
}

// StartPendingDrain replays the backlog every interval until ctx is done.
func (r *Recorder) StartPendingDrain(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := r.DrainPending(ctx)
				if err != nil {
					log.Printf("⚠️  pending usage drain failed: %v", err)
				} else if n > 0 {
					log.Printf("✅ replayed %d pending usage recordings", n)
				}
			}
		}
	}()
}

func (r *Recorder) reportPending(ctx context.Context) {
	if n, err := r.queue.Len(ctx); err == nil {
		r.metrics.SetPending(n)
	}
}
