package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnshRaj112/trialguard-backend/internal/models"
	"github.com/AnshRaj112/trialguard-backend/internal/store"
)

func noWait() backoff.BackOff { return &backoff.ZeroBackOff{} }

// flakyStore fails LinkNetwork while down is set.
type flakyStore struct {
	store.Store
	down  atomic.Bool
	calls atomic.Int32
}

func (f *flakyStore) LinkNetwork(ctx context.Context, prefix string, link models.NetworkLink) error {
	f.calls.Add(1)
	if f.down.Load() {
		return errors.New("network collection unavailable")
	}
	return f.Store.LinkNetwork(ctx, prefix, link)
}

func TestRecordAppliesAllSteps(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	r := NewRecorder(s, WithRetry(1, noWait))

	require.NoError(t, r.Record(ctx, Usage{UserID: "u1", DeviceID: "dev-1", FirmID: "firm-1", NetworkPrefix: "203.0.113"}))
	require.NoError(t, r.Record(ctx, Usage{UserID: "u1", DeviceID: "dev-1", FirmID: "firm-2", NetworkPrefix: "203.0.113"}))

	dev, err := s.GetDeviceRecord(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, 2, dev.ReportsGenerated)
	assert.Equal(t, []string{"u1"}, dev.LinkedAccountIDs)
	assert.Equal(t, "firm-1", dev.FirmActivated, "first firm wins")
	assert.Equal(t, "203.0.113", dev.NetworkPrefix)

	n, err := s.GetUserCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	net, err := s.GetNetworkRecord(ctx, "203.0.113")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"firm-1", "firm-2"}, net.LinkedFirmIDs)
	assert.Equal(t, []string{"dev-1"}, net.LinkedDeviceIDs)
	assert.Equal(t, []string{"u1"}, net.LinkedUserIDs)
}

func TestRecordWithoutOptionalFields(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	require.NoError(t, NewRecorder(s).Record(ctx, Usage{DeviceID: "dev-1"}))

	dev, err := s.GetDeviceRecord(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, 1, dev.ReportsGenerated)
	assert.Empty(t, dev.LinkedAccountIDs)
	assert.Empty(t, dev.FirmActivated)

	nets, err := s.ListNetworkRecords(ctx)
	require.NoError(t, err)
	assert.Empty(t, nets)
}

func TestRecordConcurrentIncrements(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	r := NewRecorder(s, WithRetry(1, noWait))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.Record(ctx, Usage{UserID: "u1", DeviceID: "dev-1"}))
		}()
	}
	wg.Wait()

	dev, err := s.GetDeviceRecord(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, 10, dev.ReportsGenerated)
	n, err := s.GetUserCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestRecordDefersFailedStepsAndDrains(t *testing.T) {
	ctx := context.Background()
	fs := &flakyStore{Store: store.NewMemoryStore()}
	fs.down.Store(true)
	queue := NewMemoryPendingQueue()
	r := NewRecorder(fs, WithRetry(3, noWait), WithPendingQueue(queue))

	err := r.Record(ctx, Usage{UserID: "u1", DeviceID: "dev-1", NetworkPrefix: "203.0.113"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRecordDeferred)
	assert.Equal(t, int32(3), fs.calls.Load())

	// counter and link made it before the failing step
	dev, err := fs.GetDeviceRecord(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, 1, dev.ReportsGenerated)
	assert.Equal(t, []string{"u1"}, dev.LinkedAccountIDs)

	n, err := queue.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	replayed, err := r.DrainPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, replayed, "still down")
	n, _ = queue.Len(ctx)
	assert.Equal(t, 1, n)

	fs.down.Store(false)
	replayed, err = r.DrainPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, replayed)
	n, _ = queue.Len(ctx)
	assert.Equal(t, 0, n)

	dev, err = fs.GetDeviceRecord(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, 1, dev.ReportsGenerated, "replay does not count twice")
	assert.Equal(t, "203.0.113", dev.NetworkPrefix)
}

type failingQueue struct{ MemoryPendingQueue }

func (*failingQueue) Push(context.Context, PendingRecord) error {
	return errors.New("queue down")
}

func TestRecordReportsLostUsage(t *testing.T) {
	fs := &flakyStore{Store: store.NewMemoryStore()}
	fs.down.Store(true)
	r := NewRecorder(fs, WithRetry(1, noWait), WithPendingQueue(&failingQueue{}))

	err := r.Record(context.Background(), Usage{DeviceID: "dev-1", NetworkPrefix: "203.0.113"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRecordDeferred)
	assert.Contains(t, err.Error(), "queue down")
}

// unlinkableStore rejects the standalone account link write.
type unlinkableStore struct {
	store.Store
}

func (unlinkableStore) LinkAccountToDevice(context.Context, string, string) error {
	return errors.New("link write rejected")
}

func TestRecordLinksAccountWithIncrement(t *testing.T) {
	ctx := context.Background()
	s := unlinkableStore{Store: store.NewMemoryStore()}
	r := NewRecorder(s, WithRetry(1, noWait))

	for _, u := range []string{"u1", "u2", "u3"} {
		require.NoError(t, r.Record(ctx, Usage{UserID: u, DeviceID: "dev-1"}))
	}
	dev, err := s.GetDeviceRecord(ctx, "dev-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u1", "u2", "u3"}, dev.LinkedAccountIDs)

	v, err := newTestEvaluator(s).Evaluate(ctx, EligibilityRequest{UserID: "u4", DeviceID: "dev-1"})
	require.NoError(t, err)
	assert.False(t, v.Allowed)
	assert.Equal(t, models.ReasonSuspicious, v.Reason)
}
