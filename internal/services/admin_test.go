package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnshRaj112/trialguard-backend/internal/models"
	"github.com/AnshRaj112/trialguard-backend/internal/store"
)

func newTestAdministration(s store.Store) (*Administration, *MemoryAuditRepository, *ReviewFeed) {
	audit := NewMemoryAuditRepository()
	feed := NewReviewFeed(nil)
	return NewAdministration(s, DefaultPolicy(), NewAuditLogger(audit), feed, nil, 0), audit, feed
}

var testOperator = Operator{ID: uuid.New(), Username: "ops", IPAddress: "192.0.2.10"}

func TestParseAction(t *testing.T) {
	tests := []struct {
		name, kind, id, action string
		wantErr                bool
	}{
		{"whitelist device", "device", "dev-1", "whitelist", false},
		{"normalizes case", " IP ", "203.0.113", "Unwhitelist", false},
		{"remove ip", "ip", "203.0.113", "remove", false},
		{"reset device", "device", "dev-1", "reset", false},
		{"reset ip is rejected", "ip", "203.0.113", "reset", true},
		{"unknown type", "firm", "firm-1", "remove", true},
		{"unknown action", "device", "dev-1", "ban", true},
		{"missing id", "device", " ", "remove", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAction(tt.kind, tt.id, tt.action, "")
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAction)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestApplyTransitions(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	admin, audit, _ := newTestAdministration(s)
	consume(t, s, "dev-1", "u1", 4)
	require.NoError(t, s.LinkNetwork(ctx, "203.0.113", models.NetworkLink{FirmID: "firm-a", DeviceID: "dev-1"}))

	apply := func(kind models.RecordKind, id string, action models.AdminAction) error {
		return admin.Apply(ctx, testOperator, Action{Kind: kind, ID: id, Action: action, Reason: "review"})
	}

	require.NoError(t, apply(models.RecordKindDevice, "dev-1", models.ActionWhitelist))
	dev, err := s.GetDeviceRecord(ctx, "dev-1")
	require.NoError(t, err)
	assert.True(t, dev.IsWhitelisted)

	require.NoError(t, apply(models.RecordKindDevice, "dev-1", models.ActionReset))
	dev, err = s.GetDeviceRecord(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, 0, dev.ReportsGenerated)
	assert.True(t, dev.IsWhitelisted, "reset keeps whitelist")
	assert.Equal(t, []string{"u1"}, dev.LinkedAccountIDs, "reset keeps linkage")
	n, err := s.GetUserCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, apply(models.RecordKindNetwork, "203.0.113", models.ActionWhitelist))
	require.NoError(t, apply(models.RecordKindNetwork, "203.0.113", models.ActionUnwhitelist))
	require.NoError(t, apply(models.RecordKindNetwork, "203.0.113", models.ActionRemove))
	_, err = s.GetNetworkRecord(ctx, "203.0.113")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, apply(models.RecordKindDevice, "dev-1", models.ActionRemove))
	_, err = s.GetDeviceRecord(ctx, "dev-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	entries, err := audit.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 6)
	for _, e := range entries {
		assert.Equal(t, testOperator.ID, e.AdminID)
		assert.Equal(t, "review", e.Reason)
		assert.Equal(t, "192.0.2.10", e.IPAddress)
	}
}

func TestApplyErrors(t *testing.T) {
	ctx := context.Background()
	admin, audit, _ := newTestAdministration(store.NewMemoryStore())

	err := admin.Apply(ctx, testOperator, Action{Kind: models.RecordKindNetwork, ID: "203.0.113", Action: models.ActionReset})
	assert.ErrorIs(t, err, ErrInvalidAction)

	err = admin.Apply(ctx, testOperator, Action{Kind: models.RecordKindDevice, ID: "missing", Action: models.ActionWhitelist})
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Contains(t, err.Error(), "missing")

	entries, err := audit.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, entries, "failed actions are not audited")
}

func TestApplyPublishesToFeed(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	admin, _, feed := newTestAdministration(s)
	consume(t, s, "dev-1", "u1", 1)

	events, unsubscribe := feed.Subscribe()
	defer unsubscribe()

	require.NoError(t, admin.Apply(ctx, testOperator, Action{Kind: models.RecordKindDevice, ID: "dev-1", Action: models.ActionWhitelist}))
	select {
	case evt := <-events:
		assert.Equal(t, EventAdminAction, evt.Type)
		assert.Equal(t, "dev-1", evt.RecordID)
		assert.Equal(t, "whitelist", evt.Action)
		assert.Equal(t, "ops", evt.Operator)
	case <-time.After(time.Second):
		t.Fatal("no review event")
	}
}

func TestListFlags(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	admin, _, _ := newTestAdministration(s)

	for _, u := range []string{"u1", "u2", "u3", "u4"} {
		consume(t, s, "dev-crowded", u, 1)
	}
	consume(t, s, "dev-busy", "u9", 5)
	for _, firm := range []string{"firm-a", "firm-b"} {
		require.NoError(t, s.LinkNetwork(ctx, "203.0.113", models.NetworkLink{FirmID: firm}))
	}
	require.NoError(t, s.LinkNetwork(ctx, "198.51.100", models.NetworkLink{FirmID: "firm-a"}))

	listing, err := admin.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReviewTotals{Networks: 2, BlockedNetworks: 1, Devices: 2, SuspiciousDevices: 1}, listing.Totals)

	byID := map[string]DeviceReview{}
	for _, d := range listing.Devices {
		byID[d.DeviceID] = d
	}
	assert.True(t, byID["dev-crowded"].Suspicious)
	assert.Equal(t, 4, byID["dev-crowded"].AccountCount)
	assert.False(t, byID["dev-crowded"].Exhausted)
	assert.True(t, byID["dev-busy"].Exhausted)
	assert.False(t, byID["dev-busy"].Suspicious)
}

func TestListTruncatesDevices(t *testing.T) {
	s := store.NewMemoryStore()
	admin := NewAdministration(s, DefaultPolicy(), nil, nil, nil, 3)
	for i := 0; i < 5; i++ {
		consume(t, s, uuid.NewString(), "u1", 1)
	}
	listing, err := admin.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, listing.Devices, 3)
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAdminRepository()
	a, err := NewAdmin("ops", "Ops@Example.com", "correct horse")
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, a))
	assert.ErrorIs(t, repo.Create(ctx, a), ErrAdminExists)
	assert.Equal(t, "ops@example.com", a.Email)

	got, err := Authenticate(ctx, repo, " ops ", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	_, err = Authenticate(ctx, repo, "ops", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = Authenticate(ctx, repo, "nobody", "correct horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestMemoryAdminSessions(t *testing.T) {
	ctx := context.Background()
	sessions := NewMemoryAdminSessions()
	id := uuid.New()

	first, err := sessions.Create(ctx, id)
	require.NoError(t, err)
	second, err := sessions.Create(ctx, id)
	require.NoError(t, err)

	_, ok, err := sessions.Validate(ctx, first)
	require.NoError(t, err)
	assert.False(t, ok, "new sign-in replaces the old session")

	got, ok, err := sessions.Validate(ctx, second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, id, got)

	sessions.nowF = func() time.Time { return time.Now().Add(13 * time.Hour) }
	_, ok, _ = sessions.Validate(ctx, second)
	assert.False(t, ok, "expired")

	require.NoError(t, sessions.Invalidate(ctx, second))
	_, ok, _ = sessions.Validate(ctx, second)
	assert.False(t, ok)
}

func TestTicketGenerator(t *testing.T) {
	g := NewTicketGenerator()
	r, err := g.Generate(context.Background(), "u1", "firm-1", ReportRequest{Title: "  Q1 summary "})
	require.NoError(t, err)
	assert.Equal(t, "Q1 summary", r.Title)
	assert.NotEqual(t, uuid.Nil, r.ID)

	_, err = g.Generate(context.Background(), "u1", "", ReportRequest{Title: " "})
	assert.ErrorIs(t, err, ErrInvalidReport)
}
