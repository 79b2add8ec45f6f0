package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnshRaj112/trialguard-backend/internal/models"
)

func TestNetworkPolicies(t *testing.T) {
	ctx := context.Background()
	rp, err := NewRegoNetworkPolicy(ctx, "")
	require.NoError(t, err)
	require.NoError(t, rp.HealthCheck(ctx))

	cases := []struct {
		name string
		rec  *models.NetworkTrialRecord
		want bool
	}{
		{"nil record", nil, false},
		{"single firm", &models.NetworkTrialRecord{LinkedFirmIDs: []string{"f1"}}, false},
		{"two firms", &models.NetworkTrialRecord{LinkedFirmIDs: []string{"f1", "f2"}}, true},
		{"two firms whitelisted", &models.NetworkTrialRecord{LinkedFirmIDs: []string{"f1", "f2"}, IsWhitelisted: true}, false},
		{"no firms many users", &models.NetworkTrialRecord{LinkedUserIDs: []string{"a", "b", "c", "d"}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := FirmThreshold{MaxFirms: 1}.Suspicious(ctx, tc.rec)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)

			got, err = rp.Suspicious(ctx, tc.rec)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestLoadRegoNetworkPolicyFromFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "network.rego")
	module := `package trialguard.network

default suspicious := false

suspicious if {
	count(input.linked_user_ids) > 2
}
`
	require.NoError(t, os.WriteFile(path, []byte(module), 0o600))

	p, err := LoadRegoNetworkPolicy(ctx, path)
	require.NoError(t, err)
	got, err := p.Suspicious(ctx, &models.NetworkTrialRecord{LinkedUserIDs: []string{"a", "b", "c"}})
	require.NoError(t, err)
	assert.True(t, got)
}

func TestRegoNetworkPolicyRejectsBadModule(t *testing.T) {
	_, err := NewRegoNetworkPolicy(context.Background(), "package broken\n\nsuspicious if {")
	assert.Error(t, err)
}
