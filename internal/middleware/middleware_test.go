package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnshRaj112/trialguard-backend/internal/services"
	"github.com/AnshRaj112/trialguard-backend/pkg/clientip"
)

const (
	testSecret = "test-secret"
	testIssuer = "trialguard"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRequireUser(t *testing.T) {
	var got User
	h := RequireUser(testSecret, testIssuer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = UserFromContext(r.Context())
	}))

	valid, err := SignUserToken(testSecret, testIssuer, "u1", "firm-1", time.Hour)
	require.NoError(t, err)
	expired, err := SignUserToken(testSecret, testIssuer, "u1", "", -time.Minute)
	require.NoError(t, err)
	wrongIssuer, err := SignUserToken(testSecret, "someone-else", "u1", "", time.Hour)
	require.NoError(t, err)
	wrongSecret, err := SignUserToken("other", testIssuer, "u1", "", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer " + valid, http.StatusOK},
		{"lowercase scheme", "bearer " + valid, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
		{"wrong issuer", "Bearer " + wrongIssuer, http.StatusUnauthorized},
		{"wrong secret", "Bearer " + wrongSecret, http.StatusUnauthorized},
		{"not bearer", "Basic " + valid, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got = User{}
			req := httptest.NewRequest(http.MethodPost, "/api/trial/check", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusOK {
				assert.Equal(t, User{ID: "u1", FirmID: "firm-1"}, got)
			}
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	ctx := context.Background()
	repo := services.NewMemoryAdminRepository()
	admin, err := services.NewAdmin("ops", "ops@example.com", "correct horse battery")
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, admin))
	sessions := services.NewMemoryAdminSessions()
	token, err := sessions.Create(ctx, admin.ID)
	require.NoError(t, err)

	var op services.Operator
	h := RequireAdmin(sessions, repo, clientip.Resolver{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		op, _ = OperatorFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/admin/trials", nil)
	req.RemoteAddr = "192.0.2.7:5555"
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, admin.ID, op.ID)
	assert.Equal(t, "ops", op.Username)
	assert.Equal(t, "192.0.2.7", op.IPAddress)

	req = httptest.NewRequest(http.MethodGet, "/api/admin/trials", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHostCheck(t *testing.T) {
	h := HostCheck("api.trialguard.io")(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Host = "api.trialguard.io:443"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req.Host = "evil.example"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestLoginRateLimit(t *testing.T) {
	h := LoginRateLimit(clientip.Resolver{})(okHandler)
	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/admin/signin", nil)
		req.RemoteAddr = "198.51.100.4:1000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{200, 200, 429, 429}, codes)

	// other paths are untouched
	req := httptest.NewRequest(http.MethodGet, "/api/admin/trials", nil)
	req.RemoteAddr = "198.51.100.4:1000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	h := CORS([]string{"https://app.trialguard.io"})(okHandler)

	req := httptest.NewRequest(http.MethodOptions, "/api/reports/generate", nil)
	req.Header.Set("Origin", "https://app.trialguard.io")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "X-Device-ID")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "https://app.trialguard.io", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, strings.ToLower(rec.Header().Get("Access-Control-Allow-Headers")), "x-device-id")

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRedisRateLimiterWithoutClientPassesThrough(t *testing.T) {
	h := NewRedisRateLimiter(nil, clientip.Resolver{}).Middleware(okHandler)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/reports/generate", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
