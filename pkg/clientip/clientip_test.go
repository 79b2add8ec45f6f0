package clientip

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNetworkPrefix(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"203.0.113.42", "203.0.113"},
		{"::ffff:203.0.113.42", "203.0.113"},
		{"2001:db8:1:2::5", "2001:db8:1::/48"},
		{"fe80::1%eth0", "fe80::/48"},
		{"not-an-ip", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NetworkPrefix(tt.in))
		})
	}
}

func TestResolver(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "198.51.100.7:4242"
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	assert.Equal(t, "198.51.100.7", Resolver{}.ClientIP(r))
	assert.Equal(t, "203.0.113.9", Resolver{TrustProxy: true}.ClientIP(r))

	r.Header.Del("X-Forwarded-For")
	r.Header.Set("X-Real-IP", "203.0.113.10")
	assert.Equal(t, "203.0.113.10", ForwardedClientIP(r))
}
