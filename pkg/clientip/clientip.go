package clientip

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// RealClientIP returns the client IP from the request.
// Uses r.RemoteAddr only (no proxy headers). Use for rate limiting and logging
// when traffic goes directly to the app.
func RealClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return strings.TrimSpace(host)
}

// ForwardedClientIP prefers the first X-Forwarded-For hop, then X-Real-IP,
// then RemoteAddr. Only use it behind a proxy that overwrites those headers.
func ForwardedClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xr := strings.TrimSpace(r.Header.Get("X-Real-IP")); xr != "" {
		return xr
	}
	return RealClientIP(r)
}

// Resolver picks the client IP according to the deployment's proxy setup.
type Resolver struct {
	TrustProxy bool
}

func (res Resolver) ClientIP(r *http.Request) string {
	if res.TrustProxy {
		return ForwardedClientIP(r)
	}
	return RealClientIP(r)
}

// NetworkPrefix coarsens an address so clients on one network share a key:
// the first three octets for IPv4 and the /48 for IPv6. Invalid input yields "".
func NetworkPrefix(ip string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return ""
	}
	addr = addr.Unmap()
	if addr.Is4() {
		b := addr.As4()
		return fmt.Sprintf("%d.%d.%d", b[0], b[1], b[2])
	}
	p, err := addr.WithZone("").Prefix(48)
	if err != nil {
		return ""
	}
	return p.String()
}
