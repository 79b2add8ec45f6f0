package clientid

import (
	"net/http"
	"strings"
)

// Attach sets the resolved id on an outgoing request.
func Attach(req *http.Request, id string) {
	if id != "" {
		req.Header.Set(HTTPHeader, id)
	}
}

// FromRequest reads the id a client sent, from the header or the cookie.
func FromRequest(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(HTTPHeader)); v != "" {
		return v
	}
	if c, err := r.Cookie(CookieName); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}
