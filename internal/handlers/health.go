package handlers

import (
	"context"
	"net/http"
	"time"
)

// Pinger is anything /ready should check before taking traffic.
type Pinger interface {
	Ping(ctx context.Context) error
}

type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

func Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// Ready pings every dependency; any failure returns 503 naming it.
func Ready(deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		failed := map[string]string{}
		for name, p := range deps {
			if err := p.Ping(ctx); err != nil {
				failed[name] = err.Error()
			}
		}
		if len(failed) > 0 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"success": false,
				"message": "not ready",
				"failed":  failed,
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "ready"})
	}
}
