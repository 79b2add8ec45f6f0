package middleware

import (
	"net/http"

	"github.com/go-chi/cors"

	"github.com/AnshRaj112/trialguard-backend/pkg/clientid"
)

// CORS answers preflight for the configured origins. The device header must
// be allowed or browser clients cannot send their identifier.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Requested-With", clientid.HTTPHeader},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}
