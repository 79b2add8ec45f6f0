package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/AnshRaj112/trialguard-backend/internal/services"
	"github.com/AnshRaj112/trialguard-backend/pkg/clientip"
)

type contextKey string

const (
	userContextKey     contextKey = "trial_user"
	operatorContextKey contextKey = "operator"
)

// UserClaims are issued by the main product's auth service. sub is the user id.
type UserClaims struct {
	FirmID string `json:"firm_id,omitempty"`
	jwt.RegisteredClaims
}

// User is the authenticated end user of a gated request.
type User struct {
	ID     string
	FirmID string
}

// SignUserToken issues an HS256 end-user token.
func SignUserToken(secret, issuer, userID, firmID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &UserClaims{
		FirmID: firmID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseUserToken validates signature, expiry and issuer.
func ParseUserToken(secret, issuer, tokenString string) (*UserClaims, error) {
	claims := &UserClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Subject == "" {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// RequireUser rejects requests without a valid end-user bearer token.
func RequireUser(secret, issuer string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := ParseUserToken(secret, issuer, BearerToken(r))
			if err != nil {
				unauthorized(w, "Authentication required")
				return
			}
			ctx := context.WithValue(r.Context(), userContextKey, User{ID: claims.Subject, FirmID: claims.FirmID})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func UserFromContext(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(userContextKey).(User)
	return u, ok
}

// WithUser is used by tests and internal callers to attach a user.
func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, userContextKey, u)
}

// RequireAdmin checks the operator session token and loads the operator.
func RequireAdmin(sessions services.AdminSessions, admins services.AdminRepository, ips clientip.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			adminID, ok, err := sessions.Validate(r.Context(), BearerToken(r))
			if err != nil {
				log.Printf("⚠️  admin session lookup failed: %v", err)
				writeJSONError(w, http.StatusServiceUnavailable, "Session store unavailable")
				return
			}
			if !ok {
				unauthorized(w, "Admin session required")
				return
			}
			admin, err := admins.FindByID(r.Context(), adminID)
			if err != nil || !admin.IsActive {
				unauthorized(w, "Admin session required")
				return
			}
			op := services.Operator{ID: admin.ID, Username: admin.Username, IPAddress: ips.ClientIP(r)}
			ctx := context.WithValue(r.Context(), operatorContextKey, op)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func OperatorFromContext(ctx context.Context) (services.Operator, bool) {
	op, ok := ctx.Value(operatorContextKey).(services.Operator)
	return op, ok
}

// BearerToken returns the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func unauthorized(w http.ResponseWriter, msg string) {
	writeJSONError(w, http.StatusUnauthorized, msg)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "message": msg})
}
