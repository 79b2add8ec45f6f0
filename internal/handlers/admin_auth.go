package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/AnshRaj112/trialguard-backend/internal/middleware"
	"github.com/AnshRaj112/trialguard-backend/internal/services"
)

// AdminSigninRequest represents the request to sign in as admin
type AdminSigninRequest struct {
	Username string `json:"username" validate:"required,max=32"`
	Password string `json:"password" validate:"required,max=256"`
}

// AdminAuthHandler issues and revokes operator sessions.
type AdminAuthHandler struct {
	admins   services.AdminRepository
	sessions services.AdminSessions
}

func NewAdminAuthHandler(admins services.AdminRepository, sessions services.AdminSessions) *AdminAuthHandler {
	return &AdminAuthHandler{admins: admins, sessions: sessions}
}

// AdminSignin handles admin login
func (h *AdminAuthHandler) AdminSignin(w http.ResponseWriter, r *http.Request) {
	var req AdminSigninRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	admin, err := services.Authenticate(r.Context(), h.admins, req.Username, req.Password)
	switch {
	case errors.Is(err, services.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	case errors.Is(err, services.ErrAdminInactive):
		writeError(w, http.StatusForbidden, "Admin account is inactive")
		return
	case err != nil:
		log.Printf("🚨 admin signin lookup failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}

	token, err := h.sessions.Create(r.Context(), admin.ID)
	if err != nil {
		log.Printf("🚨 admin session create failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Admin signed in successfully",
		"admin": map[string]interface{}{
			"id":         admin.ID.String(),
			"username":   admin.Username,
			"email":      admin.Email,
			"created_at": admin.CreatedAt,
		},
		"token": token,
	})
}

// AdminSignout invalidates the caller's session token.
func (h *AdminAuthHandler) AdminSignout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Invalidate(r.Context(), middleware.BearerToken(r)); err != nil {
		log.Printf("⚠️  admin signout failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to sign out")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Signed out",
	})
}
