package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/AnshRaj112/trialguard-backend/internal/middleware"
	"github.com/AnshRaj112/trialguard-backend/internal/models"
	"github.com/AnshRaj112/trialguard-backend/internal/services"
	"github.com/AnshRaj112/trialguard-backend/internal/store"
)

// AdminTrialsHandler exposes the review listing and operator overrides.
type AdminTrialsHandler struct {
	admin *services.Administration
}

func NewAdminTrialsHandler(admin *services.Administration) *AdminTrialsHandler {
	return &AdminTrialsHandler{admin: admin}
}

// AdminActionRequest is the body of POST /api/admin/trials/action.
type AdminActionRequest struct {
	Type   string `json:"type" validate:"required,oneof=ip device"`
	ID     string `json:"id" validate:"required,max=255"`
	Action string `json:"action" validate:"required,oneof=whitelist unwhitelist remove reset"`
	Reason string `json:"reason" validate:"max=500"`
}

// ListTrials returns every network record and the most recent device records.
func (h *AdminTrialsHandler) ListTrials(w http.ResponseWriter, r *http.Request) {
	listing, err := h.admin.List(r.Context())
	if err != nil {
		log.Printf("🚨 trial listing failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to list trial records: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"networks": listing.Networks,
		"devices":  listing.Devices,
		"totals":   listing.Totals,
	})
}

// ApplyAction whitelists, unwhitelists, resets or removes one record.
func (h *AdminTrialsHandler) ApplyAction(w http.ResponseWriter, r *http.Request) {
	op, ok := middleware.OperatorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Admin session required")
		return
	}
	var req AdminActionRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	act, err := services.ParseAction(req.Type, req.ID, req.Action, req.Reason)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.admin.Apply(r.Context(), op, act); err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidAction):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		default:
			log.Printf("🚨 admin action by %s failed: %v", op.Username, err)
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Action applied",
		"type":    act.Kind,
		"id":      act.ID,
		"action":  act.Action,
	})
}

// ListAudit returns the most recent operator actions, newest first.
func (h *AdminTrialsHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	entries, err := h.admin.Audit(r.Context(), limit)
	if err != nil {
		log.Printf("🚨 audit listing failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to list audit entries")
		return
	}
	if entries == nil {
		entries = []models.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"entries": entries,
		"count":   len(entries),
	})
}
