package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/AnshRaj112/trialguard-backend/internal/middleware"
	"github.com/AnshRaj112/trialguard-backend/internal/models"
	"github.com/AnshRaj112/trialguard-backend/internal/services"
	"github.com/AnshRaj112/trialguard-backend/pkg/clientid"
	"github.com/AnshRaj112/trialguard-backend/pkg/clientip"
)

const (
	maxDeviceIDLength = 128
	lockWait          = 5 * time.Second
)

// ReportHandler serves the trial-gated report endpoint and the read-only check.
type ReportHandler struct {
	evaluator *services.Evaluator
	recorder  *services.Recorder
	locker    services.DeviceLocker
	reports   services.ReportGenerator
	feed      services.ReviewPublisher
	ips       clientip.Resolver
}

func NewReportHandler(ev *services.Evaluator, rec *services.Recorder, locker services.DeviceLocker, reports services.ReportGenerator, feed services.ReviewPublisher, ips clientip.Resolver) *ReportHandler {
	return &ReportHandler{evaluator: ev, recorder: rec, locker: locker, reports: reports, feed: feed, ips: ips}
}

// CheckTrial reports the verdict the caller would get without consuming a use.
func (h *ReportHandler) CheckTrial(w http.ResponseWriter, r *http.Request) {
	req, ok := h.eligibilityRequest(w, r)
	if !ok {
		return
	}
	v, err := h.evaluator.Evaluate(r.Context(), req)
	if err != nil {
		storeUnavailable(w)
		return
	}
	h.recorder.ObserveNetwork(r.Context(), usageOf(req))
	body := verdictBody(v)
	body["success"] = true
	writeJSON(w, http.StatusOK, body)
}

// GenerateReport evaluates, performs the action and records the use while
// holding the device lock, so concurrent requests cannot overrun the limit.
func (h *ReportHandler) GenerateReport(w http.ResponseWriter, r *http.Request) {
	req, ok := h.eligibilityRequest(w, r)
	if !ok {
		return
	}
	var body services.ReportRequest
	if err := decodeAndValidate(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	lockCtx, cancel := context.WithTimeout(r.Context(), lockWait)
	unlock, err := h.locker.Lock(lockCtx, req.DeviceID)
	cancel()
	if err != nil {
		log.Printf("⚠️  device lock for %s failed: %v", req.DeviceID, err)
		storeUnavailable(w)
		return
	}
	defer unlock()

	v, err := h.evaluator.Evaluate(r.Context(), req)
	if err != nil {
		storeUnavailable(w)
		return
	}
	if !v.Allowed {
		h.recorder.ObserveNetwork(r.Context(), usageOf(req))
		h.publishDenial(r.Context(), req, v)
		writeJSON(w, http.StatusForbidden, verdictBody(v))
		return
	}

	report, err := h.reports.Generate(r.Context(), req.UserID, req.FirmID, body)
	if err != nil {
		if errors.Is(err, services.ErrInvalidReport) {
			writeError(w, http.StatusBadRequest, "Invalid report request")
			return
		}
		log.Printf("🚨 report generation failed for user %s: %v", req.UserID, err)
		writeError(w, http.StatusInternalServerError, "Failed to generate report")
		return
	}

	// subscriber uses are not trial consumptions
	remaining := v.Remaining
	if v.Unlimited {
		h.recorder.ObserveNetwork(r.Context(), usageOf(req))
	} else {
		if err := h.recorder.Record(r.Context(), usageOf(req)); err != nil {
			// the report exists; a deferred recording is replayed later
			log.Printf("⚠️  usage recording for device %s: %v", req.DeviceID, err)
		}
		remaining--
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success":   true,
		"message":   "Report generated",
		"report":    report,
		"remaining": remaining,
		"unlimited": v.Unlimited,
	})
}

func (h *ReportHandler) eligibilityRequest(w http.ResponseWriter, r *http.Request) (services.EligibilityRequest, bool) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return services.EligibilityRequest{}, false
	}
	deviceID := strings.TrimSpace(clientid.FromRequest(r))
	if deviceID == "" || len(deviceID) > maxDeviceIDLength {
		writeError(w, http.StatusBadRequest, "A valid "+clientid.HTTPHeader+" header is required")
		return services.EligibilityRequest{}, false
	}
	return services.EligibilityRequest{
		UserID:        user.ID,
		DeviceID:      deviceID,
		FirmID:        user.FirmID,
		NetworkPrefix: clientip.NetworkPrefix(h.ips.ClientIP(r)),
	}, true
}

func usageOf(req services.EligibilityRequest) services.Usage {
	return services.Usage{UserID: req.UserID, DeviceID: req.DeviceID, FirmID: req.FirmID, NetworkPrefix: req.NetworkPrefix}
}

func (h *ReportHandler) publishDenial(ctx context.Context, req services.EligibilityRequest, v models.Verdict) {
	if h.feed == nil {
		return
	}
	h.feed.Publish(ctx, services.ReviewEvent{
		Type:          services.EventVerdictDenied,
		DeviceID:      req.DeviceID,
		UserID:        req.UserID,
		NetworkPrefix: req.NetworkPrefix,
		Reason:        string(v.Reason),
	})
}

// verdictBody never carries thresholds or linked identifiers.
func verdictBody(v models.Verdict) map[string]interface{} {
	body := map[string]interface{}{
		"success":   v.Allowed,
		"allowed":   v.Allowed,
		"remaining": v.Remaining,
		"unlimited": v.Unlimited,
	}
	if !v.Allowed {
		body["reason"] = v.Reason
		body["reason_class"] = v.Reason.Class()
		body["message"] = v.Reason.PublicMessage()
	}
	return body
}

func storeUnavailable(w http.ResponseWriter) {
	w.Header().Set("Retry-After", "2")
	writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
		"success":   false,
		"allowed":   false,
		"retryable": true,
		"message":   "Trial service is temporarily unavailable. Please retry.",
	})
}
