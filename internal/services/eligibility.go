package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/AnshRaj112/trialguard-backend/internal/metrics"
	"github.com/AnshRaj112/trialguard-backend/internal/models"
	"github.com/AnshRaj112/trialguard-backend/internal/policy"
	"github.com/AnshRaj112/trialguard-backend/internal/store"
)

// ErrStoreUnavailable means the store failed or timed out during evaluation.
// The verdict is a deny and the caller may retry.
var ErrStoreUnavailable = errors.New("trial store unavailable")

// Policy holds the tunable trial thresholds.
type Policy struct {
	TrialLimit          int
	MaxLinkedAccounts   int
	GracePeriod         time.Duration
	EnforceNetworkLimit bool
}

func DefaultPolicy() Policy {
	return Policy{
		TrialLimit:        5,
		MaxLinkedAccounts: 3,
		GracePeriod:       24 * time.Hour,
	}
}

// EligibilityRequest identifies who wants to consume a trial use.
type EligibilityRequest struct {
	UserID        string
	DeviceID      string
	FirmID        string
	NetworkPrefix string
}

// Evaluator turns stored trial state into a verdict. Apart from creating an
// empty device record on first sight it never mutates the store.
type Evaluator struct {
	store   store.Store
	policy  Policy
	network policy.NetworkPolicy
	metrics *metrics.Metrics
	timeout time.Duration
	nowF    func() time.Time
}

type EvaluatorOption func(*Evaluator)

func WithClock(now func() time.Time) EvaluatorOption {
	return func(e *Evaluator) { e.nowF = now }
}

// WithNetworkPolicy supplies the prefix predicate used when the policy enforces it.
func WithNetworkPolicy(p policy.NetworkPolicy) EvaluatorOption {
	return func(e *Evaluator) { e.network = p }
}

func WithEvaluatorMetrics(m *metrics.Metrics) EvaluatorOption {
	return func(e *Evaluator) { e.metrics = m }
}

// WithStoreTimeout bounds the store round trips of one evaluation.
func WithStoreTimeout(d time.Duration) EvaluatorOption {
	return func(e *Evaluator) { e.timeout = d }
}

func NewEvaluator(s store.Store, p Policy, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{store: s, policy: p, nowF: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	if e.network == nil {
		e.network = policy.FirmThreshold{MaxFirms: 1}
	}
	return e
}

func (e *Evaluator) Policy() Policy {
	return e.policy
}

// Evaluate applies the rules in order; the first terminal rule wins.
func (e *Evaluator) Evaluate(ctx context.Context, req EligibilityRequest) (models.Verdict, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	v, err := e.evaluate(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			e.metrics.StoreTimeout()
		}
		log.Printf("⚠️  eligibility check failed closed for device %s: %v", req.DeviceID, err)
		e.metrics.Verdict(false, "store_unavailable")
		return models.Verdict{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.metrics.Verdict(v.Allowed, string(v.Reason))
	return v, nil
}

func (e *Evaluator) evaluate(ctx context.Context, req EligibilityRequest) (models.Verdict, error) {
	limit := e.policy.TrialLimit

	if req.FirmID != "" {
		sub, err := e.store.GetSubscriptionStatus(ctx, req.FirmID)
		switch {
		case err == nil:
			if sub.ValidAt(e.nowF(), e.policy.GracePeriod) {
				return models.Unlimited(), nil
			}
		case errors.Is(err, store.ErrNotFound):
		default:
			return models.Verdict{}, fmt.Errorf("subscription %s: %w", req.FirmID, err)
		}
	}

	device, err := e.store.EnsureDeviceRecord(ctx, req.DeviceID)
	if err != nil {
		return models.Verdict{}, fmt.Errorf("device %s: %w", req.DeviceID, err)
	}
	if device.ReportsGenerated >= limit {
		return models.Deny(models.ReasonDeviceLimit), nil
	}

	userCount, err := e.store.GetUserCount(ctx, req.UserID)
	if err != nil {
		return models.Verdict{}, fmt.Errorf("user count: %w", err)
	}
	if userCount >= limit {
		return models.Deny(models.ReasonUserLimit), nil
	}

	if !device.IsWhitelisted {
		if len(device.LinkedAccountIDs) >= e.policy.MaxLinkedAccounts && !device.HasAccount(req.UserID) {
			return models.Deny(models.ReasonSuspicious), nil
		}
		if e.policy.EnforceNetworkLimit && req.NetworkPrefix != "" {
			blocked, err := e.networkBlocked(ctx, req.NetworkPrefix)
			if err != nil {
				return models.Verdict{}, err
			}
			if blocked {
				return models.Deny(models.ReasonNetworkLimit), nil
			}
		}
	}

	return models.Verdict{
		Allowed:   true,
		Remaining: min(limit-device.ReportsGenerated, limit-userCount),
	}, nil
}

func (e *Evaluator) networkBlocked(ctx context.Context, prefix string) (bool, error) {
	rec, err := e.store.GetNetworkRecord(ctx, prefix)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("network %s: %w", prefix, err)
	}
	blocked, err := e.network.Suspicious(ctx, rec)
	if err != nil {
		return false, fmt.Errorf("network policy: %w", err)
	}
	return blocked, nil
}
