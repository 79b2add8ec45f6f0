package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/AnshRaj112/trialguard-backend/internal/metrics"
	"github.com/AnshRaj112/trialguard-backend/internal/models"
	"github.com/AnshRaj112/trialguard-backend/internal/store"
)

var ErrInvalidAction = errors.New("invalid admin action")

// Operator is the authenticated admin performing an action.
type Operator struct {
	ID        uuid.UUID
	Username  string
	IPAddress string
}

// Action is one operator override on a correlation record.
type Action struct {
	Kind   models.RecordKind  `json:"type"`
	ID     string             `json:"id"`
	Action models.AdminAction `json:"action"`
	Reason string             `json:"reason,omitempty"`
}

type NetworkReview struct {
	models.NetworkTrialRecord
	Blocked     bool `json:"blocked"`
	FirmCount   int  `json:"firm_count"`
	DeviceCount int  `json:"device_count"`
	UserCount   int  `json:"user_count"`
}

type DeviceReview struct {
	models.DeviceTrialRecord
	Suspicious   bool `json:"suspicious"`
	Exhausted    bool `json:"exhausted"`
	AccountCount int  `json:"account_count"`
}

type ReviewTotals struct {
	Networks          int `json:"networks"`
	BlockedNetworks   int `json:"blocked_networks"`
	Devices           int `json:"devices"`
	SuspiciousDevices int `json:"suspicious_devices"`
}

type ReviewListing struct {
	Networks []NetworkReview `json:"networks"`
	Devices  []DeviceReview  `json:"devices"`
	Totals   ReviewTotals    `json:"totals"`
}

// Administration applies operator overrides. Operators are trusted: no
// business rule gates an action beyond its shape.
type Administration struct {
	store     store.Store
	policy    Policy
	audit     *AuditLogger
	feed      ReviewPublisher
	metrics   *metrics.Metrics
	listLimit int
}

func NewAdministration(s store.Store, p Policy, audit *AuditLogger, feed ReviewPublisher, m *metrics.Metrics, listLimit int) *Administration {
	if listLimit <= 0 {
		listLimit = 50
	}
	return &Administration{store: s, policy: p, audit: audit, feed: feed, metrics: m, listLimit: listLimit}
}

// List returns every network record and the most recent devices with their review flags.
func (a *Administration) List(ctx context.Context) (*ReviewListing, error) {
	networks, err := a.store.ListNetworkRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("list network records: %w", err)
	}
	devices, err := a.store.ListDeviceRecords(ctx, a.listLimit)
	if err != nil {
		return nil, fmt.Errorf("list device records: %w", err)
	}

	out := &ReviewListing{
		Networks: make([]NetworkReview, 0, len(networks)),
		Devices:  make([]DeviceReview, 0, len(devices)),
	}
	for _, n := range networks {
		r := NetworkReview{
			NetworkTrialRecord: n,
			Blocked:            n.Blocked(),
			FirmCount:          len(n.LinkedFirmIDs),
			DeviceCount:        len(n.LinkedDeviceIDs),
			UserCount:          len(n.LinkedUserIDs),
		}
		if r.Blocked {
			out.Totals.BlockedNetworks++
		}
		out.Networks = append(out.Networks, r)
	}
	for _, d := range devices {
		r := DeviceReview{
			DeviceTrialRecord: d,
			Suspicious:        len(d.LinkedAccountIDs) > a.policy.MaxLinkedAccounts && !d.IsWhitelisted,
			Exhausted:         d.ReportsGenerated >= a.policy.TrialLimit,
			AccountCount:      len(d.LinkedAccountIDs),
		}
		if r.Suspicious {
			out.Totals.SuspiciousDevices++
		}
		out.Devices = append(out.Devices, r)
	}
	out.Totals.Networks = len(out.Networks)
	out.Totals.Devices = len(out.Devices)
	return out, nil
}

// ParseAction normalizes raw request values into an Action.
func ParseAction(kind, id, action, reason string) (Action, error) {
	act := Action{
		Kind:   models.RecordKind(strings.ToLower(strings.TrimSpace(kind))),
		ID:     strings.TrimSpace(id),
		Action: models.AdminAction(strings.ToLower(strings.TrimSpace(action))),
		Reason: strings.TrimSpace(reason),
	}
	return act, act.Validate()
}

func (act Action) Validate() error {
	if !act.Kind.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidAction, act.Kind)
	}
	if act.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidAction)
	}
	switch act.Action {
	case models.ActionWhitelist, models.ActionUnwhitelist, models.ActionRemove:
	case models.ActionReset:
		if act.Kind != models.RecordKindDevice {
			return fmt.Errorf("%w: reset is only valid for devices", ErrInvalidAction)
		}
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidAction, act.Action)
	}
	return nil
}

// Apply performs the state transition and records it in the audit trail.
// Store errors are returned with their cause.
func (a *Administration) Apply(ctx context.Context, op Operator, act Action) error {
	if err := act.Validate(); err != nil {
		return err
	}

	var err error
	switch act.Action {
	case models.ActionWhitelist:
		err = a.store.SetWhitelist(ctx, act.Kind, act.ID, true)
	case models.ActionUnwhitelist:
		err = a.store.SetWhitelist(ctx, act.Kind, act.ID, false)
	case models.ActionRemove:
		err = a.store.RemoveRecord(ctx, act.Kind, act.ID)
	case models.ActionReset:
		err = a.store.ResetDeviceCounter(ctx, act.ID)
	}
	if err != nil {
		return fmt.Errorf("%s %s %s: %w", act.Action, act.Kind, act.ID, err)
	}

	a.metrics.AdminAction(string(act.Kind), string(act.Action))
	a.audit.LogAction(ctx, op, act)
	if a.feed != nil {
		a.feed.Publish(ctx, ReviewEvent{
			Type:     EventAdminAction,
			Kind:     string(act.Kind),
			RecordID: act.ID,
			Action:   string(act.Action),
			Operator: op.Username,
		})
	}
	return nil
}

func (a *Administration) Audit(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	return a.audit.Recent(ctx, limit)
}
