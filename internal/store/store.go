// Package store persists the trial correlation records: device records,
// network-prefix records, the derived per-user count and the read-only
// subscription status owned by billing.
package store

import (
	"context"
	"errors"

	"github.com/AnshRaj112/trialguard-backend/internal/models"
)

var (
	ErrNotFound    = errors.New("record not found")
	ErrConflict    = errors.New("concurrent update conflict")
	ErrInvalidKind = errors.New("invalid record kind")
)

// Store is the only shared mutable resource of the trial engine. Every
// component goes through it; nothing caches its state across requests.
type Store interface {
	GetDeviceRecord(ctx context.Context, deviceID string) (*models.DeviceTrialRecord, error)
	// EnsureDeviceRecord returns the device record, creating an empty one if absent.
	EnsureDeviceRecord(ctx context.Context, deviceID string) (*models.DeviceTrialRecord, error)
	GetNetworkRecord(ctx context.Context, prefix string) (*models.NetworkTrialRecord, error)
	// GetUserCount sums the usage attributed to userID across all device records.
	GetUserCount(ctx context.Context, userID string) (int, error)
	GetSubscriptionStatus(ctx context.Context, firmID string) (*models.SubscriptionStatus, error)

	UpsertDeviceRecord(ctx context.Context, rec *models.DeviceTrialRecord) error
	UpsertNetworkRecord(ctx context.Context, rec *models.NetworkTrialRecord) error
	UpsertSubscriptionStatus(ctx context.Context, sub *models.SubscriptionStatus) error

	// IncrementReports atomically bumps the device counter and userID's usage
	// on that device and links userID to it, creating the record if needed.
	IncrementReports(ctx context.Context, deviceID, userID string) (*models.DeviceTrialRecord, error)
	LinkAccountToDevice(ctx context.Context, deviceID, userID string) error
	// SetFirmActivated sets firmActivated only when it is unset. It reports whether it wrote.
	SetFirmActivated(ctx context.Context, deviceID, firmID string) (bool, error)
	SetDeviceNetwork(ctx context.Context, deviceID, prefix string) error
	LinkNetwork(ctx context.Context, prefix string, link models.NetworkLink) error

	SetWhitelist(ctx context.Context, kind models.RecordKind, id string, whitelisted bool) error
	// ResetDeviceCounter zeroes the device's usage but keeps linkage and whitelist state.
	ResetDeviceCounter(ctx context.Context, deviceID string) error
	RemoveRecord(ctx context.Context, kind models.RecordKind, id string) error

	// ListDeviceRecords returns at most limit device records, most recently updated first.
	ListDeviceRecords(ctx context.Context, limit int) ([]models.DeviceTrialRecord, error)
	ListNetworkRecords(ctx context.Context) ([]models.NetworkTrialRecord, error)

	Ping(ctx context.Context) error
}
