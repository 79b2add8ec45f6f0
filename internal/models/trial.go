package models

import (
	"encoding/hex"
	"slices"
	"time"
)

// RecordKind identifies which correlation record an admin action targets.
type RecordKind string

const (
	RecordKindNetwork RecordKind = "ip"
	RecordKindDevice  RecordKind = "device"
)

func (k RecordKind) Valid() bool {
	return k == RecordKindNetwork || k == RecordKindDevice
}

// DeviceTrialRecord tracks one anonymous client's trial usage and the accounts seen on it.
type DeviceTrialRecord struct {
	DeviceID         string   `bson:"_id" json:"device_id"`
	ReportsGenerated int      `bson:"reports_generated" json:"reports_generated"`
	LinkedAccountIDs []string `bson:"linked_account_ids,omitempty" json:"linked_account_ids"`

	// UserReports holds per-user usage on this device keyed by UsageKey(userID).
	// It is the source of the derived per-user trial count.
	UserReports map[string]int `bson:"user_reports,omitempty" json:"-"`

	FirmActivated string `bson:"firm_activated,omitempty" json:"firm_activated,omitempty"`
	NetworkPrefix string `bson:"network_prefix,omitempty" json:"network_prefix,omitempty"`
	IsWhitelisted bool   `bson:"is_whitelisted" json:"is_whitelisted"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// HasAccount reports whether userID already used this device.
func (d *DeviceTrialRecord) HasAccount(userID string) bool {
	return slices.Contains(d.LinkedAccountIDs, userID)
}

// UsageFor returns how many trial consumptions userID made on this device.
func (d *DeviceTrialRecord) UsageFor(userID string) int {
	if d.UserReports == nil {
		return 0
	}
	return d.UserReports[UsageKey(userID)]
}

// NetworkTrialRecord tracks everything observed behind one coarse network prefix.
type NetworkTrialRecord struct {
	NetworkPrefix   string   `bson:"_id" json:"network_prefix"`
	LinkedFirmIDs   []string `bson:"linked_firm_ids,omitempty" json:"linked_firm_ids"`
	LinkedDeviceIDs []string `bson:"linked_device_ids,omitempty" json:"linked_device_ids"`
	LinkedUserIDs   []string `bson:"linked_user_ids,omitempty" json:"linked_user_ids"`
	IsWhitelisted   bool     `bson:"is_whitelisted" json:"is_whitelisted"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// Blocked is the review flag for a prefix shared by more than one firm.
func (n *NetworkTrialRecord) Blocked() bool {
	return len(n.LinkedFirmIDs) > 1 && !n.IsWhitelisted
}

// NetworkLink is the set of identities observed together behind one prefix.
type NetworkLink struct {
	FirmID   string
	DeviceID string
	UserID   string
}

// UsageKey encodes a user id so it is safe as a document field name.
func UsageKey(userID string) string {
	return hex.EncodeToString([]byte(userID))
}

// AddUnique appends v to set when it is non-empty and not present yet.
func AddUnique(set []string, v string) ([]string, bool) {
	if v == "" || slices.Contains(set, v) {
		return set, false
	}
	return append(set, v), true
}
