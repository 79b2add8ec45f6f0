package models

import (
	"time"

	"github.com/google/uuid"
)

// Admin is a trusted operator allowed to override trial verdicts.
type Admin struct {
	ID           uuid.UUID `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"is_active"`
}

// AdminAction is an operator state transition on a correlation record.
type AdminAction string

const (
	ActionWhitelist   AdminAction = "whitelist"
	ActionUnwhitelist AdminAction = "unwhitelist"
	ActionRemove      AdminAction = "remove"
	ActionReset       AdminAction = "reset"
)

// AuditEntry records who changed which record and when.
type AuditEntry struct {
	ID        uuid.UUID   `json:"id"`
	CreatedAt time.Time   `json:"created_at"`
	AdminID   uuid.UUID   `json:"admin_id"`
	Username  string      `json:"username"`
	Kind      RecordKind  `json:"type"`
	RecordID  string      `json:"record_id"`
	Action    AdminAction `json:"action"`
	Reason    string      `json:"reason,omitempty"`
	IPAddress string      `json:"ip_address,omitempty"`
}
