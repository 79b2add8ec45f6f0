package models

import "time"

type SubscriptionState string

const (
	SubscriptionActive   SubscriptionState = "active"
	SubscriptionInactive SubscriptionState = "inactive"
)

type Seats struct {
	Total     int `bson:"total" json:"total"`
	Purchased int `bson:"purchased" json:"purchased"`
}

// SubscriptionStatus is owned by billing; the trial engine only reads it.
type SubscriptionStatus struct {
	FirmID           string            `bson:"_id" json:"firm_id"`
	Status           SubscriptionState `bson:"status" json:"status"`
	CurrentPeriodEnd time.Time         `bson:"current_period_end" json:"current_period_end"`
	Plan             string            `bson:"plan,omitempty" json:"plan,omitempty"`
	Seats            Seats             `bson:"seats" json:"seats"`
	UpdatedAt        time.Time         `bson:"updated_at" json:"updated_at"`
}

// ValidAt reports whether the subscription grants access at now, allowing
// grace after the period end for late billing updates.
func (s *SubscriptionStatus) ValidAt(now time.Time, grace time.Duration) bool {
	if s == nil || s.Status != SubscriptionActive {
		return false
	}
	return !now.After(s.CurrentPeriodEnd.Add(grace))
}
