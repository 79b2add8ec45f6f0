package models

// ReasonCode explains a policy denial. Denials are expected outcomes, not faults.
type ReasonCode string

const (
	ReasonDeviceLimit  ReasonCode = "DEVICE_LIMIT_REACHED"
	ReasonUserLimit    ReasonCode = "USER_LIMIT_REACHED"
	ReasonSuspicious   ReasonCode = "SUSPICIOUS_ACTIVITY"
	ReasonNetworkLimit ReasonCode = "NETWORK_LIMIT_REACHED"
)

// ReasonClass is the coarse category shown to end users.
type ReasonClass string

const (
	ClassTrialExhausted ReasonClass = "trial_exhausted"
	ClassBlocked        ReasonClass = "blocked"
)

func (r ReasonCode) Class() ReasonClass {
	switch r {
	case ReasonDeviceLimit, ReasonUserLimit:
		return ClassTrialExhausted
	default:
		return ClassBlocked
	}
}

// PublicMessage never exposes which heuristic fired.
func (r ReasonCode) PublicMessage() string {
	if r.Class() == ClassTrialExhausted {
		return "Your free trial has been used up. Subscribe to keep generating reports."
	}
	return "This request cannot be completed right now. Please contact support."
}

// Verdict is the result of one eligibility evaluation.
type Verdict struct {
	Allowed   bool       `json:"allowed"`
	Remaining int        `json:"remaining"`
	Unlimited bool       `json:"unlimited,omitempty"`
	Reason    ReasonCode `json:"reason,omitempty"`
}

// RemainingUnlimited is the wire value of Remaining for subscribers.
const RemainingUnlimited = -1

func Unlimited() Verdict {
	return Verdict{Allowed: true, Remaining: RemainingUnlimited, Unlimited: true}
}

func Deny(reason ReasonCode) Verdict {
	return Verdict{Allowed: false, Remaining: 0, Reason: reason}
}
