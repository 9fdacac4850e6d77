package mailer

import (
	"fmt"
	"strings"
)

// Priority is the send tier of a queued message.
type Priority int16

const (
	// PriorityAny matches every tier in a Filter.
	PriorityAny Priority = 0
	// PriorityHigh messages are sent before any other tier.
	PriorityHigh Priority = 1
	// PriorityMedium is the default tier.
	PriorityMedium Priority = 2
	// PriorityLow messages are sent only when no high or medium message is queued.
	PriorityLow Priority = 3
)

// Tiers lists the send tiers in drain order.
var Tiers = [...]Priority{PriorityHigh, PriorityMedium, PriorityLow}

// Valid reports whether p is one of the three send tiers.
func (p Priority) Valid() bool {
	return p >= PriorityHigh && p <= PriorityLow
}

// String returns the lowercase tier name.
func (p Priority) String() string {
	switch p {
	case PriorityAny:
		return "any"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int16(p))
	}
}

// ParsePriority parses a tier name ("high", "medium", "low") or its numeric code.
func ParsePriority(value string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "high", "1":
		return PriorityHigh, nil
	case "medium", "2", "":
		return PriorityMedium, nil
	case "low", "3":
		return PriorityLow, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidPriority, value)
	}
}

// Result is the outcome code of a delivery attempt stored in the log.
type Result int16

const (
	// ResultSent records a successful send. The message was deleted.
	ResultSent Result = 1
	// ResultFailed records an unexpected error that aborted the drain.
	ResultFailed Result = 2
	// ResultDeferred records a transport failure. The message was deferred.
	ResultDeferred Result = 3
)

// String returns the lowercase result name.
func (r Result) String() string {
	switch r {
	case ResultSent:
		return "sent"
	case ResultFailed:
		return "failed"
	case ResultDeferred:
		return "deferred"
	default:
		return fmt.Sprintf("result(%d)", int16(r))
	}
}

// Mode selects between the regular and the throttled mass drain.
type Mode int

const (
	// ModeNormal drains non-mass messages with default credentials.
	ModeNormal Mode = iota
	// ModeMass drains mass messages with mass credentials and throttling.
	ModeMass
)

// Lock names, one filesystem artifact (or key) per mode.
const (
	LockNameNormal = "send_mail"
	LockNameMass   = "send_mass_mail"
)

// String returns "normal" or "mass".
func (m Mode) String() string {
	if m == ModeMass {
		return "mass"
	}

	return "normal"
}

// LockName returns the exclusion lock name of the mode.
func (m Mode) LockName() string {
	if m == ModeMass {
		return LockNameMass
	}

	return LockNameNormal
}

// Mass reports whether the mode drains mass messages.
func (m Mode) Mass() bool {
	return m == ModeMass
}
