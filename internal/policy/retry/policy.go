// Package retry classifies extraction outcomes and decides how a worker
// recovers: re-authenticate, rotate the session, give up, or accept.
package retry

import (
	"fmt"

	"github.com/JakeFAU/thread-recovery/internal/recovery"
)

// Action is what the orchestrator must do after an attempt.
type Action int

// Actions produced by Policy.Decide.
const (
	// ActionAccept journals the extracted messages.
	ActionAccept Action = iota
	// ActionReauthenticate logs in again and retries the item.
	ActionReauthenticate
	// ActionRotate replaces the browser and retries the item.
	ActionRotate
	// ActionRestricted journals an empty, restricted result.
	ActionRestricted
	// ActionFail records a permanent failure.
	ActionFail
	// ActionSkip abandons the item without journaling.
	ActionSkip
)

func (a Action) String() string {
	switch a {
	case ActionAccept:
		return "accept"
	case ActionReauthenticate:
		return "reauthenticate"
	case ActionRotate:
		return "rotate"
	case ActionRestricted:
		return "restricted"
	case ActionFail:
		return "fail"
	case ActionSkip:
		return "skip"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Retries reports whether the action leads to another attempt.
func (a Action) Retries() bool {
	return a == ActionReauthenticate || a == ActionRotate
}

// Status maps terminal actions onto item statuses.
func (a Action) Status() recovery.Status {
	switch a {
	case ActionAccept:
		return recovery.StatusSucceeded
	case ActionRestricted:
		return recovery.StatusRestricted
	case ActionFail:
		return recovery.StatusFailed
	default:
		return recovery.StatusSkipped
	}
}

// Decision is the classifier's verdict for one attempt.
type Decision struct {
	Action Action
	Reason string
}

// Attempt tracks per-item counters across retries.
type Attempt struct {
	Attempts      int
	LoginAttempts int
	Crashes       int
}

// Policy holds the per-item retry caps.
type Policy struct {
	MaxAttempts      int
	MaxLoginAttempts int
	MaxCrashRetries  int
}

// Default caps.
const (
	DefaultMaxAttempts      = 3
	DefaultMaxLoginAttempts = 2
	DefaultMaxCrashRetries  = 1
)

// NewPolicy returns a Policy with the default caps.
func NewPolicy() Policy {
	return Policy{
		MaxAttempts:      DefaultMaxAttempts,
		MaxLoginAttempts: DefaultMaxLoginAttempts,
		MaxCrashRetries:  DefaultMaxCrashRetries,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.MaxLoginAttempts <= 0 {
		p.MaxLoginAttempts = DefaultMaxLoginAttempts
	}
	if p.MaxCrashRetries < 0 {
		p.MaxCrashRetries = DefaultMaxCrashRetries
	}
	return p
}

// Decide records the attempt in state and classifies outcome.
func (p Policy) Decide(state *Attempt, outcome recovery.Outcome) Decision {
	p = p.withDefaults()
	state.Attempts++

	var d Decision
	switch outcome.Kind {
	case recovery.OutcomeSuccess:
		return Decision{Action: ActionAccept}
	case recovery.OutcomeNeedsLogin:
		state.LoginAttempts++
		if state.LoginAttempts >= p.MaxLoginAttempts {
			return Decision{Action: ActionRestricted, Reason: "login required after re-authentication"}
		}
		d = Decision{Action: ActionReauthenticate, Reason: "session expired"}
	case recovery.OutcomeCrashed:
		state.Crashes++
		if state.Crashes > p.MaxCrashRetries {
			return Decision{Action: ActionFail, Reason: fmt.Sprintf("browser crashed on retry: %s", outcome.Reason())}
		}
		d = Decision{Action: ActionRotate, Reason: outcome.Reason()}
	default:
		return Decision{Action: ActionFail, Reason: outcome.Reason()}
	}

	if state.Attempts >= p.MaxAttempts {
		return Decision{Action: ActionSkip, Reason: fmt.Sprintf("attempts exhausted after %s", d.Action)}
	}
	return d
}
