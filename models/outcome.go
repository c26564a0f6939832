package models

import (
	"fmt"
	"time"
)

// OutcomeStatus is the coarse result of a wait or action call.
type OutcomeStatus int

const (
	Succeeded OutcomeStatus = iota
	RecoveredAfterRefresh
	AlertDismissed
	FailedTerminal
)

func (s OutcomeStatus) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case RecoveredAfterRefresh:
		return "recovered_after_refresh"
	case AlertDismissed:
		return "alert_dismissed"
	case FailedTerminal:
		return "failed_terminal"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// FailureKind classifies a terminal failure.
type FailureKind string

const (
	NotFound        FailureKind = "not_found"
	NotInteractable FailureKind = "not_interactable"
	NotClickable    FailureKind = "not_clickable"
	DriverFault     FailureKind = "driver_fault"
	TimeoutNoMatch  FailureKind = "timeout_no_match"
)

// Outcome is returned by every executor call instead of an error.
type Outcome struct {
	Action   string            `json:"action"`
	Selector Selector          `json:"selector"`
	Status   OutcomeStatus     `json:"status"`
	Kind     FailureKind       `json:"kind,omitempty"`
	Err      error             `json:"-"`
	Alert    string            `json:"alert,omitempty"` // text of a dismissed dialog
	Artifact *DiagnosticRecord `json:"artifact,omitempty"`
	Elapsed  time.Duration     `json:"elapsed"`
}

// OK reports whether the action took effect, directly or after a refresh.
func (o Outcome) OK() bool {
	return o.Status == Succeeded || o.Status == RecoveredAfterRefresh
}

// Failed reports whether the outcome is a terminal failure.
func (o Outcome) Failed() bool {
	return o.Status == FailedTerminal
}

func (o Outcome) String() string {
	target := o.Action
	if o.Selector.Value != "" {
		target += " " + o.Selector.String()
	}
	switch o.Status {
	case FailedTerminal:
		return fmt.Sprintf("%s: %s(%s)", target, o.Status, o.Kind)
	case AlertDismissed:
		return fmt.Sprintf("%s: %s %q", target, o.Status, o.Alert)
	}
	return fmt.Sprintf("%s: %s", target, o.Status)
}
