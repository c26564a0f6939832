package executor

import (
	"context"
	"time"

	"github.com/browserwing/domguard/config"
)

// Clock is the time source for waits. Tests swap in a fake so polling is
// deterministic.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration)
}

type realClock struct{}

// RealClock returns the wall clock.
func RealClock() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) Sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// callGrace is how long a driver call started at a wait's deadline may still
// run before its context expires.
const callGrace = 500 * time.Millisecond

// Options tunes the waiter and the executor.
type Options struct {
	PollInterval      time.Duration
	DefaultTimeout    time.Duration
	ActionTimeout     time.Duration
	RetryAfterRefresh bool
	Clock             Clock
}

// OptionsFromConfig builds Options from the [wait] section.
func OptionsFromConfig(cfg *config.WaitConfig) Options {
	if cfg == nil {
		cfg = config.Default().Wait
	}
	return Options{
		PollInterval:      cfg.PollInterval(),
		DefaultTimeout:    cfg.DefaultTimeout(),
		ActionTimeout:     cfg.ActionTimeout(),
		RetryAfterRefresh: cfg.RetryEnabled(),
		Clock:             RealClock(),
	}
}

func (o Options) withDefaults() Options {
	def := OptionsFromConfig(nil)
	if o.PollInterval <= 0 {
		o.PollInterval = def.PollInterval
	}
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = def.DefaultTimeout
	}
	if o.ActionTimeout <= 0 {
		o.ActionTimeout = def.ActionTimeout
	}
	if o.Clock == nil {
		o.Clock = RealClock()
	}
	return o
}

// PollState is a state of the presence poll.
type PollState int

const (
	Polling PollState = iota
	Refreshing
	Found
	TimedOut
)

func (s PollState) String() string {
	switch s {
	case Polling:
		return "polling"
	case Refreshing:
		return "refreshing"
	case Found:
		return "found"
	case TimedOut:
		return "timed_out"
	}
	return "unknown"
}

// PollResult describes how a presence poll ended.
type PollResult struct {
	State     PollState     `json:"state"`
	Polls     int           `json:"polls"`
	Refreshes int           `json:"refreshes"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Found reports whether the selector matched before the deadline.
func (r PollResult) Found() bool {
	return r.State == Found
}
