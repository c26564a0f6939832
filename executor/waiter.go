package executor

import (
	"context"
	"errors"
	"time"

	"github.com/browserwing/domguard/models"
	"github.com/browserwing/domguard/pkg/logger"
	"github.com/browserwing/domguard/services/browser"
	"github.com/browserwing/domguard/services/diagnostics"
	"golang.org/x/time/rate"
)

// Waiter blocks until selectors resolve or become clickable. Every wait is
// bounded by its timeout.
type Waiter struct {
	session *browser.Session
	diag    *diagnostics.Capturer
	opts    Options
}

func NewWaiter(s *browser.Session, diag *diagnostics.Capturer, opts Options) *Waiter {
	return &Waiter{session: s, diag: diag, opts: opts.withDefaults()}
}

// WaitUntilPresent reports whether sel matched at least one element before
// timeout. A miss is a normal outcome, not an error.
func (w *Waiter) WaitUntilPresent(ctx context.Context, sel models.Selector, timeout time.Duration) bool {
	res := w.Poll(ctx, sel, timeout)
	if res.Found() {
		logger.Debug(ctx, "%s present after %d poll(s), %d refresh(es)", sel, res.Polls, res.Refreshes)
		return true
	}
	logger.Info(ctx, "%s not present after %s (%d poll(s), %d refresh(es))", sel, timeout, res.Polls, res.Refreshes)
	return false
}

// Poll runs the presence state machine:
//
//	Polling -> Found                 match
//	Polling -> TimedOut              no match and deadline reached
//	Polling -> Refreshing -> Polling no match, refresh then sleep one interval
//
// Refreshes are rate limited to one per poll interval. A zero timeout checks
// once. Cancelling ctx ends the poll as TimedOut. Driver calls run under a
// context that expires callGrace after the timeout, so a hung lookup or a
// page that never finishes loading cannot hold the wait open.
func (w *Waiter) Poll(ctx context.Context, sel models.Selector, timeout time.Duration) PollResult {
	clock := w.opts.Clock
	interval := w.opts.PollInterval
	start := clock.Now()
	deadline := start.Add(timeout)
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	driver := w.session.Driver()

	callCtx, cancel := context.WithTimeout(ctx, timeout+callGrace)
	defer cancel()

	res := PollResult{State: Polling}
	for {
		switch res.State {
		case Polling:
			res.Polls++
			n, err := safeCount(callCtx, driver, sel)
			if err != nil {
				logger.Debug(ctx, "Lookup of %s failed, treating as no match: %v", sel, err)
			}
			switch {
			case n > 0:
				res.State = Found
			case ctx.Err() != nil || callCtx.Err() != nil || !clock.Now().Before(deadline):
				res.State = TimedOut
			default:
				res.State = Refreshing
			}

		case Refreshing:
			if limiter.AllowN(clock.Now(), 1) {
				res.Refreshes++
				if err := safeCall(callCtx, driver.Refresh); err != nil {
					logger.Warn(ctx, "Refresh while waiting for %s failed: %v", sel, err)
				}
			}
			wait := interval
			if remaining := deadline.Sub(clock.Now()); remaining < wait {
				wait = remaining
			}
			clock.Sleep(ctx, wait)
			if ctx.Err() != nil {
				res.State = TimedOut
			} else {
				res.State = Polling
			}

		default:
			res.Elapsed = clock.Now().Sub(start)
			return res
		}
	}
}

// WaitUntilClickable blocks until sel is present and accepts input. A dialog
// that opens meanwhile is dismissed and reported as AlertDismissed so the
// caller can audit it. Timeouts and driver faults are captured as
// diagnostics and returned as terminal outcomes.
func (w *Waiter) WaitUntilClickable(ctx context.Context, sel models.Selector, timeout time.Duration) models.Outcome {
	const action = "wait_clickable"
	start := w.opts.Clock.Now()
	out := models.Outcome{Action: action, Selector: sel}
	driver := w.session.Driver()

	waitCtx, cancel := context.WithTimeout(ctx, timeout+callGrace)
	defer cancel()
	err := safeCall(waitCtx, func(ctx context.Context) error {
		return driver.WaitClickable(ctx, sel, timeout)
	})
	switch {
	case err == nil:
		out.Status = models.Succeeded

	case errors.Is(err, browser.ErrAlertPresent):
		dismissCtx, cancelDismiss := context.WithTimeout(ctx, w.opts.ActionTimeout)
		text, derr := safeDismiss(dismissCtx, driver)
		cancelDismiss()
		if derr != nil {
			logger.Error(ctx, "Unexpected alert while waiting for %s could not be dismissed: %v", sel, derr)
			w.fail(ctx, &out, models.DriverFault, derr)
			break
		}
		logger.Warn(ctx, "Dismissed unexpected alert while waiting for %s: %q", sel, text)
		out.Status = models.AlertDismissed
		out.Alert = text

	case browser.Classify(err) == models.DriverFault:
		logger.Error(ctx, "Driver error while waiting for %s to be clickable: %v", sel, err)
		w.fail(ctx, &out, models.DriverFault, err)

	default:
		logger.Warn(ctx, "%s not clickable after %s: %v", sel, timeout, err)
		w.fail(ctx, &out, models.NotClickable, err)
	}

	out.Elapsed = w.opts.Clock.Now().Sub(start)
	return out
}

func (w *Waiter) fail(ctx context.Context, out *models.Outcome, kind models.FailureKind, err error) {
	out.Status = models.FailedTerminal
	out.Kind = kind
	out.Err = err
	if w.diag != nil {
		out.Artifact = w.diag.Capture(ctx, out.Action, out.Selector, kind, err)
	}
}

func safeCall(ctx context.Context, fn func(context.Context) error) error {
	_, err := browser.SafeCall("driver call", func() (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func safeCount(ctx context.Context, d browser.Driver, sel models.Selector) (int, error) {
	return browser.SafeCall("element lookup", func() (int, error) {
		return d.FindElements(ctx, sel)
	})
}

func safeDismiss(ctx context.Context, d browser.Driver) (string, error) {
	return browser.SafeCall("alert dismissal", func() (string, error) {
		return d.DismissAlert(ctx)
	})
}
