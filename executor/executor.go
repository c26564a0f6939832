package executor

import (
	"context"

	"github.com/browserwing/domguard/models"
	"github.com/browserwing/domguard/pkg/logger"
	"github.com/browserwing/domguard/services/browser"
	"github.com/browserwing/domguard/services/diagnostics"
	"github.com/pkg/errors"
)

// Executor performs single actions on elements and absorbs their failures:
// every call returns an Outcome, never an error.
type Executor struct {
	session *browser.Session
	diag    *diagnostics.Capturer
	opts    Options
}

func NewExecutor(s *browser.Session, diag *diagnostics.Capturer, opts Options) *Executor {
	return &Executor{session: s, diag: diag, opts: opts.withDefaults()}
}

// Session returns the session the executor acts on.
func (e *Executor) Session() *browser.Session {
	return e.session
}

func (e *Executor) Click(ctx context.Context, sel models.Selector) models.Outcome {
	return e.run(ctx, "click", sel, func(ctx context.Context, d browser.Driver) error {
		return d.Click(ctx, sel)
	})
}

func (e *Executor) SendKeys(ctx context.Context, sel models.Selector, text string) models.Outcome {
	return e.run(ctx, "send_keys", sel, func(ctx context.Context, d browser.Driver) error {
		return d.SendKeys(ctx, sel, text)
	})
}

func (e *Executor) Clear(ctx context.Context, sel models.Selector) models.Outcome {
	return e.run(ctx, "clear", sel, func(ctx context.Context, d browser.Driver) error {
		return d.Clear(ctx, sel)
	})
}

// Navigate loads url in the focused window. Unlike element actions its error
// is returned: there is no element to diagnose.
func (e *Executor) Navigate(ctx context.Context, url string) error {
	logger.Info(ctx, "Navigating to: %s", url)
	err := safeCall(ctx, func(ctx context.Context) error {
		return e.session.Driver().Navigate(ctx, url)
	})
	if err != nil {
		return errors.Wrapf(err, "navigate to %s", url)
	}
	return nil
}

type actionFunc func(ctx context.Context, d browser.Driver) error

// run applies the failure policy shared by every action:
//
//	NotInteractable  diagnose, no retry
//	NotFound         diagnose, refresh, retry once when enabled
//	DriverFault      diagnose, no retry
func (e *Executor) run(ctx context.Context, action string, sel models.Selector, do actionFunc) (out models.Outcome) {
	start := e.opts.Clock.Now()
	out = models.Outcome{Action: action, Selector: sel}
	defer func() {
		out.Elapsed = e.opts.Clock.Now().Sub(start)
	}()

	err := e.attempt(ctx, do)
	if err == nil {
		out.Status = models.Succeeded
		logger.Debug(ctx, "%s on %s succeeded", action, sel)
		return out
	}

	kind := browser.Classify(err)
	out.Status = models.FailedTerminal
	out.Kind = kind
	out.Err = err

	switch kind {
	case models.NotInteractable:
		logger.Warn(ctx, "%s on %s: element not visible or not interactable: %v", action, sel, err)
	case models.NotFound:
		logger.Warn(ctx, "%s on %s: no such element: %v", action, sel, err)
	default:
		logger.Error(ctx, "%s on %s: driver error: %v", action, sel, err)
	}
	if e.diag != nil {
		out.Artifact = e.diag.Capture(ctx, action, sel, kind, err)
	}

	if kind != models.NotFound {
		return out
	}

	if rerr := e.refresh(ctx); rerr != nil {
		logger.Error(ctx, "Refresh after missing %s failed: %v", sel, rerr)
		return out
	}
	if !e.opts.RetryAfterRefresh {
		return out
	}

	// the retry reports its own kind; the diagnostic already taken stands
	if err := e.attempt(ctx, do); err != nil {
		out.Kind = browser.Classify(err)
		out.Err = err
		if out.Kind == models.DriverFault {
			logger.Error(ctx, "%s on %s: driver error on retry after refresh: %v", action, sel, err)
		} else {
			logger.Warn(ctx, "%s on %s still failing after refresh (%s): %v", action, sel, out.Kind, err)
		}
		return out
	}
	logger.Info(ctx, "%s on %s recovered after refresh", action, sel)
	out.Status = models.RecoveredAfterRefresh
	out.Kind = ""
	out.Err = nil
	return out
}

// refresh reloads the focused window bounded by the action timeout.
func (e *Executor) refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, e.opts.ActionTimeout)
	defer cancel()
	return safeCall(ctx, e.session.Driver().Refresh)
}

// attempt runs one action bounded by the action timeout.
func (e *Executor) attempt(ctx context.Context, do actionFunc) error {
	ctx, cancel := context.WithTimeout(ctx, e.opts.ActionTimeout)
	defer cancel()
	d := e.session.Driver()
	return safeCall(ctx, func(ctx context.Context) error {
		return do(ctx, d)
	})
}
