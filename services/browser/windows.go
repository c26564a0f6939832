package browser

import (
	"context"
	"fmt"

	"github.com/browserwing/domguard/models"
	"github.com/browserwing/domguard/pkg/logger"
)

// WindowManager focuses and prunes the session's windows. The main window is
// never closed here. Like element actions, window operations report an
// Outcome instead of an error.
type WindowManager struct {
	session *Session
}

// FocusMain closes every window except the main one, then focuses main.
// Close failures are logged and skipped; only failing to focus main makes
// the outcome terminal.
func (w *WindowManager) FocusMain(ctx context.Context) models.Outcome {
	s := w.session
	handles, err := s.Handles(ctx)
	if err != nil {
		logger.Warn(ctx, "Listing windows failed, using last known set: %v", err)
	}

	closed := 0
	for _, h := range handles {
		if h == s.main {
			continue
		}
		if err := w.switchTo(ctx, h); err != nil {
			logger.Warn(ctx, "Error when switching to window %s before close: %v", h, err)
			continue
		}
		if _, err := SafeCall("window close", func() (struct{}, error) {
			return struct{}{}, s.driver.CloseWindow(ctx)
		}); err != nil {
			logger.Warn(ctx, "Error when closing window %s: %v", h, err)
			continue
		}
		closed++
	}

	if err := w.switchTo(ctx, s.main); err != nil {
		logger.Error(ctx, "Error when switching to main window %s: %v", s.main, err)
		return windowFailure("focus_main", fmt.Errorf("focus main window: %w", err))
	}

	if closed > 0 {
		logger.Info(ctx, "Closed %d extra window(s), focused main window", closed)
	}
	if _, err := s.Handles(ctx); err != nil {
		logger.Warn(ctx, "Refreshing window set failed: %v", err)
	}
	return models.Outcome{Action: "focus_main", Status: models.Succeeded}
}

// FocusLatest focuses the most recently opened window.
func (w *WindowManager) FocusLatest(ctx context.Context) models.Outcome {
	s := w.session
	handles, err := s.Handles(ctx)
	if err != nil {
		logger.Warn(ctx, "Listing windows failed, using last known set: %v", err)
	}
	if len(handles) == 0 {
		logger.Error(ctx, "No window left to focus")
		return windowFailure("focus_latest", fmt.Errorf("focus latest window: %w", ErrNoSuchWindow))
	}
	latest := handles[len(handles)-1]
	if err := w.switchTo(ctx, latest); err != nil {
		logger.Error(ctx, "Error when switching to latest window %s: %v", latest, err)
		return windowFailure("focus_latest", fmt.Errorf("focus latest window: %w", err))
	}
	logger.Debug(ctx, "Focused latest window %s (%d open)", latest, len(handles))
	return models.Outcome{Action: "focus_latest", Status: models.Succeeded}
}

// Handles returns the current window set in insertion order.
func (w *WindowManager) Handles(ctx context.Context) ([]string, error) {
	return w.session.Handles(ctx)
}

// Main returns the main window handle.
func (w *WindowManager) Main() string {
	return w.session.main
}

func (w *WindowManager) switchTo(ctx context.Context, handle string) error {
	_, err := SafeCall("window switch", func() (struct{}, error) {
		return struct{}{}, w.session.driver.SwitchWindow(ctx, handle)
	})
	return err
}

// windowFailure is terminal; a window that cannot be focused is never an
// element condition, so it classifies as a driver fault.
func windowFailure(action string, err error) models.Outcome {
	return models.Outcome{
		Action: action,
		Status: models.FailedTerminal,
		Kind:   models.DriverFault,
		Err:    err,
	}
}
