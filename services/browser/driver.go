package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/browserwing/domguard/models"
)

// Errors a Driver reports for conditions the interaction layer recovers from.
// Anything else coming out of a Driver is treated as a driver fault.
var (
	ErrNoSuchElement   = errors.New("no such element")
	ErrNotInteractable = errors.New("element not interactable")
	ErrAlertPresent    = errors.New("unexpected alert present")
	ErrNoSuchWindow    = errors.New("no such window")
	ErrNoAlert         = errors.New("no alert open")
)

// Driver is the capability boundary between the interaction layer and one
// live browser. Element methods resolve the selector on the focused window
// and never wait for it to appear.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	Refresh(ctx context.Context) error

	// FindElements returns how many elements currently match sel.
	FindElements(ctx context.Context, sel models.Selector) (int, error)
	Click(ctx context.Context, sel models.Selector) error
	SendKeys(ctx context.Context, sel models.Selector, text string) error
	Clear(ctx context.Context, sel models.Selector) error
	// WaitClickable blocks until sel resolves to a visible, enabled element
	// or timeout elapses. It returns ErrAlertPresent as soon as a dialog opens.
	WaitClickable(ctx context.Context, sel models.Selector, timeout time.Duration) error
	// DismissAlert cancels the open dialog and returns its message.
	DismissAlert(ctx context.Context) (string, error)

	WindowHandles(ctx context.Context) ([]string, error)
	CurrentWindow(ctx context.Context) (string, error)
	SwitchWindow(ctx context.Context, handle string) error
	// CloseWindow closes the focused window. Nothing is focused afterwards.
	CloseWindow(ctx context.Context) error

	// Screenshot captures the focused window as PNG bytes.
	Screenshot(ctx context.Context) ([]byte, error)
	PageHTML(ctx context.Context) (string, error)

	Quit() error
}

// Classify maps a Driver error onto the failure taxonomy. An action that ran
// out of time was waiting on an element that exists but would not accept
// input, so deadlines count as NotInteractable.
func Classify(err error) models.FailureKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoSuchElement):
		return models.NotFound
	case errors.Is(err, ErrNotInteractable), errors.Is(err, context.DeadlineExceeded):
		return models.NotInteractable
	default:
		return models.DriverFault
	}
}

// SafeCall runs fn and turns a panic raised inside the driver into an error
// naming what was being done.
func SafeCall[T any](what string, fn func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			v, err = zero, fmt.Errorf("panic during %s: %v", what, r)
		}
	}()
	return fn()
}
