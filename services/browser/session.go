package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/browserwing/domguard/config"
	"github.com/browserwing/domguard/pkg/logger"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// SessionInitError is the only error that crosses the interaction layer as a
// hard failure: without a session there is nothing to automate.
type SessionInitError struct {
	Op  string
	Err error
}

func (e *SessionInitError) Error() string {
	return fmt.Sprintf("session init: %s: %v", e.Op, e.Err)
}

func (e *SessionInitError) Unwrap() error {
	return e.Err
}

// Session is one live browser. It owns the driver and the window set; every
// other component reaches the browser through it.
type Session struct {
	id        string
	driver    Driver
	config    *config.BrowserConfig
	startTime time.Time

	// handles is the window set in first-observed order; main is handles[0]
	// for the whole life of the session.
	handles []string
	main    string
}

// Launch starts (or connects to) Chromium as described by cfg and wraps it in
// a Session.
func Launch(ctx context.Context, cfg *config.BrowserConfig) (*Session, error) {
	if cfg == nil {
		cfg = config.Default().Browser
	}
	d, err := OpenRodDriver(ctx, cfg)
	if err != nil {
		var initErr *SessionInitError
		if errors.As(err, &initErr) {
			return nil, initErr
		}
		return nil, &SessionInitError{Op: "start driver", Err: err}
	}
	s, err := NewSession(ctx, d, cfg)
	if err != nil {
		_ = d.Quit()
		return nil, err
	}
	return s, nil
}

// NewSession wraps an already started driver and records the main window.
func NewSession(ctx context.Context, d Driver, cfg *config.BrowserConfig) (*Session, error) {
	if d == nil {
		return nil, &SessionInitError{Op: "attach driver", Err: errors.New("nil driver")}
	}
	main, err := d.CurrentWindow(ctx)
	if err != nil {
		return nil, &SessionInitError{Op: "record main window", Err: err}
	}
	handles, err := d.WindowHandles(ctx)
	if err != nil {
		return nil, &SessionInitError{Op: "list windows", Err: err}
	}

	s := &Session{
		id:        uuid.New().String(),
		driver:    d,
		config:    cfg,
		startTime: time.Now(),
		handles:   []string{main},
		main:      main,
	}
	s.merge(handles)

	logger.Info(ctx, "Session %s started, main window %s, %d window(s) open", s.id, main, len(s.handles))
	return s, nil
}

func (s *Session) ID() string {
	return s.id
}

// Driver exposes the underlying driver to the executor and diagnostics.
func (s *Session) Driver() Driver {
	return s.driver
}

func (s *Session) Config() *config.BrowserConfig {
	return s.config
}

// Main returns the handle of the first window observed for this session.
func (s *Session) Main() string {
	return s.main
}

func (s *Session) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// Handles reconciles the window set with the driver and returns it in
// insertion order. If the driver cannot be queried the last known set is
// returned together with the error.
func (s *Session) Handles(ctx context.Context) ([]string, error) {
	live, err := s.driver.WindowHandles(ctx)
	if err != nil {
		return s.snapshot(), errors.Wrap(err, "list windows")
	}
	s.merge(live)
	return s.snapshot(), nil
}

// merge drops handles that are gone and appends new ones, keeping the order
// in which handles were first observed. The main handle is kept even when
// the driver no longer reports it.
func (s *Session) merge(live []string) {
	alive := make(map[string]bool, len(live))
	for _, h := range live {
		alive[h] = true
	}

	known := make(map[string]bool, len(s.handles))
	next := make([]string, 0, len(live)+1)
	for _, h := range s.handles {
		if h == s.main || alive[h] {
			next = append(next, h)
			known[h] = true
		}
	}
	for _, h := range live {
		if !known[h] {
			next = append(next, h)
			known[h] = true
		}
	}
	s.handles = next
}

func (s *Session) snapshot() []string {
	out := make([]string, len(s.handles))
	copy(out, s.handles)
	return out
}

// Windows returns the window manager bound to this session.
func (s *Session) Windows() *WindowManager {
	return &WindowManager{session: s}
}

// Close tears the driver down. The session is unusable afterwards.
func (s *Session) Close() error {
	ctx := context.Background()
	logger.Info(ctx, "Closing session %s after %s", s.id, s.Uptime().Round(time.Second))
	if err := s.driver.Quit(); err != nil {
		return errors.Wrapf(err, "close session %s", s.id)
	}
	return nil
}
