package browser

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/browserwing/domguard/config"
	"github.com/browserwing/domguard/models"
	"github.com/browserwing/domguard/pkg/logger"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/pkg/errors"
)

// clickablePoll is how often WaitClickable re-evaluates the element.
const clickablePoll = 100 * time.Millisecond

// RodDriver drives Chromium over CDP with go-rod.
type RodDriver struct {
	browser  *rod.Browser
	launcher *launcher.Launcher // nil in remote mode

	mu      sync.Mutex
	active  *rod.Page
	watched map[proto.TargetTargetID]bool
	dialogs map[proto.TargetTargetID]*proto.PageJavascriptDialogOpening
}

// OpenRodDriver launches a local browser, or connects to cfg.ControlURL, and
// focuses its first page.
func OpenRodDriver(ctx context.Context, cfg *config.BrowserConfig) (*RodDriver, error) {
	d := &RodDriver{
		watched: make(map[proto.TargetTargetID]bool),
		dialogs: make(map[proto.TargetTargetID]*proto.PageJavascriptDialogOpening),
	}

	var err error
	if cfg.ControlURL != "" {
		logger.Info(ctx, "Using remote Chrome browser, control URL: %s", cfg.ControlURL)
		d.browser, err = connectWithRetry(ctx, cfg.ControlURL)
		if err != nil {
			return nil, &SessionInitError{Op: "connect remote browser", Err: err}
		}
	} else {
		l, err := newLauncher(ctx, cfg)
		if err != nil {
			return nil, &SessionInitError{Op: "locate browser binary", Err: err}
		}
		url, err := l.Launch()
		if err != nil {
			logger.Error(ctx, "Failed to start browser: %v", err)
			return nil, &SessionInitError{Op: "start browser", Err: err}
		}
		logger.Info(ctx, "Browser control URL: %s", url)
		d.launcher = l
		d.browser = rod.New().ControlURL(url)
		if err := d.browser.Connect(); err != nil {
			l.Kill()
			return nil, &SessionInitError{Op: "connect browser", Err: err}
		}
	}

	if version, err := d.browser.Version(); err == nil {
		logger.Info(ctx, "Browser product: %s", version.Product)
	}

	page, err := d.firstPage(cfg)
	if err != nil {
		_ = d.Quit()
		return nil, &SessionInitError{Op: "open first page", Err: err}
	}
	if cfg.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: cfg.UserAgent}); err != nil {
			logger.Warn(ctx, "Failed to override user agent: %v", err)
		}
	}
	d.focus(page)
	return d, nil
}

func connectWithRetry(ctx context.Context, controlURL string) (*rod.Browser, error) {
	var browser *rod.Browser
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 30 * time.Second

	operation := func() error {
		candidate := rod.New().ControlURL(controlURL)
		if err := candidate.Connect(); err != nil {
			logger.Warn(ctx, "Connecting to remote browser failed, retrying: %v", err)
			return err
		}
		browser = candidate
		return nil
	}
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return browser, nil
}

func newLauncher(ctx context.Context, cfg *config.BrowserConfig) (*launcher.Launcher, error) {
	bin := cfg.BinPath
	if bin == "" {
		found, ok := launcher.LookPath()
		if !ok {
			return nil, errors.New("no Chrome/Chromium binary configured or found on PATH")
		}
		bin = found
	}
	if _, err := os.Stat(bin); err != nil {
		return nil, errors.Wrapf(err, "browser binary %s", bin)
	}

	headless, reason := headlessMode(cfg, os.Getenv, runtime.GOOS)
	logger.Info(ctx, "Browser binary: %s, headless: %v (%s)", bin, headless, reason)

	l := launcher.New().
		Bin(bin).
		Headless(headless).
		Devtools(false).
		Leakless(false)

	if cfg.UserAgent != "" {
		l = l.Set(flags.Flag("user-agent"), cfg.UserAgent)
	}

	for _, arg := range cfg.LaunchArgs {
		arg = strings.TrimPrefix(arg, "--")
		if name, value, ok := strings.Cut(arg, "="); ok {
			l = l.Set(flags.Flag(name), value)
		} else {
			l = l.Set(flags.Flag(arg))
		}
	}

	if len(cfg.Extensions) > 0 {
		paths := strings.Join(cfg.Extensions, ",")
		l = l.Delete(flags.Flag("disable-extensions")).
			Set(flags.Flag("load-extension"), paths).
			Set(flags.Flag("disable-extensions-except"), paths)
		logger.Info(ctx, "Loading %d extension(s)", len(cfg.Extensions))
	}

	if cfg.UserDataDir != "" {
		if err := os.MkdirAll(cfg.UserDataDir, 0o755); err != nil {
			logger.Warn(ctx, "Failed to create user data directory, not using it: %v", err)
		} else {
			l = l.UserDataDir(cfg.UserDataDir)
		}
	}

	if len(cfg.Preferences) > 0 {
		pref, err := preferencesJSON(cfg.Preferences)
		if err != nil {
			return nil, errors.Wrap(err, "encode preferences")
		}
		l = l.Preferences(pref)
	}
	return l, nil
}

func (d *RodDriver) firstPage(cfg *config.BrowserConfig) (*rod.Page, error) {
	pages, err := d.browser.Pages()
	if err != nil {
		return nil, err
	}
	if len(pages) > 0 {
		page := pages.First()
		if cfg.Stealth {
			if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
				return nil, err
			}
		}
		return page, nil
	}
	if cfg.Stealth {
		return stealth.Page(d.browser)
	}
	return d.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
}

// focus makes page the active one and starts tracking its dialogs.
func (d *RodDriver) focus(page *rod.Page) {
	d.mu.Lock()
	d.active = page
	watch := !d.watched[page.TargetID]
	d.watched[page.TargetID] = true
	d.mu.Unlock()

	if watch {
		id := page.TargetID
		go page.EachEvent(func(e *proto.PageJavascriptDialogOpening) {
			d.mu.Lock()
			d.dialogs[id] = e
			d.mu.Unlock()
		}, func(e *proto.PageJavascriptDialogClosed) {
			d.mu.Lock()
			delete(d.dialogs, id)
			d.mu.Unlock()
		})()
	}
}

func (d *RodDriver) activePage(ctx context.Context) (*rod.Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active == nil {
		return nil, ErrNoSuchWindow
	}
	return d.active.Context(ctx), nil
}

func (d *RodDriver) openDialog() *proto.PageJavascriptDialogOpening {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active == nil {
		return nil
	}
	return d.dialogs[d.active.TargetID]
}

func (d *RodDriver) Navigate(ctx context.Context, url string) error {
	page, err := d.activePage(ctx)
	if err != nil {
		return err
	}
	if err := page.Navigate(url); err != nil {
		return err
	}
	return page.WaitLoad()
}

func (d *RodDriver) CurrentURL(ctx context.Context) (string, error) {
	page, err := d.activePage(ctx)
	if err != nil {
		return "", err
	}
	info, err := page.Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (d *RodDriver) Refresh(ctx context.Context) error {
	page, err := d.activePage(ctx)
	if err != nil {
		return err
	}
	if err := page.Reload(); err != nil {
		return err
	}
	return page.WaitLoad()
}

func (d *RodDriver) FindElements(ctx context.Context, sel models.Selector) (int, error) {
	page, err := d.activePage(ctx)
	if err != nil {
		return 0, err
	}
	var elems rod.Elements
	if sel.IsXPath() {
		elems, err = page.ElementsX(sel.Value)
	} else {
		elems, err = page.Elements(sel.CSS())
	}
	if err != nil {
		return 0, mapRodError(err)
	}
	return len(elems), nil
}

// element resolves sel without waiting. The returned element uses the
// default sleeper so follow-up actions are bounded by ctx only.
func (d *RodDriver) element(ctx context.Context, sel models.Selector) (*rod.Element, error) {
	page, err := d.activePage(ctx)
	if err != nil {
		return nil, err
	}
	page = page.Sleeper(rod.NotFoundSleeper)
	var el *rod.Element
	if sel.IsXPath() {
		el, err = page.ElementX(sel.Value)
	} else {
		el, err = page.Element(sel.CSS())
	}
	if err != nil {
		return nil, mapRodError(err)
	}
	return el.Sleeper(rod.DefaultSleeper), nil
}

// ready reports nil when el can take pointer and keyboard input right now.
func ready(el *rod.Element) error {
	if _, err := el.Interactable(); err != nil {
		return mapRodError(err)
	}
	disabled, err := el.Disabled()
	if err != nil {
		return mapRodError(err)
	}
	if disabled {
		return fmt.Errorf("%w: element is disabled", ErrNotInteractable)
	}
	return nil
}

func (d *RodDriver) Click(ctx context.Context, sel models.Selector) error {
	el, err := d.element(ctx, sel)
	if err != nil {
		return err
	}
	if err := ready(el); err != nil {
		return err
	}
	return mapRodError(el.Click(proto.InputMouseButtonLeft, 1))
}

func (d *RodDriver) SendKeys(ctx context.Context, sel models.Selector, text string) error {
	el, err := d.element(ctx, sel)
	if err != nil {
		return err
	}
	if err := ready(el); err != nil {
		return err
	}
	return mapRodError(el.Input(text))
}

func (d *RodDriver) Clear(ctx context.Context, sel models.Selector) error {
	el, err := d.element(ctx, sel)
	if err != nil {
		return err
	}
	if err := el.Focus(); err != nil {
		return mapRodError(err)
	}
	if err := el.SelectAllText(); err != nil {
		return mapRodError(err)
	}
	page, err := d.activePage(ctx)
	if err != nil {
		return err
	}
	return mapRodError(page.Keyboard.Press(input.Backspace))
}

func (d *RodDriver) WaitClickable(ctx context.Context, sel models.Selector, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(clickablePoll)
	defer ticker.Stop()

	var last error
	for {
		if d.openDialog() != nil {
			return ErrAlertPresent
		}
		el, err := d.element(ctx, sel)
		if err == nil {
			err = ready(el)
		}
		if err == nil {
			return nil
		}
		// a dialog blocks CDP evaluation, so check again before judging err
		if d.openDialog() != nil {
			return ErrAlertPresent
		}
		if Classify(err) == models.DriverFault && ctx.Err() == nil {
			return err
		}
		last = err

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: waited %s: %v", context.DeadlineExceeded, timeout, last)
		case <-ticker.C:
		}
	}
}

func (d *RodDriver) DismissAlert(ctx context.Context) (string, error) {
	page, err := d.activePage(ctx)
	if err != nil {
		return "", err
	}
	dialog := d.openDialog()
	if dialog == nil {
		return "", ErrNoAlert
	}
	if err := (proto.PageHandleJavaScriptDialog{Accept: false}).Call(page); err != nil {
		return dialog.Message, err
	}
	d.mu.Lock()
	delete(d.dialogs, page.TargetID)
	d.mu.Unlock()
	return dialog.Message, nil
}

func (d *RodDriver) WindowHandles(ctx context.Context) ([]string, error) {
	pages, err := d.browser.Context(ctx).Pages()
	if err != nil {
		return nil, err
	}
	handles := make([]string, 0, len(pages))
	for _, p := range pages {
		handles = append(handles, string(p.TargetID))
	}
	return handles, nil
}

func (d *RodDriver) CurrentWindow(ctx context.Context) (string, error) {
	page, err := d.activePage(ctx)
	if err != nil {
		return "", err
	}
	return string(page.TargetID), nil
}

func (d *RodDriver) SwitchWindow(ctx context.Context, handle string) error {
	page, err := d.browser.Context(ctx).PageFromTarget(proto.TargetTargetID(handle))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNoSuchWindow, handle, err)
	}
	if _, err := page.Activate(); err != nil {
		return err
	}
	d.focus(page)
	return nil
}

func (d *RodDriver) CloseWindow(ctx context.Context) error {
	page, err := d.activePage(ctx)
	if err != nil {
		return err
	}
	if err := page.Close(); err != nil {
		return err
	}
	d.mu.Lock()
	d.active = nil
	delete(d.dialogs, page.TargetID)
	delete(d.watched, page.TargetID)
	d.mu.Unlock()
	return nil
}

func (d *RodDriver) Screenshot(ctx context.Context) ([]byte, error) {
	page, err := d.activePage(ctx)
	if err != nil {
		return nil, err
	}
	return page.Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

func (d *RodDriver) PageHTML(ctx context.Context) (string, error) {
	page, err := d.activePage(ctx)
	if err != nil {
		return "", err
	}
	return page.HTML()
}

// Quit closes the browser connection and, for launched browsers, the
// process. The user data directory is left in place.
func (d *RodDriver) Quit() error {
	var err error
	if d.browser != nil {
		err = d.browser.Close()
	}
	if d.launcher != nil {
		d.launcher.Kill()
	}
	return err
}

// mapRodError translates rod's typed element errors into the driver sentinels.
func mapRodError(err error) error {
	if err == nil {
		return nil
	}
	var (
		notFound     *rod.ElementNotFoundError
		objNotFound  *rod.ObjectNotFoundError
		notInteract  *rod.NotInteractableError
		covered      *rod.CoveredError
		invisible    *rod.InvisibleShapeError
		noPointerEvt *rod.NoPointerEventsError
	)
	switch {
	case errors.As(err, &notFound), errors.As(err, &objNotFound):
		return fmt.Errorf("%w: %v", ErrNoSuchElement, err)
	case errors.As(err, &notInteract), errors.As(err, &covered),
		errors.As(err, &invisible), errors.As(err, &noPointerEvt):
		return fmt.Errorf("%w: %v", ErrNotInteractable, err)
	}
	return err
}
