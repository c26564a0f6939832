// Package browsertest provides an in-memory browser.Driver for tests.
package browsertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/browserwing/domguard/models"
	"github.com/browserwing/domguard/services/browser"
)

// PNG is a minimal PNG header; enough for content sniffing.
var PNG = []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0x0d, 0x49, 0x48, 0x44, 0x52}

// Driver is a scriptable fake. Elements, windows and dialogs are plain state;
// Fail injects errors per method name.
type Driver struct {
	mu sync.Mutex

	url      string
	html     string
	elements map[models.Selector]int
	blocked  map[models.Selector]bool // present but not interactable
	appear   map[models.Selector]int  // FindElements call that makes the element appear
	onReload map[models.Selector]bool // appears on the next refresh
	typed    map[models.Selector]string
	fail     map[string]error

	windows []string
	current string
	nextID  int
	alert   *string

	finds     int
	refreshes int
	calls     []string
	quit      bool

	Shot []byte
}

// New returns a fake with one open window, "w0".
func New() *Driver {
	return &Driver{
		url:      "about:blank",
		html:     "<html><body></body></html>",
		elements: map[models.Selector]int{},
		blocked:  map[models.Selector]bool{},
		appear:   map[models.Selector]int{},
		onReload: map[models.Selector]bool{},
		typed:    map[models.Selector]string{},
		fail:     map[string]error{},
		windows:  []string{"w0"},
		current:  "w0",
		nextID:   1,
		Shot:     PNG,
	}
}

var _ browser.Driver = (*Driver)(nil)

// Add makes sel resolve to one element.
func (d *Driver) Add(sel models.Selector) *Driver {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.elements[sel] = 1
	return d
}

func (d *Driver) Remove(sel models.Selector) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.elements, sel)
}

// Block keeps sel present but rejects input to it.
func (d *Driver) Block(sel models.Selector) *Driver {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.elements[sel] = 1
	d.blocked[sel] = true
	return d
}

// AppearAfter makes sel present from the nth FindElements call on (1-based).
func (d *Driver) AppearAfter(sel models.Selector, n int) *Driver {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.appear[sel] = n
	return d
}

// AppearOnRefresh makes sel present after the next Refresh.
func (d *Driver) AppearOnRefresh(sel models.Selector) *Driver {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onReload[sel] = true
	return d
}

// Fail makes method return err until cleared with a nil err.
func (d *Driver) Fail(method string, err error) *Driver {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.fail, method)
	} else {
		d.fail[method] = err
	}
	return d
}

// OpenAlert opens a JavaScript dialog with text.
func (d *Driver) OpenAlert(text string) *Driver {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.alert = &text
	return d
}

func (d *Driver) AlertOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.alert != nil
}

// SetHTML sets the page source returned by PageHTML.
func (d *Driver) SetHTML(html string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.html = html
}

// OpenWindow simulates the page opening a new tab and returns its handle.
// Focus does not move.
func (d *Driver) OpenWindow() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := fmt.Sprintf("w%d", d.nextID)
	d.nextID++
	d.windows = append(d.windows, h)
	return h
}

func (d *Driver) Refreshes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.refreshes
}

func (d *Driver) Finds() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.finds
}

// Typed returns everything sent to sel since its last Clear.
func (d *Driver) Typed(sel models.Selector) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.typed[sel]
}

// Calls returns the method log, e.g. "Click id=a".
func (d *Driver) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// Count returns how many times method was called.
func (d *Driver) Count(method string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.calls {
		if c == method || len(c) > len(method) && c[:len(method)+1] == method+" " {
			n++
		}
	}
	return n
}

func (d *Driver) Current() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

func (d *Driver) Quitted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.quit
}

// enter records the call and returns the injected failure, if any. Caller
// holds d.mu.
func (d *Driver) enter(method string, arg any) error {
	if arg != nil {
		d.calls = append(d.calls, fmt.Sprintf("%s %v", method, arg))
	} else {
		d.calls = append(d.calls, method)
	}
	return d.fail[method]
}

func (d *Driver) present(sel models.Selector) bool {
	if n, ok := d.appear[sel]; ok && d.finds >= n {
		d.elements[sel] = 1
		delete(d.appear, sel)
	}
	return d.elements[sel] > 0
}

// usable reports why sel cannot take input. Caller holds d.mu.
func (d *Driver) usable(sel models.Selector) error {
	if d.alert != nil {
		return browser.ErrAlertPresent
	}
	if d.current == "" {
		return browser.ErrNoSuchWindow
	}
	if !d.present(sel) {
		return fmt.Errorf("%w: %s", browser.ErrNoSuchElement, sel)
	}
	if d.blocked[sel] {
		return fmt.Errorf("%w: %s", browser.ErrNotInteractable, sel)
	}
	return nil
}

func (d *Driver) Navigate(_ context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("Navigate", url); err != nil {
		return err
	}
	d.url = url
	return nil
}

func (d *Driver) CurrentURL(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail["CurrentURL"]; err != nil {
		return "", err
	}
	return d.url, nil
}

func (d *Driver) Refresh(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("Refresh", nil); err != nil {
		return err
	}
	d.refreshes++
	for sel := range d.onReload {
		d.elements[sel] = 1
		delete(d.onReload, sel)
	}
	return nil
}

func (d *Driver) FindElements(_ context.Context, sel models.Selector) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.finds++
	if err := d.fail["FindElements"]; err != nil {
		return 0, err
	}
	if !d.present(sel) {
		return 0, nil
	}
	return d.elements[sel], nil
}

func (d *Driver) Click(_ context.Context, sel models.Selector) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("Click", sel); err != nil {
		return err
	}
	return d.usable(sel)
}

func (d *Driver) SendKeys(_ context.Context, sel models.Selector, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("SendKeys", sel); err != nil {
		return err
	}
	if err := d.usable(sel); err != nil {
		return err
	}
	d.typed[sel] += text
	return nil
}

func (d *Driver) Clear(_ context.Context, sel models.Selector) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("Clear", sel); err != nil {
		return err
	}
	if err := d.usable(sel); err != nil {
		return err
	}
	delete(d.typed, sel)
	return nil
}

// WaitClickable answers immediately: a missing or blocked element reports a
// deadline as if timeout had elapsed.
func (d *Driver) WaitClickable(_ context.Context, sel models.Selector, timeout time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("WaitClickable", sel); err != nil {
		return err
	}
	err := d.usable(sel)
	switch {
	case err == nil, err == browser.ErrAlertPresent, err == browser.ErrNoSuchWindow:
		return err
	}
	return fmt.Errorf("%w: waited %s: %v", context.DeadlineExceeded, timeout, err)
}

func (d *Driver) DismissAlert(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("DismissAlert", nil); err != nil {
		return "", err
	}
	if d.alert == nil {
		return "", browser.ErrNoAlert
	}
	text := *d.alert
	d.alert = nil
	return text, nil
}

func (d *Driver) WindowHandles(context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail["WindowHandles"]; err != nil {
		return nil, err
	}
	return append([]string(nil), d.windows...), nil
}

func (d *Driver) CurrentWindow(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail["CurrentWindow"]; err != nil {
		return "", err
	}
	if d.current == "" {
		return "", browser.ErrNoSuchWindow
	}
	return d.current, nil
}

func (d *Driver) SwitchWindow(_ context.Context, handle string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("SwitchWindow", handle); err != nil {
		return err
	}
	for _, h := range d.windows {
		if h == handle {
			d.current = handle
			return nil
		}
	}
	return fmt.Errorf("%w: %s", browser.ErrNoSuchWindow, handle)
}

func (d *Driver) CloseWindow(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("CloseWindow", d.current); err != nil {
		return err
	}
	for i, h := range d.windows {
		if h == d.current {
			d.windows = append(d.windows[:i], d.windows[i+1:]...)
			d.current = ""
			return nil
		}
	}
	return browser.ErrNoSuchWindow
}

func (d *Driver) Screenshot(context.Context) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("Screenshot", nil); err != nil {
		return nil, err
	}
	return d.Shot, nil
}

func (d *Driver) PageHTML(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("PageHTML", nil); err != nil {
		return "", err
	}
	return d.html, nil
}

func (d *Driver) Quit() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.quit = true
	return d.fail["Quit"]
}
