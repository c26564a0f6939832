// Package diagnostics captures a screenshot and a structured log record for
// every terminal failure of a wait or an action.
package diagnostics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/browserwing/domguard/config"
	"github.com/browserwing/domguard/models"
	"github.com/browserwing/domguard/pkg/logger"
	"github.com/browserwing/domguard/services/browser"
	"github.com/google/uuid"
	"github.com/h2non/filetype"
	"github.com/sirupsen/logrus"
)

// TimestampLayout prefixes every artifact file name.
const TimestampLayout = "20060102150405"

// maxCollisions bounds the -N suffix search for one timestamp and selector.
const maxCollisions = 1000

// DefaultCaptureTimeout bounds the driver calls made by one Capture.
const DefaultCaptureTimeout = 10 * time.Second

// RecordStore persists diagnostic records. Implemented by storage.BoltDB.
type RecordStore interface {
	AppendDiagnostic(rec *models.DiagnosticRecord) error
}

// Capturer writes diagnostic artifacts for one session.
type Capturer struct {
	session  *browser.Session
	dir      string
	snapshot bool
	store    RecordStore
	now      func() time.Time
	timeout  time.Duration
}

// New returns a Capturer writing into cfg.Dir. store may be nil.
func New(s *browser.Session, cfg *config.DiagnosticsConfig, store RecordStore) *Capturer {
	if cfg == nil {
		cfg = config.Default().Diagnostics
	}
	return &Capturer{
		session:  s,
		dir:      cfg.Dir,
		snapshot: cfg.PageSnapshot,
		store:    store,
		now:      time.Now,
		timeout:  DefaultCaptureTimeout,
	}
}

// WithClock replaces the time source used for artifact names.
func (c *Capturer) WithClock(now func() time.Time) *Capturer {
	c.now = now
	return c
}

// WithTimeout replaces the bound on the driver calls of one Capture.
func (c *Capturer) WithTimeout(d time.Duration) *Capturer {
	if d > 0 {
		c.timeout = d
	}
	return c
}

func (c *Capturer) Dir() string {
	return c.dir
}

// Capture logs the failure and writes the artifacts. It never fails: problems
// writing artifacts, including driver panics, are logged and the record is
// returned without the corresponding path. Driver calls are bounded by the
// capture timeout and still run when ctx is already cancelled.
func (c *Capturer) Capture(ctx context.Context, action string, sel models.Selector, kind models.FailureKind, cause error) *models.DiagnosticRecord {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	now := c.now()
	rec := &models.DiagnosticRecord{
		ID:        newRecordID(),
		SessionID: c.session.ID(),
		TraceID:   logger.GetTraceID(ctx),
		Action:    action,
		Selector:  sel,
		Kind:      kind,
		CreatedAt: now,
	}
	if cause != nil {
		rec.Message = cause.Error()
	}

	driver := c.session.Driver()
	if url, err := browser.SafeCall("page URL lookup", func() (string, error) {
		return driver.CurrentURL(ctx)
	}); err == nil {
		rec.PageURL = url
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		logger.Error(ctx, "Failed to create diagnostics directory %s: %v", c.dir, err)
	} else {
		base := now.Format(TimestampLayout) + "_" + SanitizeName(sel.Value)
		rec.ScreenshotPath = c.writeScreenshot(ctx, base)
		if c.snapshot {
			rec.SnapshotPath = c.writeSnapshot(ctx, rec.ScreenshotPath, base)
		}
	}

	logger.Record(ctx, logrus.ErrorLevel, logger.Fields{
		"diagnostic_id": rec.ID,
		"session_id":    rec.SessionID,
		"action":        action,
		"strategy":      string(sel.Strategy),
		"selector":      sel.Value,
		"kind":          string(kind),
		"page_url":      rec.PageURL,
		"screenshot":    rec.ScreenshotPath,
	}, "%s on %s failed: %s: %s", action, sel, kind, rec.Message)

	if c.store != nil {
		if err := c.store.AppendDiagnostic(rec); err != nil {
			logger.Warn(ctx, "Failed to store diagnostic record %s: %v", rec.ID, err)
		}
	}
	return rec
}

func (c *Capturer) writeScreenshot(ctx context.Context, base string) string {
	driver := c.session.Driver()
	data, err := browser.SafeCall("screenshot", func() ([]byte, error) {
		return driver.Screenshot(ctx)
	})
	if err != nil {
		logger.Error(ctx, "Failed to capture screenshot: %v", err)
		return ""
	}
	if kind, err := filetype.Match(data); err != nil || kind.Extension != "png" {
		logger.Warn(ctx, "Screenshot payload is not PNG (detected %q), writing it anyway", kind.Extension)
	}

	path, err := createExclusive(c.dir, base, ".png", data)
	if err != nil {
		logger.Error(ctx, "Failed to write screenshot: %v", err)
		return ""
	}
	logger.Info(ctx, "Screenshot saved to: %s", path)
	return path
}

// writeSnapshot stores the page as Markdown next to the screenshot.
func (c *Capturer) writeSnapshot(ctx context.Context, screenshot, base string) string {
	driver := c.session.Driver()
	html, err := browser.SafeCall("page HTML read", func() (string, error) {
		return driver.PageHTML(ctx)
	})
	if err != nil {
		logger.Warn(ctx, "Failed to read page HTML for snapshot: %v", err)
		return ""
	}
	converter := md.NewConverter("", true, nil)
	markdown, err := converter.ConvertString(html)
	if err != nil {
		logger.Warn(ctx, "Failed to convert page to markdown: %v", err)
		return ""
	}

	// keep the screenshot's collision suffix so the pair shares a name
	if screenshot != "" {
		base = strings.TrimSuffix(filepath.Base(screenshot), ".png")
	}
	path, err := createExclusive(c.dir, base, ".md", []byte(markdown))
	if err != nil {
		logger.Warn(ctx, "Failed to write page snapshot: %v", err)
		return ""
	}
	return path
}

// createExclusive writes data to dir/base+ext without ever replacing an
// existing file; a taken name gets a -N suffix before ext.
func createExclusive(dir, base, ext string, data []byte) (string, error) {
	for i := 0; i < maxCollisions; i++ {
		name := base + ext
		if i > 0 {
			name = fmt.Sprintf("%s-%d%s", base, i, ext)
		}
		path := filepath.Join(dir, name)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return "", err
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			return "", err
		}
		return path, f.Close()
	}
	return "", fmt.Errorf("%s%s: %d names already taken", base, ext, maxCollisions)
}

// SanitizeName makes a selector value usable as a file name component.
func SanitizeName(value string) string {
	var b strings.Builder
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := strings.Trim(b.String(), "._")
	if len(name) > 80 {
		name = name[:80]
	}
	if name == "" {
		return "element"
	}
	return name
}

// newRecordID returns a time-ordered ID so stored records sort by creation.
func newRecordID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
