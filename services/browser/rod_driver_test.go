package browser

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/browserwing/domguard/config"
	"github.com/browserwing/domguard/models"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const formPage = `<html><body>
<input id="visible" name="q">
<input id="hidden" style="display:none">
<input id="off" disabled>
</body></html>`

// openTestDriver launches a headless local browser, or skips when none is
// installed.
func openTestDriver(t *testing.T) *RodDriver {
	t.Helper()
	if testing.Short() {
		t.Skip("launches a browser")
	}
	bin, ok := launcher.LookPath()
	if !ok {
		t.Skip("no Chrome/Chromium binary found")
	}
	headless := true
	d, err := OpenRodDriver(context.Background(), &config.BrowserConfig{
		BinPath:    bin,
		Headless:   &headless,
		LaunchArgs: []string{"no-sandbox"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { d.Quit() })
	return d
}

func TestRodDriverSendKeysReadiness(t *testing.T) {
	d := openTestDriver(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	require.NoError(t, d.Navigate(ctx, "data:text/html,"+url.PathEscape(formPage)))

	require.NoError(t, d.SendKeys(ctx, models.ByID("visible"), "weather"))

	start := time.Now()
	err := d.SendKeys(ctx, models.ByID("hidden"), "x")
	assert.ErrorIs(t, err, ErrNotInteractable)
	assert.Less(t, time.Since(start), 5*time.Second)

	assert.ErrorIs(t, d.SendKeys(ctx, models.ByID("off"), "x"), ErrNotInteractable)
	assert.ErrorIs(t, d.SendKeys(ctx, models.ByID("absent"), "x"), ErrNoSuchElement)
}
