package player

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/browserwing/domguard/config"
	"github.com/browserwing/domguard/executor"
	"github.com/browserwing/domguard/models"
	"github.com/browserwing/domguard/services/browser"
	"github.com/browserwing/domguard/services/browser/browsertest"
	"github.com/browserwing/domguard/services/diagnostics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stepClock struct {
	now time.Time
}

func (c *stepClock) Now() time.Time { return c.now }

func (c *stepClock) Sleep(_ context.Context, d time.Duration) { c.now = c.now.Add(d) }

type memStore struct {
	saved []*models.ScriptExecution
	err   error
}

func (m *memStore) SaveScriptExecution(e *models.ScriptExecution) error {
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, e)
	return nil
}

func newPlayer(t *testing.T, d *browsertest.Driver, store ExecutionStore) (*Player, *stepClock) {
	t.Helper()
	s, err := browser.NewSession(context.Background(), d, nil)
	require.NoError(t, err)

	clock := &stepClock{now: time.Date(2024, 3, 9, 8, 0, 0, 0, time.UTC)}
	opts := executor.Options{
		PollInterval:      2 * time.Second,
		DefaultTimeout:    10 * time.Second,
		ActionTimeout:     5 * time.Second,
		RetryAfterRefresh: true,
		Clock:             clock,
	}
	diag := diagnostics.New(s, &config.DiagnosticsConfig{Dir: t.TempDir()}, nil).WithClock(clock.Now)
	return NewPlayer(executor.NewExecutor(s, diag, opts), executor.NewWaiter(s, diag, opts), opts, store), clock
}

func TestPlaySearchScript(t *testing.T) {
	d := browsertest.New()
	search := models.ByID("sb_form_q")
	submit := models.ByID("sb_form_go")
	d.Add(search).Add(submit)
	store := &memStore{}
	p, clock := newPlayer(t, d, store)

	script := &models.Script{
		Name: "search",
		URL:  "https://www.bing.com",
		Steps: []models.ScriptStep{
			{Action: models.StepWaitPresent, Strategy: "id", Value: "sb_form_q"},
			{Action: models.StepClear, Strategy: "id", Value: "sb_form_q"},
			{Action: models.StepSendKeys, Strategy: "id", Value: "sb_form_q", Text: "weather"},
			{Action: models.StepWaitClickable, Strategy: "id", Value: "sb_form_go", TimeoutMs: 3000},
			{Action: models.StepClick, Strategy: "id", Value: "sb_form_go"},
			{Action: models.StepSleep, TimeoutMs: 1500},
			{Action: models.StepFocusLatest},
			{Action: models.StepFocusMain},
		},
	}
	exec := p.Play(context.Background(), script)

	assert.False(t, exec.Aborted)
	assert.Equal(t, 9, exec.Succeeded)
	assert.Equal(t, 0, exec.Failed)
	require.Len(t, exec.Steps, 9)
	assert.Equal(t, models.StepNavigate, exec.Steps[0].Action)
	assert.True(t, *exec.Steps[1].Found)
	assert.Equal(t, models.Succeeded, exec.Steps[5].Outcome.Status)
	assert.Equal(t, 1500*time.Millisecond, exec.Steps[6].Elapsed)
	assert.Equal(t, 1500*time.Millisecond, Elapsed(exec))
	assert.Equal(t, clock.now, exec.FinishedAt)

	assert.Equal(t, "weather", d.Typed(search))
	url, _ := d.CurrentURL(context.Background())
	assert.Equal(t, "https://www.bing.com", url)

	require.Len(t, store.saved, 1)
	assert.Same(t, exec, store.saved[0])
	assert.Equal(t, "search", exec.ScriptName)
	assert.Equal(t, 9, p.GetSuccessCount())
}

func TestPlayContinuesAfterOptionalFailure(t *testing.T) {
	d := browsertest.New()
	d.Add(models.ByName("q"))
	p, _ := newPlayer(t, d, nil)

	exec := p.Play(context.Background(), &models.Script{
		Name: "optional",
		Steps: []models.ScriptStep{
			{Action: models.StepClick, Strategy: "class_name", Value: "cookie-banner"},
			{Action: models.StepSendKeys, Strategy: "name", Value: "q", Text: "hello"},
		},
	})

	assert.False(t, exec.Aborted)
	assert.Equal(t, 1, exec.Failed)
	assert.Equal(t, 1, exec.Succeeded)
	assert.Contains(t, exec.Steps[0].Error, "failed_terminal(not_found)")
	assert.Equal(t, models.NotFound, exec.Steps[0].Outcome.Kind)
	assert.Equal(t, "hello", d.Typed(models.ByName("q")))
}

func TestPlayStopsOnRequiredFailure(t *testing.T) {
	d := browsertest.New()
	store := &memStore{}
	p, _ := newPlayer(t, d, store)

	exec := p.Play(context.Background(), &models.Script{
		Name: "login",
		Steps: []models.ScriptStep{
			{Action: models.StepWaitPresent, Strategy: "id", Value: "id_l", TimeoutMs: 4000, Required: true},
			{Action: models.StepClick, Strategy: "id", Value: "id_l"},
		},
	})

	assert.True(t, exec.Aborted)
	assert.Equal(t, 0, exec.AbortStep)
	require.Len(t, exec.Steps, 1)
	assert.False(t, *exec.Steps[0].Found)
	assert.Equal(t, 4*time.Second, exec.Steps[0].Elapsed)
	assert.Equal(t, 0, d.Count("Click"))
	require.Len(t, store.saved, 1)
}

func TestPlayStopsWhenStartURLFails(t *testing.T) {
	d := browsertest.New().Fail("Navigate", errors.New("net::ERR_CONNECTION_REFUSED"))
	p, _ := newPlayer(t, d, nil)

	exec := p.Play(context.Background(), &models.Script{
		Name:  "offline",
		URL:   "http://127.0.0.1:1",
		Steps: []models.ScriptStep{{Action: models.StepClick, Strategy: "id", Value: "a"}},
	})

	assert.True(t, exec.Aborted)
	require.Len(t, exec.Steps, 1)
	assert.Contains(t, exec.Steps[0].Error, "ERR_CONNECTION_REFUSED")
}

func TestPlayRecordsDismissedAlert(t *testing.T) {
	d := browsertest.New()
	d.Add(models.ByID("ok")).OpenAlert("Are you sure?")
	p, _ := newPlayer(t, d, nil)

	exec := p.Play(context.Background(), &models.Script{
		Name:  "alert",
		Steps: []models.ScriptStep{{Action: models.StepWaitClickable, Strategy: "id", Value: "ok", Required: true}},
	})

	assert.False(t, exec.Aborted)
	assert.Equal(t, models.AlertDismissed, exec.Steps[0].Outcome.Status)
	assert.Equal(t, "Are you sure?", exec.Steps[0].Outcome.Alert)
}

func TestPlayBadStepsAndCancellation(t *testing.T) {
	d := browsertest.New()
	store := &memStore{err: errors.New("database not open")}
	p, _ := newPlayer(t, d, store)

	exec := p.Play(context.Background(), &models.Script{
		Name: "bad",
		Steps: []models.ScriptStep{
			{Action: models.StepClick, Strategy: "link text", Value: "Next"},
			{Action: "hover", Strategy: "id", Value: "a"},
		},
	})
	assert.Equal(t, 2, exec.Failed)
	assert.Contains(t, exec.Steps[1].Error, "unknown action")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	exec = p.Play(ctx, &models.Script{
		Name:  "cancelled",
		Steps: []models.ScriptStep{{Action: models.StepFocusMain}},
	})
	assert.True(t, exec.Aborted)
	assert.Empty(t, exec.Steps)
}
