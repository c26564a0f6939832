// Package player runs step files through the waiter and the executor.
package player

import (
	"context"
	"fmt"
	"time"

	"github.com/browserwing/domguard/executor"
	"github.com/browserwing/domguard/models"
	"github.com/browserwing/domguard/pkg/logger"
	"github.com/google/uuid"
)

// ExecutionStore persists finished runs. Implemented by storage.BoltDB.
type ExecutionStore interface {
	SaveScriptExecution(execution *models.ScriptExecution) error
}

// Player 按顺序执行脚本步骤
type Player struct {
	exec  *executor.Executor
	wait  *executor.Waiter
	opts  executor.Options
	store ExecutionStore

	successCount int
	failCount    int
}

// NewPlayer returns a Player. store may be nil.
func NewPlayer(exec *executor.Executor, wait *executor.Waiter, opts executor.Options, store ExecutionStore) *Player {
	if opts.Clock == nil {
		opts.Clock = executor.RealClock()
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = executor.OptionsFromConfig(nil).DefaultTimeout
	}
	return &Player{exec: exec, wait: wait, opts: opts, store: store}
}

func (p *Player) GetSuccessCount() int {
	return p.successCount
}

func (p *Player) GetFailCount() int {
	return p.failCount
}

func (p *Player) ResetStats() {
	p.successCount = 0
	p.failCount = 0
}

// Play runs every step of script. A failing step is recorded and the run
// continues unless the step is required. The execution record is saved to
// the store when one is configured.
func (p *Player) Play(ctx context.Context, script *models.Script) *models.ScriptExecution {
	clock := p.opts.Clock
	session := p.exec.Session()

	steps := script.Steps
	if script.URL != "" {
		start := models.ScriptStep{Action: models.StepNavigate, URL: script.URL, Required: true}
		steps = append([]models.ScriptStep{start}, steps...)
	}

	execution := &models.ScriptExecution{
		ID:         uuid.New().String(),
		SessionID:  session.ID(),
		ScriptName: script.Name,
		StartedAt:  clock.Now(),
	}

	logger.Info(ctx, "Start playing script: %s", script.Name)
	logger.Info(ctx, "Total %d operation steps", len(steps))
	p.ResetStats()

	for i, step := range steps {
		if ctx.Err() != nil {
			logger.Warn(ctx, "Script %s cancelled before step %d: %v", script.Name, i+1, ctx.Err())
			execution.Aborted = true
			execution.AbortStep = i
			break
		}

		logger.Info(ctx, "[%d/%d] Execute action: %s", i+1, len(steps), step.Action)
		result, ok := p.executeStep(ctx, i, step)
		execution.Steps = append(execution.Steps, result)

		if ok {
			p.successCount++
			continue
		}
		p.failCount++
		if step.Required {
			logger.Error(ctx, "Required step %d (%s) failed, stopping script: %s", i+1, step.Action, result.Error)
			execution.Aborted = true
			execution.AbortStep = i
			break
		}
		logger.Warn(ctx, "Action execution failed (continuing with subsequent steps): %s", result.Error)
	}

	execution.FinishedAt = clock.Now()
	execution.Succeeded = p.successCount
	execution.Failed = p.failCount
	logger.Info(ctx, "Script playback completed - Success: %d, Failed: %d, Total: %d", p.successCount, p.failCount, len(steps))

	if p.store != nil {
		if err := p.store.SaveScriptExecution(execution); err != nil {
			logger.Warn(ctx, "Failed to save execution record %s: %v", execution.ID, err)
		}
	}
	return execution
}

// executeStep runs one step and reports whether it counts as a success.
func (p *Player) executeStep(ctx context.Context, index int, step models.ScriptStep) (models.StepResult, bool) {
	start := p.opts.Clock.Now()
	result := models.StepResult{Index: index, Action: step.Action}
	ok := p.dispatch(ctx, step, &result)
	result.Elapsed = p.opts.Clock.Now().Sub(start)
	return result, ok
}

func (p *Player) dispatch(ctx context.Context, step models.ScriptStep, result *models.StepResult) bool {
	windows := p.exec.Session().Windows()

	switch step.Action {
	case models.StepNavigate:
		return p.check(result, p.exec.Navigate(ctx, step.URL))
	case models.StepFocusMain:
		return p.outcome(result, windows.FocusMain(ctx))
	case models.StepFocusLatest:
		return p.outcome(result, windows.FocusLatest(ctx))
	case models.StepSleep:
		d := step.Timeout(0)
		logger.Info(ctx, "Delay: %v", d)
		p.opts.Clock.Sleep(ctx, d)
		return p.check(result, ctx.Err())
	}

	sel, err := step.Selector()
	if err != nil {
		return p.check(result, err)
	}
	timeout := step.Timeout(p.opts.DefaultTimeout)

	var out models.Outcome
	switch step.Action {
	case models.StepWaitPresent:
		found := p.wait.WaitUntilPresent(ctx, sel, timeout)
		result.Found = &found
		if !found {
			result.Error = fmt.Sprintf("%s not present after %s", sel, timeout)
		}
		return found
	case models.StepWaitClickable:
		out = p.wait.WaitUntilClickable(ctx, sel, timeout)
	case models.StepClick:
		out = p.exec.Click(ctx, sel)
	case models.StepSendKeys:
		out = p.exec.SendKeys(ctx, sel, step.Text)
	case models.StepClear:
		out = p.exec.Clear(ctx, sel)
	default:
		return p.check(result, fmt.Errorf("unknown action %q", step.Action))
	}
	return p.outcome(result, out)
}

func (p *Player) outcome(result *models.StepResult, out models.Outcome) bool {
	result.Outcome = &out
	if out.Failed() {
		result.Error = out.String()
		if out.Err != nil {
			result.Error += ": " + out.Err.Error()
		}
		return false
	}
	return true
}

func (p *Player) check(result *models.StepResult, err error) bool {
	if err != nil {
		result.Error = err.Error()
		return false
	}
	return true
}

// Elapsed returns the wall time of a finished execution.
func Elapsed(e *models.ScriptExecution) time.Duration {
	return e.FinishedAt.Sub(e.StartedAt)
}
