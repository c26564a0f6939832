package models

import (
	"encoding/json"
	"time"
)

// StepAction names one step type understood by the player.
type StepAction string

const (
	StepNavigate      StepAction = "navigate"
	StepWaitPresent   StepAction = "wait_present"
	StepWaitClickable StepAction = "wait_clickable"
	StepClick         StepAction = "click"
	StepSendKeys      StepAction = "send_keys"
	StepClear         StepAction = "clear"
	StepFocusMain     StepAction = "focus_main"
	StepFocusLatest   StepAction = "focus_latest"
	StepSleep         StepAction = "sleep"
)

// ScriptStep is one entry of a step file.
type ScriptStep struct {
	Action    StepAction `json:"action" toml:"action"`
	Strategy  string     `json:"strategy,omitempty" toml:"strategy,omitempty"` // id, class_name, css_path, name, xpath
	Value     string     `json:"value,omitempty" toml:"value,omitempty"`       // selector value
	Text      string     `json:"text,omitempty" toml:"text,omitempty"`         // send_keys payload
	URL       string     `json:"url,omitempty" toml:"url,omitempty"`
	TimeoutMs int        `json:"timeout_ms,omitempty" toml:"timeout_ms,omitempty"` // waits and sleep
	Required  bool       `json:"required,omitempty" toml:"required,omitempty"`     // stop the run when this step fails
	Remark    string     `json:"remark,omitempty" toml:"remark,omitempty"`
}

// Selector builds the step's selector.
func (s ScriptStep) Selector() (Selector, error) {
	return NewSelector(s.Strategy, s.Value)
}

// Timeout returns the step timeout, or def when the step does not set one.
func (s ScriptStep) Timeout(def time.Duration) time.Duration {
	if s.TimeoutMs <= 0 {
		return def
	}
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// Script is an ordered list of steps, optionally starting at URL.
type Script struct {
	Name  string       `json:"name" toml:"name"`
	URL   string       `json:"url,omitempty" toml:"url,omitempty"`
	Steps []ScriptStep `json:"steps" toml:"steps"`
}

// StepResult records what happened to one step.
type StepResult struct {
	Index   int           `json:"index"`
	Action  StepAction    `json:"action"`
	Outcome *Outcome      `json:"outcome,omitempty"`
	Found   *bool         `json:"found,omitempty"` // wait_present only
	Error   string        `json:"error,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// ScriptExecution is the persisted record of one player run.
type ScriptExecution struct {
	ID         string       `json:"id"`
	SessionID  string       `json:"session_id"`
	ScriptName string       `json:"script_name"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Steps      []StepResult `json:"steps"`
	Succeeded  int          `json:"succeeded"`
	Failed     int          `json:"failed"`
	Aborted    bool         `json:"aborted"`
	AbortStep  int          `json:"abort_step,omitempty"`
}

func (e *ScriptExecution) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

func (e *ScriptExecution) FromJSON(data []byte) error {
	return json.Unmarshal(data, e)
}
