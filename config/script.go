package config

import (
	"os"

	"github.com/browserwing/domguard/models"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

// LoadScript reads a TOML step file and validates every step.
func LoadScript(path string) (*models.Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read script")
	}
	script, err := ParseScript(data)
	if err != nil {
		return nil, errors.Wrapf(err, "script %s", path)
	}
	return script, nil
}

// ParseScript decodes and validates a step file.
func ParseScript(data []byte) (*models.Script, error) {
	var script models.Script
	if err := toml.Unmarshal(data, &script); err != nil {
		return nil, err
	}
	for i, step := range script.Steps {
		if err := validateStep(step); err != nil {
			return nil, errors.Wrapf(err, "step %d (%s)", i, step.Action)
		}
	}
	return &script, nil
}

func validateStep(step models.ScriptStep) error {
	switch step.Action {
	case models.StepNavigate:
		if step.URL == "" {
			return errors.New("navigate requires url")
		}
	case models.StepWaitPresent, models.StepWaitClickable, models.StepClick, models.StepClear, models.StepSendKeys:
		if _, err := step.Selector(); err != nil {
			return err
		}
	case models.StepFocusMain, models.StepFocusLatest:
	case models.StepSleep:
		if step.TimeoutMs <= 0 {
			return errors.New("sleep requires timeout_ms")
		}
	default:
		return errors.Errorf("unknown action %q", step.Action)
	}
	return nil
}
