// Package workflows runs named, ordered step sequences as durable runs. A run's
// cursor and step outputs are persisted after every step so any worker can
// resume it from the last completed step.
package workflows

import (
	"context"
	"encoding/json"
	"fmt"

	"draftr/internal/platform/models"
)

const (
	TypeBrandAnalysis     = "brand-analysis"
	TypeContentGeneration = "content-generation"
)

const (
	StatusIdle      = "idle"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Step is one side-effecting unit. Run must be safe to execute again with the
// same state; its returned value is stored as the stage's output.
type Step struct {
	Stage string
	Run   func(ctx context.Context, state *RunState) (interface{}, error)
}

type Definition struct {
	Type  string
	Steps []Step
}

func (d *Definition) TotalSteps() int { return len(d.Steps) }

// RunState is what a step sees: the run's input and the outputs of the steps
// before it.
type RunState struct {
	RunID          string
	OrganizationID string
	CorrelationID  string
	Attempt        int

	input   models.JSONText
	outputs map[string]json.RawMessage
}

func newRunState(run *models.WorkflowRun) (*RunState, error) {
	state := &RunState{
		RunID:          run.ID,
		OrganizationID: run.OrganizationID,
		Attempt:        run.Attempts + 1,
		input:          run.Input,
		outputs:        map[string]json.RawMessage{},
	}
	if run.CorrelationID != nil {
		state.CorrelationID = *run.CorrelationID
	}
	if err := run.StepOutputs.Decode(&state.outputs); err != nil {
		return nil, fmt.Errorf("decode step outputs: %w", err)
	}
	return state, nil
}

func (s *RunState) DecodeInput(out interface{}) error {
	return s.input.Decode(out)
}

// Output decodes the stored output of an earlier stage.
func (s *RunState) Output(stage string, out interface{}) error {
	raw, ok := s.outputs[stage]
	if !ok {
		return fmt.Errorf("no output recorded for stage %s", stage)
	}
	return json.Unmarshal(raw, out)
}

func (s *RunState) record(stage string, v interface{}) (models.JSONText, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s.outputs[stage] = raw
	return json.Marshal(s.outputs)
}
