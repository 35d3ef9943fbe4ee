package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowforge/internal/model"
)

func TestPlanValidate(t *testing.T) {
	goodStep := func(n int) model.PlannedStep {
		return model.PlannedStep{
			Number:      n,
			Kind:        model.ActionClick,
			Description: "Click the thing",
			Selector:    "#thing",
		}
	}

	tests := map[string]struct {
		plan   model.Plan
		expErr bool
	}{
		"Valid plan": {
			plan: model.Plan{Steps: []model.PlannedStep{goodStep(1), goodStep(2)}},
		},
		"Empty plan is rejected": {
			plan:   model.Plan{},
			expErr: true,
		},
		"Unknown action kind is rejected at validation time": {
			plan: model.Plan{Steps: []model.PlannedStep{
				{Number: 1, Kind: "teleport", Description: "??", Selector: "#x"},
			}},
			expErr: true,
		},
		"Click without selector is rejected": {
			plan: model.Plan{Steps: []model.PlannedStep{
				{Number: 1, Kind: model.ActionClick, Description: "Click"},
			}},
			expErr: true,
		},
		"Navigate with url in value is valid": {
			plan: model.Plan{Steps: []model.PlannedStep{
				{Number: 1, Kind: model.ActionNavigate, Description: "Open", Value: "https://example.com"},
			}},
		},
		"Press key without value is rejected": {
			plan: model.Plan{Steps: []model.PlannedStep{
				{Number: 1, Kind: model.ActionPressKey, Description: "Press enter"},
			}},
			expErr: true,
		},
		"Wait without selector or value is valid": {
			plan: model.Plan{Steps: []model.PlannedStep{
				{Number: 1, Kind: model.ActionWait, Description: "Let the page settle"},
			}},
		},
		"Duplicate step numbers are rejected": {
			plan:   model.Plan{Steps: []model.PlannedStep{goodStep(1), goodStep(1)}},
			expErr: true,
		},
		"Out of order step numbers are rejected": {
			plan:   model.Plan{Steps: []model.PlannedStep{goodStep(2), goodStep(1)}},
			expErr: true,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			err := tt.plan.Validate()

			if tt.expErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, model.ErrNotValid)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestActionKindKnown(t *testing.T) {
	known := []model.ActionKind{
		model.ActionNavigate, model.ActionClick, model.ActionFill,
		model.ActionSelect, model.ActionWait, model.ActionScroll, model.ActionPressKey,
	}
	for _, k := range known {
		assert.True(t, k.Known(), string(k))
	}

	assert.False(t, model.ActionKind("hover").Known())
	assert.False(t, model.ActionKind("").Known())
}
