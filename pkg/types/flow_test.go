package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLocatorSpec_Validate(t *testing.T) {
	tests := []struct {
		name        string
		locator     LocatorSpec
		expectError bool
		errorText   string
	}{
		{
			name:    "valid css locator",
			locator: LocatorSpec{Strategy: SelectByCSS, Value: "div.menu"},
		},
		{
			name:    "valid id locator",
			locator: LocatorSpec{Strategy: SelectByID, Value: "login-form"},
		},
		{
			name:    "valid last pick",
			locator: LocatorSpec{Strategy: SelectByCSS, Value: "input[type=radio]", Pick: PickLast},
		},
		{
			name:    "valid nth pick",
			locator: LocatorSpec{Strategy: SelectByCSS, Value: "li", Pick: PickNth, Index: 2},
		},
		{
			name:        "unknown strategy",
			locator:     LocatorSpec{Strategy: "xpath", Value: "//div"},
			expectError: true,
			errorText:   "unknown locator strategy",
		},
		{
			name:        "empty value",
			locator:     LocatorSpec{Strategy: SelectByCSS, Value: ""},
			expectError: true,
			errorText:   "cannot be empty",
		},
		{
			name:        "negative nth index",
			locator:     LocatorSpec{Strategy: SelectByCSS, Value: "li", Pick: PickNth, Index: -1},
			expectError: true,
			errorText:   "must be non-negative",
		},
		{
			name:        "unknown pick mode",
			locator:     LocatorSpec{Strategy: SelectByCSS, Value: "li", Pick: "middle"},
			expectError: true,
			errorText:   "unknown locator pick mode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.locator.Validate()
			if tt.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorText)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFlowStep_Validate(t *testing.T) {
	tests := []struct {
		name        string
		step        FlowStep
		expectError bool
		errorText   string
	}{
		{
			name: "navigate with url",
			step: FlowStep{Kind: StepNavigate, URL: "https://example.com/"},
		},
		{
			name:        "navigate without url",
			step:        FlowStep{Kind: StepNavigate},
			expectError: true,
			errorText:   "requires a url",
		},
		{
			name: "wait element with locator",
			step: FlowStep{Kind: StepWaitElement, Locator: &LocatorSpec{Strategy: SelectByCSS, Value: ".content"}},
		},
		{
			name:        "enter frame without locator",
			step:        FlowStep{Kind: StepEnterFrame},
			expectError: true,
			errorText:   "requires a locator",
		},
		{
			name: "exit context takes no parameters",
			step: FlowStep{Kind: StepExitContext},
		},
		{
			name:        "unknown kind",
			step:        FlowStep{Kind: "scroll"},
			expectError: true,
			errorText:   "unknown step kind",
		},
		{
			name:        "negative timeout",
			step:        FlowStep{Kind: StepResetToRoot, Timeout: Duration(-time.Second)},
			expectError: true,
			errorText:   "timeout cannot be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.step.Validate()
			if tt.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorText)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFlow_Validate(t *testing.T) {
	valid := Flow{
		Name: "checkout",
		Steps: []FlowStep{
			{Kind: StepNavigate, URL: "https://shop.example.com/"},
			{Kind: StepWaitVisible, Locator: &LocatorSpec{Strategy: SelectByID, Value: "cart"}},
		},
	}
	assert.NoError(t, valid.Validate())

	noName := Flow{Steps: valid.Steps}
	err := noName.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name cannot be empty")

	noSteps := Flow{Name: "empty"}
	err = noSteps.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no steps")

	badStep := Flow{
		Name:  "broken",
		Steps: []FlowStep{{Kind: StepNavigate}},
	}
	err = badStep.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 0")
}

func TestFlow_UnmarshalYAML(t *testing.T) {
	data := []byte(`
name: portal-login
user_agent: "Mozilla/5.0 (compatible; SitegrabBot/1.0)"
steps:
  - kind: navigate
    url: https://portal.example.com/login
  - kind: enter_frame
    locator:
      strategy: css
      value: iframe.auth
    timeout: 15s
  - kind: wait_visible
    locator:
      strategy: id
      value: submit
  - kind: reset_root
`)

	var flow Flow
	require.NoError(t, yaml.Unmarshal(data, &flow))
	require.NoError(t, flow.Validate())

	assert.Equal(t, "portal-login", flow.Name)
	require.Len(t, flow.Steps, 4)
	assert.Equal(t, StepEnterFrame, flow.Steps[1].Kind)
	assert.Equal(t, 15*time.Second, flow.Steps[1].Timeout.Std())
	assert.Equal(t, "submit", flow.Steps[2].Locator.Value)
}

func TestDuration_Unmarshal(t *testing.T) {
	var d Duration
	require.NoError(t, yaml.Unmarshal([]byte(`"750ms"`), &d))
	assert.Equal(t, 750*time.Millisecond, d.Std())

	err := yaml.Unmarshal([]byte(`"soon"`), &d)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")

	require.NoError(t, d.UnmarshalJSON([]byte(`"2m"`)))
	assert.Equal(t, 2*time.Minute, d.Std())

	require.NoError(t, d.UnmarshalJSON([]byte(`1000000000`)))
	assert.Equal(t, time.Second, d.Std())
}
