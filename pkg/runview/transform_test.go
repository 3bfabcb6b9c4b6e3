package runview

import (
	"testing"
	"time"

	"github.com/husmancristian/TA_CONSOLE/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func element(id string, pos int, state string, payload models.ActionPayload) models.HistoryElement {
	return models.HistoryElement{ID: id, Position: pos, HistoryElementState: state, Action: payload}
}

func sampleRun() *models.TestRun {
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return &models.TestRun{
		ID:           "run-42",
		CurrentState: models.StatusFinished,
		StartedAt:    models.NewTimestamp(started),
		FinishedAt:   models.NewTimestamp(started.Add(12500 * time.Millisecond)),
		TestCase:     &models.TestCaseSummary{ID: "tc-1", Name: "Login", Goal: "Sign in and reach the dashboard"},
		BrowserConfig: &models.BrowserConfig{
			UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
			Viewport:  &models.Viewport{Width: 1280, Height: 720},
		},
		BrainStates: []models.BrainState{
			{
				ID: "b2", Position: 1, NextGoal: "Submit the form",
				HistoryElements: []models.HistoryElement{
					element("h3", 0, "PASSED", models.ActionPayload{ClickElementByIndex: &models.ClickElementAction{Index: 7}}),
					element("h4", 1, "PASSED", models.ActionPayload{Done: &models.DoneAction{Text: "Dashboard visible", Success: true}}),
				},
			},
			{
				ID: "b1", Position: 0, NextGoal: "Open the login page",
				HistoryElements: []models.HistoryElement{
					element("h2", 1, "PASSED", models.ActionPayload{InputText: &models.InputTextAction{Index: 3, Text: "<secret>api_key</secret>"}}),
					element("h1", 0, "PASSED", models.ActionPayload{GoToURL: &models.GoToURLAction{URL: "https://example.com/login"}}),
				},
			},
		},
	}
}

func TestClassifyActionSecretInput(t *testing.T) {
	action := ClassifyAction(element("h", 0, "PASSED", models.ActionPayload{
		InputText: &models.InputTextAction{Text: "<secret>api_key</secret>"},
	}))

	assert.Equal(t, ActionFillSecret, action.Kind)
	assert.Equal(t, "Fill password/secret input", action.ActionType)
	assert.Equal(t, "api_key", action.InputText)
	assert.True(t, action.IsSecret)
}

func TestClassifyActionPlainInput(t *testing.T) {
	action := ClassifyAction(element("h", 0, "PASSED", models.ActionPayload{
		InputText: &models.InputTextAction{Text: "hello world"},
	}))

	assert.Equal(t, ActionFillText, action.Kind)
	assert.Equal(t, "Fill text input", action.ActionType)
	assert.Equal(t, "hello world", action.InputText)
	assert.False(t, action.IsSecret)
}

func TestClassifyActionPriority(t *testing.T) {
	tests := []struct {
		name     string
		el       models.HistoryElement
		wantType string
		check    func(t *testing.T, a Action)
	}{
		{
			name:     "navigate wins over other fields",
			el:       element("h", 0, "PASSED", models.ActionPayload{GoToURL: &models.GoToURLAction{URL: "https://a.test"}, Done: &models.DoneAction{Text: "x"}}),
			wantType: "Navigate to URL",
			check: func(t *testing.T, a Action) {
				assert.Equal(t, "https://a.test", a.URL)
				assert.Empty(t, a.ResultMessage)
			},
		},
		{
			name: "click captures xpath",
			el: models.HistoryElement{
				Action:            models.ActionPayload{ClickElementByIndex: &models.ClickElementAction{Index: 4}},
				InteractedElement: &models.InteractedElement{XPath: "/html/body/button[1]"},
			},
			wantType: "Click element",
			check: func(t *testing.T, a Action) {
				assert.Equal(t, "/html/body/button[1]", a.XPath)
				require.NotNil(t, a.ElementIndex)
				assert.Equal(t, 4, *a.ElementIndex)
			},
		},
		{
			name:     "click without locator",
			el:       element("h", 0, "PASSED", models.ActionPayload{ClickElementByIndex: &models.ClickElementAction{Index: 1}}),
			wantType: "Click element",
			check: func(t *testing.T, a Action) {
				assert.Empty(t, a.XPath)
			},
		},
		{
			name:     "done carries result message",
			el:       element("h", 0, "PASSED", models.ActionPayload{Done: &models.DoneAction{Text: "All good"}}),
			wantType: "Test completed",
			check: func(t *testing.T, a Action) {
				assert.Equal(t, "All good", a.ResultMessage)
			},
		},
		{
			name:     "empty payload",
			el:       element("h", 0, "PASSED", models.ActionPayload{}),
			wantType: "Unknown Action",
			check: func(t *testing.T, a Action) {
				assert.Equal(t, ActionUnknown, a.Kind)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyAction(tt.el)
			assert.Equal(t, tt.wantType, got.ActionType)
			tt.check(t, got)
		})
	}
}

func TestTransformRunningWithoutBrainStates(t *testing.T) {
	view := Transform(&models.TestRun{ID: "r1", CurrentState: "RUNNING", BrainStates: []models.BrainState{}})

	assert.Equal(t, StatusPending, view.Status)
	assert.Empty(t, view.Steps)
	assert.NotNil(t, view.Steps)
	assert.Equal(t, 0, view.TotalSteps)
}

func TestTransformStepFailsWhenAnyActionFails(t *testing.T) {
	run := &models.TestRun{
		ID:           "r1",
		CurrentState: models.StatusFailed,
		BrainStates: []models.BrainState{{
			ID: "b1",
			HistoryElements: []models.HistoryElement{
				element("h1", 0, "PASSED", models.ActionPayload{GoToURL: &models.GoToURLAction{URL: "https://a.test"}}),
				element("h2", 1, "FAILED", models.ActionPayload{ClickElementByIndex: &models.ClickElementAction{Index: 2}}),
			},
		}},
	}

	view := Transform(run)

	require.Len(t, view.Steps, 1)
	assert.Equal(t, StatusFailed, view.Steps[0].Status)
	assert.Equal(t, StatusPassed, view.Steps[0].Actions[0].Status)
	assert.Equal(t, StatusFailed, view.Steps[0].Actions[1].Status)
	assert.Equal(t, 1, view.FailedSteps)
	assert.Equal(t, 0, view.PassedSteps)
}

func TestTransformDuration(t *testing.T) {
	view := Transform(sampleRun())
	assert.Equal(t, 12.5, view.Duration)

	run := sampleRun()
	run.FinishedAt = nil
	assert.Equal(t, 0.0, Transform(run).Duration)
}

func TestTransformOrdersByPosition(t *testing.T) {
	view := Transform(sampleRun())

	require.Len(t, view.Steps, 2)
	assert.Equal(t, "b1", view.Steps[0].ID)
	assert.Equal(t, 1, view.Steps[0].Number)
	assert.Equal(t, "b2", view.Steps[1].ID)

	require.Len(t, view.Steps[0].Actions, 2)
	assert.Equal(t, "h1", view.Steps[0].Actions[0].ID)
	assert.Equal(t, ActionNavigate, view.Steps[0].Actions[0].Kind)
	assert.Equal(t, "h2", view.Steps[0].Actions[1].ID)
	assert.True(t, view.Steps[0].Actions[1].IsSecret)
}

func TestTransformMetadata(t *testing.T) {
	view := Transform(sampleRun())

	assert.Equal(t, "run-42", view.ID)
	assert.Equal(t, "Login", view.Name)
	assert.Equal(t, "Sign in and reach the dashboard", view.Goal)
	assert.Equal(t, StatusPassed, view.Status)
	assert.Equal(t, "Chrome", view.Browser)
	assert.Equal(t, Viewport{Width: 1280, Height: 720}, view.Viewport)
	for _, step := range view.Steps {
		assert.Zero(t, step.Duration)
	}
}

func TestTransformFallbacks(t *testing.T) {
	view := Transform(&models.TestRun{ID: "r1", BrowserConfig: &models.BrowserConfig{}})

	assert.Equal(t, UnknownBrowser, view.Browser)
	assert.Equal(t, Viewport{Width: 1920, Height: 1080}, view.Viewport)
	assert.Equal(t, StatusPending, view.Status)
	assert.Nil(t, view.StartedAt)
	assert.Empty(t, view.Steps)

	empty := Transform(nil)
	assert.Equal(t, UnknownBrowser, empty.Browser)
	assert.Equal(t, StatusPending, empty.Status)
}

func TestTransformIsIdempotent(t *testing.T) {
	run := sampleRun()
	first := Transform(run)
	second := Transform(run)
	assert.Equal(t, first, second)

	// The source document must not be reordered in place.
	assert.Equal(t, "b2", run.BrainStates[0].ID)
}

func TestTransformStepCounts(t *testing.T) {
	runs := []*models.TestRun{nil, sampleRun(), {ID: "x", CurrentState: "ERROR"}}
	failing := sampleRun()
	failing.BrainStates[0].HistoryElements[0].HistoryElementState = "FAILED"
	runs = append(runs, failing)

	for _, run := range runs {
		view := Transform(run)
		assert.GreaterOrEqual(t, view.PassedSteps, 0)
		assert.GreaterOrEqual(t, view.FailedSteps, 0)
		assert.Equal(t, view.TotalSteps, view.PassedSteps+view.FailedSteps)
	}
}

func TestBrowserName(t *testing.T) {
	tests := []struct {
		userAgent string
		want      string
	}{
		{"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15", "Safari"},
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36", "Chrome"},
		{"Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0", "Firefox"},
		{"Mozilla/5.0 (Windows NT 10.0) Edge/18.19045", "Edge"},
		{"curl/8.0", UnknownBrowser},
		{"", UnknownBrowser},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, BrowserName(tt.userAgent))
		})
	}
}

func TestSecretName(t *testing.T) {
	name, ok := SecretName("<secret>db_password</secret>")
	assert.True(t, ok)
	assert.Equal(t, "db_password", name)

	_, ok = SecretName("<secret>unterminated")
	assert.False(t, ok)
}
