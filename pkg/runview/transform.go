// Package runview turns backend test-run documents into the flat step/action
// view rendered by the console. Everything here is pure: the same document
// always yields an equal RunView.
package runview

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/husmancristian/TA_CONSOLE/pkg/models"
)

const (
	UnknownBrowser = "Unknown Browser"

	defaultViewportWidth  = 1920
	defaultViewportHeight = 1080
)

var secretPattern = regexp.MustCompile(`<secret>(.*?)</secret>`)

// ActionKind identifies which payload variant a history element carried.
type ActionKind int

const (
	ActionUnknown ActionKind = iota
	ActionNavigate
	ActionFillSecret
	ActionFillText
	ActionClick
	ActionDone
)

// Label is the human-readable action type shown in the step list.
func (k ActionKind) Label() string {
	switch k {
	case ActionNavigate:
		return "Navigate to URL"
	case ActionFillSecret:
		return "Fill password/secret input"
	case ActionFillText:
		return "Fill text input"
	case ActionClick:
		return "Click element"
	case ActionDone:
		return "Test completed"
	default:
		return "Unknown Action"
	}
}

// RunView is the UI-ready shape of a test run.
type RunView struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Description   string       `json:"description,omitempty"`
	Goal          string       `json:"goal,omitempty"`
	TestCaseID    string       `json:"test_case_id,omitempty"`
	Status        Status       `json:"status"`
	BackendStatus string       `json:"backend_status"`
	Browser       string       `json:"browser"`
	UserAgent     string       `json:"user_agent,omitempty"`
	Viewport      Viewport     `json:"viewport"`
	Geolocation   *Geolocation `json:"geolocation,omitempty"`
	StartedAt     *time.Time   `json:"started_at,omitempty"`
	FinishedAt    *time.Time   `json:"finished_at,omitempty"`
	Duration      float64      `json:"duration"` // seconds
	GIF           string       `json:"gif,omitempty"`
	Error         string       `json:"error,omitempty"`
	Steps         []Step       `json:"steps"`
	TotalSteps    int          `json:"total_steps"`
	PassedSteps   int          `json:"passed_steps"`
	FailedSteps   int          `json:"failed_steps"`
}

type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type Geolocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy,omitempty"`
}

// Step mirrors one brain state.
type Step struct {
	ID       string   `json:"id"`
	Number   int      `json:"number"`
	Goal     string   `json:"goal,omitempty"`
	Memory   string   `json:"memory,omitempty"`
	Status   Status   `json:"status"`
	Duration float64  `json:"duration"` // the backend records no per-step timing; always 0
	Actions  []Action `json:"actions"`
}

// Action mirrors one history element.
type Action struct {
	ID            string     `json:"id"`
	Number        int        `json:"number"`
	Kind          ActionKind `json:"kind"`
	ActionType    string     `json:"action_type"`
	Status        Status     `json:"status"`
	URL           string     `json:"url,omitempty"`
	InputText     string     `json:"input_text,omitempty"`
	IsSecret      bool       `json:"is_secret"`
	ElementIndex  *int       `json:"element_index,omitempty"`
	XPath         string     `json:"xpath,omitempty"`
	ResultMessage string     `json:"result_message,omitempty"`
	Screenshot    string     `json:"screenshot,omitempty"`
}

// Transform builds the RunView for a backend document. A nil document yields
// an empty pending view.
func Transform(run *models.TestRun) RunView {
	if run == nil {
		run = &models.TestRun{}
	}

	view := RunView{
		ID:            run.ID,
		Status:        ClassifyStatus(run.CurrentState),
		BackendStatus: run.CurrentState,
		Browser:       UnknownBrowser,
		Viewport:      Viewport{Width: defaultViewportWidth, Height: defaultViewportHeight},
		GIF:           run.RunGIF,
		Error:         run.Error,
		Steps:         []Step{},
	}

	if tc := run.TestCase; tc != nil {
		view.TestCaseID = tc.ID
		view.Name = tc.Name
		view.Description = tc.Description
		view.Goal = tc.Goal
	}

	if bc := run.BrowserConfig; bc != nil {
		view.UserAgent = bc.UserAgent
		view.Browser = BrowserName(bc.UserAgent)
		if bc.Viewport != nil && bc.Viewport.Width > 0 && bc.Viewport.Height > 0 {
			view.Viewport = Viewport{Width: bc.Viewport.Width, Height: bc.Viewport.Height}
		}
		if g := bc.Geolocation; g != nil {
			view.Geolocation = &Geolocation{Latitude: g.Latitude, Longitude: g.Longitude, Accuracy: g.Accuracy}
		}
	}

	if run.StartedAt.Valid() {
		started := run.StartedAt.Time
		view.StartedAt = &started
	}
	if run.FinishedAt.Valid() {
		finished := run.FinishedAt.Time
		view.FinishedAt = &finished
	}
	view.Duration = RunDuration(run.StartedAt, run.FinishedAt)

	for i, state := range sortedBrainStates(run.BrainStates) {
		step := transformStep(state, i+1)
		view.Steps = append(view.Steps, step)
		if step.Status == StatusFailed {
			view.FailedSteps++
		} else {
			view.PassedSteps++
		}
	}
	view.TotalSteps = len(view.Steps)

	return view
}

// RunDuration is finished minus started in seconds, or 0 when either is missing.
func RunDuration(started, finished *models.Timestamp) float64 {
	if !started.Valid() || !finished.Valid() {
		return 0
	}
	return finished.Sub(started.Time).Seconds()
}

// BrowserName infers a browser label from a user agent. Best effort only:
// Edge and most Chromium derivatives advertise Chrome and are labelled as such.
func BrowserName(userAgent string) string {
	switch {
	case userAgent == "":
		return UnknownBrowser
	case strings.Contains(userAgent, "Safari") && !strings.Contains(userAgent, "Chrome"):
		return "Safari"
	case strings.Contains(userAgent, "Chrome"):
		return "Chrome"
	case strings.Contains(userAgent, "Firefox"):
		return "Firefox"
	case strings.Contains(userAgent, "Edge"):
		return "Edge"
	default:
		return UnknownBrowser
	}
}

// ClassifyAction applies the payload rules in priority order.
func ClassifyAction(el models.HistoryElement) Action {
	action := Action{
		ID:         el.ID,
		Status:     StatusPassed,
		Screenshot: el.Screenshot,
	}
	if actionFailed(el.HistoryElementState) {
		action.Status = StatusFailed
	}

	payload := el.Action
	switch {
	case payload.GoToURL != nil:
		action.Kind = ActionNavigate
		action.URL = payload.GoToURL.URL
	case payload.InputText != nil:
		index := payload.InputText.Index
		action.ElementIndex = &index
		if name, ok := SecretName(payload.InputText.Text); ok {
			action.Kind = ActionFillSecret
			action.InputText = name
			action.IsSecret = true
		} else {
			action.Kind = ActionFillText
			action.InputText = payload.InputText.Text
		}
	case payload.ClickElementByIndex != nil:
		index := payload.ClickElementByIndex.Index
		action.Kind = ActionClick
		action.ElementIndex = &index
		if el.InteractedElement != nil {
			action.XPath = el.InteractedElement.XPath
		}
	case payload.Done != nil:
		action.Kind = ActionDone
		action.ResultMessage = payload.Done.Text
	default:
		action.Kind = ActionUnknown
	}
	action.ActionType = action.Kind.Label()
	return action
}

// SecretName extracts NAME from "<secret>NAME</secret>".
func SecretName(text string) (string, bool) {
	match := secretPattern.FindStringSubmatch(text)
	if match == nil {
		return "", false
	}
	return match[1], true
}

func transformStep(state models.BrainState, number int) Step {
	step := Step{
		ID:      state.ID,
		Number:  number,
		Goal:    state.NextGoal,
		Memory:  state.Memory,
		Status:  StatusPassed,
		Actions: []Action{},
	}
	for i, el := range sortedHistoryElements(state.HistoryElements) {
		action := ClassifyAction(el)
		action.Number = i + 1
		if action.Status == StatusFailed {
			step.Status = StatusFailed
		}
		step.Actions = append(step.Actions, action)
	}
	return step
}

func sortedBrainStates(in []models.BrainState) []models.BrainState {
	out := append([]models.BrainState(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

func sortedHistoryElements(in []models.HistoryElement) []models.HistoryElement {
	out := append([]models.HistoryElement(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}
