package models

// TestRun is the backend document returned by GET /test-runs/{id}.
// Everything except ID is optional; consumers must tolerate missing fields.
type TestRun struct {
	ID            string           `json:"id"`
	CurrentState  string           `json:"current_state"`            // PENDING, RUNNING, PASSED, FAILED, FINISHED, ERROR
	StartedAt     *Timestamp       `json:"started_at,omitempty"`     // Set by the backend once a worker picks the run up
	FinishedAt    *Timestamp       `json:"finished_at,omitempty"`    // Nil while the run is pending
	TestCase      *TestCaseSummary `json:"test_case,omitempty"`      // Test case this run executes
	BrowserConfig *BrowserConfig   `json:"browser_config,omitempty"` // Browser preset used for the run
	BrainStates   []BrainState     `json:"brain_states,omitempty"`   // Agent checkpoints, ordered by Position
	RunGIF        string           `json:"run_gif,omitempty"`        // URL or base64 of the rendered GIF
	Error         string           `json:"error,omitempty"`          // Top-level failure message
}

// TestCaseSummary is the slice of a test case embedded in a run.
type TestCaseSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Goal        string `json:"goal,omitempty"`
}

// BrainState is one reasoning checkpoint of the automation agent.
type BrainState struct {
	ID              string           `json:"id"`
	Position        int              `json:"position"`
	NextGoal        string           `json:"next_goal,omitempty"`
	Memory          string           `json:"memory,omitempty"`
	HistoryElements []HistoryElement `json:"history_elements,omitempty"`
}

// HistoryElement is one concrete browser action recorded under a brain state.
type HistoryElement struct {
	ID                  string             `json:"id"`
	Position            int                `json:"position"`
	Action              ActionPayload      `json:"action"`
	HistoryElementState string             `json:"history_element_state"` // PASSED or FAILED
	Screenshot          string             `json:"screenshot,omitempty"`  // URL or base64 PNG
	InteractedElement   *InteractedElement `json:"interacted_element,omitempty"`
}

// InteractedElement carries DOM locator metadata for element actions.
type InteractedElement struct {
	XPath   string `json:"xpath,omitempty"`
	TagName string `json:"tag_name,omitempty"`
}

// ActionPayload is a discriminated union: exactly one field is expected to be set.
type ActionPayload struct {
	GoToURL             *GoToURLAction      `json:"go_to_url,omitempty"`
	InputText           *InputTextAction    `json:"input_text,omitempty"`
	ClickElementByIndex *ClickElementAction `json:"click_element_by_index,omitempty"`
	Done                *DoneAction         `json:"done,omitempty"`
}

type GoToURLAction struct {
	URL string `json:"url"`
}

type InputTextAction struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

type ClickElementAction struct {
	Index int `json:"index"`
}

type DoneAction struct {
	Text    string `json:"text"`
	Success bool   `json:"success"`
}

// Constants for backend run and action states
const (
	StatusPending  = "PENDING"
	StatusRunning  = "RUNNING"
	StatusPassed   = "PASSED"
	StatusFailed   = "FAILED"
	StatusFinished = "FINISHED"
	StatusError    = "ERROR"
)
