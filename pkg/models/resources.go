package models

import "time"

// TestCase is a browser automation script managed through the console.
type TestCase struct {
	ID              string     `json:"id,omitempty"`
	ProjectID       string     `json:"project_id,omitempty"`
	Name            string     `json:"name"`
	Description     string     `json:"description,omitempty"`
	Goal            string     `json:"goal"`
	BrowserConfigID string     `json:"browser_config_id,omitempty"`
	SecretIDs       []string   `json:"secret_ids,omitempty"`
	CreatedAt       *Timestamp `json:"created_at,omitempty"`
	UpdatedAt       *Timestamp `json:"updated_at,omitempty"`
}

// BrowserConfig is a named set of browser launch parameters.
type BrowserConfig struct {
	ID          string       `json:"id,omitempty" yaml:"-"`
	Name        string       `json:"name" yaml:"name"`
	Channel     string       `json:"channel,omitempty" yaml:"channel"`
	UserAgent   string       `json:"user_agent,omitempty" yaml:"user_agent"`
	Viewport    *Viewport    `json:"viewport,omitempty" yaml:"viewport"`
	Geolocation *Geolocation `json:"geolocation,omitempty" yaml:"geolocation"`
}

type Viewport struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

type Geolocation struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
	Accuracy  float64 `json:"accuracy,omitempty" yaml:"accuracy"`
}

// Secret is a named credential substituted into input actions at run time.
type Secret struct {
	ID          string `json:"id,omitempty"`
	ProjectID   string `json:"project_id,omitempty"`
	Name        string `json:"name"`
	Value       string `json:"value,omitempty"`
	Description string `json:"description,omitempty"`
}

type Project struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// RunSummary is one entry of GET /test-cases/{id}/runs.
type RunSummary struct {
	ID           string     `json:"id"`
	CurrentState string     `json:"current_state"`
	StartedAt    *Timestamp `json:"started_at,omitempty"`
	FinishedAt   *Timestamp `json:"finished_at,omitempty"`
}

// RunRequest is the message queued to trigger a test case execution later.
type RunRequest struct {
	ID          string    `json:"id"`
	TestCaseID  string    `json:"test_case_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// RunSettledEvent is published when a watched run reaches a terminal status.
type RunSettledEvent struct {
	RunID       string    `json:"run_id"`
	TestCaseID  string    `json:"test_case_id,omitempty"`
	Status      string    `json:"status"` // passed or failed
	TotalSteps  int       `json:"total_steps"`
	FailedSteps int       `json:"failed_steps"`
	Duration    float64   `json:"duration_seconds"`
	SettledAt   time.Time `json:"settled_at"`
}
