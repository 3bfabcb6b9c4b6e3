// Package tui is the terminal detail view of a single test run.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/husmancristian/TA_CONSOLE/pkg/archive"
	"github.com/husmancristian/TA_CONSOLE/pkg/poller"
	"github.com/husmancristian/TA_CONSOLE/pkg/runview"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

var (
	accentPrimary = lipgloss.Color("#50E3C2")
	accentWarn    = lipgloss.Color("#F6AE2D")
	accentFail    = lipgloss.Color("#FF6B6B")
	panelBorder   = lipgloss.Color("#2D6A80")
	mutedText     = lipgloss.Color("#8CA1AE")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(accentPrimary)

	labelStyle = lipgloss.NewStyle().
			Foreground(mutedText)

	refreshStyle = lipgloss.NewStyle().
			Foreground(accentWarn)

	errorStyle = lipgloss.NewStyle().
			Foreground(accentFail).
			Bold(true)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(panelBorder).
			Padding(0, 1)

	selectedLineStyle = lipgloss.NewStyle().
				Foreground(accentPrimary).
				Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedText)

	badgeBase = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1).
			Foreground(lipgloss.Color("#05090C"))
)

const (
	// RefreshNotice is shown for as long as the run is being polled.
	RefreshNotice = "Auto-refreshing every 3 seconds"

	timeLayout = "2006-01-02 15:04:05"
)

// Controller is the part of *poller.Controller the view drives.
type Controller interface {
	Load(ctx context.Context, id string) error
	Updates() <-chan poller.Update
}

type runUpdateMsg struct {
	update poller.Update
	ok     bool
}

type loadDoneMsg struct {
	err error
}

// actionRef locates one action in the flattened step list.
type actionRef struct {
	step   int
	action int
	line   int // line of the action in the list content
}

type Model struct {
	ctx   context.Context
	ctrl  Controller
	runID string

	snap    poller.Snapshot
	loadErr error

	spinner spinner.Model
	list    viewport.Model

	actions []actionRef
	cursor  int

	modalOpen    bool
	savedYOffset int

	width  int
	height int
	ready  bool
}

func NewModel(ctx context.Context, ctrl Controller, runID string) Model {
	spin := spinner.New()
	spin.Spinner = spinner.MiniDot
	spin.Style = lipgloss.NewStyle().Foreground(accentWarn)

	list := viewport.New(80, 20)
	list.SetContent("No steps yet.")

	return Model{
		ctx:     ctx,
		ctrl:    ctrl,
		runID:   runID,
		snap:    poller.Snapshot{RunID: runID, Phase: poller.PhaseLoading, Loading: true},
		spinner: spin,
		list:    list,
		width:   100,
		height:  30,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		loadCmd(m.ctx, m.ctrl, m.runID),
		waitForUpdateCmd(m.ctrl.Updates()),
	)
}

func loadCmd(ctx context.Context, ctrl Controller, runID string) tea.Cmd {
	return func() tea.Msg {
		return loadDoneMsg{err: ctrl.Load(ctx, runID)}
	}
}

func waitForUpdateCmd(ch <-chan poller.Update) tea.Cmd {
	return func() tea.Msg {
		update, ok := <-ch
		return runUpdateMsg{update: update, ok: ok}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.refreshList()
		return m, nil

	case spinner.TickMsg:
		if !m.snap.Loading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case runUpdateMsg:
		if !msg.ok {
			return m, nil
		}
		m.applyUpdate(msg.update)
		return m, waitForUpdateCmd(m.ctrl.Updates())

	case loadDoneMsg:
		if msg.err != nil && !errors.Is(msg.err, poller.ErrSuperseded) && !errors.Is(msg.err, poller.ErrClosed) {
			m.loadErr = msg.err
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m *Model) applyUpdate(update poller.Update) {
	m.snap = update.Snapshot
	if update.View != nil {
		m.loadErr = nil
	}
	m.refreshList()
	if update.ScrollToBottom && !m.modalOpen {
		m.list.GotoBottom()
	}
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" || key == "q" {
		return m, tea.Quit
	}

	if m.modalOpen {
		if key == "esc" {
			m.modalOpen = false
			m.list.SetYOffset(m.savedYOffset)
		}
		return m, nil
	}

	if m.failed() {
		if key == "r" {
			m.loadErr = nil
			m.snap = poller.Snapshot{RunID: m.runID, Phase: poller.PhaseLoading, Loading: true}
			return m, tea.Batch(m.spinner.Tick, loadCmd(m.ctx, m.ctrl, m.runID))
		}
		return m, nil
	}

	switch key {
	case "up", "k":
		m.moveCursor(-1)
	case "down", "j":
		m.moveCursor(1)
	case "home", "g":
		m.list.GotoTop()
	case "end", "G":
		m.list.GotoBottom()
	case "enter":
		if _, ok := m.selectedAction(); ok {
			m.savedYOffset = m.list.YOffset
			m.modalOpen = true
		}
	default:
		var cmd tea.Cmd
		m.list, cmd = m.list.Update(msg)
		return m, cmd
	}
	return m, nil
}

// failed reports whether the blocking error view is showing.
func (m Model) failed() bool {
	return m.snap.View == nil && (m.loadErr != nil || m.snap.Phase == poller.PhaseFailed)
}

func (m *Model) moveCursor(delta int) {
	if len(m.actions) == 0 {
		return
	}
	m.cursor = clampInt(m.cursor+delta, 0, len(m.actions)-1)
	m.refreshList()

	line := m.actions[m.cursor].line
	switch {
	case line < m.list.YOffset:
		m.list.SetYOffset(line)
	case line >= m.list.YOffset+m.list.Height:
		m.list.SetYOffset(line - m.list.Height + 1)
	}
}

func (m Model) selectedAction() (runview.Action, bool) {
	if m.snap.View == nil || len(m.actions) == 0 {
		return runview.Action{}, false
	}
	ref := m.actions[m.cursor]
	return m.snap.View.Steps[ref.step].Actions[ref.action], true
}

// refreshList rebuilds the step list and resizes the viewport. The scroll
// offset is kept unless the content got shorter than it.
func (m *Model) refreshList() {
	m.list.Width = max(20, m.width-4)
	m.list.Height = max(3, m.height-lipgloss.Height(m.renderTop())-4)
	if m.snap.View == nil {
		m.actions = nil
		m.cursor = 0
		return
	}
	content, refs := renderSteps(*m.snap.View, m.cursor)
	m.actions = refs
	if m.cursor >= len(refs) {
		m.cursor = max(0, len(refs)-1)
		content, _ = renderSteps(*m.snap.View, m.cursor)
	}
	m.list.SetContent(content)
}

func (m Model) View() string {
	if m.failed() {
		return m.renderError()
	}
	if m.snap.View == nil {
		return m.spinner.View() + " Loading test run " + m.runID + "..."
	}

	parts := []string{m.renderTop()}
	if m.modalOpen {
		if action, ok := m.selectedAction(); ok {
			ref := m.actions[m.cursor]
			title := fmt.Sprintf("Step %d / Action %d", ref.step+1, action.Number)
			parts = append(parts, renderPanel(title, renderActionDetail(action), m.width-2))
		}
		parts = append(parts, helpStyle.Render("esc close | q quit"))
	} else {
		parts = append(parts, renderPanel("Steps", m.list.View(), m.width-2))
		parts = append(parts, helpStyle.Render("up/down select | enter action detail | pgup/pgdown scroll | q quit"))
	}
	return strings.Join(parts, "\n")
}

func (m Model) renderTop() string {
	if m.snap.View == nil {
		return ""
	}
	top := renderHeader(*m.snap.View)
	if m.snap.Polling {
		top += "\n" + refreshStyle.Render("↻ "+RefreshNotice)
	}
	return top
}

func (m Model) renderError() string {
	err := m.loadErr
	if err == nil {
		err = m.snap.Err
	}
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	body := errorStyle.Render("Could not load test run "+m.runID) + "\n\n" + msg
	return renderPanel("Error", body, max(40, m.width-2)) + "\n" + helpStyle.Render("r retry | q quit")
}

func renderPanel(title, body string, width int) string {
	return panelStyle.Width(max(20, width-2)).Render(titleStyle.Render(title) + "\n" + body)
}

// StatusBadge renders a colored status label.
func StatusBadge(status runview.Status) string {
	color := accentWarn
	switch status {
	case runview.StatusPassed:
		color = accentPrimary
	case runview.StatusFailed:
		color = accentFail
	}
	return badgeBase.Background(color).Render(strings.ToUpper(string(status)))
}

func renderHeader(view runview.RunView) string {
	name := view.Name
	if name == "" {
		name = "Test run"
	}
	lines := []string{
		titleStyle.Render(name) + " " + StatusBadge(view.Status) + " " + labelStyle.Render(view.ID),
	}
	if view.Goal != "" {
		lines = append(lines, labelStyle.Render("Goal: ")+view.Goal)
	}
	if view.GIF != "" {
		lines = append(lines, labelStyle.Render("Recording: ")+MediaRef(view.GIF))
	}
	lines = append(lines, renderMetadata(view))
	if view.Error != "" {
		lines = append(lines, errorStyle.Render("Error: "+view.Error))
	}
	return strings.Join(lines, "\n")
}

func renderMetadata(view runview.RunView) string {
	fields := []string{
		field("Browser", view.Browser),
		field("Viewport", fmt.Sprintf("%dx%d", view.Viewport.Width, view.Viewport.Height)),
		field("Started", formatTime(view.StartedAt)),
		field("Finished", formatTime(view.FinishedAt)),
		field("Duration", FormatDuration(view.Duration)),
		field("Steps", fmt.Sprintf("%d passed / %d failed", view.PassedSteps, view.FailedSteps)),
	}
	if g := view.Geolocation; g != nil {
		fields = append(fields, field("Location", fmt.Sprintf("%.4f, %.4f", g.Latitude, g.Longitude)))
	}
	return strings.Join(fields, "  ")
}

func field(label, value string) string {
	return labelStyle.Render(label+": ") + value
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(timeLayout)
}

// FormatDuration renders seconds the way the step list shows them.
func FormatDuration(seconds float64) string {
	if seconds <= 0 {
		return "0s"
	}
	return time.Duration(seconds * float64(time.Second)).Round(100 * time.Millisecond).String()
}

// renderSteps returns the list content and where each action landed in it.
func renderSteps(view runview.RunView, cursor int) (string, []actionRef) {
	if len(view.Steps) == 0 {
		if view.Status.IsPending() {
			return labelStyle.Render("Waiting for the first step..."), nil
		}
		return labelStyle.Render("This run recorded no steps."), nil
	}

	var lines []string
	var refs []actionRef
	for si, step := range view.Steps {
		header := fmt.Sprintf("%s Step %d", StatusBadge(step.Status), step.Number)
		if step.Goal != "" {
			header += "  " + step.Goal
		}
		lines = append(lines, header)
		for ai, action := range step.Actions {
			line := fmt.Sprintf("   %d. %s", action.Number, actionSummary(action))
			if action.Status == runview.StatusFailed {
				line += " " + errorStyle.Render("[failed]")
			}
			if len(refs) == cursor {
				line = selectedLineStyle.Render("> " + strings.TrimLeft(line, " "))
			}
			refs = append(refs, actionRef{step: si, action: ai, line: len(lines)})
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n"), refs
}

func actionSummary(action runview.Action) string {
	switch action.Kind {
	case runview.ActionNavigate:
		return action.ActionType + ": " + action.URL
	case runview.ActionFillSecret:
		return action.ActionType + ": secret " + action.InputText
	case runview.ActionFillText:
		return fmt.Sprintf("%s: %q", action.ActionType, action.InputText)
	case runview.ActionClick:
		if action.ElementIndex != nil {
			return fmt.Sprintf("%s #%d", action.ActionType, *action.ElementIndex)
		}
	case runview.ActionDone:
		if action.ResultMessage != "" {
			return action.ActionType + ": " + action.ResultMessage
		}
	}
	return action.ActionType
}

func renderActionDetail(action runview.Action) string {
	lines := []string{
		field("Type", action.ActionType),
		field("Status", StatusBadge(action.Status)),
	}
	if action.URL != "" {
		lines = append(lines, field("URL", action.URL))
	}
	if action.IsSecret {
		lines = append(lines, field("Secret", action.InputText))
	} else if action.InputText != "" {
		lines = append(lines, field("Text", action.InputText))
	}
	if action.ElementIndex != nil {
		lines = append(lines, field("Element index", fmt.Sprint(*action.ElementIndex)))
	}
	if action.XPath != "" {
		lines = append(lines, field("XPath", action.XPath))
	}
	if action.ResultMessage != "" {
		lines = append(lines, field("Result", action.ResultMessage))
	}
	screenshot := "none"
	if action.Screenshot != "" {
		screenshot = MediaRef(action.Screenshot)
	}
	lines = append(lines, field("Screenshot", screenshot))
	return strings.Join(lines, "\n")
}

// MediaRef describes a screenshot or GIF value: URLs are shown as is, inline
// payloads by type and size.
func MediaRef(value string) string {
	if data, contentType, ok := archive.DecodeInline(value); ok {
		return fmt.Sprintf("inline %s (%s)", contentType, humanize.Bytes(uint64(len(data))))
	}
	if len(value) > 120 {
		return value[:117] + "..."
	}
	return value
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
