// Package tui provides a terminal user interface for the task list.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"focuslist/backend"
	"focuslist/internal/controller"
)

// Mode indicates the current input mode
type Mode int

const (
	ModeNormal Mode = iota
	ModeAdd
	ModeHelp
	ModeConfirmDelete
)

// Model represents the TUI state
type Model struct {
	ctrl *controller.Controller
	ctx  context.Context
	user string

	// Selection
	cursor int

	// Mode and input
	mode      Mode
	textInput textinput.Model
	loading   bool

	// UI dimensions
	width  int
	height int

	// Styles
	paneStyle      lipgloss.Style
	selectedStyle  lipgloss.Style
	completedStyle lipgloss.Style
	pendingStyle   lipgloss.Style
	bannerStyle    lipgloss.Style
	helpStyle      lipgloss.Style
	dialogStyle    lipgloss.Style
	statusBarStyle lipgloss.Style
}

// Option is a functional option for Model
type Option func(*Model)

// WithContext sets the context passed to store calls
func WithContext(ctx context.Context) Option {
	return func(m *Model) {
		m.ctx = ctx
	}
}

// WithUser sets the name shown in the status bar
func WithUser(name string) Option {
	return func(m *Model) {
		m.user = name
	}
}

// Message types
type loadedMsg struct {
	err error
}

type opDoneMsg struct {
	err error
}

// New creates a new TUI model
func New(ctrl *controller.Controller, opts ...Option) *Model {
	ti := textinput.New()
	ti.Placeholder = "What needs to be done?"
	ti.CharLimit = 256

	m := &Model{
		ctrl:      ctrl,
		ctx:       context.Background(),
		textInput: ti,
		mode:      ModeNormal,
		loading:   true,
		paneStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1),
		selectedStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212")),
		completedStyle: lipgloss.NewStyle().
			Strikethrough(true).
			Foreground(lipgloss.Color("240")),
		pendingStyle: lipgloss.NewStyle().
			Italic(true).
			Foreground(lipgloss.Color("245")),
		bannerStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("203")).
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("203")).
			Padding(0, 1),
		helpStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")),
		dialogStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(1, 2),
		statusBarStyle: lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Init loads the list
func (m *Model) Init() tea.Cmd {
	return m.refresh()
}

func (m *Model) refresh() tea.Cmd {
	return func() tea.Msg {
		return loadedMsg{m.ctrl.Refresh(m.ctx)}
	}
}

func (m *Model) createTask(text string) tea.Cmd {
	return func() tea.Msg {
		_, err := m.ctrl.Add(m.ctx, text)
		return opDoneMsg{err}
	}
}

func (m *Model) toggleTask(id string) tea.Cmd {
	return func() tea.Msg {
		return opDoneMsg{m.ctrl.Toggle(m.ctx, id)}
	}
}

func (m *Model) deleteTask(id string) tea.Cmd {
	return func() tea.Msg {
		return opDoneMsg{m.ctrl.Delete(m.ctx, id)}
	}
}

// selected returns the task under the cursor
func (m *Model) selected() (backend.Task, bool) {
	tasks := m.ctrl.Tasks()
	if m.cursor < 0 || m.cursor >= len(tasks) {
		return backend.Task{}, false
	}
	return tasks[m.cursor], true
}

func (m *Model) clampCursor() {
	n := len(m.ctrl.Tasks())
	if m.cursor >= n {
		m.cursor = n - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

// Update handles messages
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case loadedMsg:
		m.loading = false
		m.clampCursor()
		return m, nil

	case opDoneMsg:
		// failures are already on the controller's banner
		m.clampCursor()
		return m, nil

	case tea.KeyMsg:
		switch m.mode {
		case ModeAdd:
			return m.handleAddMode(msg)
		case ModeHelp:
			return m.handleHelpMode(msg)
		case ModeConfirmDelete:
			return m.handleConfirmDeleteMode(msg)
		}

		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit

		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
			return m, nil

		case "down", "j":
			if m.cursor < len(m.ctrl.Tasks())-1 {
				m.cursor++
			}
			return m, nil

		case "a":
			m.mode = ModeAdd
			m.textInput.Reset()
			m.textInput.Focus()
			return m, textinput.Blink

		case " ", "c":
			if task, ok := m.selected(); ok {
				return m, m.toggleTask(task.ID)
			}
			return m, nil

		case "d":
			if _, ok := m.selected(); ok {
				m.mode = ModeConfirmDelete
			}
			return m, nil

		case "r":
			m.loading = true
			return m, m.refresh()

		case "x", "esc":
			m.ctrl.ClearError()
			return m, nil

		case "?":
			m.mode = ModeHelp
			return m, nil
		}
	}

	return m, nil
}

func (m *Model) handleAddMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg.Type {
	case tea.KeyEnter:
		value := strings.TrimSpace(m.textInput.Value())
		m.mode = ModeNormal
		if value != "" {
			return m, m.createTask(value)
		}
		return m, nil

	case tea.KeyEsc:
		m.mode = ModeNormal
		return m, nil
	}

	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

func (m *Model) handleHelpMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc, tea.KeyEnter:
		m.mode = ModeNormal
		return m, nil
	}
	if msg.String() == "q" || msg.String() == "?" {
		m.mode = ModeNormal
	}
	return m, nil
}

func (m *Model) handleConfirmDeleteMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "y", "Y":
		m.mode = ModeNormal
		if task, ok := m.selected(); ok {
			return m, m.deleteTask(task.ID)
		}
		return m, nil

	case "n", "N", "esc":
		m.mode = ModeNormal
		return m, nil
	}
	return m, nil
}

// View renders the TUI
func (m *Model) View() string {
	if m.width == 0 || m.height == 0 {
		m.width = 80
		m.height = 24
	}

	switch m.mode {
	case ModeAdd:
		return m.renderAddDialog()
	case ModeHelp:
		return m.renderHelpDialog()
	case ModeConfirmDelete:
		return m.renderConfirmDeleteDialog()
	}

	var b strings.Builder
	if banner := m.ctrl.Error(); banner != "" {
		b.WriteString(m.bannerStyle.Width(m.width - 2).Render(banner))
		b.WriteString("\n")
	}

	pane := m.paneStyle.Width(m.width - 2).Render(m.renderTaskPane(m.width - 6))
	b.WriteString(pane)
	b.WriteString("\n")
	b.WriteString(m.renderStatusBar())
	return b.String()
}

func (m *Model) renderTaskPane(width int) string {
	var b strings.Builder
	b.WriteString("Focus List\n")
	b.WriteString(strings.Repeat("─", max(width, 1)))
	b.WriteString("\n")

	tasks := m.ctrl.Tasks()
	if len(tasks) == 0 {
		if m.loading {
			b.WriteString("Loading tasks...\n")
		} else {
			b.WriteString("No tasks found\n")
		}
		return b.String()
	}

	for i, task := range tasks {
		cursor := " "
		if i == m.cursor {
			cursor = ">"
		}

		status := "[ ]"
		if task.Completed {
			status = "[✓]"
		}

		text := task.Text
		switch {
		case task.Completed:
			text = m.completedStyle.Render(text)
		case i == m.cursor:
			text = m.selectedStyle.Render(text)
		}

		suffix := ""
		if state, ok := m.ctrl.State(task.ID); ok && state != controller.StateConfirmed {
			suffix = " " + m.pendingStyle.Render("("+state.String()+")")
		}

		fmt.Fprintf(&b, "%s %s %s  %s%s\n", cursor, status, text, m.helpStyle.Render(task.Created), suffix)
	}
	return b.String()
}

// Remaining formats the footer count
func Remaining(n int) string {
	if n == 1 {
		return "1 task remaining"
	}
	return fmt.Sprintf("%d tasks remaining", n)
}

func (m *Model) renderStatusBar() string {
	left := Remaining(m.ctrl.ActiveCount())
	if m.user != "" {
		left = m.user + " · " + left
	}
	right := "a:add  c:toggle  d:delete  ?:help  q:quit"

	padding := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if padding < 1 {
		padding = 1
	}
	return m.statusBarStyle.Width(m.width).Render(left + strings.Repeat(" ", padding) + right)
}

func (m *Model) renderAddDialog() string {
	dialog := m.dialogStyle.Render(
		"Add New Task\n\n" +
			m.textInput.View() + "\n\n" +
			m.helpStyle.Render("Enter: confirm  Esc: cancel"),
	)
	return m.centerDialog(dialog)
}

func (m *Model) renderHelpDialog() string {
	help := `Help - Key Bindings

Navigation:
  j/↓    Move down
  k/↑    Move up

Actions:
  a      Add new task
  c/spc  Toggle task completion
  d      Delete task (with confirm)
  r      Reload from the store
  x      Dismiss error

General:
  ?      Show this help
  q      Quit

Press Esc to close`

	return m.centerDialog(m.dialogStyle.Render(help))
}

func (m *Model) renderConfirmDeleteDialog() string {
	title := "Delete selected task?"
	if task, ok := m.selected(); ok {
		title = fmt.Sprintf("Delete %q?", task.Text)
	}
	dialog := m.dialogStyle.Render(
		title + "\n\n" +
			m.helpStyle.Render("y: yes  n: no"),
	)
	return m.centerDialog(dialog)
}

func (m *Model) centerDialog(dialog string) string {
	lines := strings.Split(dialog, "\n")
	dialogHeight := len(lines)
	dialogWidth := lipgloss.Width(dialog)

	topPad := max((m.height-dialogHeight)/2, 0)
	leftPad := max((m.width-dialogWidth)/2, 0)

	var b strings.Builder
	for i := 0; i < topPad; i++ {
		b.WriteString("\n")
	}
	for _, line := range lines {
		b.WriteString(strings.Repeat(" ", leftPad))
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}
