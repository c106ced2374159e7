// Package tui is the interactive terminal renderer: a bubbletea chat view
// over the agent loop, with streamed text, tool activity, and context usage
// in the status bar.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/nstogner/pare/pkg/agent"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#5F5FD7")).
			Padding(0, 1)

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("2")).
			Bold(true)

	toolStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("6"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))
)

// Runner starts a task and streams events back through the returned channel
// until a Done event (or error) arrives.
type Runner func(ctx context.Context, task string) (<-chan agent.Event, <-chan error)

// eventMsg and errMsg adapt the agent's events to bubbletea's message flow.
type eventMsg struct{ event agent.Event }
type errMsg struct{ err error }

// Model is the bubbletea model for the chat session.
type Model struct {
	ctx    context.Context
	runner Runner

	viewport viewport.Model
	textarea textarea.Model
	renderer *glamour.TermRenderer

	transcript strings.Builder
	current    strings.Builder
	thinking   bool
	running    bool

	events <-chan agent.Event
	errs   <-chan error

	contextUsed  int
	contextTotal int
	width        int
	height       int
	profileName  string
	modelName    string
	err          error
}

// New builds the TUI model.
func New(ctx context.Context, runner Runner, profileName, modelName string) Model {
	ta := textarea.New()
	ta.Placeholder = "Describe a task... (ctrl+c to quit)"
	ta.Focus()
	ta.Prompt = "┃ "
	ta.SetWidth(80)
	ta.SetHeight(3)
	ta.ShowLineNumbers = false
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()

	vp := viewport.New(80, 20)
	vp.SetContent("Welcome to pare. Type a task and press enter.")

	// The standard style avoids terminal queries that leak into input.
	renderer, _ := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(78),
	)

	return Model{
		ctx:         ctx,
		runner:      runner,
		viewport:    vp,
		textarea:    ta,
		renderer:    renderer,
		profileName: profileName,
		modelName:   modelName,
	}
}

func (m Model) Init() tea.Cmd {
	return textarea.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var taCmd, vpCmd tea.Cmd

	if !m.running {
		m.textarea, taCmd = m.textarea.Update(msg)
		cmds = append(cmds, taCmd)
	}
	m.viewport, vpCmd = m.viewport.Update(msg)
	cmds = append(cmds, vpCmd)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-m.textarea.Height()-3, 0)
		m.textarea.SetWidth(msg.Width)
		m.renderer, _ = glamour.NewTermRenderer(
			glamour.WithStandardStyle("dark"),
			glamour.WithWordWrap(max(msg.Width-4, 20)),
		)

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit
		case tea.KeyEnter:
			if m.running {
				break
			}
			task := strings.TrimSpace(m.textarea.Value())
			if task == "" {
				break
			}
			m.textarea.Reset()
			m.transcript.WriteString(userStyle.Render("you") + " " + task + "\n\n")
			m.refresh()
			m.running = true
			m.current.Reset()
			m.events, m.errs = m.runner(m.ctx, task)
			return m, m.waitForEvent()
		}

	case eventMsg:
		m.handleEvent(msg.event)
		if m.running {
			return m, m.waitForEvent()
		}

	case errMsg:
		m.running = false
		m.err = msg.err
		m.transcript.WriteString(errorStyle.Render("error: "+msg.err.Error()) + "\n\n")
		m.refresh()
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) waitForEvent() tea.Cmd {
	events, errs := m.events, m.errs
	return func() tea.Msg {
		select {
		case ev, ok := <-events:
			if !ok {
				return errMsg{err: fmt.Errorf("event stream closed")}
			}
			return eventMsg{event: ev}
		case err := <-errs:
			return errMsg{err: err}
		}
	}
}

func (m *Model) handleEvent(ev agent.Event) {
	switch ev := ev.(type) {
	case agent.TextChunk:
		if m.thinking {
			m.thinking = false
			m.transcript.WriteString("\n")
		}
		m.current.WriteString(ev.Text)
		m.refreshStreaming()
	case agent.ThinkingChunk:
		m.thinking = true
	case agent.ToolCallEvent:
		m.flushCurrent()
		m.transcript.WriteString(toolStyle.Render(fmt.Sprintf("→ %s(%s)", ev.Name, ev.ArgsSummary)) + "\n")
		m.refresh()
	case agent.ToolResultEvent:
		m.transcript.WriteString(toolStyle.Render("  "+ev.Summary) + "\n")
		m.refresh()
	case agent.CacheHitEvent:
		m.transcript.WriteString(statusStyle.Render("  ⚡ cache hit: "+ev.Path) + "\n")
		m.refresh()
	case agent.LoopWarning:
		m.transcript.WriteString(errorStyle.Render("  ↻ loop intercepted: "+ev.ToolName) + "\n")
		m.refresh()
	case agent.ContextUpdate:
		m.contextUsed = ev.Used
		m.contextTotal = ev.Total
	case agent.HookOutput:
		if ev.ExitCode != 0 {
			m.transcript.WriteString(errorStyle.Render(fmt.Sprintf("  ⚙ %s exit %d", ev.Command, ev.ExitCode)) + "\n")
			m.refresh()
		}
	case agent.ToolBudgetHit:
		m.transcript.WriteString(errorStyle.Render(fmt.Sprintf("  tool budget reached (%d calls)", ev.Limit)) + "\n")
		m.refresh()
	case agent.Done:
		m.flushCurrent()
		m.transcript.WriteString(statusStyle.Render(fmt.Sprintf(
			"── %d tool calls · %d in / %d out tokens · %ds ──",
			ev.Stats.ToolCalls, ev.Stats.InputTokens, ev.Stats.OutputTokens, ev.Stats.DurationSecs)) + "\n\n")
		m.running = false
		m.refresh()
	}
}

// flushCurrent renders the streamed assistant text through glamour and
// commits it to the transcript.
func (m *Model) flushCurrent() {
	if m.current.Len() == 0 {
		return
	}
	text := m.current.String()
	if m.renderer != nil {
		if rendered, err := m.renderer.Render(text); err == nil {
			text = rendered
		}
	}
	m.transcript.WriteString(text + "\n")
	m.current.Reset()
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.transcript.String())
	m.viewport.GotoBottom()
}

func (m *Model) refreshStreaming() {
	m.viewport.SetContent(m.transcript.String() + m.current.String())
	m.viewport.GotoBottom()
}

func (m Model) View() string {
	header := titleStyle.Render("pare") + " " +
		statusStyle.Render(fmt.Sprintf("%s · %s%s", m.profileName, m.modelName, m.contextStatus()))
	return header + "\n" + m.viewport.View() + "\n" + m.textarea.View()
}

func (m Model) contextStatus() string {
	if m.contextTotal == 0 {
		return ""
	}
	return fmt.Sprintf(" · ctx %d%%", m.contextUsed*100/m.contextTotal)
}
