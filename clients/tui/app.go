// Package tui is a minimal terminal client for the runtime's transport
// RPC surface: it subscribes to the event bus over WebSocket and renders a
// live, scrolling transcript of one session's node visits and assistant
// text, with a single-line input for Chat's autorouting RPC.
package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	tea "charm.land/bubbletea/v2"
	"charm.land/bubbles/v2/textinput"
	"charm.land/bubbles/v2/viewport"
	"charm.land/lipgloss/v2"
	"github.com/charmbracelet/glamour"
	"golang.org/x/term"

	"github.com/flowgraph-labs/agentrt/clients/rtws"
	"github.com/flowgraph-labs/agentrt/internal/events"
)

var (
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#7C3AED")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	nodeStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280")).Italic(true)
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true)
	headerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF")).Background(lipgloss.Color("#1E293B")).Bold(true).Padding(0, 1)
)

// eventMsg wraps one AgentEvent delivered off the WS subscription.
type eventMsg events.AgentEvent

// wsErrMsg reports a connection error from the background read loop.
type wsErrMsg struct{ err error }

// Model is the root bubbletea model.
type Model struct {
	client    *rtws.Client
	sessionID string
	events    <-chan eventMsg
	errs      <-chan wsErrMsg

	viewport viewport.Model
	input    textinput.Model
	lines    []string
	width    int
	height   int
	quitting bool
}

// Run dials url, subscribes to every event for sessionID's graph, and runs
// the TUI until the user quits or the connection drops.
func Run(ctx context.Context, url, sessionID string) error {
	client, err := rtws.Dial(ctx, url)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer client.Close()

	if err := client.Subscribe(events.Filter{Stream: sessionID}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	evCh := make(chan eventMsg, 64)
	errCh := make(chan wsErrMsg, 1)
	go func() {
		for {
			frame, err := client.ReadFrame()
			if err != nil {
				errCh <- wsErrMsg{err}
				return
			}
			if frame.Event == "" {
				continue
			}
			var e events.AgentEvent
			if jsonErr := json.Unmarshal(frame.Payload, &e); jsonErr != nil {
				continue
			}
			evCh <- eventMsg(e)
		}
	}()

	m := newModel(client, sessionID, evCh, errCh)
	_, err = tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

func newModel(client *rtws.Client, sessionID string, evCh <-chan eventMsg, errCh <-chan wsErrMsg) Model {
	ti := textinput.New()
	ti.Placeholder = "say something..."
	ti.Focus()

	width, height := 80, 20
	if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
		width, height = w, h
	}
	vp := viewport.New(width, height-3)

	return Model{client: client, sessionID: sessionID, events: evCh, errs: errCh, viewport: vp, input: ti, width: width, height: height}
}

func waitForEvent(ch <-chan eventMsg) tea.Cmd {
	return func() tea.Msg { return <-ch }
}

func waitForErr(ch <-chan wsErrMsg) tea.Cmd {
	return func() tea.Msg { return <-ch }
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.events), waitForErr(m.errs))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.viewport.Width = m.width
		m.viewport.Height = m.height - 3
		return m, nil

	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "enter":
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, nil
			}
			m.appendLine(userStyle.Render("you: ") + text)
			m.input.SetValue("")
			if err := m.client.Chat(m.sessionID, text); err != nil {
				m.appendLine(errorStyle.Render("send failed: " + err.Error()))
			}
			return m, nil
		}

	case eventMsg:
		if line := renderEvent(events.AgentEvent(msg)); line != "" {
			m.appendLine(line)
		}
		return m, waitForEvent(m.events)

	case wsErrMsg:
		m.appendLine(errorStyle.Render("connection lost: " + msg.err.Error()))
		m.quitting = true
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) appendLine(line string) {
	m.lines = append(m.lines, line)
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	m.viewport.GotoBottom()
}

func renderEvent(e events.AgentEvent) string {
	switch e.Type {
	case events.ClientOutputDelta:
		if delta, ok := e.Payload["delta"].(string); ok && delta != "" {
			return assistantStyle.Render(delta)
		}
		return ""
	case events.NodeLoopCompleted:
		rendered, err := glamour.Render(fmt.Sprintf("node `%s` completed", e.NodeID), "dark")
		if err != nil {
			return nodeStyle.Render(fmt.Sprintf("[%s] completed", e.NodeID))
		}
		return nodeStyle.Render(strings.TrimRight(rendered, "\n"))
	case events.ExecutionFailed:
		return errorStyle.Render(fmt.Sprintf("[%s] failed: %v", e.NodeID, e.Payload["error"]))
	default:
		return nodeStyle.Render(fmt.Sprintf("[%s] %s", e.NodeID, e.Type))
	}
}

func (m Model) View() string {
	if m.quitting {
		return "bye\n"
	}
	header := headerStyle.Render(fmt.Sprintf(" agentrt · session %s ", m.sessionID))
	return fmt.Sprintf("%s\n%s\n%s", header, m.viewport.View(), m.input.View())
}
