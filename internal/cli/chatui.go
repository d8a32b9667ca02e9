package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"charm.land/bubbles/v2/textinput"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/parley/internal/chat"
	"github.com/raphaelgruber/parley/internal/session"
)

// Theme holds the color scheme for the chat display.
type Theme struct {
	User      lipgloss.Color
	Assistant lipgloss.Color
	Error     lipgloss.Color
	Hint      lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	User:      lipgloss.Color("#5FAFD7"), // light blue
	Assistant: lipgloss.Color("#00D787"), // green
	Error:     lipgloss.Color("#FF005F"), // red
	Hint:      lipgloss.Color("#6C6C6C"), // dim gray
}

// Style functions for dynamic theming
func (t Theme) userStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.User).Bold(true)
}

func (t Theme) assistantStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Assistant).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// turnStartedMsg carries the stream for the reply in flight.
type turnStartedMsg struct {
	stream *session.TurnStream
}

// fragmentMsg carries one reply fragment.
type fragmentMsg struct {
	text string
}

// turnDoneMsg signals normal completion of the current turn.
type turnDoneMsg struct{}

// turnErrMsg carries a turn failure; the partial reply was discarded.
type turnErrMsg struct {
	err error
}

// chatUIModel is the bubbletea model for the interactive conversation.
type chatUIModel struct {
	ctx         context.Context
	sess        *session.Session
	input       textinput.Model
	theme       Theme
	transcript  []string
	attachments []chat.Attachment
	pending     string
	stream      *session.TurnStream
	streaming   bool
	quitting    bool
}

// newChatUIModel creates a new chat model. attachments go out with the next
// message sent.
func newChatUIModel(ctx context.Context, sess *session.Session, attachments []chat.Attachment) chatUIModel {
	ti := textinput.New()
	ti.Placeholder = "Type a message"
	ti.Focus()

	return chatUIModel{
		ctx:         ctx,
		sess:        sess,
		input:       ti,
		theme:       defaultTheme,
		attachments: attachments,
	}
}

// Init returns the initial command.
func (m chatUIModel) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles messages and returns the updated model.
func (m chatUIModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.quitting = true
			if m.stream != nil {
				_ = m.stream.Close()
			}
			return m, tea.Quit
		case "enter":
			text := strings.TrimSpace(m.input.Value())
			if m.streaming || text == "" {
				return m, nil
			}
			m.transcript = append(m.transcript,
				m.theme.userStyle().Render("you")+"  "+text)
			m.input.Reset()
			m.streaming = true
			atts := m.attachments
			m.attachments = nil
			return m, m.startTurn(text, atts)
		}

	case turnStartedMsg:
		m.stream = msg.stream
		m.pending = ""
		return m, m.readFragment()

	case fragmentMsg:
		m.pending += msg.text
		return m, m.readFragment()

	case turnDoneMsg:
		m.transcript = append(m.transcript,
			m.theme.assistantStyle().Render(m.sess.Model())+"  "+m.pending)
		m.pending = ""
		m.stream = nil
		m.streaming = false
		return m, nil

	case turnErrMsg:
		m.transcript = append(m.transcript,
			m.theme.errorStyle().Render("✗ "+msg.err.Error()))
		m.pending = ""
		m.stream = nil
		m.streaming = false
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the conversation display.
func (m chatUIModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

// renderContent builds the display string.
func (m chatUIModel) renderContent() string {
	var b strings.Builder

	for _, line := range m.transcript {
		b.WriteString(line)
		b.WriteString("\n")
	}

	if m.streaming {
		b.WriteString(m.theme.assistantStyle().Render(m.sess.Model()) + "  " + m.pending)
		b.WriteString("\n")
	} else {
		b.WriteString(m.input.View())
		b.WriteString("\n")
	}

	b.WriteString(m.theme.hintStyle().Render("Enter to send, Esc to quit"))
	b.WriteString("\n")
	return b.String()
}

// startTurn sends the user message. Runs as a command to keep Update
// non-blocking; only the first fragment is awaited inside Send.
func (m chatUIModel) startTurn(text string, atts []chat.Attachment) tea.Cmd {
	return func() tea.Msg {
		userMsg, err := chat.NewUserMessage(text, atts...)
		if err != nil {
			return turnErrMsg{err: err}
		}
		turn, err := m.sess.Send(m.ctx, userMsg)
		if err != nil {
			return turnErrMsg{err: err}
		}
		return turnStartedMsg{stream: turn.Stream}
	}
}

// readFragment pulls the next fragment from the reply stream.
func (m chatUIModel) readFragment() tea.Cmd {
	return func() tea.Msg {
		frag, err := m.stream.Recv()
		switch {
		case err == io.EOF:
			return turnDoneMsg{}
		case err != nil:
			return turnErrMsg{err: err}
		}
		return fragmentMsg{text: frag}
	}
}

// runChatUI runs the interactive conversation UI.
func runChatUI(ctx context.Context, sess *session.Session, attachments []chat.Attachment) error {
	model := newChatUIModel(ctx, sess, attachments)
	p := tea.NewProgram(model)

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("chat UI error: %w", err)
	}
	return nil
}
