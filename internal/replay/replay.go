// Package replay renders a stored thread transcript for the terminal, one
// styled line per message with sender attribution and wrapped content.
package replay

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/sheetpilot/sheetpilot/internal/session"
)

// Sender color scheme - each sender has a distinct, consistent color.
var (
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")) // Gray - timestamps, metadata

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")) // White bold - headers

	userStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")) // White bold

	supervisorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")) // Yellow

	clarifierStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14")) // Cyan

	editStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")) // Blue

	verifierStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("13")) // Magenta

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")) // Green

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")) // Red

	divider = lipgloss.NewStyle().
		Foreground(lipgloss.Color("8")).
		Render(strings.Repeat("━", 60))
)

// Renderer writes a static transcript view.
type Renderer struct {
	output io.Writer
	width  int
}

// New creates a renderer wrapping content at width columns.
func New(output io.Writer, width int) *Renderer {
	if width <= 0 {
		width = 100
	}
	return &Renderer{output: output, width: width}
}

// Render prints the full thread: header, messages, status footer.
func (r *Renderer) Render(s *session.State) {
	fmt.Fprintln(r.output, divider)
	fmt.Fprintf(r.output, "%s %s\n", titleStyle.Render("Thread:"), s.ThreadID)
	fmt.Fprintf(r.output, "%s %s\n", dimStyle.Render("File:"), s.CSVPath)
	fmt.Fprintf(r.output, "%s %s\n", dimStyle.Render("Started:"), s.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintln(r.output, divider)

	for _, m := range s.Messages {
		r.renderMessage(m)
	}

	fmt.Fprintln(r.output, divider)
	fmt.Fprintf(r.output, "%s %s\n", dimStyle.Render("Status:"), r.statusLabel(s))
}

func (r *Renderer) renderMessage(m session.Message) {
	ts := dimStyle.Render(m.Timestamp.Format("15:04:05"))
	label := r.senderLabel(m)
	fmt.Fprintf(r.output, "%s %s\n", ts, label)

	wrapped := wordwrap.String(m.Content, r.width-4)
	for _, line := range strings.Split(wrapped, "\n") {
		fmt.Fprintf(r.output, "    %s\n", line)
	}
}

func (r *Renderer) senderLabel(m session.Message) string {
	switch m.Sender {
	case session.SenderUser:
		return userStyle.Render("USER")
	case session.SenderSupervisor:
		return supervisorStyle.Render("SUPERVISOR")
	case session.SenderClarifier:
		return clarifierStyle.Render("CLARIFIER")
	case session.SenderEdit:
		return editStyle.Render("EDIT")
	case session.SenderVerifier:
		return verifierStyle.Render("VERIFIER")
	case session.SenderTool:
		if strings.HasPrefix(m.Content, "Error:") {
			return errorStyle.Render("TOOL")
		}
		return successStyle.Render("TOOL")
	default:
		return dimStyle.Render(strings.ToUpper(m.Sender))
	}
}

func (r *Renderer) statusLabel(s *session.State) string {
	switch s.Status {
	case session.StatusComplete:
		return successStyle.Render(s.Status)
	case session.StatusFailed:
		return errorStyle.Render(s.Status)
	case session.StatusNeedsInput:
		return supervisorStyle.Render(s.Status + " - " + s.InterruptMessage)
	default:
		return s.Status
	}
}
