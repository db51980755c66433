package cli

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// palette styles human output. Styling is off unless out is a terminal.
type palette struct {
	enabled bool
	header  lipgloss.Style
	unread  lipgloss.Style
	dim     lipgloss.Style
	self    lipgloss.Style
}

func newPalette(out io.Writer, noColor bool) palette {
	p := palette{
		enabled: !noColor && os.Getenv("NO_COLOR") == "" && isTerminal(out),
		header:  lipgloss.NewStyle().Bold(true).Underline(true),
		unread:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		dim:     lipgloss.NewStyle().Faint(true),
		self:    lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
	}
	return p
}

func (p palette) render(style lipgloss.Style, value string) string {
	if !p.enabled || value == "" {
		return value
	}
	return style.Render(value)
}

func (p palette) headers(values ...string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = p.render(p.header, v)
	}
	return out
}

func isTerminal(out io.Writer) bool {
	f, ok := out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
