package cli

import (
	"bufio"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

const columnGap = 2

// table aligns columns by display width, so styled cells and wide runes line
// up the same as plain ASCII.
type table struct {
	rows   [][]string
	widths []int
}

func newTable(headers []string, rows [][]string) *table {
	t := &table{}
	if len(headers) > 0 {
		t.add(headers)
	}
	for _, row := range rows {
		t.add(row)
	}
	return t
}

func (t *table) add(row []string) {
	for len(t.widths) < len(row) {
		t.widths = append(t.widths, 0)
	}
	for i, cell := range row {
		t.widths[i] = max(t.widths[i], lipgloss.Width(cell))
	}
	t.rows = append(t.rows, row)
}

func (t *table) write(out io.Writer) error {
	if len(t.widths) == 0 {
		return nil
	}
	w := bufio.NewWriter(out)
	last := len(t.widths) - 1
	for _, row := range t.rows {
		var line strings.Builder
		for i := 0; i <= last; i++ {
			var cell string
			if i < len(row) {
				cell = row[i]
			}
			line.WriteString(cell)
			if i < last {
				line.WriteString(strings.Repeat(" ", t.widths[i]-lipgloss.Width(cell)+columnGap))
			}
		}
		line.WriteByte('\n')
		if _, err := w.WriteString(line.String()); err != nil {
			return err
		}
	}
	return w.Flush()
}

func writeTable(out io.Writer, headers []string, rows [][]string) error {
	return newTable(headers, rows).write(out)
}

// truncate shortens value to width display columns.
func truncate(value string, width int) string {
	if width <= 0 || runewidth.StringWidth(value) <= width {
		return value
	}
	return runewidth.Truncate(value, width, "…")
}

func formatYesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
