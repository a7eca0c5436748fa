package viz

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	Title       lipgloss.Style
	HeaderStyle lipgloss.Style
	Label       lipgloss.Style
	Value       lipgloss.Style
	Subtle      lipgloss.Style
	StatusOK    lipgloss.Style
	StatusWarn  lipgloss.Style
	StatusFail  lipgloss.Style
	Panel       lipgloss.Style
)

func init() {
	applyTheme(CurrentTheme)
}

func applyTheme(t Theme) {
	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(t.Primary)

	HeaderStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(t.Text).
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		BorderForeground(t.Muted)

	Label = lipgloss.NewStyle().Foreground(t.Muted)
	Value = lipgloss.NewStyle().Foreground(t.Primary).Bold(true)
	Subtle = lipgloss.NewStyle().Foreground(t.Muted)

	StatusOK = lipgloss.NewStyle().Bold(true).Foreground(t.Success)
	StatusWarn = lipgloss.NewStyle().Bold(true).Foreground(t.Warning)
	StatusFail = lipgloss.NewStyle().Bold(true).Foreground(t.Error)

	Panel = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(t.Muted).
		Padding(0, 1)
}

// KV renders "label: value" with the value formatted like %v, or %.6g for
// floats.
func KV(label string, value any) string {
	var s string
	switch v := value.(type) {
	case float64:
		s = fmt.Sprintf("%.6g", v)
	default:
		s = fmt.Sprint(v)
	}
	return Label.Render(label+":") + " " + Value.Render(s)
}

// Status renders a pass/fail word.
func Status(ok bool) string {
	if ok {
		return StatusOK.Render("ok")
	}
	return StatusFail.Render("FAIL")
}

// ErrorLevel colours a relative derivative error: ok below tol, warn below
// 100*tol, fail otherwise.
func ErrorLevel(rel, tol float64) string {
	s := fmt.Sprintf("%.3e", rel)
	switch {
	case math.IsNaN(rel) || rel >= 100*tol:
		return StatusFail.Render(s)
	case rel >= tol:
		return StatusWarn.Render(s)
	}
	return StatusOK.Render(s)
}

// SparklineChart renders values as a one-line bar chart of at most width
// cells.
func SparklineChart(values []float64, width int) string {
	if len(values) == 0 {
		return strings.Repeat("─", width)
	}

	chars := []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

	min, max := values[0], values[0]
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	rng := max - min
	if rng == 0 {
		rng = 1
	}

	step := len(values) / width
	if step < 1 {
		step = 1
	}

	var result strings.Builder
	for i := 0; i < width && i*step < len(values); i++ {
		norm := (values[i*step] - min) / rng
		idx := int(norm * float64(len(chars)-1))
		if idx >= len(chars) {
			idx = len(chars) - 1
		}
		if idx < 0 {
			idx = 0
		}
		result.WriteRune(chars[idx])
	}

	return Value.Render(result.String())
}

func Separator(width int) string {
	mid := width / 2
	left := strings.Repeat("─", mid-3)
	right := strings.Repeat("─", width-mid-3)
	return Subtle.Render(left + " ◆ " + right)
}
