package logging

import (
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var colorProfileOnce sync.Once

func shouldPrettyPrint() bool {
	term := strings.TrimSpace(os.Getenv("TERM"))
	if term == "" || term == "dumb" {
		return false
	}
	return os.Getenv("NO_COLOR") == ""
}

func ensureColorProfile() {
	colorProfileOnce.Do(func() {
		lipgloss.SetColorProfile(termenv.TrueColor)
	})
}

// FormatEventANSI renders one event as a colored terminal line. JSON-shaped
// fields are rendered as boxed blocks under the line.
func FormatEventANSI(event Event) string {
	ensureColorProfile()
	ts := lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Render(event.Time.Format("15:04:05.000"))
	label, badge := levelBadge(event.Level)
	msg := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252")).Render(event.Message)

	line := lipgloss.JoinHorizontal(lipgloss.Center, ts, " ", badge.Render(label), " ", msg)
	if len(event.Fields) == 0 {
		return line + "\n"
	}

	keyStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("117"))
	valStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	sepStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("238"))

	inline := make([]string, 0, len(event.Fields))
	blocks := make([]string, 0, len(event.Fields))
	for _, key := range orderedFieldKeys(event.Fields) {
		if pretty, ok := prettyJSONString(event.Fields[key]); ok {
			blocks = append(blocks, renderJSONBlock(key, pretty))
			continue
		}
		inline = append(inline, keyStyle.Render(key)+sepStyle.Render("=")+valStyle.Render(formatFieldValue(event.Fields[key])))
	}
	if len(inline) > 0 {
		line += "  " + strings.Join(inline, " ")
	}
	for _, block := range blocks {
		line += "\n  " + block
	}
	return line + "\n"
}

func levelBadge(level slog.Level) (string, lipgloss.Style) {
	base := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	switch {
	case level <= slog.LevelDebug:
		return "DEBUG", base.Foreground(lipgloss.Color("255")).Background(lipgloss.Color("240"))
	case level <= slog.LevelInfo:
		return "INFO", base.Foreground(lipgloss.Color("230")).Background(lipgloss.Color("31"))
	case level <= slog.LevelWarn:
		return "WARN", base.Foreground(lipgloss.Color("234")).Background(lipgloss.Color("214"))
	default:
		return "ERROR", base.Foreground(lipgloss.Color("231")).Background(lipgloss.Color("160"))
	}
}

func renderJSONBlock(key string, pretty string) string {
	header := lipgloss.NewStyle().Foreground(lipgloss.Color("117")).Render(key) +
		lipgloss.NewStyle().Foreground(lipgloss.Color("238")).Render("=")
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("245")).
		Padding(0, 1).
		Render(colorizeJSON(pretty))
	return header + "\n" + box
}

func colorizeJSON(pretty string) string {
	punct := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	text := lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	lines := strings.Split(pretty, "\n")
	for i, line := range lines {
		var b strings.Builder
		inString := false
		escaped := false
		for _, r := range line {
			switch {
			case r == '"':
				b.WriteString(punct.Render(string(r)))
				if !escaped {
					inString = !inString
				}
				escaped = false
			case inString && r == '\\':
				b.WriteString(text.Render(string(r)))
				escaped = !escaped
			case !inString && strings.ContainsRune("{}[]:,", r):
				b.WriteString(punct.Render(string(r)))
				escaped = false
			case r == ' ' || r == '\t':
				b.WriteRune(r)
				escaped = false
			default:
				b.WriteString(text.Render(string(r)))
				escaped = false
			}
		}
		lines[i] = b.String()
	}
	return strings.Join(lines, "\n")
}
