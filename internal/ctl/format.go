// Package ctl implements the client-side commands for pikkactl.
// It talks to a running pikkad over HTTP and WebSocket and renders the results to the terminal.
package ctl

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/large-farva/pikka-console/internal/render"
)

// ANSI escape codes for terminal formatting.
const (
	reset   = "\033[0m"
	bold    = "\033[1m"
	dim     = "\033[2m"
	red     = "\033[31m"
	green   = "\033[32m"
	yellow  = "\033[33m"
	blue    = "\033[34m"
	magenta = "\033[35m"
	cyan    = "\033[36m"
	white   = "\033[37m"
)

// colorEnabled reports whether stdout is a terminal. When output is piped
// or redirected, ANSI escape codes are suppressed.
func colorEnabled() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// stateColor returns the ANSI color code appropriate for a daemon state.
func stateColor(state string) string {
	if !colorEnabled() {
		return ""
	}
	switch state {
	case "LISTENING":
		return green
	case "STOPPING":
		return yellow
	case "BOOTING":
		return dim
	default:
		return white
	}
}

// bucketColor matches the viewer's palette as closely as a terminal allows.
func bucketColor(tab render.Tab) string {
	switch tab {
	case render.TabLog:
		return blue
	case render.TabInfo:
		return cyan
	case render.TabWarn:
		return yellow
	case render.TabError:
		return red
	default:
		return white
	}
}

// colorize wraps text with an ANSI color sequence.
// Returns the text unchanged when color output is disabled.
func colorize(color, text string) string {
	if !colorEnabled() {
		return text
	}
	return color + text + reset
}

// header returns a bold section header, or plain text when color is off.
func header(title string) string {
	if colorEnabled() {
		return bold + title + reset
	}
	return title
}

func rule(width int) string {
	return colorize(dim, "  "+strings.Repeat("─", width))
}

// padRight pads s with spaces to reach the given width.
func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

// formatDuration renders a time.Duration as a compact human string like
// "2h 14m 8s" or "45s".
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// formatRow renders one entry as a single line, plus indented stack and
// cause lines for errors.
func formatRow(r render.Row) string {
	var b strings.Builder
	label := strings.ToUpper(string(r.Bucket))
	if r.Name != "" {
		label = r.Name
	}
	fmt.Fprintf(&b, "  %s %s  %s",
		colorize(dim, r.Time().Format("15:04:05")),
		colorize(bucketColor(r.Bucket), padRight(label, 5)),
		r.Message,
	)
	if r.Source.URL != "" {
		fmt.Fprintf(&b, "  %s", colorize(dim, r.Source.URL))
	}
	b.WriteByte('\n')
	if r.Cause != "" {
		fmt.Fprintf(&b, "      %s %s\n", colorize(dim, "cause:"), r.Cause)
	}
	if r.Stack != "" {
		for _, line := range strings.Split(strings.TrimRight(r.Stack, "\n"), "\n") {
			fmt.Fprintf(&b, "      %s\n", colorize(dim, strings.TrimSpace(line)))
		}
	}
	return b.String()
}
