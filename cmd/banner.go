package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	accentColor = lipgloss.Color("#7D56F4")
	okColor     = lipgloss.Color("#04B575")
	errColor    = lipgloss.Color("#FF5F87")
)

// newRenderer returns a lipgloss renderer for w that honours NO_COLOR and
// CLICOLOR_FORCE.
func newRenderer(w io.Writer) *lipgloss.Renderer {
	return lipgloss.NewRenderer(w, termenv.WithProfile(termenv.EnvColorProfile()))
}

// printBanner writes the startup banner to stdout. It is the only output
// visible in the terminal during normal operation; all structured logs go
// to the log file instead.
func printBanner(version, serverURL, logFile, providersFile string) {
	r := newRenderer(os.Stdout)
	title := r.NewStyle().Bold(true).Foreground(accentColor)
	label := r.NewStyle().Faint(true).Width(11)
	box := r.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(accentColor).
		Padding(0, 2)

	row := func(k, v string) string {
		return lipgloss.JoinHorizontal(lipgloss.Top, label.Render(k), v)
	}

	body := lipgloss.JoinVertical(lipgloss.Left,
		title.Render("dispatchd "+version),
		"",
		row("API", serverURL+"/api"),
		row("Metrics", serverURL+"/metrics"),
		row("Providers", providersFile),
		row("Logs", logFile),
	)
	fmt.Println(box.Render(body))
}
