package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/jdziat/durable-outbox/pkg/scheduler"
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#2E7D32", Dark: "#66BB6A"})
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#B26A00", Dark: "#FFB74D"})
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#B02A2A"))
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#1565C0", Dark: "#64B5F6"})
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	pillStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
)

func renderPass(s string) string   { return passStyle.Render(s) }
func renderWarn(s string) string   { return warnStyle.Render(s) }
func renderFail(s string) string   { return failStyle.Render(s) }
func renderAccent(s string) string { return accentStyle.Render(s) }
func renderMuted(s string) string  { return mutedStyle.Render(s) }

// renderState draws the status line: connectivity pill, pending pill and
// the last application error, if any.
func renderState(st scheduler.State) string {
	conn := pillStyle.Background(lipgloss.Color("#9E9E9E")).Foreground(lipgloss.Color("#FFFFFF")).Render("Offline")
	if st.IsOnline {
		conn = pillStyle.Background(lipgloss.Color("#2E7D32")).Foreground(lipgloss.Color("#FFFFFF")).Render("Online")
	}
	pending := pillStyle.Background(lipgloss.Color("#37474F")).Foreground(lipgloss.Color("#FFFFFF")).
		Render(fmt.Sprintf("Pending: %d", st.Pending))

	out := lipgloss.JoinHorizontal(lipgloss.Center, conn, " ", pending)
	if st.Syncing {
		out = lipgloss.JoinHorizontal(lipgloss.Center, out, " ", renderAccent("syncing…"))
	}
	if st.LastError != "" {
		out += "\n" + renderFail("Sync error: "+st.LastError)
	}
	return out
}
