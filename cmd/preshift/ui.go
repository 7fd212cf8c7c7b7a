package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/fieldops/preshift/internal/model"
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	titleStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
	labelStyle  = lipgloss.NewStyle().Width(18)
)

func renderPass(s string) string   { return passStyle.Render(s) }
func renderFail(s string) string   { return failStyle.Render(s) }
func renderWarn(s string) string   { return warnStyle.Render(s) }
func renderAccent(s string) string { return accentStyle.Render(s) }
func renderMuted(s string) string  { return mutedStyle.Render(s) }

func renderResult(r model.Result) string {
	if r == model.ResultPass {
		return renderPass(string(r))
	}
	return renderFail(string(r))
}

func renderSyncStatus(s model.SyncStatus) string {
	switch s {
	case model.SyncSynced:
		return renderPass(string(s))
	case model.SyncError:
		return renderFail(string(s))
	default:
		return renderWarn(string(s))
	}
}

func renderPriority(p model.Priority) string {
	switch p {
	case model.PriorityHigh:
		return renderFail(string(p))
	case model.PriorityMed:
		return renderWarn(string(p))
	default:
		return renderMuted(string(p))
	}
}

// printField writes an aligned "label value" line.
func printField(w io.Writer, label string, value any) {
	fmt.Fprintf(w, "  %s %v\n", labelStyle.Render(label), value)
}

func printTitle(w io.Writer, title string) {
	fmt.Fprintf(w, "\n%s\n", titleStyle.Render(title))
}

func formatWhen(t time.Time) string {
	if t.IsZero() {
		return renderMuted("never")
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func indent(s string) string {
	return "    " + strings.ReplaceAll(s, "\n", "\n    ")
}
