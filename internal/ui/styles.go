// Package ui provides terminal output styling for the CLI.
package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/pocketdo/pocketdo/internal/task"
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10")) // green
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11")) // yellow
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))  // red
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("14")) // cyan
	dimStyle    = lipgloss.NewStyle().Faint(true)
	titleStyle  = lipgloss.NewStyle().Bold(true)
)

// RenderPass styles success markers.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn styles warning markers.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderFail styles failure markers.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderAccent styles informational markers.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderDim styles secondary detail.
func RenderDim(s string) string { return dimStyle.Render(s) }

// RenderTitle styles task titles.
func RenderTitle(s string) string { return titleStyle.Render(s) }

// RenderPriority styles a priority label by severity.
func RenderPriority(p task.Priority) string {
	switch p {
	case task.PriorityHigh:
		return failStyle.Render(string(p))
	case task.PriorityMedium:
		return warnStyle.Render(string(p))
	default:
		return dimStyle.Render(string(p))
	}
}

// RenderRecordStatus styles a record's sync lifecycle status.
func RenderRecordStatus(s task.RecordStatus) string {
	switch s {
	case task.StatusClean:
		return passStyle.Render(string(s))
	case task.StatusDirty:
		return warnStyle.Render(string(s))
	default:
		return dimStyle.Render(string(s))
	}
}
