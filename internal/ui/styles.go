// Package ui renders migrator results for the terminal.
package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Adaptive colors for light and dark terminals.
var (
	ColorPass   = lipgloss.AdaptiveColor{Light: "#2e7d32", Dark: "#8bd17c"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "#b26a00", Dark: "#f5c26b"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "#c62828", Dark: "#ff7b72"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#6b7280", Dark: "#8b949e"}
	ColorAccent = lipgloss.AdaptiveColor{Light: "#1565c0", Dark: "#79c0ff"}
)

var (
	PassStyle    = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle    = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle    = lipgloss.NewStyle().Foreground(ColorFail)
	MutedStyle   = lipgloss.NewStyle().Foreground(ColorMuted)
	AccentStyle  = lipgloss.NewStyle().Foreground(ColorAccent)
	HeaderStyle  = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
	IDStyle      = lipgloss.NewStyle().Bold(true)
	countPadding = lipgloss.NewStyle().Width(8).Align(lipgloss.Right)
)

const (
	IconPass    = "✓"
	IconWarn    = "⚠"
	IconFail    = "✗"
	IconPending = "○"
	IconSkip    = "-"
)

const separator = "────────────────────────────────────────"

func RenderPass(s string) string   { return PassStyle.Render(s) }
func RenderWarn(s string) string   { return WarnStyle.Render(s) }
func RenderFail(s string) string   { return FailStyle.Render(s) }
func RenderMuted(s string) string  { return MutedStyle.Render(s) }
func RenderAccent(s string) string { return AccentStyle.Render(s) }

// RenderHeader renders a section header in uppercase.
func RenderHeader(s string) string {
	return HeaderStyle.Render(strings.ToUpper(s))
}

// RenderSeparator renders a muted horizontal rule.
func RenderSeparator() string {
	return MutedStyle.Render(separator)
}
