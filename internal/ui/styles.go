// Package ui provides terminal styling for fb CLI output.
// Uses the Ayu color theme with adaptive light/dark mode support.
package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/feedbackkit/fb/internal/types"
)

// Ayu theme color palette
var (
	ColorPass = lipgloss.AdaptiveColor{
		Light: "#86b300",
		Dark:  "#c2d94c",
	}
	ColorWarn = lipgloss.AdaptiveColor{
		Light: "#f2ae49",
		Dark:  "#ffb454",
	}
	ColorFail = lipgloss.AdaptiveColor{
		Light: "#f07171",
		Dark:  "#f07178",
	}
	ColorMuted = lipgloss.AdaptiveColor{
		Light: "#828c99",
		Dark:  "#6c7680",
	}
	ColorAccent = lipgloss.AdaptiveColor{
		Light: "#399ee6",
		Dark:  "#59c2ff",
	}
)

var (
	PassStyle     = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle     = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle     = lipgloss.NewStyle().Foreground(ColorFail)
	MutedStyle    = lipgloss.NewStyle().Foreground(ColorMuted)
	AccentStyle   = lipgloss.NewStyle().Foreground(ColorAccent)
	HeadingStyle  = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
	CriticalStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorFail)
)

const (
	IconPass = "✓"
	IconWarn = "⚠"
	IconFail = "✗"
	IconInfo = "ℹ"
)

const SeparatorLight = "──────────────────────────────────────────"

func RenderPass(s string) string   { return PassStyle.Render(s) }
func RenderWarn(s string) string   { return WarnStyle.Render(s) }
func RenderFail(s string) string   { return FailStyle.Render(s) }
func RenderMuted(s string) string  { return MutedStyle.Render(s) }
func RenderAccent(s string) string { return AccentStyle.Render(s) }

// RenderHeading renders a section header in uppercase with accent color.
func RenderHeading(s string) string {
	return HeadingStyle.Render(strings.ToUpper(s))
}

// RenderSeparator renders the light separator line in muted color.
func RenderSeparator() string {
	return MutedStyle.Render(SeparatorLight)
}

// StatusStyle picks the style for a local lifecycle status. Open work is
// accent, finished work is green, dropped work is muted.
func StatusStyle(s types.Status) lipgloss.Style {
	switch s {
	case types.StatusNew, types.StatusOpen:
		return AccentStyle
	case types.StatusInProgress:
		return WarnStyle
	case types.StatusResolved, types.StatusClosed:
		return PassStyle
	case types.StatusWontFix:
		return MutedStyle
	}
	return lipgloss.NewStyle()
}

// RenderStatus renders a status value, leaving unknown values unstyled.
func RenderStatus(s types.Status) string {
	return StatusStyle(s).Render(string(s))
}

// RenderPriority renders a priority value.
func RenderPriority(p types.Priority) string {
	switch p {
	case types.PriorityCritical:
		return CriticalStyle.Render(string(p))
	case types.PriorityHigh:
		return FailStyle.Render(string(p))
	case types.PriorityMedium:
		return WarnStyle.Render(string(p))
	case types.PriorityLow:
		return MutedStyle.Render(string(p))
	}
	return string(p)
}

// RenderCategory renders a category with a short marker.
func RenderCategory(c types.Category) string {
	switch c {
	case types.CategoryBug:
		return FailStyle.Render(string(c))
	case types.CategoryFeature:
		return PassStyle.Render(string(c))
	}
	return string(c)
}

func RenderPassIcon() string { return PassStyle.Render(IconPass) }
func RenderWarnIcon() string { return WarnStyle.Render(IconWarn) }
func RenderFailIcon() string { return FailStyle.Render(IconFail) }
func RenderInfoIcon() string { return AccentStyle.Render(IconInfo) }
