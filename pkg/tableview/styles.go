package tableview

import "github.com/charmbracelet/lipgloss"

var (
	primaryColor   = lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7C79FF"}
	secondaryColor = lipgloss.AdaptiveColor{Light: "#EE6FF8", Dark: "#F780FF"}
	grantedColor   = lipgloss.AdaptiveColor{Light: "#02BA84", Dark: "#02D98E"}
	waitingColor   = lipgloss.AdaptiveColor{Light: "#FF8C00", Dark: "#FFA500"}
	errorColor     = lipgloss.AdaptiveColor{Light: "#FF5F56", Dark: "#FF6B6B"}
	mutedColor     = lipgloss.AdaptiveColor{Light: "#9B9B9B", Dark: "#5C5C5C"}
	fgColor        = lipgloss.AdaptiveColor{Light: "#1E1E2E", Dark: "#CDD6F4"}

	titleStyle = lipgloss.NewStyle().
			Foreground(primaryColor).
			Bold(true).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(secondaryColor).
			Bold(true).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	selectedItemStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#FFFFFF")).
				Background(primaryColor).
				Bold(true).
				Padding(0, 1)

	itemStyle = lipgloss.NewStyle().
			Foreground(fgColor).
			Padding(0, 1)

	detailStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(1, 2)

	labelStyle = lipgloss.NewStyle().
			Foreground(secondaryColor).
			Bold(true)

	grantedStyle = lipgloss.NewStyle().Foreground(grantedColor)
	waitingStyle = lipgloss.NewStyle().Foreground(waitingColor)
	mutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(primaryColor).
			Padding(0, 1)

	errorStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)
)
