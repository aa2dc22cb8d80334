package tui

import "github.com/charmbracelet/lipgloss"

const (
	colorAccent = "154"
	colorDim    = "106"
	colorGray   = "245"
	colorBorder = "238"
	colorRed    = "196"
	colorYellow = "220"
)

type styles struct {
	header  lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	failure lipgloss.Style
	dim     lipgloss.Style
	active  lipgloss.Style
	panel   lipgloss.Style
	label   lipgloss.Style
}

func defaultStyles() styles {
	return styles{
		header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorAccent)),
		success: lipgloss.NewStyle().Foreground(lipgloss.Color(colorAccent)),
		warning: lipgloss.NewStyle().Foreground(lipgloss.Color(colorYellow)),
		failure: lipgloss.NewStyle().Foreground(lipgloss.Color(colorRed)),
		dim:     lipgloss.NewStyle().Foreground(lipgloss.Color(colorBorder)),
		active:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorAccent)),
		panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(colorBorder)).
			Padding(0, 1),
		label: lipgloss.NewStyle().Foreground(lipgloss.Color(colorGray)),
	}
}

func noColorStyles() styles {
	return styles{}
}

func getStyles(noColor bool) styles {
	if noColor {
		return noColorStyles()
	}
	return defaultStyles()
}
