package render

import "github.com/charmbracelet/lipgloss"

type theme struct {
	category lipgloss.Style
	taskID   lipgloss.Style
	faint    lipgloss.Style
	idle     lipgloss.Style
	running  lipgloss.Style
	success  lipgloss.Style
	failure  lipgloss.Style
	stopped  lipgloss.Style
}

func newTheme(lr *lipgloss.Renderer) theme {
	return theme{
		category: lr.NewStyle().Bold(true).Underline(true),
		taskID:   lr.NewStyle().Bold(true),
		faint:    lr.NewStyle().Foreground(lipgloss.Color("245")),
		idle:     lr.NewStyle().Foreground(lipgloss.Color("250")),
		running:  lr.NewStyle().Foreground(lipgloss.Color("220")),
		success:  lr.NewStyle().Foreground(lipgloss.Color("114")),
		failure:  lr.NewStyle().Foreground(lipgloss.Color("196")),
		stopped:  lr.NewStyle().Foreground(lipgloss.Color("141")),
	}
}
