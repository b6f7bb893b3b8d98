package wizard

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/improvctl/internal/ui"
	"github.com/muurk/improvctl/internal/version"
)

// AppName is shown in the wizard header.
const AppName = "IMPROV WI-FI SETUP"

// Layout constants
const (
	DefaultWidth  = 80
	DefaultHeight = 24
	MaxCardWidth  = 64
)

var (
	HighlightColor = ui.SuccessColor
	BorderColor    = ui.PrimaryColor

	TitleStyle = lipgloss.NewStyle().
			Foreground(ui.PrimaryColor).
			Bold(true).
			MarginBottom(1)

	SubtitleStyle = lipgloss.NewStyle().
			Foreground(ui.MutedColor).
			Italic(true)

	// NoticeStyle is the inline error above a form, e.g. "Unable to connect"
	NoticeStyle = lipgloss.NewStyle().
			Foreground(ui.ErrorColor).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ui.ErrorColor).
			Bold(true).
			Padding(1, 2).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ui.ErrorColor)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(ui.SuccessColor).
			Bold(true).
			Padding(1, 2).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ui.SuccessColor)

	// CardStyle frames the device info block
	CardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(BorderColor).
			Padding(0, 2).
			MarginBottom(1)

	CardLabelStyle = lipgloss.NewStyle().
			Foreground(ui.MutedColor).
			Width(12)

	SpinnerStyle = lipgloss.NewStyle().
			Foreground(ui.PrimaryColor)

	SelectedItemStyle = lipgloss.NewStyle().
				Foreground(HighlightColor).
				Bold(true)

	FieldLabelStyle = lipgloss.NewStyle().
			Foreground(ui.TextColor).
			Bold(true)

	LinkStyle = lipgloss.NewStyle().
			Foreground(ui.PrimaryColor).
			Underline(true)
)

func renderHeader(port string, width int) string {
	left := lipgloss.NewStyle().
		Foreground(ui.TextColor).
		Bold(true).
		Render(AppName + " " + version.Version)
	right := lipgloss.NewStyle().
		Foreground(ui.MutedColor).
		Render(port)

	return lipgloss.NewStyle().
		BorderStyle(lipgloss.Border{Bottom: "─"}).
		BorderForeground(BorderColor).
		Width(width-2).
		Padding(0, 1).
		Render(lipgloss.JoinHorizontal(lipgloss.Top, left, "  ", right))
}

// renderContainer wraps a screen with the header and a help footer.
func renderContainer(content, footer, port string, width int) string {
	if width <= 0 {
		width = DefaultWidth
	}
	body := lipgloss.NewStyle().
		Padding(1, 2).
		Width(width - 2).
		Render(content)
	foot := lipgloss.NewStyle().
		BorderStyle(lipgloss.Border{Top: "─"}).
		BorderForeground(BorderColor).
		Width(width-2).
		Padding(0, 1).
		Render(footer)

	return lipgloss.JoinVertical(lipgloss.Left, renderHeader(port, width), body, foot)
}

func renderCard(title string, rows []ui.Detail, width int) string {
	lines := []string{FieldLabelStyle.Render(title)}
	for _, row := range rows {
		lines = append(lines, CardLabelStyle.Render(row.Key)+row.Value)
	}

	cardWidth := width - 8
	if cardWidth > MaxCardWidth {
		cardWidth = MaxCardWidth
	}
	return CardStyle.Width(cardWidth).Render(strings.Join(lines, "\n"))
}
