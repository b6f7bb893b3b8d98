package ui

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Confirm displays a warning box and asks a yes/no question. Anything other
// than "y" or "yes" (including EOF) declines.
func (p *Printer) Confirm(in io.Reader, title string, warnings []string, question string) bool {
	width := clampWidth(p.width)

	lines := []string{
		"",
		WarningTitleStyle.Render(fmt.Sprintf("   %s  WARNING  ─  %s", WarningMarker, title)),
		"",
	}
	bullet := lipgloss.NewStyle().Foreground(TextColor)
	for _, warning := range warnings {
		lines = append(lines, bullet.Render("   • "+warning))
	}
	lines = append(lines, "")

	p.Println(boxStyle(width, WarningColor).Render(strings.Join(lines, "\n")))
	p.Newline()
	p.Print(WarningTitleStyle.Render(question + " [y/N]: "))

	input, err := bufio.NewReader(in).ReadString('\n')
	answer := strings.ToLower(strings.TrimSpace(input))
	p.Newline()
	if err != nil && answer == "" {
		return false
	}
	if answer == "y" || answer == "yes" {
		return true
	}

	p.Println(lipgloss.NewStyle().Foreground(MutedColor).Render("  Operation cancelled."))
	return false
}
