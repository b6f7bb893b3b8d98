package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/improvctl/internal/improv"
)

// Printer writes styled command output.
type Printer struct {
	out   io.Writer
	width int
}

// NewPrinter creates a new Printer that writes to the given writer.
// If w is nil, os.Stdout is used.
func NewPrinter(w io.Writer) *Printer {
	if w == nil {
		w = os.Stdout
	}
	return &Printer{
		out:   w,
		width: GetTerminalWidth(),
	}
}

// Width returns the terminal width used by this printer
func (p *Printer) Width() int {
	return p.width
}

// SetWidth overrides the detected terminal width
func (p *Printer) SetWidth(width int) *Printer {
	p.width = width
	return p
}

// Print writes content to the output
func (p *Printer) Print(content string) {
	_, _ = fmt.Fprint(p.out, content)
}

// Println writes content with a newline
func (p *Printer) Println(content string) {
	_, _ = fmt.Fprintln(p.out, content)
}

// Newline prints an empty line
func (p *Printer) Newline() {
	_, _ = fmt.Fprintln(p.out)
}

// PrintHeader prints a command header box
func (p *Printer) PrintHeader(title, command string, params ...Detail) {
	p.Println(NewHeader(title, command, params...).SetWidth(p.width).Render())
	p.Newline()
}

// PrintResult prints a result box
func (p *Printer) PrintResult(r *Result) {
	p.Println(r.SetWidth(p.width).Render())
}

// PrintError prints a failure box with troubleshooting tips
func (p *Printer) PrintError(title string, err error, troubleshooting []string) {
	p.PrintResult(NewFailureResult(title, err, troubleshooting))
}

// DeviceInfoDetails lists identify fields in display order, omitting the
// optional ones the device did not send.
func DeviceInfoDetails(info improv.DeviceInfo) []Detail {
	details := []Detail{
		{Key: "Name", Value: info.Name},
		{Key: "Firmware", Value: info.Firmware},
		{Key: "Version", Value: info.Version},
		{Key: "Chip", Value: info.ChipFamily},
	}
	if info.OSName != "" {
		details = append(details, Detail{Key: "OS", Value: info.OSName})
	}
	if info.OSVersion != "" {
		details = append(details, Detail{Key: "OS Version", Value: info.OSVersion})
	}
	return details
}

// PrintNetworks prints scan results as a table, strongest first as the
// device reported them.
func (p *Printer) PrintNetworks(networks []improv.Ssid) {
	if len(networks) == 0 {
		p.Println(StepPendingStyle.Render("  No networks found"))
		return
	}

	nameWidth := len("NETWORK")
	for _, n := range networks {
		if w := lipgloss.Width(n.Name); w > nameWidth {
			nameWidth = w
		}
	}

	p.Println(TableHeaderStyle.Render(fmt.Sprintf("  %-*s  %-6s  %8s  %s", nameWidth, "NETWORK", "SIGNAL", "RSSI", "SECURITY")))
	for _, n := range networks {
		name := n.Name + strings.Repeat(" ", nameWidth-lipgloss.Width(n.Name))
		p.Println(fmt.Sprintf("  %s  %s  %8s  %s",
			name,
			SignalIndicator(n.SignalBars())+"  ",
			fmt.Sprintf("%d dBm", n.RSSI),
			LockIndicator(n.Secured),
		))
	}
}
