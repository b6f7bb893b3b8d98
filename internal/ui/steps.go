package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// StepStatus represents the current state of a step
type StepStatus int

const (
	StepPending StepStatus = iota
	StepRunning
	StepComplete
	StepFailed
	StepSkipped
)

// Step is a single step in a multi-step operation
type Step struct {
	Number  int
	Name    string
	Status  StepStatus
	Message string // optional note, e.g. "3 networks"
}

// StepCallback is how an operation reports progress on a numbered step.
type StepCallback func(stepNumber int, status StepStatus, message string)

// RunnerConfig describes a command whose progress is shown step by step.
type RunnerConfig struct {
	Title     string
	Command   string
	Params    []Detail
	StepNames []string
	Output    io.Writer // default: os.Stdout

	// Troubleshooting returns tips shown under a failure; optional.
	Troubleshooting func(err error) []string
}

// Runner prints the header, then one line per step as it settles, then a
// result box.
type Runner struct {
	config    RunnerConfig
	header    *Header
	steps     []Step
	output    io.Writer
	startTime time.Time
	width     int
}

// NewRunner creates a runner for a multi-step command
func NewRunner(config RunnerConfig) *Runner {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	width := GetTerminalWidth()

	steps := make([]Step, len(config.StepNames))
	for i, name := range config.StepNames {
		steps[i] = Step{Number: i + 1, Name: name}
	}

	return &Runner{
		config: config,
		header: NewHeader(config.Title, config.Command, config.Params...).SetWidth(width),
		steps:  steps,
		output: config.Output,
		width:  width,
	}
}

// Steps returns a copy of the current step list.
func (r *Runner) Steps() []Step {
	return append([]Step(nil), r.steps...)
}

// Run executes the operation and prints its result. The operation returns
// the details to show on success.
func (r *Runner) Run(operation func(onStep StepCallback) ([]Detail, error)) ([]Detail, error) {
	r.startTime = time.Now()

	_, _ = fmt.Fprintln(r.output, r.header.Render())
	_, _ = fmt.Fprintln(r.output)

	details, err := operation(r.onStep)
	duration := time.Since(r.startTime).Round(100 * time.Millisecond)

	_, _ = fmt.Fprintln(r.output)
	if err != nil {
		var tips []string
		if r.config.Troubleshooting != nil {
			tips = r.config.Troubleshooting(err)
		}
		result := NewFailureResult(r.config.Title+" failed", err, tips).SetWidth(r.width)
		_, _ = fmt.Fprintln(r.output, result.Render())
		return nil, err
	}

	result := NewSuccessResult(r.config.Title+" complete", details...).SetWidth(r.width)
	result.AddDetail("Duration", duration.String())
	_, _ = fmt.Fprintln(r.output, result.Render())
	return details, nil
}

func (r *Runner) onStep(stepNumber int, status StepStatus, message string) {
	if stepNumber < 1 || stepNumber > len(r.steps) {
		return
	}
	step := &r.steps[stepNumber-1]
	step.Status = status
	step.Message = message

	switch status {
	case StepRunning:
		// Overwritten by the settled line.
		_, _ = fmt.Fprint(r.output, r.renderStepLine(*step)+"\r")
	case StepComplete, StepFailed, StepSkipped:
		_, _ = fmt.Fprintln(r.output, r.renderStepLine(*step))
	}
}

func (r *Runner) renderStepLine(step Step) string {
	var (
		marker string
		style  lipgloss.Style
	)
	switch step.Status {
	case StepComplete:
		marker, style = StepMarkerComplete, StepCompleteStyle
	case StepRunning:
		marker, style = StepMarkerRunning, StepRunningStyle
	case StepFailed:
		marker, style = FailureMarker, ErrorTitleStyle
	case StepSkipped:
		marker, style = StepMarkerSkipped, StepPendingStyle
	default:
		marker, style = StepMarkerPending, StepPendingStyle
	}

	var b strings.Builder
	fmt.Fprintf(&b, "  [%d/%d] ", step.Number, len(r.steps))
	b.WriteString(style.Render(step.Name))

	padding := 40 - lipgloss.Width(step.Name)
	if padding < 1 {
		padding = 1
	}
	b.WriteString(strings.Repeat(" ", padding))
	b.WriteString(style.Render(marker))

	if step.Message != "" {
		b.WriteString("  ")
		b.WriteString(StepNoteStyle.Render("(" + step.Message + ")"))
	}
	return b.String()
}
