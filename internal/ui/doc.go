// Package ui renders the non-interactive output of improvctl commands.
//
// Components follow a "print and move on" pattern, unlike the interactive
// wizard:
//
//   - Header: command banner with the operation name and its parameters
//   - Runner: numbered step lines for multi-step commands such as provision
//   - Result: success, failure and warning boxes
//   - Printer: network tables, device info and confirmation prompts
//
// Example:
//
//	runner := ui.NewRunner(ui.RunnerConfig{
//	    Title:     "Provision Wi-Fi",
//	    Command:   "improvctl provision",
//	    Params:    []ui.Detail{{Key: "Port", Value: port}},
//	    StepNames: []string{"Connect", "Identify", "Send credentials"},
//	})
//
//	_, err := runner.Run(func(onStep ui.StepCallback) ([]ui.Detail, error) {
//	    onStep(1, ui.StepRunning, "")
//	    // ... do work ...
//	    onStep(1, ui.StepComplete, "")
//	    return nil, nil
//	})
//
// Logging is silent unless IMPROV_LOG_LEVEL or --log-level is set, so the
// curated output is not interleaved with log lines. Logs go to stderr.
package ui
