package wizard

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
)

// Run drives the wizard full screen until the user quits. The caller owns
// the client and closes it afterwards.
func Run(ctx context.Context, client Provisioner, opts Options) (Result, error) {
	model := New(ctx, client, opts)
	defer model.Close()

	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	final, err := program.Run()
	if err != nil {
		return model.Result(), fmt.Errorf("wizard: %w", err)
	}

	if m, ok := final.(Model); ok {
		return m.Result(), nil
	}
	return model.Result(), nil
}
