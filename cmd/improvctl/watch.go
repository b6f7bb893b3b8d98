package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/improvctl/internal/improv"
)

const watchTimeFormat = "15:04:05.000"

// lineWriter serialises output from the read loop and the event loop.
type lineWriter struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

func (w *lineWriter) printf(format string, args ...any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintf(w.out, "%s  "+format+"\n", append([]any{w.now().Format(watchTimeFormat)}, args...)...)
}

// formatEvent renders one client event as a watch line.
func formatEvent(ev improv.Event) string {
	switch ev.Kind {
	case improv.EventStateChanged:
		return fmt.Sprintf("state    %s -> %s", ev.Previous, ev.State)
	case improv.EventErrorChanged:
		return fmt.Sprintf("error    %s (%s)", ev.Error, ev.Error.Description())
	case improv.EventDisconnected:
		if ev.Err != nil {
			return fmt.Sprintf("closed   %v", ev.Err)
		}
		return "closed"
	default:
		return fmt.Sprintf("event    %s", ev.Kind)
	}
}

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream state changes, errors and console output",
		Long: `Identify the device, then print every state change and error report it
sends, interleaved with its console log lines, until interrupted.

If the identify handshake fails the console output is still shown, which
helps when the firmware does not enable Improv.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runWatch(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func (a *app) runWatch(ctx context.Context, out io.Writer) error {
	w := &lineWriter{out: out, now: time.Now}

	t, port, err := a.openTransport(ctx)
	if err != nil {
		return err
	}

	client := improv.NewClient(t, a.clientOptions(improv.WithLineHandler(func(line string) {
		w.printf("console  %s", line)
	}))...)
	defer client.Close()

	events, unsubscribe := client.Subscribe(64)
	defer unsubscribe()

	w.printf("open     %s", port)
	info, err := client.Initialize(ctx)
	switch {
	case errors.Is(err, improv.ErrDisconnected), errors.Is(err, context.Canceled):
		return err
	case err != nil:
		w.printf("identify failed: %v", err)
	default:
		a.recordIdentified(info, port)
		w.printf("device   %s (%s %s, %s)", info.Name, info.Firmware, info.Version, info.ChipFamily)
		if url := client.NextURL(); url != "" {
			w.printf("url      %s", url)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			w.printf("%s", formatEvent(ev))
			if ev.Kind == improv.EventDisconnected {
				return fmt.Errorf("%w: %v", improv.ErrDisconnected, ev.Err)
			}
		}
	}
}
