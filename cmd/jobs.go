package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/andresmejia3/facegrid/internal/job"
	"github.com/schollz/progressbar/v3"
)

// runJob starts fn in the background with a progress bar. Ctrl+C asks before cancelling.
func runJob[T any](ctx context.Context, name, description string, fn job.Func[T]) (T, error) {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	h := job.Start(ctx, name, fn, job.Callbacks[T]{
		Progress: progressHandler(bar),
	})

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)

	for {
		select {
		case <-h.Done():
			res, err := h.Wait()
			if err == nil {
				_ = bar.Finish()
			}
			fmt.Fprintln(os.Stderr)
			return res, err
		case <-sigs:
			fmt.Fprintln(os.Stderr)
			if confirmInterrupt(os.Stdin, h.Running()) {
				fmt.Fprintln(os.Stderr, "🛑 Cancelling...")
				h.Cancel()
			}
		}
	}
}

// confirmInterrupt asks whether a running job should be cancelled. A finished job needs no answer.
func confirmInterrupt(in io.Reader, running bool) bool {
	if !running {
		return false
	}
	return confirm(bufio.NewReader(in), "⚠️  A background job is still running. Cancel it?")
}

func progressHandler(bar *progressbar.ProgressBar) func(job.Progress) {
	return func(p job.Progress) {
		if p.Status != "" {
			bar.Describe(p.Status)
		}
		if p.Percent >= 0 {
			_ = bar.Set(p.Percent)
		}
	}
}
