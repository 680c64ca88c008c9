// Package bulk runs one function over many items with a bounded worker
// pool. compare-batch uses it to diff file pairs concurrently.
package bulk

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattn/go-isatty"
	"golang.org/x/sync/errgroup"
)

// Operation represents a bulk operation configuration
type Operation struct {
	Jobs            int
	ContinueOnError bool
	Ordered         bool
	ShowProgress    bool
	// Log receives one line per failed item. Nil discards them.
	Log io.Writer
}

// Result represents the result of a bulk operation
type Result struct {
	TotalItems int
	Succeeded  int
	Failed     int
	Skipped    int
	Errors     []ItemError
}

// ItemError represents an error for a specific item
type ItemError struct {
	Item  string
	Error error
}

// ItemFunc is the function to execute for each item
type ItemFunc func(ctx context.Context, item string) error

type outcome uint8

const (
	pending outcome = iota
	succeeded
	failed
)

// Execute runs fn over items. Without ContinueOnError the first failure
// stops the remaining items, which are reported as skipped. Errors are
// returned in item order regardless of completion order.
func (op *Operation) Execute(ctx context.Context, items []string, fn ItemFunc) *Result {
	result := &Result{TotalItems: len(items)}
	if len(items) == 0 {
		return result
	}

	jobs := op.Jobs
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}
	if op.Ordered {
		jobs = 1
	}

	outcomes := make([]outcome, len(items))
	errs := make([]error, len(items))
	var done int32

	stop := op.startProgress(len(items), jobs, &done)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	var logMu sync.Mutex

	for i, item := range items {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			err := fn(gctx, item)
			atomic.AddInt32(&done, 1)
			if err == nil {
				outcomes[i] = succeeded
				return nil
			}
			outcomes[i] = failed
			errs[i] = err
			if op.Log != nil {
				logMu.Lock()
				fmt.Fprintf(op.Log, "%s: error: %v\n", item, err)
				logMu.Unlock()
			}
			if op.ContinueOnError {
				return nil
			}
			return err
		})
	}
	_ = g.Wait()

	for i, o := range outcomes {
		switch o {
		case succeeded:
			result.Succeeded++
		case failed:
			result.Failed++
			result.Errors = append(result.Errors, ItemError{Item: items[i], Error: errs[i]})
		default:
			result.Skipped++
		}
	}
	return result
}

// startProgress draws a progress bar on stderr when it is a terminal.
// The returned func stops it and clears the line.
func (op *Operation) startProgress(total, workers int, done *int32) func() {
	if !op.ShowProgress || !isatty.IsTerminal(os.Stderr.Fd()) {
		return func() {}
	}
	quit := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			c := int(atomic.LoadInt32(done))
			fmt.Fprintf(os.Stderr, "\rProcessing with %d workers... [%s] %d/%d", workers, progressBar(c*100/total, 20), c, total)
			select {
			case <-quit:
				fmt.Fprint(os.Stderr, "\r\033[K")
				return
			case <-ticker.C:
			}
		}
	}()
	return func() {
		close(quit)
		<-finished
	}
}

// ExitCode returns the appropriate exit code for the result
func (r *Result) ExitCode() int {
	if r.Failed == 0 && r.Skipped == 0 {
		return 0
	}
	if r.Succeeded > 0 {
		return 5 // partial success
	}
	return 1
}

// PrintSummary prints a human-readable summary of the result
func (r *Result) PrintSummary(w io.Writer) {
	switch {
	case r.Failed == 0 && r.Skipped == 0:
		fmt.Fprintf(w, "\n✓ All %d operations succeeded\n", r.TotalItems)
	case r.Succeeded == 0:
		fmt.Fprintf(w, "\n✗ No operations succeeded (%d failed, %d skipped)\n", r.Failed, r.Skipped)
	default:
		fmt.Fprintf(w, "\n⚠ Partial success: %d succeeded, %d failed, %d skipped (out of %d)\n",
			r.Succeeded, r.Failed, r.Skipped, r.TotalItems)
	}

	errs := r.Errors
	if len(errs) == 0 {
		return
	}
	if len(errs) > 10 {
		fmt.Fprintf(w, "\nShowing first 10 errors (of %d):\n", len(errs))
		errs = errs[:10]
	} else {
		fmt.Fprintf(w, "\nErrors:\n")
	}
	for _, e := range errs {
		fmt.Fprintf(w, "  %s: %v\n", e.Item, e.Error)
	}
}

func progressBar(percent, width int) string {
	filled := percent * width / 100
	if filled > width {
		filled = width
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
