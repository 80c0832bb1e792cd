// Package progress prints a periodic one-line status for a running fetch.
// Output goes to stderr so stdout keeps the final summary only.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

type Reporter struct {
	out      io.Writer
	interval time.Duration

	total    int64
	done     atomic.Int64
	ok       atomic.Int64
	failed   atomic.Int64
	inFlight atomic.Int64

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a reporter for total items. A nil writer defaults to stderr,
// a zero interval to 2s.
func New(w io.Writer, total int, interval time.Duration) *Reporter {
	if w == nil {
		w = os.Stderr
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Reporter{
		out:      w,
		interval: interval,
		total:    int64(total),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the periodic printer.
func (r *Reporter) Start() {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(r.doneCh)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stopCh:
				return
			case <-ticker.C:
				r.print()
			}
		}
	}()
}

// Began marks one item entering flight.
func (r *Reporter) Began() { r.inFlight.Add(1) }

// Finished marks one item leaving flight with its outcome.
func (r *Reporter) Finished(success bool) {
	r.inFlight.Add(-1)
	r.done.Add(1)
	if success {
		r.ok.Add(1)
	} else {
		r.failed.Add(1)
	}
}

// Stop halts the printer and emits a final line.
func (r *Reporter) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		if r.started.Load() {
			<-r.doneCh
		}
		r.print()
	})
}

func (r *Reporter) print() {
	fmt.Fprintf(r.out, "[estatdl] %d/%d done (%d ok, %d failed, %d in flight)\n",
		r.done.Load(), r.total, r.ok.Load(), r.failed.Load(), r.inFlight.Load())
}
