package pipeline

import (
	"sync"
	"time"

	stderrors "errors"

	"github.com/wippyai/offload/errors"
)

// Stats is a snapshot of a pipeline's cumulative counters. Counters reset
// only by constructing a new pipeline.
type Stats struct {
	TotalTasks     int
	CompletedTasks int
	FailedTasks    int

	// Retries is the total number of re-queues across all tasks.
	Retries int

	// AvgDuration is the running average task latency, folded in with a
	// weighted update as each task completes.
	AvgDuration time.Duration

	// ErrorKinds tallies permanent failures by error kind.
	ErrorKinds map[string]int
}

// SuccessRate returns completed / (completed + failed), or 0 before any
// task has resolved.
func (s Stats) SuccessRate() float64 {
	resolved := s.CompletedTasks + s.FailedTasks
	if resolved == 0 {
		return 0
	}
	return float64(s.CompletedTasks) / float64(resolved)
}

// RetryRate returns total retries per task.
func (s Stats) RetryRate() float64 {
	if s.TotalTasks == 0 {
		return 0
	}
	return float64(s.Retries) / float64(s.TotalTasks)
}

// statsBox guards the counters so hooks and progress UIs may snapshot
// them from other goroutines mid-run.
type statsBox struct {
	mu sync.Mutex
	s  Stats
}

func (b *statsBox) start(total int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.s.TotalTasks += total
}

func (b *statsBox) complete(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.s.CompletedTasks++
	n := time.Duration(b.s.CompletedTasks)
	b.s.AvgDuration = (b.s.AvgDuration*(n-1) + d) / n
}

func (b *statsBox) retry() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.s.Retries++
}

func (b *statsBox) fail(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.s.FailedTasks++
	if b.s.ErrorKinds == nil {
		b.s.ErrorKinds = make(map[string]int)
	}
	var e *errors.Error
	if stderrors.As(err, &e) {
		b.s.ErrorKinds[string(e.Kind)]++
	} else {
		b.s.ErrorKinds["unknown"]++
	}
}

func (b *statsBox) snapshot() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.s
	if b.s.ErrorKinds != nil {
		out.ErrorKinds = make(map[string]int, len(b.s.ErrorKinds))
		for k, v := range b.s.ErrorKinds {
			out.ErrorKinds[k] = v
		}
	}
	return out
}
