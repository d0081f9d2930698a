package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	offload "github.com/wippyai/offload"
	"github.com/wippyai/offload/chunk"
	"github.com/wippyai/offload/errors"
)

// Config holds pipeline tuning knobs.
type Config struct {
	// ChunkSize is the split granularity in bytes.
	ChunkSize int `yaml:"chunk_size"`

	// MaxConcurrency bounds the number of simultaneously outstanding
	// worker calls.
	MaxConcurrency int `yaml:"max_concurrency"`

	// RetryAttempts is the number of times a failed task is re-queued
	// before it is recorded as permanently failed. Zero disables retry.
	RetryAttempts int `yaml:"retry_attempts"`

	// RetryDelay is slept before the wave following a retry.
	RetryDelay time.Duration `yaml:"retry_delay"`

	// Timeout bounds each individual worker call.
	Timeout time.Duration `yaml:"timeout"`

	// SkipValidation disables the strategy's Validate pass on the merged
	// output. Validation is on by default, so a zero Config keeps it.
	SkipValidation bool `yaml:"skip_validation"`
}

// DefaultConfig returns the documented defaults: 1 MiB chunks, 4
// concurrent tasks, 3 retries, a 30 second per-task timeout, and result
// validation on.
func DefaultConfig() Config {
	return Config{
		ChunkSize:       1 << 20,
		MaxConcurrency:  4,
		RetryAttempts:   3,
		Timeout:         30 * time.Second,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.ChunkSize <= 0 {
		c.ChunkSize = d.ChunkSize
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = d.MaxConcurrency
	}
	if c.RetryAttempts < 0 {
		c.RetryAttempts = d.RetryAttempts
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	return c
}

// Task is the unit of work wrapping one chunk. A task lives for exactly
// one Process invocation and is mutated in place as it is retried.
type Task struct {
	ID          string
	Chunk       chunk.Chunk
	ChunkIndex  int
	TotalChunks int
	RetryCount  int
	StartTime   time.Time
	EndTime     time.Time
	Result      any
	Err         error
}

// Hooks are synchronous callbacks fired at task and pipeline lifecycle
// points. They run on the Process goroutine and must not block for long.
type Hooks struct {
	OnTaskStart        func(*Task)
	OnTaskComplete     func(*Task)
	OnTaskError        func(*Task, error)
	OnChunkProcessed   func(index, total int)
	OnPipelineComplete func(Stats)
}

// Pipeline orchestrates chunked processing of one payload at a time
// through a worker backend. Hooks may be set before calling Process.
type Pipeline struct {
	Hooks Hooks

	strategy chunk.Strategy
	worker   offload.Worker
	cfg      Config
	stats    statsBox
}

// New creates a pipeline with DefaultConfig.
func New(strategy chunk.Strategy, worker offload.Worker) *Pipeline {
	return NewWithConfig(strategy, worker, DefaultConfig())
}

// NewWithConfig creates a pipeline with custom configuration. Zero or
// negative numeric fields fall back to their defaults; RetryAttempts 0 and
// SkipValidation true are respected as given.
func NewWithConfig(strategy chunk.Strategy, worker offload.Worker, cfg Config) *Pipeline {
	return &Pipeline{
		strategy: strategy,
		worker:   worker,
		cfg:      cfg.normalized(),
	}
}

// Config returns the pipeline's effective configuration.
func (p *Pipeline) Config() Config {
	return p.cfg
}

// Stats returns a snapshot of the pipeline's cumulative counters. Safe to
// call from any goroutine, including mid-run.
func (p *Pipeline) Stats() Stats {
	return p.stats.snapshot()
}

type outcome struct {
	task   *Task
	result any
	err    error
}

// Process splits input, runs the named operation over every chunk through
// the worker backend, and merges the results back into the input's shape.
// It returns either the fully merged, validated output or a single
// aggregate error.
func (p *Pipeline) Process(ctx context.Context, op string, input any) (any, error) {
	chunks, err := p.strategy.Split(input, p.cfg.ChunkSize)
	if err != nil {
		return nil, err
	}

	log := offload.Logger()
	log.Debug("pipeline run started",
		zap.String("op", op),
		zap.String("strategy", p.strategy.Name()),
		zap.Int("chunks", len(chunks)))

	tasks := make([]*Task, len(chunks))
	pending := make([]*Task, len(chunks))
	for i, c := range chunks {
		t := &Task{
			ID:          fmt.Sprintf("%s-%d", op, i),
			Chunk:       c,
			ChunkIndex:  c.Header.Index,
			TotalChunks: len(chunks),
		}
		tasks[i] = t
		pending[i] = t
	}
	p.stats.start(len(tasks))

	var failed []*Task
	for len(pending) > 0 {
		wave := pending
		if len(wave) > p.cfg.MaxConcurrency {
			wave = wave[:p.cfg.MaxConcurrency]
		}
		pending = pending[len(wave):]

		results := make(chan outcome, len(wave))
		for _, t := range wave {
			t.StartTime = time.Now()
			if p.Hooks.OnTaskStart != nil {
				p.Hooks.OnTaskStart(t)
			}
			go func(t *Task) {
				res, err := p.execute(ctx, op, t)
				results <- outcome{task: t, result: res, err: err}
			}(t)
		}

		retried := false
		for range wave {
			o := <-results
			t := o.task
			t.EndTime = time.Now()

			if o.err == nil {
				t.Result = o.result
				p.stats.complete(t.EndTime.Sub(t.StartTime))
				if p.Hooks.OnTaskComplete != nil {
					p.Hooks.OnTaskComplete(t)
				}
				if p.Hooks.OnChunkProcessed != nil {
					p.Hooks.OnChunkProcessed(t.ChunkIndex, t.TotalChunks)
				}
				continue
			}

			if t.RetryCount < p.cfg.RetryAttempts {
				t.RetryCount++
				p.stats.retry()
				retried = true
				pending = append(pending, t)
				log.Debug("task re-queued",
					zap.String("task", t.ID),
					zap.Int("retry", t.RetryCount),
					zap.Error(o.err))
				continue
			}

			t.Err = o.err
			failed = append(failed, t)
			p.stats.fail(o.err)
			if p.Hooks.OnTaskError != nil {
				p.Hooks.OnTaskError(t, o.err)
			}
			log.Warn("task failed permanently",
				zap.String("task", t.ID),
				zap.Int("retries", t.RetryCount),
				zap.Error(o.err))
		}

		if retried && p.cfg.RetryDelay > 0 {
			select {
			case <-time.After(p.cfg.RetryDelay):
			case <-ctx.Done():
			}
		}
	}

	// All-or-nothing: completed chunks are discarded when any chunk
	// failed permanently.
	if len(failed) > 0 {
		var agg error
		for _, t := range failed {
			agg = multierr.Append(agg, t.Err)
		}
		return nil, errors.TaskFailed(len(failed), len(tasks), agg)
	}

	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ChunkIndex < tasks[j].ChunkIndex })
	outputs := make([]chunk.Chunk, len(tasks))
	for i, t := range tasks {
		c, ok := t.Result.(chunk.Chunk)
		if !ok {
			return nil, errors.New(errors.PhaseMerge, errors.KindInvalidInput).
				Index(t.ChunkIndex).
				Detail("worker returned %T, want chunk.Chunk", t.Result).
				Build()
		}
		outputs[i] = c
	}

	merged, err := p.strategy.Merge(outputs)
	if err != nil {
		return nil, err
	}
	if !p.cfg.SkipValidation && !p.strategy.Validate(merged) {
		return nil, errors.Validation("merged output failed strategy validation")
	}

	final := p.stats.snapshot()
	if p.Hooks.OnPipelineComplete != nil {
		p.Hooks.OnPipelineComplete(final)
	}
	log.Debug("pipeline run finished",
		zap.String("op", op),
		zap.Int("completed", final.CompletedTasks),
		zap.Duration("avg", final.AvgDuration))
	return merged, nil
}

// execute races one worker call against the per-task timeout.
func (p *Pipeline) execute(ctx context.Context, op string, t *Task) (any, error) {
	cctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		res, err := p.worker.Execute(cctx, op, offload.Call{
			Input:       t.Chunk,
			ChunkIndex:  t.ChunkIndex,
			TotalChunks: t.TotalChunks,
		})
		done <- outcome{result: res, err: err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-cctx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Timeout(op, t.ChunkIndex)
	}
}
