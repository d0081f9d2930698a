package pipeline_test

import (
	"bytes"
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	offload "github.com/wippyai/offload"
	"github.com/wippyai/offload/chunk"
	"github.com/wippyai/offload/errors"
	"github.com/wippyai/offload/pipeline"
)

// workerFunc adapts a function to offload.Worker for tests.
type workerFunc func(ctx context.Context, op string, call offload.Call) (any, error)

func (f workerFunc) Execute(ctx context.Context, op string, call offload.Call) (any, error) {
	return f(ctx, op, call)
}

// identity passes every chunk through unchanged.
var identity = workerFunc(func(_ context.Context, _ string, call offload.Call) (any, error) {
	return call.Input, nil
})

func testConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.ChunkSize = 256
	cfg.Timeout = 5 * time.Second
	return cfg
}

func testPayload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i * 7)
	}
	return b
}

func TestProcessRoundTrip(t *testing.T) {
	p := pipeline.NewWithConfig(chunk.NewBinary(), identity, testConfig())
	data := testPayload(1000)

	out, err := p.Process(context.Background(), "identity", data)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out.([]byte), data) {
		t.Error("output differs from input")
	}

	s := p.Stats()
	if s.TotalTasks != 4 || s.CompletedTasks != 4 || s.FailedTasks != 0 {
		t.Errorf("stats = %+v", s)
	}
	if s.SuccessRate() != 1.0 {
		t.Errorf("SuccessRate = %v, want 1.0", s.SuccessRate())
	}
	if s.AvgDuration <= 0 {
		t.Errorf("AvgDuration = %v, want > 0", s.AvgDuration)
	}
}

func TestProcessTransformsPayload(t *testing.T) {
	upper := workerFunc(func(_ context.Context, _ string, call offload.Call) (any, error) {
		c := call.Input.(chunk.Chunk)
		return c.WithText(strings.ToUpper(c.Text)), nil
	})

	cfg := testConfig()
	cfg.ChunkSize = 8
	p := pipeline.NewWithConfig(chunk.NewText(), upper, cfg)

	out, err := p.Process(context.Background(), "uppercase", "the quick brown fox")
	if err != nil {
		t.Fatal(err)
	}
	if out.(string) != "THE QUICK BROWN FOX" {
		t.Errorf("output = %q", out)
	}
}

// A worker that fails once for one chunk must succeed after retry with no
// permanently failed tasks.
func TestProcessRetriesTransientFailure(t *testing.T) {
	var mu sync.Mutex
	failed := false
	flaky := workerFunc(func(_ context.Context, _ string, call offload.Call) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		if call.ChunkIndex == 2 && !failed {
			failed = true
			return nil, stderrors.New("transient backend hiccup")
		}
		return call.Input, nil
	})

	p := pipeline.NewWithConfig(chunk.NewBinary(), flaky, testConfig())
	data := testPayload(1000)

	out, err := p.Process(context.Background(), "identity", data)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out.([]byte), data) {
		t.Error("output differs from input")
	}

	s := p.Stats()
	if s.FailedTasks != 0 {
		t.Errorf("FailedTasks = %d, want 0", s.FailedTasks)
	}
	if s.RetryRate() <= 0 {
		t.Errorf("RetryRate = %v, want > 0", s.RetryRate())
	}
}

// With retries disabled, a single always-failing chunk fails the whole run
// and no partial result is returned.
func TestProcessAggregateFailure(t *testing.T) {
	broken := workerFunc(func(_ context.Context, _ string, call offload.Call) (any, error) {
		if call.ChunkIndex == 2 {
			return nil, stderrors.New("chunk 2 is cursed")
		}
		return call.Input, nil
	})

	cfg := testConfig()
	cfg.RetryAttempts = 0
	p := pipeline.NewWithConfig(chunk.NewBinary(), broken, cfg)

	out, err := p.Process(context.Background(), "identity", testPayload(1000))
	if err == nil {
		t.Fatal("expected aggregate failure")
	}
	if out != nil {
		t.Error("no result may be returned on partial failure")
	}

	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindTaskFailed {
		t.Fatalf("error = %v, want task_failed", err)
	}
	if !strings.Contains(err.Error(), "1 of 4") {
		t.Errorf("aggregate error %q should carry the failure count", err)
	}

	s := p.Stats()
	if s.CompletedTasks != 3 || s.FailedTasks != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestProcessTimeout(t *testing.T) {
	slow := workerFunc(func(ctx context.Context, _ string, call offload.Call) (any, error) {
		if call.ChunkIndex == 1 {
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
		}
		return call.Input, nil
	})

	cfg := testConfig()
	cfg.RetryAttempts = 0
	cfg.Timeout = 30 * time.Millisecond
	p := pipeline.NewWithConfig(chunk.NewBinary(), slow, cfg)

	_, err := p.Process(context.Background(), "identity", testPayload(1000))
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindTaskFailed {
		t.Fatalf("error = %v, want task_failed", err)
	}

	s := p.Stats()
	if s.ErrorKinds["timeout"] != 1 {
		t.Errorf("ErrorKinds = %v, want one timeout", s.ErrorKinds)
	}
}

func TestProcessBoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int64
	tracking := workerFunc(func(_ context.Context, _ string, call offload.Call) (any, error) {
		cur := inFlight.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return call.Input, nil
	})

	cfg := testConfig()
	cfg.ChunkSize = 64
	cfg.MaxConcurrency = 2
	p := pipeline.NewWithConfig(chunk.NewBinary(), tracking, cfg)

	if _, err := p.Process(context.Background(), "identity", testPayload(1000)); err != nil {
		t.Fatal(err)
	}
	if got := peak.Load(); got > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", got)
	}
}

func TestProcessHooks(t *testing.T) {
	var starts, completes, processed atomic.Int64
	var finalStats pipeline.Stats
	var finalSet bool

	p := pipeline.NewWithConfig(chunk.NewBinary(), identity, testConfig())
	p.Hooks = pipeline.Hooks{
		OnTaskStart:      func(*pipeline.Task) { starts.Add(1) },
		OnTaskComplete:   func(*pipeline.Task) { completes.Add(1) },
		OnChunkProcessed: func(index, total int) { processed.Add(1) },
		OnPipelineComplete: func(s pipeline.Stats) {
			finalStats = s
			finalSet = true
		},
	}

	if _, err := p.Process(context.Background(), "identity", testPayload(1000)); err != nil {
		t.Fatal(err)
	}

	if starts.Load() != 4 || completes.Load() != 4 || processed.Load() != 4 {
		t.Errorf("hook counts: starts=%d completes=%d processed=%d, want 4 each",
			starts.Load(), completes.Load(), processed.Load())
	}
	if !finalSet || finalStats.CompletedTasks != 4 {
		t.Errorf("OnPipelineComplete stats = %+v", finalStats)
	}
}

func TestProcessTaskErrorHook(t *testing.T) {
	broken := workerFunc(func(_ context.Context, _ string, _ offload.Call) (any, error) {
		return nil, stderrors.New("always down")
	})

	cfg := testConfig()
	cfg.RetryAttempts = 1
	p := pipeline.NewWithConfig(chunk.NewBinary(), broken, cfg)

	var taskErrs atomic.Int64
	p.Hooks.OnTaskError = func(_ *pipeline.Task, _ error) { taskErrs.Add(1) }

	if _, err := p.Process(context.Background(), "identity", testPayload(300)); err == nil {
		t.Fatal("expected failure")
	}
	// 300 bytes / 256 = 2 chunks, each failing permanently once.
	if taskErrs.Load() != 2 {
		t.Errorf("OnTaskError fired %d times, want 2", taskErrs.Load())
	}
}

func TestProcessRejectsNonChunkResult(t *testing.T) {
	rogue := workerFunc(func(_ context.Context, _ string, _ offload.Call) (any, error) {
		return "not a chunk", nil
	})

	p := pipeline.NewWithConfig(chunk.NewBinary(), rogue, testConfig())
	_, err := p.Process(context.Background(), "identity", testPayload(100))
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindInvalidInput {
		t.Fatalf("error = %v, want invalid_input", err)
	}
}

func TestProcessValidatesMergedOutput(t *testing.T) {
	// Drain every chunk so the merged output is empty and fails Validate.
	drain := workerFunc(func(_ context.Context, _ string, call offload.Call) (any, error) {
		c := call.Input.(chunk.Chunk)
		return c.WithText(""), nil
	})

	cfg := testConfig()
	cfg.ChunkSize = 8
	p := pipeline.NewWithConfig(chunk.NewText(), drain, cfg)

	_, err := p.Process(context.Background(), "drain", "some text that vanishes")
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindValidation {
		t.Fatalf("error = %v, want validation", err)
	}
}

func TestZeroConfigKeepsValidation(t *testing.T) {
	drain := workerFunc(func(_ context.Context, _ string, call offload.Call) (any, error) {
		c := call.Input.(chunk.Chunk)
		return c.WithText(""), nil
	})

	// A hand-built zero Config must behave like the defaults: validation
	// stays on unless SkipValidation is set explicitly.
	p := pipeline.NewWithConfig(chunk.NewText(), drain, pipeline.Config{ChunkSize: 8})

	_, err := p.Process(context.Background(), "drain", "vanishing act")
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindValidation {
		t.Fatalf("error = %v, want validation", err)
	}

	skip := p.Config()
	skip.SkipValidation = true
	p = pipeline.NewWithConfig(chunk.NewText(), drain, skip)
	if _, err := p.Process(context.Background(), "drain", "vanishing act"); err != nil {
		t.Fatalf("validation ran despite opt-out: %v", err)
	}
}

func TestProcessSplitErrorPropagates(t *testing.T) {
	p := pipeline.NewWithConfig(chunk.NewBinary(), identity, testConfig())
	if _, err := p.Process(context.Background(), "identity", "wrong type"); err == nil {
		t.Fatal("expected split error")
	}
}

func TestProcessStructuredPayload(t *testing.T) {
	cfg := testConfig()
	cfg.ChunkSize = 96
	p := pipeline.NewWithConfig(chunk.NewStructured(), identity, cfg)

	input := map[string]any{
		"records": []any{
			map[string]any{"id": 1.0, "ok": true},
			map[string]any{"id": 2.0, "ok": false},
			map[string]any{"id": 3.0, "ok": true},
		},
		"source": "unit",
	}

	out, err := p.Process(context.Background(), "identity", input)
	if err != nil {
		t.Fatal(err)
	}
	got := out.(map[string]any)
	if got["source"] != "unit" {
		t.Errorf("source = %v", got["source"])
	}
	if len(got["records"].([]any)) != 3 {
		t.Errorf("records = %v", got["records"])
	}
}
