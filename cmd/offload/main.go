package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	offload "github.com/wippyai/offload"
	"github.com/wippyai/offload/chunk"
	"github.com/wippyai/offload/pipeline"
	"github.com/wippyai/offload/worker"

	"go.uber.org/zap"
)

func main() {
	var (
		inputFile   = flag.String("input", "", "Path to payload file (- for stdin)")
		mode        = flag.String("mode", "binary", "Chunking mode: binary, text, or json")
		op          = flag.String("op", "identity", "Operation to run on each chunk")
		wasmFile    = flag.String("wasm", "", "Path to a worker wasm module (optional)")
		configFile  = flag.String("config", "", "Path to a YAML pipeline config (optional)")
		outputFile  = flag.String("output", "", "Path to write the merged result (default stdout)")
		chunkSize   = flag.Int("chunk-size", 0, "Chunk size in bytes (overrides config)")
		concurrency = flag.Int("concurrency", 0, "Max concurrent worker calls (overrides config)")
		showStats   = flag.Bool("stats", false, "Print pipeline statistics to stderr")
		verbose     = flag.Bool("v", false, "Verbose logging")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	if *inputFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: offload -input <file> [-mode binary|text|json] [-op name]")
		fmt.Fprintln(os.Stderr, "       offload -input <file> -wasm <module.wasm> -op <export>")
		fmt.Fprintln(os.Stderr, "       offload -input <file> -i  (interactive mode)")
		os.Exit(1)
	}

	if *verbose {
		logger, err := zap.NewDevelopment()
		if err == nil {
			offload.SetLogger(logger)
			defer logger.Sync()
		}
	}

	opts := runOptions{
		inputFile:   *inputFile,
		mode:        *mode,
		op:          *op,
		wasmFile:    *wasmFile,
		configFile:  *configFile,
		outputFile:  *outputFile,
		chunkSize:   *chunkSize,
		concurrency: *concurrency,
		showStats:   *showStats,
	}

	if *interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Fprintln(os.Stderr, "Error: interactive mode requires a terminal")
			os.Exit(1)
		}
		if err := runInteractive(opts); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type runOptions struct {
	inputFile   string
	mode        string
	op          string
	wasmFile    string
	configFile  string
	outputFile  string
	chunkSize   int
	concurrency int
	showStats   bool
}

func run(opts runOptions) error {
	ctx := context.Background()

	p, cleanup, err := buildPipeline(ctx, opts)
	if err != nil {
		return err
	}
	defer cleanup(ctx)

	input, size, err := loadInput(opts.inputFile, opts.mode)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Payload: %s (%d bytes, %s mode)\n", opts.inputFile, size, opts.mode)

	started := time.Now()
	result, err := p.Process(ctx, opts.op, input)
	if err != nil {
		return fmt.Errorf("process: %w", err)
	}
	elapsed := time.Since(started)

	if err := writeResult(opts.outputFile, opts.mode, result); err != nil {
		return err
	}

	if opts.showStats {
		printStats(os.Stderr, p.Stats(), elapsed)
	}
	return nil
}

// buildPipeline assembles the strategy, worker, and config from flags.
// The returned cleanup releases the worker's resources.
func buildPipeline(ctx context.Context, opts runOptions) (*pipeline.Pipeline, func(context.Context), error) {
	strategy, err := strategyFor(opts.mode)
	if err != nil {
		return nil, nil, err
	}

	cfg := pipeline.DefaultConfig()
	if opts.configFile != "" {
		loaded, err := loadConfig(opts.configFile)
		if err != nil {
			return nil, nil, err
		}
		cfg = loaded
	}
	if opts.chunkSize > 0 {
		cfg.ChunkSize = opts.chunkSize
	}
	if opts.concurrency > 0 {
		cfg.MaxConcurrency = opts.concurrency
	}

	cleanup := func(context.Context) {}
	var w offload.Worker
	if opts.wasmFile != "" {
		wasmBytes, err := os.ReadFile(opts.wasmFile)
		if err != nil {
			return nil, nil, fmt.Errorf("read module: %w", err)
		}
		wasmWorker, err := worker.NewWASM(ctx, wasmBytes)
		if err != nil {
			return nil, nil, fmt.Errorf("load module: %w", err)
		}
		cleanup = func(ctx context.Context) { wasmWorker.Close(ctx) }
		w = wasmWorker
	} else {
		w = worker.NewRegistryWithBuiltins()
	}

	return pipeline.NewWithConfig(strategy, w, cfg), cleanup, nil
}

func strategyFor(mode string) (chunk.Strategy, error) {
	switch mode {
	case "binary":
		return chunk.NewBinary(), nil
	case "text":
		return chunk.NewText(), nil
	case "json":
		return chunk.NewStructured(), nil
	default:
		return nil, fmt.Errorf("unknown mode %q (want binary, text, or json)", mode)
	}
}

func loadConfig(path string) (pipeline.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return pipeline.Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg := pipeline.DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return pipeline.Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// loadInput reads the payload and decodes it to the strategy's input type.
func loadInput(path, mode string) (any, int, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("read input: %w", err)
	}

	switch mode {
	case "text":
		return string(data), len(data), nil
	case "json":
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, 0, fmt.Errorf("parse input: %w", err)
		}
		return v, len(data), nil
	default:
		return data, len(data), nil
	}
}

func writeResult(path, mode string, result any) error {
	var out io.Writer = os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		out = f
	}

	switch v := result.(type) {
	case []byte:
		_, err := out.Write(v)
		return err
	case string:
		_, err := io.WriteString(out, v)
		return err
	default:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
}

func printStats(w io.Writer, s pipeline.Stats, elapsed time.Duration) {
	fmt.Fprintf(w, "\nTasks: %d total, %d completed, %d failed\n",
		s.TotalTasks, s.CompletedTasks, s.FailedTasks)
	fmt.Fprintf(w, "Retries: %d (%.2f per task)\n", s.Retries, s.RetryRate())
	fmt.Fprintf(w, "Success rate: %.1f%%\n", s.SuccessRate()*100)
	fmt.Fprintf(w, "Avg task latency: %s\n", s.AvgDuration.Round(time.Microsecond))
	fmt.Fprintf(w, "Wall time: %s\n", elapsed.Round(time.Millisecond))
	for kind, n := range s.ErrorKinds {
		fmt.Fprintf(w, "  %s: %d\n", kind, n)
	}
}
