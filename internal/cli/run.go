package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/apeichen/fpga-aichip/internal/bus"
	"github.com/apeichen/fpga-aichip/internal/config"
	"github.com/apeichen/fpga-aichip/internal/engine"
	"github.com/apeichen/fpga-aichip/internal/metrics"
	"github.com/apeichen/fpga-aichip/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database    string // overrides store.path
	Input       string // event file; empty or "-" reads stdin
	Label       string
	Bus         string // overrides bus.backend
	MetricsAddr string // overrides metrics.addr

	// RunIDs overrides the run ID generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs engine.RunIDGenerator
	// Ticker overrides the control tick source (for testing).
	Ticker engine.Ticker
}

// RunSummary is printed when a run ends.
type RunSummary struct {
	RunID       string `json:"run_id"`
	Label       string `json:"label,omitempty"`
	Cycles      int64  `json:"cycles"`
	Events      int    `json:"events"`
	Rejected    int    `json:"rejected"`
	Evaluations int    `json:"evaluations"`
	Trips       int    `json:"trips"`
	Frames      int    `json:"frames,omitempty"`
	State       string `json:"state"`
	Violation   string `json:"violation,omitempty"`
	Seq         uint32 `json:"seq"`
	Digest      string `json:"digest"`
	Database    string `json:"database,omitempty"`
}

func (s RunSummary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s finished after %d cycle(s)\n", s.RunID, s.Cycles)
	fmt.Fprintf(&b, "  Events:      %d (%d rejected)\n", s.Events, s.Rejected)
	fmt.Fprintf(&b, "  Evaluations: %d (%d trip(s))\n", s.Evaluations, s.Trips)
	fmt.Fprintf(&b, "  State:       %s", s.State)
	if s.Violation != "" {
		fmt.Fprintf(&b, " (%s)", s.Violation)
	}
	fmt.Fprintf(&b, "\n  Digest:      %s", s.Digest)
	if s.Database != "" {
		fmt.Fprintf(&b, "\n  Recorded to: %s", s.Database)
	}
	return b.String()
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drive the engine from an event stream",
		Long: `Start the capture engine and governor and feed them events.

Events are read one per line from --input (stdin by default), either as
JSON objects or in the short text form:

  capture_enable on
  set_input 1 0x0400
  trigger
  trigger_edge auto 0x0C00
  power_on
  configure 0 0x0800 0x1200
  tick
  reset

Each event takes one cycle. When engine.tick is set, idle ticks are injected
at that interval as well. The run ends when the input ends or on Ctrl-C.

Example:
  xrcore run --db ./xrcore.db --input ./bench.events
  xrcore run --config ./xrcore.yaml --bus redis < bench.events`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "record to this SQLite database (overrides store.path)")
	cmd.Flags().StringVarP(&opts.Input, "input", "i", "", "event file (default stdin)")
	cmd.Flags().StringVar(&opts.Label, "label", "", "label stored with the run")
	cmd.Flags().StringVar(&opts.Bus, "bus", "", "frame bus backend: memory, redis or none (overrides bus.backend)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve /metrics on this address (overrides metrics.addr)")

	return cmd
}

func runEngine(opts *RunOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	cfg, err := loadRunConfig(opts)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}
	setupLogging(cfg.Log, opts.Verbose, cmd.ErrOrStderr())

	channels, err := cfg.ResolveChannels()
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeChannels, "failed to load channel table", err)
	}
	f.VerboseLog("Loaded %d channel(s)", len(channels))

	in, err := openInput(opts.Input, cmd.InOrStdin())
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeNotFound, "failed to open input", err)
	}
	defer in.Close()

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	pub, err := openPublisher(ctx, cfg.Bus)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeBus, "failed to open frame bus", err)
	}
	defer func() {
		if closeErr := pub.Close(); closeErr != nil {
			slog.Error("error closing frame bus", "error", closeErr)
		}
	}()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(cfg.Metrics.Addr, reg)
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	var counts runCounter
	engOpts := []engine.Option{
		engine.WithPublisher(pub),
		engine.WithMetrics(m),
		engine.WithLabel(opts.Label),
		engine.WithTickInterval(cfg.Engine.Tick),
		engine.WithQueueCapacity(cfg.Engine.Queue),
		engine.WithObserver(counts.observe),
	}
	if opts.RunIDs != nil {
		engOpts = append(engOpts, engine.WithRunIDGenerator(opts.RunIDs))
	}
	if opts.Ticker != nil {
		engOpts = append(engOpts, engine.WithTicker(opts.Ticker))
	}

	if cfg.Store.Path != "" {
		slog.Info("opening database", "path", cfg.Store.Path)
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				slog.Error("error closing database", "error", closeErr)
			}
		}()
		engOpts = append(engOpts, engine.WithRecorder(st))
	}

	eng, err := engine.New(channels, cfg.Policy(), engOpts...)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeConfig, "failed to start engine", err)
	}

	readErr := make(chan error, 1)
	go func() {
		readErr <- readEvents(in, eng.Enqueue)
		eng.Stop()
	}()

	runErr := eng.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return f.Fail(ExitFailure, ErrCodeGeneric, "engine error", runErr)
	}

	// The run is sealed even after a signal, so whatever was recorded stays
	// replayable.
	digest, finishErr := eng.Finish(context.WithoutCancel(ctx))
	if finishErr != nil {
		slog.Error("failed to seal run", "run", eng.RunID(), "error", finishErr)
	}

	if runErr == nil {
		if err := <-readErr; err != nil {
			return f.Fail(ExitCommandError, ErrCodeGeneric, "invalid input", err)
		}
	}

	out := eng.Outputs()
	summary := RunSummary{
		RunID:       eng.RunID(),
		Label:       opts.Label,
		Cycles:      eng.Clock().Current(),
		Events:      counts.events,
		Rejected:    counts.rejected,
		Evaluations: counts.evaluations,
		Trips:       counts.trips,
		State:       out.State.String(),
		Seq:         eng.Seq(),
		Digest:      digest,
		Database:    cfg.Store.Path,
	}
	if out.ViolationValid {
		summary.Violation = out.ViolationCode.String()
	}
	if mb, ok := pub.(*bus.MemoryBus); ok {
		summary.Frames = len(mb.Frames())
	}
	return f.Success(summary)
}

// loadRunConfig applies command-line overrides on top of config.Load.
func loadRunConfig(opts *RunOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, err
	}
	if opts.Database != "" {
		cfg.Store.Path = opts.Database
	}
	if opts.Bus != "" {
		cfg.Bus.Backend = opts.Bus
	}
	if opts.MetricsAddr != "" {
		cfg.Metrics.Addr = opts.MetricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openInput(path string, stdin io.Reader) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(stdin), nil
	}
	return os.Open(path)
}

func openPublisher(ctx context.Context, cfg config.BusConfig) (bus.Publisher, error) {
	switch cfg.Backend {
	case "redis":
		rb := bus.NewRedisBus(bus.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Stream:   cfg.Redis.Stream,
			MaxLen:   cfg.Redis.MaxLen,
		})
		if err := rb.Ping(ctx); err != nil {
			_ = rb.Close()
			return nil, fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
		}
		slog.Info("publishing frames to redis", "addr", cfg.Redis.Addr, "stream", rb.Stream())
		return rb, nil
	case "none":
		return bus.Discard{}, nil
	}
	return bus.NewMemoryBus(), nil
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		slog.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics listener failed", "addr", addr, "error", err)
		}
	}()
	return srv
}

// runCounter tallies reports. It is only touched from the goroutine that
// calls Engine.Run.
type runCounter struct {
	events      int
	rejected    int
	evaluations int
	trips       int
}

func (c *runCounter) observe(rep engine.Report, err error) {
	c.events++
	if err != nil {
		c.rejected++
	}
	if rep.Evaluated {
		c.evaluations++
		if rep.Evaluation.Effects.Tripped {
			c.trips++
		}
	}
	slog.Debug("cycle",
		"cycle", rep.Cycle,
		"event", rep.Event.String(),
		"state", rep.Outputs.State.String(),
		"captured", rep.Captured)
}
