package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/adhocore/gronx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/podwire/internal/engine"
	"github.com/roach88/podwire/internal/ir"
	"github.com/roach88/podwire/internal/metrics"
	"github.com/roach88/podwire/internal/watch"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	engineFlags

	Cron        string
	NoWatch     bool
	MetricsAddr string

	// IDGenerator overrides the emission id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	IDGenerator engine.IDGenerator
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <catalog>",
		Short: "Drive the engine from stdin, a cron schedule and catalog changes",
		Long: `Run the message engine as a long-lived process.

Commands are read from stdin, one JSON object per line:

  {"cmd":"tick","tick":12}
  {"cmd":"event","type":"pod_drawdown","payload":{"pod_name":"Alpha","drawdown_pct":12}}
  {"cmd":"respond","emission":"<emission id>","key":"cut"}
  {"cmd":"reload"}

With --cron, a random pass runs on the schedule, numbering ticks after the
highest tick seen. The catalog is reloaded when its files change unless
--no-watch is given. With --db, every outcome is appended to the log and
the pending responses are restored from it on start. With --metrics-addr,
Prometheus metrics are served at /metrics.

Outcomes are written to stdout, one per line. The process exits at the end
of stdin when no cron schedule is set, or on SIGINT/SIGTERM.

Examples:
  podwire run messages.json --db podwire.db
  podwire run ./catalog --cron "*/5 * * * *" --metrics-addr :9464 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(opts, args[0], cmd)
		},
	}

	opts.engineFlags.register(cmd)
	cmd.Flags().StringVar(&opts.Cron, "cron", "", "cron expression for scheduled ticks (env PODWIRE_CRON)")
	cmd.Flags().BoolVar(&opts.NoWatch, "no-watch", false, "do not reload the catalog on change (env PODWIRE_WATCH=false)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "address to serve /metrics on (env PODWIRE_METRICS_ADDR)")

	return cmd
}

func runEngine(opts *RunOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	cfg, err := opts.engineFlags.settings(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("cron") {
		cfg.Cron = opts.Cron
	}
	if opts.NoWatch {
		cfg.Watch = false
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.MetricsAddr = opts.MetricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	static, err := opts.staticContext()
	if err != nil {
		return err
	}

	logger := newLogger(cmd.ErrOrStderr(), cfg.Level(), opts.Verbose)

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cat, err := loadCatalog(path)
	if err != nil {
		return catalogExitError(f, err)
	}
	for _, e := range cat.Errors {
		logger.Warn("definition skipped", "error", e)
	}
	logger.Info("catalog loaded", "path", path, "definitions", cat.Registry.Len(), "hash", cat.Registry.Hash())

	extra := []engine.EngineOption{engine.WithStaticContext(static)}
	if opts.IDGenerator != nil {
		extra = append(extra, engine.WithIDGenerator(opts.IDGenerator))
	}

	var promReg *prometheus.Registry
	if cfg.MetricsAddr != "" {
		promReg = prometheus.NewRegistry()
		promReg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		rec, err := metrics.NewPrometheus(promReg)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to register metrics", err)
		}
		extra = append(extra, engine.WithMetrics(rec))
	}

	s, err := openSession(ctx, cfg, cat.Registry, logger, extra...)
	if err != nil {
		return err
	}
	defer s.Close()

	ticks := &tickCounter{}
	if s.store != nil {
		last, err := s.store.GetLastTick(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read last tick", err)
		}
		ticks.Observe(last)
	}

	loop := engine.NewLoop(s.engine)
	sink := &runSink{session: s, out: f, ticks: ticks}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// The loop ends when stdin closes without a schedule; take the
		// other producers down with it.
		defer cancel()
		return loop.Run(gctx, sink)
	})

	if cfg.Cron != "" {
		g.Go(func() error {
			schedule(gctx, cfg.Cron, loop, ticks, logger)
			return nil
		})
	}

	if cfg.Watch {
		w, err := watch.New(path, reloadFunc(path, loop, logger),
			watch.WithDebounce(cfg.WatchDebounce),
			watch.WithLogger(logger),
		)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to watch catalog", err)
		}
		if err := w.Start(gctx); err != nil {
			return WrapExitError(ExitCommandError, "failed to watch catalog", err)
		}
		defer w.Stop()
	}

	if promReg != nil {
		addr, err := serveMetrics(gctx, g, cfg.MetricsAddr, promReg, logger)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to serve metrics", err)
		}
		logger.Info("serving metrics", "addr", addr)
	}

	// Stdin is read outside the group: a blocked read cannot be cancelled.
	go readCommands(cmd.InOrStdin(), path, loop, ticks, cfg.Cron == "", logger)

	logger.Info("engine started", "db", cfg.DB, "cron", cfg.Cron, "watch", cfg.Watch)
	err = g.Wait()
	loop.Close()
	if err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "engine error", err)
	}

	logger.Info("engine stopped",
		"emitted", sink.emitted.Load(),
		"dropped", sink.dropped.Load(),
		"responses", sink.responses.Load(),
		"pending", len(s.engine.Ledger().Pending()),
	)
	return nil
}

// LineCommand is one stdin command of the run command.
type LineCommand struct {
	Cmd      string         `json:"cmd"` // tick | event | respond | reload
	Tick     int64          `json:"tick,omitempty"`
	Type     string         `json:"type,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
	Emission string         `json:"emission,omitempty"`
	Key      string         `json:"key,omitempty"`
}

// ParseLineCommand decodes and checks one stdin line.
func ParseLineCommand(line []byte) (LineCommand, error) {
	var lc LineCommand
	if err := json.Unmarshal(line, &lc); err != nil {
		return LineCommand{}, fmt.Errorf("invalid command: %w", err)
	}
	switch lc.Cmd {
	case "tick", "reload":
	case "event":
		if lc.Type == "" {
			return LineCommand{}, errors.New("event command requires type")
		}
	case "respond":
		if lc.Emission == "" || lc.Key == "" {
			return LineCommand{}, errors.New("respond command requires emission and key")
		}
	default:
		return LineCommand{}, fmt.Errorf("unknown command %q", lc.Cmd)
	}
	return lc, nil
}

// readCommands feeds stdin lines to the loop. At EOF the loop is closed
// when closeAtEOF is set, so queued commands drain and Run returns.
func readCommands(r io.Reader, path string, loop *engine.Loop, ticks *tickCounter, closeAtEOF bool, logger *slog.Logger) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		lc, err := ParseLineCommand(line)
		if err != nil {
			logger.Warn("stdin command rejected", "error", err)
			continue
		}

		var cmd engine.Command
		switch lc.Cmd {
		case "tick":
			ticks.Observe(lc.Tick)
			cmd = engine.Command{Kind: engine.CommandTick, Tick: lc.Tick}
		case "event":
			cmd = engine.Command{Kind: engine.CommandEvent, EventType: lc.Type, Payload: ir.Variables(lc.Payload)}
		case "respond":
			cmd = engine.Command{Kind: engine.CommandRespond, EmissionID: lc.Emission, Key: lc.Key}
		case "reload":
			cat, err := loadCatalog(path)
			if err != nil {
				logger.Error("reload failed", "error", err)
				continue
			}
			cmd = engine.Command{Kind: engine.CommandReload, Registry: cat.Registry}
		}
		if !loop.Submit(cmd) {
			return
		}
	}
	if err := sc.Err(); err != nil {
		logger.Error("stdin read failed", "error", err)
	}
	if closeAtEOF {
		loop.Close()
	}
}

// reloadFunc reloads the catalog and queues the swap behind the commands
// already submitted.
func reloadFunc(path string, loop *engine.Loop, logger *slog.Logger) watch.ReloadFunc {
	return func(ctx context.Context) error {
		cat, err := loadCatalog(path)
		if err != nil {
			return err
		}
		for _, e := range cat.Errors {
			logger.Warn("definition skipped", "error", e)
		}
		if !loop.Submit(engine.Command{Kind: engine.CommandReload, Registry: cat.Registry}) {
			return errors.New("engine loop closed")
		}
		return nil
	}
}

// schedule submits a tick at every cron fire until ctx is done.
func schedule(ctx context.Context, expr string, loop *engine.Loop, ticks *tickCounter, logger *slog.Logger) {
	for {
		now := time.Now()
		next, err := gronx.NextTickAfter(expr, now, false)
		if err != nil {
			logger.Error("next cron tick failed", "cron", expr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			tick := ticks.Next()
			logger.Debug("scheduled tick", "tick", tick)
			if !loop.Submit(engine.Command{Kind: engine.CommandTick, Tick: tick}) {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// serveMetrics starts the /metrics server in g and shuts it down when ctx
// is done. Returns the bound address.
func serveMetrics(ctx context.Context, g *errgroup.Group, addr string, reg *prometheus.Registry, logger *slog.Logger) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", "error", err)
		}
		return nil
	})
	return ln.Addr().String(), nil
}

// tickCounter numbers scheduled ticks after the highest tick seen.
type tickCounter struct {
	last atomic.Int64
}

// Next returns the tick after the highest seen and records it.
func (c *tickCounter) Next() int64 {
	return c.last.Add(1)
}

// Observe records a tick submitted from elsewhere.
func (c *tickCounter) Observe(tick int64) {
	for {
		cur := c.last.Load()
		if tick <= cur || c.last.CompareAndSwap(cur, tick) {
			return
		}
	}
}

// RunEvent is one line of run output.
type RunEvent struct {
	Type        string             `json:"type"` // emission | drop | response | response_error | reload
	Emission    *ir.EmittedMessage `json:"emission,omitempty"`
	Drop        *DropOutput        `json:"drop,omitempty"`
	Response    *RespondOutput     `json:"response,omitempty"`
	EmissionID  string             `json:"emission_id,omitempty"`
	Key         string             `json:"key,omitempty"`
	Code        string             `json:"code,omitempty"`
	Error       string             `json:"error,omitempty"`
	Definitions int                `json:"definitions,omitempty"`
}

// runSink logs every outcome and prints it. It runs on the loop goroutine.
type runSink struct {
	session *session
	out     *OutputFormatter
	ticks   *tickCounter

	emitted   atomic.Int64
	dropped   atomic.Int64
	responses atomic.Int64
}

// Deliver implements engine.Sink.
func (r *runSink) Deliver(ctx context.Context, out engine.Outcome) error {
	switch out.Command.Kind {
	case engine.CommandTick, engine.CommandEvent:
		if err := r.session.record(ctx, out.Result); err != nil {
			return err
		}
		for i := range out.Result.Emitted {
			r.emitted.Add(1)
			r.print(RunEvent{Type: "emission", Emission: &out.Result.Emitted[i]})
		}
		for _, d := range newPassOutput(out.Result).Dropped {
			r.dropped.Add(1)
			r.print(RunEvent{Type: "drop", Drop: &d})
		}

	case engine.CommandRespond:
		id, key := out.Command.EmissionID, out.Command.Key
		var seq int64
		err := out.Err
		if err == nil {
			seq, err = r.session.logResponse(ctx, id, key)
		}
		if err != nil {
			var re *engine.ResponseError
			code := "ERROR"
			if errors.As(err, &re) {
				code = string(re.Code)
			} else if out.Err == nil {
				// Logging failed; stop the loop.
				return err
			}
			r.print(RunEvent{Type: "response_error", EmissionID: id, Key: key, Code: code, Error: err.Error()})
			return nil
		}
		r.responses.Add(1)
		r.print(RunEvent{Type: "response", Response: &RespondOutput{EmissionID: id, Key: key, Seq: seq, Action: out.Action}})

	case engine.CommandReload:
		r.print(RunEvent{Type: "reload", Definitions: r.session.engine.Registry().Len()})
	}
	return nil
}

func (r *runSink) print(ev RunEvent) {
	w := r.out.Writer
	if r.out.JSON() {
		data, err := json.Marshal(ev)
		if err != nil {
			fmt.Fprintf(r.out.GetErrWriter(), "encode %s: %v\n", ev.Type, err)
			return
		}
		fmt.Fprintf(w, "%s\n", data)
		return
	}

	switch ev.Type {
	case "emission":
		m := ev.Emission
		fmt.Fprintf(w, "✓ %s %s [%s] seq=%d\n", m.ID, m.MessageID, m.Channel, m.Seq)
		writeJSONLine(w, "content", m.Content)
		if m.Impact.Kind != ir.ImpactNone || m.Impact.Ledger != nil {
			writeJSONLine(w, "impact", m.Impact)
		}
	case "drop":
		fmt.Fprintf(w, "✗ %s dropped: %s\n", ev.Drop.MessageID, ev.Drop.Error)
	case "response":
		fmt.Fprintf(w, "✓ %s resolved with %q (seq=%d)\n", ev.Response.EmissionID, ev.Response.Key, ev.Response.Seq)
		writeJSONLine(w, "action", ev.Response.Action)
	case "response_error":
		fmt.Fprintf(w, "✗ respond %s/%s: %s\n", ev.EmissionID, ev.Key, ev.Error)
	case "reload":
		fmt.Fprintf(w, "↻ reloaded %d definitions\n", ev.Definitions)
	}
}

var _ engine.Sink = (*runSink)(nil)

