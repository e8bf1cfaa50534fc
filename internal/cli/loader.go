package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/podwire/internal/catalog"
	"github.com/roach88/podwire/internal/compiler"
	"github.com/roach88/podwire/internal/config"
	"github.com/roach88/podwire/internal/engine"
	"github.com/roach88/podwire/internal/ir"
	"github.com/roach88/podwire/internal/registry"
	"github.com/roach88/podwire/internal/store"
)

// loadedCatalog is a catalog with its definition errors split out.
type loadedCatalog struct {
	*catalog.Result
	Errors []compiler.ConfigError
}

// loadCatalog loads path collecting every definition error. Catalog-level
// failures (missing path, no files, empty catalog) are returned as the error.
func loadCatalog(path string) (*loadedCatalog, error) {
	res, errs := catalog.Load(path, catalog.LoadModeCollectAll)
	out := &loadedCatalog{Result: res}
	for _, err := range errs {
		var le *catalog.LoadError
		var ce compiler.ConfigError
		switch {
		case errors.As(err, &le):
			return nil, le
		case errors.As(err, &ce):
			out.Errors = append(out.Errors, ce)
		default:
			return nil, err
		}
	}
	return out, nil
}

// catalogExitError maps a loadCatalog failure to a command error.
func catalogExitError(f *OutputFormatter, err error) error {
	code := catalog.ErrCodeGeneric
	msg := err.Error()
	var le *catalog.LoadError
	if errors.As(err, &le) {
		code = le.Code
		msg = le.Message
		if le.Path != "" {
			msg = fmt.Sprintf("%s: %s", msg, le.Path)
		}
	}
	_ = f.Error(code, msg, nil)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, msg))
}

// engineFlags are the flags shared by commands that build an engine. Each
// overrides the matching PODWIRE_* variable when set.
type engineFlags struct {
	db            string
	seed          int64
	interpolation string
	static        string
}

func (f *engineFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.db, "db", "", "SQLite log to restore from and append to (env PODWIRE_DB)")
	cmd.Flags().Int64Var(&f.seed, "seed", 0, "random pass seed (env PODWIRE_SEED)")
	cmd.Flags().StringVar(&f.interpolation, "interpolation", "", "missing placeholder handling: strict|lenient (env PODWIRE_INTERPOLATION)")
	cmd.Flags().StringVar(&f.static, "static", "", "static context as a JSON object")
}

// settings reads the environment and applies the flags the user set.
func (f *engineFlags) settings(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	if cmd.Flags().Changed("db") {
		cfg.DB = f.db
	}
	if cmd.Flags().Changed("seed") {
		cfg.Seed = f.seed
	}
	if cmd.Flags().Changed("interpolation") {
		cfg.Interpolation = f.interpolation
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	return cfg, nil
}

// staticContext parses --static.
func (f *engineFlags) staticContext() (ir.Variables, error) {
	return parseObject("static", f.static)
}

// parseObject decodes a JSON object flag. Empty means no variables.
func parseObject(name, raw string) (ir.Variables, error) {
	if raw == "" {
		return nil, nil
	}
	var vars ir.Variables
	if err := json.Unmarshal([]byte(raw), &vars); err != nil {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("--%s must be a JSON object: %v", name, err))
	}
	return vars, nil
}

// newLogger builds the command logger. Logs go to w, never to stdout, so
// JSON output stays parseable.
func newLogger(w io.Writer, level slog.Level, verbose bool) *slog.Logger {
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// session is an engine plus the optional log it records to.
type session struct {
	engine *engine.Engine
	store  *store.Store // nil without a database
	logger *slog.Logger
}

// openSession builds an engine over reg. With a database the response
// ledger and the clock are restored from the log first.
func openSession(ctx context.Context, cfg config.Config, reg *registry.Registry, logger *slog.Logger, extra ...engine.EngineOption) (*session, error) {
	opts := append(cfg.Options(), engine.WithLogger(logger))

	s := &session{logger: logger}
	if cfg.DB != "" {
		st, err := store.Open(cfg.DB)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open database", err)
		}
		ledger, clock, err := restore(ctx, st)
		if err != nil {
			st.Close()
			return nil, WrapExitError(ExitCommandError, "failed to restore from database", err)
		}
		logger.Info("restored from log", "db", cfg.DB, "ledger", ledger.Len(), "seq", clock.Current())
		opts = append(opts, engine.WithLedger(ledger), engine.WithClock(clock))
		s.store = st
	}

	s.engine = engine.New(reg, append(opts, extra...)...)
	return s, nil
}

// restore rebuilds the ledger and the clock from the log.
func restore(ctx context.Context, st *store.Store) (*engine.Ledger, *engine.Clock, error) {
	entries, err := st.ReadLedger(ctx)
	if err != nil {
		return nil, nil, err
	}
	ledger := engine.NewLedger()
	for _, p := range entries {
		if err := ledger.Restore(p); err != nil {
			return nil, nil, err
		}
	}
	seq, err := st.GetLastSeq(ctx)
	if err != nil {
		return nil, nil, err
	}
	return ledger, engine.NewClockAt(seq), nil
}

// record appends a pass to the log. No-op without a database.
func (s *session) record(ctx context.Context, pass engine.PassResult) error {
	if s.store == nil {
		return nil
	}
	if err := s.store.WriteEmissions(ctx, s.engine.Registry().Hash(), pass.Emitted); err != nil {
		return err
	}
	drops := make([]store.DropRecord, 0, len(pass.Dropped))
	for _, d := range pass.Dropped {
		drops = append(drops, store.DropRecord{
			AfterSeq:  s.engine.Clock().Current(),
			Code:      string(d.Code),
			MessageID: d.MessageID,
			Tick:      d.Tick,
			EventType: d.EventType,
			Error:     d.Error(),
		})
	}
	return s.store.WriteDrops(ctx, drops)
}

// respond resolves an emission and logs the choice.
func (s *session) respond(ctx context.Context, emissionID, key string) (ir.ActionDirective, int64, error) {
	act, err := s.engine.Respond(emissionID, key)
	if err != nil {
		return ir.ActionDirective{}, 0, err
	}
	seq, err := s.logResponse(ctx, emissionID, key)
	if err != nil {
		return ir.ActionDirective{}, 0, err
	}
	return act, seq, nil
}

// logResponse stamps a resolved response with the next seq and logs it.
// Rejected responses never reach here, so they take no seq. When another
// process sharing the database recorded a response first, the log keeps
// that one and the caller gets ALREADY_RESOLVED.
func (s *session) logResponse(ctx context.Context, emissionID, key string) (int64, error) {
	seq := s.engine.Clock().Next()
	if s.store == nil {
		return seq, nil
	}
	rec := store.ResponseRecord{EmissionID: emissionID, Key: key, Seq: seq}
	inserted, err := s.store.WriteResponse(ctx, rec)
	if err != nil {
		return 0, fmt.Errorf("log response: %w", err)
	}
	if !inserted {
		return 0, &engine.ResponseError{Code: engine.ErrCodeAlreadyResolved, EmissionID: emissionID, Key: key}
	}
	return seq, nil
}

func (s *session) Close() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}
