package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/roach88/podwire/internal/catalog"
	"github.com/roach88/podwire/internal/engine"
	"github.com/roach88/podwire/internal/interpolate"
	"github.com/roach88/podwire/internal/ir"
	"github.com/roach88/podwire/internal/store"
)

// Harness is the scenario execution engine. It drives an engine.Engine and
// logs every outcome to an in-memory store, the same way the run command
// logs to disk.
type Harness struct {
	store  *store.Store
	engine *engine.Engine
	logger *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Deterministic helpers ensure reproducible results.
//
// Execution flow:
// 1. Create fresh in-memory database
// 2. Load the catalog
// 3. Execute steps, checking each expect clause
// 4. Evaluate assertions against the trace and the log
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context for store access.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	loaded, errs := catalog.Load(scenario.Catalog, catalog.LoadModeCollectAll)
	if loaded == nil {
		return nil, fmt.Errorf("failed to load catalog: %w", errors.Join(errs...))
	}

	mode, err := interpolate.ParseMode(scenario.Interpolation)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in scenarios
	opts := []engine.EngineOption{
		engine.WithSource(scenarioSource(scenario)),
		engine.WithIDGenerator(engine.NewSequentialGenerator("msg")),
		engine.WithStaticContext(scenario.Static),
		engine.WithInterpolation(mode),
		engine.WithMaxEmissionsPerPass(scenario.MaxEmissions),
		engine.WithLogger(logger),
	}

	h := &Harness{
		store:  st,
		engine: engine.New(loaded.Registry, opts...),
		logger: logger,
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i+1, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
	}

	actx := &AssertionContext{Store: st, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// scenarioSource returns a FixedSource when the scenario pins samples,
// otherwise a HashSource seeded from the scenario.
func scenarioSource(s *Scenario) engine.Source {
	if len(s.Samples) == 0 && s.DefaultSample == nil {
		return engine.HashSource{Seed: s.Seed}
	}
	def := 1.0
	if s.DefaultSample != nil {
		def = *s.DefaultSample
	}
	return engine.FixedSource{Samples: s.Samples, Default: def}
}

// executeStep runs one step, logs its outcome and checks its expect clause.
// Only store failures are returned as errors; unmet expectations are
// recorded on the result.
func (h *Harness) executeStep(ctx context.Context, n int, step Step, result *Result) error {
	h.logger.Debug("scenario step", "step", n)

	switch {
	case step.Tick != nil:
		pass := h.engine.Tick(*step.Tick)
		if err := h.record(ctx, n, pass, result); err != nil {
			return err
		}
		h.checkPass(n, step.Expect, pass, result)

	case step.Event != "":
		pass := h.engine.HandleEvent(step.Event, ir.Variables(step.Payload))
		if err := h.record(ctx, n, pass, result); err != nil {
			return err
		}
		h.checkPass(n, step.Expect, pass, result)

	case step.Respond != nil:
		return h.respond(ctx, n, step, result)

	case step.Reload != "":
		loaded, _ := catalog.Load(step.Reload, catalog.LoadModeCollectAll)
		if loaded == nil {
			return fmt.Errorf("reload %s: catalog not found", step.Reload)
		}
		h.engine.Reload(loaded.Registry)
		result.Trace = append(result.Trace, TraceEvent{
			Step:        n,
			Type:        EventReload,
			Definitions: loaded.Registry.Len(),
		})
	}
	return nil
}

// record logs a pass to the store and the trace.
func (h *Harness) record(ctx context.Context, n int, pass engine.PassResult, result *Result) error {
	if err := h.store.WriteEmissions(ctx, h.engine.Registry().Hash(), pass.Emitted); err != nil {
		return err
	}

	drops := make([]store.DropRecord, 0, len(pass.Dropped))
	for _, d := range pass.Dropped {
		drops = append(drops, store.DropRecord{
			AfterSeq:  h.engine.Clock().Current(),
			Code:      string(d.Code),
			MessageID: d.MessageID,
			Tick:      d.Tick,
			EventType: d.EventType,
			Error:     d.Error(),
		})
	}
	if err := h.store.WriteDrops(ctx, drops); err != nil {
		return err
	}

	for _, msg := range pass.Emitted {
		result.AddEmission(n, msg)
	}
	for _, d := range pass.Dropped {
		result.AddDrop(n, d)
	}
	return nil
}

func (h *Harness) respond(ctx context.Context, n int, step Step, result *Result) error {
	id, key := step.Respond.Emission, step.Respond.Key
	act, err := h.engine.Respond(id, key)

	if err != nil {
		var re *engine.ResponseError
		code := "ERROR"
		if errors.As(err, &re) {
			code = string(re.Code)
		}
		result.Trace = append(result.Trace, TraceEvent{
			Step:  n,
			Type:  EventResponseError,
			ID:    id,
			Key:   key,
			Code:  code,
			Error: err.Error(),
		})
		if step.Expect == nil || step.Expect.Error != code {
			result.AddError(fmt.Sprintf("step %d: respond %s/%s failed: %v", n, id, key, err))
		}
		return nil
	}

	seq := h.engine.Clock().Next()
	if _, err := h.store.WriteResponse(ctx, store.ResponseRecord{EmissionID: id, Key: key, Seq: seq}); err != nil {
		return err
	}
	result.Trace = append(result.Trace, TraceEvent{
		Step:   n,
		Type:   EventResponse,
		Seq:    seq,
		ID:     id,
		Key:    key,
		Action: &act,
	})

	if step.Expect == nil {
		return nil
	}
	if step.Expect.Error != "" {
		result.AddError(fmt.Sprintf("step %d: respond %s/%s: expected error %s, got success", n, id, key, step.Expect.Error))
	}
	if step.Expect.Action != "" && step.Expect.Action != act.Action {
		result.AddError(fmt.Sprintf("step %d: respond %s/%s: expected action %q, got %q", n, id, key, step.Expect.Action, act.Action))
	}
	return nil
}

// checkPass compares a pass against the step's expect clause.
func (h *Harness) checkPass(n int, expect *Expect, pass engine.PassResult, result *Result) {
	if expect == nil {
		return
	}

	if expect.Emitted != nil {
		got := make([]string, 0, len(pass.Emitted))
		for _, m := range pass.Emitted {
			got = append(got, m.MessageID)
		}
		if !slices.Equal(got, expect.Emitted) {
			result.AddError(fmt.Sprintf("step %d: expected emitted %v, got %v", n, expect.Emitted, got))
		}
	}

	if expect.Dropped != nil {
		got := make([]string, 0, len(pass.Dropped))
		for _, d := range pass.Dropped {
			got = append(got, string(d.Code))
		}
		if !slices.Equal(got, expect.Dropped) {
			result.AddError(fmt.Sprintf("step %d: expected dropped %v, got %v", n, expect.Dropped, got))
		}
	}

	for id, want := range expect.Content {
		i := slices.IndexFunc(pass.Emitted, func(m ir.EmittedMessage) bool { return m.MessageID == id })
		if i < 0 {
			result.AddError(fmt.Sprintf("step %d: expected content for %s, but it was not emitted", n, id))
			continue
		}
		if !matchContent(pass.Emitted[i].Content, want) {
			result.AddError(fmt.Sprintf("step %d: content of %s: expected %v, got %v", n, id, want, pass.Emitted[i].Content))
		}
	}
}
