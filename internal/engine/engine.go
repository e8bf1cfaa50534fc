package engine

import (
	"errors"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/podwire/internal/interpolate"
	"github.com/roach88/podwire/internal/ir"
	"github.com/roach88/podwire/internal/metrics"
	"github.com/roach88/podwire/internal/registry"
)

// PassResult is the outcome of one random or event pass.
type PassResult struct {
	// Emitted is in registry order with increasing Seq.
	Emitted []ir.EmittedMessage `json:"emitted"`
	// Dropped holds the candidates that failed evaluation.
	Dropped []*EvaluationError `json:"-"`
}

// Engine evaluates message definitions against game state.
//
// Thread-safety model:
//   - Tick, HandleEvent, Respond and Reload may be called from any goroutine
//   - each pass reads one registry snapshot for its whole duration
//   - the ledger is the only shared mutable state
//
// The engine performs no I/O. Randomness comes from the injected Source.
type Engine struct {
	registry *registry.Holder
	ledger   *Ledger
	clock    *Clock
	guard    *FiringGuard
	source   Source
	ids      IDGenerator
	static   ir.Variables
	mode     interpolate.Mode
	metrics  metrics.Recorder
	logger   *slog.Logger

	guardWindow int
	maxPerPass  int
	workers     int
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithSource sets the random pass sample source.
// Default: HashSource{Seed: 0}.
func WithSource(s Source) EngineOption {
	return func(e *Engine) { e.source = s }
}

// WithStaticContext sets variables visible to every pass. Event payloads
// are merged over them; the payload wins on conflicts.
func WithStaticContext(vars ir.Variables) EngineOption {
	return func(e *Engine) { e.static = vars.Merge(nil) }
}

// WithInterpolation sets strict or lenient placeholder handling.
// Default: interpolate.Strict.
func WithInterpolation(mode interpolate.Mode) EngineOption {
	return func(e *Engine) { e.mode = mode }
}

// WithIDGenerator sets the emission id generator.
// Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) EngineOption {
	return func(e *Engine) { e.ids = g }
}

// WithClock sets the logical clock, e.g. NewClockAt(lastSeq) on restore.
func WithClock(c *Clock) EngineOption {
	return func(e *Engine) { e.clock = c }
}

// WithLedger sets the response ledger, e.g. one restored from the log.
func WithLedger(l *Ledger) EngineOption {
	return func(e *Engine) { e.ledger = l }
}

// WithMetrics sets the activity recorder. Default: metrics.Nop.
func WithMetrics(r metrics.Recorder) EngineOption {
	return func(e *Engine) { e.metrics = r }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithGuardWindow sets how many recent ticks the firing guard remembers.
// Default: DefaultGuardWindow.
func WithGuardWindow(ticks int) EngineOption {
	return func(e *Engine) { e.guardWindow = ticks }
}

// WithMaxEmissionsPerPass caps emissions per pass. Default: 0 (unlimited).
func WithMaxEmissionsPerPass(n int) EngineOption {
	return func(e *Engine) { e.maxPerPass = n }
}

// WithWorkers bounds concurrent candidate evaluation.
// Default: runtime.GOMAXPROCS(0).
func WithWorkers(n int) EngineOption {
	return func(e *Engine) { e.workers = n }
}

// New creates an Engine serving reg (an empty registry when nil).
func New(reg *registry.Registry, opts ...EngineOption) *Engine {
	e := &Engine{
		registry:    registry.NewHolder(reg),
		source:      HashSource{},
		ids:         UUIDv7Generator{},
		static:      ir.Variables{},
		mode:        interpolate.Strict,
		metrics:     metrics.Nop{},
		guardWindow: DefaultGuardWindow,
		workers:     runtime.GOMAXPROCS(0),
	}

	// Apply options
	for _, opt := range opts {
		opt(e)
	}

	if e.clock == nil {
		e.clock = NewClock()
	}
	if e.ledger == nil {
		e.ledger = NewLedger()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.workers < 1 {
		e.workers = 1
	}
	e.guard = NewFiringGuard(e.guardWindow)
	return e
}

// Registry returns the current snapshot.
func (e *Engine) Registry() *registry.Registry { return e.registry.Load() }

// Ledger returns the response ledger.
func (e *Engine) Ledger() *Ledger { return e.ledger }

// Clock returns the logical clock.
func (e *Engine) Clock() *Clock { return e.clock }

// Source returns the random pass sample source.
func (e *Engine) Source() Source { return e.source }

// Reload swaps in a new registry. Passes already running keep the snapshot
// they started with. Pending responses are kept.
func (e *Engine) Reload(reg *registry.Registry) {
	next := reg
	if next == nil {
		next = registry.Empty()
	}
	prev := e.registry.Swap(next)
	e.metrics.Reloaded(next.Len())
	e.logger.Info("registry reloaded",
		"definitions", next.Len(),
		"hash", next.Hash(),
		"previous_hash", prev.Hash(),
	)
}

// Tick runs the random pass for a logical tick.
//
// Each active random definition is sampled once per tick and fires iff
// sample < probability. Calling Tick again with the same tick fires
// nothing new. Conditions on random definitions are evaluated against the
// static context. A tick older than the guard window is dropped with
// ErrCodeStaleTick.
func (e *Engine) Tick(tick int64) PassResult {
	start := time.Now()
	defer func() { e.metrics.Pass(ir.TriggerRandom, time.Since(start)) }()

	if !e.guard.Admit(tick) {
		newest, _ := e.guard.Newest()
		err := &EvaluationError{
			Code: ErrCodeStaleTick,
			Tick: tick,
			Err:  errStaleTick(tick, newest),
		}
		e.drop(err)
		return PassResult{Dropped: []*EvaluationError{err}}
	}

	reg := e.registry.Load()
	var fired []*registry.Entry
	// Sampling is sequential in registry order so order-dependent sources
	// repeat for the same seed.
	for _, entry := range reg.Candidates(ir.TriggerRandom) {
		if !e.guard.Claim(tick, entry.ID()) {
			continue
		}
		if !entry.Condition.Evaluate(e.static) {
			continue
		}
		if e.source.Sample(tick, entry.ID()) >= entry.Def.TriggerConfig.Probability {
			continue
		}
		fired = append(fired, entry)
	}

	e.logger.Debug("random pass", "tick", tick, "candidates", len(fired), "hash", reg.Hash())
	return e.emit(fired, e.static, func(m *ir.EmittedMessage) { m.Tick = tick }, func(ee *EvaluationError) { ee.Tick = tick }, false)
}

// HandleEvent runs the event pass.
//
// Every active game_event definition listening for eventType is evaluated
// against payload merged over the static context. Each definition whose
// condition holds emits independently.
func (e *Engine) HandleEvent(eventType string, payload ir.Variables) PassResult {
	start := time.Now()
	defer func() { e.metrics.Pass(ir.TriggerGameEvent, time.Since(start)) }()

	reg := e.registry.Load()
	vars := e.static.Merge(payload)
	candidates := reg.ByEventType(eventType)

	e.logger.Debug("event pass", "event_type", eventType, "candidates", len(candidates), "hash", reg.Hash())
	return e.emit(candidates, vars,
		func(m *ir.EmittedMessage) { m.EventType = eventType },
		func(ee *EvaluationError) { ee.EventType = eventType },
		true,
	)
}

// Respond resolves a pending user-action emission and returns the chosen
// directive for the simulation to apply.
func (e *Engine) Respond(emissionID, key string) (ir.ActionDirective, error) {
	act, err := e.ledger.Respond(emissionID, key)
	if err != nil {
		outcome := "error"
		var re *ResponseError
		if errors.As(err, &re) {
			outcome = string(re.Code)
		}
		e.metrics.Responded(outcome)
		e.logger.Debug("respond rejected", "emission_id", emissionID, "key", key, "error", err)
		return ir.ActionDirective{}, err
	}
	e.metrics.Responded("resolved")
	e.metrics.Pending(len(e.ledger.Pending()))
	e.logger.Info("response resolved", "emission_id", emissionID, "key", key, "action", act.Action)
	return act, nil
}

// slot holds the evaluation result of one candidate.
type slot struct {
	msg *ir.EmittedMessage
	err *EvaluationError
}

// emit evaluates candidates concurrently, then assigns ids and Seq in
// candidate order. When checkCondition is set, the candidate's condition is
// evaluated against vars first.
func (e *Engine) emit(
	candidates []*registry.Entry,
	vars ir.Variables,
	stamp func(*ir.EmittedMessage),
	stampErr func(*EvaluationError),
	checkCondition bool,
) PassResult {
	slots := make([]slot, len(candidates))

	var g errgroup.Group
	g.SetLimit(e.workers)
	for i, entry := range candidates {
		g.Go(func() error {
			if checkCondition && !entry.Condition.Evaluate(vars) {
				return nil
			}
			msg, err := render(entry, vars, e.mode)
			if err != nil {
				slots[i].err = err
				return nil
			}
			slots[i].msg = msg
			return nil
		})
	}
	// Candidates never fail the group; errors are kept per slot.
	_ = g.Wait()

	var result PassResult
	quota := NewPassQuota(e.maxPerPass)
	for i, s := range slots {
		if s.err != nil {
			stampErr(s.err)
			e.drop(s.err)
			result.Dropped = append(result.Dropped, s.err)
			continue
		}
		if s.msg == nil {
			continue
		}
		if err := quota.Take(); err != nil {
			ee := &EvaluationError{Code: ErrCodeQuotaExceeded, MessageID: candidates[i].ID(), Err: err}
			stampErr(ee)
			e.drop(ee)
			result.Dropped = append(result.Dropped, ee)
			continue
		}

		msg := *s.msg
		msg.ID = e.ids.Generate()
		msg.Seq = e.clock.Next()
		stamp(&msg)
		if msg.RequiresResponse() {
			msg.State = ir.StateUnresolved
			if err := e.ledger.Register(msg); err != nil {
				e.logger.Error("ledger register failed", "emission_id", msg.ID, "error", err)
			}
		}
		e.metrics.Emitted(msg.Channel, candidates[i].Def.Trigger)
		result.Emitted = append(result.Emitted, msg)
	}

	if len(result.Emitted) > 0 {
		e.metrics.Pending(len(e.ledger.Pending()))
	}
	return result
}

func (e *Engine) drop(err *EvaluationError) {
	e.metrics.Dropped(string(err.Code))
	e.logger.Warn("emission dropped",
		"code", err.Code,
		"message_id", err.MessageID,
		"tick", err.Tick,
		"event_type", err.EventType,
		"error", err.Err,
	)
}

// render interpolates the content and resolves the impact of one entry.
func render(entry *registry.Entry, vars ir.Variables, mode interpolate.Mode) (*ir.EmittedMessage, *EvaluationError) {
	content, err := interpolate.Map(entry.Def.Content, vars, mode)
	if err != nil {
		return nil, newEvaluationError(entry.ID(), err)
	}
	impact, err := Resolve(entry, vars, mode)
	if err != nil {
		if ee, ok := err.(*EvaluationError); ok {
			return nil, ee
		}
		return nil, newEvaluationError(entry.ID(), err)
	}
	if impact.Ledger != nil {
		content["amount"] = impact.Ledger.Amount
	}
	return &ir.EmittedMessage{
		MessageID: entry.ID(),
		Channel:   entry.Def.Channel,
		Content:   content,
		Impact:    impact,
	}, nil
}
