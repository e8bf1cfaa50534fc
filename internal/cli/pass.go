package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/podwire/internal/engine"
	"github.com/roach88/podwire/internal/ir"
	"github.com/roach88/podwire/internal/registry"
)

// PassOutput is the result of a tick or event command.
type PassOutput struct {
	Emitted []ir.EmittedMessage `json:"emitted"`
	Dropped []DropOutput        `json:"dropped"`
}

// DropOutput describes one dropped emission.
type DropOutput struct {
	Code      string `json:"code"`
	MessageID string `json:"message_id,omitempty"`
	Tick      int64  `json:"tick,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Error     string `json:"error"`
}

func newPassOutput(pass engine.PassResult) PassOutput {
	out := PassOutput{
		Emitted: pass.Emitted,
		Dropped: make([]DropOutput, 0, len(pass.Dropped)),
	}
	if out.Emitted == nil {
		out.Emitted = []ir.EmittedMessage{}
	}
	for _, d := range pass.Dropped {
		out.Dropped = append(out.Dropped, DropOutput{
			Code:      string(d.Code),
			MessageID: d.MessageID,
			Tick:      d.Tick,
			EventType: d.EventType,
			Error:     d.Error(),
		})
	}
	return out
}

// PassOptions holds flags for the tick and event commands.
type PassOptions struct {
	*RootOptions
	engineFlags

	Tick      int64
	EventType string
	Payload   string
}

// NewTickCommand creates the tick command.
func NewTickCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PassOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "tick <catalog>",
		Short: "Run the random pass for one tick",
		Long: `Sample every active random message once for the given tick and print
what fires. Samples are derived from the seed and the tick, so the same
seed and tick always fire the same messages.

With --db, emissions are appended to the log.

Examples:
  podwire tick messages.json --tick 12
  podwire tick messages.json --tick 12 --seed 7 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPass(opts, args[0], cmd, func(e *engine.Engine) engine.PassResult {
				return e.Tick(opts.Tick)
			})
		},
	}

	opts.engineFlags.register(cmd)
	cmd.Flags().Int64Var(&opts.Tick, "tick", 0, "logical tick number (required)")
	_ = cmd.MarkFlagRequired("tick")

	return cmd
}

// NewEventCommand creates the event command.
func NewEventCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PassOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "event <catalog>",
		Short: "Run the event pass for one game event",
		Long: `Evaluate every active game_event message listening for the event type
against the payload and print what fires.

With --db, the pending response ledger is restored from the log and new
emissions are appended to it.

Examples:
  podwire event messages.json --type pod_drawdown --payload '{"pod_name":"Alpha","drawdown_pct":12}'
  podwire event messages.json --type month_end --payload '{"month":"March"}' --db podwire.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := parseObject("payload", opts.Payload)
			if err != nil {
				return err
			}
			return runPass(opts, args[0], cmd, func(e *engine.Engine) engine.PassResult {
				return e.HandleEvent(opts.EventType, payload)
			})
		},
	}

	opts.engineFlags.register(cmd)
	cmd.Flags().StringVar(&opts.EventType, "type", "", "event type (required)")
	cmd.Flags().StringVar(&opts.Payload, "payload", "", "event payload as a JSON object")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}

func runPass(opts *PassOptions, path string, cmd *cobra.Command, pass func(*engine.Engine) engine.PassResult) error {
	ctx := commandContext(cmd)
	f := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	cfg, err := opts.engineFlags.settings(cmd)
	if err != nil {
		return err
	}
	static, err := opts.staticContext()
	if err != nil {
		return err
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg.Level(), opts.Verbose)

	cat, err := loadCatalog(path)
	if err != nil {
		return catalogExitError(f, err)
	}
	for _, e := range cat.Errors {
		logger.Warn("definition skipped", "error", e)
	}

	s, err := openSession(ctx, cfg, cat.Registry, logger, engine.WithStaticContext(static))
	if err != nil {
		return err
	}
	defer s.Close()

	result := pass(s.engine)
	if err := s.record(ctx, result); err != nil {
		return WrapExitError(ExitCommandError, "failed to write log", err)
	}

	out := newPassOutput(result)
	if f.JSON() {
		return f.Success(out)
	}
	writePassText(f.Writer, out)
	return nil
}

func writePassText(w io.Writer, out PassOutput) {
	if len(out.Emitted) == 0 && len(out.Dropped) == 0 {
		fmt.Fprintln(w, "Nothing fired.")
		return
	}
	for _, m := range out.Emitted {
		fmt.Fprintf(w, "✓ %s %s [%s] seq=%d\n", m.ID, m.MessageID, m.Channel, m.Seq)
		writeJSONLine(w, "content", m.Content)
		if m.Impact.Kind != ir.ImpactNone || m.Impact.Ledger != nil {
			writeJSONLine(w, "impact", m.Impact)
		}
	}
	for _, d := range out.Dropped {
		fmt.Fprintf(w, "✗ %s dropped: %s\n", d.MessageID, d.Error)
	}
}

func writeJSONLine(w io.Writer, label string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		fmt.Fprintf(w, "  %s: %v\n", label, v)
		return
	}
	fmt.Fprintf(w, "  %s: %s\n", label, data)
}

// RespondOptions holds flags for the respond command.
type RespondOptions struct {
	*RootOptions
	engineFlags
}

// RespondOutput is the result of a respond command.
type RespondOutput struct {
	EmissionID string             `json:"emission_id"`
	Key        string             `json:"key"`
	Seq        int64              `json:"seq"`
	Action     ir.ActionDirective `json:"action"`
}

// NewRespondCommand creates the respond command.
func NewRespondCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RespondOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "respond <emission-id> <key>",
		Short: "Answer a pending user-action message",
		Long: `Resolve a user-action emission recorded in the log and print the
directive for the simulation to apply. An emission can be answered once.

Exit codes:
  0 - Resolved
  1 - Rejected (UNKNOWN_MESSAGE, ALREADY_RESOLVED, INVALID_KEY)
  2 - Command error

Example:
  podwire respond --db podwire.db 0192f0c4-5b7e-7a10-9c1d-3f2a1b4c5d6e cut`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRespond(opts, args[0], args[1], cmd)
		},
	}

	opts.engineFlags.register(cmd)
	return cmd
}

func runRespond(opts *RespondOptions, emissionID, key string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	f := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	cfg, err := opts.engineFlags.settings(cmd)
	if err != nil {
		return err
	}
	if cfg.DB == "" {
		return NewExitError(ExitCommandError, "respond needs the log: set --db or PODWIRE_DB")
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg.Level(), opts.Verbose)

	s, err := openSession(ctx, cfg, registry.Empty(), logger)
	if err != nil {
		return err
	}
	defer s.Close()

	act, seq, err := s.respond(ctx, emissionID, key)
	if err != nil {
		var re *engine.ResponseError
		if errors.As(err, &re) {
			_ = f.Error(string(re.Code), re.Error(), nil)
			return WrapExitError(ExitFailure, "response rejected", err)
		}
		return WrapExitError(ExitCommandError, "failed to record response", err)
	}

	out := RespondOutput{EmissionID: emissionID, Key: key, Seq: seq, Action: act}
	if f.JSON() {
		return f.Success(out)
	}
	fmt.Fprintf(f.Writer, "✓ %s resolved with %q (seq=%d)\n", emissionID, key, seq)
	writeJSONLine(f.Writer, "action", act)
	return nil
}

// commandContext returns the command's context, or Background when the
// command runs outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
