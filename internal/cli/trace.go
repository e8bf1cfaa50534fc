package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/podwire/internal/ir"
	"github.com/roach88/podwire/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database  string
	MessageID string // optional - filter to one definition
}

// TraceEvent represents a single event in the trace timeline.
type TraceEvent struct {
	Seq       int64          `json:"seq"`
	Type      string         `json:"type"` // emission | response | drop
	ID        string         `json:"id"`
	MessageID string         `json:"message_id,omitempty"`
	Channel   ir.Channel     `json:"channel,omitempty"`
	Tick      int64          `json:"tick,omitempty"`
	EventType string         `json:"event_type,omitempty"`
	Content   map[string]any `json:"content,omitempty"`
	Key       string         `json:"key,omitempty"`
	Code      string         `json:"code,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	MessageID string               `json:"message_id,omitempty"`
	Timeline  []TraceEvent         `json:"timeline"`
	Pending   []ir.PendingResponse `json:"pending"`
	Stats     TraceStats           `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	TotalEvents int `json:"total_events"`
	Emissions   int `json:"emissions"`
	Responses   int `json:"responses"`
	Drops       int `json:"drops"`
	Pending     int `json:"pending"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the emission log",
		Long: `Show what the engine emitted, which responses were chosen and which
emissions were dropped, in seq order.

The output includes:
- Timeline: emissions, responses and drops ordered by seq
- Pending: user-action emissions still awaiting a response
- Stats: counts for each

Examples:
  podwire trace --db podwire.db
  podwire trace --db podwire.db --message email-drawdown
  podwire trace --db podwire.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.MessageID, "message", "", "only records of this message definition")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	f := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	events, err := st.ReadTrace(ctx, opts.MessageID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read trace", err)
	}
	ledger, err := st.ReadLedger(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read ledger", err)
	}

	result := TraceResult{
		MessageID: opts.MessageID,
		Timeline:  buildTimeline(events),
		Pending:   pendingOnly(ledger, opts.MessageID),
	}
	result.Stats = traceStats(result)

	if f.JSON() {
		return f.Success(result)
	}
	if len(result.Timeline) == 0 {
		if opts.MessageID != "" {
			fmt.Fprintf(f.Writer, "No events found for message: %s\n", opts.MessageID)
		} else {
			fmt.Fprintln(f.Writer, "No events found.")
		}
		return nil
	}
	writeTraceText(f.Writer, result, opts.Verbose)
	return nil
}

// buildTimeline flattens store trace events for output.
func buildTimeline(events []store.TraceEvent) []TraceEvent {
	timeline := make([]TraceEvent, 0, len(events))
	for _, ev := range events {
		te := TraceEvent{Seq: ev.Seq, Type: ev.Type.String(), ID: ev.ID}
		switch ev.Type {
		case store.TraceEmission:
			m := ev.Emission
			te.MessageID = m.MessageID
			te.Channel = m.Channel
			te.Tick = m.Tick
			te.EventType = m.EventType
			te.Content = m.Content
		case store.TraceResponse:
			te.Key = ev.Response.Key
		case store.TraceDrop:
			d := ev.Drop
			te.MessageID = d.MessageID
			te.Tick = d.Tick
			te.EventType = d.EventType
			te.Code = d.Code
			te.Error = d.Error
		}
		timeline = append(timeline, te)
	}
	return timeline
}

// pendingOnly keeps unresolved ledger entries, optionally of one definition.
func pendingOnly(entries []ir.PendingResponse, messageID string) []ir.PendingResponse {
	out := []ir.PendingResponse{}
	for _, p := range entries {
		if p.State != ir.StateUnresolved {
			continue
		}
		if messageID != "" && p.MessageID != messageID {
			continue
		}
		out = append(out, p)
	}
	return out
}

func traceStats(r TraceResult) TraceStats {
	stats := TraceStats{TotalEvents: len(r.Timeline), Pending: len(r.Pending)}
	for _, ev := range r.Timeline {
		switch ev.Type {
		case "emission":
			stats.Emissions++
		case "response":
			stats.Responses++
		case "drop":
			stats.Drops++
		}
	}
	return stats
}

func writeTraceText(w io.Writer, result TraceResult, verbose bool) {
	if result.MessageID != "" {
		fmt.Fprintf(w, "Trace for Message: %s\n\n", result.MessageID)
	}

	fmt.Fprintln(w, "=== Timeline ===")
	for _, ev := range result.Timeline {
		formatTimelineEvent(w, ev, verbose)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Pending ===")
	if len(result.Pending) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, p := range result.Pending {
		fmt.Fprintf(w, "  %s %s [%s]\n", truncateID(p.EmissionID), p.MessageID, strings.Join(p.Responses, "|"))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Total Events: %d\n", result.Stats.TotalEvents)
	fmt.Fprintf(w, "  Emissions:    %d\n", result.Stats.Emissions)
	fmt.Fprintf(w, "  Responses:    %d\n", result.Stats.Responses)
	fmt.Fprintf(w, "  Drops:        %d\n", result.Stats.Drops)
	fmt.Fprintf(w, "  Pending:      %d\n", result.Stats.Pending)
}

// formatTimelineEvent formats a single timeline event for text output.
func formatTimelineEvent(w io.Writer, ev TraceEvent, verbose bool) {
	switch ev.Type {
	case "emission":
		fmt.Fprintf(w, "  [%d] EMIT %s [%s] %s\n", ev.Seq, ev.MessageID, ev.Channel, trigger(ev))
		if verbose && len(ev.Content) > 0 {
			fmt.Fprintf(w, "       Content: %s\n", formatArgs(ev.Content))
		}
		if verbose {
			fmt.Fprintf(w, "       ID: %s\n", truncateID(ev.ID))
		}
	case "response":
		fmt.Fprintf(w, "  [%d] RESP %s %s\n", ev.Seq, truncateID(ev.ID), ev.Key)
	case "drop":
		fmt.Fprintf(w, "  [%d] DROP %s %s %s\n", ev.Seq, ev.MessageID, ev.Code, trigger(ev))
		if verbose {
			fmt.Fprintf(w, "       Error: %s\n", ev.Error)
		}
	}
}

func trigger(ev TraceEvent) string {
	if ev.EventType != "" {
		return "event=" + ev.EventType
	}
	return fmt.Sprintf("tick=%d", ev.Tick)
}

// formatArgs formats a map for display.
// Uses sorted keys to ensure deterministic output.
func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, formatValue(args[k])))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// formatValue formats a single value for display, handling nested structures deterministically.
func formatValue(v any) string {
	switch val := v.(type) {
	case map[string]any:
		return formatArgs(val)
	case []any:
		parts := make([]string, len(val))
		for i, elem := range val {
			parts[i] = formatValue(elem)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case string:
		return val
	default:
		return fmt.Sprintf("%v", v)
	}
}

// truncateID truncates a long ID for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}
