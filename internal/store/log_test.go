package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/roach88/podwire/internal/ir"
)

func newsEmission(id string, seq, tick int64) ir.EmittedMessage {
	return ir.EmittedMessage{
		ID:        id,
		MessageID: "news-flavor-coffee",
		Channel:   ir.ChannelNewswire,
		Content:   map[string]any{"type": "flavor", "text": "Coffee <broken> & cold"},
		Impact:    ir.ResolvedImpact{Kind: ir.ImpactNone},
		Seq:       seq,
		Tick:      tick,
	}
}

func emailEmission(id string, seq int64) ir.EmittedMessage {
	return ir.EmittedMessage{
		ID:        id,
		MessageID: "email-drawdown",
		Channel:   ir.ChannelEmail,
		Content:   map[string]any{"subject": "Drawdown Alert: Alpha"},
		Impact: ir.ResolvedImpact{
			Kind:      ir.ImpactUserAction,
			Responses: []string{"cut", "hold"},
			Actions: map[string]ir.ActionDirective{
				"cut":  {Action: "reduce_allocation", Label: "Cut Alpha", Params: map[string]any{"amount": 500.0}},
				"hold": {Action: "no_op"},
			},
		},
		Seq:       seq,
		EventType: "pod_drawdown",
		State:     ir.StateUnresolved,
	}
}

func TestWriteEmissions_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	want := []ir.EmittedMessage{newsEmission("m-1", 1, 4), emailEmission("m-2", 2)}
	if err := s.WriteEmissions(ctx, "hash-1", want); err != nil {
		t.Fatalf("WriteEmissions() failed: %v", err)
	}

	got, err := s.ReadEmissions(ctx)
	if err != nil {
		t.Fatalf("ReadEmissions() failed: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("emissions mismatch (-want +got):\n%s", diff)
	}

	var hash string
	if err := s.db.QueryRow("SELECT catalog_hash FROM emissions WHERE id = 'm-1'").Scan(&hash); err != nil {
		t.Fatalf("query catalog_hash: %v", err)
	}
	if hash != "hash-1" {
		t.Errorf("catalog_hash = %q, want hash-1", hash)
	}
}

func TestWriteEmissions_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	msgs := []ir.EmittedMessage{newsEmission("m-1", 1, 1)}
	for i := 0; i < 2; i++ {
		if err := s.WriteEmissions(ctx, "", msgs); err != nil {
			t.Fatalf("WriteEmissions() #%d failed: %v", i, err)
		}
	}

	got, err := s.ReadEmissions(ctx)
	if err != nil {
		t.Fatalf("ReadEmissions() failed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("got %d emissions, want 1", len(got))
	}
}

func TestWriteEmissions_DuplicateSeqRollsBack(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.WriteEmissions(ctx, "", []ir.EmittedMessage{newsEmission("m-1", 1, 1), newsEmission("m-2", 1, 1)})
	if err == nil {
		t.Fatal("expected UNIQUE(seq) violation")
	}

	got, _ := s.ReadEmissions(ctx)
	if len(got) != 0 {
		t.Errorf("partial pass was committed: %d rows", len(got))
	}
}

func TestReadEmission_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.ReadEmission(context.Background(), "missing")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("err = %v, want sql.ErrNoRows", err)
	}
}

func TestReadEmissions_EmptyIsNotNil(t *testing.T) {
	s := createTestStore(t)

	got, err := s.ReadEmissions(context.Background())
	if err != nil {
		t.Fatalf("ReadEmissions() failed: %v", err)
	}
	if got == nil {
		t.Error("expected empty slice, got nil")
	}
}

func TestWriteResponse_FirstWins(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.WriteEmissions(ctx, "", []ir.EmittedMessage{emailEmission("m-1", 1)}); err != nil {
		t.Fatalf("WriteEmissions() failed: %v", err)
	}

	inserted, err := s.WriteResponse(ctx, ResponseRecord{EmissionID: "m-1", Key: "cut", Seq: 2})
	if err != nil || !inserted {
		t.Fatalf("first WriteResponse() = %v, %v; want true, nil", inserted, err)
	}
	inserted, err = s.WriteResponse(ctx, ResponseRecord{EmissionID: "m-1", Key: "hold", Seq: 3})
	if err != nil || inserted {
		t.Fatalf("second WriteResponse() = %v, %v; want false, nil", inserted, err)
	}

	msg, err := s.ReadEmission(ctx, "m-1")
	if err != nil {
		t.Fatalf("ReadEmission() failed: %v", err)
	}
	if msg.State != ir.StateResolved {
		t.Errorf("state = %q, want resolved", msg.State)
	}

	recs, err := s.ReadResponses(ctx)
	if err != nil {
		t.Fatalf("ReadResponses() failed: %v", err)
	}
	if diff := cmp.Diff([]ResponseRecord{{EmissionID: "m-1", Key: "cut", Seq: 2}}, recs); diff != "" {
		t.Errorf("responses mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteResponse_UnknownEmission(t *testing.T) {
	s := createTestStore(t)

	_, err := s.WriteResponse(context.Background(), ResponseRecord{EmissionID: "missing", Key: "cut", Seq: 1})
	if err == nil {
		t.Error("expected foreign key violation")
	}
}

func TestReadLedger(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	msgs := []ir.EmittedMessage{emailEmission("m-1", 1), newsEmission("m-2", 2, 1), emailEmission("m-3", 3)}
	if err := s.WriteEmissions(ctx, "", msgs); err != nil {
		t.Fatalf("WriteEmissions() failed: %v", err)
	}
	if _, err := s.WriteResponse(ctx, ResponseRecord{EmissionID: "m-3", Key: "hold", Seq: 4}); err != nil {
		t.Fatalf("WriteResponse() failed: %v", err)
	}

	got, err := s.ReadLedger(ctx)
	if err != nil {
		t.Fatalf("ReadLedger() failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d ledger entries, want 2", len(got))
	}
	if got[0].EmissionID != "m-1" || got[0].State != ir.StateUnresolved || got[0].Chosen != "" {
		t.Errorf("entry 0 = %+v", got[0])
	}
	if got[1].EmissionID != "m-3" || got[1].State != ir.StateResolved || got[1].Chosen != "hold" {
		t.Errorf("entry 1 = %+v", got[1])
	}
	if diff := cmp.Diff([]string{"cut", "hold"}, got[0].Responses); diff != "" {
		t.Errorf("responses mismatch (-want +got):\n%s", diff)
	}
}

func TestGetLastSeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	seq, err := s.GetLastSeq(ctx)
	if err != nil {
		t.Fatalf("GetLastSeq() failed: %v", err)
	}
	if seq != 0 {
		t.Errorf("empty store seq = %d, want 0", seq)
	}

	if err := s.WriteEmissions(ctx, "", []ir.EmittedMessage{emailEmission("m-1", 5)}); err != nil {
		t.Fatalf("WriteEmissions() failed: %v", err)
	}
	if _, err := s.WriteResponse(ctx, ResponseRecord{EmissionID: "m-1", Key: "cut", Seq: 9}); err != nil {
		t.Fatalf("WriteResponse() failed: %v", err)
	}

	seq, err = s.GetLastSeq(ctx)
	if err != nil {
		t.Fatalf("GetLastSeq() failed: %v", err)
	}
	if seq != 9 {
		t.Errorf("seq = %d, want 9", seq)
	}
}

func TestGetLastTick(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	tick, err := s.GetLastTick(ctx)
	if err != nil {
		t.Fatalf("GetLastTick() failed: %v", err)
	}
	if tick != 0 {
		t.Errorf("empty store tick = %d, want 0", tick)
	}

	msgs := []ir.EmittedMessage{newsEmission("n-1", 1, 4), newsEmission("n-2", 2, 12), emailEmission("m-1", 3)}
	if err := s.WriteEmissions(ctx, "", msgs); err != nil {
		t.Fatalf("WriteEmissions() failed: %v", err)
	}

	tick, err = s.GetLastTick(ctx)
	if err != nil {
		t.Fatalf("GetLastTick() failed: %v", err)
	}
	if tick != 12 {
		t.Errorf("tick = %d, want 12", tick)
	}
}

func TestReadTrace_Ordering(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.WriteEmissions(ctx, "", []ir.EmittedMessage{newsEmission("m-1", 1, 1), emailEmission("m-2", 2)}); err != nil {
		t.Fatalf("WriteEmissions() failed: %v", err)
	}
	if err := s.WriteDrops(ctx, []DropRecord{{AfterSeq: 2, Code: "MISSING_VARIABLE", MessageID: "news-leverage", EventType: "pod_drawdown", Error: "missing variable \"pod_name\""}}); err != nil {
		t.Fatalf("WriteDrops() failed: %v", err)
	}
	if _, err := s.WriteResponse(ctx, ResponseRecord{EmissionID: "m-2", Key: "cut", Seq: 3}); err != nil {
		t.Fatalf("WriteResponse() failed: %v", err)
	}

	events, err := s.ReadTrace(ctx, "")
	if err != nil {
		t.Fatalf("ReadTrace() failed: %v", err)
	}

	var got []string
	for _, e := range events {
		got = append(got, e.Type.String()+":"+e.ID)
	}
	want := []string{"emission:m-1", "emission:m-2", "drop:news-leverage", "response:m-2"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}
	if events[2].Drop.EventType != "pod_drawdown" {
		t.Errorf("drop event type = %q", events[2].Drop.EventType)
	}
}

func TestReadTrace_FilterByMessage(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.WriteEmissions(ctx, "", []ir.EmittedMessage{newsEmission("m-1", 1, 1), emailEmission("m-2", 2)}); err != nil {
		t.Fatalf("WriteEmissions() failed: %v", err)
	}
	if _, err := s.WriteResponse(ctx, ResponseRecord{EmissionID: "m-2", Key: "cut", Seq: 3}); err != nil {
		t.Fatalf("WriteResponse() failed: %v", err)
	}

	events, err := s.ReadTrace(ctx, "email-drawdown")
	if err != nil {
		t.Fatalf("ReadTrace() failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Emission == nil || events[1].Response == nil {
		t.Errorf("unexpected events: %+v", events)
	}
}

func TestTraceEventType_String(t *testing.T) {
	tests := map[TraceEventType]string{
		TraceEmission:     "emission",
		TraceResponse:     "response",
		TraceDrop:         "drop",
		TraceEventType(9): "unknown",
	}
	for typ, want := range tests {
		if got := typ.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", typ, got, want)
		}
	}
}
