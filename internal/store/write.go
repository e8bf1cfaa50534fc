package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/podwire/internal/ir"
)

// ResponseRecord is the logged choice for a user-action emission.
type ResponseRecord struct {
	EmissionID string `json:"emission_id"`
	Key        string `json:"key"`
	Seq        int64  `json:"seq"`
}

// DropRecord is a logged evaluation failure. AfterSeq is the clock value at
// the time of the drop and places it in the trace.
type DropRecord struct {
	AfterSeq  int64  `json:"after_seq"`
	Code      string `json:"code"`
	MessageID string `json:"message_id,omitempty"`
	Tick      int64  `json:"tick,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Error     string `json:"error"`
}

// WriteEmissions inserts the emissions of one pass in a single transaction.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - duplicate IDs are silently ignored.
//
// catalogHash records the registry snapshot the pass ran against.
func (s *Store) WriteEmissions(ctx context.Context, catalogHash string, msgs []ir.EmittedMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write emissions: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO emissions
		(id, message_id, channel, seq, tick, event_type, content, impact, requires_response, catalog_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("write emissions: prepare: %w", err)
	}
	defer stmt.Close()

	for i := range msgs {
		msg := &msgs[i]
		contentJSON, err := marshalContent(msg.Content)
		if err != nil {
			return fmt.Errorf("write emission %s: %w", msg.ID, err)
		}
		impactJSON, err := marshalImpact(msg.Impact)
		if err != nil {
			return fmt.Errorf("write emission %s: %w", msg.ID, err)
		}

		if _, err := stmt.ExecContext(ctx,
			msg.ID,
			msg.MessageID,
			string(msg.Channel),
			msg.Seq,
			nullInt(msg.Tick, msg.EventType == ""),
			nullString(msg.EventType),
			contentJSON,
			impactJSON,
			msg.RequiresResponse(),
			catalogHash,
		); err != nil {
			return fmt.Errorf("write emission %s: %w", msg.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write emissions: commit: %w", err)
	}
	return nil
}

// WriteResponse records the chosen key for an emission.
// Returns inserted=false if a response was already recorded; the first
// response is kept.
//
// Note: The emission referenced by EmissionID must exist (foreign key constraint).
func (s *Store) WriteResponse(ctx context.Context, rec ResponseRecord) (inserted bool, err error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO responses (emission_id, response_key, seq)
		VALUES (?, ?, ?)
		ON CONFLICT(emission_id) DO NOTHING
	`, rec.EmissionID, rec.Key, rec.Seq)
	if err != nil {
		return false, fmt.Errorf("write response: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write response: rows affected: %w", err)
	}
	return n > 0, nil
}

// WriteDrops records dropped candidates.
func (s *Store) WriteDrops(ctx context.Context, drops []DropRecord) error {
	if len(drops) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write drops: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, d := range drops {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO drops (after_seq, code, message_id, tick, event_type, error)
			VALUES (?, ?, ?, ?, ?, ?)
		`,
			d.AfterSeq,
			d.Code,
			d.MessageID,
			nullInt(d.Tick, d.EventType == ""),
			nullString(d.EventType),
			d.Error,
		); err != nil {
			return fmt.Errorf("write drop %s: %w", d.Code, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write drops: commit: %w", err)
	}
	return nil
}

// nullInt stores v when valid, NULL otherwise.
func nullInt(v int64, valid bool) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: valid}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
