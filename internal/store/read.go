package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/podwire/internal/ir"
)

const emissionColumns = `
	e.id, e.message_id, e.channel, e.seq, e.tick, e.event_type, e.content, e.impact,
	r.response_key
`

// ReadEmission retrieves a single emission by ID, with its response state.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadEmission(ctx context.Context, id string) (ir.EmittedMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+emissionColumns+`
		FROM emissions e
		LEFT JOIN responses r ON r.emission_id = e.id
		WHERE e.id = ?
	`, id)
	if err != nil {
		return ir.EmittedMessage{}, fmt.Errorf("query emission: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return ir.EmittedMessage{}, fmt.Errorf("query emission: %w", err)
		}
		return ir.EmittedMessage{}, sql.ErrNoRows
	}
	msg, _, err := scanEmission(rows)
	return msg, err
}

// ReadEmissions returns all emissions with deterministic ordering.
// Results ordered by seq ASC, id ASC.
//
// Returns an empty slice (not nil) if the log is empty.
func (s *Store) ReadEmissions(ctx context.Context) ([]ir.EmittedMessage, error) {
	return s.queryEmissions(ctx, `
		SELECT `+emissionColumns+`
		FROM emissions e
		LEFT JOIN responses r ON r.emission_id = e.id
		ORDER BY e.seq ASC, e.id COLLATE BINARY ASC
	`)
}

// ReadEmissionsForMessage returns the emissions of one definition.
func (s *Store) ReadEmissionsForMessage(ctx context.Context, messageID string) ([]ir.EmittedMessage, error) {
	return s.queryEmissions(ctx, `
		SELECT `+emissionColumns+`
		FROM emissions e
		LEFT JOIN responses r ON r.emission_id = e.id
		WHERE e.message_id = ?
		ORDER BY e.seq ASC, e.id COLLATE BINARY ASC
	`, messageID)
}

func (s *Store) queryEmissions(ctx context.Context, query string, args ...any) ([]ir.EmittedMessage, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query emissions: %w", err)
	}
	defer rows.Close()

	msgs := []ir.EmittedMessage{}
	for rows.Next() {
		msg, _, err := scanEmission(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate emissions: %w", err)
	}
	return msgs, nil
}

// ReadLedger rebuilds the response ledger entries from the log: every
// user-action emission with its resolved state and chosen key.
// Results ordered by seq ASC, id ASC.
func (s *Store) ReadLedger(ctx context.Context) ([]ir.PendingResponse, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+emissionColumns+`
		FROM emissions e
		LEFT JOIN responses r ON r.emission_id = e.id
		WHERE e.requires_response = 1
		ORDER BY e.seq ASC, e.id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	entries := []ir.PendingResponse{}
	for rows.Next() {
		msg, chosen, err := scanEmission(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, ir.PendingResponse{
			EmissionID: msg.ID,
			MessageID:  msg.MessageID,
			Seq:        msg.Seq,
			Responses:  msg.Impact.Responses,
			Actions:    msg.Impact.Actions,
			State:      msg.State,
			Chosen:     chosen,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger: %w", err)
	}
	return entries, nil
}

// ReadResponses returns all recorded responses ordered by seq.
func (s *Store) ReadResponses(ctx context.Context) ([]ResponseRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT emission_id, response_key, seq
		FROM responses
		ORDER BY seq ASC, emission_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query responses: %w", err)
	}
	defer rows.Close()

	recs := []ResponseRecord{}
	for rows.Next() {
		var rec ResponseRecord
		if err := rows.Scan(&rec.EmissionID, &rec.Key, &rec.Seq); err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate responses: %w", err)
	}
	return recs, nil
}

// ReadDrops returns all recorded drops in the order they happened.
func (s *Store) ReadDrops(ctx context.Context) ([]DropRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT after_seq, code, message_id, tick, event_type, error
		FROM drops
		ORDER BY after_seq ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query drops: %w", err)
	}
	defer rows.Close()

	drops := []DropRecord{}
	for rows.Next() {
		var d DropRecord
		var tick sql.NullInt64
		var eventType sql.NullString
		if err := rows.Scan(&d.AfterSeq, &d.Code, &d.MessageID, &tick, &eventType, &d.Error); err != nil {
			return nil, fmt.Errorf("scan drop: %w", err)
		}
		d.Tick = tick.Int64
		d.EventType = eventType.String
		drops = append(drops, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate drops: %w", err)
	}
	return drops, nil
}

// GetLastSeq returns the highest seq number used in the store.
// Used on startup to resume the logical clock from the correct position.
func (s *Store) GetLastSeq(ctx context.Context) (int64, error) {
	var maxSeq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(
			(SELECT COALESCE(MAX(seq), 0) FROM emissions),
			(SELECT COALESCE(MAX(seq), 0) FROM responses)
		)
	`).Scan(&maxSeq)
	if err != nil {
		return 0, fmt.Errorf("get last seq: %w", err)
	}
	return maxSeq, nil
}

// GetLastTick returns the highest tick of a random pass emission, 0 if none.
func (s *Store) GetLastTick(ctx context.Context) (int64, error) {
	var tick int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(tick), 0) FROM emissions`).Scan(&tick)
	if err != nil {
		return 0, fmt.Errorf("get last tick: %w", err)
	}
	return tick, nil
}

// scanEmission scans a row selected with emissionColumns. The second result
// is the chosen response key, empty while unresolved.
func scanEmission(rows *sql.Rows) (ir.EmittedMessage, string, error) {
	var msg ir.EmittedMessage
	var channel string
	var tick sql.NullInt64
	var eventType, chosen sql.NullString
	var contentJSON, impactJSON string

	if err := rows.Scan(
		&msg.ID, &msg.MessageID, &channel, &msg.Seq, &tick, &eventType,
		&contentJSON, &impactJSON, &chosen,
	); err != nil {
		return ir.EmittedMessage{}, "", fmt.Errorf("scan emission: %w", err)
	}

	msg.Channel = ir.Channel(channel)
	msg.Tick = tick.Int64
	msg.EventType = eventType.String

	content, err := unmarshalContent(contentJSON)
	if err != nil {
		return ir.EmittedMessage{}, "", err
	}
	msg.Content = content

	impact, err := unmarshalImpact(impactJSON)
	if err != nil {
		return ir.EmittedMessage{}, "", err
	}
	msg.Impact = impact

	if msg.RequiresResponse() {
		msg.State = ir.StateUnresolved
		if chosen.Valid {
			msg.State = ir.StateResolved
		}
	}
	return msg, chosen.String, nil
}
