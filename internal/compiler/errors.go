package compiler

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// Configuration error codes (E100-E199)
const (
	ErrGeneral = "E100" // catalog-level failure not tied to a rule below

	// Identity (E101-E102)
	ErrIDEmpty     = "E101" // id is required
	ErrDuplicateID = "E102" // id already loaded

	// Trigger (E103-E107)
	ErrInvalidChannel     = "E103" // channel not newswire, email or ledger
	ErrInvalidTrigger     = "E104" // creation_trigger not random or game_event
	ErrInvalidProbability = "E105" // probability outside [0,1]
	ErrMissingEventType   = "E106" // game_event trigger without event_type
	ErrInvalidComparator  = "E107" // unknown comparator in conditions

	// Impact (E108-E109)
	ErrInvalidFormula = "E108" // formula does not parse
	ErrInvalidImpact  = "E109" // impact fields do not match its type

	// Channel invariants (E110-E113)
	ErrResponseNotAllowed = "E110" // newswire/ledger with requires_response
	ErrLedgerTrigger      = "E111" // ledger must be triggered by game_event
	ErrLedgerImpact       = "E112" // ledger impact must be none
	ErrResponseMismatch   = "E113" // requires_response must match user_action impact

	// Content (E114-E116)
	ErrLedgerAmount   = "E114" // ledger content needs a numeric or formula amount
	ErrContentMissing = "E115" // content is required
	ErrSchema         = "E116" // catalog entry does not match the message schema
)

// ConfigError is a problem with one definition, found at load time.
// The offending definition is skipped; others still load.
type ConfigError struct {
	DefinitionID string    `json:"definition_id,omitempty"`
	Field        string    `json:"field"`
	Code         string    `json:"code"`
	Message      string    `json:"message"`
	Pos          token.Pos `json:"-"`
}

// Error implements the error interface.
func (e ConfigError) Error() string {
	msg := fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
	if e.DefinitionID != "" {
		msg = fmt.Sprintf("[%s] %s: %s: %s", e.Code, e.DefinitionID, e.Field, e.Message)
	}
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), msg)
	}
	return msg
}

// Line returns the source line, or 0 when unknown.
func (e ConfigError) Line() int {
	if !e.Pos.IsValid() {
		return 0
	}
	return e.Pos.Line()
}

// formatCUEError converts a CUE error into ConfigErrors with positions.
func formatCUEError(err error, id, field string) []ConfigError {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	cueErrs := errors.Errors(err)
	if len(cueErrs) == 0 {
		return []ConfigError{{DefinitionID: id, Field: field, Code: ErrSchema, Message: err.Error()}}
	}

	out := make([]ConfigError, 0, len(cueErrs))
	for _, e := range cueErrs {
		ce := ConfigError{
			DefinitionID: id,
			Field:        field,
			Code:         ErrSchema,
			Message:      e.Error(),
		}
		if p := e.Path(); len(p) > 0 {
			ce.Field = strings.Join(p, ".")
		}
		ce.Pos = dataPos(errors.Positions(e))
		out = append(out, ce)
	}
	return out
}

// dataPos prefers a position in the catalog over one in the embedded schema.
func dataPos(positions []token.Pos) token.Pos {
	for _, p := range positions {
		if p.IsValid() && p.Filename() != schemaFilename {
			return p
		}
	}
	if len(positions) > 0 {
		return positions[0]
	}
	return token.NoPos
}

// withPos fills in the position on errors that have none.
func withPos(errs []ConfigError, pos token.Pos) []ConfigError {
	for i := range errs {
		if !errs[i].Pos.IsValid() {
			errs[i].Pos = pos
		}
	}
	return errs
}
