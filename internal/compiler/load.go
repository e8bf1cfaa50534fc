package compiler

import (
	"github.com/roach88/podwire/internal/ir"
	"github.com/roach88/podwire/internal/registry"
)

// LoadDefinitions validates each definition independently and builds a
// registry from the valid ones. Invalid definitions are reported and left
// out; they never block the rest. The first valid definition with a given id
// wins and later duplicates are reported.
//
// The returned registry is never nil.
func LoadDefinitions(defs []ir.MessageDefinition) (*registry.Registry, []ConfigError) {
	var (
		entries []*registry.Entry
		errs    []ConfigError
	)
	seen := make(map[string]bool, len(defs))

	for _, def := range defs {
		if def.ID != "" && seen[def.ID] {
			errs = append(errs, ConfigError{
				DefinitionID: def.ID,
				Field:        "id",
				Code:         ErrDuplicateID,
				Message:      "duplicate message id",
			})
			continue
		}

		entry, defErrs := compileEntry(def)
		if len(defErrs) > 0 {
			errs = append(errs, defErrs...)
			continue
		}
		seen[def.ID] = true
		entries = append(entries, entry)
	}

	reg, err := registry.New(entries)
	if err != nil {
		errs = append(errs, ConfigError{Field: "catalog", Code: ErrGeneral, Message: err.Error()})
		return registry.Empty(), errs
	}
	return reg, errs
}

// FailedIDs returns the distinct definition ids named by errs, in order.
func FailedIDs(errs []ConfigError) []string {
	var ids []string
	seen := map[string]bool{}
	for _, e := range errs {
		if e.DefinitionID == "" || seen[e.DefinitionID] {
			continue
		}
		seen[e.DefinitionID] = true
		ids = append(ids, e.DefinitionID)
	}
	return ids
}
