// Package catalog reads and edits message definitions at rest.
//
// A catalog is a messages.json file (a list of definitions), a CUE file, or
// a directory of both. Load compiles every file and builds a registry;
// File edits a single messages.json the way the content admin does.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/roach88/podwire/internal/compiler"
	"github.com/roach88/podwire/internal/ir"
	"github.com/roach88/podwire/internal/registry"
)

// LoadMode controls how errors are handled during catalog loading.
type LoadMode int

const (
	// LoadModeCollectAll reports every invalid definition and loads the rest.
	LoadModeCollectAll LoadMode = iota
	// LoadModeFailFast stops at the first file with errors.
	LoadModeFailFast
)

// Error code constants for catalog-level failures. Definition-level
// failures are compiler.ConfigError values with E1xx codes.
const (
	ErrCodeGeneric    = "E001" // Generic/unknown error
	ErrCodeScanError  = "E002" // Directory scan error
	ErrCodeNoFiles    = "E003" // No catalog files found
	ErrCodeReadFailed = "E004" // File read error
	ErrCodeNotFound   = "E005" // Path not found
	ErrCodeEmpty      = "E006" // Catalog has no definitions
	ErrCodeWrite      = "E007" // File write error
)

// LoadError represents a catalog-level error, such as a missing path.
type LoadError struct {
	Code    string
	Message string
	Path    string
}

func (e *LoadError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %s", e.Path, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Result contains the outcome of loading a catalog.
type Result struct {
	// Registry holds the valid definitions. Never nil.
	Registry *registry.Registry
	// Definitions are all decoded definitions, valid or not, in file order.
	Definitions []ir.MessageDefinition
	// Files are the catalog files read, in walk order.
	Files []string
}

// Load reads every .json and .cue file under path (or path itself when it
// is a file), compiles the definitions and builds a registry.
//
// Errors are *LoadError for catalog-level failures and compiler.ConfigError
// for invalid definitions. Invalid definitions are skipped, so a non-nil
// Result may come with errors.
func Load(path string, mode LoadMode) (*Result, []error) {
	files, err := FindFiles(path)
	if err != nil {
		return nil, []error{err}
	}

	result := &Result{Files: files, Registry: registry.Empty()}
	var errs []error

	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			errs = append(errs, &LoadError{Code: ErrCodeReadFailed, Message: err.Error(), Path: file})
			if mode == LoadModeFailFast {
				return result, errs
			}
			continue
		}

		defs, cfgErrs := compiler.CompileFile(file, data)
		result.Definitions = append(result.Definitions, defs...)
		if mode == LoadModeFailFast {
			for _, def := range defs {
				cfgErrs = append(cfgErrs, compiler.Validate(def)...)
			}
			if len(cfgErrs) > 0 {
				return result, appendConfigErrors(errs, cfgErrs)
			}
		}
		errs = appendConfigErrors(errs, cfgErrs)
	}

	reg, cfgErrs := compiler.LoadDefinitions(result.Definitions)
	result.Registry = reg
	errs = appendConfigErrors(errs, cfgErrs)

	if len(result.Definitions) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeEmpty, Message: "catalog has no message definitions", Path: path})
	}
	return result, errs
}

// FindFiles returns path when it is a catalog file, or walks the directory
// and returns every .json and .cue file in lexical order.
func FindFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: "catalog not found", Path: path}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing catalog: %v", err), Path: path}
	}
	if !info.IsDir() {
		if !IsCatalogFile(path) {
			return nil, &LoadError{Code: ErrCodeNoFiles, Message: "not a .json or .cue file", Path: path}
		}
		return []string{path}, nil
	}

	var files []string
	err = filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && IsCatalogFile(p) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err), Path: path}
	}
	if len(files) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: "no .json or .cue files found", Path: path}
	}
	return files, nil
}

// IsCatalogFile reports whether path has a catalog extension.
func IsCatalogFile(path string) bool {
	switch filepath.Ext(path) {
	case ".json", ".cue":
		return true
	}
	return false
}

func appendConfigErrors(errs []error, cfgErrs []compiler.ConfigError) []error {
	for _, e := range cfgErrs {
		errs = append(errs, e)
	}
	return errs
}
