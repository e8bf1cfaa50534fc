package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/podwire/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid       bool                   `json:"valid"`
	Files       int                    `json:"files"`
	Definitions int                    `json:"definitions"`
	Loaded      int                    `json:"loaded"`
	Errors      []compiler.ConfigError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <catalog>",
		Short: "Validate a message catalog",
		Long: `Validate every message definition in a catalog.

The catalog is a messages.json file, a CUE file, or a directory of both.
All invalid definitions are reported, not just the first.

Exit codes:
  0 - Catalog valid
  1 - One or more definitions invalid
  2 - Catalog not found or unreadable`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	cat, err := loadCatalog(path)
	if err != nil {
		return catalogExitError(f, err)
	}
	f.VerboseLog("Read %d catalog file(s) from %s", len(cat.Files), path)

	result := ValidationResult{
		Valid:       len(cat.Errors) == 0,
		Files:       len(cat.Files),
		Definitions: len(cat.Definitions),
		Loaded:      cat.Registry.Len(),
		Errors:      cat.Errors,
	}

	if result.Valid {
		if f.JSON() {
			return f.Success(result)
		}
		fmt.Fprintf(f.Writer, "✓ Catalog valid (%d definitions)\n", result.Definitions)
		return nil
	}

	failed := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(cat.Errors)))
	if f.JSON() {
		if err := f.Failure(cat.Errors[0].Code, cat.Errors[0].Message, result); err != nil {
			return err
		}
		return failed
	}

	fmt.Fprintln(f.Writer, "✗ Validation failed")
	fmt.Fprintln(f.Writer)
	for _, e := range cat.Errors {
		if line := e.Line(); line > 0 {
			fmt.Fprintf(f.Writer, "%s:%d\n", e.Pos.Filename(), line)
		}
		if e.DefinitionID != "" {
			fmt.Fprintf(f.Writer, "  %s: %s: %s: %s\n\n", e.Code, e.DefinitionID, e.Field, e.Message)
		} else {
			fmt.Fprintf(f.Writer, "  %s: %s: %s\n\n", e.Code, e.Field, e.Message)
		}
	}
	fmt.Fprintf(f.Writer, "%d of %d definitions loaded\n", result.Loaded, result.Definitions)
	return failed
}
