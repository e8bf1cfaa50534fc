package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/podwire/internal/catalog"
)

// MessageOutput is the result of a message edit.
type MessageOutput struct {
	ID      string         `json:"id"`
	Op      string         `json:"op"` // add | update | delete
	Catalog string         `json:"catalog"`
	Message map[string]any `json:"message"`
}

// NewMessageCommand creates the message command group.
func NewMessageCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "message",
		Short: "Edit message definitions in a JSON catalog",
		Long: `Add, update or delete definitions in a messages.json catalog.

Every edit is validated before the file is written; an edit that would
leave an invalid definition is rejected and the file is left untouched.
Delete is a soft delete: the definition is kept with active set to false.

Exit codes:
  0 - Edit saved
  1 - Edit rejected
  2 - Command error`,
	}

	cmd.AddCommand(
		newMessageAddCommand(rootOpts),
		newMessageUpdateCommand(rootOpts),
		newMessageDeleteCommand(rootOpts),
	)
	return cmd
}

func newMessageAddCommand(rootOpts *RootOptions) *cobra.Command {
	var raw string
	cmd := &cobra.Command{
		Use:   "add <catalog.json>",
		Short: "Add a message definition",
		Example: `  podwire message add messages.json --json '{"id":"news-flavor-rain","channel":"newswire",
    "creation_trigger":"random","creation_trigger_config":{"probability":0.1},
    "features":{"read_only":true,"requires_response":false},
    "impact":{"type":"none"},"content":{"type":"flavor","text":"Rain in the city."}}'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := parseMessage(raw)
			if err != nil {
				return err
			}
			return editCatalog(rootOpts, cmd, args[0], "add", func(f *catalog.File) (string, error) {
				return f.Create(msg)
			})
		},
	}
	cmd.Flags().StringVar(&raw, "json", "", "definition as a JSON object (required)")
	_ = cmd.MarkFlagRequired("json")
	return cmd
}

func newMessageUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	var raw string
	cmd := &cobra.Command{
		Use:           "update <catalog.json> <id>",
		Short:         "Replace top-level fields of a message definition",
		Example:       `  podwire message update messages.json news-flavor-coffee --json '{"content":{"type":"flavor","text":"Coffee prices up 50%."}}'`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := parseMessage(raw)
			if err != nil {
				return err
			}
			id := args[1]
			return editCatalog(rootOpts, cmd, args[0], "update", func(f *catalog.File) (string, error) {
				return id, f.Update(id, patch)
			})
		},
	}
	cmd.Flags().StringVar(&raw, "json", "", "fields to replace as a JSON object (required)")
	_ = cmd.MarkFlagRequired("json")
	return cmd
}

func newMessageDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <catalog.json> <id>",
		Short:         "Deactivate a message definition",
		Example:       `  podwire message delete messages.json news-flavor-coffee`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[1]
			return editCatalog(rootOpts, cmd, args[0], "delete", func(f *catalog.File) (string, error) {
				return id, f.Delete(id)
			})
		},
	}
}

func parseMessage(raw string) (map[string]any, error) {
	var msg map[string]any
	if err := json.Unmarshal([]byte(raw), &msg); err != nil || msg == nil {
		return nil, NewExitError(ExitCommandError, "--json must be a JSON object")
	}
	return msg, nil
}

// editCatalog opens path, applies edit and saves the file.
func editCatalog(opts *RootOptions, cmd *cobra.Command, path, op string, edit func(*catalog.File) (string, error)) error {
	f := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	file, err := catalog.OpenFile(path)
	if err != nil {
		return catalogExitError(f, err)
	}

	id, err := edit(file)
	if err != nil {
		return editError(f, err)
	}
	if err := file.Save(); err != nil {
		return catalogExitError(f, err)
	}

	msg, _ := file.Get(id)
	out := MessageOutput{ID: id, Op: op, Catalog: path, Message: msg}
	if f.JSON() {
		return f.Success(out)
	}
	fmt.Fprintf(f.Writer, "✓ %s %s (%s)\n", pastTense(op), id, path)
	return nil
}

// editError reports a rejected edit.
func editError(f *OutputFormatter, err error) error {
	var ve *catalog.ValidationError
	if errors.As(err, &ve) {
		if f.JSON() {
			_ = f.Failure(ve.Errors[0].Code, ve.Error(), ve.Errors)
		} else {
			fmt.Fprintf(f.Writer, "✗ %s rejected\n", ve.ID)
			for _, e := range ve.Errors {
				fmt.Fprintf(f.Writer, "  %s: %s: %s\n", e.Code, e.Field, e.Message)
			}
		}
		return NewExitError(ExitFailure, ve.Error())
	}

	code := "E_EDIT"
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		code = "E_NOT_FOUND"
	case errors.Is(err, catalog.ErrExists):
		code = "E_EXISTS"
	case errors.Is(err, catalog.ErrMissingField):
		code = "E_MISSING_FIELD"
	case errors.Is(err, catalog.ErrIDChange):
		code = "E_ID_CHANGE"
	}
	_ = f.Error(code, err.Error(), nil)
	return NewExitError(ExitFailure, err.Error())
}

func pastTense(op string) string {
	switch op {
	case "add":
		return "Added"
	case "update":
		return "Updated"
	default:
		return "Deleted"
	}
}
