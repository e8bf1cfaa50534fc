package cli

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/podwire/internal/ir"
	"github.com/roach88/podwire/internal/registry"
)

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	Channel      string
	All          bool
	ContentTypes []string
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list <catalog>",
		Short: "List message definitions",
		Long: `List the valid definitions of a catalog in catalog order.

Soft-deleted definitions are hidden unless --all is given.

Examples:
  podwire list messages.json
  podwire list messages.json --channel newswire --content-type flavor
  podwire list messages.json --all --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Channel, "channel", "", "only this channel (newswire|email|ledger)")
	cmd.Flags().BoolVar(&opts.All, "all", false, "include inactive definitions")
	cmd.Flags().StringSliceVar(&opts.ContentTypes, "content-type", nil, "only these newswire content types (flavor|info|alert|breaking)")

	return cmd
}

func runList(opts *ListOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	channel := ir.Channel(opts.Channel)
	if channel != "" && !ir.ValidChannels[channel] {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid channel %q", opts.Channel))
	}
	for _, t := range opts.ContentTypes {
		if !registry.NewswireContentTypes[t] {
			return NewExitError(ExitCommandError, fmt.Sprintf("invalid content type %q", t))
		}
	}

	cat, err := loadCatalog(path)
	if err != nil {
		return catalogExitError(f, err)
	}
	for _, e := range cat.Errors {
		f.VerboseLog("skipped: %v", e)
	}

	defs := cat.Registry.Filter(registry.Query{
		Channel:         channel,
		IncludeInactive: opts.All,
		ContentTypes:    opts.ContentTypes,
	})

	if f.JSON() {
		return f.Success(defs)
	}

	if len(defs) == 0 {
		fmt.Fprintln(f.Writer, "No messages found.")
		return nil
	}
	tw := tabwriter.NewWriter(f.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCHANNEL\tTRIGGER\tWHEN\tACTIVE")
	for _, d := range defs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n", d.ID, d.Channel, d.Trigger, when(d), d.Active)
	}
	return tw.Flush()
}

// when describes what fires a definition.
func when(d ir.MessageDefinition) string {
	if d.Trigger == ir.TriggerRandom {
		return "p=" + strconv.FormatFloat(d.TriggerConfig.Probability, 'g', -1, 64)
	}
	return d.TriggerConfig.EventType
}
