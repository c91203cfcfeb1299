package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print the value stored under a key",
		Long: `Print the value stored under a key.

Exits 1 if the key does not exist, so scripts can branch on presence
without parsing output.

Example:
  metakv get last-processed-id --db ./coord.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(rootOpts, args[0], cmd)
		},
	}
}

type getResult struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func runGet(opts *RootOptions, key string, cmd *cobra.Command) error {
	store, _, err := openStore(opts)
	if err != nil {
		return err
	}
	defer store.Close()

	out := formatter(opts, cmd)

	value, found, err := store.Get(cmd.Context(), key)
	if err != nil {
		return WrapExitError(ExitCommandError, "get failed", err)
	}
	if !found {
		return out.Failure("not_found", fmt.Sprintf("key %q not found", key))
	}

	if opts.Format == "json" {
		return out.Success(getResult{Key: key, Value: value})
	}
	return out.Success(value)
}
