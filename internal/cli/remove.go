package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRemoveCommand creates the remove command.
func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <key>",
		Short: "Delete a key and print the removed value",
		Long: `Delete a key and print the value it held.

Removing a key that does not exist changes nothing and exits 1. The read
and the delete happen atomically: a concurrent put cannot slip between
them.

Example:
  metakv remove leader --db ./coord.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemove(rootOpts, args[0], cmd)
		},
	}
}

type removeResult struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func runRemove(opts *RootOptions, key string, cmd *cobra.Command) error {
	store, _, err := openStore(opts)
	if err != nil {
		return err
	}
	defer store.Close()

	out := formatter(opts, cmd)

	value, existed, err := store.Remove(cmd.Context(), key)
	if err != nil {
		return WrapExitError(ExitCommandError, "remove failed", err)
	}
	if !existed {
		return out.Failure("not_found", fmt.Sprintf("key %q not found", key))
	}

	if opts.Format == "json" {
		return out.Success(removeResult{Key: key, Value: value})
	}
	return out.Success(value)
}
