package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// PutOptions holds flags for the put command.
type PutOptions struct {
	*RootOptions
	IfAbsent bool
}

// NewPutCommand creates the put command.
func NewPutCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PutOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "put <key> <value>",
		Short: "Store a value under a key",
		Long: `Store a value under a key, creating or overwriting the record.

With --if-absent the value is only stored when the key does not exist
yet; if another value is already present it is printed and the command
exits 1. Exactly one concurrent --if-absent caller wins for a given key.

Example:
  metakv put last-processed-id 41782 --db ./coord.db
  metakv put leader worker-7 --if-absent --db ./coord.db`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPut(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.IfAbsent, "if-absent", false, "store only if the key does not exist")

	return cmd
}

type putResult struct {
	Key     string `json:"key"`
	Value   string `json:"value"`
	Created bool   `json:"created"`
}

func runPut(opts *PutOptions, key, value string, cmd *cobra.Command) error {
	store, _, err := openStore(opts.RootOptions)
	if err != nil {
		return err
	}
	defer store.Close()

	out := formatter(opts.RootOptions, cmd)
	ctx := cmd.Context()

	if opts.IfAbsent {
		prev, existed, err := store.PutIfAbsent(ctx, key, value)
		if err != nil {
			return WrapExitError(ExitCommandError, "put failed", err)
		}
		if existed {
			return out.Failure("already_exists",
				fmt.Sprintf("key %q already holds %q", key, prev))
		}
		if opts.Format == "json" {
			return out.Success(putResult{Key: key, Value: value, Created: true})
		}
		return out.Success("")
	}

	if err := store.Put(ctx, key, value); err != nil {
		return WrapExitError(ExitCommandError, "put failed", err)
	}
	if opts.Format == "json" {
		return out.Success(putResult{Key: key, Value: value, Created: true})
	}
	return out.Success("")
}
