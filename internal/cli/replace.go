package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewReplaceCommand creates the replace command.
func NewReplaceCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "replace <key> <old-value> <new-value>",
		Short: "Compare-and-swap the value under a key",
		Long: `Compare-and-swap: set the key to new-value only if it currently holds
old-value (exact string comparison by the backend).

A failed swap is a normal outcome reported via exit code 1; re-read with
'get' and retry if desired.

Example:
  metakv replace leader worker-7 worker-3 --db ./coord.db`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplace(rootOpts, args[0], args[1], args[2], cmd)
		},
	}
}

type replaceResult struct {
	Key      string `json:"key"`
	Value    string `json:"value"`
	Replaced bool   `json:"replaced"`
}

func runReplace(opts *RootOptions, key, oldValue, newValue string, cmd *cobra.Command) error {
	store, _, err := openStore(opts)
	if err != nil {
		return err
	}
	defer store.Close()

	out := formatter(opts, cmd)

	replaced, err := store.Replace(cmd.Context(), key, oldValue, newValue)
	if err != nil {
		return WrapExitError(ExitCommandError, "replace failed", err)
	}
	if !replaced {
		return out.Failure("cas_failed",
			fmt.Sprintf("key %q does not hold %q", key, oldValue))
	}

	if opts.Format == "json" {
		return out.Success(replaceResult{Key: key, Value: newValue, Replaced: true})
	}
	return out.Success("")
}
