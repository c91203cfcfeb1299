package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the metadata and lock tables if they do not exist",
		Long: `Create the metadata and lock tables if they do not exist.

Idempotent: running init against an already-initialized database is a
no-op. Tables are created under the configured prefix, so two prefixes
can coexist in one database.

Example:
  metakv init --db ./coord.db
  metakv init --driver postgres --db "host=db user=app dbname=coord" --prefix APP_`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(rootOpts, cmd)
		},
	}
}

func runInit(opts *RootOptions, cmd *cobra.Command) error {
	// Open ensures the schema as a side effect; init exists so scripts can
	// do it explicitly and fail early with a clear message.
	store, _, err := openStore(opts)
	if err != nil {
		return err
	}
	defer store.Close()

	out := formatter(opts, cmd)
	return out.Success(fmt.Sprintf("initialized %sMETADATA_STORE and %sLOCK",
		store.TablePrefix(), store.TablePrefix()))
}
