package cli

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/tbrandywine/metakv/pkg/lock"
)

// LockOptions holds flags for the lock command.
type LockOptions struct {
	*RootOptions
	TTL  time.Duration
	Wait time.Duration
	Poll time.Duration
}

// NewLockCommand creates the lock command.
func NewLockCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LockOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "lock <key> -- <command> [args...]",
		Short: "Run a command while holding a cooperative lock",
		Long: `Acquire the named lock, run the command, then release the lock.

The lock is renewed in the background while the command runs, so it
never expires under a live holder; if this process dies the lock
expires after its TTL and another holder can take it. The command's
exit code is passed through.

With --wait the command polls until the lock is free or the wait
elapses; without it a busy lock exits 1 immediately.

Example:
  metakv lock nightly-rollup --db ./coord.db -- ./rollup.sh
  metakv lock deploy --wait 1m -- make deploy`,
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLock(opts, args[0], args[1:], cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.TTL, "ttl", 0, "lock time-to-live (default 10s or config lock_ttl)")
	cmd.Flags().DurationVar(&opts.Wait, "wait", 0, "how long to wait for a busy lock (0 = fail immediately)")
	cmd.Flags().DurationVar(&opts.Poll, "poll", 250*time.Millisecond, "poll interval while waiting")

	return cmd
}

func runLock(opts *LockOptions, key string, command []string, cmd *cobra.Command) error {
	store, fileCfg, err := openStore(opts.RootOptions)
	if err != nil {
		return err
	}
	defer store.Close()

	out := formatter(opts.RootOptions, cmd)

	ttl := opts.TTL
	if ttl == 0 {
		ttl, err = fileCfg.LockTTLDuration(lock.DefaultTTL)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid config", err)
		}
	}

	repo, err := lock.New(store, lock.WithTTL(ttl))
	if err != nil {
		return WrapExitError(ExitCommandError, "creating lock repository", err)
	}

	ctx := cmd.Context()
	if opts.Wait > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, opts.Wait)
		err = repo.Await(waitCtx, key, opts.Poll)
		cancel()
		if errors.Is(err, context.DeadlineExceeded) {
			return out.Failure("lock_busy",
				fmt.Sprintf("lock %q still busy after %v", key, opts.Wait))
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "acquiring lock", err)
		}
	} else {
		held, err := repo.Acquire(ctx, key)
		if err != nil {
			return WrapExitError(ExitCommandError, "acquiring lock", err)
		}
		if !held {
			return out.Failure("lock_busy", fmt.Sprintf("lock %q is held by another client", key))
		}
	}
	defer func() {
		// Best effort: the TTL reclaims the lock if the release is lost.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		repo.Release(releaseCtx, key)
	}()

	// Renew at a third of the TTL so a single missed beat is survivable.
	renewCtx, stopRenew := context.WithCancel(ctx)
	defer stopRenew()
	go func() {
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-renewCtx.Done():
				return
			case <-ticker.C:
				repo.Renew(renewCtx, key)
			}
		}
	}()

	child := exec.CommandContext(ctx, command[0], command[1:]...)
	child.Stdout = cmd.OutOrStdout()
	child.Stderr = cmd.ErrOrStderr()
	child.Stdin = cmd.InOrStdin()

	if err := child.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ExitError{Code: exitErr.ExitCode(),
				Message: fmt.Sprintf("command exited with code %d", exitErr.ExitCode())}
		}
		return WrapExitError(ExitCommandError, "running command", err)
	}
	return nil
}
