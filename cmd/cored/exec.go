package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/cored/pkg/container"
)

var execCmd = &cobra.Command{
	Use:   "exec ID -- CMD [ARG...]",
	Short: "Run a one-off process inside a running container and wait for its exit code",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runExec,
}

func init() {
	execCmd.Flags().String("user", "", "Run as this user instead of the container's default")
	execCmd.Flags().String("workdir", "", "Working directory for the exec'd process")
	execCmd.Flags().StringSlice("env", nil, "Additional environment variables (KEY=VALUE)")
	execCmd.Flags().Duration("timeout", 0, "Abort the exec after this long (0 = no timeout)")
}

func runExec(cmd *cobra.Command, args []string) error {
	id := args[0]
	argv := args[1:]

	user, _ := cmd.Flags().GetString("user")
	workdir, _ := cmd.Flags().GetString("workdir")
	env, _ := cmd.Flags().GetStringSlice("env")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	e, closeFn, err := newEngine(cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	code, err := e.Exec(ctx, id, container.ExecRequest{
		Argv:    argv,
		Env:     env,
		User:    user,
		Workdir: workdir,
		Timeout: timeout,
	})
	if err != nil {
		return fmt.Errorf("exec in %s: %w", id, err)
	}
	if code != 0 {
		os.Exit(code)
	}
	return nil
}
