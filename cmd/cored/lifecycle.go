package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start ID",
	Short: "Run the start pipeline for a container",
	Args:  cobra.ExactArgs(1),
	RunE:  runStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop ID",
	Short: "Run the stop pipeline, escalating to SIGKILL after --timeout",
	Args:  cobra.ExactArgs(1),
	RunE:  runStop,
}

var killCmd = &cobra.Command{
	Use:   "kill ID",
	Short: "Signal a running container directly, bypassing the stop pipeline",
	Args:  cobra.ExactArgs(1),
	RunE:  runKill,
}

var rmCmd = &cobra.Command{
	Use:   "rm ID",
	Short: "Run the delete pipeline, tearing down mounts/volumes/network and the record",
	Args:  cobra.ExactArgs(1),
	RunE:  runRm,
}

func init() {
	startCmd.Flags().Bool("reset-restart-manager", false, "Clear restart-manager suppression before starting")

	stopCmd.Flags().Duration("timeout", 10*time.Second, "Grace period before SIGKILL escalation")
	stopCmd.Flags().Bool("restart", false, "Mark this stop as restart-triggered (suppresses manual-stop bookkeeping)")

	killCmd.Flags().Int("signal", 15, "Signal number to send (default SIGTERM)")

	rmCmd.Flags().BoolP("force", "f", false, "Stop the container first if it is running")
}

func runStart(cmd *cobra.Command, args []string) error {
	id := args[0]
	resetRM, _ := cmd.Flags().GetBool("reset-restart-manager")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	e, closeFn, err := newEngine(cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := e.Start(context.Background(), id, resetRM); err != nil {
		return fmt.Errorf("start %s: %w", id, err)
	}
	fmt.Printf("%s\n", id)
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	id := args[0]
	timeout, _ := cmd.Flags().GetDuration("timeout")
	restart, _ := cmd.Flags().GetBool("restart")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	e, closeFn, err := newEngine(cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := e.Stop(context.Background(), id, timeout, restart); err != nil {
		return fmt.Errorf("stop %s: %w", id, err)
	}
	fmt.Printf("%s\n", id)
	return nil
}

func runKill(cmd *cobra.Command, args []string) error {
	id := args[0]
	sig, _ := cmd.Flags().GetInt("signal")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	e, closeFn, err := newEngine(cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := e.Kill(context.Background(), id, sig); err != nil {
		return fmt.Errorf("kill %s: %w", id, err)
	}
	fmt.Printf("%s\n", id)
	return nil
}

func runRm(cmd *cobra.Command, args []string) error {
	id := args[0]
	force, _ := cmd.Flags().GetBool("force")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	e, closeFn, err := newEngine(cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := e.Delete(context.Background(), id, force); err != nil {
		return fmt.Errorf("rm %s: %w", id, err)
	}
	fmt.Printf("%s\n", id)
	return nil
}
