package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/cored/pkg/container"
	"github.com/cuemby/cored/pkg/quantity"
	"github.com/cuemby/cored/pkg/types"
)

var createCmd = &cobra.Command{
	Use:   "create ID",
	Short: "Register a new container record (state: Created)",
	Long: `Create registers a new Container Record at state Created. It
does not touch the runtime or mount anything; use 'cored start' to run
it.`,
	Args: cobra.ExactArgs(1),
	RunE: runCreate,
}

func init() {
	createCmd.Flags().String("name", "", "Container name (must be unique)")
	createCmd.Flags().String("image", "", "OCI image reference")
	createCmd.Flags().String("rootfs", "", "Path to an already-extracted rootfs (BaseFS)")
	createCmd.Flags().StringSlice("env", nil, "Environment variables (KEY=VALUE)")
	createCmd.Flags().String("workdir", "", "Working directory inside the container")
	createCmd.Flags().String("user", "", "User to run the entrypoint as")
	createCmd.Flags().String("stop-signal", "", "Signal sent on stop (default SIGTERM)")
	createCmd.Flags().String("memory", "", "Memory limit (e.g. 512Mi, 2Gi)")
	createCmd.Flags().Float64("cpus", 0, "CPU limit in cores")
	createCmd.Flags().String("ipc", "host", "IPC mode: shareable, private, host")
	createCmd.Flags().Bool("auto-remove", false, "Remove the container once it stops")
}

func runCreate(cmd *cobra.Command, args []string) error {
	id := args[0]
	name, _ := cmd.Flags().GetString("name")
	image, _ := cmd.Flags().GetString("image")
	rootfs, _ := cmd.Flags().GetString("rootfs")
	envs, _ := cmd.Flags().GetStringSlice("env")
	workdir, _ := cmd.Flags().GetString("workdir")
	user, _ := cmd.Flags().GetString("user")
	stopSignal, _ := cmd.Flags().GetString("stop-signal")
	memory, _ := cmd.Flags().GetString("memory")
	cpus, _ := cmd.Flags().GetFloat64("cpus")
	ipc, _ := cmd.Flags().GetString("ipc")
	autoRemove, _ := cmd.Flags().GetBool("auto-remove")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	e, closeFn, err := newEngine(cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	host := &types.HostConfig{
		IpcMode:    ipc,
		AutoRemove: autoRemove,
	}
	if memory != "" {
		bytes, err := quantity.Parse(memory)
		if err != nil {
			return fmt.Errorf("invalid --memory %q: %w", memory, err)
		}
		host.MemoryLimit = bytes
	}
	if cpus > 0 {
		host.CPUQuota = int64(cpus * 100000)
		host.CPUPeriod = 100000
	}

	req := container.CreateRequest{
		ID:   id,
		Name: name,
		Common: &types.CommonConfig{
			Image:      image,
			BaseFS:     rootfs,
			Env:        envs,
			WorkingDir: workdir,
			User:       user,
			StopSignal: stopSignal,
		},
		Host: host,
	}

	rec, err := e.Create(req)
	if err != nil {
		return fmt.Errorf("create %s: %w", id, err)
	}

	fmt.Printf("%s\n", rec.ID)
	return nil
}
