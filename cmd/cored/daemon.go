package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/cored/pkg/metrics"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run cored as a long-lived process, serving metrics and health endpoints",
	Long: `daemon keeps the engine's exit monitor running so exiting
containers are observed and recorded as stopped (and auto-removed when
configured; no restart policy is applied), and exposes /metrics,
/health, /ready and /live for operators.`,
	RunE: runDaemon,
}

func init() {
	daemonCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address for the metrics/health HTTP server")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	fmt.Println("Starting cored...")
	fmt.Printf("  Root path:  %s\n", cfg.RootPath)
	fmt.Printf("  State path: %s\n", cfg.StatePath)
	fmt.Printf("  Containerd: %s (namespace %s)\n", cfg.ContainerdSocket, cfg.ContainerdNamespace)

	e, closeFn, err := newEngine(cfg)
	if err != nil {
		return err
	}
	defer closeFn()
	fmt.Printf("✓ Engine started, %d container(s) reconciled from disk\n", len(e.List()))

	collector := metrics.NewCollector(e.Store)
	collector.Start()
	defer collector.Stop()

	metrics.SetVersion(Version)
	metrics.RegisterComponent("containerd", true, "ready")
	metrics.RegisterComponent("engine", true, "ready")

	go func() {
		http.Handle("/metrics", metrics.Handler())
		http.Handle("/health", metrics.HealthHandler())
		http.Handle("/ready", metrics.ReadyHandler())
		http.Handle("/live", metrics.LivenessHandler())
		if err := http.ListenAndServe(metricsAddr, nil); err != nil {
			fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
		}
	}()
	fmt.Printf("✓ Metrics endpoint: http://%s/metrics\n", metricsAddr)

	fmt.Println()
	fmt.Println("cored is running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down...")
	return nil
}
