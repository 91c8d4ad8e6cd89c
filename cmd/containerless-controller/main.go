// Command containerless-controller runs the control plane: the
// function table, the compiler actor, and the Controller HTTP API
// (spec.md §6). Its cobra root command follows cuemby-warren/cmd/warren's
// layout, scaled down to the one long-running command this process needs
// instead of warren's cluster/manager/worker subcommand tree. Its flags
// are local to that command and have no environment-variable fallback;
// the rest of the configuration comes from config.FromEnv.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/containerless/platform/pkg/api"
	"github.com/containerless/platform/pkg/cluster"
	"github.com/containerless/platform/pkg/compiler"
	"github.com/containerless/platform/pkg/config"
	"github.com/containerless/platform/pkg/events"
	"github.com/containerless/platform/pkg/log"
	"github.com/containerless/platform/pkg/metrics"
	"github.com/containerless/platform/pkg/sourcestore"
	"github.com/containerless/platform/pkg/storage"
	"github.com/containerless/platform/pkg/table"
	"github.com/containerless/platform/pkg/tracert"
)

// Version is reported on /health and /ready.
const Version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "containerless-controller",
	Short: "Containerless control plane: function table, compiler, and Controller API",
	RunE:  run,
}

func init() {
	rootCmd.Flags().String("api-addr", "0.0.0.0:9000", "Controller API listen address")
	rootCmd.Flags().String("containerd-socket", "/run/containerd/containerd.sock", "containerd socket path")
	rootCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.Flags().Bool("log-json", false, "Output logs in JSON format")
}

func run(cmd *cobra.Command, args []string) error {
	logLevel, _ := cmd.Flags().GetString("log-level")
	logJSON, _ := cmd.Flags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})

	cfg := config.FromEnv()
	apiAddr, _ := cmd.Flags().GetString("api-addr")
	socketPath, _ := cmd.Flags().GetString("containerd-socket")

	driver, err := cluster.NewContainerdDriver(socketPath, cfg.Namespace)
	if err != nil {
		return fmt.Errorf("connect to containerd: %w", err)
	}
	defer driver.Close()
	metrics.RegisterComponent("cluster_driver", true, "connected to "+socketPath)

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open function registry: %w", err)
	}
	defer store.Close()
	metrics.RegisterComponent("storage", true, "bbolt registry at "+cfg.DataDir)

	metrics.SetVersion(Version)

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	metrics.ConsumeManagerEvents(context.Background(), broker)

	registry := tracert.NewRegistry()
	comp := compiler.New(cfg, driver, registry)
	metrics.RegisterComponent("compiler", true, "")
	source := sourcestore.New(cfg)
	tbl := table.New(cfg, driver, comp, registry, source, store, broker)

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStart()
	if err := tbl.AdoptRunningFunctions(startCtx); err != nil {
		return fmt.Errorf("adopt running functions: %w", err)
	}

	controller := api.New(apiAddr, tbl, source, comp, driver)
	errCh := make(chan error, 1)
	go func() {
		if err := controller.Serve(); err != nil {
			errCh <- err
		}
	}()
	fmt.Printf("containerless-controller listening on %s\n", apiAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("shutting down...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "controller API error: %v\n", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := controller.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "error shutting down controller API: %v\n", err)
	}
	if err := comp.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "error shutting down compiler: %v\n", err)
	}
	tbl.Orphan()

	fmt.Println("shutdown complete")
	return nil
}
