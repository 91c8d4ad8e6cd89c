// Command containerless-dispatcher runs the dispatcher front-end: the
// single HTTP listener that proxies user traffic to per-function
// managers (spec.md §4.7). Its cobra root command has no subcommands and
// takes two flags, --addr and --containerd-socket; everything else,
// including the log level, comes from environment variables through
// config.FromEnv.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/containerless/platform/pkg/cluster"
	"github.com/containerless/platform/pkg/compiler"
	"github.com/containerless/platform/pkg/config"
	"github.com/containerless/platform/pkg/dispatcher"
	"github.com/containerless/platform/pkg/events"
	"github.com/containerless/platform/pkg/log"
	"github.com/containerless/platform/pkg/metrics"
	"github.com/containerless/platform/pkg/sourcestore"
	"github.com/containerless/platform/pkg/storage"
	"github.com/containerless/platform/pkg/table"
	"github.com/containerless/platform/pkg/tracert"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "containerless-dispatcher",
	Short: "Containerless dispatcher front-end",
	RunE:  run,
}

func init() {
	rootCmd.Flags().String("addr", ":8080", "dispatcher listen address")
	rootCmd.Flags().String("containerd-socket", "/run/containerd/containerd.sock", "containerd socket path")
}

func run(cmd *cobra.Command, args []string) error {
	cfg := config.FromEnv()
	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})

	addr, _ := cmd.Flags().GetString("addr")
	socketPath, _ := cmd.Flags().GetString("containerd-socket")

	driver, err := cluster.NewContainerdDriver(socketPath, cfg.Namespace)
	if err != nil {
		return fmt.Errorf("connect to containerd: %w", err)
	}
	defer driver.Close()

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open function registry: %w", err)
	}
	defer store.Close()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	metrics.ConsumeManagerEvents(context.Background(), broker)

	registry := tracert.NewRegistry()
	comp := compiler.New(cfg, driver, registry)
	source := sourcestore.New(cfg)
	tbl := table.New(cfg, driver, comp, registry, source, store, broker)

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStart()
	if err := tbl.AdoptRunningFunctions(startCtx); err != nil {
		return fmt.Errorf("adopt running functions: %w", err)
	}

	d := dispatcher.New(addr, tbl)
	errCh := make(chan error, 1)
	go func() {
		if err := d.Serve(); err != nil {
			errCh <- err
		}
	}()
	fmt.Printf("containerless-dispatcher listening on %s\n", addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("shutting down...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "dispatcher error: %v\n", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := d.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "error shutting down dispatcher: %v\n", err)
	}
	if err := comp.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "error shutting down compiler: %v\n", err)
	}

	fmt.Println("shutdown complete")
	return nil
}
