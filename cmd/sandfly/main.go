// Command sandfly runs the Sandfly control-plane core: it loads
// configuration, builds the Conductor, and blocks until a fatal error
// or an interrupt signal tears it down, propagating the conductor's
// numeric return code as the process exit code (spec §6).
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sandfly-daq/sandfly/internal/conductor"
	"github.com/sandfly-daq/sandfly/internal/config"
	"github.com/sandfly-daq/sandfly/internal/logging"
)

var configPath string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "sandfly: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "sandfly",
		Short:   "Sandfly DAQ control-plane core",
		Version: "0.1.0",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (yaml)")

	run := &cobra.Command{
		Use:   "run",
		Short: "Boot one conductor and block until shutdown",
		RunE:  runRun,
	}
	config.BindFlags(run.Flags())
	root.AddCommand(run)
	return root
}

func runRun(cmd *cobra.Command, _ []string) error {
	loader, err := config.New(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := loader.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := loader.Load(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	tree := loader.Current()

	log, err := logging.New(logging.Config{Level: "info"})
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	entry := log.WithField("service", "sandfly")

	cnd, err := conductor.New(tree, entry)
	if err != nil {
		return fmt.Errorf("conductor: %w", err)
	}

	stopReload := loader.WatchSIGHUP(entry, cnd.Reload)
	defer stopReload()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		entry.Info("shutdown signal received")
		cnd.Shutdown()
	}()

	if err := cnd.Run(); err != nil {
		entry.WithError(err).Error("conductor exited with error")
	}
	if code := cnd.ReturnCode(); code != 0 {
		os.Exit(code)
	}
	return nil
}
