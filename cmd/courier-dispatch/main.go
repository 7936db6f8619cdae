package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"courier-dispatch/internal/common/logger"
	"courier-dispatch/internal/config"
	"courier-dispatch/internal/dispatcher"
	"courier-dispatch/internal/scheduler"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "courier-dispatch",
	Short: "Runner assignment engine for the delivery platform",
	Long: `courier-dispatch reacts to order and runner change events: it picks a
delivery runner for every new order (availability, schedule conflicts,
fairness), keeps runner load counters consistent through the order
lifecycle, and runs the periodic counter resets.`,
}

var dispatcherCmd = &cobra.Command{
	Use:   "dispatcher",
	Short: "Consume change events and assign runners to orders",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run("dispatcher", dispatcher.Run)
	},
}

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run the periodic counter resets and waiting-order sweep",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run("scheduler", scheduler.Run)
	},
}

func run(mode string, fn func(context.Context, *config.Config) error) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	lg := logger.New("bootstrap")
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	lg.Info("service_started", map[string]any{"mode": mode})
	if err := fn(ctx, cfg); err != nil {
		lg.Error("fatal", err, map[string]any{"mode": mode})
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./config.yaml)")
	rootCmd.AddCommand(dispatcherCmd, schedulerCmd)
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
