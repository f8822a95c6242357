package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"autoshift/internal/config"
	appLog "autoshift/internal/log"
)

const version = "0.3.0"

var (
	configPath string
	logLevel   string

	// conf is loaded once in the root PersistentPreRunE.
	conf *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "autoshift",
	Short: "Enter recurring work shifts into the student timesheet",
	Long: `autoshift keeps your weekly shifts in a workbook (one sheet per job) and
enters them into the timesheet site for any date range.

Log in yourself in the browser window it opens; autoshift waits for the
timesheet to appear and then adds each shift, asking before it overrides a
schedule conflict.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	PersistentPostRun: func(*cobra.Command, []string) { appLog.Sync() },
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "Path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, error); overrides config")

	rootCmd.AddCommand(categoriesCmd, shiftsCmd, previewCmd, exportCmd, provisionCmd, runCmd, serveCmd)
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	c, err := config.Load(configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", configPath)
		return err
	}
	conf = c

	level := conf.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	appLog.Configure(appLog.Options{
		Level:      appLog.ParseLevel(level),
		File:       conf.Log.File,
		MaxSizeMB:  conf.Log.MaxSizeMB,
		MaxBackups: conf.Log.MaxBackups,
	})
	appLog.Debug("effective config",
		"config_path", configPath,
		"store_path", conf.StorePath,
		"driver_dir", conf.DriverDir,
		"listen", conf.Listen,
		"headless", conf.Headless,
		"schedule_cron", conf.Schedule.Cron,
	)
	return nil
}

func main() {
	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
