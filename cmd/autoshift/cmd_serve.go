package main

import (
	"github.com/spf13/cobra"

	"autoshift/internal/automation"
	appLog "autoshift/internal/log"
	"autoshift/internal/model"
	"autoshift/internal/web"
)

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the local HTTP API and run on the configured schedule",
	Long: `Starts the local HTTP API. Runs started over HTTP or by schedule.cron ask
for confirmation through GET/POST /api/confirmations.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "HTTP listen address (overrides config if set)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	if listenAddr != "" {
		conf.Listen = listenAddr
	}
	a, err := openApp(conf)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	broker := automation.NewBroker(conf.ConfirmTimeout())
	broker.OnRequest(func(req automation.Request) {
		appLog.Info("confirmation requested", "id", req.ID, "kind", req.Kind, "deadline", req.Deadline)
	})
	notifier := automation.NotifierFunc(func(ev model.Event) {
		appLog.Info("run progress", "run", ev.RunID, "message", ev.Message, "final", ev.IsFinal)
	})
	engine := a.engine(conf, broker, notifier)
	defer engine.Wait()

	if conf.Schedule.Cron != "" {
		sched, err := web.NewScheduler(conf.Schedule.Cron, conf.Schedule.HorizonDays, engine)
		if err != nil {
			return err
		}
		sched.Start(ctx)
		defer sched.Stop()
	}

	srv := web.NewServer(ctx, conf, a.store, engine, broker)
	return srv.ListenAndServe(ctx)
}
