package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/thaliawww/cxdir/internal/directory/api"
	"github.com/thaliawww/cxdir/internal/directory/daemon"
	"github.com/thaliawww/cxdir/internal/directory/dashboard"
	"github.com/thaliawww/cxdir/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run scheduled passes in the foreground",
	Long: `Run the sync daemon until interrupted.

The daemon:
  1. Runs both passes on start (schedule.run_on_start)
  2. Fires group and user passes on their cron schedules
  3. Reloads credentials, quota and schedules when the config file changes
  4. Serves the dashboard, metrics and directory API (dashboard.enabled)

Stop it with Ctrl+C or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		return withApp(ctx, func(a *app) error {
			var services []daemon.Service
			if a.cfg.Dashboard.Enabled {
				server := newDashboard(a, a.cfg.Dashboard.Port)
				services = append(services, server)
			}

			d, err := daemon.New(a.runner, &daemon.Config{
				Schedule:   a.cfg.Schedule,
				ConfigFile: a.cfg.File,
				Reloader:   daemon.ReloaderFunc(a.reload),
				Logger:     a.logger,
			}, services...)
			if err != nil {
				return err
			}

			if a.cfg.File == "" {
				a.logger.Info("no config file found, reload on change is disabled")
			}

			err = d.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	},
}

var dashboardPort int

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "admin",
	Short:   "Serve the dashboard and directory API without scheduling passes",
	Long: `Start the status server in the foreground.

Endpoints:
  /ws        WebSocket stream of group_sync, user_sync, sync_failed,
             membership_update and stats messages
  /health    liveness
  /metrics   Prometheus metrics
  /api/v1    directory API (POST /api/v1/sync/{groups|users} triggers a pass)`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		return withApp(ctx, func(a *app) error {
			port := a.cfg.Dashboard.Port
			if cmd.Flags().Changed("port") {
				port = dashboardPort
			}

			server := newDashboard(a, port)
			if err := server.Start(); err != nil {
				return err
			}

			ui.OK(os.Stdout, "dashboard listening on http://%s", server.GetAddr())
			ui.KeyValues(os.Stdout, map[string]string{
				"websocket": "ws://" + server.GetAddr() + "/ws",
				"api":       "http://" + server.GetAddr() + "/api/v1",
			})

			<-ctx.Done()
			a.logger.Info("shutting down dashboard")
			return server.Stop()
		})
	},
}

// newDashboard builds the status server with the API mounted and wires its
// event handler into the runner.
func newDashboard(a *app, port int) *dashboard.Server {
	handler := api.New(a.groupDir, a.userDir, a.runner, a.logger)

	server := dashboard.NewServer(&dashboard.Config{
		Port:   port,
		API:    handler,
		Stats:  a.db,
		Logger: a.logger,
	})

	events := dashboard.NewHandler(server, a.db, a.logger)
	a.runner.AddObserver(events)
	handler.AddListener(events)

	a.logger.Debug("dashboard configured", zap.Int("port", port))
	return server
}

func init() {
	dashboardCmd.Flags().IntVarP(&dashboardPort, "port", "p", 8080, "port to listen on (default: dashboard.port)")

	rootCmd.AddCommand(daemonCmd, dashboardCmd)
}
