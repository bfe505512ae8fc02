package cli

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/vsisnet/vsispanel-sub003/internal/api"
	"github.com/vsisnet/vsispanel-sub003/internal/core/service"
	"github.com/vsisnet/vsispanel-sub003/internal/supervisor"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run workers, periodic triggers and the ops server",
	Long: `Run the long-lived daemon: dispatcher workers execute queued backups and
restores, cron triggers fire the scheduler pass and the reaper, and the ops
server exposes health, metrics and process status.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := initServices()
		if err != nil {
			return err
		}
		defer services.Close()

		tree := supervisor.NewTree(logger, supervisor.TreeConfig{})
		tree.AddWorkService(supervisor.NewDispatcherService(services.Dispatcher))
		tree.AddWorkService(supervisor.NewTriggerService(logger,
			supervisor.Trigger{
				Name:       "scheduler",
				Expression: cfg.SchedulerTrigger,
				Run: func(ctx context.Context) error {
					_, err := services.Scheduler.RunPass(ctx, false)
					return err
				},
				Busy: []error{service.ErrPassInProgress},
			},
			supervisor.Trigger{
				Name:       "reaper",
				Expression: cfg.ReaperTrigger,
				Run: func(ctx context.Context) error {
					_, err := services.Reaper.Reap(ctx)
					return err
				},
				Busy: []error{service.ErrSweepInProgress},
			},
		))

		if addr := cfg.OpsAddr(); addr != "" {
			gin.SetMode(gin.ReleaseMode)
			server := api.NewServer(addr, logger, services.ProcessService, services.BackupService, services.RestoreService)
			tree.AddOpsService(server)
		}

		logger.Info().
			Str("scheduler_trigger", cfg.SchedulerTrigger).
			Str("reaper_trigger", cfg.ReaperTrigger).
			Int("workers", cfg.Workers).
			Str("ops_addr", cfg.OpsAddr()).
			Msg("daemon starting")

		err = tree.Serve(cmd.Context())
		if err != nil && cmd.Context().Err() == nil {
			return fmt.Errorf("supervisor stopped: %w", err)
		}
		logger.Info().Msg("daemon stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
