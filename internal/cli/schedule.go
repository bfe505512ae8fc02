package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vsisnet/vsispanel-sub003/internal/core/service"
)

var scheduleForce bool

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Scheduler operations",
}

var scheduleRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one scheduler pass and wait for the backups it queues",
	Long: `Run one scheduler pass. Every due configuration gets a pending backup,
or every active one with --force. Typically invoked from cron.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := initServices()
		if err != nil {
			return err
		}
		defer services.Close()

		return services.runJobs(cmd.Context(), func() error {
			result, err := services.Scheduler.RunPass(cmd.Context(), scheduleForce)
			if errors.Is(err, service.ErrPassInProgress) {
				fmt.Println("Another scheduler pass is running, nothing to do")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Printf("Candidates: %d, created: %d, skipped: %d, failed: %d\n",
				result.Candidates, result.Created, result.Skipped, result.Failed)
			return nil
		})
	},
}

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Fail backups, restores and processes stuck past the threshold",
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := initServices()
		if err != nil {
			return err
		}
		defer services.Close()

		result, err := services.Reaper.Reap(cmd.Context())
		if errors.Is(err, service.ErrSweepInProgress) {
			fmt.Println("Another reaper sweep is running, nothing to do")
			return nil
		}
		if err != nil {
			return err
		}

		w := stdoutTable()
		fmt.Fprintf(w, "Running backups:\t%d\n", result.RunningBackups)
		fmt.Fprintf(w, "Pending backups:\t%d\n", result.PendingBackups)
		fmt.Fprintf(w, "Running restores:\t%d\n", result.RunningRestores)
		fmt.Fprintf(w, "Running processes:\t%d\n", result.RunningProcesses)
		fmt.Fprintf(w, "Pending processes:\t%d\n", result.PendingProcesses)
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(scheduleCmd, reapCmd)
	scheduleCmd.AddCommand(scheduleRunCmd)

	scheduleRunCmd.Flags().BoolVar(&scheduleForce, "force", false, "back up every active configuration regardless of schedule")
}
