package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vsisnet/vsispanel-sub003/internal/adapter/crontab"
)

var (
	crontabBinary string
	crontabLogDir string
)

var crontabCmd = &cobra.Command{
	Use:   "crontab",
	Short: "Cron integration for hosts without the daemon",
}

var crontabRenderCmd = &cobra.Command{
	Use:   "render",
	Short: "Print an /etc/cron.d file that runs the scheduler pass and the reaper",
	RunE: func(cmd *cobra.Command, args []string) error {
		binary := crontabBinary
		if binary == "" {
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("failed to resolve binary path: %w", err)
			}
			binary = exe
		}

		configPath := cfgFile
		if configPath == "" {
			configPath = cfg.ConfigPath
		}

		b := crontab.NewBuilder(binary, configPath, crontabLogDir)
		fmt.Print(b.Render(b.Entries(cfg.SchedulerTrigger, cfg.ReaperTrigger), time.Now()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(crontabCmd)
	crontabCmd.AddCommand(crontabRenderCmd)

	crontabRenderCmd.Flags().StringVar(&crontabBinary, "binary", "", "path cron runs (default is this executable)")
	crontabRenderCmd.Flags().StringVar(&crontabLogDir, "log-dir", "/var/log/vsispanel", "directory for job output")
}
