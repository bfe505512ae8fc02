package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vsisnet/vsispanel-sub003/internal/core/domain"
	"github.com/vsisnet/vsispanel-sub003/internal/core/repository"
)

var newConfig struct {
	name       string
	backupType string
	frequency  string
	timeOfDay  string
	dayOfWeek  int
	schedule   string
	destType   string
	dest       map[string]string
	remoteID   string
	secondary  []string
	items      []string
	includes   []string
	excludes   []string
	retention  domain.RetentionPolicy
	inactive   bool
}

var configListTrashed bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage backup configurations",
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backup configurations",
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := initServices()
		if err != nil {
			return err
		}
		defer services.Close()

		filter := repository.BackupConfigFilter{IncludeTrashed: configListTrashed}
		if userID > 0 {
			filter.UserID = &userID
		}
		configs, err := services.ConfigService.ListConfigs(cmd.Context(), filter)
		if err != nil {
			return err
		}

		w := stdoutTable()
		fmt.Fprintln(w, "ID\tUSER\tNAME\tTYPE\tSCHEDULE\tACTIVE\tLAST RUN\tNEXT RUN")
		for _, c := range configs {
			active := "yes"
			if !c.IsActive {
				active = "no"
			}
			if c.Trashed() {
				active = "trashed"
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
				c.ID, c.UserID, c.Name, c.BackupType, c.Schedule, active, timeOrDash(c.LastRunAt), timeOrDash(c.NextRunAt))
		}
		return w.Flush()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show <config-id>",
	Short: "Show a backup configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(); err != nil {
			return err
		}
		services, err := initServices()
		if err != nil {
			return err
		}
		defer services.Close()

		c, err := services.ConfigService.GetConfig(cmd.Context(), args[0], userID)
		if err != nil {
			return err
		}

		w := stdoutTable()
		fmt.Fprintf(w, "ID:\t%s\n", c.ID)
		fmt.Fprintf(w, "Name:\t%s\n", c.Name)
		fmt.Fprintf(w, "Type:\t%s\n", c.BackupType)
		fmt.Fprintf(w, "Schedule:\t%s (%s)\n", c.Schedule, c.Frequency)
		fmt.Fprintf(w, "Active:\t%t\n", c.IsActive)
		fmt.Fprintf(w, "Destination:\t%s\n", c.DestinationType)
		fmt.Fprintf(w, "Remote:\t%s\n", orDash(c.RemoteID))
		if len(c.SecondaryRemoteIDs) > 0 {
			fmt.Fprintf(w, "Replicates to:\t%s\n", strings.Join(c.SecondaryRemoteIDs, ", "))
		}
		fmt.Fprintf(w, "Retention:\tlast=%d daily=%d weekly=%d monthly=%d yearly=%d\n",
			c.Retention.KeepLast, c.Retention.KeepDaily, c.Retention.KeepWeekly, c.Retention.KeepMonthly, c.Retention.KeepYearly)
		fmt.Fprintf(w, "Last run:\t%s\n", timeOrDash(c.LastRunAt))
		fmt.Fprintf(w, "Next run:\t%s\n", timeOrDash(c.NextRunAt))
		if c.Trashed() {
			fmt.Fprintf(w, "Trashed:\t%s\n", timeOrDash(c.DeletedAt))
		}
		return w.Flush()
	},
}

var configCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a backup configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(); err != nil {
			return err
		}
		services, err := initServices()
		if err != nil {
			return err
		}
		defer services.Close()

		c := domain.NewBackupConfig(userID, newConfig.name, domain.BackupType(newConfig.backupType), time.Now())
		c.Frequency = domain.ScheduleFrequency(newConfig.frequency)
		c.Schedule = newConfig.schedule
		if newConfig.schedule != "" && !cmd.Flags().Changed("frequency") {
			c.Frequency = domain.FrequencyCustom
		}
		if newConfig.timeOfDay != "" {
			c.TimeOfDay = &newConfig.timeOfDay
		}
		if cmd.Flags().Changed("day") {
			c.DayOfWeek = &newConfig.dayOfWeek
		}
		c.DestinationType = domain.DestinationType(newConfig.destType)
		if newConfig.dest != nil {
			c.DestinationConfig = newConfig.dest
		}
		if newConfig.remoteID != "" {
			c.RemoteID = &newConfig.remoteID
		}
		c.SecondaryRemoteIDs = newConfig.secondary
		c.BackupItems = newConfig.items
		c.IncludePaths = newConfig.includes
		c.ExcludePatterns = newConfig.excludes
		c.Retention = newConfig.retention
		c.IsActive = !newConfig.inactive

		if err := services.ConfigService.CreateConfig(cmd.Context(), c); err != nil {
			return err
		}
		fmt.Printf("Configuration %s created, next run %s\n", c.ID, timeOrDash(c.NextRunAt))
		return nil
	},
}

func setActiveCmd(use, short string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <config-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(); err != nil {
				return err
			}
			services, err := initServices()
			if err != nil {
				return err
			}
			defer services.Close()

			c, err := services.ConfigService.SetActive(cmd.Context(), args[0], userID, active)
			if err != nil {
				return err
			}
			fmt.Printf("Configuration %s active=%t, next run %s\n", c.ID, c.IsActive, timeOrDash(c.NextRunAt))
			return nil
		},
	}
}

var configDeleteCmd = &cobra.Command{
	Use:   "delete <config-id>",
	Short: "Move a backup configuration to the trash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(); err != nil {
			return err
		}
		services, err := initServices()
		if err != nil {
			return err
		}
		defer services.Close()

		if err := services.ConfigService.DeleteConfig(cmd.Context(), args[0], userID); err != nil {
			return err
		}
		fmt.Printf("Configuration %s trashed\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configListCmd, configShowCmd, configCreateCmd,
		setActiveCmd("activate", "Resume scheduling of a configuration", true),
		setActiveCmd("deactivate", "Pause scheduling of a configuration", false),
		configDeleteCmd)

	configListCmd.Flags().BoolVar(&configListTrashed, "trashed", false, "include trashed configurations")

	f := configCreateCmd.Flags()
	f.StringVar(&newConfig.name, "name", "", "configuration name")
	f.StringVar(&newConfig.backupType, "type", string(domain.BackupTypeFiles), "full, files, databases, emails or config")
	f.StringVar(&newConfig.frequency, "frequency", string(domain.FrequencyDaily), "hourly, daily, weekly, monthly or custom")
	f.StringVar(&newConfig.timeOfDay, "time", "", "HH:MM for presets")
	f.IntVar(&newConfig.dayOfWeek, "day", 0, "day of week for weekly (0=Sunday)")
	f.StringVar(&newConfig.schedule, "schedule", "", "cron expression for custom frequency")
	f.StringVar(&newConfig.destType, "dest-type", string(domain.DestinationLocal), "local, s3, ftp or b2")
	f.StringToStringVar(&newConfig.dest, "dest", nil, "destination settings as key=value")
	f.StringVar(&newConfig.remoteID, "remote", "", "primary remote id")
	f.StringSliceVar(&newConfig.secondary, "replicate-to", nil, "secondary remote ids")
	f.StringSliceVar(&newConfig.items, "items", nil, "sites, databases or mailboxes to capture")
	f.StringSliceVar(&newConfig.includes, "include", nil, "extra paths to capture")
	f.StringSliceVar(&newConfig.excludes, "exclude", nil, "exclude patterns")
	f.IntVar(&newConfig.retention.KeepLast, "keep-last", 0, "")
	f.IntVar(&newConfig.retention.KeepDaily, "keep-daily", 0, "")
	f.IntVar(&newConfig.retention.KeepWeekly, "keep-weekly", 0, "")
	f.IntVar(&newConfig.retention.KeepMonthly, "keep-monthly", 0, "")
	f.IntVar(&newConfig.retention.KeepYearly, "keep-yearly", 0, "")
	f.BoolVar(&newConfig.inactive, "paused", false, "create without scheduling")
	_ = configCreateCmd.MarkFlagRequired("name")
}
