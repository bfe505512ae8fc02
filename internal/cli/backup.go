package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vsisnet/vsispanel-sub003/internal/api/util"
	"github.com/vsisnet/vsispanel-sub003/internal/core/domain"
	"github.com/vsisnet/vsispanel-sub003/internal/core/repository"
)

var (
	backupConfigID string
	backupTrashed  string
	backupLimit    int
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Run and manage backups",
}

var backupRunCmd = &cobra.Command{
	Use:   "run <config-id>",
	Short: "Run a backup of a configuration now and wait for it",
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

		var backup *domain.Backup
		err = services.runJobs(cmd.Context(), func() error {
			var err error
			backup, err = services.BackupService.CreateManual(cmd.Context(), args[0], userID)
			if err != nil {
				return fmt.Errorf("failed to create backup: %w", err)
			}
			fmt.Printf("Backup %s queued\n", backup.ID)
			return nil
		})
		if backup == nil {
			return err
		}

		final, findErr := services.BackupService.GetBackup(cmd.Context(), backup.ID)
		if findErr != nil {
			return findErr
		}
		printBackup(final)
		if err != nil {
			return err
		}
		if final.Status != domain.BackupStatusCompleted {
			return fmt.Errorf("backup %s ended %s", final.ID, final.Status)
		}
		return nil
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backups, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := initServices()
		if err != nil {
			return err
		}
		defer services.Close()

		filter := repository.BackupFilter{
			ListFilter: util.ListFilter{
				Order:   []util.OrderClause{{Field: "created_at", Direction: util.OrderDesc}},
				Page:    1,
				PerPage: backupLimit,
			},
		}
		if backupConfigID != "" {
			filter.ConfigID = &backupConfigID
		}
		if userID > 0 {
			filter.UserID = &userID
		}
		switch backupTrashed {
		case "":
		case "include":
			filter.IncludeTrashed = true
		case "only":
			filter.OnlyTrashed = true
		default:
			return fmt.Errorf("--trashed must be include or only")
		}

		backups, err := services.BackupService.ListBackups(cmd.Context(), filter)
		if err != nil {
			return err
		}

		w := stdoutTable()
		fmt.Fprintln(w, "ID\tCONFIG\tTYPE\tSTATUS\tTRIGGER\tSNAPSHOT\tSIZE\tCREATED\tTRASHED")
		for _, b := range backups {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				b.ID, orDash(b.BackupConfigID), b.Type, b.Status, b.Trigger(),
				orDash(b.SnapshotID), sizeOrDash(b.SizeBytes), timeOrDash(&b.CreatedAt), timeOrDash(b.DeletedAt))
		}
		return w.Flush()
	},
}

var backupCancelCmd = &cobra.Command{
	Use:   "cancel <backup-id>",
	Short: "Cancel a pending or running backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := initServices()
		if err != nil {
			return err
		}
		defer services.Close()

		// A backup running in another process notices the new status on its
		// next poll.
		b, err := services.BackupService.Cancel(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Backup %s %s\n", b.ID, b.Status)
		return nil
	},
}

var backupDeleteCmd = &cobra.Command{
	Use:   "delete <backup-id>",
	Short: "Move a finished backup to the trash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := initServices()
		if err != nil {
			return err
		}
		defer services.Close()

		b, err := services.BackupService.SoftDelete(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Backup %s trashed\n", b.ID)
		if b.NeedsRemoteCleanup() {
			fmt.Printf("Copies remain on remotes: %s\n", strings.Join(b.SyncedRemotes, ", "))
		}
		return nil
	},
}

var backupUntrashCmd = &cobra.Command{
	Use:   "untrash <backup-id>",
	Short: "Restore a trashed backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := initServices()
		if err != nil {
			return err
		}
		defer services.Close()

		b, err := services.BackupService.RestoreTrashed(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Backup %s restored from trash\n", b.ID)
		return nil
	},
}

var backupSnapshotsCmd = &cobra.Command{
	Use:   "snapshots <config-id>",
	Short: "List engine snapshots produced by a configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := initServices()
		if err != nil {
			return err
		}
		defer services.Close()

		snapshots, err := services.BackupService.ListSnapshots(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		w := stdoutTable()
		fmt.Fprintln(w, "ID\tTIME\tHOST\tPATHS")
		for _, s := range snapshots {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.ShortID, s.Time.UTC().Format("2006-01-02 15:04:05"),
				s.Hostname, strings.Join(s.Paths, ","))
		}
		return w.Flush()
	},
}

func printBackup(b *domain.Backup) {
	w := stdoutTable()
	fmt.Fprintf(w, "ID:\t%s\n", b.ID)
	fmt.Fprintf(w, "Status:\t%s\n", b.Status)
	fmt.Fprintf(w, "Snapshot:\t%s\n", orDash(b.SnapshotID))
	fmt.Fprintf(w, "Size:\t%s\n", sizeOrDash(b.SizeBytes))
	fmt.Fprintf(w, "Started:\t%s\n", timeOrDash(b.StartedAt))
	fmt.Fprintf(w, "Completed:\t%s\n", timeOrDash(b.CompletedAt))
	if len(b.SyncedRemotes) > 0 {
		fmt.Fprintf(w, "Synced to:\t%s\n", strings.Join(b.SyncedRemotes, ", "))
	}
	if b.ErrorMessage != nil {
		fmt.Fprintf(w, "Error:\t%s\n", *b.ErrorMessage)
	}
	w.Flush()
}

func init() {
	rootCmd.AddCommand(backupCmd)
	backupCmd.AddCommand(backupRunCmd, backupListCmd, backupCancelCmd, backupDeleteCmd, backupUntrashCmd, backupSnapshotsCmd)

	backupListCmd.Flags().StringVar(&backupConfigID, "config-id", "", "only backups of this configuration")
	backupListCmd.Flags().StringVar(&backupTrashed, "trashed", "", "include or only")
	backupListCmd.Flags().IntVar(&backupLimit, "limit", 50, "maximum rows")
}
