package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vsisnet/vsispanel-sub003/internal/core/domain"
)

var (
	restoreTarget   string
	restoreIncludes []string
)

var restoreCmd = &cobra.Command{
	Use:   "restore <backup-id>",
	Short: "Restore a completed backup into a target directory and wait for it",
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

		var op *domain.RestoreOperation
		err = services.runJobs(cmd.Context(), func() error {
			var err error
			op, err = services.RestoreService.Create(cmd.Context(), args[0], userID, restoreTarget, restoreIncludes)
			if err != nil {
				return fmt.Errorf("failed to create restore: %w", err)
			}
			fmt.Printf("Restore %s queued\n", op.ID)
			return nil
		})
		if op == nil {
			return err
		}

		final, findErr := services.RestoreService.GetRestore(cmd.Context(), op.ID)
		if findErr != nil {
			return findErr
		}

		w := stdoutTable()
		fmt.Fprintf(w, "ID:\t%s\n", final.ID)
		fmt.Fprintf(w, "Status:\t%s\n", final.Status)
		fmt.Fprintf(w, "Target:\t%s\n", final.TargetPath)
		if final.FilesRestored != nil {
			fmt.Fprintf(w, "Files:\t%d\n", *final.FilesRestored)
		}
		fmt.Fprintf(w, "Size:\t%s\n", sizeOrDash(final.BytesRestored))
		if final.ErrorMessage != nil {
			fmt.Fprintf(w, "Error:\t%s\n", *final.ErrorMessage)
		}
		w.Flush()

		if err != nil {
			return err
		}
		if final.Status != domain.RestoreStatusCompleted {
			return fmt.Errorf("restore %s ended %s", final.ID, final.Status)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(restoreCmd)

	restoreCmd.Flags().StringVar(&restoreTarget, "target", "", "directory to restore into")
	restoreCmd.Flags().StringSliceVar(&restoreIncludes, "include", nil, "restore only these paths")
	_ = restoreCmd.MarkFlagRequired("target")
}
