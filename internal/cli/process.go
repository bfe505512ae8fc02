package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Inspect the process ledger",
}

var processStatusCmd = &cobra.Command{
	Use:   "status <command-id>",
	Short: "Show the status of a ledger entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := initServices()
		if err != nil {
			return err
		}
		defer services.Close()

		p, err := services.ProcessService.GetProcessByCommandID(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		w := stdoutTable()
		fmt.Fprintf(w, "Command ID:\t%s\n", p.CommandID)
		fmt.Fprintf(w, "Command:\t%s\n", p.Command)
		fmt.Fprintf(w, "Type:\t%s\n", p.Type)
		fmt.Fprintf(w, "Status:\t%s\n", p.Status)
		if p.PID != nil {
			fmt.Fprintf(w, "PID:\t%d\n", *p.PID)
		}
		fmt.Fprintf(w, "Progress:\t%d%%\n", p.Progress)
		fmt.Fprintf(w, "Started:\t%s\n", timeOrDash(&p.StartTime))
		fmt.Fprintf(w, "Ended:\t%s\n", timeOrDash(p.EndTime))
		if p.Error != nil && *p.Error != "" {
			fmt.Fprintf(w, "Error:\t%s\n", *p.Error)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(processCmd)
	processCmd.AddCommand(processStatusCmd)
}
