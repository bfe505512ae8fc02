package cli

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/vsisnet/vsispanel-sub003/internal/core/domain"
)

var (
	remoteType     string
	remoteSettings map[string]string
	remoteNoPrompt bool
)

// secretKeys are the destination settings read from the terminal instead of
// the command line, so they stay out of shell history.
var secretKeys = map[domain.DestinationType][]string{
	domain.DestinationS3:  {"secret_key"},
	domain.DestinationFTP: {"password"},
	domain.DestinationB2:  {"account_key"},
}

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Manage reusable backup destinations",
}

var remoteAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a remote destination",
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

		destType := domain.DestinationType(remoteType)
		settings := map[string]string{}
		for k, v := range remoteSettings {
			settings[k] = v
		}

		if !remoteNoPrompt {
			keys := append([]string{}, secretKeys[destType]...)
			keys = append(keys, domain.RepositoryPasswordKey)
			for _, key := range keys {
				if _, ok := settings[key]; ok {
					continue
				}
				secret, err := promptSecret(key)
				if err != nil {
					return err
				}
				if secret != "" {
					settings[key] = secret
				}
			}
		}

		remote := domain.NewRemote(userID, args[0], destType, settings, time.Now())
		if err := services.ConfigService.AddRemote(cmd.Context(), remote); err != nil {
			return err
		}
		fmt.Printf("Remote %s created\n", remote.ID)
		return nil
	},
}

var remoteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List remote destinations of a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(); err != nil {
			return err
		}
		services, err := initServices()
		if err != nil {
			return err
		}
		defer services.Close()

		remotes, err := services.ConfigService.ListRemotes(cmd.Context(), userID)
		if err != nil {
			return err
		}

		w := stdoutTable()
		fmt.Fprintln(w, "ID\tNAME\tTYPE\tSETTINGS\tCREATED")
		for _, r := range remotes {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Name, r.Type, publicSettings(r), timeOrDash(&r.CreatedAt))
		}
		return w.Flush()
	},
}

var remoteDeleteCmd = &cobra.Command{
	Use:   "delete <remote-id>",
	Short: "Delete a remote destination",
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

		if err := services.ConfigService.DeleteRemote(cmd.Context(), args[0], userID); err != nil {
			return err
		}
		fmt.Printf("Remote %s deleted\n", args[0])
		return nil
	},
}

func promptSecret(key string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("%s must be given with --set when stdin is not a terminal", key)
	}
	fmt.Printf("Enter %s (empty to skip): ", key)
	secret, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", key, err)
	}
	return strings.TrimSpace(string(secret)), nil
}

// publicSettings renders the non-secret settings of r as k=v pairs.
func publicSettings(r *domain.Remote) string {
	hidden := map[string]bool{domain.RepositoryPasswordKey: true}
	for _, k := range secretKeys[r.Type] {
		hidden[k] = true
	}
	pairs := make([]string, 0, len(r.Config))
	for k, v := range r.Config {
		if hidden[k] {
			continue
		}
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, " ")
}

func init() {
	rootCmd.AddCommand(remoteCmd)
	remoteCmd.AddCommand(remoteAddCmd, remoteListCmd, remoteDeleteCmd)

	remoteAddCmd.Flags().StringVar(&remoteType, "type", string(domain.DestinationS3), "local, s3, ftp or b2")
	remoteAddCmd.Flags().StringToStringVar(&remoteSettings, "set", nil, "destination settings as key=value")
	remoteAddCmd.Flags().BoolVar(&remoteNoPrompt, "no-prompt", false, "never prompt for secrets")
}
