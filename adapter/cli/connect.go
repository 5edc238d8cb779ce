package cli

import (
	"fmt"

	calendarApp "github.com/felixgeelhaar/blade/internal/calendar/application"
	"github.com/spf13/cobra"
)

var (
	connectEmail    string
	disconnectEmail string
	disconnectPurge bool
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Print a URL that connects a user's Google Calendar",
	RunE: func(cmd *cobra.Command, args []string) error {
		syncer, err := requireSyncer()
		if err != nil {
			return err
		}
		if connectEmail == "" {
			return errEmailIsRequired
		}

		url, err := syncer.ConnectURL(cmd.Context(), connectEmail)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), url)
		return nil
	},
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "Remove a user's calendar credential",
	Long: `Remove a user's calendar credential and revoke it at Google when possible.

Synced busy blocks are kept unless --purge is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a := GetApp()
		if a == nil {
			return errNotInitialized
		}
		if a.Disconnector == nil {
			return errDisconnectOff
		}
		if disconnectEmail == "" {
			return errEmailIsRequired
		}

		res, err := a.Disconnector.Disconnect(cmd.Context(), calendarApp.DisconnectCommand{
			Email:           disconnectEmail,
			PurgeBusyBlocks: disconnectPurge,
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Disconnected %s\n", disconnectEmail)
		if !res.Revoked {
			fmt.Fprintln(out, "  token was not revoked at the provider")
		}
		if disconnectPurge {
			fmt.Fprintf(out, "  purged %d synced busy blocks\n", res.PurgedBlocks)
		}
		return nil
	},
}

func init() {
	connectCmd.Flags().StringVar(&connectEmail, "email", "", "user email")
	disconnectCmd.Flags().StringVar(&disconnectEmail, "email", "", "user email")
	disconnectCmd.Flags().BoolVar(&disconnectPurge, "purge", false, "also delete synced busy blocks")
	rootCmd.AddCommand(connectCmd, disconnectCmd)
}
