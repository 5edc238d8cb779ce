package cli

import (
	"fmt"
	"io"
	"time"

	calendarDomain "github.com/felixgeelhaar/blade/internal/calendar/domain"
	"github.com/spf13/cobra"
)

var (
	syncEmail      string
	syncCalendarID string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync a user's Google Calendar",
}

var syncBusyCmd = &cobra.Command{
	Use:   "busy",
	Short: "Replace a user's synced busy blocks with their free/busy view",
	RunE: func(cmd *cobra.Command, args []string) error {
		syncer, err := requireSyncer()
		if err != nil {
			return err
		}
		if syncEmail == "" {
			return errEmailIsRequired
		}

		res, err := syncer.SyncBusy(cmd.Context(), syncEmail)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if res.Status == calendarDomain.StatusConnectRequired {
			printConnect(out, syncEmail, res.ConnectURL)
			return nil
		}
		fmt.Fprintf(out, "Synced %d busy blocks for %s\n", len(res.Blocks), syncEmail)
		if verbose {
			for _, b := range res.Blocks {
				fmt.Fprintf(out, "  %s  %s - %s\n", b.Date(), b.Start().Format(time.Kitchen), b.End().Format(time.Kitchen))
			}
		}
		return nil
	},
}

var syncEventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Store every event of a user's calendar in the sync window",
	RunE: func(cmd *cobra.Command, args []string) error {
		syncer, err := requireSyncer()
		if err != nil {
			return err
		}
		if syncEmail == "" {
			return errEmailIsRequired
		}

		res, err := syncer.SyncEvents(cmd.Context(), syncEmail, syncCalendarID)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if res.Status == calendarDomain.StatusConnectRequired {
			printConnect(out, syncEmail, res.ConnectURL)
			return nil
		}
		r := res.Report
		fmt.Fprintf(out, "Synced calendar %s: %d fetched, %d inserted, %d updated, %d unchanged\n",
			r.CalendarID, r.TotalFetched, r.Inserted, r.Updated, r.Unchanged)
		for _, e := range r.Errors {
			fmt.Fprintf(out, "  failed %s: %s\n", e.ProviderID, e.Message)
		}
		return nil
	},
}

func requireSyncer() (Syncer, error) {
	a := GetApp()
	if a == nil {
		return nil, errNotInitialized
	}
	if a.Syncer == nil {
		return nil, errCalendarOff
	}
	return a.Syncer, nil
}

func printConnect(out io.Writer, email, connectURL string) {
	fmt.Fprintf(out, "%s has not connected a calendar. Open this URL to connect:\n%s\n", email, connectURL)
}

func init() {
	syncCmd.PersistentFlags().StringVar(&syncEmail, "email", "", "user email")
	syncEventsCmd.Flags().StringVar(&syncCalendarID, "calendar", "", "calendar ID (default from CALENDAR_ID)")
	syncCmd.AddCommand(syncBusyCmd, syncEventsCmd)
	rootCmd.AddCommand(syncCmd)
}
