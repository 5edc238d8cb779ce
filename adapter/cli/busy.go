package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var busyEmail string

var busyCmd = &cobra.Command{
	Use:   "busy",
	Short: "Inspect busy blocks",
}

var busyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's busy blocks, manual and synced",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := GetApp()
		if a == nil || a.Busy == nil {
			return errNotInitialized
		}
		if busyEmail == "" {
			return errEmailIsRequired
		}

		blocks, err := a.Busy.List(cmd.Context(), busyEmail)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(blocks) == 0 {
			fmt.Fprintf(out, "No busy blocks for %s\n", busyEmail)
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "DATE\tSTART\tEND\tSOURCE\tNAME")
		for _, b := range blocks {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				b.Date(), b.Start().Format(time.Kitchen), b.End().Format(time.Kitchen), b.Source(), b.Label())
		}
		return w.Flush()
	},
}

func init() {
	busyListCmd.Flags().StringVar(&busyEmail, "email", "", "user email")
	busyCmd.AddCommand(busyListCmd)
	rootCmd.AddCommand(busyCmd)
}
