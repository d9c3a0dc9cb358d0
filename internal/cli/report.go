package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/papertrade/pkg/journal"
	"github.com/rustyeddy/papertrade/pkg/paper"
)

func newReportCmd(opts *rootOptions) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the P&L report for a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			store, err := journal.NewSQLite(cfg.Journal.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			var sess *journal.Session
			if sessionID != "" {
				sess, err = store.SessionByID(sessionID)
			} else {
				sess, err = store.LatestSession()
			}
			if err != nil {
				return err
			}
			if sess == nil {
				if sessionID != "" {
					return fmt.Errorf("session %s not found", sessionID)
				}
				fmt.Println("no sessions recorded")
				return nil
			}

			closed, err := store.OrdersByStatus(sess.ID, paper.StatusClosed)
			if err != nil {
				return err
			}
			open, err := store.OrdersByStatus(sess.ID, paper.StatusOpen)
			if err != nil {
				return err
			}

			state := "closed"
			if sess.IsActive {
				state = "active"
			}
			fmt.Printf("Session %s (%s), started %s\n\n",
				sess.ID, state, sess.StartedAt.Format("2006-01-02 15:04:05"))

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ORDER\tSYMBOL\tSIDE\tQTY\tENTRY\tEXIT\tREASON\tFEES\tNET P&L")
			for _, o := range closed {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.2f\t%.2f\t%s\t%.2f\t%.2f\n",
					o.ID, o.Symbol, o.Side, o.Quantity, o.EntryPrice, o.ExitPrice,
					o.ExitReason, o.EntryFees+o.ExitFees, o.NetPnL)
			}
			w.Flush()

			fmt.Printf("\nClosed trades: %d  Open positions: %d\n", len(closed), len(open))
			fmt.Printf("Realized P&L:   %10.2f\n", sess.RealizedPnL)
			fmt.Printf("Unrealized P&L: %10.2f\n", sess.UnrealizedPnL)
			fmt.Printf("Total fees:     %10.2f\n", sess.TotalFees)
			fmt.Printf("Total P&L:      %10.2f\n", sess.RealizedPnL+sess.UnrealizedPnL)
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Session ID (defaults to the latest)")

	return cmd
}
