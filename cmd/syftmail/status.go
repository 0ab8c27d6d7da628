package main

import (
	"fmt"
	"io"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/dustin/go-humanize"
	"github.com/openmined/syftmail/internal/client/upsync"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newStatusCmd())
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pending flag changes per account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openClient(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			var summaries []*upsync.JournalSummary
			for _, acct := range c.Manager().Accounts() {
				s, err := c.Journal().Summary(cmd.Context(), acct)
				if err != nil {
					return err
				}
				summaries = append(summaries, s)
			}
			writeSummaries(cmd.OutOrStdout(), summaries)

			logged, err := c.Journal().Accounts(cmd.Context())
			if err != nil {
				return err
			}
			for _, acct := range unconfiguredAccounts(c.Manager().Accounts(), logged) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", bold.Render(acct), red.Render("has pending changes but is not configured"))
			}
			return nil
		},
	}
}

// unconfiguredAccounts returns the accounts in logged that are missing from configured, in logged order.
func unconfiguredAccounts(configured, logged []string) []string {
	known := mapset.NewThreadUnsafeSet(configured...)
	var missing []string
	for _, acct := range logged {
		if !known.Contains(acct) {
			missing = append(missing, acct)
		}
	}
	return missing
}

func writeSummaries(w io.Writer, summaries []*upsync.JournalSummary) {
	for _, s := range summaries {
		if s.Pending == 0 {
			fmt.Fprintf(w, "%s %s\n", bold.Render(s.AccountID), green.Render("up to date"))
			continue
		}
		fmt.Fprintf(w, "%s %s pending on %s items, oldest %s\n",
			bold.Render(s.AccountID),
			yellow.Render(humanize.Comma(int64(s.Pending))),
			humanize.Comma(int64(s.Items)),
			gray.Render(humanize.Time(s.Oldest)),
		)
	}
}
