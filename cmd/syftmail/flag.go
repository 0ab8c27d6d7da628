package main

import (
	"fmt"
	"strconv"

	"github.com/openmined/syftmail/internal/client/mailstore"
	"github.com/openmined/syftmail/internal/client/upsync"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newFlagCmd())
}

func newFlagCmd() *cobra.Command {
	var messageKey int64
	var read, favorite bool

	cmd := &cobra.Command{
		Use:     "flag",
		Short:   "Set the read or favorite flag of a local message",
		Example: "  syftmail flag --message 42 --read\n  syftmail flag --message 42 --favorite=false",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var update mailstore.FlagUpdate
			if cmd.Flags().Changed("read") {
				update.Read = &read
			}
			if cmd.Flags().Changed("favorite") {
				update.Favorite = &favorite
			}

			c, err := openClient(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			rec, err := c.Store().SetFlags(cmd.Context(), messageKey, update)
			if err != nil {
				return err
			}
			printChangeRecord(cmd, rec)
			return nil
		},
	}

	cmd.Flags().Int64VarP(&messageKey, "message", "m", 0, "Local message key")
	cmd.Flags().BoolVar(&read, "read", false, "Mark the message read or unread")
	cmd.Flags().BoolVar(&favorite, "favorite", false, "Mark the message favorite or not")
	cmd.MarkFlagRequired("message")
	cmd.MarkFlagsOneRequired("read", "favorite")
	return cmd
}

func printChangeRecord(cmd *cobra.Command, rec *upsync.ChangeRecord) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s %s\n", green.Render("logged"), gray.Render("#"+strconv.FormatInt(rec.LogID, 10)))
	for _, attr := range upsync.Attributes() {
		change := rec.Change(attr)
		if !change.New.IsSet() {
			continue
		}
		fmt.Fprintf(w, "  %-9s %s -> %s\n", attr, change.Old, cyan.Render(change.New.String()))
	}
}
