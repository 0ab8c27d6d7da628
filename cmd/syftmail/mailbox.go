package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/openmined/syftmail/internal/client/mailstore"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newMailboxCmd())
}

func newMailboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mailbox",
		Short: "Manage local mailboxes",
	}
	cmd.AddCommand(newMailboxListCmd(), newMailboxAddCmd(), newMailboxRemoveCmd())
	return cmd
}

func newMailboxListCmd() *cobra.Command {
	var account string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the mailboxes of an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openClient(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			boxes, err := c.Store().Mailboxes(cmd.Context(), account)
			if err != nil {
				return err
			}
			writeMailboxes(cmd.OutOrStdout(), boxes)
			return nil
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "Account id")
	cmd.MarkFlagRequired("account")
	return cmd
}

func newMailboxAddCmd() *cobra.Command {
	var account, serverID, name string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a mailbox or rename an existing one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openClient(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			if name == "" {
				name = serverID
			}
			mb, err := c.Store().UpsertMailbox(cmd.Context(), account, serverID, name)
			if err != nil {
				return err
			}
			writeMailboxes(cmd.OutOrStdout(), []*mailstore.Mailbox{mb})
			return nil
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "Account id")
	cmd.Flags().StringVar(&serverID, "server-id", "", "Mailbox id on the server")
	cmd.Flags().StringVar(&name, "name", "", "Display name, the server id when empty")
	cmd.MarkFlagRequired("account")
	cmd.MarkFlagRequired("server-id")
	return cmd
}

func newMailboxRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm KEY",
		Short: "Delete a mailbox; its messages are kept without a mailbox",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid mailbox key %q", args[0])
			}

			c, err := openClient(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.Store().DeleteMailbox(cmd.Context(), key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s mailbox %d\n", red.Render("deleted"), key)
			return nil
		},
	}
}

func writeMailboxes(w io.Writer, boxes []*mailstore.Mailbox) {
	if len(boxes) == 0 {
		fmt.Fprintln(w, gray.Render("no mailboxes"))
		return
	}
	for _, mb := range boxes {
		fmt.Fprintf(w, "%6d  %-24s %s\n", mb.Key, mb.ServerID, gray.Render(mb.DisplayName))
	}
}
