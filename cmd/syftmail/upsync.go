package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/openmined/syftmail/internal/client/upsyncmgr"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

func init() {
	rootCmd.AddCommand(newUpsyncCmd())
}

func newUpsyncCmd() *cobra.Command {
	var account string
	var dryRun bool
	var output string

	cmd := &cobra.Command{
		Use:   "upsync",
		Short: "Run one upsync pass now",
		Long:  "Compacts the change log and hands the surviving flag changes to the configured transport. With --dry-run nothing is sent.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOutput(output); err != nil {
				return err
			}

			c, err := openClient(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			mgr := c.Manager()
			accounts := mgr.Accounts()
			if account != "" {
				accounts = []string{account}
			}

			var reports []*upsyncmgr.PassReport
			var errs []error
			for _, acct := range accounts {
				run := mgr.RunPass
				if dryRun {
					run = mgr.Preview
				}
				report, err := run(cmd.Context(), acct)
				if err != nil {
					errs = append(errs, fmt.Errorf("account %s: %w", acct, err))
					continue
				}
				reports = append(reports, report)
			}

			if err := writeReports(cmd.OutOrStdout(), output, reports); err != nil {
				return err
			}
			return errors.Join(errs...)
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "Only upsync this account")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would be upsynced without sending anything")
	cmd.Flags().StringVarP(&output, "output", "o", outputText, "Output format: text, json or yaml")
	return cmd
}

func validateOutput(output string) error {
	switch output {
	case outputText, outputJSON, outputYAML:
		return nil
	default:
		return fmt.Errorf("unknown output format %q", output)
	}
}

func writeReports(w io.Writer, output string, reports []*upsyncmgr.PassReport) error {
	switch output {
	case outputJSON:
		data, err := json.MarshalIndent(reports, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(reports)
	}

	if len(reports) == 0 {
		fmt.Fprintln(w, gray.Render("no accounts upsynced"))
		return nil
	}
	for _, r := range reports {
		d := r.Diagnostics
		title := r.AccountID
		if r.DryRun {
			title += " " + yellow.Render("(dry run)")
		}
		fmt.Fprintln(w, bold.Render(title))
		fmt.Fprintf(w, "  %-12s %s\n", "records", humanize.Comma(int64(d.RecordsRead)))
		fmt.Fprintf(w, "  %-12s %s\n", "items", humanize.Comma(int64(d.Items)))
		fmt.Fprintf(w, "  %-12s %s\n", "no-ops", humanize.Comma(int64(d.NoOps)))
		fmt.Fprintf(w, "  %-12s %s\n", "surviving", cyan.Render(humanize.Comma(int64(d.Surviving))))
		if len(d.Unresolved) > 0 {
			fmt.Fprintf(w, "  %-12s %s\n", "unresolved", red.Render(humanize.Comma(int64(len(d.Unresolved)))))
		}
		if !r.DryRun {
			fmt.Fprintf(w, "  %-12s %s\n", "upsynced", green.Render(humanize.Comma(int64(r.Upsynced))))
			fmt.Fprintf(w, "  %-12s %s\n", "retried", yellow.Render(humanize.Comma(int64(r.Retried))))
		}
		fmt.Fprintf(w, "  %-12s %s\n", "took", gray.Render(r.Duration.Round(time.Millisecond).String()))
	}
	return nil
}
