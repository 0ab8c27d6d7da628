package main

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/openmined/syftmail/internal/version"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func init() {
	rootCmd.AddCommand(newVersionCmd())
}

func newVersionCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the syftmail build",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOutput(output); err != nil {
				return err
			}
			return writeVersion(cmd.OutOrStdout(), output, version.Get())
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", outputText, "Output format: text, json or yaml")
	return cmd
}

func writeVersion(w io.Writer, output string, info version.Info) error {
	switch output {
	case outputJSON:
		return json.NewEncoder(w).Encode(info)
	case outputYAML:
		return yaml.NewEncoder(w).Encode(info)
	default:
		_, err := fmt.Fprintln(w, info)
		return err
	}
}
