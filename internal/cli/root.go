// Package cli wires the bursa commands: config loading, logger setup,
// keystore access and the storage engine lifecycle.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

type globalFlags struct {
	ConfigPath string
	JSON       bool
}

func NewRootCommand(out io.Writer, build BuildInfo) *cobra.Command {
	globals := &globalFlags{}

	cmd := &cobra.Command{
		Use:           "bursa",
		Short:         "Encrypted personal ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.PersistentFlags().StringVar(&globals.ConfigPath, "config", "", "Path to the bursa config file")
	cmd.PersistentFlags().BoolVar(&globals.JSON, "json", false, "Emit machine-readable JSON output")

	cmd.AddCommand(newVersionCommand(out, build))
	cmd.AddCommand(newStatusCommand(out, globals))
	cmd.AddCommand(newCheckpointCommand(out, globals))
	cmd.AddCommand(newExportCommand(out, globals))
	cmd.InitDefaultCompletionCmd()
	return cmd
}

func newVersionCommand(out io.Writer, build BuildInfo) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print build version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if asJSON {
				return printJSON(out, build)
			}
			_, err := fmt.Fprintf(out, "version=%s commit=%s build_time=%s\n", build.Version, build.Commit, build.BuildTime)
			return err
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print version as JSON")
	return cmd
}

func printJSON(out io.Writer, payload any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}
