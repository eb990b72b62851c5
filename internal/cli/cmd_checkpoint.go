package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newCheckpointCommand(out io.Writer, globals *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoint",
		Short: "Force a WAL checkpoint into the main database file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("checkpoint does not accept positional arguments")
			}

			rt, err := openRuntime(globals)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			if err := rt.engine.Checkpoint(cmd.Context()); err != nil {
				return err
			}
			if globals.JSON {
				return printJSON(out, map[string]any{"checkpointed": true})
			}
			_, err = fmt.Fprintln(out, "checkpoint complete")
			return err
		},
	}
}
