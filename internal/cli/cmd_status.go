package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"
)

func newStatusCommand(out io.Writer, globals *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show ledger schema version and record counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("status does not accept positional arguments")
			}

			rt, err := openRuntime(globals)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			ctx := cmd.Context()
			version, err := rt.engine.SchemaVersion(ctx)
			if err != nil {
				return err
			}
			counts, err := rt.engine.Stats(ctx)
			if err != nil {
				return err
			}

			if globals.JSON {
				return printJSON(out, map[string]any{
					"path":           rt.engine.Path(),
					"ledger_id":      rt.engine.LedgerID(),
					"schema_version": version,
					"counts":         counts,
				})
			}

			fmt.Fprintf(out, "path=%s ledger_id=%s schema_version=%d\n", rt.engine.Path(), rt.engine.LedgerID(), version)
			tables := make([]string, 0, len(counts))
			for table := range counts {
				tables = append(tables, table)
			}
			sort.Strings(tables)
			for _, table := range tables {
				fmt.Fprintf(out, "%s=%d\n", table, counts[table])
			}
			return nil
		},
	}
}
