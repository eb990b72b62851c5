// bursa is the maintenance CLI for the encrypted ledger: status,
// checkpoint and metadata export against the local database file.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/bursadev/bursa/internal/cli"
	"github.com/bursadev/bursa/internal/version"
)

func main() {
	os.Exit(run(os.Stdout, os.Args[1:]))
}

func run(out io.Writer, args []string) int {
	cmd := cli.NewRootCommand(out, cli.BuildInfo{
		Version:   version.Version,
		Commit:    version.Commit,
		BuildTime: version.BuildTime,
	})
	cmd.SetArgs(args)

	err := cmd.Execute()
	if err == nil {
		return cli.ExitCodeSuccess
	}
	fmt.Fprintln(os.Stderr, "bursa:", err)

	var withExitCode interface{ ExitCode() int }
	if errors.As(err, &withExitCode) {
		return withExitCode.ExitCode()
	}
	return cli.ExitCodeGeneric
}
