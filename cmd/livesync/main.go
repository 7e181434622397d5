// Command livesync runs live queries over fechamento and tributação data.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/livesync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
