// Command ndi inspects and maintains NDI sessions.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/ndicore/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ndi:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
