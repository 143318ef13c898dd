// Command fxq traces model descriptions and runs the quantization pipeline.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/fxq/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
