// eve is a command line tool for exercising the Eve concurrency core.
//
// Usage:
//
//	eve [flags] <command> [args]
//
// Commands:
//
//	bench     - run many sleeping tasks on the adaptive run queue
//	triggers  - schedule random triggers and report firing order and lateness
//	config    - print the effective configuration as YAML
package main

import (
	"fmt"
	"os"

	"github.com/hupe1980/eve/cmd/eve/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
