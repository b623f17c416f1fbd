// Command blkcaptwrk is the block-capture daemon and its control CLI: run
// `blkcaptwrk service` to start the supervised actor graph, or use the
// pool/dataset/container/sync/observer subcommands to inspect the
// configuration tree that graph is built from.
package main

import (
	"fmt"
	"os"

	"github.com/sagelywizard/blkcaptwrk/cmd/blkcaptwrk/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
