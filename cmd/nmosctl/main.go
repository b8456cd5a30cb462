// Command nmosctl is the operator CLI binary; all its subcommands live
// in cli/nmosctl so they stay importable for testing.
package main

import (
	"os"

	"github.com/bbc/nmos-discovery-registration-ri/cli/nmosctl"
)

func main() {
	if err := nmosctl.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
