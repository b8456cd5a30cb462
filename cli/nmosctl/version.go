package nmosctl

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bbc/nmos-discovery-registration-ri/pkg/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the nmosctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Version)
	},
}

func init() {
	RootCmd.AddCommand(versionCmd)
}
