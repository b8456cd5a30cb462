// Package nmosctl implements an operator CLI against a running
// registration/query pair: listing resources, renewing a node's
// heartbeat, tailing subscriptions and printing its version. It has no
// command for garbage-collection state.
package nmosctl

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	registrationAddr string
	queryAddr        string
	apiRoot          string
	apiVersion       string
	verbose          bool
)

// RootCmd is the nmosctl entry point.
var RootCmd = &cobra.Command{
	Use:   "nmosctl",
	Short: "nmosctl inspects and exercises a registration/query pair",
	Long:  `nmosctl is an operator CLI for a running fabric deployment.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			log.SetLevel(log.DebugLevel)
		}
	},
}

func init() {
	RootCmd.PersistentFlags().StringVar(&registrationAddr, "registration-addr", "http://127.0.0.1:8000", "base URL of the registration API")
	RootCmd.PersistentFlags().StringVar(&queryAddr, "query-addr", "http://127.0.0.1:8002", "base URL of the query API")
	RootCmd.PersistentFlags().StringVar(&apiRoot, "api-root", "x-nmos", "API root path segment")
	RootCmd.PersistentFlags().StringVar(&apiVersion, "api-version", "v1.2", "API version to address")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "turn on debug logging")
}
