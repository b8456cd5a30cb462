// Package flags wires the command-line options common to every fabric
// process: log level, log format, version printing.
package flags

import (
	"flag"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/bbc/nmos-discovery-registration-ri/pkg/version"
)

// ConfigureAndParse adds flags that are common to all fabric processes
// to cmd, then parses args. Call after all other flags have been added
// to cmd.
func ConfigureAndParse(cmd *flag.FlagSet, args []string) {
	logLevel := cmd.String("log-level", log.InfoLevel.String(),
		"log level, must be one of: panic, fatal, error, warn, info, debug")
	logJSON := cmd.Bool("log-json", false, "log in JSON rather than text format")
	printVersion := cmd.Bool("version", false, "print version and exit")

	cmd.Parse(args)

	setLogLevel(*logLevel)
	if *logJSON {
		log.SetFormatter(&log.JSONFormatter{})
	}
	maybePrintVersionAndExit(*printVersion)
}

func setLogLevel(logLevel string) {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		log.Fatalf("invalid log-level: %s", logLevel)
	}
	log.SetLevel(level)
}

func maybePrintVersionAndExit(printVersion bool) {
	if printVersion {
		fmt.Println(version.Version)
		os.Exit(0)
	}
	log.Infof("running version %s", version.Version)
}
