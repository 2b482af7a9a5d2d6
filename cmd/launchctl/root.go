package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// rootCmd is the operator CLI for database and hot wallet maintenance
var rootCmd = &cobra.Command{
	Use:           "launchctl",
	Short:         "Launchpad operator tooling",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
