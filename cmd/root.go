// Package cmd defines the CLI commands for the aether-crawler binary.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aether-crawler",
		Short: "Site audit crawl engine",
		Long: `aether-crawler runs bounded crawls of a website and analyzes every
page for SEO issues: missing metadata, slow responses, broken links and
heading problems. Run "serve" for the polling HTTP service or "audit"
for a one-shot crawl from the command line.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newAuditCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
