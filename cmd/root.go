package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	siteConfig string
	verbose    bool
)

// NewRootCmd returns the root command for the estate crawler.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "estate-crawler",
		Short:         "Polite listing crawler with a staging → ODS ETL",
		Long:          "estate-crawler fetches real-estate listing pages while honouring robots.txt, stages the extracted cards in PostgreSQL and cleans them into ods_listings.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&siteConfig, "site", "", "YAML site definition (default is $CRAWL_CONFIG or the built-in magicbricks site)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(newCrawlCmd())
	rootCmd.AddCommand(newETLCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newReportCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newPauseCmd())
	rootCmd.AddCommand(newScheduleCmd())

	return rootCmd
}

// Execute runs the root command and exits non-zero on failure. SIGINT and
// SIGTERM cancel the command's context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
