package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"estate-crawler/control"
	"estate-crawler/services"
	"estate-crawler/storage"
)

// runWithApp builds the app, runs fn and releases its resources.
func runWithApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}

func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Crawl the configured site into the staging table",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, func(ctx context.Context, a *app) error {
				return a.withLease(ctx, "crawl", func(ctx context.Context) error {
					sum, err := a.crawl(ctx, newRunID())
					fmt.Fprintf(cmd.OutOrStdout(), "targets=%d pages=%d cards=%d new_rows=%d\n",
						sum.Targets, sum.Pages, sum.Cards, sum.Inserted)
					return err
				})
			})
		},
	}
}

func newETLCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "etl",
		Short: "Clean the staging snapshot into ods_listings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, func(ctx context.Context, a *app) error {
				return a.withLease(ctx, "etl", func(ctx context.Context) error {
					run, err := a.etl(ctx, newRunID())
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "rows_in=%d rows_out=%d (%s)\n", run.RowsIn, run.RowsOut, run.Notes)
					return nil
				})
			})
		},
	}
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Crawl, then run the ETL once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, func(ctx context.Context, a *app) error {
				return a.withLease(ctx, "run", func(ctx context.Context) error {
					return a.cycle(ctx)
				})
			})
		},
	}
}

// cycle is one crawl followed by one ETL sharing a run id. The ETL also
// runs after a failed crawl; flushed cards stay in staging.
func (a *app) cycle(ctx context.Context) error {
	runID := newRunID()
	sum, crawlErr := a.crawl(ctx, runID)
	if crawlErr != nil {
		a.logger.Error("[run] Crawl %s failed after %d new rows: %v", runID, sum.Inserted, crawlErr)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if _, err := a.etl(ctx, runID); err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}
	return crawlErr
}

func newReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Print insights over ods_listings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, func(ctx context.Context, a *app) error {
				db, err := a.database(ctx)
				if err != nil {
					return err
				}
				listings, err := storage.NewODSStore(db).FetchCleaned(ctx)
				if err != nil {
					return err
				}
				svc := services.NewInsightService(a.logger)
				svc.Print(svc.Generate(listings))
				return nil
			})
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the staging, ODS and etl_runs tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, func(ctx context.Context, a *app) error {
				if _, err := a.database(ctx); err != nil {
					return err
				}
				a.logger.Info("[migrate] Schema is up to date")
				return nil
			})
		},
	}
}

func newPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "pause on|off",
		Short:     "Raise or clear the shared Redis pause flag",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, func(ctx context.Context, a *app) error {
				if err := requireRedis(a); err != nil {
					return err
				}
				ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
				defer cancel()
				paused := args[0] == "on"
				if err := control.NewRedisPause(a.rdb, a.cfg.PauseKey).Set(ctx, paused); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "pause=%v (%s)\n", paused, a.cfg.PauseKey)
				return nil
			})
		},
	}
}
