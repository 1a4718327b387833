package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"estate-crawler/config"
	"estate-crawler/control"
	"estate-crawler/metrics"
	"estate-crawler/models"
	"estate-crawler/scraper/fetch"
	"estate-crawler/scraper/magicbricks"
	"estate-crawler/scraper/robots"
	"estate-crawler/services"
	"estate-crawler/storage"
	"estate-crawler/utils"
)

const leasePrefix = "estate-crawler"

// app holds the long-lived dependencies shared by every command.
type app struct {
	cfg     *config.Config
	site    config.Site
	logger  *utils.Logger
	metrics *metrics.Metrics
	db      *sql.DB
	rdb     *redis.Client
}

func newApp(ctx context.Context) (*app, error) {
	logger := utils.NewLogger()
	if verbose {
		logger.SetLevel("debug")
	}
	cfg := config.Load(logger)

	path := cfg.SiteConfigPath
	if siteConfig != "" {
		path = siteConfig
	}
	site, err := config.LoadSite(path)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, site: site, logger: logger, metrics: metrics.NewMetrics(nil)}

	if cfg.RedisURL != "" {
		rdb, err := control.NewRedisClient(ctx, cfg.RedisURL, logger)
		if err != nil {
			return nil, err
		}
		a.rdb = rdb
		logger.Info("[app] Redis pause switch and run leases enabled")
	}
	return a, nil
}

// database opens PostgreSQL on first use and applies the schema.
func (a *app) database(ctx context.Context) (*sql.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	db, err := storage.Open(ctx, a.cfg.DSN(), a.logger)
	if err != nil {
		return nil, err
	}
	if err := storage.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	a.db = db
	return db, nil
}

func (a *app) close() {
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
}

func (a *app) pauseSwitch() fetch.PauseSwitch {
	env := control.EnvPause{Key: a.cfg.PauseEnvKey}
	if a.rdb == nil {
		return env
	}
	return control.AnyPause{env, control.NewRedisPause(a.rdb, a.cfg.PauseKey)}
}

// crawl runs one full crawl of the configured site into staging.
func (a *app) crawl(ctx context.Context, runID string) (summary magicbricks.Summary, err error) {
	started := time.Now()
	defer func() { a.metrics.ObserveRun("crawl", started, err) }()

	db, err := a.database(ctx)
	if err != nil {
		return summary, err
	}

	var sink storage.CardSink = storage.NewStagingSink(db, a.logger)
	if a.cfg.RawCSVPath != "" {
		csvSink, err := storage.NewCSVWriter(a.cfg.RawCSVPath)
		if err != nil {
			return summary, err
		}
		defer csvSink.Close()
		sink = storage.Tee(sink, csvSink)
		a.logger.Info("[crawl] Mirroring raw cards to %s", a.cfg.RawCSVPath)
	}

	fetcher := fetch.New(fetch.Options{
		Client:          &http.Client{Timeout: a.cfg.RequestTimeout},
		UserAgent:       a.cfg.UserAgent,
		DefaultInterval: a.cfg.MinInterval(),
		RobotsTimeout:   a.cfg.RequestTimeout,
		Backoff: fetch.BackoffConfig{
			MaxRetries:   a.cfg.MaxRetries,
			BaseDelay:    a.cfg.RetryBaseDelay,
			MaxTotalTime: a.cfg.RetryMaxTotal,
		},
		Auditor: robots.NewAuditor(a.cfg.ConsentDir),
		Pause:   a.pauseSwitch(),
		Logger:  a.logger.With("run_id", runID),
		Metrics: a.metrics,
		RunID:   runID,
	})

	a.logger.Info("[crawl] Run %s: source=%s base=%s seeds=%d", runID, a.site.Source, a.site.BaseURL, len(a.site.Seeds))
	scraper := magicbricks.New(a.cfg, a.site, fetcher, sink, a.logger, a.metrics)
	summary, err = scraper.Scrape(ctx)
	if errors.Is(err, fetch.ErrPaused) {
		a.logger.Warn("[crawl] Run %s stopped by pause switch after %d pages", runID, summary.Pages)
	}
	return summary, err
}

// etl cleans the current staging snapshot into ods_listings.
func (a *app) etl(ctx context.Context, runID string) (run models.EtlRun, err error) {
	started := time.Now()
	defer func() { a.metrics.ObserveRun("etl", started, err) }()

	db, err := a.database(ctx)
	if err != nil {
		return run, err
	}

	cleaner := services.NewCleaner(a.logger, services.Bounds{
		MinAreaSqft: a.cfg.MinAreaSqft,
		MaxAreaSqft: a.cfg.MaxAreaSqft,
		MinPriceINR: a.cfg.MinPriceINR,
		MaxPriceINR: a.cfg.MaxPriceINR,
	})
	etl := services.NewETL(storage.NewODSStore(db), cleaner, a.cfg.BatchSize, a.logger, a.metrics).WithRunID(runID)
	return etl.Run(ctx)
}

// withLease runs fn while holding the named job lease. Without Redis, fn
// runs unguarded.
func (a *app) withLease(ctx context.Context, job string, fn func(ctx context.Context) error) error {
	if a.rdb == nil {
		return fn(ctx)
	}

	lease, err := control.NewLeaser(a.rdb, leasePrefix, a.cfg.LeaseTTL).Acquire(ctx, job)
	if err != nil {
		return err
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn("[lease] %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		t := time.NewTicker(max(a.cfg.LeaseTTL/3, time.Second))
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				ok, err := lease.Renew(ctx)
				if err != nil {
					a.logger.Warn("[lease] %v", err)
					continue
				}
				if !ok {
					a.logger.Error("[lease] Lost lease on %s, cancelling run", job)
					cancel()
					return
				}
			}
		}
	}()

	return fn(ctx)
}

func newRunID() string {
	return uuid.NewString()
}

func requireRedis(a *app) error {
	if a.rdb == nil {
		return fmt.Errorf("REDIS_URL is not set")
	}
	return nil
}
