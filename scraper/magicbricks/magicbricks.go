package magicbricks

import (
	"context"
	"fmt"

	"estate-crawler/config"
	"estate-crawler/metrics"
	"estate-crawler/models"
	"estate-crawler/scraper/extract"
	"estate-crawler/scraper/paginate"
	"estate-crawler/scraper/sitemap"
	"estate-crawler/storage"
	"estate-crawler/utils"
)

// Summary reports what one crawl run did.
type Summary struct {
	Targets  int
	Pages    int
	Cards    int
	Inserted int
}

// Scraper orchestrates the crawl: sitemap discovery, pagination of every
// index URL, card extraction and periodic flushes to the sink.
type Scraper struct {
	site      config.Site
	maxPages  int
	flushSize int
	fetcher   sitemap.Getter
	sink      storage.CardSink
	logger    *utils.Logger
	metrics   *metrics.Metrics
}

// New creates a Scraper for site. Site.MaxPages, when set, overrides
// cfg.MaxPagesPerSeed.
func New(cfg *config.Config, site config.Site, fetcher sitemap.Getter, sink storage.CardSink,
	logger *utils.Logger, m *metrics.Metrics) *Scraper {
	maxPages := cfg.MaxPagesPerSeed
	if site.MaxPages > 0 {
		maxPages = site.MaxPages
	}
	flush := cfg.FlushSize
	if flush <= 0 {
		flush = 200
	}
	if logger == nil {
		logger = utils.NewDiscardLogger()
	}
	return &Scraper{
		site:      site,
		maxPages:  maxPages,
		flushSize: flush,
		fetcher:   fetcher,
		sink:      sink,
		logger:    logger,
		metrics:   m,
	}
}

// Scrape runs one full crawl. Unavailable pages and sitemaps are skipped;
// a pause, a cancelled context or a sink error aborts the run after
// flushing what was already extracted for the current target.
func (s *Scraper) Scrape(ctx context.Context) (Summary, error) {
	var sum Summary

	walker := &sitemap.Walker{
		Fetcher:       s.fetcher,
		BaseURL:       s.site.BaseURL,
		IndexPatterns: s.site.IndexPatterns,
		Seeds:         s.site.Seeds,
		Logger:        s.logger,
	}
	urls, err := walker.CollectIndexURLs(ctx)
	if err != nil {
		return sum, fmt.Errorf("magicbricks: collect index urls: %w", err)
	}
	s.logger.Info("[%s] Index-URL candidates: %d", s.site.Source, len(urls))

	for _, u := range urls {
		target := models.CrawlTarget{URL: u, MaxPages: s.maxPages}
		sum.Targets++
		if err := s.crawlTarget(ctx, target, &sum); err != nil {
			return sum, err
		}
	}

	s.logger.Info("[%s] Done. targets=%d pages=%d cards=%d new rows=%d",
		s.site.Source, sum.Targets, sum.Pages, sum.Cards, sum.Inserted)
	return sum, nil
}

func (s *Scraper) crawlTarget(ctx context.Context, target models.CrawlTarget, sum *Summary) error {
	p := paginate.New(s.fetcher, target.URL, target.MaxPages, s.logger)
	opts := extract.Options{Source: s.site.Source, Selectors: s.site.CardSelectors}

	var batch []models.ListingCard
	pages := 0
	for {
		page, ok := p.Next(ctx)
		if !ok {
			break
		}
		pages++
		sum.Pages++

		cards := extract.ExtractListingCards(page.HTML, page.URL, opts)
		s.logger.Debug("[%s] Parsed %d cards from %s", s.site.Source, len(cards), page.URL)
		s.metrics.AddCards(len(cards))
		sum.Cards += len(cards)
		batch = append(batch, cards...)

		if len(batch) >= s.flushSize {
			if err := s.flush(ctx, batch, sum, "batch"); err != nil {
				return err
			}
			batch = nil
		}
	}

	if err := s.flush(ctx, batch, sum, "final for seed"); err != nil {
		return err
	}
	if pages == 0 {
		s.logger.Warn("[%s] No pages crawled for %s", s.site.Source, target.URL)
	}
	if err := p.Err(); err != nil {
		return fmt.Errorf("magicbricks: crawl %s: %w", target.URL, err)
	}
	return nil
}

func (s *Scraper) flush(ctx context.Context, batch []models.ListingCard, sum *Summary, label string) error {
	if len(batch) == 0 {
		return nil
	}
	// flushes survive cancellation of the crawl context
	n, err := s.sink.UpsertListings(context.WithoutCancel(ctx), batch)
	if err != nil {
		return fmt.Errorf("magicbricks: flush %d cards: %w", len(batch), err)
	}
	sum.Inserted += n
	s.metrics.AddInserted(n)
	s.logger.Info("[%s] Inserted %d new rows (%s).", s.site.Source, n, label)
	return nil
}
