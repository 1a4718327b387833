package paginate

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"net/http"

	"estate-crawler/scraper/fetch"
	"estate-crawler/utils"
)

// Getter fetches a single URL.
type Getter interface {
	Fetch(ctx context.Context, rawURL string) (*fetch.Response, error)
}

// Page is one emitted index page.
type Page struct {
	Number int
	URL    string
	HTML   []byte
}

// Paginator walks seed, seed/page-2, ... until the site signals the end.
// It is single use: the seen-content set lives for one walk.
type Paginator struct {
	fetcher  Getter
	seed     string
	maxPages int
	logger   *utils.Logger

	next int
	seen *utils.Set[[sha256.Size]byte]
	done bool
	err  error
}

// New returns a Paginator over seed, capped at maxPages pages.
func New(fetcher Getter, seed string, maxPages int, logger *utils.Logger) *Paginator {
	if logger == nil {
		logger = utils.NewDiscardLogger()
	}
	return &Paginator{
		fetcher:  fetcher,
		seed:     seed,
		maxPages: maxPages,
		logger:   logger,
		next:     1,
		seen:     utils.NewSet[[sha256.Size]byte](),
	}
}

// PageURL returns the URL of page n for seed.
func PageURL(seed string, n int) string {
	if n <= 1 {
		return seed
	}
	return fmt.Sprintf("%s/page-%d", seed, n)
}

// Next fetches the next page. It returns false once the walk is over:
// a 404, content identical to an earlier page, the page cap, or a page
// that could not be fetched. Err reports whether the end was abnormal.
func (p *Paginator) Next(ctx context.Context) (Page, bool) {
	if p.done {
		return Page{}, false
	}
	if p.next > p.maxPages {
		p.done = true
		return Page{}, false
	}

	n := p.next
	url := PageURL(p.seed, n)
	p.next++

	resp, err := p.fetcher.Fetch(ctx, url)
	if err != nil {
		p.done = true
		switch {
		case errors.Is(err, fetch.ErrPaused) || ctx.Err() != nil:
			p.err = err
		case errors.Is(err, fetch.ErrDisallowed):
			p.logger.Info("[paginate] Stopping at %s, disallowed by robots.txt", url)
		default:
			p.logger.Warn("[paginate] Page unavailable, stopping at %s: %v", url, err)
		}
		return Page{}, false
	}

	if resp.StatusCode == http.StatusNotFound {
		p.logger.Info("[paginate] Stop pagination (404) at %s", url)
		p.done = true
		return Page{}, false
	}
	if !resp.OK() {
		p.logger.Warn("[paginate] Stop pagination (HTTP %d) at %s", resp.StatusCode, url)
		p.done = true
		return Page{}, false
	}

	sum := sha256.Sum256(resp.Body)
	if !p.seen.Add(sum) {
		p.logger.Info("[paginate] Stop pagination (repeat content) at %s", url)
		p.done = true
		return Page{}, false
	}

	return Page{Number: n, URL: url, HTML: resp.Body}, true
}

// Err returns the error that ended the walk early (pause or cancellation).
// Ordinary termination leaves it nil.
func (p *Paginator) Err() error {
	return p.err
}
