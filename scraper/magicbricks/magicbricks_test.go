package magicbricks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"estate-crawler/config"
	"estate-crawler/models"
	"estate-crawler/scraper/fetch"
	"estate-crawler/scraper/robots"
	"estate-crawler/utils"
)

type memorySink struct {
	batches [][]models.ListingCard
	err     error
}

func (m *memorySink) UpsertListings(_ context.Context, cards []models.ListingCard) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.batches = append(m.batches, cards)
	return len(cards), nil
}

func cardHTML(n int) string {
	return fmt.Sprintf(`<div class="mb-srp__card"><h2>%d BHK Flat in Baner</h2>
<span>₹%d Lakh</span><span>%d sqft</span><span>2 Baths</span></div>`, n, 50+n, 900+n)
}

func pageHTML(cards ...int) string {
	var b strings.Builder
	b.WriteString("<html><head><title>Flats for Sale in Pune | MB</title></head><body>")
	for _, c := range cards {
		b.WriteString(cardHTML(c))
	}
	b.WriteString("</body></html>")
	return b.String()
}

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "User-agent: *\nDisallow: /property-for-rent-in-\nSitemap: %s/sm.xml\n", srv.URL)
	})
	mux.HandleFunc("/sm.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<urlset>
<url><loc>%[1]s/property-for-sale-in-pune-pppfs</loc></url>
<url><loc>%[1]s/property-for-rent-in-pune-pppfr</loc></url>
<url><loc>%[1]s/propertyDetails/123</loc></url>
</urlset>`, srv.URL)
	})
	mux.HandleFunc("/property-for-sale-in-pune-pppfs", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(pageHTML(1, 2, 3)))
	})
	mux.HandleFunc("/property-for-sale-in-pune-pppfs/page-2", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(pageHTML(4)))
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newScraper(t *testing.T, srv *httptest.Server, sink *memorySink, pause fetch.PauseSwitch) *Scraper {
	cfg := &config.Config{MaxPagesPerSeed: 10, FlushSize: 2}
	site := config.DefaultSite()
	site.BaseURL = srv.URL
	site.Seeds = []string{srv.URL + "/seed"}

	f := fetch.New(fetch.Options{
		Client:          srv.Client(),
		UserAgent:       "TestBot/1.0",
		DefaultInterval: time.Millisecond,
		Backoff:         fetch.BackoffConfig{MaxRetries: 0, BaseDelay: time.Millisecond, MaxTotalTime: 5 * time.Second},
		Auditor:         robots.NewAuditor(t.TempDir()),
		Pause:           pause,
		Logger:          utils.NewDiscardLogger(),
	})
	return New(cfg, site, f, sink, utils.NewDiscardLogger(), nil)
}

func TestScrapeEndToEnd(t *testing.T) {
	srv := newSite(t)
	sink := &memorySink{}
	s := newScraper(t, srv, sink, nil)

	sum, err := s.Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}

	if sum.Targets != 1 {
		t.Errorf("targets: got %d, want 1 (rent URL disallowed, detail URL filtered)", sum.Targets)
	}
	if sum.Pages != 2 {
		t.Errorf("pages: got %d, want 2", sum.Pages)
	}
	if sum.Cards != 4 || sum.Inserted != 4 {
		t.Errorf("cards/inserted: got %d/%d, want 4/4", sum.Cards, sum.Inserted)
	}

	// page 1 holds 3 cards, over the flush size of 2; page 2 is flushed at the end
	if len(sink.batches) != 2 || len(sink.batches[0]) != 3 || len(sink.batches[1]) != 1 {
		t.Fatalf("batches: got %d", len(sink.batches))
	}

	last := sink.batches[1][0]
	if last.SourcePageURL != srv.URL+"/property-for-sale-in-pune-pppfs/page-2" {
		t.Errorf("source page url: got %q", last.SourcePageURL)
	}
	if last.Source != "magicbricks" || last.CardIndex != 1 {
		t.Errorf("card: got source %q index %d", last.Source, last.CardIndex)
	}
	if last.City == nil || *last.City != "Pune" {
		t.Errorf("city: got %v", last.City)
	}
	if last.PriceINR == nil || *last.PriceINR != 5400000 {
		t.Errorf("price: got %v", last.PriceINR)
	}
}

func TestScrapeSinkErrorAborts(t *testing.T) {
	srv := newSite(t)
	boom := errors.New("db down")
	s := newScraper(t, srv, &memorySink{err: boom}, nil)

	if _, err := s.Scrape(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected sink error, got %v", err)
	}
}

type pauseAfter struct{ calls, limit int }

func (p *pauseAfter) Paused(context.Context) (bool, error) {
	p.calls++
	return p.calls > p.limit, nil
}

func TestScrapePauseAbortsAndFlushes(t *testing.T) {
	srv := newSite(t)
	sink := &memorySink{}
	// the sitemap and page 1 pass the pause check, page 2 does not
	s := newScraper(t, srv, sink, &pauseAfter{limit: 2})

	_, err := s.Scrape(context.Background())
	if !errors.Is(err, fetch.ErrPaused) {
		t.Fatalf("expected ErrPaused, got %v", err)
	}
	if len(sink.batches) != 1 || len(sink.batches[0]) != 3 {
		t.Errorf("page 1 cards should be flushed before aborting, got %d batches", len(sink.batches))
	}
}
