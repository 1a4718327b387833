package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"estate-crawler/scraper/robots"
	"estate-crawler/utils"
)

type stubPause struct{ paused bool }

func (s stubPause) Paused(context.Context) (bool, error) { return s.paused, nil }

type siteCounters struct {
	robots  int32
	private int32
	pages   int32
}

func newSite(t *testing.T) (*httptest.Server, *siteCounters) {
	t.Helper()
	c := &siteCounters{}
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&c.robots, 1)
		w.Write([]byte("User-agent: *\nDisallow: /private\n"))
	})
	mux.HandleFunc("/private/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&c.private, 1)
	})
	mux.HandleFunc("/listings", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&c.pages, 1)
		if r.Header.Get("User-Agent") != "TestBot/1.0" {
			t.Errorf("User-Agent: got %q", r.Header.Get("User-Agent"))
		}
		if r.Header.Get("Accept-Language") == "" {
			t.Error("Accept-Language header missing")
		}
		w.Write([]byte("<html></html>"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, c
}

func newTestFetcher(srv *httptest.Server, t *testing.T, pause PauseSwitch) *Fetcher {
	return New(Options{
		Client:          srv.Client(),
		UserAgent:       "TestBot/1.0",
		DefaultInterval: time.Millisecond,
		Backoff:         fastBackoff(),
		Auditor:         robots.NewAuditor(t.TempDir()),
		Pause:           pause,
		Logger:          utils.NewDiscardLogger(),
	})
}

func TestFetchAllowed(t *testing.T) {
	srv, counters := newSite(t)
	f := newTestFetcher(srv, t, nil)

	for i := 0; i < 2; i++ {
		resp, err := f.Fetch(context.Background(), srv.URL+"/listings")
		if err != nil {
			t.Fatalf("Fetch: %v", err)
		}
		if !resp.OK() {
			t.Errorf("status: got %d", resp.StatusCode)
		}
	}
	if got := atomic.LoadInt32(&counters.robots); got != 1 {
		t.Errorf("robots.txt fetched %d times; want 1 (cached per host)", got)
	}
	if got := atomic.LoadInt32(&counters.pages); got != 2 {
		t.Errorf("pages fetched: got %d, want 2", got)
	}
}

func TestFetchDisallowedSkipsNetwork(t *testing.T) {
	srv, counters := newSite(t)
	f := newTestFetcher(srv, t, nil)

	resp, err := f.Fetch(context.Background(), srv.URL+"/private/x")
	if !errors.Is(err, ErrDisallowed) {
		t.Fatalf("expected ErrDisallowed, got %v", err)
	}
	if resp != nil {
		t.Error("expected nil response")
	}
	if got := atomic.LoadInt32(&counters.private); got != 0 {
		t.Errorf("disallowed path was requested %d times", got)
	}
}

func TestFetchRobotsTxtAlwaysAllowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nDisallow: /\n"))
	}))
	defer srv.Close()
	f := newTestFetcher(srv, t, nil)

	if _, err := f.Fetch(context.Background(), srv.URL+"/robots.txt"); err != nil {
		t.Fatalf("robots.txt should bypass the disallow check: %v", err)
	}
	if _, err := f.Fetch(context.Background(), srv.URL+"/anything"); !errors.Is(err, ErrDisallowed) {
		t.Errorf("expected ErrDisallowed for /anything, got %v", err)
	}
}

func TestFetchPaused(t *testing.T) {
	srv, counters := newSite(t)
	f := newTestFetcher(srv, t, stubPause{paused: true})

	if _, err := f.Fetch(context.Background(), srv.URL+"/listings"); !errors.Is(err, ErrPaused) {
		t.Fatalf("expected ErrPaused, got %v", err)
	}
	if atomic.LoadInt32(&counters.robots)+atomic.LoadInt32(&counters.pages) != 0 {
		t.Error("paused fetcher must not touch the network")
	}
}

func TestFetchInvalidURL(t *testing.T) {
	srv, _ := newSite(t)
	f := newTestFetcher(srv, t, nil)
	if _, err := f.Fetch(context.Background(), "not a url"); err == nil {
		t.Error("expected error for invalid url")
	}
}
