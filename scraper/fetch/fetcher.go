package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"estate-crawler/metrics"
	"estate-crawler/scraper/robots"
	"estate-crawler/utils"
)

var (
	// ErrDisallowed means robots.txt forbids the URL. It is a policy
	// outcome, not a failure.
	ErrDisallowed = errors.New("fetch: disallowed by robots.txt")
	// ErrPaused means the pause flag was set; the run should stop.
	ErrPaused = errors.New("fetch: crawler paused")
	// ErrNoResponse means every attempt failed before an HTTP response arrived.
	ErrNoResponse = errors.New("fetch: no response")
)

// PauseSwitch is checked before every fetch.
type PauseSwitch interface {
	Paused(ctx context.Context) (bool, error)
}

// Options configures a Fetcher.
type Options struct {
	Client          *http.Client
	UserAgent       string
	DefaultInterval time.Duration
	RobotsTimeout   time.Duration
	Backoff         BackoffConfig
	Auditor         *robots.Auditor
	Pause           PauseSwitch
	Logger          *utils.Logger
	Metrics         *metrics.Metrics
	RunID           string
}

// Fetcher is the polite HTTP client used by the whole crawl: robots check,
// per-host spacing, then GET with bounded retries. One Fetcher serves one
// crawl run; robots policies are cached for its lifetime.
type Fetcher struct {
	client  *http.Client
	loader  *robots.Loader
	limiter *robots.HostLimiter
	backoff BackoffConfig
	pause   PauseSwitch
	logger  *utils.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	policies map[string]*robots.Policy
}

// New builds a Fetcher from opts.
func New(opts Options) *Fetcher {
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = utils.NewDiscardLogger()
	}

	backoff := opts.Backoff
	headers := http.Header{}
	for k, vs := range backoff.Headers {
		headers[k] = append([]string(nil), vs...)
	}
	if opts.UserAgent != "" {
		headers.Set("User-Agent", opts.UserAgent)
	}
	if headers.Get("Accept") == "" {
		headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	}
	if headers.Get("Accept-Language") == "" {
		headers.Set("Accept-Language", "en-US,en;q=0.9")
	}
	backoff.Headers = headers

	m := opts.Metrics
	userRetry := backoff.OnRetry
	backoff.OnRetry = func(status int, delay time.Duration) {
		m.IncRetry()
		if userRetry != nil {
			userRetry(status, delay)
		}
	}

	return &Fetcher{
		client: client,
		loader: &robots.Loader{
			Client:          client,
			UserAgent:       opts.UserAgent,
			DefaultInterval: opts.DefaultInterval,
			Timeout:         opts.RobotsTimeout,
			Auditor:         opts.Auditor,
			Logger:          logger,
			RunID:           opts.RunID,
		},
		limiter:  robots.NewHostLimiter(opts.DefaultInterval),
		backoff:  backoff,
		pause:    opts.Pause,
		logger:   logger,
		metrics:  m,
		policies: make(map[string]*robots.Policy),
	}
}

// Policy returns the cached robots policy for rawURL's host, loading it on
// first use.
func (f *Fetcher) Policy(ctx context.Context, rawURL string) *robots.Policy {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return &robots.Policy{}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.policies[u.Host]; ok {
		return p
	}
	p := f.loader.Load(ctx, rawURL)
	f.policies[u.Host] = p
	return p
}

// Fetch retrieves rawURL politely. It returns ErrPaused when the pause
// flag is set and ErrDisallowed when robots.txt forbids the URL, without
// touching the network. HTTP error statuses are returned as responses.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	if f.pause != nil {
		paused, err := f.pause.Paused(ctx)
		if err != nil {
			f.logger.Warn("[fetch] pause check failed, continuing: %v", err)
		} else if paused {
			return nil, ErrPaused
		}
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("fetch: invalid url %q", rawURL)
	}

	policy := f.Policy(ctx, rawURL)
	if !strings.HasSuffix(strings.ToLower(u.Path), "/robots.txt") && !policy.CanFetch(rawURL) {
		f.logger.Info("[fetch] Disallowed by robots.txt: %s", rawURL)
		f.metrics.IncBlocked()
		return nil, fmt.Errorf("%w: %s", ErrDisallowed, rawURL)
	}

	if err := f.limiter.Wait(ctx, u.Host, policy.Rules.CrawlDelay); err != nil {
		return nil, fmt.Errorf("fetch: rate wait for %s: %w", u.Host, err)
	}

	resp, err := GetWithBackoff(ctx, f.client, rawURL, f.backoff)
	if err != nil {
		f.logger.Warn("[fetch] No response: %s (%v)", rawURL, err)
		f.metrics.ObserveFetch(0)
		return nil, err
	}

	f.metrics.ObserveFetch(resp.StatusCode)
	if resp.StatusCode >= 400 {
		f.logger.Warn("[fetch] HTTP %d: %s", resp.StatusCode, rawURL)
	}
	return resp, nil
}
