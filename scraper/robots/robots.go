package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"estate-crawler/utils"
)

// Rules is the subset of a robots.txt that applies to our user agent.
type Rules struct {
	Disallow   []string
	Sitemaps   []string
	Host       string
	CrawlDelay time.Duration
}

// Parse reads robots.txt text and keeps the directives that apply to
// userAgent. Sitemap lines are collected regardless of group.
func Parse(text, userAgent string) Rules {
	ua := strings.ToLower(userAgent)

	var (
		rules    Rules
		agents   []string
		inAgents bool
		applies  bool
		delaySet bool
	)

	for _, line := range strings.Split(text, "\n") {
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		val = strings.TrimSpace(val)

		if key == "user-agent" {
			if !inAgents {
				agents = agents[:0]
			}
			agents = append(agents, strings.ToLower(val))
			inAgents = true
			applies = groupApplies(agents, ua)
			continue
		}
		inAgents = false

		switch key {
		case "disallow":
			if applies && strings.HasPrefix(val, "/") {
				rules.Disallow = append(rules.Disallow, val)
			}
		case "crawl-delay":
			if !applies {
				continue
			}
			secs, err := strconv.ParseFloat(val, 64)
			if err != nil || secs < 0 {
				continue
			}
			d := time.Duration(secs * float64(time.Second))
			if !delaySet || d < rules.CrawlDelay {
				rules.CrawlDelay = d
				delaySet = true
			}
		case "sitemap":
			if val != "" {
				rules.Sitemaps = append(rules.Sitemaps, val)
			}
		case "host":
			if rules.Host == "" {
				rules.Host = val
			}
		}
	}
	return rules
}

func groupApplies(agents []string, ua string) bool {
	for _, a := range agents {
		if a == "*" || (a != "" && strings.Contains(ua, a)) {
			return true
		}
	}
	return false
}

// CanFetch reports whether rawURL's path is outside every disallowed prefix.
func (r Rules) CanFetch(rawURL string) bool {
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		path = u.Path
	}
	if path == "" {
		path = "/"
	}
	for _, prefix := range r.Disallow {
		if strings.HasPrefix(path, prefix) {
			return false
		}
	}
	return true
}

// Policy is the resolved robots state for one host during a crawl run.
type Policy struct {
	Host      string
	RobotsURL string
	Rules     Rules
}

// CanFetch is a nil-safe wrapper around Rules.CanFetch.
func (p *Policy) CanFetch(rawURL string) bool {
	if p == nil {
		return true
	}
	return p.Rules.CanFetch(rawURL)
}

// Loader fetches robots.txt once per host and records the audit trail.
type Loader struct {
	Client          *http.Client
	UserAgent       string
	DefaultInterval time.Duration
	Timeout         time.Duration
	Auditor         *Auditor
	Logger          *utils.Logger
	RunID           string
}

// RobotsURL returns scheme://host/robots.txt for any URL on the host.
func RobotsURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("robots: parse url %q: %w", rawURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("robots: url %q has no scheme or host", rawURL)
	}
	return u.Scheme + "://" + u.Host + "/robots.txt", nil
}

// Load fetches and parses robots.txt for baseURL's host. Any failure or
// non-200 response yields empty rules. It never returns nil.
func (l *Loader) Load(ctx context.Context, baseURL string) *Policy {
	policy := &Policy{}
	robotsURL, err := RobotsURL(baseURL)
	if err != nil {
		l.warn("[robots] %v", err)
		return policy
	}
	u, _ := url.Parse(robotsURL)
	policy.Host = u.Host
	policy.RobotsURL = robotsURL

	text := l.fetch(ctx, robotsURL)
	policy.Rules = Parse(text, l.UserAgent)

	if l.Logger != nil {
		l.Logger.Info("[robots] %s: %d disallow rules, %d sitemaps, crawl-delay %v",
			policy.Host, len(policy.Rules.Disallow), len(policy.Rules.Sitemaps), policy.Rules.CrawlDelay)
	}

	if l.Auditor != nil {
		cfg := CrawlConfig{
			RunID:                     l.RunID,
			UserAgent:                 l.UserAgent,
			RobotsURL:                 robotsURL,
			CrawlDelayHintSeconds:     policy.Rules.CrawlDelay.Seconds(),
			DefaultMinIntervalSeconds: l.DefaultInterval.Seconds(),
			Disallow:                  policy.Rules.Disallow,
			Sitemaps:                  policy.Rules.Sitemaps,
		}
		if err := l.Auditor.Record(policy.Host, text, cfg); err != nil {
			l.warn("[robots] audit write failed for %s: %v", policy.Host, err)
		}
	}
	return policy
}

func (l *Loader) fetch(ctx context.Context, robotsURL string) string {
	timeout := l.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		l.warn("[robots] build request %s: %v", robotsURL, err)
		return ""
	}
	if l.UserAgent != "" {
		req.Header.Set("User-Agent", l.UserAgent)
	}

	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		l.warn("[robots] fetch %s: %v", robotsURL, err)
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		l.warn("[robots] %s returned HTTP %d, treating as unrestricted", robotsURL, resp.StatusCode)
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		l.warn("[robots] read %s: %v", robotsURL, err)
		return ""
	}
	return string(body)
}

func (l *Loader) warn(format string, args ...any) {
	if l.Logger != nil {
		l.Logger.Warn(format, args...)
	}
}
