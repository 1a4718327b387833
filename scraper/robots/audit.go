package robots

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const auditTimestamp = "20060102T150405Z"

// CrawlConfig is the resolved crawl configuration written next to each
// robots snapshot.
type CrawlConfig struct {
	RunID                     string   `json:"run_id,omitempty"`
	UserAgent                 string   `json:"user_agent"`
	RobotsURL                 string   `json:"robots_url"`
	CrawlDelayHintSeconds     float64  `json:"detected_crawl_delay_hint_seconds"`
	DefaultMinIntervalSeconds float64  `json:"default_min_interval_seconds"`
	Disallow                  []string `json:"disallow"`
	Sitemaps                  []string `json:"sitemaps"`
}

// Auditor writes the compliance trail for every robots fetch. Files are
// only ever created, never read back or removed.
type Auditor struct {
	Dir string
	Now func() time.Time
}

// NewAuditor returns an Auditor writing into dir.
func NewAuditor(dir string) *Auditor {
	return &Auditor{Dir: dir, Now: time.Now}
}

// Record writes {host}_robots_{ts}.txt and {host}_crawlcfg_{ts}.json.
func (a *Auditor) Record(host, robotsText string, cfg CrawlConfig) error {
	if err := os.MkdirAll(a.Dir, 0o755); err != nil {
		return fmt.Errorf("audit: create dir %q: %w", a.Dir, err)
	}

	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	ts := now().UTC().Format(auditTimestamp)
	name := strings.ReplaceAll(host, ":", "_")

	robotsPath := filepath.Join(a.Dir, fmt.Sprintf("%s_robots_%s.txt", name, ts))
	if err := os.WriteFile(robotsPath, []byte(robotsText), 0o644); err != nil {
		return fmt.Errorf("audit: write %q: %w", robotsPath, err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("audit: encode crawl config: %w", err)
	}
	cfgPath := filepath.Join(a.Dir, fmt.Sprintf("%s_crawlcfg_%s.json", name, ts))
	if err := os.WriteFile(cfgPath, data, 0o644); err != nil {
		return fmt.Errorf("audit: write %q: %w", cfgPath, err)
	}
	return nil
}
