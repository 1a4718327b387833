package sitemap

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/xml"
	"errors"
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html/charset"

	"estate-crawler/scraper/fetch"
	"estate-crawler/scraper/robots"
	"estate-crawler/utils"
)

const defaultMaxDepth = 3

// Getter is the part of fetch.Fetcher the walker needs.
type Getter interface {
	Fetch(ctx context.Context, rawURL string) (*fetch.Response, error)
	Policy(ctx context.Context, rawURL string) *robots.Policy
}

// Walker resolves sitemaps down to index/listing page URLs.
type Walker struct {
	Fetcher       Getter
	BaseURL       string
	IndexPatterns []string
	Seeds         []string
	MaxDepth      int
	Logger        *utils.Logger
}

// DiscoverSitemaps returns robots-advertised sitemaps, or the two
// conventional locations when robots lists none.
func (w *Walker) DiscoverSitemaps(ctx context.Context) []string {
	policy := w.Fetcher.Policy(ctx, w.BaseURL)
	if len(policy.Rules.Sitemaps) > 0 {
		w.logger().Info("[sitemap] Found %d sitemap(s) in robots.txt", len(policy.Rules.Sitemaps))
		return append([]string(nil), policy.Rules.Sitemaps...)
	}

	base := strings.TrimRight(w.BaseURL, "/")
	if u, err := url.Parse(w.BaseURL); err == nil && u.Host != "" {
		base = u.Scheme + "://" + u.Host
	}
	return []string{base + "/sitemap_index.xml", base + "/sitemap.xml"}
}

// CollectIndexURLs walks every discovered sitemap and keeps URLs that match
// an index pattern and are allowed by robots.txt. The result is sorted and
// deduplicated; when it would be empty the seeds are returned instead.
// Only fetch.ErrPaused is returned as an error.
func (w *Walker) CollectIndexURLs(ctx context.Context) ([]string, error) {
	visited := utils.NewSet[string]()
	var leaves []string

	for _, sm := range w.DiscoverSitemaps(ctx) {
		if err := w.walk(ctx, sm, 0, visited, &leaves); err != nil {
			return nil, err
		}
	}

	found := utils.NewSet[string]()
	for _, u := range leaves {
		if !w.isIndexURL(u) {
			continue
		}
		if !w.Fetcher.Policy(ctx, u).CanFetch(u) {
			w.logger().Info("[sitemap] Skipping index URL disallowed by robots.txt: %s", u)
			continue
		}
		found.Add(u)
	}

	if found.Len() == 0 {
		w.logger().Warn("[sitemap] No index pages found in sitemaps, falling back to %d seeds", len(w.Seeds))
		for _, s := range w.Seeds {
			found.Add(s)
		}
	}
	return utils.Sorted(found), nil
}

func (w *Walker) walk(ctx context.Context, sitemapURL string, depth int, visited *utils.Set[string], leaves *[]string) error {
	maxDepth := w.MaxDepth
	if maxDepth <= 0 {
		maxDepth = defaultMaxDepth
	}
	if depth > maxDepth || !visited.Add(sitemapURL) {
		return nil
	}

	resp, err := w.Fetcher.Fetch(ctx, sitemapURL)
	if err != nil {
		switch {
		case errors.Is(err, fetch.ErrPaused):
			return err
		case errors.Is(err, fetch.ErrDisallowed):
			w.logger().Info("[sitemap] Skipping sitemap disallowed by robots.txt: %s", sitemapURL)
		default:
			w.logger().Warn("[sitemap] Sitemap fetch failed: %s (%v)", sitemapURL, err)
		}
		return nil
	}
	if !resp.OK() {
		w.logger().Warn("[sitemap] Sitemap %s returned HTTP %d", sitemapURL, resp.StatusCode)
		return nil
	}

	children, urls := ParseSitemapXML(resp.Body)
	if len(children) > 0 {
		w.logger().Info("[sitemap] Sitemap %s has %d child sitemaps", sitemapURL, len(children))
	}
	*leaves = append(*leaves, urls...)

	for _, child := range children {
		if err := w.walk(ctx, child, depth+1, visited, leaves); err != nil {
			return err
		}
	}
	return nil
}

func (w *Walker) isIndexURL(u string) bool {
	for _, p := range w.IndexPatterns {
		if strings.Contains(u, p) {
			return true
		}
	}
	return false
}

func (w *Walker) logger() *utils.Logger {
	if w.Logger == nil {
		w.Logger = utils.NewDiscardLogger()
	}
	return w.Logger
}

type document struct {
	XMLName  xml.Name
	Sitemaps []entry `xml:"sitemap"`
	URLs     []entry `xml:"url"`
}

type entry struct {
	Loc string `xml:"loc"`
}

// ParseSitemapXML returns child sitemaps for a <sitemapindex> document and
// page URLs for a <urlset>. Gzipped input is decompressed and declared
// non-UTF-8 encodings are converted. Anything else,
// including malformed XML, yields two empty slices.
func ParseSitemapXML(data []byte) (children, urls []string) {
	data = maybeGunzip(data)

	var doc document
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = charset.NewReaderLabel
	if err := dec.Decode(&doc); err != nil {
		return nil, nil
	}

	switch doc.XMLName.Local {
	case "sitemapindex":
		children = locs(doc.Sitemaps)
	case "urlset":
		urls = locs(doc.URLs)
	}
	return children, urls
}

func locs(entries []entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if loc := strings.TrimSpace(e.Loc); loc != "" {
			out = append(out, loc)
		}
	}
	return out
}

func maybeGunzip(data []byte) []byte {
	if len(data) < 2 || data[0] != 0x1f || data[1] != 0x8b {
		return data
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return data
	}
	defer zr.Close()
	out, err := io.ReadAll(io.LimitReader(zr, 64<<20))
	if err != nil {
		return nil
	}
	return out
}
