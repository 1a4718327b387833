package extract

import (
	"bytes"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"estate-crawler/models"
)

const (
	minCardTextLen = 40
	maxCardTextLen = 4000
	fallbackSel    = "div,li,article,section"
)

// Options tells the extractor which site it is reading.
type Options struct {
	Source    string
	Selectors []string
}

// ExtractListingCards finds listing cards on an index page and pulls the
// optional fields out of each. Cards come from the configured selectors,
// in order; when none match, any div/li/article/section holding a link is
// a candidate. Candidates with less than 40 characters of text are skipped
// but still consume a card index. Unparseable HTML yields no cards.
func ExtractListingCards(page []byte, pageURL string, opts Options) []models.ListingCard {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil
	}

	pageTitle := strings.TrimSpace(doc.Find("title").First().Text())
	city := GuessCityFromTitle(pageTitle)
	base, _ := url.Parse(pageURL)

	candidates := selectCandidates(doc, opts.Selectors)

	var cards []models.ListingCard
	for i, node := range candidates {
		text := flatten(node)
		if utf8.RuneCountInString(text) < minCardTextLen {
			continue
		}
		sel := goquery.NewDocumentFromNode(node).Selection

		card := models.ListingCard{
			Source:        opts.Source,
			SourcePageURL: pageURL,
			CardIndex:     i + 1,
			Title:         cardTitle(sel),
			PriceINR:      ParsePriceINR(text),
			BHK:           ParseBHK(text),
			Bathrooms:     ParseBathrooms(text),
			AreaSqft:      ParseAreaSqft(text),
			City:          cloneString(city),
			ImageURL:      imageURL(sel, base),
			CardText:      truncateRunes(text, maxCardTextLen),
		}
		cards = append(cards, card)
	}
	return cards
}

func selectCandidates(doc *goquery.Document, selectors []string) []*html.Node {
	seen := make(map[*html.Node]struct{})
	var nodes []*html.Node
	for _, s := range selectors {
		for _, n := range doc.Find(s).Nodes {
			if _, dup := seen[n]; dup {
				continue
			}
			seen[n] = struct{}{}
			nodes = append(nodes, n)
		}
	}
	if len(nodes) > 0 {
		return nodes
	}
	return doc.Find(fallbackSel).Has("a").Nodes
}

func cardTitle(sel *goquery.Selection) *string {
	h := sel.Find("h2, h3").First()
	if h.Length() == 0 {
		return nil
	}
	title := flatten(h.Nodes[0])
	if title == "" {
		return nil
	}
	return &title
}

func imageURL(sel *goquery.Selection, base *url.URL) *string {
	img := sel.Find("img").First()
	if img.Length() == 0 {
		return nil
	}
	src := strings.TrimSpace(img.AttrOr("src", ""))
	if src == "" {
		src = strings.TrimSpace(img.AttrOr("data-src", ""))
	}
	if src == "" {
		return nil
	}
	if base != nil && !strings.HasPrefix(src, "data:") {
		if ref, err := url.Parse(src); err == nil {
			src = base.ResolveReference(ref).String()
		}
	}
	return &src
}

// flatten joins the text nodes under n with single spaces.
func flatten(n *html.Node) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if s := strings.TrimSpace(n.Data); s != "" {
				parts = append(parts, s)
			}
			return
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max])
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
