package storage

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"estate-crawler/models"
)

var csvHeader = []string{
	"pk", "source", "source_page_url", "card_index", "title", "price_inr", "bhk",
	"bathrooms", "area_sqft", "city", "image_url", "card_text", "scraped_at",
}

// CSVWriter appends raw (uncleaned) cards to a CSV file as a backup of
// what the extractor saw. It is safe for concurrent use.
type CSVWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
	now    func() time.Time
}

// NewCSVWriter opens (or creates) the CSV file at path for appending and
// writes the header row if the file is new. Intermediate directories are
// created automatically.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("csv: open file %q: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("csv: stat %q: %w", path, err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(csvHeader); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("csv: write header: %w", err)
		}
		w.Flush()
	}

	return &CSVWriter{file: f, writer: w, now: time.Now}, nil
}

// UpsertListings appends every card and reports them all as written.
func (c *CSVWriter) UpsertListings(_ context.Context, cards []models.ListingCard) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	scrapedAt := c.now().UTC().Format(time.RFC3339)
	for i := range cards {
		l := &cards[i]
		row := []string{
			l.PK(),
			l.Source,
			l.SourcePageURL,
			strconv.Itoa(l.CardIndex),
			strOrEmpty(l.Title),
			int64OrEmpty(l.PriceINR),
			intOrEmpty(l.BHK),
			intOrEmpty(l.Bathrooms),
			floatOrEmpty(l.AreaSqft),
			strOrEmpty(l.City),
			strOrEmpty(l.ImageURL),
			l.CardText,
			scrapedAt,
		}
		if err := c.writer.Write(row); err != nil {
			return 0, fmt.Errorf("csv: write row: %w", err)
		}
	}

	c.writer.Flush()
	if err := c.writer.Error(); err != nil {
		return 0, err
	}
	return len(cards), nil
}

// Close flushes and closes the underlying file.
func (c *CSVWriter) Close() error {
	c.writer.Flush()
	return c.file.Close()
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func intOrEmpty(n *int) string {
	if n == nil {
		return ""
	}
	return strconv.Itoa(*n)
}

func int64OrEmpty(n *int64) string {
	if n == nil {
		return ""
	}
	return strconv.FormatInt(*n, 10)
}

func floatOrEmpty(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}
