package models

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"
	"time"
)

// CrawlTarget is a seed or discovered index URL, consumed once by the paginator.
type CrawlTarget struct {
	URL      string
	MaxPages int
}

// ListingCard is one listing preview extracted from an index page.
// Every field except the page coordinates and CardText is optional.
type ListingCard struct {
	Source        string
	SourcePageURL string
	CardIndex     int
	Title         *string
	PriceINR      *int64
	BHK           *int
	Bathrooms     *int
	AreaSqft      *float64
	City          *string
	ImageURL      *string
	CardText      string
}

// PK returns the staging identity of the card: hex SHA-1 of
// "source_page_url|card_index|title".
func (c *ListingCard) PK() string {
	title := ""
	if c.Title != nil {
		title = *c.Title
	}
	sum := sha1.Sum([]byte(c.SourcePageURL + "|" + strconv.Itoa(c.CardIndex) + "|" + title))
	return hex.EncodeToString(sum[:])
}

// StagingRecord is a staging row as read column by column, before any
// coercion. Keys are snake_case column names.
type StagingRecord map[string]any

// CleanedListing is the final warehouse row stored in ods_listings.
// Price, area and BHK are always present after cleaning.
type CleanedListing struct {
	SourceID      string
	Source        *string
	SourcePageURL *string
	CardIndex     *int
	Title         *string
	PriceINR      int64
	BHK           int
	Bathrooms     *float64
	AreaSqft      float64
	City          *string
	ImageURL      *string
	CardText      *string
	FirstSeenAt   *time.Time
	LastSeenAt    *time.Time
	PricePerSqft  *float64
	PricePerBHK   *float64
	ProcessedAt   time.Time
}

// EtlRun is the append-only audit record of one cleaning run.
type EtlRun struct {
	StartTS time.Time
	EndTS   time.Time
	RowsIn  int
	RowsOut int
	Notes   string
}

// InsightReport holds the computed analytics over the cleaned dataset.
type InsightReport struct {
	TotalListings   int
	MinPrice        int64
	MedianPrice     float64
	MaxPrice        int64
	AvgPricePerSqft float64
	MostExpensive   *CleanedListing
	BestValue       []*CleanedListing
	ListingsByCity  map[string]int
	AvgPriceByBHK   map[int]float64
}
