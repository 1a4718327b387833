package services

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"estate-crawler/models"
	"estate-crawler/utils"
)

// stagingColumns are the columns every record is guaranteed to carry after
// normalization; missing ones are added as nil.
var stagingColumns = []string{
	"pk", "source", "source_page_url", "card_index", "title", "price_inr", "bhk",
	"bathrooms", "area_sqft", "city", "image_url", "card_text", "first_seen_at", "last_seen_at",
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// Bounds are the inclusive sanity limits applied before loading.
type Bounds struct {
	MinAreaSqft float64
	MaxAreaSqft float64
	MinPriceINR float64
	MaxPriceINR float64
}

// DefaultBounds returns area 50..20000 sqft and price 100..200,000,000 INR.
func DefaultBounds() Bounds {
	return Bounds{MinAreaSqft: 50, MaxAreaSqft: 20000, MinPriceINR: 100, MaxPriceINR: 200000000}
}

// Cleaner turns staging records into validated, enriched ODS rows.
type Cleaner struct {
	logger *utils.Logger
	bounds Bounds
}

// NewCleaner creates a Cleaner with the given logger and bounds.
func NewCleaner(logger *utils.Logger, bounds Bounds) *Cleaner {
	if logger == nil {
		logger = utils.NewDiscardLogger()
	}
	return &Cleaner{logger: logger, bounds: bounds}
}

// stagingRow is a record after coercion, before filtering.
type stagingRow struct {
	sourceID  string
	source    *string
	pageURL   *string
	cardIndex *int
	title     *string
	price     *float64
	bhk       *float64
	baths     *float64
	area      *float64
	rawCity   *string
	imageURL  *string
	cardText  *string
	firstSeen *time.Time
	lastSeen  *time.Time
}

// CleanBatch runs the cleaning steps over one batch. Bathroom medians are
// computed from this batch only.
func (c *Cleaner) CleanBatch(records []models.StagingRecord, processedAt time.Time) []models.CleanedListing {
	rows := make([]stagingRow, 0, len(records))
	for _, rec := range records {
		r := coerce(NormalizeColumns(rec))
		if r.sourceID == "" {
			c.logger.Warn("[cleaner] Dropping staging record without pk")
			continue
		}
		rows = append(rows, r)
	}

	before := len(rows)
	rows = filterRows(rows, func(r stagingRow) bool {
		return r.price != nil && r.area != nil && r.bhk != nil
	})
	if dropped := before - len(rows); dropped > 0 {
		c.logger.Info("[cleaner] Dropped %d rows that were missing price/area/bhk", dropped)
	}

	before = len(rows)
	b := c.bounds
	rows = filterRows(rows, func(r stagingRow) bool {
		return *r.area >= b.MinAreaSqft && *r.area <= b.MaxAreaSqft &&
			*r.price >= b.MinPriceINR && *r.price <= b.MaxPriceINR
	})
	if dropped := before - len(rows); dropped > 0 {
		c.logger.Info("[cleaner] Dropped %d outliers outside area/price bounds", dropped)
	}

	imputeBathrooms(rows)

	titleCaser := cases.Title(language.Und)
	processedAt = processedAt.UTC()
	out := make([]models.CleanedListing, 0, len(rows))
	for _, r := range rows {
		price := int64(math.Round(*r.price))
		bhk := int(math.Round(*r.bhk))
		l := models.CleanedListing{
			SourceID:      r.sourceID,
			Source:        trimmed(r.source),
			SourcePageURL: trimmed(r.pageURL),
			CardIndex:     r.cardIndex,
			Title:         trimmed(r.title),
			PriceINR:      price,
			BHK:           bhk,
			Bathrooms:     r.baths,
			AreaSqft:      *r.area,
			City:          normalizeCity(titleCaser, r.rawCity),
			ImageURL:      trimmed(r.imageURL),
			CardText:      trimmed(r.cardText),
			FirstSeenAt:   r.firstSeen,
			LastSeenAt:    r.lastSeen,
			PricePerSqft:  ratio(float64(price), *r.area),
			PricePerBHK:   ratio(float64(price), float64(bhk)),
			ProcessedAt:   processedAt,
		}
		out = append(out, l)
	}

	c.logger.Debug("[cleaner] Cleaned batch %d → %d rows", len(records), len(out))
	return out
}

// NormalizeColumns returns a copy of rec with snake_case keys and every
// expected staging column present.
func NormalizeColumns(rec models.StagingRecord) models.StagingRecord {
	out := make(models.StagingRecord, len(rec)+len(stagingColumns))
	for k, v := range rec {
		out[snakeCase(k)] = v
	}
	for _, col := range stagingColumns {
		if _, ok := out[col]; !ok {
			out[col] = nil
		}
	}
	return out
}

func snakeCase(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	prevLower := false
	for _, r := range s {
		switch {
		case r == ' ' || r == '-':
			b.WriteByte('_')
			prevLower = false
		case unicode.IsUpper(r):
			if prevLower {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			prevLower = false
		default:
			b.WriteRune(r)
			prevLower = unicode.IsLower(r) || unicode.IsDigit(r)
		}
	}
	return b.String()
}

func coerce(rec models.StagingRecord) stagingRow {
	r := stagingRow{
		source:    toString(rec["source"]),
		pageURL:   toString(rec["source_page_url"]),
		title:     toString(rec["title"]),
		price:     toFloat(rec["price_inr"]),
		bhk:       toFloat(rec["bhk"]),
		baths:     toFloat(rec["bathrooms"]),
		area:      toFloat(rec["area_sqft"]),
		rawCity:   toString(rec["city"]),
		imageURL:  toString(rec["image_url"]),
		cardText:  toString(rec["card_text"]),
		firstSeen: toTime(rec["first_seen_at"]),
		lastSeen:  toTime(rec["last_seen_at"]),
	}
	if pk := toString(rec["pk"]); pk != nil {
		r.sourceID = strings.TrimSpace(*pk)
	}
	if idx := toFloat(rec["card_index"]); idx != nil {
		n := int(*idx)
		r.cardIndex = &n
	}
	return r
}

func toString(v any) *string {
	var s string
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		s = t
	case []byte:
		s = string(t)
	case fmt.Stringer:
		s = t.String()
	default:
		s = fmt.Sprint(t)
	}
	return &s
}

func toFloat(v any) *float64 {
	var f float64
	switch t := v.(type) {
	case nil:
		return nil
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int64:
		f = float64(t)
	case int:
		f = float64(t)
	case int32:
		f = float64(t)
	case []byte:
		return parseFloat(string(t))
	case string:
		return parseFloat(t)
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func parseFloat(s string) *float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// toTime converts to UTC; timestamps without a zone are taken as UTC.
func toTime(v any) *time.Time {
	var s string
	switch t := v.(type) {
	case nil:
		return nil
	case time.Time:
		u := t.UTC()
		return &u
	case *time.Time:
		if t == nil {
			return nil
		}
		u := t.UTC()
		return &u
	case []byte:
		s = string(t)
	case string:
		s = t
	default:
		return nil
	}
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			u := ts.UTC()
			return &u
		}
	}
	return nil
}

func filterRows(rows []stagingRow, keep func(stagingRow) bool) []stagingRow {
	out := rows[:0]
	for _, r := range rows {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// imputeBathrooms fills missing bathroom counts with the median of the
// row's city, then with the median of the whole batch. Both medians are
// taken before any filling.
func imputeBathrooms(rows []stagingRow) {
	var all []float64
	byCity := make(map[string][]float64)
	for _, r := range rows {
		if r.baths == nil {
			continue
		}
		all = append(all, *r.baths)
		if r.rawCity != nil {
			byCity[*r.rawCity] = append(byCity[*r.rawCity], *r.baths)
		}
	}
	global, hasGlobal := median(all)

	for i := range rows {
		if rows[i].baths != nil {
			continue
		}
		if rows[i].rawCity != nil {
			if m, ok := median(byCity[*rows[i].rawCity]); ok {
				rows[i].baths = &m
				continue
			}
		}
		if hasGlobal {
			g := global
			rows[i].baths = &g
		}
	}
}

func median(vals []float64) (float64, bool) {
	if len(vals) == 0 {
		return 0, false
	}
	s := append([]float64(nil), vals...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid], true
	}
	return (s[mid-1] + s[mid]) / 2, true
}

func normalizeCity(caser cases.Caser, city *string) *string {
	c := trimmed(city)
	if c == nil {
		return nil
	}
	titled := caser.String(*c)
	return &titled
}

// trimmed strips whitespace; empty strings become nil.
func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}

func ratio(num, den float64) *float64 {
	if den <= 0 {
		return nil
	}
	v := round2(num / den)
	return &v
}
