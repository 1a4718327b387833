package extract

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	// priceRegexp captures "₹ 1.2 Cr", "₹85,00,000", "₹50 Lakh". Units are
	// whole words: "₹45,000 Koregaon Park" is 45,000.
	priceRegexp = regexp.MustCompile(`(?i)₹\s*([0-9,.]+)\s*(?:(Cr|Crore|Lac|Lakh|K)\b)?`)
	bhkRegexp   = regexp.MustCompile(`(?i)(\d+)\s*BHK`)
	bathRegexp  = regexp.MustCompile(`(?i)(\d+)\s*Bath`)
	areaRegexp  = regexp.MustCompile(`(?i)(\d[\d,]*(?:\.\d+)?)\s*(sq\.?\s*ft|sqft|sq ft|sqm|sq\.?\s*m|sq\.?\s*yd|sqyd|acre)s?`)
	cityRegexp  = regexp.MustCompile(`(?i)\bin\s+([A-Za-z .\-]+)`)
)

var unitToSqft = map[string]float64{
	"sqft": 1.0,
	"sqm":  10.7639,
	"sqyd": 9.0,
	"acre": 43560.0,
}

// ParsePriceINR returns the first rupee amount in text, scaled by its
// unit (Cr/Crore 1e7, Lac/Lakh 1e5, K 1e3).
func ParsePriceINR(text string) *int64 {
	m := priceRegexp.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	val, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return nil
	}

	switch strings.ToLower(m[2]) {
	case "cr", "crore":
		val *= 1e7
	case "lac", "lakh":
		val *= 1e5
	case "k":
		val *= 1e3
	}
	if val > math.MaxInt64 || math.IsNaN(val) {
		return nil
	}
	price := int64(math.Round(val))
	return &price
}

// ParseBHK returns the integer before the first "BHK".
func ParseBHK(text string) *int {
	return firstInt(bhkRegexp, text)
}

// ParseBathrooms returns the integer before the first "Bath".
func ParseBathrooms(text string) *int {
	return firstInt(bathRegexp, text)
}

func firstInt(re *regexp.Regexp, text string) *int {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	return &n
}

// ParseAreaSqft returns the first area in text converted to square feet,
// rounded to 2 decimals.
func ParseAreaSqft(text string) *float64 {
	m := areaRegexp.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	val, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return nil
	}
	area := round2(val * unitToSqft[normUnit(m[2])])
	return &area
}

func normUnit(u string) string {
	u = strings.ToLower(u)
	u = strings.Map(func(r rune) rune {
		if r == '.' || r == ' ' || r == '\t' || r == '\n' {
			return -1
		}
		return r
	}, u)
	switch {
	case strings.HasPrefix(u, "sqm"):
		return "sqm"
	case strings.HasPrefix(u, "sqyd"):
		return "sqyd"
	case strings.HasPrefix(u, "acre"):
		return "acre"
	}
	return "sqft"
}

// GuessCityFromTitle takes the words after "in" in a page title, cut at
// the first "|" or "-".
func GuessCityFromTitle(title string) *string {
	if title == "" {
		return nil
	}
	m := cityRegexp.FindStringSubmatch(title)
	if m == nil {
		return nil
	}
	city := m[1]
	if i := strings.IndexAny(city, "|-"); i >= 0 {
		city = city[:i]
	}
	city = strings.TrimSpace(city)
	if city == "" {
		return nil
	}
	return &city
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
