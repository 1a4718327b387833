package services

import (
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"

	"estate-crawler/models"
	"estate-crawler/utils"
)

const bestValueCount = 5

type InsightService struct {
	logger *utils.Logger
	out    io.Writer
}

func NewInsightService(logger *utils.Logger) *InsightService {
	return &InsightService{logger: logger, out: os.Stdout}
}

// Generate summarises cleaned listings already loaded from ods_listings.
func (s *InsightService) Generate(listings []*models.CleanedListing) *models.InsightReport {
	report := &models.InsightReport{
		ListingsByCity: make(map[string]int),
		AvgPriceByBHK:  make(map[int]float64),
	}

	if len(listings) == 0 {
		return report
	}

	report.TotalListings = len(listings)

	prices := make([]float64, 0, len(listings))
	var perSqftTotal float64
	var perSqftCount int
	var withPerSqft []*models.CleanedListing
	bhkTotals := make(map[int]float64)
	bhkCounts := make(map[int]int)

	report.MinPrice = listings[0].PriceINR
	for _, l := range listings {
		prices = append(prices, float64(l.PriceINR))
		if l.PriceINR < report.MinPrice {
			report.MinPrice = l.PriceINR
		}
		if report.MostExpensive == nil || l.PriceINR > report.MaxPrice {
			report.MaxPrice = l.PriceINR
			report.MostExpensive = l
		}
		if l.PricePerSqft != nil {
			perSqftTotal += *l.PricePerSqft
			perSqftCount++
			withPerSqft = append(withPerSqft, l)
		}
		if l.City != nil {
			report.ListingsByCity[*l.City]++
		}
		bhkTotals[l.BHK] += float64(l.PriceINR)
		bhkCounts[l.BHK]++
	}

	report.MedianPrice, _ = median(prices)
	if perSqftCount > 0 {
		report.AvgPricePerSqft = round2(perSqftTotal / float64(perSqftCount))
	}
	for bhk, total := range bhkTotals {
		report.AvgPriceByBHK[bhk] = round2(total / float64(bhkCounts[bhk]))
	}

	// Lowest price per sqft first
	sort.SliceStable(withPerSqft, func(i, j int) bool {
		return *withPerSqft[i].PricePerSqft < *withPerSqft[j].PricePerSqft
	})
	if len(withPerSqft) > bestValueCount {
		withPerSqft = withPerSqft[:bestValueCount]
	}
	report.BestValue = withPerSqft

	s.logger.Debug("[insights] Summarised %d listings across %d cities", report.TotalListings, len(report.ListingsByCity))
	return report
}

func (s *InsightService) Print(r *models.InsightReport) {
	w := s.out
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n", sep)
	fmt.Fprintf(w, "\033[1;35m  📊 LISTING INSIGHTS (ods_listings)\033[0m\n")
	fmt.Fprintf(w, "\033[1;35m%s\033[0m\n\n", sep)

	// Overview
	fmt.Fprintf(w, "\033[1;33m  Overview\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  Cleaned listings : \033[1m%d\033[0m\n", r.TotalListings)
	fmt.Fprintf(w, "  Cities           : \033[1m%d\033[0m\n", len(r.ListingsByCity))
	fmt.Fprintln(w)

	// Price Stats
	fmt.Fprintf(w, "\033[1;33m  Price Statistics (INR)\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if r.TotalListings > 0 {
		fmt.Fprintf(w, "  Minimum price     : \033[1;32m₹%s\033[0m\n", formatINR(float64(r.MinPrice)))
		fmt.Fprintf(w, "  Median price      : \033[1;32m₹%s\033[0m\n", formatINR(r.MedianPrice))
		fmt.Fprintf(w, "  Maximum price     : \033[1;32m₹%s\033[0m\n", formatINR(float64(r.MaxPrice)))
		fmt.Fprintf(w, "  Avg price / sqft  : \033[1;32m₹%.2f\033[0m\n", r.AvgPricePerSqft)
	} else {
		fmt.Fprintf(w, "  No price data available\n")
	}
	fmt.Fprintln(w)

	if r.MostExpensive != nil {
		fmt.Fprintf(w, "\033[1;33m  Most Expensive Listing\033[0m\n")
		fmt.Fprintf(w, "  %s\n", thin)
		fmt.Fprintf(w, "  %s\n", truncate(deref(r.MostExpensive.Title, r.MostExpensive.SourceID), 50))
		fmt.Fprintf(w, "  City  : %s\n", deref(r.MostExpensive.City, "unknown"))
		fmt.Fprintf(w, "  Price : \033[1;31m₹%s\033[0m\n", formatINR(float64(r.MostExpensive.PriceINR)))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "\033[1;33m  Best Value (lowest ₹/sqft)\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if len(r.BestValue) == 0 {
		fmt.Fprintf(w, "  No listings with area data\n")
	} else {
		for i, l := range r.BestValue {
			title := truncate(deref(l.Title, l.SourceID), 38)
			fmt.Fprintf(w, "  \033[1m%d.\033[0m %-40s \033[1;32m₹%.2f/sqft\033[0m\n",
				i+1, title, *l.PricePerSqft)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "\033[1;33m  Average Price by BHK\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	bhks := make([]int, 0, len(r.AvgPriceByBHK))
	for bhk := range r.AvgPriceByBHK {
		bhks = append(bhks, bhk)
	}
	sort.Ints(bhks)
	for _, bhk := range bhks {
		fmt.Fprintf(w, "  %d BHK %-10s ₹%s\n", bhk, "", formatINR(r.AvgPriceByBHK[bhk]))
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "\033[1;33m  Listings by City\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if len(r.ListingsByCity) == 0 {
		fmt.Fprintf(w, "  No city data\n")
	} else {
		type cityCount struct {
			city  string
			count int
		}
		var cities []cityCount
		for city, cnt := range r.ListingsByCity {
			cities = append(cities, cityCount{city, cnt})
		}
		sort.Slice(cities, func(i, j int) bool {
			if cities[i].count != cities[j].count {
				return cities[i].count > cities[j].count
			}
			return cities[i].city < cities[j].city
		})
		for _, cc := range cities {
			bar := strings.Repeat("█", min(cc.count, 40))
			fmt.Fprintf(w, "  %-30s %s (%d)\n", truncate(cc.city, 28), bar, cc.count)
		}
	}

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n\n", sep)
}

// formatINR renders whole rupees in lakh/crore units where they apply.
func formatINR(v float64) string {
	switch {
	case v >= 1e7:
		return fmt.Sprintf("%.2f Cr", v/1e7)
	case v >= 1e5:
		return fmt.Sprintf("%.2f Lac", v/1e5)
	default:
		return fmt.Sprintf("%.0f", v)
	}
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

func deref(s *string, fallback string) string {
	if s == nil || *s == "" {
		return fallback
	}
	return *s
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
