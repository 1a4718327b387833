package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Site describes the crawl target: where to start, which URLs count as
// index pages and which elements hold listing cards.
type Site struct {
	Source        string   `yaml:"source"`
	BaseURL       string   `yaml:"base_url"`
	Seeds         []string `yaml:"seeds"`
	IndexPatterns []string `yaml:"index_patterns"`
	CardSelectors []string `yaml:"card_selectors"`
	MaxPages      int      `yaml:"max_pages"`
}

// DefaultSite returns the built-in magicbricks profile. MB_BASE overrides
// the base URL.
func DefaultSite() Site {
	return Site{
		Source:  "magicbricks",
		BaseURL: getEnv("MB_BASE", "https://www.magicbricks.com"),
		Seeds: []string{
			"https://www.magicbricks.com/property-for-sale-in-mumbai-pppfs",
			"https://www.magicbricks.com/property-for-rent-in-mumbai-pppfr",
			"https://www.magicbricks.com/property-for-sale-in-pune-pppfs",
			"https://www.magicbricks.com/property-for-rent-in-pune-pppfr",
		},
		IndexPatterns: []string{
			"/property-for-sale-in-",
			"/property-for-rent-in-",
			"/flats-for-sale-in-",
			"/flats-for-rent-in-",
		},
		CardSelectors: []string{
			".mb-srp__card",
			".mb-srp-card",
			".mb-srp__list",
			".mb-srp__property-card",
		},
	}
}

// LoadSite reads a YAML site profile from path and layers it over the
// defaults. An empty path returns the defaults unchanged.
func LoadSite(path string) (Site, error) {
	site := DefaultSite()
	if path == "" {
		return site, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return site, fmt.Errorf("config: read site file %q: %w", path, err)
	}

	var override Site
	if err := yaml.Unmarshal(data, &override); err != nil {
		return site, fmt.Errorf("config: parse site file %q: %w", path, err)
	}

	if override.Source != "" {
		site.Source = override.Source
	}
	if override.BaseURL != "" {
		site.BaseURL = override.BaseURL
	}
	if len(override.Seeds) > 0 {
		site.Seeds = override.Seeds
	}
	if len(override.IndexPatterns) > 0 {
		site.IndexPatterns = override.IndexPatterns
	}
	if len(override.CardSelectors) > 0 {
		site.CardSelectors = override.CardSelectors
	}
	if override.MaxPages > 0 {
		site.MaxPages = override.MaxPages
	}
	return site, nil
}
