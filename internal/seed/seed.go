// Package seed loads reference data from a YAML file and reconciles it into
// the dimension tables.
//
// Seeding is additive and idempotent: locations are upserted on their natural
// key, pages are inserted only when no current row exists for their title.
// Seeded pages receive synthetic negative external IDs until the external API
// supplies real ones.
package seed

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Sentinel errors for seed loading and validation.
var (
	// ErrSeedFileUnreadable is returned when the seed file cannot be opened
	// or parsed.
	ErrSeedFileUnreadable = errors.New("seed file unreadable")

	// ErrInvalidSeedEntry is returned when a seed entry fails validation.
	ErrInvalidSeedEntry = errors.New("invalid seed entry")
)

type (
	// File is the parsed form of a seed YAML file.
	File struct {
		Locations []LocationEntry `yaml:"locations"`
		Pages     []PageEntry     `yaml:"pages"`
	}

	// LocationEntry describes one location to upsert.
	LocationEntry struct {
		Name      string  `yaml:"name"`
		Latitude  float64 `yaml:"latitude"`
		Longitude float64 `yaml:"longitude"`
		Country   string  `yaml:"country"`
		Region    string  `yaml:"region"`
		City      string  `yaml:"city"`
	}

	// PageEntry describes one page to track. Language defaults to "en" when
	// omitted.
	PageEntry struct {
		Title     string `yaml:"title"`
		Language  string `yaml:"language"`
		Namespace int    `yaml:"namespace"`
	}
)

// Load reads and validates a seed file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSeedFileUnreadable, err)
	}

	return Parse(data)
}

// Parse decodes and validates seed YAML.
func Parse(data []byte) (*File, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSeedFileUnreadable, err)
	}

	for i := range file.Pages {
		if file.Pages[i].Language == "" {
			file.Pages[i].Language = "en"
		}
	}

	if err := file.validate(); err != nil {
		return nil, err
	}

	return &file, nil
}

func (f *File) validate() error {
	for i, loc := range f.Locations {
		if loc.Name == "" {
			return fmt.Errorf("%w: locations[%d]: name is required", ErrInvalidSeedEntry, i)
		}

		if loc.Latitude < -90 || loc.Latitude > 90 {
			return fmt.Errorf("%w: locations[%d] %q: latitude %v out of range", ErrInvalidSeedEntry, i, loc.Name, loc.Latitude)
		}

		if loc.Longitude < -180 || loc.Longitude > 180 {
			return fmt.Errorf("%w: locations[%d] %q: longitude %v out of range", ErrInvalidSeedEntry, i, loc.Name, loc.Longitude)
		}
	}

	for i, page := range f.Pages {
		if page.Title == "" {
			return fmt.Errorf("%w: pages[%d]: title is required", ErrInvalidSeedEntry, i)
		}
	}

	return nil
}
