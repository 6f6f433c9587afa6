// Package seed loads station and pollutant reference data from YAML or TOML
// files and upserts it into a store.
package seed

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/airwatch/airwatch/internal/airquality"
)

// Format is a seed file encoding.
type Format string

// Supported formats.
const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// Seed errors.
var (
	ErrUnsupportedFormat = errors.New("unsupported seed file format")
	ErrInvalidSeed       = errors.New("invalid seed data")
)

// File is the content of a seed file.
type File struct {
	Stations   []Station   `yaml:"stations" toml:"stations"`
	Pollutants []Pollutant `yaml:"pollutants" toml:"pollutants"`
}

// Station is a station entry.
type Station struct {
	Name       string  `yaml:"name" toml:"name"`
	Latitude   float64 `yaml:"latitude" toml:"latitude"`
	Longitude  float64 `yaml:"longitude" toml:"longitude"`
	ExternalID int64   `yaml:"external_id" toml:"external_id"`
}

// Pollutant is a pollutant entry. IsPollutant defaults to true.
type Pollutant struct {
	FullName    string `yaml:"full_name" toml:"full_name"`
	ShortName   string `yaml:"short_name" toml:"short_name"`
	Description string `yaml:"description" toml:"description"`
	WaqiName    string `yaml:"waqi_name" toml:"waqi_name"`
	IsPollutant *bool  `yaml:"is_pollutant" toml:"is_pollutant"`
	Unit        string `yaml:"unit" toml:"unit"`
}

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// Load reads and validates the seed file at path.
func Load(path string) (*File, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return Parse(raw, format)
}

// Parse decodes and validates seed data.
func Parse(raw []byte, format Format) (*File, error) {
	var f File
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("decode yaml seed: %w", err)
		}
	case FormatTOML:
		if err := toml.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("decode toml seed: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks required fields, coordinate ranges and duplicate keys.
func (f *File) Validate() error {
	var errs []error

	externalIDs := make(map[int64]bool, len(f.Stations))
	for i, s := range f.Stations {
		if strings.TrimSpace(s.Name) == "" {
			errs = append(errs, fmt.Errorf("stations[%d]: name is required", i))
		}
		if s.Latitude < -90 || s.Latitude > 90 {
			errs = append(errs, fmt.Errorf("stations[%d]: latitude %v out of range", i, s.Latitude))
		}
		if s.Longitude < -180 || s.Longitude > 180 {
			errs = append(errs, fmt.Errorf("stations[%d]: longitude %v out of range", i, s.Longitude))
		}
		if s.ExternalID <= 0 {
			errs = append(errs, fmt.Errorf("stations[%d]: external_id must be positive", i))
		}
		if externalIDs[s.ExternalID] {
			errs = append(errs, fmt.Errorf("stations[%d]: duplicate external_id %d", i, s.ExternalID))
		}
		externalIDs[s.ExternalID] = true
	}

	names := make(map[string]bool, len(f.Pollutants))
	for i, p := range f.Pollutants {
		if p.WaqiName == "" {
			errs = append(errs, fmt.Errorf("pollutants[%d]: waqi_name is required", i))
		}
		if p.FullName == "" || p.ShortName == "" {
			errs = append(errs, fmt.Errorf("pollutants[%d]: full_name and short_name are required", i))
		}
		if names[p.WaqiName] {
			errs = append(errs, fmt.Errorf("pollutants[%d]: duplicate waqi_name %q", i, p.WaqiName))
		}
		names[p.WaqiName] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidSeed, errors.Join(errs...))
	}
	return nil
}

// Summary counts the rows written by Apply.
type Summary struct {
	Stations   int
	Pollutants int
}

// Apply upserts every pollutant and station in f.
func Apply(ctx context.Context, w airquality.Writer, f *File, logger zerolog.Logger) (Summary, error) {
	var summary Summary

	for _, entry := range f.Pollutants {
		isPollutant := true
		if entry.IsPollutant != nil {
			isPollutant = *entry.IsPollutant
		}
		p := airquality.Pollutant{
			FullName:     entry.FullName,
			ShortName:    entry.ShortName,
			Description:  entry.Description,
			ExternalName: entry.WaqiName,
			IsPollutant:  isPollutant,
			Unit:         entry.Unit,
		}
		if err := w.UpsertPollutant(ctx, &p); err != nil {
			return summary, fmt.Errorf("upsert pollutant %q: %w", entry.WaqiName, err)
		}
		logger.Debug().Int64("pollutant_id", p.ID).Str("waqi_name", p.ExternalName).Msg("pollutant seeded")
		summary.Pollutants++
	}

	for _, entry := range f.Stations {
		s := airquality.Station{
			Name:       entry.Name,
			Latitude:   entry.Latitude,
			Longitude:  entry.Longitude,
			ExternalID: entry.ExternalID,
		}
		if err := w.UpsertStation(ctx, &s); err != nil {
			return summary, fmt.Errorf("upsert station %d: %w", entry.ExternalID, err)
		}
		logger.Debug().Int64("station_id", s.ID).Int64("external_id", s.ExternalID).Msg("station seeded")
		summary.Stations++
	}

	logger.Info().
		Int("stations", summary.Stations).
		Int("pollutants", summary.Pollutants).
		Msg("seed applied")

	return summary, nil
}
