package store

import (
	"context"
	"fmt"
	"os"

	"github.com/ashureev/heritage-guide/internal/domain"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

type seedFile struct {
	Heritages []seedHeritage `yaml:"heritages"`
}

type seedHeritage struct {
	ID        int64          `yaml:"id"`
	Name      string         `yaml:"name"`
	Latitude  string         `yaml:"latitude"`
	Longitude string         `yaml:"longitude"`
	Buildings []seedBuilding `yaml:"buildings"`
	Routes    []seedRoute    `yaml:"routes"`
}

type seedBuilding struct {
	ID        int64    `yaml:"id"`
	Name      string   `yaml:"name"`
	Latitude  string   `yaml:"latitude"`
	Longitude string   `yaml:"longitude"`
	Images    []string `yaml:"images"`
}

type seedRoute struct {
	ID        int64   `yaml:"id"`
	Name      string  `yaml:"name"`
	Buildings []int64 `yaml:"buildings"`
}

// LoadSeedFile reads heritage fixtures from a YAML file.
func LoadSeedFile(path string) ([]domain.HeritageBundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes heritage fixtures. Coordinates are decimal strings.
func ParseSeed(data []byte) ([]domain.HeritageBundle, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode seed file: %w", err)
	}

	bundles := make([]domain.HeritageBundle, 0, len(f.Heritages))
	for _, h := range f.Heritages {
		if h.ID == 0 || h.Name == "" {
			return nil, fmt.Errorf("heritage entries need an id and a name")
		}
		lat, lng, err := parseCoordinate(h.Latitude, h.Longitude)
		if err != nil {
			return nil, fmt.Errorf("heritage %d: %w", h.ID, err)
		}
		bundle := domain.HeritageBundle{
			Heritage: domain.Heritage{ID: h.ID, Name: h.Name, Latitude: lat, Longitude: lng},
		}

		names := make(map[int64]domain.Building, len(h.Buildings))
		for _, b := range h.Buildings {
			lat, lng, err := parseCoordinate(b.Latitude, b.Longitude)
			if err != nil {
				return nil, fmt.Errorf("building %d: %w", b.ID, err)
			}
			building := domain.Building{ID: b.ID, HeritageID: h.ID, Name: b.Name, Latitude: lat, Longitude: lng}
			bundle.Buildings = append(bundle.Buildings, building)
			names[b.ID] = building
			for i, url := range b.Images {
				bundle.Images = append(bundle.Images, domain.BuildingImage{BuildingID: b.ID, URL: url, Order: i + 1})
			}
		}

		for _, r := range h.Routes {
			route := domain.Route{ID: r.ID, HeritageID: h.ID, Name: r.Name}
			for i, id := range r.Buildings {
				b, ok := names[id]
				if !ok {
					return nil, fmt.Errorf("route %d references unknown building %d", r.ID, id)
				}
				route.Buildings = append(route.Buildings, domain.RouteStop{
					BuildingID: id,
					Name:       b.Name,
					VisitOrder: i + 1,
					Coordinate: b.Coordinate(),
				})
			}
			bundle.Routes = append(bundle.Routes, route)
		}
		bundles = append(bundles, bundle)
	}
	return bundles, nil
}

func parseCoordinate(lat, lng string) (decimal.Decimal, decimal.Decimal, error) {
	if lat == "" {
		lat = "0"
	}
	if lng == "" {
		lng = "0"
	}
	la, err := decimal.NewFromString(lat)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("invalid latitude %q: %w", lat, err)
	}
	lo, err := decimal.NewFromString(lng)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("invalid longitude %q: %w", lng, err)
	}
	return la, lo, nil
}

// Seed saves every bundle into repo.
func Seed(ctx context.Context, repo Repository, bundles []domain.HeritageBundle) error {
	for i := range bundles {
		if err := repo.SaveHeritage(ctx, &bundles[i]); err != nil {
			return fmt.Errorf("seed heritage %d: %w", bundles[i].Heritage.ID, err)
		}
	}
	return nil
}
