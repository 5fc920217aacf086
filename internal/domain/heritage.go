package domain

import "github.com/shopspring/decimal"

// Heritage is a cultural heritage site.
type Heritage struct {
	ID        int64           `json:"heritage_id"`
	Name      string          `json:"name"`
	Latitude  decimal.Decimal `json:"latitude"`
	Longitude decimal.Decimal `json:"longitude"`
}

// Building is a named structure that belongs to a heritage site.
type Building struct {
	ID         int64           `json:"building_id"`
	HeritageID int64           `json:"heritage_id"`
	Name       string          `json:"name"`
	Latitude   decimal.Decimal `json:"latitude"`
	Longitude  decimal.Decimal `json:"longitude"`
}

// Coordinate is a latitude/longitude pair.
type Coordinate struct {
	Latitude  decimal.Decimal `json:"latitude"`
	Longitude decimal.Decimal `json:"longitude"`
}

// Coordinate returns the building's position.
func (b *Building) Coordinate() Coordinate {
	return Coordinate{Latitude: b.Latitude, Longitude: b.Longitude}
}

// BuildingImage is an ordered image reference for a building.
type BuildingImage struct {
	BuildingID int64  `json:"building_id"`
	URL        string `json:"image_url"`
	Order      int    `json:"image_order"`
}

// Route is a suggested walking course through a heritage site.
type Route struct {
	ID         int64       `json:"route_id"`
	HeritageID int64       `json:"-"`
	Name       string      `json:"name"`
	Buildings  []RouteStop `json:"buildings"`
}

// RouteStop is one building on a route.
type RouteStop struct {
	BuildingID int64      `json:"building_id"`
	Name       string     `json:"name"`
	VisitOrder int        `json:"-"`
	Coordinate Coordinate `json:"coordinate"`
}

// HeritageBundle groups a heritage site with everything attached to it, as used for seeding.
type HeritageBundle struct {
	Heritage  Heritage
	Buildings []Building
	Images    []BuildingImage
	Routes    []Route
}
