package climate

import (
	"github.com/twpayne/go-geom"
)

// Region is a named area with a lon/lat bounding box.
type Region struct {
	Name    string
	Country string
	bounds  *geom.Bounds
}

// NewRegion builds a region from its bounding box in degrees.
func NewRegion(name, country string, minLat, minLng, maxLat, maxLng float64) Region {
	return Region{
		Name:    name,
		Country: country,
		bounds:  geom.NewBounds(geom.XY).Set(minLng, minLat, maxLng, maxLat),
	}
}

// Contains reports whether (lat, lng) lies within or on the region's box.
func (r Region) Contains(lat, lng float64) bool {
	return r.bounds.OverlapsPoint(geom.XY, geom.Coord{lng, lat})
}

// RegionCatalog resolves coordinates to known lending regions.
type RegionCatalog struct {
	regions []Region
}

// NewRegionCatalog returns a catalog over regions. Earlier regions win when
// boxes overlap.
func NewRegionCatalog(regions ...Region) *RegionCatalog {
	return &RegionCatalog{regions: regions}
}

// DefaultRegions returns the built-in catalog of pilot regions.
func DefaultRegions() *RegionCatalog {
	return NewRegionCatalog(
		NewRegion("Sylhet", "Bangladesh", 24.0, 90.9, 25.4, 92.6),
		NewRegion("Nyeri", "Kenya", -0.8, 36.5, -0.05, 37.4),
		NewRegion("Cusco", "Peru", -14.5, -73.5, -12.5, -70.5),
		NewRegion("Bihar", "India", 24.3, 83.3, 27.5, 88.3),
		NewRegion("Mekong Delta", "Vietnam", 8.5, 104.4, 11.0, 106.8),
		NewRegion("Kano", "Nigeria", 11.0, 7.5, 13.0, 9.5),
	)
}

// Lookup returns the first region containing (lat, lng).
func (c *RegionCatalog) Lookup(lat, lng float64) (Region, bool) {
	if c == nil {
		return Region{}, false
	}
	for _, r := range c.regions {
		if r.Contains(lat, lng) {
			return r, true
		}
	}
	return Region{}, false
}
