package geo

import "strings"

// Location is the best-effort geolocation of an address. Both fields may be
// nil; the zero value is a valid, cacheable result.
type Location struct {
	Country *string `json:"country"`
	City    *string `json:"city"`
}

// NewLocation builds a Location, mapping empty names to nil.
func NewLocation(country, city string) Location {
	return Location{
		Country: optionalName(country),
		City:    optionalName(city),
	}
}

func (l Location) IsEmpty() bool {
	return l.Country == nil && l.City == nil
}

func optionalName(name string) *string {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	return &name
}
