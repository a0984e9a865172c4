// Package geo is a thin, pure lookup wrapper around a local MaxMind-format
// database. Per spec.md §4.1, geolocation failure is never an error — it
// just means the descriptor's Geo field stays absent.
package geo

import (
	"net"
	"sync"

	"github.com/oschwald/geoip2-golang"
)

// Location is the subset of geoip2's City record cloakgate cares about.
type Location struct {
	Country string
	Region  string
	City    string
	Lat     float64
	Lon     float64
}

// Lookuper resolves an IP to a Location. A nil return means "absent", not
// an error — callers never branch on err from Lookup itself.
type Lookuper interface {
	Lookup(ip net.IP) *Location
	Close() error
}

// mmdbLookuper wraps an open geoip2.Reader against an mmdb file.
type mmdbLookuper struct {
	mu     sync.RWMutex
	reader *geoip2.Reader
}

// Open loads a MaxMind City database from path. An empty path yields a
// NoopLookuper, so running without a database is allowed; a path that
// cannot be opened is returned as an error.
func Open(path string) (Lookuper, error) {
	if path == "" {
		return NoopLookuper{}, nil
	}
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}
	return &mmdbLookuper{reader: reader}, nil
}

func (m *mmdbLookuper) Lookup(ip net.IP) *Location {
	if ip == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, err := m.reader.City(ip)
	if err != nil || record == nil {
		return nil
	}
	if record.Country.IsoCode == "" && len(record.City.Names) == 0 {
		return nil
	}

	loc := &Location{
		Country: record.Country.IsoCode,
		Lat:     record.Location.Latitude,
		Lon:     record.Location.Longitude,
	}
	if len(record.Subdivisions) > 0 {
		loc.Region = record.Subdivisions[0].IsoCode
	}
	if name, ok := record.City.Names["en"]; ok {
		loc.City = name
	}
	return loc
}

func (m *mmdbLookuper) Close() error { return m.reader.Close() }

// NoopLookuper is used when no GeoIP database is configured.
type NoopLookuper struct{}

func (NoopLookuper) Lookup(net.IP) *Location { return nil }
func (NoopLookuper) Close() error            { return nil }
