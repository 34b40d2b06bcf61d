// Package geoip wraps a MaxMind GeoIP2/GeoLite2 database reader, providing
// the country_iso(ip) -> option<string> interface the AAAA resolution
// rule's @country directive depends on.
package geoip

import (
	"net"

	"github.com/oschwald/maxminddb-golang"
	"github.com/pkg/errors"
)

// DB looks up the ISO 3166-1 alpha-2 country code for an IP address.
type DB struct {
	reader *maxminddb.Reader
}

// Open loads a MaxMind mmdb file.
func Open(path string) (*DB, error) {
	reader, err := maxminddb.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening geoip database")
	}
	return &DB{reader: reader}, nil
}

// Close releases the underlying mmap'd database file.
func (db *DB) Close() error {
	return db.reader.Close()
}

// CountryISO returns the two-letter ISO country code for ip, or ("", false)
// if the address isn't found in the database.
func (db *DB) CountryISO(ip net.IP) (string, bool) {
	var record struct {
		Country struct {
			ISOCode string `maxminddb:"iso_code"`
		} `maxminddb:"country"`
	}
	if err := db.reader.Lookup(ip, &record); err != nil {
		return "", false
	}
	if record.Country.ISOCode == "" {
		return "", false
	}
	return record.Country.ISOCode, true
}
