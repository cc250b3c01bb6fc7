// Package geoip provides MMDB-based IP geolocation for ingestion enrichment
//
// Supports multiple MMDB providers:
// - MaxMind GeoLite2 (requires license key from user)
// - DB-IP Lite (CC BY 4.0, redistributable)
// - IP2Location LITE (CC BY-SA 4.0, redistributable)
//
// Usage:
//
//	reader, err := geoip.NewReader("/path/to/database.mmdb")
//	if err != nil {
//	    // GeoIP disabled - handle gracefully
//	    return
//	}
//	defer reader.Close()
//
//	loc := reader.Lookup("8.8.8.8")
package geoip

import (
	"net"
	"strings"

	"github.com/oschwald/geoip2-golang"
)

// Location holds the country and region resolved for a client IP
type Location struct {
	CountryCode string `json:"country_code,omitempty"`
	RegionName  string `json:"region_name,omitempty"`
}

// Reader provides IP geolocation lookups using MMDB databases
type Reader struct {
	db     *geoip2.Reader
	dbPath string
}

// NewReader creates a new GeoIP reader from an MMDB file
//
// Returns nil, nil if the file doesn't exist (graceful degradation)
// Returns nil, error if the file exists but can't be opened
func NewReader(mmdbPath string) (*Reader, error) {
	if mmdbPath == "" {
		return nil, nil // No database path provided
	}

	db, err := geoip2.Open(mmdbPath)
	if err != nil {
		// Check if file doesn't exist vs other errors
		if strings.Contains(err.Error(), "no such file") || strings.Contains(err.Error(), "cannot find") {
			return nil, nil // File doesn't exist - graceful degradation
		}
		return nil, err // Real error opening file
	}

	return &Reader{
		db:     db,
		dbPath: mmdbPath,
	}, nil
}

// Lookup resolves a country code and region name for the given IP address
//
// Returns an empty Location if:
// - No database is loaded
// - IP is invalid
// - IP is not found in database
// - IP is a private/local address
func (r *Reader) Lookup(ipStr string) Location {
	if r == nil || r.db == nil {
		return Location{}
	}

	// Handle "ip:port" format by extracting just the IP
	host, _, err := net.SplitHostPort(ipStr)
	if err != nil {
		host = ipStr // Assume it's already just an IP
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return Location{}
	}

	// Skip private/local IPs (they won't be in geo databases anyway)
	if isPrivateIP(ip) {
		return Location{}
	}

	record, err := r.db.City(ip)
	if err != nil {
		return Location{}
	}

	loc := Location{CountryCode: record.Country.IsoCode}
	if len(record.Subdivisions) > 0 {
		loc.RegionName = record.Subdivisions[0].Names["en"]
	}

	return loc
}

// isPrivateIP checks if an IP address is private/local
func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	return ip.IsPrivate()
}

// GetDatabasePath returns the path to the loaded database file
func (r *Reader) GetDatabasePath() string {
	if r == nil {
		return ""
	}
	return r.dbPath
}

// Close closes the underlying database
func (r *Reader) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// IsLoaded returns true if a database is successfully loaded
func (r *Reader) IsLoaded() bool {
	return r != nil && r.db != nil
}
