package geoip

import (
	"net/http"
	"strings"
)

// Locator resolves a request's location from the MMDB database when one is
// loaded, falling back to trusted proxy headers otherwise.
type Locator struct {
	reader *Reader
}

// NewLocator creates a locator backed by an optional MMDB reader. A nil
// reader is valid and restricts resolution to proxy headers.
func NewLocator(reader *Reader) *Locator {
	return &Locator{reader: reader}
}

// Locate resolves the country code and region name for a request.
func (l *Locator) Locate(r *http.Request, clientIP string) Location {
	if l != nil && l.reader.IsLoaded() {
		if loc := l.reader.Lookup(clientIP); loc.CountryCode != "" {
			return loc
		}
	}

	// CDN-provided headers cover deployments without a local database
	country := strings.ToUpper(strings.TrimSpace(r.Header.Get("CloudFront-Viewer-Country")))
	if country == "" {
		return Location{}
	}

	return Location{
		CountryCode: country,
		RegionName:  strings.TrimSpace(r.Header.Get("CloudFront-Viewer-Country-Region-Name")),
	}
}
