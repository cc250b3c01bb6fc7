// Package useragent extracts operating system and browser engine details
// from raw User-Agent headers sent by web SDKs.
package useragent

import (
	ua "github.com/mileusna/useragent"
)

// ParseOperatingSystem returns the OS name and version from a raw header.
// Unknown agents yield empty strings.
func ParseOperatingSystem(header string) (string, string) {
	if header == "" {
		return "", ""
	}
	parsed := ua.Parse(header)
	return parsed.OS, parsed.OSVersion
}

// ParseBrowser returns the browser name and version from a raw header.
// Unknown agents yield empty strings.
func ParseBrowser(header string) (string, string) {
	if header == "" {
		return "", ""
	}
	parsed := ua.Parse(header)
	return parsed.Name, parsed.Version
}
