package useragent

import "testing"

const (
	chromeMacUA   = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36"
	firefoxWinUA  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:109.0) Gecko/20100101 Firefox/119.0"
	safariPhoneUA = "Mozilla/5.0 (iPhone; CPU iPhone OS 16_6 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.6 Mobile/15E148 Safari/604.1"
)

func TestParseOperatingSystem(t *testing.T) {
	cases := []struct {
		name      string
		header    string
		osName    string
		osVersion string
	}{
		{name: "chrome on macos", header: chromeMacUA, osName: "macOS", osVersion: "10.15.7"},
		{name: "firefox on windows", header: firefoxWinUA, osName: "Windows", osVersion: "10.0"},
		{name: "safari on ios", header: safariPhoneUA, osName: "iOS", osVersion: "16.6"},
		{name: "empty header", header: "", osName: "", osVersion: ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			osName, osVersion := ParseOperatingSystem(tc.header)
			if osName != tc.osName || osVersion != tc.osVersion {
				t.Fatalf("ParseOperatingSystem() = (%q, %q), want (%q, %q)", osName, osVersion, tc.osName, tc.osVersion)
			}
		})
	}
}

func TestParseBrowser(t *testing.T) {
	cases := []struct {
		name    string
		header  string
		browser string
	}{
		{name: "chrome", header: chromeMacUA, browser: "Chrome"},
		{name: "firefox", header: firefoxWinUA, browser: "Firefox"},
		{name: "safari", header: safariPhoneUA, browser: "Safari"},
		{name: "empty header", header: "", browser: ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			browser, version := ParseBrowser(tc.header)
			if browser != tc.browser {
				t.Fatalf("ParseBrowser() name = %q, want %q", browser, tc.browser)
			}
			if tc.header != "" && version == "" {
				t.Fatalf("expected non-empty version for %q", tc.name)
			}
		})
	}
}
