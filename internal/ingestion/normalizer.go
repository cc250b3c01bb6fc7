package ingestion

import (
	"encoding/json"
	"fmt"

	"beacon/pkg/geoip"
	"beacon/pkg/useragent"
)

// Normalizer derives the final field values of a tracking event from a
// validated submission and request-derived context.
type Normalizer struct{}

// NewNormalizer creates a new event normalizer
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Normalize produces the immutable tracking event for a validated body.
//
// Web SDKs never send the OS name, so a missing OS name marks a browser
// event; its OS and engine fields are filled from the User-Agent header,
// overwriting whatever was submitted. Native SDKs do not send a usable
// User-Agent header, so one is synthesized from the system props.
func (n *Normalizer) Normalize(appID string, loc geoip.Location, clientIP, userAgent string, body *EventBody) TrackingEvent {
	isWeb := body.SystemProps.OSName == ""

	if isWeb && userAgent != "" {
		osName, osVersion := useragent.ParseOperatingSystem(userAgent)
		body.SystemProps.OSName = osName
		body.SystemProps.OSVersion = osVersion

		engineName, engineVersion := useragent.ParseBrowser(userAgent)
		body.SystemProps.EngineName = engineName
		body.SystemProps.EngineVersion = engineVersion
	}

	if !isWeb {
		userAgent = fmt.Sprintf("%s/%s %s/%s %s",
			body.SystemProps.OSName, body.SystemProps.OSVersion,
			body.SystemProps.EngineName, body.SystemProps.EngineVersion,
			body.SystemProps.Locale)
	}

	stringProps, numericProps := splitProps(body.Props)

	return TrackingEvent{
		AppID:          appID,
		EventName:      body.EventName,
		Timestamp:      body.Timestamp.UTC(),
		SessionID:      body.SessionID,
		OSName:         body.SystemProps.OSName,
		OSVersion:      body.SystemProps.OSVersion,
		Locale:         body.SystemProps.Locale,
		AppVersion:     body.SystemProps.AppVersion,
		AppBuildNumber: body.SystemProps.AppBuildNumber,
		EngineName:     body.SystemProps.EngineName,
		EngineVersion:  body.SystemProps.EngineVersion,
		SdkVersion:     body.SystemProps.SdkVersion,
		CountryCode:    loc.CountryCode,
		RegionName:     loc.RegionName,
		ClientIP:       clientIP,
		UserAgent:      userAgent,
		StringProps:    stringProps,
		NumericProps:   numericProps,
		IsDebug:        body.SystemProps.IsDebug,
	}
}

// splitProps partitions a validated props object into numeric-valued and
// string-valued maps, each serialized as compact JSON. The storage engine
// keeps string and numeric properties in separate typed columns.
func splitProps(raw json.RawMessage) (string, string) {
	stringProps := map[string]interface{}{}
	numericProps := map[string]interface{}{}

	if len(raw) > 0 {
		if props, ok := parsePropsObject(raw); ok {
			for key, value := range props {
				if _, isNumber := value.(json.Number); isNumber {
					numericProps[key] = value
					continue
				}
				stringProps[key] = value
			}
		}
	}

	return marshalProps(stringProps), marshalProps(numericProps)
}

func marshalProps(props map[string]interface{}) string {
	b, err := json.Marshal(props)
	if err != nil {
		return "{}"
	}
	return string(b)
}
