package ingestion

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"beacon/pkg/locale"
	"beacon/pkg/logging"
)

const (
	// Events may arrive slightly ahead of server time due to clock skew
	maxFutureDrift = time.Minute

	// Events older than this are rejected; offline SDKs are expected to
	// flush within a day
	maxEventAge = 24 * time.Hour

	maxPropKeyLength = 40
)

// Validator rejects malformed, stale or oversized submissions before they
// enter the pipeline. It has no side effects beyond logging.
type Validator struct {
	logger logging.Logger
}

// NewValidator creates a new event validator
func NewValidator(logger logging.Logger) *Validator {
	return &Validator{logger: logger}
}

// Validate checks a submission against the ingestion rules. The first
// failing rule wins. On success the body is normalized in place: the locale
// is canonicalized (or cleared when unparseable) and stringified props are
// replaced with their parsed object form.
func (v *Validator) Validate(body *EventBody, now time.Time) (bool, string) {
	if body == nil {
		return false, "Missing event body."
	}

	if body.Timestamp.After(now.Add(maxFutureDrift)) {
		return false, "Future events are not allowed."
	}

	if body.Timestamp.Before(now.Add(-maxEventAge)) {
		v.logger.WithFields(logging.Fields{
			"timestamp": body.Timestamp,
		}).Warn("Event timestamp is too old")
		return false, "Event is too old."
	}

	// Locale failures are lenient: clear the field and keep the event
	formatted, ok := locale.Format(body.SystemProps.Locale)
	if !ok {
		v.logger.WithFields(logging.Fields{
			"locale":      body.SystemProps.Locale,
			"os_name":     body.SystemProps.OSName,
			"sdk_version": body.SystemProps.SdkVersion,
		}).Warn("Invalid locale received")
	}
	body.SystemProps.Locale = formatted

	if len(body.Props) > 0 && !bytes.Equal(body.Props, []byte("null")) {
		props, ok := parsePropsObject(body.Props)
		if !ok {
			return false, fmt.Sprintf("Props must be an object or a valid stringified JSON, was: %s", body.Props)
		}

		for key, value := range props {
			if strings.TrimSpace(key) == "" {
				return false, "Property key must not be empty."
			}

			// The limit is characters, not bytes; keys may be multi-byte
			if utf8.RuneCountInString(key) > maxPropKeyLength {
				return false, fmt.Sprintf("Property key '%s' must be less than or equal to %d characters. Props was: %s", key, maxPropKeyLength, body.Props)
			}

			switch value.(type) {
			case map[string]interface{}, []interface{}:
				return false, fmt.Sprintf("Value of key '%s' must be a primitive type. Props was: %s", key, body.Props)
			}
		}

		// Re-marshal so stringified submissions become canonical objects
		canonical, err := json.Marshal(props)
		if err != nil {
			return false, fmt.Sprintf("Props must be an object or a valid stringified JSON, was: %s", body.Props)
		}
		body.Props = canonical
	}

	return true, ""
}

// parsePropsObject decodes a props payload into a map, unwrapping one level
// of stringified JSON. Numbers are kept as json.Number so the props split
// can distinguish numeric values without float rounding.
func parsePropsObject(raw json.RawMessage) (map[string]interface{}, bool) {
	value, err := decodeJSONValue(raw)
	if err != nil {
		return nil, false
	}

	// A string payload must itself contain a JSON object
	if s, isString := value.(string); isString {
		value, err = decodeJSONValue([]byte(s))
		if err != nil {
			return nil, false
		}
	}

	obj, isObject := value.(map[string]interface{})
	return obj, isObject
}

func decodeJSONValue(raw []byte) (interface{}, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var value interface{}
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	return value, nil
}
