package ingestion

import (
	"encoding/json"
	"time"
)

// SystemProps carries the SDK-reported system properties of a submission.
// Web SDKs leave OSName empty; native SDKs always populate it.
type SystemProps struct {
	IsDebug        bool   `json:"isDebug"`
	OSName         string `json:"osName"`
	OSVersion      string `json:"osVersion"`
	Locale         string `json:"locale"`
	AppVersion     string `json:"appVersion"`
	AppBuildNumber string `json:"appBuildNumber"`
	SdkVersion     string `json:"sdkVersion"`
	EngineName     string `json:"engineName"`
	EngineVersion  string `json:"engineVersion"`
}

// EventBody is the wire-level event submission. It lives only for the
// duration of one request; validation mutates it in place (canonical
// locale, reparsed props) before normalization.
type EventBody struct {
	Timestamp   time.Time       `json:"timestamp"`
	SessionID   string          `json:"sessionId"`
	EventName   string          `json:"eventName"`
	SystemProps SystemProps     `json:"systemProps"`
	Props       json.RawMessage `json:"props,omitempty"`
}

// TrackingEvent is the immutable normalized record handed to the buffer.
// All string fields are non-null; absent values are empty strings so the
// backend schema stays non-nullable.
type TrackingEvent struct {
	AppID          string    `json:"app_id"`
	EventName      string    `json:"event_name"`
	Timestamp      time.Time `json:"timestamp"`
	SessionID      string    `json:"session_id"`
	OSName         string    `json:"os_name"`
	OSVersion      string    `json:"os_version"`
	Locale         string    `json:"locale"`
	AppVersion     string    `json:"app_version"`
	AppBuildNumber string    `json:"app_build_number"`
	EngineName     string    `json:"engine_name"`
	EngineVersion  string    `json:"engine_version"`
	SdkVersion     string    `json:"sdk_version"`
	CountryCode    string    `json:"country_code"`
	RegionName     string    `json:"region_name"`
	ClientIP       string    `json:"client_ip_address"`
	UserAgent      string    `json:"user_agent"`
	StringProps    string    `json:"string_props"`
	NumericProps   string    `json:"numeric_props"`
	IsDebug        bool      `json:"is_debug"`
}
