package config

import (
	"os"
	"strings"
)

func envTruthy(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return def
	}
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// LotSerialControlEnabled mirrors the site-wide LotSerialControl metric.
// When disabled, distribution only resolves locations.
//
// Set via env:
// - LOT_SERIAL_CONTROL=false
func LotSerialControlEnabled() bool {
	return envTruthy("LOT_SERIAL_CONTROL", true)
}

// DebugItemlocDist enables verbose tracing of series adjustment.
//
// Set via env:
// - DEBUG_ITEMLOC_DIST=true
func DebugItemlocDist() bool {
	return envTruthy("DEBUG_ITEMLOC_DIST", false)
}

// SeriesSequenceBackend selects the series id source: "redis" or "db" (default).
func SeriesSequenceBackend() string {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("SERIES_SEQUENCE")))
	if v == "redis" {
		return "redis"
	}
	return "db"
}
