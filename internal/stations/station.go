// Package stations keeps the local registry of stations and their export
// folders, and refreshes it from the station API.
package stations

import "errors"

var (
	// ErrNotFound is returned when a station id is not in the registry.
	ErrNotFound = errors.New("station not found")

	// ErrAPI wraps errors reported by the station API itself.
	ErrAPI = errors.New("station API error")
)

// Station is a managed remote media endpoint. ExportPath is the local
// directory schedule exports are written to; empty means exports for the
// station are skipped.
type Station struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	ExportPath string `json:"exportPath"`
}
