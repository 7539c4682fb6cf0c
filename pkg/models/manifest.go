package models

import "time"

// Manifest is the listing record of a stored SBOM. The BOM document itself
// is served separately through the /bom endpoint.
type Manifest struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Version string    `json:"version,omitempty"`
	Purl    string    `json:"purl,omitempty"`
	Format  string    `json:"format,omitempty"` // "cyclonedx", "spdx"
	Created time.Time `json:"created"`
}
