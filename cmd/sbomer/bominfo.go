package main

import (
	"encoding/json"
	"strings"
)

// bomInfo is what upload can read out of a BOM document on its own.
type bomInfo struct {
	Name    string
	Version string
	Purl    string
	Format  string
}

// inspectBOM recognizes CycloneDX (metadata.component) and SPDX (name)
// documents. Unknown shapes yield an empty bomInfo.
func inspectBOM(raw []byte) bomInfo {
	var doc struct {
		BOMFormat   string `json:"bomFormat"`
		SPDXVersion string `json:"spdxVersion"`
		Name        string `json:"name"`
		Metadata    struct {
			Component struct {
				Name    string `json:"name"`
				Version string `json:"version"`
				Purl    string `json:"purl"`
			} `json:"component"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return bomInfo{}
	}

	switch {
	case strings.EqualFold(doc.BOMFormat, "CycloneDX"):
		c := doc.Metadata.Component
		return bomInfo{Name: c.Name, Version: c.Version, Purl: c.Purl, Format: "cyclonedx"}
	case doc.SPDXVersion != "":
		return bomInfo{Name: doc.Name, Format: "spdx"}
	}
	return bomInfo{}
}
