package models

import "time"

const (
	EventManifestCreated = "manifest.created"
	EventManifestDeleted = "manifest.deleted"
)

type ManifestEvent struct {
	Type string    `json:"type"`
	ID   string    `json:"id"`
	Name string    `json:"name,omitempty"`
	At   time.Time `json:"at"`
}
