package domain

import (
	"encoding/json"
	"time"
)

// DocumentVersion is the artifact format version.
const DocumentVersion = "1.0"

// Metadata describes a persisted artifact.
type Metadata struct {
	Version           string    `json:"version"`
	LastUpdated       time.Time `json:"lastUpdated"`
	EncryptionEnabled bool      `json:"encryptionEnabled"`
	AdminUser         string    `json:"adminUser,omitempty"`
	Revision          int64     `json:"revision,omitempty"`
	Source            string    `json:"source,omitempty"`
}

// Document is the artifact shape shared by the export file and every tier.
// Staff holds either an envelope or a bare array and is decoded lazily.
type Document struct {
	Metadata  Metadata        `json:"metadata"`
	Staff     json.RawMessage `json:"staff"`
	Encrypted bool            `json:"encrypted"`
}
