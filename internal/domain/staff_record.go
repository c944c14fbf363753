package domain

import (
	"encoding/base64"
	"strings"
	"time"
)

// StaffCategory is the closed set of record categories.
type StaffCategory string

const (
	CategoryMedical StaffCategory = "medical"
	CategorySupport StaffCategory = "support"
)

// DefaultImage replaces embedded images that fail validation.
const DefaultImage = "assets/images/healthcare-team-professional.jpg"

const embeddedImagePrefix = "data:image/"

// StaffRecord models one entry of the staff directory.
type StaffRecord struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Title           string        `json:"title"`
	Category        StaffCategory `json:"type"`
	Specialty       string        `json:"specialty"`
	Credentials     string        `json:"credentials"`
	Bio             string        `json:"bio"`
	Image           string        `json:"image"`
	YearsExperience *int          `json:"yearsExperience,omitempty"`
	Email           string        `json:"email,omitempty"`
	Phone           string        `json:"phone,omitempty"`
	LinkedInURL     string        `json:"linkedinUrl,omitempty"`
	Education       string        `json:"education,omitempty"`
	Locations       string        `json:"locations,omitempty"`
	Languages       string        `json:"languages,omitempty"`
	CreatedAt       time.Time     `json:"dateAdded"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// Specialties returns the ordered specialty tags.
func (r StaffRecord) Specialties() []string { return SplitTags(r.Specialty) }

// CredentialList returns the ordered credential tags.
func (r StaffRecord) CredentialList() []string { return SplitTags(r.Credentials) }

// NormalizeCategory clamps unknown categories to medical.
func NormalizeCategory(c StaffCategory) StaffCategory {
	switch StaffCategory(strings.ToLower(strings.TrimSpace(string(c)))) {
	case CategorySupport:
		return CategorySupport
	default:
		return CategoryMedical
	}
}

// SplitTags splits a comma-delimited tag string, dropping blanks.
func SplitTags(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// JoinTags is the inverse of SplitTags.
func JoinTags(tags []string) string {
	cleaned := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			cleaned = append(cleaned, t)
		}
	}
	return strings.Join(cleaned, ", ")
}

// ValidEmbeddedImage reports whether a data:image/...;base64, payload decodes.
// Plain path references are not embedded images and are always valid.
func ValidEmbeddedImage(image string) bool {
	if !strings.HasPrefix(image, embeddedImagePrefix) {
		return true
	}
	idx := strings.Index(image, "base64,")
	if idx == -1 {
		return false
	}
	data := image[idx+len("base64,"):]
	if data == "" {
		return false
	}
	_, err := base64.StdEncoding.DecodeString(data)
	return err == nil
}

// RepairImage returns a copy of the record with a corrupt embedded image
// swapped for DefaultImage, and whether a repair happened.
func (r StaffRecord) RepairImage() (StaffRecord, bool) {
	if ValidEmbeddedImage(r.Image) {
		return r, false
	}
	r.Image = DefaultImage
	return r, true
}

// CloneRecords deep-copies a collection so callers never share backing memory.
func CloneRecords(in []StaffRecord) []StaffRecord {
	if in == nil {
		return []StaffRecord{}
	}
	out := make([]StaffRecord, len(in))
	for i, rec := range in {
		if rec.YearsExperience != nil {
			years := *rec.YearsExperience
			rec.YearsExperience = &years
		}
		out[i] = rec
	}
	return out
}
