package dto

import (
	"time"

	"github.com/spec-kit/staff-store/internal/domain"
)

// ReplaceStaffRequest payload for PUT /api/staff.
type ReplaceStaffRequest struct {
	Staff []domain.StaffRecord `json:"staff"`
}

// StaffRecordRequest payload for creating or updating one record.
type StaffRecordRequest struct {
	Name            string   `json:"name"`
	Title           string   `json:"title"`
	Type            string   `json:"type"`
	Specialties     []string `json:"specialties"`
	Specialty       string   `json:"specialty"`
	Credentials     string   `json:"credentials"`
	Bio             string   `json:"bio"`
	Image           string   `json:"image"`
	YearsExperience *int     `json:"yearsExperience"`
	Email           string   `json:"email"`
	Phone           string   `json:"phone"`
	LinkedInURL     string   `json:"linkedinUrl"`
	Education       string   `json:"education"`
	Locations       string   `json:"locations"`
	Languages       string   `json:"languages"`
}

// ToRecord maps the request onto a record. A specialties list wins over the
// delimited specialty string.
func (r StaffRecordRequest) ToRecord() domain.StaffRecord {
	specialty := r.Specialty
	if len(r.Specialties) > 0 {
		specialty = domain.JoinTags(r.Specialties)
	}
	return domain.StaffRecord{
		Name:            r.Name,
		Title:           r.Title,
		Category:        domain.StaffCategory(r.Type),
		Specialty:       specialty,
		Credentials:     r.Credentials,
		Bio:             r.Bio,
		Image:           r.Image,
		YearsExperience: r.YearsExperience,
		Email:           r.Email,
		Phone:           r.Phone,
		LinkedInURL:     r.LinkedInURL,
		Education:       r.Education,
		Locations:       r.Locations,
		Languages:       r.Languages,
	}
}

// CollectionMeta describes where a read was served from.
type CollectionMeta struct {
	Tier        string    `json:"tier,omitempty"`
	Revision    int64     `json:"revision,omitempty"`
	LastUpdated time.Time `json:"lastUpdated"`
	Count       int       `json:"count"`
}
