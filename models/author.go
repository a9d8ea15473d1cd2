package models

import "time"

// Author ist ein Eintrag im Autorenkatalog, eindeutig über die OpenAlex-ID.
type Author struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	OpenAlexID  string  `json:"openalex_id" gorm:"column:openalex_id;uniqueIndex;not null"`
	DisplayName *string `json:"display_name,omitempty"`
	ORCID       *string `json:"orcid,omitempty" gorm:"column:orcid"`

	// Nur die ID, keine Fremdschlüsselbeziehung
	LastKnownInstitutionID *string `json:"last_known_institution_id,omitempty"`

	WorksCount   int `json:"works_count"`
	CitedByCount int `json:"cited_by_count"`
}

// TableName gibt explizit den Tabellennamen an.
func (Author) TableName() string {
	return "authors"
}
