package models

import (
	"time"

	"gorm.io/datatypes"
)

// AcademicMetadata gehört 1:1 zu einem Document und ist zusätzlich über die DOI eindeutig.
// Nach dem ersten Insert werden nur CitationCount und UpdatedAt aktualisiert.
type AcademicMetadata struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	DocumentID uint    `json:"document_id" gorm:"index;not null"`
	DOI        *string `json:"doi,omitempty" gorm:"column:doi;uniqueIndex"`

	JournalName     *string `json:"journal_name,omitempty"`
	Publisher       *string `json:"publisher,omitempty"`
	ISSN            *string `json:"issn,omitempty" gorm:"column:issn"`
	PublicationYear *int    `json:"publication_year,omitempty" gorm:"index"`
	CitationCount   *int    `json:"citation_count,omitempty"`
	IsOpenAccess    *bool   `json:"is_open_access,omitempty"`
	OpenAccessURL   *string `json:"open_access_url,omitempty" gorm:"column:open_access_url;type:text"`

	// Rohdaten aus der Quelle
	Authors      datatypes.JSON `json:"authors"`
	Institutions datatypes.JSON `json:"institutions"`
	Concepts     datatypes.JSON `json:"concepts"`
	RawSource    datatypes.JSON `json:"raw_source"`
}

// TableName gibt explizit den Tabellennamen an.
func (AcademicMetadata) TableName() string {
	return "academic_metadata"
}
