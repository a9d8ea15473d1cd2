package models

import "time"

// SourceTypeOpenAlex kennzeichnet Dokumente, die aus OpenAlex-Works stammen.
const SourceTypeOpenAlex = "openalex"

// Document ist der quellenunabhängige Kern eines erfassten Werks.
// RawText wird von einem separaten Crawler befüllt und beim Ingest nie überschrieben.
type Document struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	SourceType          string  `json:"source_type" gorm:"index;not null"`
	CanonicalIdentifier string  `json:"canonical_identifier" gorm:"uniqueIndex;not null"`
	Title               *string `json:"title,omitempty" gorm:"type:text"`
	RawText             *string `json:"raw_text,omitempty" gorm:"type:text"`
}

// TableName gibt explizit den Tabellennamen an.
func (Document) TableName() string {
	return "documents"
}
