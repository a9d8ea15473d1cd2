package models

import "time"

// Institution ist ein Eintrag im Institutionskatalog. Befüllt wird er vom Seeding-Job,
// der Ingest liest ihn nur.
type Institution struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	OpenAlexID  string  `json:"openalex_id" gorm:"column:openalex_id;uniqueIndex;not null"`
	DisplayName *string `json:"display_name,omitempty"`
	City        *string `json:"city,omitempty" gorm:"index"`
	Type        *string `json:"type,omitempty"`
	WorksCount  *int    `json:"works_count,omitempty"`
}

// TableName gibt explizit den Tabellennamen an.
func (Institution) TableName() string {
	return "institutions_catalog"
}
