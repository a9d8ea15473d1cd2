package models

// InstitutionPivot verknüpft ein Document mit einer katalogisierten Institution.
type InstitutionPivot struct {
	DocumentID            uint   `json:"document_id" gorm:"primaryKey;autoIncrement:false"`
	InstitutionOpenAlexID string `json:"institution_openalex_id" gorm:"column:institution_openalex_id;primaryKey"`
}

func (InstitutionPivot) TableName() string { return "academic_metadata_institutions" }

// AuthorPivot verknüpft AcademicMetadata mit einem Autor. Pro Paar existiert höchstens eine Zeile.
type AuthorPivot struct {
	AcademicMetadataID uint    `json:"academic_metadata_id" gorm:"primaryKey;autoIncrement:false"`
	AuthorOpenAlexID   string  `json:"author_openalex_id" gorm:"column:author_openalex_id;primaryKey"`
	AuthorPosition     *string `json:"author_position,omitempty"`
	RawAffiliation     *string `json:"raw_affiliation,omitempty" gorm:"type:text"`
}

func (AuthorPivot) TableName() string { return "academic_metadata_authors" }

// All listet die Tabellen des Ingest-Schemas in Migrationsreihenfolge.
func All() []any {
	return []any{
		&Document{},
		&AcademicMetadata{},
		&Author{},
		&Institution{},
		&InstitutionPivot{},
		&AuthorPivot{},
	}
}
