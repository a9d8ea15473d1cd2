package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"scholar-ingest/models"
)

const (
	kindInstitution = "institution"
	kindAuthor      = "author"
)

// stagedID ist eine Zeile der transaktionslokalen Hilfstabelle für den Katalogabgleich.
type stagedID struct {
	Kind       string
	OpenAlexID string `gorm:"column:openalex_id"`
}

func (stagedID) TableName() string { return "ingest_lookup_ids" }

// MembershipResolver stellt fest, welche referenzierten Institutionen und Autoren bereits
// katalogisiert sind. Er liest nur.
type MembershipResolver struct {
	// Bis zu dieser Anzahl IDs pro Katalog genügt ein einfaches IN; darüber werden die IDs
	// in eine temporäre Tabelle geschrieben und per Join abgeglichen.
	StagingThreshold int
	Logger           *zap.Logger
}

// NewMembershipResolver erstellt einen Resolver.
func NewMembershipResolver(stagingThreshold int, logger *zap.Logger) *MembershipResolver {
	return &MembershipResolver{StagingThreshold: stagingThreshold, Logger: logger}
}

// Resolve liefert die Teilmengen von institutionIDs und authorIDs, die in den Katalogen existieren.
// tx muss die Transaktion der aktuellen Batch sein; die Hilfstabelle lebt nur darin.
func (r *MembershipResolver) Resolve(ctx context.Context, tx *gorm.DB, institutionIDs, authorIDs []string) (Membership, error) {
	tx = tx.WithContext(ctx)

	staged := len(institutionIDs) > r.StagingThreshold || len(authorIDs) > r.StagingThreshold
	if staged {
		if err := r.stage(tx, institutionIDs, authorIDs); err != nil {
			return Membership{}, fmt.Errorf("stage lookup ids: %w", err)
		}
	}

	insts, err := r.existing(tx, models.Institution{}.TableName(), kindInstitution, institutionIDs, staged)
	if err != nil {
		return Membership{}, fmt.Errorf("resolve institutions: %w", err)
	}
	authors, err := r.existing(tx, models.Author{}.TableName(), kindAuthor, authorIDs, staged)
	if err != nil {
		return Membership{}, fmt.Errorf("resolve authors: %w", err)
	}

	r.Logger.Debug("Katalogabgleich abgeschlossen",
		zap.Bool("staged", staged),
		zap.Int("institutions_referenced", len(institutionIDs)),
		zap.Int("institutions_known", len(insts)),
		zap.Int("authors_referenced", len(authorIDs)),
		zap.Int("authors_known", len(authors)))
	return NewMembership(insts, authors), nil
}

func (r *MembershipResolver) stage(tx *gorm.DB, institutionIDs, authorIDs []string) error {
	create := `CREATE TEMPORARY TABLE IF NOT EXISTS ingest_lookup_ids (kind TEXT NOT NULL, openalex_id TEXT NOT NULL)`
	if tx.Dialector.Name() == "postgres" {
		create += ` ON COMMIT DROP`
	}
	if err := tx.Exec(create).Error; err != nil {
		return err
	}
	// SQLite kennt kein ON COMMIT DROP; dort überlebt die Tabelle die Transaktion.
	if err := tx.Exec(`DELETE FROM ingest_lookup_ids`).Error; err != nil {
		return err
	}

	rows := make([]stagedID, 0, len(institutionIDs)+len(authorIDs))
	for _, id := range institutionIDs {
		rows = append(rows, stagedID{Kind: kindInstitution, OpenAlexID: id})
	}
	for _, id := range authorIDs {
		rows = append(rows, stagedID{Kind: kindAuthor, OpenAlexID: id})
	}
	if len(rows) == 0 {
		return nil
	}
	return tx.CreateInBatches(&rows, insertChunkSize).Error
}

func (r *MembershipResolver) existing(tx *gorm.DB, table, kind string, ids []string, staged bool) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []string
	if !staged {
		err := tx.Table(table).Where("openalex_id IN ?", ids).Pluck("openalex_id", &out).Error
		return out, err
	}
	err := tx.Raw(`SELECT DISTINCT c.openalex_id FROM `+table+` c
		JOIN ingest_lookup_ids s ON s.openalex_id = c.openalex_id
		WHERE s.kind = ?`, kind).Scan(&out).Error
	return out, err
}
