package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"scholar-ingest/models"
)

// insertChunkSize begrenzt die Zeilen pro INSERT-Statement, damit Postgres' Limit von
// 65535 Bind-Parametern auch bei Works mit sehr vielen Autoren nicht erreicht wird.
const insertChunkSize = 1000

// FlushResult zählt die geschriebenen Zeilen einer Batch (Inserts und Updates).
type FlushResult struct {
	Documents         int `json:"documents"`
	Authors           int `json:"authors"`
	Metadata          int `json:"metadata"`
	InstitutionPivots int `json:"institution_pivots"`
	AuthorPivots      int `json:"author_pivots"`
	// Metadaten ohne aufgelöste Document-ID oder durch ein anderes Work mit gleicher DOI verdrängt
	SkippedMetadata int `json:"skipped_metadata"`
}

// BatchFlusher schreibt eine normalisierte Batch in die fünf Tabellen. Alle Statements laufen
// in der Transaktion des Aufrufers; schlägt eines fehl, entscheidet der Aufrufer über den Rollback.
type BatchFlusher struct {
	Logger *zap.Logger
}

// NewBatchFlusher erstellt einen Flusher.
func NewBatchFlusher(logger *zap.Logger) *BatchFlusher {
	return &BatchFlusher{Logger: logger}
}

// Flush führt in dieser Reihenfolge aus: Documents, Authors, AcademicMetadata,
// Institutions-Pivots, Autoren-Pivots. Eine leere Batch ist kein Fehler.
func (f *BatchFlusher) Flush(ctx context.Context, tx *gorm.DB, bundles []*Bundle) (FlushResult, error) {
	var res FlushResult
	if len(bundles) == 0 {
		return res, nil
	}
	tx = tx.WithContext(ctx)

	// 1. Documents: bei Konflikt nur den Titel überschreiben
	docs := dedupLast(documentsOf(bundles), func(d models.Document) string { return d.CanonicalIdentifier })
	if err := tx.Clauses(
		clause.OnConflict{
			Columns:   []clause.Column{{Name: "canonical_identifier"}},
			DoUpdates: clause.AssignmentColumns([]string{"title", "updated_at"}),
		},
		clause.Returning{Columns: []clause.Column{{Name: "id"}, {Name: "canonical_identifier"}}},
	).CreateInBatches(&docs, insertChunkSize).Error; err != nil {
		return res, fmt.Errorf("upsert documents: %w", err)
	}
	docIDs := make(map[string]uint, len(docs))
	for _, d := range docs {
		docIDs[d.CanonicalIdentifier] = d.ID
	}
	res.Documents = len(docs)

	// 2. Authors: batchweit dedupliziert, sonst trifft ein Statement denselben Konfliktschlüssel zweimal
	var allAuthors []models.Author
	for _, b := range bundles {
		allAuthors = append(allAuthors, b.Authors...)
	}
	authors := dedupLast(allAuthors, func(a models.Author) string { return a.OpenAlexID })
	if len(authors) > 0 {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "openalex_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"display_name", "orcid", "updated_at"}),
		}).CreateInBatches(&authors, insertChunkSize).Error; err != nil {
			return res, fmt.Errorf("upsert authors: %w", err)
		}
	}
	res.Authors = len(authors)

	// 3. AcademicMetadata: strukturelle Felder sind write-once
	var metas []models.AcademicMetadata
	// DOI -> Work, dem die Metadatenzeile gehört; bei Kollision das letzte
	doiOwner := make(map[string]string)
	for _, b := range bundles {
		if b.Metadata == nil {
			continue
		}
		docID, ok := docIDs[b.CanonicalIdentifier]
		if !ok || docID == 0 {
			res.SkippedMetadata++
			f.Logger.Warn("No document id for metadata, skipping", zap.String("canonical_identifier", b.CanonicalIdentifier))
			continue
		}
		doi := *b.Metadata.DOI
		if prev, ok := doiOwner[doi]; ok && prev != b.CanonicalIdentifier {
			res.SkippedMetadata++
			f.Logger.Warn("DOI shared by two works in one batch, keeping the later one",
				zap.String("doi", doi),
				zap.String("dropped", prev),
				zap.String("kept", b.CanonicalIdentifier))
		}
		doiOwner[doi] = b.CanonicalIdentifier
		m := *b.Metadata
		m.DocumentID = docID
		metas = append(metas, m)
	}
	metas = dedupLast(metas, func(m models.AcademicMetadata) string { return *m.DOI })
	metaIDs := make(map[string]uint, len(metas))
	if len(metas) > 0 {
		if err := tx.Clauses(
			clause.OnConflict{
				Columns: []clause.Column{{Name: "doi"}},
				DoUpdates: append(clause.AssignmentColumns([]string{"citation_count"}),
					clause.Assignment{Column: clause.Column{Name: "updated_at"}, Value: gorm.Expr("CURRENT_TIMESTAMP")}),
			},
			clause.Returning{Columns: []clause.Column{{Name: "id"}, {Name: "doi"}}},
		).CreateInBatches(&metas, insertChunkSize).Error; err != nil {
			return res, fmt.Errorf("upsert academic metadata: %w", err)
		}
		for _, m := range metas {
			metaIDs[*m.DOI] = m.ID
		}
	}
	res.Metadata = len(metas)

	// 4. Institutions-Pivots: ohne Nutzlast, daher DO NOTHING
	var instPivots []models.InstitutionPivot
	for _, b := range bundles {
		docID, ok := docIDs[b.CanonicalIdentifier]
		if !ok {
			continue
		}
		for _, instID := range b.InstitutionIDs {
			instPivots = append(instPivots, models.InstitutionPivot{DocumentID: docID, InstitutionOpenAlexID: instID})
		}
	}
	instPivots = dedupLast(instPivots, func(p models.InstitutionPivot) models.InstitutionPivot { return p })
	if len(instPivots) > 0 {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			CreateInBatches(&instPivots, insertChunkSize).Error; err != nil {
			return res, fmt.Errorf("insert institution pivots: %w", err)
		}
	}
	res.InstitutionPivots = len(instPivots)

	// 5. Autoren-Pivots: clientseitig dedupliziert, das letzte Vorkommen gewinnt
	var authorPivots []models.AuthorPivot
	for _, b := range bundles {
		if b.Metadata == nil || doiOwner[*b.Metadata.DOI] != b.CanonicalIdentifier {
			continue
		}
		metaID, ok := metaIDs[*b.Metadata.DOI]
		if !ok {
			continue
		}
		for _, p := range b.PivotAuthors {
			authorPivots = append(authorPivots, models.AuthorPivot{
				AcademicMetadataID: metaID,
				AuthorOpenAlexID:   p.AuthorOpenAlexID,
				AuthorPosition:     p.AuthorPosition,
				RawAffiliation:     p.RawAffiliation,
			})
		}
	}
	authorPivots = dedupLast(authorPivots, func(p models.AuthorPivot) authorPivotKey {
		return authorPivotKey{p.AcademicMetadataID, p.AuthorOpenAlexID}
	})
	if len(authorPivots) > 0 {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "academic_metadata_id"}, {Name: "author_openalex_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"author_position", "raw_affiliation"}),
		}).CreateInBatches(&authorPivots, insertChunkSize).Error; err != nil {
			return res, fmt.Errorf("upsert author pivots: %w", err)
		}
	}
	res.AuthorPivots = len(authorPivots)

	return res, nil
}

type authorPivotKey struct {
	metadataID uint
	authorID   string
}

func documentsOf(bundles []*Bundle) []models.Document {
	docs := make([]models.Document, 0, len(bundles))
	for _, b := range bundles {
		docs = append(docs, b.Document)
	}
	return docs
}

// dedupLast entfernt Duplikate nach key. Jeder Schlüssel behält die Position seines ersten
// Vorkommens, aber den Wert seines letzten.
func dedupLast[T any, K comparable](items []T, key func(T) K) []T {
	if len(items) == 0 {
		return items
	}
	index := make(map[K]int, len(items))
	out := make([]T, 0, len(items))
	for _, it := range items {
		k := key(it)
		if i, ok := index[k]; ok {
			out[i] = it
			continue
		}
		index[k] = len(out)
		out = append(out, it)
	}
	return out
}
