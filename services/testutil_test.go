package services

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"scholar-ingest/config"
	"scholar-ingest/models"
	"scholar-ingest/providers/openalex"
	"scholar-ingest/storage"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	cfg := &config.Config{DBDriver: "sqlite", SQLitePath: ":memory:"}
	db, err := storage.Open(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, storage.Migrate(db, zap.NewNop()))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func newTestService(db *gorm.DB, batchSize int) *IngestService {
	cfg := &config.Config{IngestBatchSize: batchSize, MembershipStagingThreshold: 64}
	return NewIngestService(cfg, db, zap.NewNop())
}

func seedCatalog(t *testing.T, db *gorm.DB, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, db.Create(&models.Institution{OpenAlexID: id}).Error)
	}
}

type authorship struct {
	author      string
	position    string
	affiliation string
	insts       []string
}

// makeWork baut ein Work über den JSON-Weg, damit Raw genauso befüllt ist wie aus der API.
func makeWork(t *testing.T, id, doi string, citations int, authorships ...authorship) *openalex.Work {
	t.Helper()
	raw := map[string]any{
		"id":               id,
		"title":            "Title of " + id,
		"publication_year": 2024,
		"cited_by_count":   citations,
		"abstract_inverted_index": map[string][]int{
			"hello": {0},
			"world": {1},
		},
		"primary_location": map[string]any{
			"source": map[string]any{
				"display_name":           "Revista de Ingeniería",
				"issn_l":                 "1234-5678",
				"host_organization_name": "UANL",
			},
		},
		"open_access": map[string]any{"is_oa": true, "oa_url": "https://oa.example.org/" + id},
		"concepts":    []any{map[string]any{"display_name": "Chemistry"}},
	}
	if doi != "" {
		raw["doi"] = "https://doi.org/" + doi
	}
	var as []any
	for _, a := range authorships {
		var insts []any
		for _, inst := range a.insts {
			insts = append(insts, map[string]any{"id": inst, "display_name": "Inst " + inst})
		}
		as = append(as, map[string]any{
			"author_position":        a.position,
			"author":                 map[string]any{"id": a.author, "display_name": "Author " + a.author},
			"institutions":           insts,
			"raw_affiliation_string": a.affiliation,
		})
	}
	raw["authorships"] = as

	data, err := json.Marshal(raw)
	require.NoError(t, err)
	var w openalex.Work
	require.NoError(t, json.Unmarshal(data, &w))
	return &w
}

// sliceSource liefert works nacheinander; ist failAt >= 0, schlägt Next an dieser Position fehl.
type sliceSource struct {
	works  []*openalex.Work
	i      int
	failAt int
	err    error
}

func newSliceSource(works ...*openalex.Work) *sliceSource {
	return &sliceSource{works: works, failAt: -1}
}

func (s *sliceSource) Name() string { return "test" }

func (s *sliceSource) Next(ctx context.Context) (*openalex.Work, error) {
	if s.i == s.failAt {
		return nil, s.err
	}
	if s.i >= len(s.works) {
		return nil, io.EOF
	}
	w := s.works[s.i]
	s.i++
	return w, nil
}

func count(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}

// failOnTable lässt jedes INSERT in table mit errInjected scheitern.
func failOnTable(t *testing.T, db *gorm.DB, table string, errInjected error) {
	t.Helper()
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("test:fail_"+table, func(tx *gorm.DB) {
		if tx.Statement.Table == table {
			tx.AddError(errInjected)
		}
	}))
}
