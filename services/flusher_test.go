package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"scholar-ingest/models"
	"scholar-ingest/providers/openalex"
)

func flushWorks(t *testing.T, db *gorm.DB, known Membership, works ...*openalex.Work) (FlushResult, error) {
	t.Helper()
	n := NewNormalizer()
	var bundles []*Bundle
	for _, w := range works {
		b, err := n.Normalize(w, known)
		require.NoError(t, err)
		bundles = append(bundles, b)
	}
	var res FlushResult
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		res, err = NewBatchFlusher(zap.NewNop()).Flush(context.Background(), tx, bundles)
		return err
	})
	return res, err
}

func TestFlushEmptyBatch(t *testing.T) {
	db := newTestDB(t)
	res, err := NewBatchFlusher(zap.NewNop()).Flush(context.Background(), db, nil)
	require.NoError(t, err)
	assert.Equal(t, FlushResult{}, res)
}

func TestFlushWritesAllTables(t *testing.T) {
	db := newTestDB(t)
	seedCatalog(t, db, "I1")
	known := NewMembership([]string{"I1"}, nil)

	res, err := flushWorks(t, db, known,
		makeWork(t, "W1", "10.1/x", 3, authorship{author: "A1", position: "first", insts: []string{"I1"}}),
		makeWork(t, "W2", "", 0, authorship{author: "A2", insts: []string{"I1"}}),
	)
	require.NoError(t, err)
	assert.Equal(t, FlushResult{Documents: 2, Authors: 2, Metadata: 1, InstitutionPivots: 2, AuthorPivots: 1}, res)

	var meta models.AcademicMetadata
	require.NoError(t, db.Where("doi = ?", "10.1/x").First(&meta).Error)
	var doc models.Document
	require.NoError(t, db.First(&doc, meta.DocumentID).Error)
	assert.Equal(t, "W1", doc.CanonicalIdentifier)

	var pivot models.AuthorPivot
	require.NoError(t, db.First(&pivot).Error)
	assert.Equal(t, meta.ID, pivot.AcademicMetadataID)
	assert.Equal(t, "A1", pivot.AuthorOpenAlexID)
}

func TestFlushDuplicateWorksInOneBatch(t *testing.T) {
	db := newTestDB(t)
	known := NewMembership(nil, nil)

	first := makeWork(t, "W1", "10.1/x", 1, authorship{author: "A1"})
	again := makeWork(t, "W1", "10.1/x", 5, authorship{author: "A1", position: "last"})
	_, err := flushWorks(t, db, known, first, again)
	require.NoError(t, err)

	assert.EqualValues(t, 1, count(t, db, &models.Document{}))
	assert.EqualValues(t, 1, count(t, db, &models.AcademicMetadata{}))
	assert.EqualValues(t, 1, count(t, db, &models.AuthorPivot{}))

	var meta models.AcademicMetadata
	require.NoError(t, db.First(&meta).Error)
	assert.Equal(t, 5, *meta.CitationCount)
}

func TestFlushSharedDOIKeepsLaterWork(t *testing.T) {
	db := newTestDB(t)
	res, err := flushWorks(t, db, NewMembership(nil, nil),
		makeWork(t, "W1", "10.1/x", 1, authorship{author: "A1"}),
		makeWork(t, "W2", "10.1/X", 2, authorship{author: "A2"}),
	)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Documents)
	assert.Equal(t, 1, res.Metadata)
	assert.Equal(t, 1, res.SkippedMetadata)
	assert.Equal(t, 1, res.AuthorPivots)

	var meta models.AcademicMetadata
	require.NoError(t, db.First(&meta).Error)
	var doc models.Document
	require.NoError(t, db.First(&doc, meta.DocumentID).Error)
	assert.Equal(t, "W2", doc.CanonicalIdentifier)

	var pivots []models.AuthorPivot
	require.NoError(t, db.Find(&pivots).Error)
	require.Len(t, pivots, 1)
	assert.Equal(t, "A2", pivots[0].AuthorOpenAlexID)
	assert.Equal(t, meta.ID, pivots[0].AcademicMetadataID)
}

func TestFlushAuthorPivotLastAffiliationWins(t *testing.T) {
	db := newTestDB(t)
	w := makeWork(t, "W1", "10.1/x", 0,
		authorship{author: "A1", position: "first", affiliation: "first affiliation"},
		authorship{author: "A1", position: "last", affiliation: "second affiliation"},
	)
	res, err := flushWorks(t, db, NewMembership(nil, nil), w)
	require.NoError(t, err)
	assert.Equal(t, 1, res.AuthorPivots)

	var pivots []models.AuthorPivot
	require.NoError(t, db.Find(&pivots).Error)
	require.Len(t, pivots, 1)
	assert.Equal(t, "second affiliation", *pivots[0].RawAffiliation)
	assert.Equal(t, "last", *pivots[0].AuthorPosition)
}

func TestFlushSkipsUnknownInstitutions(t *testing.T) {
	db := newTestDB(t)
	seedCatalog(t, db, "I1")
	w := makeWork(t, "W1", "10.1/x", 0, authorship{author: "A1", insts: []string{"I1", "I404"}})

	_, err := flushWorks(t, db, NewMembership([]string{"I1"}, nil), w)
	require.NoError(t, err)

	var pivots []models.InstitutionPivot
	require.NoError(t, db.Find(&pivots).Error)
	require.Len(t, pivots, 1)
	assert.Equal(t, "I1", pivots[0].InstitutionOpenAlexID)
}

func TestFlushRollsBackOnFourthStatement(t *testing.T) {
	db := newTestDB(t)
	seedCatalog(t, db, "I1")
	errInjected := errors.New("injected failure")
	failOnTable(t, db, models.InstitutionPivot{}.TableName(), errInjected)

	_, err := flushWorks(t, db, NewMembership([]string{"I1"}, nil),
		makeWork(t, "W1", "10.1/x", 0, authorship{author: "A1", insts: []string{"I1"}}))
	require.ErrorIs(t, err, errInjected)

	assert.Zero(t, count(t, db, &models.Document{}))
	assert.Zero(t, count(t, db, &models.Author{}))
	assert.Zero(t, count(t, db, &models.AcademicMetadata{}))
	assert.Zero(t, count(t, db, &models.InstitutionPivot{}))
	assert.Zero(t, count(t, db, &models.AuthorPivot{}))
}

func TestDedupLast(t *testing.T) {
	type row struct {
		key string
		val int
	}
	in := []row{{"a", 1}, {"b", 2}, {"a", 3}, {"c", 4}, {"b", 5}}
	out := dedupLast(in, func(r row) string { return r.key })
	assert.Equal(t, []row{{"a", 3}, {"b", 5}, {"c", 4}}, out)

	assert.Empty(t, dedupLast([]row(nil), func(r row) string { return r.key }))
}
