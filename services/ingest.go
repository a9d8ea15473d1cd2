package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"scholar-ingest/config"
	"scholar-ingest/models"
	"scholar-ingest/providers"
	"scholar-ingest/providers/openalex"
)

// DefaultBatchSize ist die Anzahl roher Works pro Transaktion.
const DefaultBatchSize = 500

// ErrRunInProgress wird zurückgegeben, wenn bereits ein Ingest-Lauf aktiv ist.
var ErrRunInProgress = errors.New("ingest run already in progress")

// ErrEmptyCatalog verhindert einen ungefilterten Abruf aller Works eines Jahres.
var ErrEmptyCatalog = errors.New("institution catalog is empty, run seed-institutions first")

// BatchState beschreibt, wie weit eine Batch gekommen ist.
type BatchState string

const (
	BatchAccumulating BatchState = "ACCUMULATING"
	BatchResolving    BatchState = "RESOLVING"
	BatchNormalizing  BatchState = "NORMALIZING"
	BatchFlushing     BatchState = "FLUSHING"
	BatchCommitted    BatchState = "COMMITTED"
	BatchFailed       BatchState = "FAILED"
)

// BatchError meldet die Batch, an der ein Lauf abgebrochen ist. Batches mit kleinerem
// Index sind committed und bleiben es.
type BatchError struct {
	Index int
	// Zustand, in dem der Fehler auftrat
	State BatchState
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch %d failed while %s: %v", e.Index, strings.ToLower(string(e.State)), e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// Stats ist der Bericht eines Ingest-Laufs.
type Stats struct {
	RunID      string    `json:"run_id"`
	Source     string    `json:"source"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Works, die einer Batch übergeben wurden
	Processed int `json:"processed"`
	// Works ohne ID
	Skipped int `json:"skipped"`
	// committete Batches
	Batches int    `json:"batches"`
	Failed  bool   `json:"failed"`
	Error   string `json:"error,omitempty"`

	Documents         int `json:"documents"`
	Metadata          int `json:"metadata"`
	Authors           int `json:"authors"`
	NewAuthors        int `json:"new_authors"`
	InstitutionPivots int `json:"institution_pivots"`
	AuthorPivots      int `json:"author_pivots"`
	// Works ohne DOI; sie bekommen ein Document, aber keine Metadaten
	WithoutDOI int `json:"without_doi"`
	// Verweise auf Institutionen, die nicht im Katalog stehen
	UnknownInstitutions int `json:"unknown_institutions"`
}

// IngestService treibt den Ingest: Works puffern, pro Batch Katalog abgleichen,
// normalisieren und in einer Transaktion schreiben.
type IngestService struct {
	DB         *gorm.DB
	Logger     *zap.Logger
	BatchSize  int
	Normalizer *Normalizer
	Resolver   *MembershipResolver
	Flusher    *BatchFlusher

	mu sync.Mutex

	lastMu sync.RWMutex
	last   *Stats
}

// NewIngestService erstellt einen neuen IngestService.
func NewIngestService(cfg *config.Config, db *gorm.DB, logger *zap.Logger) *IngestService {
	batchSize := cfg.IngestBatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &IngestService{
		DB:         db,
		Logger:     logger,
		BatchSize:  batchSize,
		Normalizer: NewNormalizer(),
		Resolver:   NewMembershipResolver(cfg.MembershipStagingThreshold, logger),
		Flusher:    NewBatchFlusher(logger),
	}
}

// Ingest liest source vollständig und schreibt die Works batchweise. Schlägt eine Batch fehl,
// bricht der Lauf mit *BatchError ab; vorher committete Batches bleiben bestehen.
// Läuft bereits ein Ingest, wird ErrRunInProgress zurückgegeben, ohne die Quelle zu lesen.
func (s *IngestService) Ingest(ctx context.Context, source providers.WorkSource) (Stats, error) {
	if !s.mu.TryLock() {
		return Stats{}, ErrRunInProgress
	}
	defer s.mu.Unlock()

	stats := Stats{
		RunID:     uuid.NewString(),
		Source:    source.Name(),
		StartedAt: time.Now().UTC(),
	}
	log := s.Logger.With(zap.String("run_id", stats.RunID), zap.String("source", stats.Source))
	log.Info("Ingest run started", zap.Int("batch_size", s.BatchSize))

	err := s.run(ctx, source, &stats, log)
	stats.FinishedAt = time.Now().UTC()
	if err != nil {
		stats.Failed = true
		stats.Error = err.Error()
		log.Error("Ingest run aborted", zap.Error(err),
			zap.Int("processed", stats.Processed), zap.Int("batches", stats.Batches))
	} else {
		log.Info("Ingest run finished",
			zap.Int("processed", stats.Processed),
			zap.Int("skipped", stats.Skipped),
			zap.Int("batches", stats.Batches),
			zap.Int("new_authors", stats.NewAuthors),
			zap.Duration("duration", stats.FinishedAt.Sub(stats.StartedAt)))
	}

	s.lastMu.Lock()
	report := stats
	s.last = &report
	s.lastMu.Unlock()
	return stats, err
}

func (s *IngestService) run(ctx context.Context, source providers.WorkSource, stats *Stats, log *zap.Logger) error {
	buf := make([]*openalex.Work, 0, s.BatchSize)
	for {
		w, err := source.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", source.Name(), err)
		}
		if w == nil || strings.TrimSpace(w.ID) == "" {
			stats.Skipped++
			recordsSkippedCounter.Inc()
			log.Warn("Skipping work without id", zap.Int("position", stats.Processed+stats.Skipped))
			continue
		}
		stats.Processed++
		recordsIngestedCounter.Inc()
		buf = append(buf, w)

		if len(buf) >= s.BatchSize {
			if err := s.runBatch(ctx, stats.Batches+1, buf, stats, log); err != nil {
				return err
			}
			buf = buf[:0]
		}
	}
	if len(buf) > 0 {
		return s.runBatch(ctx, stats.Batches+1, buf, stats, log)
	}
	return nil
}

// runBatch führt eine Batch von RESOLVING bis COMMITTED in einer Transaktion aus.
func (s *IngestService) runBatch(ctx context.Context, index int, works []*openalex.Work, stats *Stats, log *zap.Logger) error {
	log = log.With(zap.Int("batch", index))
	start := time.Now()
	state := BatchAccumulating

	var (
		res        FlushResult
		newAuthors int
		withoutDOI int
		unknown    int
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		state = BatchResolving
		instIDs, authorIDs := ReferencedIDs(works)
		known, err := s.Resolver.Resolve(ctx, tx, instIDs, authorIDs)
		if err != nil {
			return err
		}
		for _, id := range instIDs {
			if !known.HasInstitution(id) {
				unknown++
			}
		}
		// jeder Autor zählt einmal pro Batch, egal in wie vielen Works er vorkommt
		for _, id := range authorIDs {
			if !known.HasAuthor(id) {
				newAuthors++
			}
		}

		state = BatchNormalizing
		bundles := make([]*Bundle, 0, len(works))
		for _, w := range works {
			b, err := s.Normalizer.Normalize(w, known)
			if err != nil {
				return err
			}
			if b.Metadata == nil {
				withoutDOI++
			}
			bundles = append(bundles, b)
		}

		state = BatchFlushing
		res, err = s.Flusher.Flush(ctx, tx, bundles)
		return err
	})
	flushDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		batchesFailedCounter.Inc()
		log.Error("Batch rolled back", zap.String("state", string(state)), zap.Error(err))
		return &BatchError{Index: index, State: state, Err: err}
	}

	stats.Batches++
	stats.Documents += res.Documents
	stats.Metadata += res.Metadata
	stats.Authors += res.Authors
	stats.InstitutionPivots += res.InstitutionPivots
	stats.AuthorPivots += res.AuthorPivots
	stats.NewAuthors += newAuthors
	stats.WithoutDOI += withoutDOI
	stats.UnknownInstitutions += unknown
	batchesCommittedCounter.Inc()
	newAuthorsCounter.Add(float64(newAuthors))

	log.Info("Batch committed",
		zap.Int("works", len(works)),
		zap.Int("documents", res.Documents),
		zap.Int("metadata", res.Metadata),
		zap.Int("authors", res.Authors),
		zap.Int("new_authors", newAuthors),
		zap.Int("unknown_institutions", unknown),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// RunYear holt alle Works eines Publikationsjahres, die einer katalogisierten Institution
// zugeordnet sind, und ingestiert sie. year <= 0 steht für das aktuelle Jahr.
func (s *IngestService) RunYear(ctx context.Context, fetcher *openalex.Fetcher, year int) (Stats, error) {
	if year <= 0 {
		year = time.Now().Year()
	}
	ids, err := CatalogInstitutionIDs(ctx, s.DB)
	if err != nil {
		return Stats{}, err
	}
	if len(ids) == 0 {
		return Stats{}, ErrEmptyCatalog
	}
	s.Logger.Info("Fetching works from OpenAlex", zap.Int("year", year), zap.Int("institutions", len(ids)))
	return s.Ingest(ctx, fetcher.Works(openalex.WorkFilter{InstitutionIDs: ids, PublicationYear: year}))
}

// LastRun liefert den Bericht des letzten abgeschlossenen Laufs.
func (s *IngestService) LastRun() (Stats, bool) {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	if s.last == nil {
		return Stats{}, false
	}
	return *s.last, true
}

// Busy meldet, ob gerade ein Lauf aktiv ist.
func (s *IngestService) Busy() bool {
	if s.mu.TryLock() {
		s.mu.Unlock()
		return false
	}
	return true
}

// CatalogInstitutionIDs liefert alle OpenAlex-IDs aus dem Institutionskatalog, sortiert.
func CatalogInstitutionIDs(ctx context.Context, db *gorm.DB) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).Model(&models.Institution{}).
		Order("openalex_id").
		Pluck("openalex_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("load institution catalog: %w", err)
	}
	return ids, nil
}
