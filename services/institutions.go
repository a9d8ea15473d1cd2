package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"scholar-ingest/models"
	"scholar-ingest/providers"
)

// SeedResult fasst einen Seeding-Lauf zusammen.
type SeedResult struct {
	Fetched int `json:"fetched"`
	Matched int `json:"matched"`
	Written int `json:"written"`
}

// InstitutionService befüllt den Institutionskatalog, gegen den der Ingest Pivots filtert.
type InstitutionService struct {
	DB     *gorm.DB
	Logger *zap.Logger
	// Städte, deren Institutionen übernommen werden; leer = alle
	Cities []string
	// 0 = unbegrenzt
	Limit int
}

// NewInstitutionService erstellt einen neuen InstitutionService.
func NewInstitutionService(db *gorm.DB, logger *zap.Logger, cities []string, limit int) *InstitutionService {
	return &InstitutionService{DB: db, Logger: logger, Cities: cities, Limit: limit}
}

// Seed liest source vollständig, behält Institutionen aus den konfigurierten Städten und
// schreibt sie per Upsert in den Katalog.
func (s *InstitutionService) Seed(ctx context.Context, source providers.InstitutionSource) (SeedResult, error) {
	var res SeedResult
	cities := make(map[string]bool, len(s.Cities))
	for _, c := range s.Cities {
		cities[strings.ToLower(cleanText(c))] = true
	}

	var rows []models.Institution
	// OpenAlex-ID -> Index in rows; Duplikate zählen nicht gegen Limit
	index := make(map[string]int)
	for s.Limit <= 0 || len(rows) < s.Limit {
		inst, err := source.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, fmt.Errorf("fetch institutions: %w", err)
		}
		res.Fetched++
		id := strings.TrimSpace(inst.ID)
		if id == "" {
			continue
		}
		city := cleanTextPtr(inst.Geo.City)
		if len(cities) > 0 && (city == nil || !cities[strings.ToLower(*city)]) {
			continue
		}
		row := models.Institution{
			OpenAlexID:  id,
			DisplayName: cleanTextPtr(inst.DisplayName),
			City:        city,
			Type:        inst.Type,
			WorksCount:  inst.WorksCount,
		}
		if i, ok := index[id]; ok {
			rows[i] = row
			continue
		}
		index[id] = len(rows)
		rows = append(rows, row)
	}
	res.Matched = len(rows)
	if len(rows) == 0 {
		s.Logger.Warn("No institutions matched the city filter", zap.Int("fetched", res.Fetched))
		return res, nil
	}

	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "openalex_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "city", "type", "works_count", "updated_at"}),
	}).CreateInBatches(&rows, insertChunkSize).Error
	if err != nil {
		return res, fmt.Errorf("upsert institutions: %w", err)
	}
	res.Written = len(rows)
	institutionsSeededCounter.Add(float64(res.Written))

	s.Logger.Info("Institution catalog seeded",
		zap.Int("fetched", res.Fetched),
		zap.Int("matched", res.Matched),
		zap.Int("written", res.Written))
	return res, nil
}
