package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"scholar-ingest/config"
	"scholar-ingest/models"
	"scholar-ingest/providers/openalex"
	"scholar-ingest/services"
)

func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APISecretKey == "" {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-KEY")
		if apiKey != cfg.APISecretKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

// healthPingTimeout begrenzt den DB-Ping von /healthz.
var healthPingTimeout = 2 * time.Second

func setupRouter(cfg *config.Config, db *gorm.DB, ingestService *services.IngestService,
	institutionService *services.InstitutionService, fetcher *openalex.Fetcher, log *zap.Logger) *gin.Engine {
	router := gin.Default()

	// ohne API-Key, für Liveness-Probes
	router.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthPingTimeout)
		defer cancel()
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "ingest_running": ingestService.Busy()})
	})

	router.Use(apiKeyAuthMiddleware(cfg))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	setupIngestRoutes(router, cfg, ingestService, fetcher, log)
	setupInstitutionRoutes(router, cfg, institutionService, fetcher, log)
	setupMetadataRoutes(router, db)
	return router
}

func setupIngestRoutes(router *gin.Engine, cfg *config.Config, ingestService *services.IngestService,
	fetcher *openalex.Fetcher, log *zap.Logger) {
	rg := router.Group("/ingest")

	// startet einen Lauf asynchron; Body optional: {"year": 2024}
	rg.POST("/runs", func(c *gin.Context) {
		var req struct {
			Year int `json:"year"`
		}
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
				return
			}
		}
		if ingestService.Busy() {
			c.JSON(http.StatusConflict, gin.H{"error": services.ErrRunInProgress.Error()})
			return
		}
		year := req.Year
		if year <= 0 {
			year = cfg.IngestYear
		}
		go func() {
			stats, err := ingestService.RunYear(context.Background(), fetcher, year)
			if errors.Is(err, services.ErrRunInProgress) {
				log.Warn("Ingest trigger ignored, run already in progress")
				return
			}
			if err != nil {
				log.Error("Triggered ingest failed", zap.Error(err))
				return
			}
			log.Info("Triggered ingest completed", zap.String("run_id", stats.RunID), zap.Int("processed", stats.Processed))
		}()
		c.JSON(http.StatusAccepted, gin.H{"message": "Ingest run triggered.", "year": year})
	})

	rg.GET("/runs/last", func(c *gin.Context) {
		stats, ok := ingestService.LastRun()
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no run finished yet"})
			return
		}
		c.JSON(http.StatusOK, stats)
	})
}

func setupInstitutionRoutes(router *gin.Engine, cfg *config.Config, institutionService *services.InstitutionService,
	fetcher *openalex.Fetcher, log *zap.Logger) {
	rg := router.Group("/institutions")
	rg.POST("/seed", func(c *gin.Context) {
		country := strings.ToUpper(strings.TrimSpace(c.DefaultQuery("country", cfg.InstitutionCountry)))
		go func() {
			res, err := institutionService.Seed(context.Background(), fetcher.Institutions(country))
			if err != nil {
				log.Error("Institution seeding failed", zap.String("country", country), zap.Error(err))
				return
			}
			log.Info("Institution seeding completed", zap.String("country", country), zap.Int("written", res.Written))
		}()
		c.JSON(http.StatusAccepted, gin.H{"message": "Institution seeding triggered.", "country": country})
	})
}

func setupMetadataRoutes(router *gin.Engine, db *gorm.DB) {
	rg := router.Group("/metadata")

	// DOIs enthalten Schrägstriche, daher Wildcard-Parameter
	rg.GET("/by-doi/*doi", func(c *gin.Context) {
		doi := services.NormalizeDOI(strings.TrimPrefix(c.Param("doi"), "/"))
		if doi == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid doi"})
			return
		}
		var meta models.AcademicMetadata
		if err := db.WithContext(c.Request.Context()).Where("doi = ?", doi).First(&meta).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "metadata not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		var doc models.Document
		if err := db.WithContext(c.Request.Context()).First(&doc, meta.DocumentID).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		var authors []models.AuthorPivot
		if err := db.WithContext(c.Request.Context()).Where("academic_metadata_id = ?", meta.ID).
			Find(&authors).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"document": doc, "metadata": meta, "authors": authors})
	})
}
