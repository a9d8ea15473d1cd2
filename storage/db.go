package storage

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"scholar-ingest/config"
	"scholar-ingest/models"
)

// Open öffnet die Datenbank für einen Lauf. Es wird genau eine Verbindung gehalten,
// jede Batch läuft als eigene Transaktion auf dieser Verbindung.
func Open(cfg *config.Config, log *zap.Logger) (*gorm.DB, error) {
	return OpenPool(cfg, log, 1)
}

// OpenPool öffnet die Datenbank mit bis zu maxOpen Verbindungen. Die HTTP-Handler nutzen
// einen eigenen Pool, damit sie nicht auf die Transaktion einer laufenden Batch warten.
func OpenPool(cfg *config.Config, log *zap.Logger, maxOpen int) (*gorm.DB, error) {
	if maxOpen <= 0 {
		maxOpen = 1
	}
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN())
	case "sqlite":
		dialector = sqlite.Open(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.DBDriver)
	}

	logMode := logger.Silent
	if cfg.DBLogSQL {
		logMode = logger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logMode),
		// Transaktionen werden pro Batch explizit geöffnet
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.DBDriver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access connection pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxOpen)

	log.Info("Database connection established", zap.String("driver", cfg.DBDriver), zap.Int("max_open_conns", maxOpen))
	return db, nil
}

// Migrate legt die Tabellen des Ingest-Schemas an bzw. ergänzt fehlende Spalten und Indizes.
func Migrate(db *gorm.DB, log *zap.Logger) error {
	log.Info("Running database auto-migration...")
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}
