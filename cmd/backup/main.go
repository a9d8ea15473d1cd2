package main

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"

	"scholar-ingest/config"
	"scholar-ingest/storage"
)

// BackupConfig ergänzt die Datenbankkonfiguration um das Backup-Ziel.
type BackupConfig struct {
	Bucket      string `envconfig:"BACKUP_S3_BUCKET" required:"true"`
	Endpoint    string `envconfig:"BACKUP_S3_ENDPOINT" required:"true"`
	AccessKey   string `envconfig:"BACKUP_S3_ACCESS_KEY" required:"true"`
	SecretKey   string `envconfig:"BACKUP_S3_SECRET_KEY" required:"true"`
	Region      string `envconfig:"BACKUP_S3_REGION" required:"true"`
	Prefix      string `envconfig:"BACKUP_PREFIX" default:"scholar-backup-"`
	KeepBackups int    `envconfig:"KEEP_BACKUPS" default:"4"`
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()
	logging.Info("Starte Backup-Prozess...")

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Fehler beim Laden der Konfiguration", zap.Error(err))
	}
	if cfg.DBDriver != "postgres" {
		logging.Fatal("Backups werden nur für PostgreSQL unterstützt", zap.String("driver", cfg.DBDriver))
	}
	var bcfg BackupConfig
	if err := envconfig.Process("", &bcfg); err != nil {
		logging.Fatal("Fehler beim Laden der Backup-Konfiguration", zap.Error(err))
	}
	s3cfg := storage.S3Config{
		Endpoint:  bcfg.Endpoint,
		Region:    bcfg.Region,
		AccessKey: bcfg.AccessKey,
		SecretKey: bcfg.SecretKey,
		Bucket:    bcfg.Bucket,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Hour)
	defer cancel()

	// 1. Datenbank-Dump erstellen
	dumpData, err := createDump(ctx, cfg)
	if err != nil {
		logging.Fatal("Fehler beim Erstellen des DB-Dumps", zap.Error(err))
	}

	// 2. S3-Client erstellen
	s3Client, err := storage.NewS3Client(ctx, s3cfg)
	if err != nil {
		logging.Fatal("Fehler beim Erstellen des S3-Clients", zap.Error(err))
	}

	// 3. Backup nach S3 hochladen
	fileName := fmt.Sprintf("%s%s.sql.gz", bcfg.Prefix, time.Now().UTC().Format("2006-01-02T15-04-05Z"))
	link, err := storage.UploadFile(ctx, s3Client, s3cfg, fileName, dumpData)
	if err != nil {
		logging.Fatal("Fehler beim Hochladen nach S3", zap.Error(err))
	}
	logging.Info("Backup hochgeladen", zap.String("link", link), zap.Int("bytes", len(dumpData)))

	// 4. Alte Backups rotieren
	deleted, err := storage.RotateObjects(ctx, s3Client, s3cfg, bcfg.Prefix, bcfg.KeepBackups)
	if err != nil {
		logging.Fatal("Fehler bei der Rotation alter Backups", zap.Error(err), zap.Strings("deleted", deleted))
	}
	logging.Info("Backup-Prozess erfolgreich abgeschlossen.", zap.Strings("deleted", deleted))
}

func createDump(ctx context.Context, cfg *config.Config) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "pg_dump",
		"-h", cfg.DBHost,
		"-p", strconv.Itoa(cfg.DBPort),
		"-U", cfg.DBUser,
		"-d", cfg.DBName,
		"-w", // Passwort wird über PGPASSWORD bereitgestellt
	)
	cmd.Env = append(os.Environ(), fmt.Sprintf("PGPASSWORD=%s", cfg.DBPassword))

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	gzipWriter := gzip.NewWriter(&buf)
	if _, err := io.Copy(gzipWriter, stdout); err != nil {
		return nil, err
	}
	if err := gzipWriter.Close(); err != nil {
		return nil, err
	}
	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("pg_dump: %w", err)
	}

	return buf.Bytes(), nil
}
