package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	DBDriver   string `envconfig:"DB_DRIVER" default:"postgres"`
	DBHost     string `envconfig:"DB_HOST" default:"localhost"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER"`
	DBPassword string `envconfig:"DB_PASSWORD"`
	DBName     string `envconfig:"DB_NAME"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"require"`
	SQLitePath string `envconfig:"SQLITE_PATH" default:"scholar.db"`
	DBLogSQL   bool   `envconfig:"DB_LOG_SQL" default:"false"`
	// Nur für lokale Setups; in Produktion legt das Schema-Repo die Tabellen an.
	AutoMigrate bool `envconfig:"AUTO_MIGRATE" default:"false"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	HTTPPort     string `envconfig:"HTTP_PORT" default:"4242"`
	APISecretKey string `envconfig:"API_SECRET_KEY"`
	// Verbindungen des Pools, den die HTTP-Handler nutzen; der Ingest bleibt bei einer
	APIDBMaxConns int `envconfig:"API_DB_MAX_CONNS" default:"4"`

	OpenAlexBaseURL  string `envconfig:"OPENALEX_BASE_URL" default:"https://api.openalex.org"`
	OpenAlexAPIKey   string `envconfig:"OPENALEX_API_KEY"`
	OpenAlexEmail    string `envconfig:"OPENALEX_EMAIL"`
	OpenAlexPerPage  int    `envconfig:"OPENALEX_PER_PAGE" default:"200"`
	OpenAlexMaxPages int    `envconfig:"OPENALEX_MAX_PAGES" default:"0"`

	IngestBatchSize            int `envconfig:"INGEST_BATCH_SIZE" default:"500"`
	MembershipStagingThreshold int `envconfig:"MEMBERSHIP_STAGING_THRESHOLD" default:"64"`
	// 0 = aktuelles Jahr
	IngestYear   int    `envconfig:"INGEST_YEAR" default:"0"`
	CronSchedule string `envconfig:"CRON_SCHEDULE" default:"0 3 * * *"`

	InstitutionCountry string `envconfig:"INSTITUTION_COUNTRY" default:"MX"`
	InstitutionCities  string `envconfig:"INSTITUTION_CITIES"`
	InstitutionLimit   int    `envconfig:"INSTITUTION_LIMIT" default:"0"`
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode)
}

// Cities liefert die konfigurierte Städteliste für das Institutions-Seeding.
// Ohne Konfiguration gilt die Liste der Gemeinden von Nuevo León.
func (c *Config) Cities() []string {
	if strings.TrimSpace(c.InstitutionCities) == "" {
		return append([]string(nil), NuevoLeonCities...)
	}
	var out []string
	for _, city := range strings.Split(c.InstitutionCities, ",") {
		if city = strings.TrimSpace(city); city != "" {
			out = append(out, city)
		}
	}
	return out
}

// Validate prüft Kombinationen, die envconfig allein nicht abdecken kann.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "postgres":
		if c.DBUser == "" || c.DBName == "" {
			return fmt.Errorf("DB_USER and DB_NAME are required for the postgres driver")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", c.DBDriver)
	}
	if c.IngestBatchSize <= 0 {
		return fmt.Errorf("INGEST_BATCH_SIZE must be positive, got %d", c.IngestBatchSize)
	}
	if c.OpenAlexPerPage <= 0 || c.OpenAlexPerPage > 200 {
		return fmt.Errorf("OPENALEX_PER_PAGE must be between 1 and 200, got %d", c.OpenAlexPerPage)
	}
	return nil
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return &c, err
	}
	return &c, c.Validate()
}

// NuevoLeonCities sind die Gemeinden, deren Institutionen standardmäßig in den Katalog kommen.
var NuevoLeonCities = []string{
	"Monterrey", "Ciudad Apodaca", "García", "Ciudad General Escobedo", "Guadalupe",
	"Ciudad Benito Juárez", "Santa Catarina", "San Nicolás de los Garza",
	"San Pedro Garza García", "Santiago", "Cadereyta Jiménez", "Salinas Victoria",
	"Abasolo", "Ciénega de Flores", "Doctor González", "El Carmen", "General Zuazua",
	"Hidalgo", "Higueras", "Marín", "Mina", "Pesquería", "Allende", "General Terán",
	"Hualahuises", "Linares", "Montemorelos", "Rayones", "Agualeguas", "Anáhuac",
	"Bustamante", "Cerralvo", "China", "Doctor Coss", "General Bravo",
	"General Treviño", "Lampazos de Naranjo", "Los Aldamas", "Los Herreras",
	"Los Ramones", "Melchor Ocampo", "Parás", "Sabinas Hidalgo", "Vallecillo",
	"Villaldama", "Aramberri", "Doctor Arroyo", "Galeana", "General Zaragoza",
	"Iturbide", "Mier y Noriega",
}
