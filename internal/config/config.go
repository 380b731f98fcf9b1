package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config carries everything the pipeline commands need. Values come from the
// environment with sensible defaults; a .env file is honoured when present.
type Config struct {
	// Upstream API.
	BaseURL     string
	TokenURL    string
	HTTPTimeout time.Duration

	// Credential sources, in priority order. BasicAuthB64 wins, then
	// ClientID+ClientSecret, then the contents of IDFile.
	BasicAuthB64 string
	ClientID     string
	ClientSecret string
	SecretsDir   string
	IDFile       string
	TokenCache   string
	TokenSkew    time.Duration

	// Outbound rate limit (sliding window).
	MaxCallsPerPeriod int
	RatePeriod        time.Duration

	// Pipeline file locations.
	MissingPath  string
	StationsPath string
	SnapshotPath string
	LogDir       string
	DownloadDir  string
	DBPath       string

	// Departments to query for station lists.
	Departments []int

	// Archive publishing (GitHub contents API).
	ArchiveOwner  string
	ArchiveRepo   string
	ArchiveBranch string
	ArchivePath   string
	ArchiveGzPath string
	ArchiveToken  string
	ArchiveMaxMB  int

	// Serve mode.
	Port            string
	RefreshInterval time.Duration
}

// Load reads configuration from environment with sensible defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}

	cfg := &Config{}

	cfg.BaseURL = getenvDefault("CLIMSYNC_BASE_URL", "https://public-api.meteofrance.fr/public/DPClim/v1")
	cfg.TokenURL = getenvDefault("CLIMSYNC_TOKEN_URL", "https://portail-api.meteofrance.fr/token")

	timeout, err := time.ParseDuration(getenvDefault("CLIMSYNC_HTTP_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid CLIMSYNC_HTTP_TIMEOUT: %w", err)
	}
	cfg.HTTPTimeout = timeout

	cfg.BasicAuthB64 = os.Getenv("CLIMSYNC_BASIC_AUTH_B64")
	cfg.ClientID = os.Getenv("CLIMSYNC_CLIENT_ID")
	cfg.ClientSecret = os.Getenv("CLIMSYNC_CLIENT_SECRET")
	cfg.SecretsDir = getenvDefault("CLIMSYNC_SECRETS_DIR", ".secrets")
	cfg.IDFile = getenvDefault("CLIMSYNC_ID_FILE", filepath.Join(cfg.SecretsDir, "api_id"))
	cfg.TokenCache = getenvDefault("CLIMSYNC_TOKEN_CACHE", filepath.Join(cfg.SecretsDir, "token.json"))

	skew, err := time.ParseDuration(getenvDefault("CLIMSYNC_TOKEN_SKEW", "300s"))
	if err != nil {
		return nil, fmt.Errorf("invalid CLIMSYNC_TOKEN_SKEW: %w", err)
	}
	cfg.TokenSkew = skew

	cfg.MaxCallsPerPeriod = getenvInt("CLIMSYNC_MAX_RPM", 50)
	if cfg.MaxCallsPerPeriod < 1 {
		return nil, fmt.Errorf("invalid CLIMSYNC_MAX_RPM: must be at least 1, got %d", cfg.MaxCallsPerPeriod)
	}
	period, err := time.ParseDuration(getenvDefault("CLIMSYNC_RATE_PERIOD", "60s"))
	if err != nil {
		return nil, fmt.Errorf("invalid CLIMSYNC_RATE_PERIOD: %w", err)
	}
	cfg.RatePeriod = period

	cfg.MissingPath = getenvDefault("CLIMSYNC_MISSING_JSON", "data/metadata/missing_observations.json")
	cfg.StationsPath = getenvDefault("CLIMSYNC_STATIONS_JSON", "data/metadata/stations.json")
	cfg.SnapshotPath = getenvDefault("CLIMSYNC_SNAPSHOT_JSON", "data/observations.json")
	cfg.LogDir = getenvDefault("CLIMSYNC_LOGDIR", "logs/observations")
	cfg.DownloadDir = getenvDefault("CLIMSYNC_DOWNLOAD_DIR", "data/metadata/download/stations")
	cfg.DBPath = getenvDefault("CLIMSYNC_DB_PATH", "data/observations.db")

	depts, err := parseInts(getenvDefault("CLIMSYNC_DEPARTMENTS", "38,73,74"))
	if err != nil {
		return nil, fmt.Errorf("invalid CLIMSYNC_DEPARTMENTS: %w", err)
	}
	cfg.Departments = depts

	cfg.ArchiveOwner = os.Getenv("CLIMSYNC_ARCHIVE_OWNER")
	cfg.ArchiveRepo = os.Getenv("CLIMSYNC_ARCHIVE_REPO")
	cfg.ArchiveBranch = getenvDefault("CLIMSYNC_ARCHIVE_BRANCH", "main")
	cfg.ArchivePath = getenvDefault("CLIMSYNC_ARCHIVE_PATH", "observations.json")
	cfg.ArchiveGzPath = os.Getenv("CLIMSYNC_ARCHIVE_GZ_PATH")
	cfg.ArchiveToken = os.Getenv("CLIMSYNC_ARCHIVE_TOKEN")
	cfg.ArchiveMaxMB = getenvInt("CLIMSYNC_ARCHIVE_MAX_MB", 95)

	cfg.Port = getenvDefault("PORT", "8080")

	refresh, err := time.ParseDuration(getenvDefault("CLIMSYNC_REFRESH_INTERVAL", "24h"))
	if err != nil {
		return nil, fmt.Errorf("invalid CLIMSYNC_REFRESH_INTERVAL: %w", err)
	}
	cfg.RefreshInterval = refresh

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func parseInts(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
