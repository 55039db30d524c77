package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	ProfileDir  string      `json:"profileDir"`
	Database    Database    `json:"database"`
	ObjectStore ObjectStore `json:"objectStore"`
	Upload      Upload      `json:"upload"`
	Sync        Sync        `json:"sync"`
	Audit       Audit       `json:"audit"`
	API         API         `json:"api"`
}

// Database selects the record store backend. A non-empty URL means
// PostgreSQL, otherwise a local SQLite file is used.
type Database struct {
	URL  string `json:"url"`
	Path string `json:"path"`
}

// UsePostgres returns true if PostgreSQL should be used
func (d Database) UsePostgres() bool {
	return d.URL != ""
}

// ObjectStore configures the blob store. With an empty Endpoint the client
// falls back to a local directory store, which is only meant for development.
type ObjectStore struct {
	Endpoint      string `json:"endpoint"`
	Region        string `json:"region"`
	Bucket        string `json:"bucket"`
	AccessKey     string `json:"accessKey"`
	SecretKey     string `json:"secretKey"`
	PublicBaseURL string `json:"publicBaseUrl"`
	LocalPath     string `json:"localPath"`
	CacheControl  string `json:"cacheControl"`
}

// Upload configures the scheduler and compressor.
type Upload struct {
	ConcurrencyWidth int   `json:"concurrencyWidth"`
	MaxDimension     int   `json:"maxDimension"`
	JPEGQuality      int   `json:"jpegQuality"`
	MinCompressBytes int64 `json:"minCompressBytes"`
}

// Sync configures the gallery synchronizer.
type Sync struct {
	PollIntervalSeconds int    `json:"pollIntervalSeconds"`
	FeedURL             string `json:"feedUrl"`
}

// PollInterval returns the poll interval with a one second floor. The
// original client polled every 100ms, which buys no correctness and wastes
// network; anything sub-second is clamped.
func (s Sync) PollInterval() time.Duration {
	secs := s.PollIntervalSeconds
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}

// Audit configures the duplicate auditor.
type Audit struct {
	WebhookURL        string `json:"webhookUrl"`
	MaxGroupsPerRun   int    `json:"maxGroupsPerRun"`
	BatchDelaySeconds int    `json:"batchDelaySeconds"`
}

// API configures the read-only HTTP surface.
type API struct {
	Address string `json:"address"`
}

// Default configuration
func defaultConfig() *Config {
	return &Config{
		ProfileDir: ".gallery",
		Database: Database{
			Path: "gallery.db",
		},
		ObjectStore: ObjectStore{
			Region:       "us-east-1",
			Bucket:       "gallery-images",
			LocalPath:    "./objects",
			CacheControl: "max-age=3600",
		},
		Upload: Upload{
			ConcurrencyWidth: 5,
			MaxDimension:     1920,
			JPEGQuality:      85,
			MinCompressBytes: 100 * 1024,
		},
		Sync: Sync{
			PollIntervalSeconds: 30,
		},
		Audit: Audit{
			MaxGroupsPerRun:   10,
			BatchDelaySeconds: 1,
		},
		API: API{
			Address: ":5000",
		},
	}
}

// Load loads configuration from file or environment
func Load() (*Config, error) {
	cfg := defaultConfig()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
	}

	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	// Override from environment variables
	if dir := os.Getenv("GALLERY_PROFILE_DIR"); dir != "" {
		cfg.ProfileDir = dir
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if endpoint := os.Getenv("OBJECT_STORE_ENDPOINT"); endpoint != "" {
		cfg.ObjectStore.Endpoint = endpoint
	}
	if bucket := os.Getenv("OBJECT_STORE_BUCKET"); bucket != "" {
		cfg.ObjectStore.Bucket = bucket
	}
	if key := os.Getenv("OBJECT_STORE_ACCESS_KEY"); key != "" {
		cfg.ObjectStore.AccessKey = key
	}
	if secret := os.Getenv("OBJECT_STORE_SECRET_KEY"); secret != "" {
		cfg.ObjectStore.SecretKey = secret
	}
	if base := os.Getenv("OBJECT_STORE_PUBLIC_URL"); base != "" {
		cfg.ObjectStore.PublicBaseURL = base
	}
	if webhook := os.Getenv("AUDIT_WEBHOOK_URL"); webhook != "" {
		cfg.Audit.WebhookURL = webhook
	}
	if feed := os.Getenv("SYNC_FEED_URL"); feed != "" {
		cfg.Sync.FeedURL = feed
	}
	if addr := os.Getenv("API_ADDRESS"); addr != "" {
		cfg.API.Address = addr
	}
	if interval := os.Getenv("SYNC_POLL_INTERVAL_SECONDS"); interval != "" {
		if secs, err := strconv.Atoi(interval); err == nil && secs > 0 {
			cfg.Sync.PollIntervalSeconds = secs
		}
	}
	if width := os.Getenv("UPLOAD_CONCURRENCY_WIDTH"); width != "" {
		if w, err := strconv.Atoi(width); err == nil && w > 0 {
			cfg.Upload.ConcurrencyWidth = w
		}
	}

	if cfg.Upload.ConcurrencyWidth < 1 {
		cfg.Upload.ConcurrencyWidth = 1
	}

	// Ensure profile directory exists
	if err := os.MkdirAll(cfg.ProfileDir, 0755); err != nil {
		return nil, err
	}

	absDir, err := filepath.Abs(cfg.ProfileDir)
	if err != nil {
		return nil, err
	}
	cfg.ProfileDir = absDir

	return cfg, nil
}
