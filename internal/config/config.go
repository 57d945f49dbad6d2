// Package config loads service configuration from environment variables.
// Every field has a default or is required, and Load validates the result
// so a misconfigured service fails at startup.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all service configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Store    StoreConfig
	Export   ExportConfig
	Janitor  JanitorConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`
	Port int    `env:"SERVER_PORT" default:"8080"`

	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout bounds writing a response (default: 5m). Complete gets
	// CompleteTimeout on top of it, since its body is written only after
	// assembly.
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"5m"`

	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout bounds Begin/Continue/Cleanup requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`

	// CompleteTimeout bounds assembly and encoding in Complete (default: 10m)
	CompleteTimeout time.Duration `env:"SERVER_COMPLETE_TIMEOUT" default:"10m"`

	// TrustedProxies lists CIDRs whose X-Forwarded-For headers are honored
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// APIKeys, when set, are required in X-API-Key on export routes
	APIKeys []string `env:"API_KEYS"`
}

// DatabaseConfig holds PostgreSQL settings. The database is both the export
// source and, with STORE_BACKEND=postgres, the segment store.
type DatabaseConfig struct {
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	MaxConns        int           `env:"DB_MAX_CONNS" default:"20"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// Segment store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendBlob     = "blob"
)

// StoreConfig selects where segments live between requests.
type StoreConfig struct {
	// Backend is memory, postgres or blob (default: memory)
	Backend string `env:"STORE_BACKEND" default:"memory"`

	// BlobURL is a gocloud.dev bucket URL, e.g. file:///var/lib/segexport or
	// s3://bucket?region=us-east-1. Required for the blob backend.
	BlobURL string `env:"STORE_BLOB_URL"`

	// BlobPrefix is the key prefix for segment objects (default: exports)
	BlobPrefix string `env:"STORE_BLOB_PREFIX" default:"exports"`
}

// ExportConfig describes the exported relation and how it is paged and
// packaged.
type ExportConfig struct {
	// Table is the relation to export, optionally schema-qualified
	Table string `env:"EXPORT_TABLE" required:"true"`

	// OrderBy is a unique column giving the paging order
	OrderBy string `env:"EXPORT_ORDER_BY" default:"id"`

	// Columns limits the exported columns (default: all)
	Columns []string `env:"EXPORT_COLUMNS"`

	PageSize         int    `env:"EXPORT_PAGE_SIZE" default:"1000"`
	MinZipSegments   int    `env:"EXPORT_MIN_ZIP_SEGMENTS" default:"50"`
	SegmentsPerEntry int    `env:"EXPORT_SEGMENTS_PER_ENTRY" default:"50"`
	EntryPrefix      string `env:"EXPORT_ENTRY_PREFIX" default:"part"`
	FileName         string `env:"EXPORT_FILE_NAME" default:"export"`

	// MaxConcurrentCompletes bounds parallel assembly (default: 4)
	MaxConcurrentCompletes int `env:"EXPORT_MAX_CONCURRENT_COMPLETES" default:"4"`

	// MaxWaitTime is how long Complete waits for a slot (default: 30s)
	MaxWaitTime time.Duration `env:"EXPORT_MAX_WAIT_TIME" default:"30s"`
}

// JanitorConfig controls removal of abandoned operations. Disabled by
// default: operations are otherwise released only by Cleanup.
type JanitorConfig struct {
	Enabled bool `env:"JANITOR_ENABLED" default:"false"`

	// TTL is how long an operation may go untouched (default: 24h)
	TTL time.Duration `env:"JANITOR_TTL" default:"24h"`

	// Interval is how often the janitor sweeps (default: 1h)
	Interval time.Duration `env:"JANITOR_INTERVAL" default:"1h"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is debug, info, warn or error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the listen address in host:port form.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
