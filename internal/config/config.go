// Package config handles loading and validating the application
// configuration from a hearsay.json file.
//
// The configuration file is a JSON object selecting the storage backend,
// pointing at the peer daemon, and listing the identities this node can
// sign for.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"
)

// Config holds all application configuration loaded from hearsay.json.
// The file is read once at startup; changes require a restart.
type Config struct {
	// Backend selects the storage engine: "sqlite" or "postgres".
	Backend string `json:"backend"`

	// SQLitePath is the database file path when Backend is "sqlite"
	// (default "hearsay.db").
	SQLitePath string `json:"sqlitePath,omitempty"`

	// DBConn is the PostgreSQL host:port when Backend is "postgres".
	DBConn string `json:"dbConn,omitempty"`

	// DBName is the PostgreSQL database name.
	DBName string `json:"dbName,omitempty"`

	// DBUser is the PostgreSQL username.
	DBUser string `json:"dbUser,omitempty"`

	// DBPass is the PostgreSQL password.
	DBPass string `json:"dbPass,omitempty"`

	// BlobStore selects the blob store implementation. The only option
	// today is "memory", an in-process store for local development; it
	// must be chosen explicitly rather than silently standing in for a
	// daemon connection.
	BlobStore string `json:"blobStore,omitempty"`

	// DaemonLogURL is the peer daemon's websocket log endpoint used to
	// pick up "name synced" notifications.
	DaemonLogURL string `json:"daemonLogUrl,omitempty"`

	// ScanTimeoutSeconds bounds blob stream inactivity before a scan is
	// considered complete (default 10).
	ScanTimeoutSeconds int `json:"scanTimeoutSeconds,omitempty"`

	// SyncIntervalSeconds is the period of the full identity sweep
	// (default 300).
	SyncIntervalSeconds int `json:"syncIntervalSeconds,omitempty"`

	// SigningKeys maps a tld to the multibase-encoded private key this
	// node signs its blobs with.
	SigningKeys map[string]string `json:"signingKeys,omitempty"`
}

// Load reads and parses configuration from the given file path.
// It returns an error if the file cannot be read, parsed, or is missing
// required fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if cfg.Backend == "" {
		cfg.Backend = "sqlite"
	}
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = "hearsay.db"
	}
	if cfg.ScanTimeoutSeconds <= 0 {
		cfg.ScanTimeoutSeconds = 10
	}
	if cfg.SyncIntervalSeconds <= 0 {
		cfg.SyncIntervalSeconds = 300
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate checks that the selected backend has its required fields.
func (c *Config) validate() error {
	switch c.BlobStore {
	case "memory":
	case "":
		return fmt.Errorf("config: blobStore is required (\"memory\" is the only implementation)")
	default:
		return fmt.Errorf("config: unknown blob store %q", c.BlobStore)
	}

	switch c.Backend {
	case "sqlite":
		return nil
	case "postgres":
		switch {
		case c.DBConn == "":
			return fmt.Errorf("config: dbConn is required for postgres")
		case c.DBName == "":
			return fmt.Errorf("config: dbName is required for postgres")
		case c.DBUser == "":
			return fmt.Errorf("config: dbUser is required for postgres")
		case c.DBPass == "":
			return fmt.Errorf("config: dbPass is required for postgres")
		}
		return nil
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
}

// ScanTimeout returns the inactivity window as a duration.
func (c *Config) ScanTimeout() time.Duration {
	return time.Duration(c.ScanTimeoutSeconds) * time.Second
}

// SyncInterval returns the sweep period as a duration.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalSeconds) * time.Second
}

// ConnString builds a PostgreSQL connection URI from the config fields.
// The password is URL-encoded to handle special characters safely.
func (c *Config) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable",
		url.QueryEscape(c.DBUser),
		url.QueryEscape(c.DBPass),
		c.DBConn,
		url.QueryEscape(c.DBName),
	)
}
