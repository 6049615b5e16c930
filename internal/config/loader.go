package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix         = "COLLECTIOND_"
	maxConfigFileSize = 1024 * 1024 // 1MB
)

// nestedSections lists sections whose env keys carry a sub-section segment.
var nestedSections = map[string][]string{
	"vectorstore": {"chromem", "qdrant"},
}

// DefaultPath returns ~/.config/collectiond/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "collectiond", "config.yaml"), nil
}

// Load loads configuration from the default path.
func Load() (*Config, error) {
	return LoadWithFile("")
}

// LoadWithFile loads configuration from a YAML file, then overrides with
// environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (COLLECTIOND_SERVER_PORT, COLLECTIOND_BLOB_BUCKET, ...)
//  2. YAML config file
//  3. Defaults
//
// A missing file is not an error. Files larger than 1MB or writable by
// other users are rejected.
//
// Environment variables map to keys by stripping the prefix, lowercasing and
// splitting the first underscore:
//
//	COLLECTIOND_SERVER_PORT            -> server.port
//	COLLECTIOND_BLOB_PRESIGN_TTL       -> blob.presign_ttl
//	COLLECTIOND_VECTORSTORE_QDRANT_HOST -> vectorstore.qdrant.host
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		configPath = p
	}

	if _, err := os.Stat(configPath); err == nil {
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// envKey maps COLLECTIOND_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}

	section, field := parts[0], parts[1]
	for _, sub := range nestedSections[section] {
		if strings.HasPrefix(field, sub+"_") {
			return section + "." + sub + "." + strings.TrimPrefix(field, sub+"_")
		}
	}
	return section + "." + field
}

func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		if perm := info.Mode().Perm(); perm&0o022 != 0 {
			return fmt.Errorf("insecure config file permissions: %v (must not be group or world writable)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// Defaults returns a configuration with every default applied. It runs
// the service fully in-process: SQLite, embedded chromem, in-memory blobs,
// deterministic embeddings and the static test tokens.
func Defaults() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if cfg.Server.RateBurst == 0 {
		cfg.Server.RateBurst = 20
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = 50 * 1024 * 1024
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "~/.local/share/collectiond/collectiond.db"
	}
	if cfg.Database.BusyTimeout == 0 {
		cfg.Database.BusyTimeout = Duration(5 * time.Second)
	}

	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = "chromem"
	}
	if cfg.VectorStore.Chromem.Path == "" {
		cfg.VectorStore.Chromem.Path = "~/.local/share/collectiond/vectors"
	}
	if cfg.VectorStore.Qdrant.Host == "" {
		cfg.VectorStore.Qdrant.Host = "localhost"
	}
	if cfg.VectorStore.Qdrant.Port == 0 {
		cfg.VectorStore.Qdrant.Port = 6334
	}

	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "deterministic"
	}
	if cfg.Embeddings.Dimension == 0 {
		switch cfg.Embeddings.Provider {
		case "deterministic":
			cfg.Embeddings.Dimension = 512
		case "openai":
			cfg.Embeddings.Dimension = 1536
		default:
			cfg.Embeddings.Dimension = 384
		}
	}
	if cfg.Embeddings.Model == "" {
		switch cfg.Embeddings.Provider {
		case "openai":
			cfg.Embeddings.Model = "text-embedding-3-small"
		case "tei", "fastembed":
			cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
		}
	}
	if cfg.Embeddings.BaseURL == "" && cfg.Embeddings.Provider == "tei" {
		cfg.Embeddings.BaseURL = "http://localhost:8081"
	}

	if cfg.Blob.Provider == "" {
		cfg.Blob.Provider = "memory"
	}
	if cfg.Blob.Bucket == "" {
		cfg.Blob.Bucket = "collections"
	}
	if cfg.Blob.Root == "" {
		cfg.Blob.Root = "~/.local/share/collectiond/blobs"
	}
	if cfg.Blob.Region == "" {
		cfg.Blob.Region = "us-east-1"
	}
	if cfg.Blob.PresignTTL == 0 {
		cfg.Blob.PresignTTL = Duration(time.Hour)
	}

	if cfg.Auth.Mode == "" {
		cfg.Auth.Mode = "static"
	}
	if cfg.Auth.Mode == "static" && len(cfg.Auth.StaticTokens) == 0 {
		cfg.Auth.StaticTokens = map[string]string{
			"user1": "user1",
			"user2": "user2",
		}
	}

	if cfg.Chunking.Size == 0 {
		cfg.Chunking.Size = 1000
	}
	if cfg.Chunking.Overlap == 0 {
		cfg.Chunking.Overlap = 200
	}

	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "lifecycle"
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "collectiond"
	}
	if cfg.Observability.Protocol == "" {
		cfg.Observability.Protocol = "grpc"
	}
	if cfg.Observability.Endpoint == "" {
		cfg.Observability.Endpoint = "localhost:4317"
	}
	if cfg.Observability.SampleRate == 0 {
		cfg.Observability.SampleRate = 1.0
	}
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, path[1:]), nil
}
