// Package config provides configuration loading for collectiond.
//
// Configuration is read from an optional YAML file and overridden by
// COLLECTIOND_* environment variables. Defaults are applied after both.
package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is returned when a loaded configuration fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the complete collectiond configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Database      DatabaseConfig      `koanf:"database"`
	VectorStore   VectorStoreConfig   `koanf:"vectorstore"`
	Embeddings    EmbeddingsConfig    `koanf:"embeddings"`
	Blob          BlobConfig          `koanf:"blob"`
	Auth          AuthConfig          `koanf:"auth"`
	Chunking      ChunkingConfig      `koanf:"chunking"`
	Events        EventsConfig        `koanf:"events"`
	Registry      RegistryConfig      `koanf:"registry"`
	Observability ObservabilityConfig `koanf:"observability"`
	Logging       LoggingConfig       `koanf:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	// RateLimit is requests per second per client IP; 0 disables limiting.
	RateLimit      float64 `koanf:"rate_limit"`
	RateBurst      int     `koanf:"rate_burst"`
	MaxUploadBytes int64   `koanf:"max_upload_bytes"`
}

// DatabaseConfig holds the relational store configuration.
type DatabaseConfig struct {
	Path        string   `koanf:"path"`
	BusyTimeout Duration `koanf:"busy_timeout"`
}

// VectorStoreConfig selects and configures the vector engine.
type VectorStoreConfig struct {
	Provider string        `koanf:"provider"`
	Chromem  ChromemConfig `koanf:"chromem"`
	Qdrant   QdrantConfig  `koanf:"qdrant"`
}

// ChromemConfig holds embedded chromem-go settings.
type ChromemConfig struct {
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// QdrantConfig holds Qdrant gRPC settings.
type QdrantConfig struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	UseTLS bool   `koanf:"use_tls"`
	APIKey Secret `koanf:"api_key"`
}

// EmbeddingsConfig holds embedding provider configuration.
type EmbeddingsConfig struct {
	// Provider is one of deterministic, tei, openai, fastembed.
	Provider  string `koanf:"provider"`
	Model     string `koanf:"model"`
	BaseURL   string `koanf:"base_url"`
	Dimension int    `koanf:"dimension"`
	APIKey    Secret `koanf:"api_key"`
	CacheDir  string `koanf:"cache_dir"`
}

// BlobConfig holds object storage configuration.
type BlobConfig struct {
	// Provider is one of memory, filesystem, s3.
	Provider     string   `koanf:"provider"`
	Bucket       string   `koanf:"bucket"`
	Root         string   `koanf:"root"`
	Region       string   `koanf:"region"`
	Endpoint     string   `koanf:"endpoint"`
	AccessKey    Secret   `koanf:"access_key"`
	SecretKey    Secret   `koanf:"secret_key"`
	UsePathStyle bool     `koanf:"use_path_style"`
	PresignTTL   Duration `koanf:"presign_ttl"`
}

// AuthConfig holds principal resolution configuration.
type AuthConfig struct {
	// Mode is jwt or static.
	Mode      string `koanf:"mode"`
	JWTSecret Secret `koanf:"jwt_secret"`
	Issuer    string `koanf:"issuer"`
	// StaticTokens maps bearer tokens to principals in static mode.
	StaticTokens map[string]string `koanf:"static_tokens"`
}

// ChunkingConfig holds text splitter settings.
type ChunkingConfig struct {
	Size    int `koanf:"size"`
	Overlap int `koanf:"overlap"`
}

// EventsConfig holds saga journal settings.
type EventsConfig struct {
	Enabled       bool   `koanf:"enabled"`
	NATSURL       string `koanf:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// RegistryConfig holds collection registry policy.
type RegistryConfig struct {
	// UniqueNames rejects a second collection with the same name per owner.
	UniqueNames bool `koanf:"unique_names"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"`
	Insecure    bool    `koanf:"insecure"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// LoggingConfig holds the subset of logging settings exposed to operators.
type LoggingConfig struct {
	Level           string `koanf:"level"`
	Format          string `koanf:"format"`
	Output          string `koanf:"output"`
	OTEL            bool   `koanf:"otel"`
	DisableSampling bool   `koanf:"disable_sampling"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port must be 1-65535, got %d", ErrInvalidConfig, c.Server.Port)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("%w: server.rate_limit cannot be negative", ErrInvalidConfig)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("%w: database.path is required", ErrInvalidConfig)
	}

	switch c.VectorStore.Provider {
	case "chromem":
	case "qdrant":
		if c.VectorStore.Qdrant.Host == "" {
			return fmt.Errorf("%w: vectorstore.qdrant.host is required", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown vectorstore.provider %q", ErrInvalidConfig, c.VectorStore.Provider)
	}

	switch c.Embeddings.Provider {
	case "deterministic", "tei", "openai", "fastembed":
	default:
		return fmt.Errorf("%w: unknown embeddings.provider %q", ErrInvalidConfig, c.Embeddings.Provider)
	}
	if c.Embeddings.Dimension <= 0 {
		return fmt.Errorf("%w: embeddings.dimension must be positive", ErrInvalidConfig)
	}

	switch c.Blob.Provider {
	case "memory", "filesystem":
	case "s3":
		if c.Blob.Bucket == "" {
			return fmt.Errorf("%w: blob.bucket is required for s3", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown blob.provider %q", ErrInvalidConfig, c.Blob.Provider)
	}

	switch c.Auth.Mode {
	case "jwt":
		if !c.Auth.JWTSecret.IsSet() {
			return fmt.Errorf("%w: auth.jwt_secret is required in jwt mode", ErrInvalidConfig)
		}
	case "static":
		if len(c.Auth.StaticTokens) == 0 {
			return fmt.Errorf("%w: auth.static_tokens cannot be empty in static mode", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown auth.mode %q", ErrInvalidConfig, c.Auth.Mode)
	}

	if c.Chunking.Size <= 0 {
		return fmt.Errorf("%w: chunking.size must be positive", ErrInvalidConfig)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		return fmt.Errorf("%w: chunking.overlap must be in [0, size)", ErrInvalidConfig)
	}

	if c.Events.Enabled && c.Events.NATSURL == "" {
		return fmt.Errorf("%w: events.nats_url is required when events are enabled", ErrInvalidConfig)
	}

	if c.Observability.Enabled {
		switch c.Observability.Protocol {
		case "grpc", "http/protobuf":
		default:
			return fmt.Errorf("%w: observability.protocol must be grpc or http/protobuf", ErrInvalidConfig)
		}
	}

	return nil
}

// Address returns the host:port listen address.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// PresignExpiry returns the configured presign TTL.
func (c BlobConfig) PresignExpiry() time.Duration {
	return c.PresignTTL.Duration()
}
