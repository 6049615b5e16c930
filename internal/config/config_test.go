package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadWithFile_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadWithFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "chromem", cfg.VectorStore.Provider)
	assert.Equal(t, "deterministic", cfg.Embeddings.Provider)
	assert.Equal(t, 512, cfg.Embeddings.Dimension)
	assert.Equal(t, "memory", cfg.Blob.Provider)
	assert.Equal(t, time.Hour, cfg.Blob.PresignExpiry())
	assert.Equal(t, "static", cfg.Auth.Mode)
	assert.Equal(t, "user1", cfg.Auth.StaticTokens["user1"])
	assert.Equal(t, 1000, cfg.Chunking.Size)
	assert.Equal(t, 200, cfg.Chunking.Overlap)
	assert.Equal(t, "lifecycle", cfg.Events.SubjectPrefix)
}

func TestLoadWithFile_YAML(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
  shutdown_timeout: 3s
vectorstore:
  provider: qdrant
  qdrant:
    host: qdrant.internal
    port: 6334
blob:
  provider: s3
  bucket: uploads
  presign_ttl: 15m
auth:
  mode: jwt
  jwt_secret: hunter2
registry:
  unique_names: true
`)

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, "qdrant", cfg.VectorStore.Provider)
	assert.Equal(t, "qdrant.internal", cfg.VectorStore.Qdrant.Host)
	assert.Equal(t, "uploads", cfg.Blob.Bucket)
	assert.Equal(t, 15*time.Minute, cfg.Blob.PresignExpiry())
	assert.Equal(t, "hunter2", cfg.Auth.JWTSecret.Value())
	assert.True(t, cfg.Registry.UniqueNames)
}

func TestLoadWithFile_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9000\n")
	t.Setenv("COLLECTIOND_SERVER_PORT", "9100")
	t.Setenv("COLLECTIOND_BLOB_PRESIGN_TTL", "2m")
	t.Setenv("COLLECTIOND_VECTORSTORE_QDRANT_HOST", "env-host")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 2*time.Minute, cfg.Blob.PresignExpiry())
	assert.Equal(t, "env-host", cfg.VectorStore.Qdrant.Host)
}

func TestLoadWithFile_RejectsWorldWritable(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9000\n")
	require.NoError(t, os.Chmod(path, 0666))

	_, err := LoadWithFile(path)
	assert.Error(t, err)
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"COLLECTIOND_SERVER_PORT":                "server.port",
		"COLLECTIOND_SERVER_SHUTDOWN_TIMEOUT":    "server.shutdown_timeout",
		"COLLECTIOND_VECTORSTORE_PROVIDER":       "vectorstore.provider",
		"COLLECTIOND_VECTORSTORE_CHROMEM_PATH":   "vectorstore.chromem.path",
		"COLLECTIOND_VECTORSTORE_QDRANT_USE_TLS": "vectorstore.qdrant.use_tls",
	}
	for in, want := range tests {
		assert.Equal(t, want, envKey(in), in)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 70000 }},
		{"unknown vector provider", func(c *Config) { c.VectorStore.Provider = "faiss" }},
		{"unknown embeddings provider", func(c *Config) { c.Embeddings.Provider = "magic" }},
		{"s3 without bucket", func(c *Config) { c.Blob.Provider = "s3"; c.Blob.Bucket = "" }},
		{"jwt without secret", func(c *Config) { c.Auth.Mode = "jwt" }},
		{"overlap too large", func(c *Config) { c.Chunking.Overlap = c.Chunking.Size }},
		{"events without url", func(c *Config) { c.Events.Enabled = true }},
		{"bad otel protocol", func(c *Config) { c.Observability.Enabled = true; c.Observability.Protocol = "udp" }},
	}

	require.NoError(t, Defaults().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestSecret_Redacted(t *testing.T) {
	s := Secret("hunter2")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.NotContains(t, fmt.Sprintf("%#v", s), "hunter2")

	b, err := json.Marshal(struct{ Key Secret }{s})
	require.NoError(t, err)
	assert.NotContains(t, string(b), "hunter2")
	assert.Equal(t, "hunter2", s.Value())
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())
	assert.Error(t, d.UnmarshalText([]byte("-1s")))
}
