// Package ingest turns uploaded files into text chunks.
//
// A loader is picked by content type, the loaded documents are split with
// a recursive character splitter, and every chunk carries the loader
// metadata plus the source filename.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("collectiond.ingest")

// ErrUnsupportedType is returned for content types no loader handles.
var ErrUnsupportedType = errors.New("unsupported content type")

// Supported content types.
const (
	TypeText     = "text/plain"
	TypeMarkdown = "text/markdown"
	TypeHTML     = "text/html"
	TypeCSV      = "text/csv"
	TypePDF      = "application/pdf"
)

// Defaults match the splitter settings the service ships with.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// KeySource is the chunk metadata key holding the original filename.
const KeySource = "source"

var extensionTypes = map[string]string{
	".txt":      TypeText,
	".text":     TypeText,
	".log":      TypeText,
	".md":       TypeMarkdown,
	".markdown": TypeMarkdown,
	".html":     TypeHTML,
	".htm":      TypeHTML,
	".csv":      TypeCSV,
	".pdf":      TypePDF,
}

// Chunk is one piece of text ready for the chunk store.
type Chunk struct {
	Content  string
	Metadata map[string]any
}

// Config configures the Chunker.
type Config struct {
	ChunkSize    int
	ChunkOverlap int
}

// Chunker loads and splits files.
type Chunker struct {
	config Config
	logger *zap.Logger
}

// New creates a Chunker. Zero values select the defaults.
func New(config Config, logger *zap.Logger) (*Chunker, error) {
	if config.ChunkSize == 0 {
		config.ChunkSize = DefaultChunkSize
		if config.ChunkOverlap == 0 {
			config.ChunkOverlap = DefaultChunkOverlap
		}
	}
	if config.ChunkSize < 0 || config.ChunkOverlap < 0 || config.ChunkOverlap >= config.ChunkSize {
		return nil, fmt.Errorf("invalid chunking config: size %d, overlap %d", config.ChunkSize, config.ChunkOverlap)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chunker{config: config, logger: logger}, nil
}

// ResolveContentType normalizes contentType, falling back to the filename
// extension when the type is missing or generic.
func ResolveContentType(contentType, filename string) string {
	mediaType := strings.ToLower(strings.TrimSpace(contentType))
	if parsed, _, err := mime.ParseMediaType(mediaType); err == nil {
		mediaType = parsed
	}
	ext := strings.ToLower(filepath.Ext(filename))

	switch mediaType {
	case TypeText, TypeMarkdown, TypeHTML, TypeCSV, TypePDF:
		return mediaType
	case "text/x-markdown":
		return TypeMarkdown
	case "", "application/octet-stream", "binary/octet-stream":
		if t, ok := extensionTypes[ext]; ok {
			return t
		}
	default:
		// unknown types named like text still load as text
		if ext == ".txt" || ext == ".md" {
			return extensionTypes[ext]
		}
	}
	return mediaType
}

// Supported reports whether a content type, after resolution, has a loader.
func Supported(contentType, filename string) bool {
	switch ResolveContentType(contentType, filename) {
	case TypeText, TypeMarkdown, TypeHTML, TypeCSV, TypePDF:
		return true
	}
	return false
}

// Chunk loads data with the loader for its content type and splits it.
// A file with no text yields zero chunks and no error.
func (c *Chunker) Chunk(ctx context.Context, filename, contentType string, data []byte) ([]Chunk, error) {
	resolved := ResolveContentType(contentType, filename)

	ctx, span := tracer.Start(ctx, "Chunker.Chunk")
	defer span.End()
	span.SetAttributes(
		attribute.String("content_type", resolved),
		attribute.Int("bytes", len(data)),
	)

	var loader documentloaders.Loader
	switch resolved {
	case TypeText, TypeMarkdown:
		loader = documentloaders.NewText(bytes.NewReader(data))
	case TypeHTML:
		loader = documentloaders.NewHTML(bytes.NewReader(data))
	case TypeCSV:
		loader = documentloaders.NewCSV(bytes.NewReader(data))
	case TypePDF:
		loader = documentloaders.NewPDF(bytes.NewReader(data), int64(len(data)))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, contentType)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return []Chunk{}, nil
	}

	docs, err := loader.Load(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("loading %s: %w", resolved, err)
	}

	split, err := textsplitter.SplitDocuments(c.splitter(resolved), docs)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("splitting %s: %w", resolved, err)
	}

	out := make([]Chunk, 0, len(split))
	for _, d := range split {
		if strings.TrimSpace(d.PageContent) == "" {
			continue
		}
		out = append(out, Chunk{Content: d.PageContent, Metadata: chunkMetadata(d, filename)})
	}

	span.SetAttributes(attribute.Int("chunks", len(out)))
	c.logger.Debug("file chunked",
		zap.String("filename", filename),
		zap.String("content_type", resolved),
		zap.Int("documents", len(docs)),
		zap.Int("chunks", len(out)),
	)
	return out, nil
}

func (c *Chunker) splitter(contentType string) textsplitter.TextSplitter {
	opts := []textsplitter.Option{
		textsplitter.WithChunkSize(c.config.ChunkSize),
		textsplitter.WithChunkOverlap(c.config.ChunkOverlap),
	}
	if contentType == TypeMarkdown {
		opts = append(opts, textsplitter.WithSeparators([]string{
			"\n# ", "\n## ", "\n### ", "\n#### ", "\n\n", "\n", " ", "",
		}))
	}
	return textsplitter.NewRecursiveCharacter(opts...)
}

func chunkMetadata(d schema.Document, filename string) map[string]any {
	meta := make(map[string]any, len(d.Metadata)+1)
	for k, v := range d.Metadata {
		meta[k] = v
	}
	if filename != "" {
		meta[KeySource] = filename
	}
	return meta
}
