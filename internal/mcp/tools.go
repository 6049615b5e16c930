package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/collectiond/internal/apperr"
	"github.com/fyrsmithlabs/collectiond/internal/chunkstore"
)

// CollectionSummary is how a collection is presented to MCP clients.
type CollectionSummary struct {
	ID        string         `json:"id" jsonschema:"Collection id"`
	Name      string         `json:"name" jsonschema:"Collection name"`
	Metadata  map[string]any `json:"metadata" jsonschema:"Collection metadata"`
	CreatedAt time.Time      `json:"created_at"`
}

// DocumentSummary is one chunk as presented to MCP clients.
type DocumentSummary struct {
	ID       string         `json:"id"`
	FileID   string         `json:"file_id,omitempty"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
	Score    float32        `json:"score,omitempty"`
}

type listCollectionsInput struct{}

type listCollectionsOutput struct {
	Collections []CollectionSummary `json:"collections" jsonschema:"Collections owned by the caller"`
	Count       int                 `json:"count"`
}

type listDocumentsInput struct {
	Collection string `json:"collection" jsonschema:"Collection id or name"`
	Limit      int    `json:"limit,omitempty" jsonschema:"Files to return, 1-100 (default: 10)"`
	Offset     int    `json:"offset,omitempty" jsonschema:"Files to skip (default: 0)"`
}

type listDocumentsOutput struct {
	CollectionID string            `json:"collection_id"`
	Documents    []DocumentSummary `json:"documents" jsonschema:"First chunk of each file"`
	Count        int               `json:"count"`
}

type searchDocumentsInput struct {
	Collection string `json:"collection" jsonschema:"Collection id or name"`
	Query      string `json:"query" jsonschema:"Natural language query"`
	Limit      int    `json:"limit,omitempty" jsonschema:"Results to return, 1-100 (default: 10)"`
}

type searchDocumentsOutput struct {
	CollectionID string            `json:"collection_id"`
	Query        string            `json:"query"`
	Results      []DocumentSummary `json:"results" jsonschema:"Matching chunks, best first"`
	Count        int               `json:"count"`
}

type collectionStatsInput struct {
	Collection string `json:"collection" jsonschema:"Collection id or name"`
}

type collectionStatsOutput struct {
	CollectionID string `json:"collection_id"`
	FileCount    int64  `json:"file_count"`
	ChunkCount   int64  `json:"chunk_count"`
}

type listFilesInput struct {
	Collection string `json:"collection" jsonschema:"Collection id or name"`
	Limit      int    `json:"limit,omitempty" jsonschema:"Files to return, 1-1000 (default: 50)"`
	Offset     int    `json:"offset,omitempty"`
}

type fileSummary struct {
	FileID      string         `json:"file_id"`
	Filename    string         `json:"filename"`
	ContentType string         `json:"content_type"`
	FileSize    int64          `json:"file_size"`
	Metadata    map[string]any `json:"metadata"`
	UploadTime  time.Time      `json:"upload_time"`
}

type listFilesOutput struct {
	CollectionID string        `json:"collection_id"`
	Files        []fileSummary `json:"files"`
	Count        int           `json:"count"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_collections",
		Description: "List the document collections you own",
	}, func(ctx context.Context, req *mcp.CallToolRequest, _ listCollectionsInput) (*mcp.CallToolResult, listCollectionsOutput, error) {
		done := s.metrics.track(ctx, "list_collections")

		colls, err := s.coord.ListCollections(ctx, s.owner)
		if err != nil {
			return nil, listCollectionsOutput{}, s.toolError(done, "list_collections", err)
		}
		out := listCollectionsOutput{Collections: make([]CollectionSummary, len(colls)), Count: len(colls)}
		names := make([]string, len(colls))
		for i, c := range colls {
			out.Collections[i] = CollectionSummary{ID: c.ID, Name: c.Name, Metadata: c.Metadata, CreatedAt: c.CreatedAt}
			names[i] = c.Name
		}
		done(nil)

		text := "No collections"
		if len(names) > 0 {
			text = fmt.Sprintf("%d collection(s): %s", len(names), strings.Join(names, ", "))
		}
		return textResult(text), out, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_documents",
		Description: "List the files in a collection, one representative chunk per file",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args listDocumentsInput) (*mcp.CallToolResult, listDocumentsOutput, error) {
		done := s.metrics.track(ctx, "list_documents")

		coll, err := s.coord.ResolveCollection(ctx, s.owner, args.Collection)
		if err != nil {
			return nil, listDocumentsOutput{}, s.toolError(done, "list_documents", err)
		}
		chunks, err := s.coord.ListUniqueFiles(ctx, s.owner, coll.ID, args.Limit, args.Offset)
		if err != nil {
			return nil, listDocumentsOutput{}, s.toolError(done, "list_documents", err)
		}
		out := listDocumentsOutput{CollectionID: coll.ID, Documents: summarizeChunks(chunks), Count: len(chunks)}
		done(nil)

		return textResult(fmt.Sprintf("%d file(s) in %s", out.Count, coll.Name)), out, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_documents",
		Description: "Semantic search over the chunks of one collection",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args searchDocumentsInput) (*mcp.CallToolResult, searchDocumentsOutput, error) {
		done := s.metrics.track(ctx, "search_documents")

		coll, err := s.coord.ResolveCollection(ctx, s.owner, args.Collection)
		if err != nil {
			return nil, searchDocumentsOutput{}, s.toolError(done, "search_documents", err)
		}
		hits, err := s.coord.SearchChunks(ctx, s.owner, coll.ID, args.Query, args.Limit)
		if err != nil {
			return nil, searchDocumentsOutput{}, s.toolError(done, "search_documents", err)
		}
		out := searchDocumentsOutput{
			CollectionID: coll.ID,
			Query:        args.Query,
			Results:      make([]DocumentSummary, len(hits)),
			Count:        len(hits),
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Found %d result(s) for %q", len(hits), args.Query)
		for i, h := range hits {
			out.Results[i] = summarizeChunk(h.Chunk)
			out.Results[i].Score = h.Score
			fmt.Fprintf(&b, "\n\n[%d] %.3f %s", i+1, h.Score, h.Content)
		}
		done(nil)

		return textResult(b.String()), out, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "collection_stats",
		Description: "Count the files and chunks in a collection",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args collectionStatsInput) (*mcp.CallToolResult, collectionStatsOutput, error) {
		done := s.metrics.track(ctx, "collection_stats")

		coll, err := s.coord.ResolveCollection(ctx, s.owner, args.Collection)
		if err != nil {
			return nil, collectionStatsOutput{}, s.toolError(done, "collection_stats", err)
		}
		stats, err := s.coord.CollectionStats(ctx, s.owner, coll.ID)
		if err != nil {
			return nil, collectionStatsOutput{}, s.toolError(done, "collection_stats", err)
		}
		done(nil)

		out := collectionStatsOutput{CollectionID: stats.CollectionID, FileCount: stats.FileCount, ChunkCount: stats.ChunkCount}
		return textResult(fmt.Sprintf("%s: %d file(s), %d chunk(s)", coll.Name, out.FileCount, out.ChunkCount)), out, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_files",
		Description: "List the stored originals of a collection, newest first",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args listFilesInput) (*mcp.CallToolResult, listFilesOutput, error) {
		done := s.metrics.track(ctx, "list_files")

		coll, err := s.coord.ResolveCollection(ctx, s.owner, args.Collection)
		if err != nil {
			return nil, listFilesOutput{}, s.toolError(done, "list_files", err)
		}
		recs, err := s.coord.ListFiles(ctx, s.owner, coll.ID, args.Limit, args.Offset)
		if err != nil {
			return nil, listFilesOutput{}, s.toolError(done, "list_files", err)
		}
		out := listFilesOutput{CollectionID: coll.ID, Files: make([]fileSummary, len(recs)), Count: len(recs)}
		for i, r := range recs {
			out.Files[i] = fileSummary{
				FileID:      r.FileID,
				Filename:    r.OriginalFilename,
				ContentType: r.ContentType,
				FileSize:    r.FileSize,
				Metadata:    r.Metadata,
				UploadTime:  r.UploadTime,
			}
		}
		done(nil)

		return textResult(fmt.Sprintf("%d file(s) in %s", out.Count, coll.Name)), out, nil
	})
}

// toolError records err and returns the message the client may see.
func (s *Server) toolError(done func(error), tool string, err error) error {
	done(err)
	if errors.Is(err, apperr.ErrInternal) {
		s.logger.Error("tool failed", zap.String("tool", tool), zap.Error(err))
	} else {
		s.logger.Debug("tool rejected", zap.String("tool", tool), zap.Error(err))
	}
	return errors.New(apperr.PublicMessage(err))
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func summarizeChunk(c chunkstore.Chunk) DocumentSummary {
	return DocumentSummary{ID: c.ID, FileID: c.FileID, Content: c.Content, Metadata: c.Metadata}
}

func summarizeChunks(chunks []chunkstore.Chunk) []DocumentSummary {
	out := make([]DocumentSummary, len(chunks))
	for i, c := range chunks {
		out[i] = summarizeChunk(c)
	}
	return out
}
