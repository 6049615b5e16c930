package http

import (
	"github.com/fyrsmithlabs/collectiond/internal/chunkstore"
	"github.com/fyrsmithlabs/collectiond/internal/lifecycle"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// CreateCollectionRequest is the body of POST /collections.
type CreateCollectionRequest struct {
	Name     string         `json:"name"`
	Metadata map[string]any `json:"metadata"`
}

// UpdateCollectionRequest is the body of PATCH /collections/:id. Absent
// fields are left unchanged.
type UpdateCollectionRequest struct {
	Name     *string        `json:"name"`
	Metadata map[string]any `json:"metadata"`
}

// UploadResponse is the response body of POST /collections/:id/documents.
type UploadResponse struct {
	Success       bool                `json:"success"`
	FileIDs       []string            `json:"file_ids"`
	AddedChunkIDs []string            `json:"added_chunk_ids"`
	Warnings      []lifecycle.Warning `json:"warnings"`
}

// SearchRequest is the body of POST /collections/:id/documents/search.
type SearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

// SearchResult is one search hit.
type SearchResult struct {
	ID       string         `json:"id"`
	FileID   string         `json:"file_id,omitempty"`
	Content  string         `json:"page_content"`
	Metadata map[string]any `json:"metadata"`
	Score    float32        `json:"score"`
}

// Document is one entry of the unique-file listing.
type Document struct {
	ID       string         `json:"id"`
	FileID   string         `json:"file_id"`
	Content  string         `json:"page_content"`
	Metadata map[string]any `json:"metadata"`
}

// DeleteResponse acknowledges a delete.
type DeleteResponse struct {
	Success  bool                `json:"success"`
	Deleted  bool                `json:"deleted"`
	Warnings []lifecycle.Warning `json:"warnings"`
}

// DownloadResponse carries a presigned URL.
type DownloadResponse struct {
	FileID      string `json:"file_id"`
	Filename    string `json:"filename"`
	DownloadURL string `json:"download_url"`
	ExpiresIn   int    `json:"expires_in"`
}

// ErrorBody is the payload of every error response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail names the error kind and a caller-safe message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func toDocuments(chunks []chunkstore.Chunk) []Document {
	out := make([]Document, len(chunks))
	for i, c := range chunks {
		out[i] = Document{ID: c.ID, FileID: c.FileID, Content: c.Content, Metadata: c.Metadata}
	}
	return out
}

func toSearchResults(hits []chunkstore.ScoredChunk) []SearchResult {
	out := make([]SearchResult, len(hits))
	for i, h := range hits {
		out[i] = SearchResult{ID: h.ID, FileID: h.FileID, Content: h.Content, Metadata: h.Metadata, Score: h.Score}
	}
	return out
}

func warningsOrEmpty(w []lifecycle.Warning) []lifecycle.Warning {
	if w == nil {
		return []lifecycle.Warning{}
	}
	return w
}
