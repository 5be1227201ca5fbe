package api

import (
	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/models"
)

// CreateNoteRequest is the request body for creating a note. Filename may
// omit the .md extension; the server appends it.
type CreateNoteRequest struct {
	Type     string `json:"type" example:"projects" validate:"required"`
	Filename string `json:"filename" example:"apollo.md" validate:"required"`
	Content  string `json:"content" example:"# Apollo\nKickoff notes."`
}

// UpdateNoteRequest is the request body for replacing a note's content.
type UpdateNoteRequest struct {
	Content string `json:"content" example:"# Apollo\nRevised notes." validate:"required"`
}

// SQLRequest is the request body for the read-only SQL endpoint.
type SQLRequest struct {
	Query     string `json:"query" example:"SELECT id, title FROM notes WHERE type = ?" validate:"required"`
	Params    []any  `json:"params,omitempty"`
	Limit     int    `json:"limit,omitempty" example:"100"`
	TimeoutMs int64  `json:"timeout_ms,omitempty" example:"5000"`
}

// Note is the full note response type (aliased from the index layer).
type Note = index.Note

// NoteRecord is a note row without its body (aliased from the domain layer).
type NoteRecord = models.NoteRecord

// NoteListResponse wraps paginated note listings.
type NoteListResponse struct {
	Notes []NoteRecord `json:"notes" validate:"required"`
	Total int          `json:"total" example:"42" validate:"required"`
}

// SearchResponse wraps search results (aliased from the index layer).
type SearchResponse = index.SearchResponse

// DataviewResponse wraps tabular query results (aliased from the index layer).
type DataviewResponse = index.DataviewResponse

// SQLResponse wraps sandboxed SQL results (aliased from the index layer).
type SQLResponse = index.SQLResponse

// StatsResponse summarizes index contents (aliased from the index layer).
type StatsResponse = index.Stats

// SyncResponse summarizes one reconciliation run (aliased from the index layer).
type SyncResponse = index.SyncStats
