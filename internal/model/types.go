package model

import (
	"database/sql"
	"time"
)

// Document is an uploaded file after text extraction. Text is null when
// extraction failed; the row is still kept so the upload is visible.
type Document struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	Name      string         `json:"name"`
	Text      sql.NullString `json:"-"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation turn, append-only, replayed in created_at order.
type Message struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"documentId"`
	UserID     string    `json:"userId"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Chunk is a window of document text. Computed per request, never stored.
// Index is the position in the original chunk sequence.
type Chunk struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// Verdict pairs a chunk with the model's relevance call.
type Verdict struct {
	Chunk    Chunk
	Relevant bool
}

// Usage is the per-user message counter for the current 24h window.
type Usage struct {
	UserID    string
	Count     int
	LastReset time.Time
}

// Subscription tiers. Anything other than free bypasses the quota gate.
const (
	TierFree = "free"
)

type AskRequest struct {
	DocumentID string `json:"documentId"`
	Query      string `json:"query"`
	Persona    string `json:"persona,omitempty"`
}
