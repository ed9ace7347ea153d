package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/docsage/docsage/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

type PgStore struct {
	db *sql.DB
}

func NewPgStore(conn string) (*PgStore, error) {
	db, err := sql.Open("postgres", conn)
	if err != nil {
		return nil, err
	}
	if err := ensureSchema(db); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &PgStore{db: db}, nil
}

// ---------------- documents ----------------

func (s *PgStore) AddDocument(ctx context.Context, userID, name, text string, extracted bool) (model.Document, error) {
	doc := model.Document{
		ID:     uuid.NewString(),
		UserID: userID,
		Name:   name,
		Text:   sql.NullString{String: text, Valid: extracted},
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO documents (id, user_id, name, text)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, doc.ID, doc.UserID, doc.Name, doc.Text).Scan(&doc.CreatedAt)
	if err != nil {
		return model.Document{}, err
	}
	return doc, nil
}

func (s *PgStore) GetDocument(ctx context.Context, userID, id string) (model.Document, error) {
	var doc model.Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, text, created_at
		FROM documents
		WHERE id = $1 AND user_id = $2
	`, id, userID).Scan(&doc.ID, &doc.UserID, &doc.Name, &doc.Text, &doc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Document{}, ErrNotFound
	}
	if err != nil {
		return model.Document{}, err
	}
	return doc, nil
}

func (s *PgStore) ListDocuments(ctx context.Context, userID string) ([]model.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, text, created_at
		FROM documents
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []model.Document
	for rows.Next() {
		var doc model.Document
		if err := rows.Scan(&doc.ID, &doc.UserID, &doc.Name, &doc.Text, &doc.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, doc)
	}
	return res, rows.Err()
}

// ---------------- messages ----------------

func (s *PgStore) AddMessage(ctx context.Context, documentID, userID, role, content string) (model.Message, error) {
	msg := model.Message{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		UserID:     userID,
		Role:       role,
		Content:    content,
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO messages (id, document_id, user_id, role, content)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, msg.ID, msg.DocumentID, msg.UserID, msg.Role, msg.Content).Scan(&msg.CreatedAt)
	if err != nil {
		return model.Message{}, err
	}
	return msg, nil
}

// ListMessages returns every turn for a document, oldest first, so the
// conversation replays in the order it happened.
func (s *PgStore) ListMessages(ctx context.Context, documentID string) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, user_id, role, content, created_at
		FROM messages
		WHERE document_id = $1
		ORDER BY created_at ASC
	`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []model.Message
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.DocumentID, &m.UserID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// ---------------- usage counters ----------------

// GetUsage reads a user's counter. A user with no row yet is reported as
// zero messages with last_reset far enough in the past to count as elapsed.
func (s *PgStore) GetUsage(ctx context.Context, userID string) (model.Usage, error) {
	u := model.Usage{UserID: userID}
	err := s.db.QueryRowContext(ctx, `
		SELECT count, last_reset FROM usage_counters WHERE user_id = $1
	`, userID).Scan(&u.Count, &u.LastReset)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Usage{UserID: userID, Count: 0, LastReset: time.Time{}}, nil
	}
	if err != nil {
		return model.Usage{}, err
	}
	return u, nil
}

// SetUsage upserts a user's counter. Last writer wins: the quota is a soft
// limit and concurrent requests are allowed to race here.
func (s *PgStore) SetUsage(ctx context.Context, u model.Usage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_counters (user_id, count, last_reset)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id)
		DO UPDATE SET count = EXCLUDED.count, last_reset = EXCLUDED.last_reset
	`, u.UserID, u.Count, u.LastReset)
	return err
}
