package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

const documentColumns = `id, project_id, title, body, components, group_id, doc_type, created_at`

func scanDocument(row interface{ Scan(...any) error }) (Document, error) {
	var doc Document
	var components []byte
	err := row.Scan(&doc.ID, &doc.ProjectID, &doc.Title, &doc.Body, &components, &doc.GroupID, &doc.DocType, &doc.CreatedAt)
	if err != nil {
		return Document{}, err
	}
	if len(components) > 0 {
		if err := json.Unmarshal(components, &doc.Components); err != nil {
			return Document{}, fmt.Errorf("decode components for %s: %w", doc.ID, err)
		}
	}
	if doc.Components == nil {
		doc.Components = map[string]string{}
	}
	return doc, nil
}

// GetDocument returns nil when no document exists with the given id.
func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1`, documentID)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", documentID, err)
	}
	return &doc, nil
}

// GetGroupMembers returns the documents sharing a group id, newest first
// with the document id as tiebreak. This ordering is the group selector's
// fallback order and must stay deterministic.
func (s *PostgresStore) GetGroupMembers(ctx context.Context, groupID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE group_id = $1
		ORDER BY created_at DESC, id ASC
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list group members %s: %w", groupID, err)
	}
	defer rows.Close()

	var members []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan group member: %w", err)
		}
		members = append(members, doc)
	}
	return members, rows.Err()
}

func (s *PostgresStore) ListDocumentsByProject(ctx context.Context, projectID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE project_id = $1
		ORDER BY created_at ASC, id ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project documents %s: %w", projectID, err)
	}
	defer rows.Close()

	var documents []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project document: %w", err)
		}
		documents = append(documents, doc)
	}
	return documents, rows.Err()
}

func (s *PostgresStore) InsertDocument(ctx context.Context, doc Document) error {
	components, err := json.Marshal(doc.Components)
	if err != nil {
		return fmt.Errorf("encode components: %w", err)
	}
	if doc.Components == nil {
		components = []byte(`{}`)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (id, project_id, title, body, components, group_id, doc_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, doc.ID, doc.ProjectID, doc.Title, doc.Body, components, doc.GroupID, doc.DocType)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateBody(ctx context.Context, documentID, body string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE documents SET body=$2 WHERE id=$1`, documentID, body)
	if err != nil {
		return fmt.Errorf("update body %s: %w", documentID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update body %s: %w", documentID, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateComponents replaces a document's component map. Callers must run the
// cycle validator first; the store does not re-check.
func (s *PostgresStore) UpdateComponents(ctx context.Context, documentID string, components map[string]string) error {
	encoded, err := json.Marshal(components)
	if err != nil {
		return fmt.Errorf("encode components: %w", err)
	}
	if components == nil {
		encoded = []byte(`{}`)
	}
	result, err := s.db.ExecContext(ctx, `UPDATE documents SET components=$2 WHERE id=$1`, documentID, encoded)
	if err != nil {
		return fmt.Errorf("update components %s: %w", documentID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update components %s: %w", documentID, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CacheResolvedComponent rewrites a single component entry with the concrete
// document id a group reference resolved to. Pure memoization: resolution
// output never depends on it.
func (s *PostgresStore) CacheResolvedComponent(ctx context.Context, documentID, tokenKey, resolvedID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET components = jsonb_set(components, ARRAY[$2], to_jsonb($3::text))
		WHERE id = $1
	`, documentID, tokenKey, resolvedID)
	if err != nil {
		return fmt.Errorf("cache resolved component %s.%s: %w", documentID, tokenKey, err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
