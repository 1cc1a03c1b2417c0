package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver
)

// SQLiteStore is a DocumentStore backed by a single table, modeling the
// partitioned, discriminator-tagged container described in spec.md §6.3.
// It plays the role the teacher's pkg/database.Client plays for its ent
// schema, but the schema here is a single generic table because the
// core's persistence contract is an untyped document store, not a
// relational model with per-entity tables.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates (if necessary) and opens a sqlite-backed document store at
// path. Pass ":memory:" for an ephemeral, test-only store.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: serialise writers to avoid SQLITE_BUSY

	if _, err := db.Exec(schemaDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS documents (
	id            TEXT NOT NULL,
	partition_key TEXT NOT NULL,
	doc_type      TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT '',
	payload       BLOB NOT NULL,
	PRIMARY KEY (id, partition_key)
);
CREATE INDEX IF NOT EXISTS idx_documents_doctype_status ON documents(doc_type, status);
`

func (s *SQLiteStore) Get(ctx context.Context, id, partitionKey string) (Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, partition_key, doc_type, payload FROM documents WHERE id = ? AND partition_key = ?`,
		id, partitionKey)

	var doc Document
	if err := row.Scan(&doc.ID, &doc.PartitionKey, &doc.DocType, &doc.Payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, fmt.Errorf("get document %s: %w", id, err)
	}
	return doc, nil
}

// Upsert is idempotent: two successive calls with the same doc produce a
// single stored row identical to the final state (spec.md property 10).
func (s *SQLiteStore) Upsert(ctx context.Context, doc Document) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, partition_key, doc_type, status, payload)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id, partition_key) DO UPDATE SET
		   doc_type = excluded.doc_type,
		   status   = excluded.status,
		   payload  = excluded.payload`,
		doc.ID, doc.PartitionKey, doc.DocType, statusColumn(doc), doc.Payload)
	if err != nil {
		return fmt.Errorf("upsert document %s: %w", doc.ID, err)
	}
	return nil
}

// statusColumn extracts a denormalised "status" field from the payload so
// List can filter on it without deserialising every document. It is
// deliberately forgiving: a document whose payload doesn't carry a status
// (non-session doc types sharing the container) just gets "".
func statusColumn(doc Document) string {
	return extractJSONStringField(doc.Payload, "status")
}

func (s *SQLiteStore) Delete(ctx context.Context, id, partitionKey string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE id = ? AND partition_key = ?`, id, partitionKey)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	return nil
}

// List always filters on doc_type (the discriminator), optionally on
// partition key and one equality field, matching spec.md §9's "always
// filter by _docType" discipline.
func (s *SQLiteStore) List(ctx context.Context, q Query) ([]Document, error) {
	query := `SELECT id, partition_key, doc_type, payload FROM documents WHERE doc_type = ?`
	args := []any{q.DocType}

	if q.PartitionKey != "" {
		query += ` AND partition_key = ?`
		args = append(args, q.PartitionKey)
	}
	if q.Field == "status" && q.Value != "" {
		query += ` AND status = ?`
		args = append(args, q.Value)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.PartitionKey, &doc.DocType, &doc.Payload); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
