// Package store is the SQLite persistence layer: bookmarks, extractions,
// embeddings, embedding usage counters and business events.
package store

import (
	"database/sql"

	"github.com/solenne/signet/dbopen"
	"github.com/solenne/signet/idgen"
)

// Store is the database handle.
type Store struct {
	DB  *sql.DB
	ids idgen.Generator
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	allOpts := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(Schema),
	}, opts...)

	db, err := dbopen.Open(path, allOpts...)
	if err != nil {
		return nil, err
	}
	return &Store{DB: db, ids: idgen.Default}, nil
}

// NewWith wraps an existing database handle; the schema must already be
// applied (tests use dbopen.OpenMemory with WithSchema).
func NewWith(db *sql.DB) *Store {
	return &Store{DB: db, ids: idgen.Default}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}
