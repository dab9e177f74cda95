package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/therapy-intel/internal/apperr"
	"github.com/sells-group/therapy-intel/internal/model"
)

func (s *SQLiteStore) InsertDocument(ctx context.Context, doc *model.Document) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (`+documentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Filename, doc.ContentType, doc.ContentHash, doc.StorageKey, doc.SizeBytes, formatTime(doc.CreatedAt),
	)
	if isSQLiteUniqueViolation(err) {
		return apperr.Conflict("document with hash %s already exists", doc.ContentHash)
	}
	return eris.Wrapf(err, "sqlite: insert document %s", doc.ID)
}

func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	doc, err := scanSQLiteDocument(s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("document %s not found", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get document %s", id)
	}
	return doc, nil
}

func (s *SQLiteStore) GetDocumentByHash(ctx context.Context, hash string) (*model.Document, error) {
	doc, err := scanSQLiteDocument(s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE content_hash = ?`, hash,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get document by hash")
	}
	return doc, nil
}

func scanSQLiteDocument(row scannable) (*model.Document, error) {
	var d model.Document
	var createdAt string
	if err := row.Scan(&d.ID, &d.Filename, &d.ContentType, &d.ContentHash, &d.StorageKey, &d.SizeBytes, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &d, nil
}
