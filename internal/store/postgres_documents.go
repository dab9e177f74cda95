package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/therapy-intel/internal/apperr"
	"github.com/sells-group/therapy-intel/internal/db"
	"github.com/sells-group/therapy-intel/internal/model"
)

const documentColumns = `id, filename, content_type, content_hash, storage_key, size_bytes, created_at`

func (s *PostgresStore) InsertDocument(ctx context.Context, doc *model.Document) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (`+documentColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		doc.ID, doc.Filename, doc.ContentType, doc.ContentHash, doc.StorageKey, doc.SizeBytes, doc.CreatedAt,
	)
	if err != nil {
		err = db.MapError(err, nil, apperr.Conflict("document with hash %s already exists", doc.ContentHash))
		if apperr.Is(err, apperr.KindConflict) {
			return err
		}
		return eris.Wrapf(err, "postgres: insert document %s", doc.ID)
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	doc, err := scanPgDocument(s.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id,
	))
	if err != nil {
		err = db.MapError(err, apperr.NotFound("document %s not found", id), nil)
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, err
		}
		return nil, eris.Wrapf(err, "postgres: get document %s", id)
	}
	return doc, nil
}

func (s *PostgresStore) GetDocumentByHash(ctx context.Context, hash string) (*model.Document, error) {
	doc, err := scanPgDocument(s.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE content_hash = $1`, hash,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get document by hash")
	}
	return doc, nil
}

func scanPgDocument(row pgx.Row) (*model.Document, error) {
	var d model.Document
	if err := row.Scan(&d.ID, &d.Filename, &d.ContentType, &d.ContentHash, &d.StorageKey, &d.SizeBytes, &d.CreatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}
