// Package document ingests uploaded source files: content-hash dedup, blob
// storage, and enqueueing the extraction job.
package document

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/therapy-intel/internal/apperr"
	"github.com/sells-group/therapy-intel/internal/model"
	"github.com/sells-group/therapy-intel/internal/store"
)

// Enqueuer adds extraction jobs. queue.Service satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, documentID string, priority int) (*model.Job, error)
}

// IngestResult reports what Ingest did.
type IngestResult struct {
	Document *model.Document `json:"document"`
	Job      *model.Job      `json:"job,omitempty"`
	// Duplicate is set when identical bytes were already stored.
	Duplicate bool `json:"duplicate"`
	// JobSkipped is set when the document already had an active job.
	JobSkipped bool `json:"job_skipped"`
}

// Service stores documents and queues them for extraction.
type Service struct {
	docs    store.DocumentStore
	queue   Enqueuer
	storage Storage
	now     func() time.Time
	log     *zap.Logger
}

// NewService creates a document service.
func NewService(docs store.DocumentStore, q Enqueuer, storage Storage) *Service {
	return &Service{
		docs:    docs,
		queue:   q,
		storage: storage,
		now:     func() time.Time { return time.Now().UTC() },
		log:     zap.L().With(zap.String("component", "document")),
	}
}

// Ingest stores data once per content hash and enqueues an extraction job.
// A priority of 0 selects the queue default.
func (s *Service) Ingest(ctx context.Context, filename, contentType string, data []byte, priority int) (*IngestResult, error) {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return nil, apperr.BadRequest("filename is required")
	}
	if len(data) == 0 {
		return nil, apperr.BadRequest("document %q is empty", filename)
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	res := &IngestResult{}
	doc, err := s.docs.GetDocumentByHash(ctx, hash)
	if err != nil {
		return nil, err
	}

	if doc != nil {
		res.Duplicate = true
		s.log.Info("document already stored",
			zap.String("document_id", doc.ID),
			zap.String("content_hash", hash),
		)
	} else {
		doc, err = s.store(ctx, filename, contentType, hash, data)
		if err != nil {
			return nil, err
		}
	}
	res.Document = doc

	job, err := s.queue.Enqueue(ctx, doc.ID, priority)
	switch {
	case apperr.Is(err, apperr.KindConflict):
		res.JobSkipped = true
		s.log.Info("active job exists, not enqueued", zap.String("document_id", doc.ID))
	case err != nil:
		return nil, err
	default:
		res.Job = job
	}
	return res, nil
}

func (s *Service) store(ctx context.Context, filename, contentType, hash string, data []byte) (*model.Document, error) {
	if contentType == "" {
		contentType = detectContentType(filename, data)
	}

	doc := &model.Document{
		ID:          uuid.New().String(),
		Filename:    filename,
		ContentType: contentType,
		ContentHash: hash,
		StorageKey:  StorageKey(hash, filename),
		SizeBytes:   int64(len(data)),
		CreatedAt:   s.now(),
	}

	if err := s.storage.Put(ctx, doc.StorageKey, bytes.NewReader(data), contentType); err != nil {
		return nil, err
	}

	if err := s.docs.InsertDocument(ctx, doc); err != nil {
		if !apperr.Is(err, apperr.KindConflict) {
			return nil, err
		}
		// Lost a race with a concurrent upload of the same bytes.
		existing, gerr := s.docs.GetDocumentByHash(ctx, hash)
		if gerr != nil {
			return nil, gerr
		}
		if existing == nil {
			return nil, err
		}
		return existing, nil
	}

	s.log.Info("document stored",
		zap.String("document_id", doc.ID),
		zap.String("storage_key", doc.StorageKey),
		zap.Int64("size_bytes", doc.SizeBytes),
	)
	return doc, nil
}

// Get returns document metadata.
func (s *Service) Get(ctx context.Context, id string) (*model.Document, error) {
	return s.docs.GetDocument(ctx, id)
}

// Materialize copies a stored document into a temporary file named after
// the original filename. The returned cleanup removes it.
func (s *Service) Materialize(ctx context.Context, doc *model.Document) (string, func(), error) {
	rc, err := s.storage.Open(ctx, doc.StorageKey)
	if err != nil {
		return "", nil, eris.Wrapf(err, "document: open %s", doc.ID)
	}
	defer rc.Close() //nolint:errcheck

	dir, err := os.MkdirTemp("", "therapy-doc-*")
	if err != nil {
		return "", nil, eris.Wrap(err, "document: create temp dir")
	}
	cleanup := func() { os.RemoveAll(dir) } //nolint:errcheck

	p := filepath.Join(dir, SanitizeFilename(doc.Filename))
	f, err := os.Create(p)
	if err != nil {
		cleanup()
		return "", nil, eris.Wrap(err, "document: create temp file")
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close() //nolint:errcheck
		cleanup()
		return "", nil, eris.Wrapf(err, "document: copy %s", doc.ID)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, eris.Wrap(err, "document: close temp file")
	}
	return p, cleanup, nil
}

// StorageKey is the blob key for a document: documents/<hash>/<filename>.
func StorageKey(hash, filename string) string {
	return path.Join("documents", hash, SanitizeFilename(filename))
}

// SanitizeFilename reduces a filename to ASCII letters, digits, dots,
// dashes, and underscores. Accented letters lose their marks.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = norm.NFKD.String(name)

	var b strings.Builder
	lastUnderscore := false
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		case r > 127 && isMark(r):
			// combining mark left over from decomposition
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}

	out := strings.Trim(b.String(), "_.")
	if out == "" {
		return "document"
	}
	return out
}

func isMark(r rune) bool {
	return r >= 0x0300 && r <= 0x036f
}

func detectContentType(filename string, data []byte) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); ct != "" {
		return ct
	}
	return http.DetectContentType(data)
}
