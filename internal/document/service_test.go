package document

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/therapy-intel/internal/apperr"
	"github.com/sells-group/therapy-intel/internal/config"
	"github.com/sells-group/therapy-intel/internal/model"
	"github.com/sells-group/therapy-intel/internal/queue"
	"github.com/sells-group/therapy-intel/internal/store"
)

type fixture struct {
	svc     *Service
	store   *store.SQLiteStore
	queue   *queue.Service
	storage *LocalStorage
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	st, err := store.NewSQLite(filepath.Join(dir, "docs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	storage, err := NewLocalStorage(filepath.Join(dir, "blobs"))
	require.NoError(t, err)

	q := queue.New(st, config.QueueConfig{StuckTimeoutMinutes: 60, MaxAttempts: 3, DefaultPriority: 5})
	return &fixture{
		svc:     NewService(st, q, storage),
		store:   st,
		queue:   q,
		storage: storage,
	}
}

func TestIngest_StoresAndEnqueues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	data := []byte("Keytruda Q3 2024 US revenue 4,210")

	res, err := f.svc.Ingest(ctx, "merck q3.txt", "", data, 2)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.False(t, res.JobSkipped)
	require.NotNil(t, res.Job)
	assert.Equal(t, 2, res.Job.Priority)
	assert.Equal(t, res.Document.ID, res.Job.DocumentID)

	doc := res.Document
	assert.Equal(t, "merck q3.txt", doc.Filename)
	assert.Equal(t, int64(len(data)), doc.SizeBytes)
	assert.Len(t, doc.ContentHash, 64)
	assert.Equal(t, "documents/"+doc.ContentHash+"/merck_q3.txt", doc.StorageKey)
	assert.Contains(t, doc.ContentType, "text/plain")

	rc, err := f.storage.Open(ctx, doc.StorageKey)
	require.NoError(t, err)
	defer rc.Close() //nolint:errcheck
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestIngest_IdenticalBytesYieldOneDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	data := []byte("%PDF-1.4 annual report")

	first, err := f.svc.Ingest(ctx, "annual.pdf", "application/pdf", data, 0)
	require.NoError(t, err)

	second, err := f.svc.Ingest(ctx, "annual-copy.pdf", "application/pdf", data, 0)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Document.ID, second.Document.ID)
	assert.Equal(t, "annual.pdf", second.Document.Filename)

	// The first job is still pending, so the second ingest does not enqueue.
	assert.True(t, second.JobSkipped)
	assert.Nil(t, second.Job)

	jobs, err := f.store.ListJobs(ctx, store.JobFilter{DocumentID: first.Document.ID})
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestIngest_ReenqueuesAfterCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	data := []byte("pipeline update")

	first, err := f.svc.Ingest(ctx, "update.txt", "text/plain", data, 0)
	require.NoError(t, err)

	claimed, err := f.queue.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	_, err = f.queue.Complete(ctx, claimed.ID)
	require.NoError(t, err)

	again, err := f.svc.Ingest(ctx, "update.txt", "text/plain", data, 0)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.False(t, again.JobSkipped)
	require.NotNil(t, again.Job)
	assert.NotEqual(t, first.Job.ID, again.Job.ID)
}

func TestIngest_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Ingest(ctx, " ", "", []byte("x"), 0)
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))

	_, err = f.svc.Ingest(ctx, "empty.pdf", "", nil, 0)
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))

	_, err = f.svc.Ingest(ctx, "a.txt", "", []byte("x"), 42)
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))
}

func TestMaterialize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Ingest(ctx, "Q3 Report.PDF", "application/pdf", []byte("%PDF-1.7"), 0)
	require.NoError(t, err)

	p, cleanup, err := f.svc.Materialize(ctx, res.Document)
	require.NoError(t, err)
	assert.Equal(t, "Q3_Report.PDF", filepath.Base(p))

	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(data))

	cleanup()
	_, err = os.Stat(p)
	assert.True(t, os.IsNotExist(err))
}

func TestMaterialize_MissingBlob(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.Materialize(context.Background(), &model.Document{ID: "d", StorageKey: "documents/none/a.pdf"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBlobNotFound)
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"report.pdf":                 "report.pdf",
		"Café Q3 report (final).pdf": "Cafe_Q3_report_final_.pdf",
		"../../etc/passwd":           "passwd",
		`C:\uploads\Merck 10-K.pdf`:  "Merck_10-K.pdf",
		"..":                         "document",
		"":                           "document",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeFilename(in), in)
	}
}

func TestLocalStorage(t *testing.T) {
	ctx := context.Background()
	ls, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, ls.Put(ctx, "documents/abc/a.txt", strings.NewReader("one"), "text/plain"))
	require.NoError(t, ls.Put(ctx, "documents/abc/a.txt", strings.NewReader("two"), "text/plain"))

	rc, err := ls.Open(ctx, "documents/abc/a.txt")
	require.NoError(t, err)
	got, _ := io.ReadAll(rc)
	rc.Close() //nolint:errcheck
	assert.Equal(t, "two", string(got))

	require.NoError(t, ls.Delete(ctx, "documents/abc/a.txt"))
	require.NoError(t, ls.Delete(ctx, "documents/abc/a.txt"))

	_, err = ls.Open(ctx, "documents/abc/a.txt")
	assert.ErrorIs(t, err, ErrBlobNotFound)

	assert.ErrorIs(t, ls.Put(ctx, "../escape", strings.NewReader("x"), ""), ErrInvalidKey)
	_, err = ls.Open(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestNewStorage(t *testing.T) {
	s, err := NewStorage(config.StorageConfig{Driver: "local", LocalDir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &LocalStorage{}, s)

	_, err = NewStorage(config.StorageConfig{Driver: "s3"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown storage driver "s3"`)

	_, err = NewStorage(config.StorageConfig{Driver: "azure", AzureConnectionString: ""})
	assert.Error(t, err)
}
