package documents

import (
	"context"
	"errors"
	"io"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/caseload/pkg/firms"
	"github.com/platinummonkey/caseload/pkg/rbac"
)

var uploadedAt = time.Date(2026, 7, 9, 16, 0, 0, 0, time.UTC)

var documentRowColumns = []string{"id", "firm_id", "case_id", "name", "content_type", "size_bytes", "checksum", "blob_key", "uploaded_by", "created_at"}

type mockGuard struct {
	checkFunc     func(ctx context.Context, firmID string, incoming int64) error
	incrementFunc func(ctx context.Context, firmID string, bytes int64) error
	decrementFunc func(ctx context.Context, firmID string, bytes int64) error
	incremented   int64
	decremented   int64
}

func (m *mockGuard) CheckStorage(ctx context.Context, firmID string, incoming int64) error {
	if m.checkFunc != nil {
		return m.checkFunc(ctx, firmID, incoming)
	}
	return nil
}

func (m *mockGuard) IncrementStorage(ctx context.Context, firmID string, bytes int64) error {
	if m.incrementFunc != nil {
		return m.incrementFunc(ctx, firmID, bytes)
	}
	m.incremented += bytes
	return nil
}

func (m *mockGuard) DecrementStorage(ctx context.Context, firmID string, bytes int64) error {
	if m.decrementFunc != nil {
		return m.decrementFunc(ctx, firmID, bytes)
	}
	m.decremented += bytes
	return nil
}

type serviceFixture struct {
	svc   *Service
	mock  sqlmock.Sqlmock
	blobs *FileSystemBlobStore
	guard *mockGuard
	logs  *test.Hook
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	blobs, err := NewFileSystemBlobStore(t.TempDir())
	require.NoError(t, err)

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	guard := &mockGuard{}
	svc := NewService(NewStore(db), blobs, guard, logger)
	svc.now = func() time.Time { return uploadedAt }
	return &serviceFixture{svc: svc, mock: mock, blobs: blobs, guard: guard, logs: hook}
}

func TestService_Upload(t *testing.T) {
	fx := newServiceFixture(t)

	fx.mock.ExpectExec("INSERT INTO documents").
		WithArgs(sqlmock.AnyArg(), "F", nil, "retainer.pdf", "application/pdf", int64(12),
			sqlmock.AnyArg(), sqlmock.AnyArg(), "u1", uploadedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	doc, err := fx.svc.Upload(context.Background(), "u1", "F", UploadInput{
		Name: "retainer.pdf", ContentType: "application/pdf", Size: 12, Body: strings.NewReader("%PDF-1.7 abc"),
	})
	require.NoError(t, err)
	assert.Equal(t, BlobKey("F", doc.ID), doc.BlobKey)
	assert.Len(t, doc.Checksum, 64)
	assert.Equal(t, int64(12), fx.guard.incremented)

	rc, err := fx.blobs.Get(context.Background(), doc.BlobKey)
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "%PDF-1.7 abc", string(data))
	assert.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestService_UploadOverStorageLimit(t *testing.T) {
	fx := newServiceFixture(t)
	fx.guard.checkFunc = func(_ context.Context, firmID string, incoming int64) error {
		return &firms.LimitExceededError{FirmID: firmID, Resource: firms.ResourceStorage, Current: 100 + incoming, Limit: 100}
	}

	_, err := fx.svc.Upload(context.Background(), "u1", "F", UploadInput{
		Name: "big.zip", Size: 50, Body: strings.NewReader(strings.Repeat("x", 50)),
	})
	require.Error(t, err)
	assert.True(t, firms.IsLimitExceeded(err))
	assert.Equal(t, int64(0), fx.guard.incremented)
	assert.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestService_UploadSizeMismatch(t *testing.T) {
	fx := newServiceFixture(t)

	_, err := fx.svc.Upload(context.Background(), "u1", "F", UploadInput{
		Name: "short.txt", Size: 10, Body: strings.NewReader("abc"),
	})
	var verr *rbac.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "size", verr.Field)

	_, err = fx.svc.Upload(context.Background(), "u1", "F", UploadInput{
		Name: "long.txt", Size: 2, Body: strings.NewReader("abcdef"),
	})
	require.True(t, errors.As(err, &verr))
	assert.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestService_UploadCounterFailureIsLogged(t *testing.T) {
	fx := newServiceFixture(t)
	fx.guard.incrementFunc = func(context.Context, string, int64) error { return errors.New("db gone") }

	fx.mock.ExpectExec("INSERT INTO documents").WillReturnResult(sqlmock.NewResult(0, 1))

	doc, err := fx.svc.Upload(context.Background(), "u1", "F", UploadInput{Name: "a.txt", Size: 1, Body: strings.NewReader("a")})
	require.NoError(t, err)
	require.NotNil(t, doc)

	entry := fx.logs.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "storage counter not incremented after upload", entry.Message)
}

func TestService_UploadMetadataFailureRemovesBlob(t *testing.T) {
	fx := newServiceFixture(t)

	fx.mock.ExpectExec("INSERT INTO documents").WillReturnError(errors.New("insert failed"))

	_, err := fx.svc.Upload(context.Background(), "u1", "F", UploadInput{Name: "a.txt", Size: 1, Body: strings.NewReader("a")})
	require.Error(t, err)
	assert.Equal(t, int64(0), fx.guard.incremented)
}

func TestService_Delete(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	key := BlobKey("F", "d1")
	require.NoError(t, fx.blobs.Put(ctx, key, strings.NewReader("hello"), 5, "text/plain"))

	fx.mock.ExpectQuery(`SELECT (.+) FROM documents WHERE id = \$1 AND firm_id = \$2`).
		WithArgs("d1", "F").
		WillReturnRows(sqlmock.NewRows(documentRowColumns).
			AddRow("d1", "F", nil, "hello.txt", "text/plain", 5, "abc", key, "u1", uploadedAt))
	fx.mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM documents WHERE id = $1 AND firm_id = $2`)).
		WithArgs("d1", "F").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, fx.svc.Delete(ctx, "F", "d1"))
	assert.Equal(t, int64(5), fx.guard.decremented)

	_, err := fx.blobs.Get(ctx, key)
	assert.ErrorIs(t, err, ErrBlobNotFound)
	assert.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestService_DeleteOtherFirm(t *testing.T) {
	fx := newServiceFixture(t)

	fx.mock.ExpectQuery("SELECT (.+) FROM documents").
		WithArgs("d1", "G").
		WillReturnRows(sqlmock.NewRows(documentRowColumns))

	assert.ErrorIs(t, fx.svc.Delete(context.Background(), "G", "d1"), ErrNotFound)
	assert.Equal(t, int64(0), fx.guard.decremented)
}

func TestService_OpenMissingBlob(t *testing.T) {
	fx := newServiceFixture(t)

	fx.mock.ExpectQuery("SELECT (.+) FROM documents").
		WillReturnRows(sqlmock.NewRows(documentRowColumns).
			AddRow("d1", "F", "c1", "lost.txt", "text/plain", 5, "abc", BlobKey("F", "d1"), "u1", uploadedAt))

	_, _, err := fx.svc.Open(context.Background(), "F", "d1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ListScoped(t *testing.T) {
	fx := newServiceFixture(t)

	fx.mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM documents WHERE firm_id = $1 AND id = ANY($2) AND case_id = $3`)).
		WithArgs("F", pq.Array([]string{"d1"}), "c1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	fx.mock.ExpectQuery(`SELECT (.+) FROM documents WHERE (.+) LIMIT \$4 OFFSET \$5`).
		WithArgs("F", pq.Array([]string{"d1"}), "c1", 20, 0).
		WillReturnRows(sqlmock.NewRows(documentRowColumns).
			AddRow("d1", "F", "c1", "brief.docx", "application/msword", 2048, "abc", BlobKey("F", "d1"), "u1", uploadedAt))

	docs, total, err := fx.svc.List(context.Background(), "F", rbac.ResourceScope{IDs: []string{"d1"}}, ListOptions{Limit: 20, CaseID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, docs, 1)
	assert.Equal(t, int64(2048), docs[0].SizeBytes)
	assert.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestStore_ListNone(t *testing.T) {
	fx := newServiceFixture(t)

	docs, total, err := fx.svc.List(context.Background(), "F", rbac.ResourceScope{}, ListOptions{Limit: 20})
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.Equal(t, 0, total)
}
