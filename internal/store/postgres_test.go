package store

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, DialectPostgres), mock
}

var metadataColumns = []string{"stream_key", "sequence_number", "created_at", "checksum", "file_name", "row_count"}

func TestPostgres_Read(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM dispatch_metadata WHERE stream_key = \$1`).
		WithArgs("learner").
		WillReturnRows(sqlmock.NewRows(metadataColumns).
			AddRow("learner", int64(42), "2019-05-28T09:00:42Z", "abc123", "results/DVTALN190528000042.txt", int64(3)))

	got, ok, err := s.Read(context.Background(), "learner")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, testMetadata(42), got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ReadMissing(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`FROM dispatch_metadata`).
		WithArgs("learner").
		WillReturnRows(sqlmock.NewRows(metadataColumns))

	_, ok, err := s.Read(context.Background(), "learner")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPostgres_WriteIsTransactional(t *testing.T) {
	s, mock := newMockStore(t)
	meta := testMetadata(42)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO dispatch_metadata .+ VALUES \(\$1, \$2, \$3, \$4, \$5, \$6\) ON CONFLICT\(stream_key\) DO UPDATE`).
		WithArgs("learner", int64(42), "2019-05-28T09:00:42Z", "abc123", meta.FileName, int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO dispatch_history`).
		WithArgs("learner", int64(42), "2019-05-28T09:00:42Z", "abc123", meta.FileName, int64(3)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, s.Write(context.Background(), meta))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_WriteRollsBackOnHistoryFailure(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO dispatch_metadata`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO dispatch_history`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.Write(context.Background(), testMetadata(42))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_History(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`FROM dispatch_history WHERE stream_key = \$1 ORDER BY sequence_number DESC, id DESC LIMIT \$2`).
		WithArgs("learner", 5).
		WillReturnRows(sqlmock.NewRows(metadataColumns).
			AddRow("learner", int64(2), "2019-05-28T09:00:02Z", "abc123", "results/DVTALN190528000042.txt", int64(3)).
			AddRow("learner", int64(1), "2019-05-28T09:00:01Z", "abc123", "results/DVTALN190528000042.txt", int64(3)))

	got, err := s.History(context.Background(), "learner", 5)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1}, []int64{got[0].SequenceNumber, got[1].SequenceNumber})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRebind(t *testing.T) {
	pg := New(nil, DialectPostgres)
	lite := New(nil, DialectSQLite)

	assert.Equal(t, "a = $1 AND b = $2", pg.rebind("a = ? AND b = ?"))
	assert.Equal(t, "a = ? AND b = ?", lite.rebind("a = ? AND b = ?"))
}
