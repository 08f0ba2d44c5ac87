package dbstore

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/AnturK/tgstation-server/internal/domain"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestStoreSaveJob(t *testing.T) {
	store, mock := newMockStore(t)

	instanceID := int64(7)
	j := domain.Job{
		ID:                  "job-1",
		InstanceID:          &instanceID,
		Description:         "move instance 7",
		StartedBy:           "alice",
		StartedAt:           time.Now(),
		CancelRightCategory: "InstancePermissionSet",
		CancelRight:         domain.RightRelocate,
		Status:              domain.JobRunning,
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO jobs")).
		WithArgs(j.ID, instanceID, j.Description, j.StartedBy, j.StartedAt, j.CancelRightCategory,
			uint64(j.CancelRight), j.Progress, j.Status, j.ErrorKind, j.ErrorMessage, j.CancellationRequested).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.Save(context.Background(), j))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreGetJobNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, instance_id, description")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, ok, err := store.Get(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreMarkOrphanedRunningAsCancelled(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE jobs")).
		WithArgs(domain.JobErrored, domain.JobErrorCancelled, "orphaned by controller restart", domain.JobRunning).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, store.MarkOrphanedRunningAsCancelled(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
