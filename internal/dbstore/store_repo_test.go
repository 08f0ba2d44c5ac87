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

func TestStoreSaveRepositorySnapshot(t *testing.T) {
	store, mock := newMockStore(t)

	r := domain.RepositorySnapshot{
		InstanceID:     2,
		OriginURL:      "https://example.com/repo.git",
		HeadSHA:        "abc123",
		Reference:      "main",
		TrackingBranch: true,
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO repository_snapshots")).
		WithArgs(r.InstanceID, r.OriginURL, r.HeadSHA, r.Reference, r.TrackingBranch).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.SaveRepositorySnapshot(context.Background(), r))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreGetRepositorySnapshotNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT instance_id, origin_url, head_sha, reference, tracking_branch")).
		WithArgs(int64(2)).
		WillReturnError(sql.ErrNoRows)

	_, ok, err := store.GetRepositorySnapshot(context.Background(), 2)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreGetRepositorySnapshotFound(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT instance_id, origin_url, head_sha, reference, tracking_branch")).
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"instance_id", "origin_url", "head_sha", "reference", "tracking_branch", "updated_at"}).
			AddRow(int64(2), "https://example.com/repo.git", "abc123", "main", true, now))

	got, ok, err := store.GetRepositorySnapshot(context.Background(), 2)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "abc123", got.HeadSHA)
	require.NoError(t, mock.ExpectationsWereMet())
}
