package dbstore

import (
	"context"
	"database/sql"

	"github.com/AnturK/tgstation-server/internal/domain"
)

// SaveRepositorySnapshot upserts the persisted view of an instance's
// repository working copy after a clone, fetch, or checkout.
func (s *Store) SaveRepositorySnapshot(ctx context.Context, r domain.RepositorySnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO repository_snapshots (instance_id, origin_url, head_sha, reference, tracking_branch, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (instance_id) DO UPDATE SET
			origin_url = $2, head_sha = $3, reference = $4, tracking_branch = $5, updated_at = NOW()
	`, r.InstanceID, r.OriginURL, r.HeadSHA, r.Reference, r.TrackingBranch)
	return err
}

// GetRepositorySnapshot loads an instance's repository snapshot.
func (s *Store) GetRepositorySnapshot(ctx context.Context, instanceID int64) (domain.RepositorySnapshot, bool, error) {
	var r domain.RepositorySnapshot
	err := s.db.QueryRowContext(ctx, `
		SELECT instance_id, origin_url, head_sha, reference, tracking_branch, updated_at
		FROM repository_snapshots WHERE instance_id = $1
	`, instanceID).Scan(&r.InstanceID, &r.OriginURL, &r.HeadSHA, &r.Reference, &r.TrackingBranch, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.RepositorySnapshot{}, false, nil
	}
	if err != nil {
		return domain.RepositorySnapshot{}, false, err
	}
	return r, true, nil
}
