package dbstore

import (
	"context"
	"encoding/json"

	"github.com/AnturK/tgstation-server/internal/domain"
)

// SaveDeployment persists a compile job's record once deployment.Store
// has staged it, so deployment history survives a controller restart.
func (s *Store) SaveDeployment(ctx context.Context, d domain.Deployment) error {
	testMerges, err := json.Marshal(d.ActiveTestMerges)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO deployments
			(id, instance_id, job_id, revision_sha, origin_sha, active_test_merges, minimum_security,
			 compiler_version, artifact_name, dme_name, output_display_name, primary_dir, secondary_dir,
			 is_latest, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, d.ID, d.InstanceID, d.JobID, d.RevisionSHA, d.OriginSHA, testMerges, d.MinimumSecurity,
		d.CompilerVersion, d.ArtifactName, d.DMEName, d.OutputDisplayName, d.PrimaryDir, d.SecondaryDir,
		d.IsLatest, d.IsActive, d.CreatedAt)
	return err
}

// UpdateDeploymentFlags persists the IsLatest/IsActive/PrimaryDir/SecondaryDir
// fields deployment.Store mutates on Commit and PromoteStaged.
func (s *Store) UpdateDeploymentFlags(ctx context.Context, d domain.Deployment) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE deployments
		SET is_latest = $2, is_active = $3, primary_dir = $4, secondary_dir = $5
		WHERE id = $1
	`, d.ID, d.IsLatest, d.IsActive, d.PrimaryDir, d.SecondaryDir)
	return err
}

// ListDeployments returns an instance's deployment history, newest first.
func (s *Store) ListDeployments(ctx context.Context, instanceID int64) ([]domain.Deployment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, instance_id, job_id, revision_sha, origin_sha, active_test_merges, minimum_security,
		       compiler_version, artifact_name, dme_name, output_display_name, primary_dir, secondary_dir,
		       is_latest, is_active, created_at
		FROM deployments WHERE instance_id = $1 ORDER BY created_at DESC
	`, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Deployment
	for rows.Next() {
		var d domain.Deployment
		var testMerges []byte
		if err := rows.Scan(&d.ID, &d.InstanceID, &d.JobID, &d.RevisionSHA, &d.OriginSHA, &testMerges,
			&d.MinimumSecurity, &d.CompilerVersion, &d.ArtifactName, &d.DMEName, &d.OutputDisplayName,
			&d.PrimaryDir, &d.SecondaryDir, &d.IsLatest, &d.IsActive, &d.CreatedAt); err != nil {
			return nil, err
		}
		if len(testMerges) > 0 {
			if err := json.Unmarshal(testMerges, &d.ActiveTestMerges); err != nil {
				return nil, err
			}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeleteDeployment removes a deployment's record once its on-disk
// staging directory has been reclaimed by deployment.Store.Delete.
func (s *Store) DeleteDeployment(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM deployments WHERE id = $1`, id)
	return err
}
