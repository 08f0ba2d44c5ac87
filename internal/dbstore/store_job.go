package dbstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/AnturK/tgstation-server/internal/domain"
)

// Save inserts a newly-registered job row, implementing job.Store.
func (s *Store) Save(ctx context.Context, j domain.Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs
			(id, instance_id, description, started_by, started_at, cancel_right_category,
			 cancel_right, progress, status, error_kind, error_message, cancellation_requested)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, j.ID, toNullInt64(j.InstanceID), j.Description, j.StartedBy, j.StartedAt, j.CancelRightCategory,
		uint64(j.CancelRight), j.Progress, j.Status, j.ErrorKind, j.ErrorMessage, j.CancellationRequested)
	return err
}

// UpdateProgress persists a job's latest reported progress.
func (s *Store) UpdateProgress(ctx context.Context, jobID string, progress int32) error {
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET progress = $2 WHERE id = $1`, jobID, progress)
	return err
}

// UpdateTerminal persists a job's final status, error, and stop time.
func (s *Store) UpdateTerminal(ctx context.Context, j domain.Job) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $2, error_kind = $3, error_message = $4, stopped_at = $5,
		    cancellation_requested = $6, progress = $7
		WHERE id = $1
	`, j.ID, j.Status, j.ErrorKind, j.ErrorMessage, nullableTime(j.StoppedAt), j.CancellationRequested, j.Progress)
	return err
}

// Get loads a job by id.
func (s *Store) Get(ctx context.Context, jobID string) (domain.Job, bool, error) {
	var j domain.Job
	var instanceID sql.NullInt64
	var stoppedAt sql.NullTime
	var cancelRight uint64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, instance_id, description, started_by, started_at, stopped_at, cancel_right_category,
		       cancel_right, progress, status, error_kind, error_message, cancellation_requested
		FROM jobs WHERE id = $1
	`, jobID).Scan(&j.ID, &instanceID, &j.Description, &j.StartedBy, &j.StartedAt, &stoppedAt,
		&j.CancelRightCategory, &cancelRight, &j.Progress, &j.Status, &j.ErrorKind, &j.ErrorMessage,
		&j.CancellationRequested)
	if err == sql.ErrNoRows {
		return domain.Job{}, false, nil
	}
	if err != nil {
		return domain.Job{}, false, err
	}
	j.InstanceID = fromNullInt64(instanceID)
	j.CancelRight = domain.Right(cancelRight)
	if stoppedAt.Valid {
		t := stoppedAt.Time
		j.StoppedAt = &t
	}
	return j, true, nil
}

// List returns every job, optionally filtered to one instance.
func (s *Store) List(ctx context.Context, instanceID *int64) ([]domain.Job, error) {
	var rows []struct {
		ID                  string         `db:"id"`
		InstanceID          sql.NullInt64  `db:"instance_id"`
		Description         string         `db:"description"`
		StartedBy           string         `db:"started_by"`
		StartedAt           time.Time      `db:"started_at"`
		StoppedAt           sql.NullTime   `db:"stopped_at"`
		CancelRightCategory string         `db:"cancel_right_category"`
		CancelRight         uint64         `db:"cancel_right"`
		Progress            int32          `db:"progress"`
		Status              domain.JobStatus `db:"status"`
		ErrorKind           domain.JobErrorKind `db:"error_kind"`
		ErrorMessage        string         `db:"error_message"`
		CancellationRequested bool         `db:"cancellation_requested"`
	}

	var err error
	if instanceID != nil {
		err = s.sdb.SelectContext(ctx, &rows, `
			SELECT id, instance_id, description, started_by, started_at, stopped_at, cancel_right_category,
			       cancel_right, progress, status, error_kind, error_message, cancellation_requested
			FROM jobs WHERE instance_id = $1 ORDER BY started_at DESC
		`, *instanceID)
	} else {
		err = s.sdb.SelectContext(ctx, &rows, `
			SELECT id, instance_id, description, started_by, started_at, stopped_at, cancel_right_category,
			       cancel_right, progress, status, error_kind, error_message, cancellation_requested
			FROM jobs ORDER BY started_at DESC
		`)
	}
	if err != nil {
		return nil, err
	}

	out := make([]domain.Job, 0, len(rows))
	for _, r := range rows {
		j := domain.Job{
			ID:                    r.ID,
			InstanceID:            fromNullInt64(r.InstanceID),
			Description:           r.Description,
			StartedBy:             r.StartedBy,
			StartedAt:             r.StartedAt,
			CancelRightCategory:   r.CancelRightCategory,
			CancelRight:           domain.Right(r.CancelRight),
			Progress:              r.Progress,
			Status:                r.Status,
			ErrorKind:             r.ErrorKind,
			ErrorMessage:          r.ErrorMessage,
			CancellationRequested: r.CancellationRequested,
		}
		if r.StoppedAt.Valid {
			t := r.StoppedAt.Time
			j.StoppedAt = &t
		}
		out = append(out, j)
	}
	return out, nil
}

// MarkOrphanedRunningAsCancelled implements job.Store's startup sweep:
// any job left "running" across a restart could not have survived the
// process death that orphaned it, so it is marked errored/cancelled.
func (s *Store) MarkOrphanedRunningAsCancelled(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1, error_kind = $2, error_message = $3, stopped_at = NOW()
		WHERE status = $4
	`, domain.JobErrored, domain.JobErrorCancelled, "orphaned by controller restart", domain.JobRunning)
	return err
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
