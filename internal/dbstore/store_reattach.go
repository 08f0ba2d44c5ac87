package dbstore

import (
	"context"
	"database/sql"

	"github.com/AnturK/tgstation-server/internal/domain"
)

// SaveReattachRecord upserts the process-rebind record DreamDaemon's
// watchdog writes before the controller shuts down cleanly.
func (s *Store) SaveReattachRecord(ctx context.Context, r domain.ReattachRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reattach_records
			(instance_id, process_id, access_identifier, bound_port, is_primary, reboot_state, security_level)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (instance_id, is_primary) DO UPDATE SET
			process_id = $2, access_identifier = $3, bound_port = $4, reboot_state = $6, security_level = $7
	`, r.InstanceID, r.ProcessID, r.AccessIdentifier, r.BoundPort, r.IsPrimary, r.RebootState, r.SecurityLevel)
	return err
}

// GetReattachRecord loads the reattach record for an instance, if any.
// A missing record means the prior session shut down without leaving
// one (or was never started), not an error.
func (s *Store) GetReattachRecord(ctx context.Context, instanceID int64) (domain.ReattachRecord, bool, error) {
	var r domain.ReattachRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT instance_id, process_id, access_identifier, bound_port, is_primary, reboot_state, security_level
		FROM reattach_records WHERE instance_id = $1
	`, instanceID).Scan(&r.InstanceID, &r.ProcessID, &r.AccessIdentifier, &r.BoundPort, &r.IsPrimary,
		&r.RebootState, &r.SecurityLevel)
	if err == sql.ErrNoRows {
		return domain.ReattachRecord{}, false, nil
	}
	if err != nil {
		return domain.ReattachRecord{}, false, err
	}
	return r, true, nil
}
