package dbstore

import (
	"context"
	"database/sql"
	"strconv"

	apierrors "github.com/AnturK/tgstation-server/infrastructure/errors"
	"github.com/AnturK/tgstation-server/internal/domain"
)

// Create inserts a new instance row, implementing instance.Store.
func (s *Store) Create(ctx context.Context, inst domain.Instance) (domain.Instance, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO instances (name, path, online, auto_start, detached, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`, inst.Name, inst.Path, inst.Online, inst.AutoStart, inst.Detached).
		Scan(&inst.ID, &inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		return domain.Instance{}, err
	}
	return inst, nil
}

// Update persists every mutable field on inst.
func (s *Store) Update(ctx context.Context, inst domain.Instance) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE instances
		SET name = $2, path = $3, online = $4, auto_start = $5, detached = $6, updated_at = NOW()
		WHERE id = $1
	`, inst.ID, inst.Name, inst.Path, inst.Online, inst.AutoStart, inst.Detached)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apierrors.NotFound("instance", int64ToString(inst.ID))
	}
	return nil
}

// Delete removes an instance row.
func (s *Store) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM instances WHERE id = $1`, id)
	return err
}

// Get loads an instance by id.
func (s *Store) Get(ctx context.Context, id int64) (domain.Instance, bool, error) {
	var inst domain.Instance
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, path, online, auto_start, detached, created_at, updated_at
		FROM instances WHERE id = $1
	`, id).Scan(&inst.ID, &inst.Name, &inst.Path, &inst.Online, &inst.AutoStart, &inst.Detached, &inst.CreatedAt, &inst.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.Instance{}, false, nil
	}
	if err != nil {
		return domain.Instance{}, false, err
	}
	return inst, true, nil
}

// List returns every instance, oldest first. Uses sqlx.SelectContext
// since it is a read-heavy, multi-row query with no filter branching.
func (s *Store) List(ctx context.Context) ([]domain.Instance, error) {
	var rows []struct {
		ID        int64  `db:"id"`
		Name      string `db:"name"`
		Path      string `db:"path"`
		Online    bool   `db:"online"`
		AutoStart bool   `db:"auto_start"`
		Detached  bool   `db:"detached"`
		CreatedAt sql.NullTime `db:"created_at"`
		UpdatedAt sql.NullTime `db:"updated_at"`
	}
	if err := s.sdb.SelectContext(ctx, &rows, `
		SELECT id, name, path, online, auto_start, detached, created_at, updated_at
		FROM instances ORDER BY id
	`); err != nil {
		return nil, err
	}

	out := make([]domain.Instance, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.Instance{
			ID:        r.ID,
			Name:      r.Name,
			Path:      r.Path,
			Online:    r.Online,
			AutoStart: r.AutoStart,
			Detached:  r.Detached,
			CreatedAt: fromNullTime(r.CreatedAt),
			UpdatedAt: fromNullTime(r.UpdatedAt),
		})
	}
	return out, nil
}

// GrantFullRights gives userID every bit across every right category
// (spec §4.1 "grant the caller full per-instance rights").
func (s *Store) GrantFullRights(ctx context.Context, instanceID int64, userID string) error {
	full := ^domain.Right(0)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instance_users
			(instance_id, user_id, instance_permission_set, repository_rights, byond_rights,
			 dream_daemon_rights, dream_maker_rights, chat_bot_rights, configuration_rights)
		VALUES ($1, $2, $3, $3, $3, $3, $3, $3, $3)
		ON CONFLICT (instance_id, user_id) DO UPDATE SET
			instance_permission_set = $3, repository_rights = $3, byond_rights = $3,
			dream_daemon_rights = $3, dream_maker_rights = $3, chat_bot_rights = $3, configuration_rights = $3
	`, instanceID, userID, uint64(full))
	return err
}

// RemoveReattachRecord deletes instanceID's reattach record, if any
// (spec §4.1 "Detach ... cascades removal of reattach records").
func (s *Store) RemoveReattachRecord(ctx context.Context, instanceID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM reattach_records WHERE instance_id = $1`, instanceID)
	return err
}

// GetInstanceUser loads a user's per-instance rights row.
func (s *Store) GetInstanceUser(ctx context.Context, instanceID int64, userID string) (domain.InstanceUser, bool, error) {
	var u domain.InstanceUser
	var instancePerm, repoRights, byondRights, ddRights, dmRights, chatRights, configRights uint64
	err := s.db.QueryRowContext(ctx, `
		SELECT instance_id, user_id, instance_permission_set, repository_rights, byond_rights,
		       dream_daemon_rights, dream_maker_rights, chat_bot_rights, configuration_rights
		FROM instance_users WHERE instance_id = $1 AND user_id = $2
	`, instanceID, userID).Scan(&u.InstanceID, &u.UserID, &instancePerm, &repoRights, &byondRights,
		&ddRights, &dmRights, &chatRights, &configRights)
	if err == sql.ErrNoRows {
		return domain.InstanceUser{}, false, nil
	}
	if err != nil {
		return domain.InstanceUser{}, false, err
	}
	u.InstancePermissionSet = domain.Right(instancePerm)
	u.RepositoryRights = domain.Right(repoRights)
	u.ByondRights = domain.Right(byondRights)
	u.DreamDaemonRights = domain.Right(ddRights)
	u.DreamMakerRights = domain.Right(dmRights)
	u.ChatBotRights = domain.Right(chatRights)
	u.ConfigurationRights = domain.Right(configRights)
	return u, true, nil
}

// SetInstanceUser upserts a user's per-instance rights row.
func (s *Store) SetInstanceUser(ctx context.Context, u domain.InstanceUser) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instance_users
			(instance_id, user_id, instance_permission_set, repository_rights, byond_rights,
			 dream_daemon_rights, dream_maker_rights, chat_bot_rights, configuration_rights)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (instance_id, user_id) DO UPDATE SET
			instance_permission_set = $3, repository_rights = $4, byond_rights = $5,
			dream_daemon_rights = $6, dream_maker_rights = $7, chat_bot_rights = $8, configuration_rights = $9
	`, u.InstanceID, u.UserID, uint64(u.InstancePermissionSet), uint64(u.RepositoryRights), uint64(u.ByondRights),
		uint64(u.DreamDaemonRights), uint64(u.DreamMakerRights), uint64(u.ChatBotRights), uint64(u.ConfigurationRights))
	return err
}

// ListInstanceUsers lists every rights row for an instance.
func (s *Store) ListInstanceUsers(ctx context.Context, instanceID int64) ([]domain.InstanceUser, error) {
	var rows []struct {
		InstanceID          int64  `db:"instance_id"`
		UserID              string `db:"user_id"`
		InstancePermissionSet uint64 `db:"instance_permission_set"`
		RepositoryRights    uint64 `db:"repository_rights"`
		ByondRights         uint64 `db:"byond_rights"`
		DreamDaemonRights   uint64 `db:"dream_daemon_rights"`
		DreamMakerRights    uint64 `db:"dream_maker_rights"`
		ChatBotRights       uint64 `db:"chat_bot_rights"`
		ConfigurationRights uint64 `db:"configuration_rights"`
	}
	if err := s.sdb.SelectContext(ctx, &rows, `
		SELECT instance_id, user_id, instance_permission_set, repository_rights, byond_rights,
		       dream_daemon_rights, dream_maker_rights, chat_bot_rights, configuration_rights
		FROM instance_users WHERE instance_id = $1 ORDER BY user_id
	`, instanceID); err != nil {
		return nil, err
	}

	out := make([]domain.InstanceUser, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.InstanceUser{
			InstanceID:            r.InstanceID,
			UserID:                r.UserID,
			InstancePermissionSet: domain.Right(r.InstancePermissionSet),
			RepositoryRights:      domain.Right(r.RepositoryRights),
			ByondRights:           domain.Right(r.ByondRights),
			DreamDaemonRights:     domain.Right(r.DreamDaemonRights),
			DreamMakerRights:      domain.Right(r.DreamMakerRights),
			ChatBotRights:         domain.Right(r.ChatBotRights),
			ConfigurationRights:   domain.Right(r.ConfigurationRights),
		})
	}
	return out, nil
}

func int64ToString(v int64) string {
	return strconv.FormatInt(v, 10)
}
