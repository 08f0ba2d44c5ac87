package dbstore

import (
	"context"

	"github.com/AnturK/tgstation-server/internal/domain"
)

// SaveChatChannel upserts one instance/provider/channel mapping.
func (s *Store) SaveChatChannel(ctx context.Context, c domain.ChatChannel) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_channels
			(instance_id, provider_id, channel_id, friendly_name, kind, is_admin_channel, is_watchdog_channel, is_update_channel)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (instance_id, provider_id, channel_id) DO UPDATE SET
			friendly_name = $4, kind = $5, is_admin_channel = $6, is_watchdog_channel = $7, is_update_channel = $8
	`, c.InstanceID, c.ProviderID, c.ChannelID, c.FriendlyName, c.Kind, c.IsAdminChannel, c.IsWatchdogChannel, c.IsUpdateChannel)
	return err
}

// DeleteChatChannel removes one instance/provider/channel mapping.
func (s *Store) DeleteChatChannel(ctx context.Context, instanceID int64, providerID, channelID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM chat_channels WHERE instance_id = $1 AND provider_id = $2 AND channel_id = $3
	`, instanceID, providerID, channelID)
	return err
}

// ListChatChannels returns every channel mapping for an instance, the
// set ChatBridge.SetChannels needs on startup and after configuration
// changes.
func (s *Store) ListChatChannels(ctx context.Context, instanceID int64) ([]domain.ChatChannel, error) {
	var rows []struct {
		InstanceID        int64                 `db:"instance_id"`
		ProviderID        string                `db:"provider_id"`
		ChannelID         string                `db:"channel_id"`
		FriendlyName      string                `db:"friendly_name"`
		Kind              domain.ChatChannelKind `db:"kind"`
		IsAdminChannel    bool                  `db:"is_admin_channel"`
		IsWatchdogChannel bool                  `db:"is_watchdog_channel"`
		IsUpdateChannel   bool                  `db:"is_update_channel"`
	}
	if err := s.sdb.SelectContext(ctx, &rows, `
		SELECT instance_id, provider_id, channel_id, friendly_name, kind, is_admin_channel, is_watchdog_channel, is_update_channel
		FROM chat_channels WHERE instance_id = $1 ORDER BY provider_id, channel_id
	`, instanceID); err != nil {
		return nil, err
	}

	out := make([]domain.ChatChannel, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.ChatChannel{
			InstanceID:        r.InstanceID,
			ProviderID:        r.ProviderID,
			ChannelID:         r.ChannelID,
			FriendlyName:      r.FriendlyName,
			Kind:              r.Kind,
			IsAdminChannel:    r.IsAdminChannel,
			IsWatchdogChannel: r.IsWatchdogChannel,
			IsUpdateChannel:   r.IsUpdateChannel,
		})
	}
	return out, nil
}
