package host

import (
	"context"

	"github.com/AnturK/tgstation-server/internal/domain"
	"github.com/AnturK/tgstation-server/internal/httpapi"
	"github.com/AnturK/tgstation-server/internal/instance"
)

// Update implements httpapi.Updater, adapting the HTTP adapter's
// transport-local request shape onto instance.Manager's.
func (h *Host) Update(ctx context.Context, req httpapi.UpdateRequest) (domain.Instance, error) {
	return h.instances.Update(ctx, instance.UpdateRequest{
		InstanceID:   req.InstanceID,
		CallerID:     req.CallerID,
		CallerRights: req.CallerRights,
		NewName:      req.NewName,
		NewPath:      req.NewPath,
		Online:       req.Online,
		AutoStart:    req.AutoStart,
	})
}
