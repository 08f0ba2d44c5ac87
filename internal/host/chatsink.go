package host

import (
	"context"

	"github.com/AnturK/tgstation-server/internal/chat"
	"github.com/AnturK/tgstation-server/internal/domain"
)

// chatSink adapts chat.Bridge to the watchdog.EventSink / repo.EventSink
// interfaces, both of which emit synchronously with no caller context.
type chatSink struct {
	bridge *chat.Bridge
}

func (s chatSink) Emit(e domain.Event) {
	s.bridge.Broadcast(context.Background(), e)
}
