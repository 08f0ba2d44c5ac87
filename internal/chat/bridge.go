package chat

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/AnturK/tgstation-server/infrastructure/logging"
	"github.com/AnturK/tgstation-server/infrastructure/resilience"
	core "github.com/AnturK/tgstation-server/internal/app/core/service"
	"github.com/AnturK/tgstation-server/internal/domain"
)

// CustomCommand is a chat-invocable command sourced from a deployment's
// artifacts (spec §4.6 "source custom commands from deployment
// artifacts").
type CustomCommand struct {
	Name     string `json:"name"`
	Response string `json:"response"`
}

// customCommandsFile is the well-known artifact name a deployment's
// primary directory may carry.
const customCommandsFile = "chatcommands.json"

// Bridge is one instance's ChatBridge: its provider set and the
// channels currently materialised from settings.
type Bridge struct {
	instanceID int64
	log        *logging.Logger
	retry      resilience.RetryConfig

	mu       sync.RWMutex
	providers map[string]Provider
	channels  []domain.ChatChannel
	commands  map[string]CustomCommand
}

// New creates an empty Bridge for instanceID.
func New(instanceID int64, log *logging.Logger) *Bridge {
	if log == nil {
		log = logging.NewFromEnv("chat-bridge")
	}
	return &Bridge{
		instanceID: instanceID,
		log:        log,
		retry:      resilience.DefaultRetryConfig(),
		providers:  make(map[string]Provider),
		commands:   make(map[string]CustomCommand),
	}
}

// Name implements system.Service.
func (b *Bridge) Name() string { return "chat-bridge" }

// Descriptor implements system.DescriptorProvider.
func (b *Bridge) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         "chat-bridge",
		Domain:       "chat",
		Layer:        core.LayerAdapter,
		Capabilities: []string{"broadcast", "custom-commands"},
	}
}

// Start connects every registered provider. A provider that fails to
// connect is logged and skipped rather than failing the whole Bridge
// (spec §4.6 "Provider failures are isolated").
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.RLock()
	providers := make([]Provider, 0, len(b.providers))
	for _, p := range b.providers {
		providers = append(providers, p)
	}
	b.mu.RUnlock()

	for _, p := range providers {
		if err := p.Connect(ctx); err != nil {
			b.log.Error(ctx, "connect chat provider", err, map[string]interface{}{"provider": p.ID()})
		}
	}
	return nil
}

// Stop disconnects every registered provider.
func (b *Bridge) Stop(ctx context.Context) error {
	b.mu.RLock()
	providers := make([]Provider, 0, len(b.providers))
	for _, p := range b.providers {
		providers = append(providers, p)
	}
	b.mu.RUnlock()

	for _, p := range providers {
		if err := p.Disconnect(ctx); err != nil {
			b.log.Error(ctx, "disconnect chat provider", err, map[string]interface{}{"provider": p.ID()})
		}
	}
	return nil
}

// AddProvider registers p, wiring its command handler (if it supports
// inbound commands) to the Bridge's custom-command table.
func (b *Bridge) AddProvider(p Provider) {
	if cc, ok := p.(CommandCapable); ok {
		cc.OnCommand(b.handleCommand)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.providers[p.ID()] = p
}

// RemoveProvider drops a provider by id; it is not disconnected, the
// caller is expected to have done that already.
func (b *Bridge) RemoveProvider(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.providers, id)
}

// SetChannels re-materialises the channel list (spec §4.6
// "re-materialise channel list on change").
func (b *Bridge) SetChannels(channels []domain.ChatChannel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels = append([]domain.ChatChannel(nil), channels...)
}

// LoadCustomCommands reads the custom command table from a committed
// deployment's primary directory, if present.
func (b *Bridge) LoadCustomCommands(deploymentDir string) error {
	data, err := os.ReadFile(filepath.Join(deploymentDir, customCommandsFile))
	if err != nil {
		if os.IsNotExist(err) {
			b.mu.Lock()
			b.commands = make(map[string]CustomCommand)
			b.mu.Unlock()
			return nil
		}
		return err
	}

	var commands []CustomCommand
	if err := json.Unmarshal(data, &commands); err != nil {
		return err
	}

	table := make(map[string]CustomCommand, len(commands))
	for _, c := range commands {
		table[c.Name] = c
	}

	b.mu.Lock()
	b.commands = table
	b.mu.Unlock()
	return nil
}

// Broadcast delivers event to every channel whose Kind matches
// event.Channel, isolating each provider's failure from the rest (spec
// §4.6 "one provider's error must not stop delivery to others") and
// retrying a failing delivery with bounded backoff.
func (b *Bridge) Broadcast(ctx context.Context, event domain.Event) {
	b.mu.RLock()
	providers := b.providers
	channels := b.channels
	retryCfg := b.retry
	b.mu.RUnlock()

	for _, ch := range channels {
		if ch.InstanceID != event.InstanceID || ch.Kind != event.Channel {
			continue
		}
		p, ok := providers[ch.ProviderID]
		if !ok {
			continue
		}

		channelID := ch.ChannelID
		provider := p
		err := resilience.Retry(ctx, retryCfg, func() error {
			return provider.Deliver(ctx, channelID, event.Message)
		})
		if err != nil {
			b.log.Error(ctx, "deliver chat event", err, map[string]interface{}{
				"provider": provider.ID(),
				"channel":  channelID,
				"kind":     string(event.Kind),
			})
		}
	}
}

func (b *Bridge) handleCommand(ctx context.Context, channelID, command string, args []string) (string, error) {
	b.mu.RLock()
	cmd, ok := b.commands[command]
	b.mu.RUnlock()
	if !ok {
		return "", nil
	}
	return cmd.Response, nil
}
