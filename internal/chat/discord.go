package chat

import (
	"context"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// DiscordProvider is a full-duplex ChatBridge provider: it delivers
// classified events to Discord channels and receives custom commands
// typed with a configurable command prefix (spec §4.6, SPEC_FULL.md
// ChatBridge providers).
type DiscordProvider struct {
	id      string
	prefix  string
	session *discordgo.Session

	onCommand CommandHandler
}

// NewDiscordProvider creates a provider authenticated with a bot token.
// The session is not opened until Connect.
func NewDiscordProvider(id, botToken, commandPrefix string) (*DiscordProvider, error) {
	session, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, err
	}
	if commandPrefix == "" {
		commandPrefix = "!"
	}
	return &DiscordProvider{id: id, prefix: commandPrefix, session: session}, nil
}

// ID implements Provider.
func (d *DiscordProvider) ID() string { return d.id }

// OnCommand implements CommandCapable.
func (d *DiscordProvider) OnCommand(handler CommandHandler) {
	d.onCommand = handler
}

// Connect opens the Discord gateway session and registers the message
// handler that feeds custom commands back to the Bridge.
func (d *DiscordProvider) Connect(ctx context.Context) error {
	d.session.AddHandler(d.onMessageCreate)
	return d.session.Open()
}

// Disconnect closes the gateway session.
func (d *DiscordProvider) Disconnect(ctx context.Context) error {
	return d.session.Close()
}

// Deliver sends message to channelID.
func (d *DiscordProvider) Deliver(ctx context.Context, channelID, message string) error {
	_, err := d.session.ChannelMessageSend(channelID, message)
	return err
}

func (d *DiscordProvider) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if d.onCommand == nil || m.Author == nil || m.Author.Bot {
		return
	}
	if !strings.HasPrefix(m.Content, d.prefix) {
		return
	}

	fields := strings.Fields(strings.TrimPrefix(m.Content, d.prefix))
	if len(fields) == 0 {
		return
	}

	reply, err := d.onCommand(context.Background(), m.ChannelID, fields[0], fields[1:])
	if err != nil || reply == "" {
		return
	}
	_, _ = s.ChannelMessageSend(m.ChannelID, reply)
}
