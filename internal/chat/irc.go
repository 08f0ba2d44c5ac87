package chat

import (
	"context"
	"fmt"
	"net"
	"net/textproto"
)

// IRCProvider is a minimal send-only ChatBridge provider over
// net/textproto (SPEC_FULL.md ChatBridge providers: "no suitable
// third-party IRC client library appears anywhere in the example
// corpus"). It only ever PRIVMSGs a fixed set of channels; it never
// parses inbound traffic, so it does not implement CommandCapable.
type IRCProvider struct {
	id       string
	addr     string
	nick     string
	realname string

	conn *textproto.Conn
}

// NewIRCProvider creates a provider that will dial addr on Connect.
func NewIRCProvider(id, addr, nick string) *IRCProvider {
	return &IRCProvider{id: id, addr: addr, nick: nick, realname: nick}
}

// ID implements Provider.
func (p *IRCProvider) ID() string { return p.id }

// Connect dials addr and registers the connection with NICK/USER.
func (p *IRCProvider) Connect(ctx context.Context) error {
	var d net.Dialer
	rawConn, err := d.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		return fmt.Errorf("dial irc server: %w", err)
	}

	conn := textproto.NewConn(rawConn)
	if err := conn.PrintfLine("NICK %s", p.nick); err != nil {
		conn.Close()
		return fmt.Errorf("send NICK: %w", err)
	}
	if err := conn.PrintfLine("USER %s 0 * :%s", p.nick, p.realname); err != nil {
		conn.Close()
		return fmt.Errorf("send USER: %w", err)
	}

	p.conn = conn
	return nil
}

// Disconnect sends QUIT and closes the connection.
func (p *IRCProvider) Disconnect(ctx context.Context) error {
	if p.conn == nil {
		return nil
	}
	_ = p.conn.PrintfLine("QUIT :shutting down")
	return p.conn.Close()
}

// Deliver sends message to channelID as a single PRIVMSG line. The
// caller is responsible for not embedding newlines in message; the IRC
// wire format has no line-continuation.
func (p *IRCProvider) Deliver(ctx context.Context, channelID, message string) error {
	if p.conn == nil {
		return fmt.Errorf("irc provider %s is not connected", p.id)
	}
	return p.conn.PrintfLine("PRIVMSG %s :%s", channelID, message)
}
