package chat

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/AnturK/tgstation-server/internal/domain"
)

type fakeProvider struct {
	id string

	mu        sync.Mutex
	delivered []string
	failNext  int

	onCommand CommandHandler
}

func (f *fakeProvider) ID() string { return f.id }

func (f *fakeProvider) Connect(ctx context.Context) error { return nil }

func (f *fakeProvider) Disconnect(ctx context.Context) error { return nil }

func (f *fakeProvider) Deliver(ctx context.Context, channelID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return errTransient
	}
	f.delivered = append(f.delivered, channelID+":"+message)
	return nil
}

func (f *fakeProvider) OnCommand(handler CommandHandler) { f.onCommand = handler }

var errTransient = &testError{"transient delivery failure"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func TestBroadcastRoutesToMatchingChannelKindOnly(t *testing.T) {
	b := New(1, nil)
	p := &fakeProvider{id: "discord-1"}
	b.AddProvider(p)
	b.SetChannels([]domain.ChatChannel{
		{InstanceID: 1, ProviderID: "discord-1", ChannelID: "chan-dev", Kind: domain.ChatChannelDev},
		{InstanceID: 1, ProviderID: "discord-1", ChannelID: "chan-game", Kind: domain.ChatChannelGame},
	})

	b.Broadcast(context.Background(), domain.Event{
		InstanceID: 1,
		Kind:       domain.EventDeployStart,
		Channel:    domain.ChatChannelDev,
		Message:    "deploying",
	})

	if len(p.delivered) != 1 || p.delivered[0] != "chan-dev:deploying" {
		t.Fatalf("delivered = %v, want exactly one delivery to chan-dev", p.delivered)
	}
}

func TestBroadcastIsolatesOneProviderFailureFromAnother(t *testing.T) {
	b := New(1, nil)
	b.retry.MaxAttempts = 1
	failing := &fakeProvider{id: "failing", failNext: 1}
	healthy := &fakeProvider{id: "healthy"}
	b.AddProvider(failing)
	b.AddProvider(healthy)
	b.SetChannels([]domain.ChatChannel{
		{InstanceID: 1, ProviderID: "failing", ChannelID: "chan", Kind: domain.ChatChannelWatchdog},
		{InstanceID: 1, ProviderID: "healthy", ChannelID: "chan", Kind: domain.ChatChannelWatchdog},
	})

	b.Broadcast(context.Background(), domain.Event{
		InstanceID: 1,
		Kind:       domain.EventWatchdogCrash,
		Channel:    domain.ChatChannelWatchdog,
		Message:    "crashed",
	})

	if len(healthy.delivered) != 1 {
		t.Fatalf("healthy provider delivered = %v, want one delivery despite the other provider failing", healthy.delivered)
	}
}

func TestBroadcastSkipsOtherInstances(t *testing.T) {
	b := New(1, nil)
	p := &fakeProvider{id: "discord-1"}
	b.AddProvider(p)
	b.SetChannels([]domain.ChatChannel{
		{InstanceID: 2, ProviderID: "discord-1", ChannelID: "chan", Kind: domain.ChatChannelDev},
	})

	b.Broadcast(context.Background(), domain.Event{InstanceID: 1, Channel: domain.ChatChannelDev, Message: "x"})

	if len(p.delivered) != 0 {
		t.Fatalf("delivered = %v, want none (event is for a different instance)", p.delivered)
	}
}

func TestLoadCustomCommandsAndHandle(t *testing.T) {
	dir := t.TempDir()
	commands := []CustomCommand{{Name: "status", Response: "all systems nominal"}}
	data, err := json.Marshal(commands)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, customCommandsFile), data, 0o644); err != nil {
		t.Fatal(err)
	}

	b := New(1, nil)
	if err := b.LoadCustomCommands(dir); err != nil {
		t.Fatalf("LoadCustomCommands() error = %v", err)
	}

	reply, err := b.handleCommand(context.Background(), "chan", "status", nil)
	if err != nil {
		t.Fatalf("handleCommand() error = %v", err)
	}
	if reply != "all systems nominal" {
		t.Fatalf("reply = %q, want %q", reply, "all systems nominal")
	}

	if reply, _ := b.handleCommand(context.Background(), "chan", "unknown", nil); reply != "" {
		t.Fatalf("reply for unknown command = %q, want empty", reply)
	}
}

func TestLoadCustomCommandsMissingFileClearsTable(t *testing.T) {
	b := New(1, nil)
	b.commands["stale"] = CustomCommand{Name: "stale", Response: "x"}

	if err := b.LoadCustomCommands(t.TempDir()); err != nil {
		t.Fatalf("LoadCustomCommands() error = %v", err)
	}
	if len(b.commands) != 0 {
		t.Fatalf("commands = %v, want empty after loading a directory with no artifact", b.commands)
	}
}
