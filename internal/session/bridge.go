package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
)

// BridgeEvent is an inbound bridge request routed to a session by its
// access identifier. The RPC/topic wire format itself is out of scope
// (spec §1 Non-goals) — only the routing contract is modelled here.
type BridgeEvent struct {
	AccessIdentifier string
	Payload          []byte
}

// BridgeHandler processes a routed inbound bridge request.
type BridgeHandler func(BridgeEvent)

// BridgeRegistrar routes inbound bridge requests to the session whose
// access identifier matches (spec §4.5 "Bridge registration").
type BridgeRegistrar interface {
	Register(accessIdentifier string, handler BridgeHandler)
	Deregister(accessIdentifier string)
	Route(event BridgeEvent) bool
}

// InMemoryBridgeRegistrar is the default, process-local BridgeRegistrar.
type InMemoryBridgeRegistrar struct {
	mu       sync.RWMutex
	handlers map[string]BridgeHandler
}

// NewInMemoryBridgeRegistrar creates an empty registrar.
func NewInMemoryBridgeRegistrar() *InMemoryBridgeRegistrar {
	return &InMemoryBridgeRegistrar{handlers: make(map[string]BridgeHandler)}
}

func (r *InMemoryBridgeRegistrar) Register(accessIdentifier string, handler BridgeHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[accessIdentifier] = handler
}

func (r *InMemoryBridgeRegistrar) Deregister(accessIdentifier string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, accessIdentifier)
}

func (r *InMemoryBridgeRegistrar) Route(event BridgeEvent) bool {
	r.mu.RLock()
	handler, ok := r.handlers[event.AccessIdentifier]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	handler(event)
	return true
}

// generateAccessIdentifier produces a cryptographically random
// identifier with at least 128 bits of entropy (spec §4.5 "Launch").
func generateAccessIdentifier() (string, error) {
	buf := make([]byte, 24) // 192 bits
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate access identifier: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
