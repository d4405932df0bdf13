package session

import (
	"context"
	"fmt"
	"sync"

	"gamesmith/pkg/logx"
)

// Cache maps roster agent keys to live session IDs so every task for the
// same agent continues one conversation.
//
// The mutex guards only the map. It is released across the transport create
// call, so two concurrent first-time lookups for the same key may both
// create a session; the second store wins and the first session is simply
// never used again. That is the documented trade: no lock held across I/O.
type Cache struct {
	logger    *logx.Logger
	transport Transport
	sessions  map[string]string
	mu        sync.Mutex
}

// NewCache creates an empty session cache over transport.
func NewCache(transport Transport) *Cache {
	return &Cache{
		logger:    logx.NewLogger("session"),
		transport: transport,
		sessions:  make(map[string]string),
	}
}

// GetOrCreate returns the cached session ID for agentKey, creating a new
// session titled "Agent: <agentKey>" on first use. Creation failures cache
// nothing.
func (c *Cache) GetOrCreate(ctx context.Context, agentKey string) (string, error) {
	c.mu.Lock()
	id, ok := c.sessions[agentKey]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	handle, err := c.transport.CreateSession(ctx, "Agent: "+agentKey)
	if err != nil {
		return "", fmt.Errorf("failed to create session for agent %s: %w", agentKey, err)
	}

	c.mu.Lock()
	c.sessions[agentKey] = handle.ID
	c.mu.Unlock()

	c.logger.Debug("💬 Cached session %s for agent %s", handle.ID, agentKey)
	return handle.ID, nil
}

// Clear drops every cached mapping. The next lookup per key creates a fresh
// session; existing remote sessions are not torn down.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.sessions = make(map[string]string)
	c.mu.Unlock()
}
