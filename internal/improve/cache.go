package improve

import (
	"sync"

	"github.com/traduki/traduki/internal/llm"
)

// Cache holds extracted tool calls per conversation until they are applied
// or discarded. It is the single owner of pending-improvement state; the
// conversation record never duplicates it.
type Cache struct {
	mu    sync.Mutex
	calls map[string][]llm.ToolCall
}

func NewCache() *Cache {
	return &Cache{calls: make(map[string][]llm.ToolCall)}
}

// Append adds calls to the conversation's entry. Repeated refinement rounds
// accumulate rather than replace.
func (c *Cache) Append(conversationID string, calls []llm.ToolCall) {
	if len(calls) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[conversationID] = append(c.calls[conversationID], calls...)
}

// Calls returns a copy of the conversation's cached tool calls.
func (c *Cache) Calls(conversationID string) []llm.ToolCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	cached := c.calls[conversationID]
	out := make([]llm.ToolCall, len(cached))
	copy(out, cached)
	return out
}

// Remove deletes every cached call for which match returns true and reports
// how many were removed.
func (c *Cache) Remove(conversationID string, match func(llm.ToolCall) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cached := c.calls[conversationID]
	kept := cached[:0]
	removed := 0
	for _, call := range cached {
		if match(call) {
			removed++
			continue
		}
		kept = append(kept, call)
	}
	if len(kept) == 0 {
		delete(c.calls, conversationID)
	} else {
		c.calls[conversationID] = kept
	}
	return removed
}

// Drop discards the whole entry for a conversation.
func (c *Cache) Drop(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.calls, conversationID)
}
