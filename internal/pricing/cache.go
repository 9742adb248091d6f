// Package pricing holds the in-memory streaming price cache and the job
// that flushes it to durable price history once a minute.
package pricing

import (
	"sync"
	"time"

	"github.com/polypaper/polypaper/internal/domain"
)

// Cache maps token IDs to their latest quote. The feed writes into it
// continuously and the snapshot engine reads from it concurrently; a flush
// atomically swaps in a fresh map so no update racing the flush is lost.
type Cache struct {
	mu     sync.RWMutex
	quotes map[string]domain.Quote
}

// NewCache creates an empty Cache.
func NewCache() *Cache {
	return &Cache{quotes: make(map[string]domain.Quote)}
}

// UpdateBidAsk upserts the best bid and/or best ask for a token. Nil sides
// are left untouched, and a previously known last-trade price is preserved:
// price-change messages never carry trade prices.
func (c *Cache) UpdateBidAsk(tokenID string, bid, ask *float64, ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	q := c.quotes[tokenID]
	q.TokenID = tokenID
	if bid != nil {
		v := *bid
		q.BestBid = &v
	}
	if ask != nil {
		v := *ask
		q.BestAsk = &v
	}
	q.UpdatedAt = ts
	c.quotes[tokenID] = q
}

// UpdateLastTrade upserts the last executed trade price for a token,
// preserving any known bid/ask.
func (c *Cache) UpdateLastTrade(tokenID string, price float64, ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	q := c.quotes[tokenID]
	q.TokenID = tokenID
	q.LastTrade = &price
	q.UpdatedAt = ts
	c.quotes[tokenID] = q
}

// Quote returns the current quote for a token.
func (c *Cache) Quote(tokenID string) (domain.Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[tokenID]
	return q, ok
}

// Midpoint returns (bid+ask)/2 for a token, or nil when the cache has no
// entry or either side is missing. Callers fall back to durable history.
func (c *Cache) Midpoint(tokenID string) *float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[tokenID]
	if !ok {
		return nil
	}
	return q.Midpoint()
}

// Len returns the number of cached quotes.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.quotes)
}

// Swap atomically replaces the cache contents with a fresh empty map and
// returns the previous contents. Used by the flusher: snapshot-then-clear
// as a single step.
func (c *Cache) Swap() map[string]domain.Quote {
	fresh := make(map[string]domain.Quote)
	c.mu.Lock()
	old := c.quotes
	c.quotes = fresh
	c.mu.Unlock()
	return old
}

// Restore puts swapped-out quotes back after a failed flush. Tokens that
// received a newer update since the swap keep the newer quote.
func (c *Cache) Restore(quotes map[string]domain.Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, q := range quotes {
		if _, exists := c.quotes[id]; !exists {
			c.quotes[id] = q
		}
	}
}

// Clear drops all cached quotes. Called when the feed (re)connects, since
// the stream rebuilds state from scratch.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotes = make(map[string]domain.Quote)
}
