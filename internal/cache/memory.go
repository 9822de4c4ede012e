package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	info      BillingInfo
	expiresAt time.Time
}

// MemoryCache is the in-process billing cache for redis-less deployments.
type MemoryCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]memoryEntry
}

// NewMemoryCache constructs a MemoryCache with the given TTL (DefaultTTL when
// non-positive).
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryCache{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
	}
}

// Get returns the cached billing info for a tenant, if present and fresh.
func (c *MemoryCache) Get(_ context.Context, tenantID string) (BillingInfo, bool) {
	if c == nil {
		return BillingInfo{}, false
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return BillingInfo{}, false
	}

	c.mu.RLock()
	entry, ok := c.entries[tenantID]
	c.mu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return BillingInfo{}, false
	}
	return entry.info, true
}

// Set stores billing info for a tenant.
func (c *MemoryCache) Set(_ context.Context, tenantID string, info BillingInfo) {
	if c == nil {
		return
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return
	}

	c.mu.Lock()
	c.entries[tenantID] = memoryEntry{info: info, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

// Invalidate drops the cached billing info for a tenant.
func (c *MemoryCache) Invalidate(_ context.Context, tenantID string) {
	if c == nil {
		return
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return
	}

	c.mu.Lock()
	delete(c.entries, tenantID)
	c.mu.Unlock()
}

var _ Service = (*MemoryCache)(nil)
