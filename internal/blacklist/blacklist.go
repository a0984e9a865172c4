// Package blacklist implements the Blacklist Checker (component C3,
// spec.md §4.3): a two-tier index (local hot set + store-backed lookup)
// with pub/sub invalidation and asymmetric fail-open/fail-closed semantics.
// Grounded on the teacher's read-mostly/copy-on-write cache convention
// (internal/cache) and the blacklist invalidation channel shape described
// in spec.md §6 ("pub/sub for blacklist invalidation").
package blacklist

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/veil-waf/cloakgate/internal/pgstore"
	"github.com/veil-waf/cloakgate/internal/store"
)

const (
	storeCacheTTL        = 60 * time.Second
	invalidationChannel  = "cloakgate:blacklist-invalidate"
	refreshInterval      = 60 * time.Second
)

// action is carried on the invalidation channel.
type action string

const (
	actionAdd    action = "add"
	actionRemove action = "remove"
)

// Checker answers isBlocked(ip) from an in-process hot set refreshed on a
// schedule, falling back to a store-cached lookup on miss.
type Checker struct {
	db    *pgstore.DB
	store store.Store
	log   *slog.Logger

	mu     sync.RWMutex
	hotSet map[string]pgstore.BlacklistEntry // copy-on-write: replaced wholesale on refresh

	localMu    sync.Mutex
	localAdds  map[string]pgstore.BlacklistEntry // additions observed between refreshes, fail-closed
}

// New builds a Checker. Call Start to begin the periodic refresh and
// invalidation-subscription loops.
func New(db *pgstore.DB, s store.Store, log *slog.Logger) *Checker {
	return &Checker{
		db:        db,
		store:     s,
		log:       log,
		hotSet:    make(map[string]pgstore.BlacklistEntry),
		localAdds: make(map[string]pgstore.BlacklistEntry),
	}
}

// Start launches the background refresh and pub/sub loops; it blocks until
// ctx is cancelled, matching the teacher's supervised-goroutine shape.
func (c *Checker) Start(ctx context.Context) {
	c.refresh(ctx)

	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	sub := c.store.Subscribe(ctx, invalidationChannel)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.refresh(ctx)
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			c.applyInvalidation(msg.Payload)
		}
	}
}

func (c *Checker) refresh(ctx context.Context) {
	entries, err := c.db.ListBlacklistIPs(ctx)
	if err != nil {
		c.log.Warn("blacklist: refresh failed, keeping stale hot set", "error", err)
		return
	}
	next := make(map[string]pgstore.BlacklistEntry, len(entries))
	for _, e := range entries {
		next[e.IP] = e
	}

	c.mu.Lock()
	c.hotSet = next
	c.mu.Unlock()

	c.localMu.Lock()
	c.localAdds = make(map[string]pgstore.BlacklistEntry)
	c.localMu.Unlock()
}

// IsBlocked answers the C3 contract: (blocked, reason). Lookup order: local
// hot set, then local fail-closed adds, then a 60s store-cached lookup; a
// store failure falls back to "not blocked" for IPs never seen locally
// (fail-open) and "blocked" for IPs already recorded locally (fail-closed),
// per spec.md §4.3/§7.
func (c *Checker) IsBlocked(ctx context.Context, ip string) (bool, string) {
	c.mu.RLock()
	if e, ok := c.hotSet[ip]; ok {
		c.mu.RUnlock()
		if e.Effective(time.Now()) {
			return true, e.Reason
		}
		return false, ""
	}
	c.mu.RUnlock()

	c.localMu.Lock()
	if e, ok := c.localAdds[ip]; ok {
		c.localMu.Unlock()
		if e.Effective(time.Now()) {
			return true, e.Reason
		}
		return false, ""
	}
	c.localMu.Unlock()

	cacheKey := "cloakgate:blacklist:" + ip
	if raw, err := c.store.Get(ctx, cacheKey); err == nil {
		return raw == "1", "cached"
	}

	entry, err := c.db.LookupBlacklistEntry(ctx, ip)
	if err != nil {
		if err == pgstore.ErrNotFound {
			_ = c.store.SetTTL(ctx, cacheKey, "0", storeCacheTTL)
			return false, ""
		}
		// StoreUnavailable: fail-open for an IP not already known locally.
		c.log.Warn("blacklist: store lookup failed, failing open", "ip", ip, "error", err)
		return false, ""
	}

	_ = c.store.SetTTL(ctx, cacheKey, "1", storeCacheTTL)
	return true, entry.Reason
}

// Add records a new blacklist entry locally (fail-closed immediately) and
// fans out an invalidation so peer processes pick it up within one
// pub/sub round-trip, satisfying spec.md §8's "Blacklist add → subsequent
// isBlocked(ip) returns true within one pub/sub round-trip" property.
func (c *Checker) Add(ctx context.Context, entry pgstore.BlacklistEntry) {
	c.localMu.Lock()
	c.localAdds[entry.IP] = entry
	c.localMu.Unlock()

	c.publish(ctx, actionAdd, entry.IP)
}

// Remove drops ip from both tiers and fans out the invalidation.
func (c *Checker) Remove(ctx context.Context, ip string) {
	c.mu.Lock()
	delete(c.hotSet, ip)
	c.mu.Unlock()

	c.localMu.Lock()
	delete(c.localAdds, ip)
	c.localMu.Unlock()

	_ = c.store.Del(ctx, "cloakgate:blacklist:"+ip)
	c.publish(ctx, actionRemove, ip)
}

func (c *Checker) publish(ctx context.Context, a action, ip string) {
	if err := c.store.Publish(ctx, invalidationChannel, fmt.Sprintf("%s:%s", a, ip)); err != nil {
		c.log.Warn("blacklist: invalidation publish failed", "error", err)
	}
}

func (c *Checker) applyInvalidation(payload string) {
	a, ip, found := strings.Cut(payload, ":")
	if !found || ip == "" {
		return
	}
	switch action(a) {
	case actionAdd:
		c.localMu.Lock()
		c.localAdds[ip] = pgstore.BlacklistEntry{IP: ip, Reason: "peer-invalidated"}
		c.localMu.Unlock()
	case actionRemove:
		c.mu.Lock()
		delete(c.hotSet, ip)
		c.mu.Unlock()
		c.localMu.Lock()
		delete(c.localAdds, ip)
		c.localMu.Unlock()
	}
}
