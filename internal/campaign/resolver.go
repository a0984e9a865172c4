// Package campaign implements the Campaign Resolver (component C7,
// spec.md §4.7): resolveBySlug with a 60-second read-through cache.
// Grounded on the teacher's read-mostly/copy-on-write cache convention,
// applied here as a simple mutex-guarded map with per-entry expiry rather
// than the shared store — campaign lookups are cheap and local-process
// staleness of up to 60s is explicitly acceptable per spec.md.
package campaign

import (
	"context"
	"sync"
	"time"

	"github.com/veil-waf/cloakgate/internal/pgstore"
)

// ErrNotFound is returned when no campaign exists for a slug.
var ErrNotFound = pgstore.ErrNotFound

const ttl = 60 * time.Second

type entry struct {
	campaign pgstore.Campaign
	expires  time.Time
}

// Resolver resolves campaign slugs with a 60s TTL cache.
type Resolver struct {
	db *pgstore.DB

	mu    sync.RWMutex
	cache map[string]entry
}

// New builds a Resolver over db.
func New(db *pgstore.DB) *Resolver {
	return &Resolver{db: db, cache: make(map[string]entry)}
}

// ResolveBySlug implements spec.md §4.7's resolveBySlug. A StoreUnavailable
// condition retries once before returning ErrNotFound, per spec.md §7.
func (r *Resolver) ResolveBySlug(ctx context.Context, slug string) (pgstore.Campaign, error) {
	r.mu.RLock()
	if e, ok := r.cache[slug]; ok && time.Now().Before(e.expires) {
		r.mu.RUnlock()
		return e.campaign, nil
	}
	r.mu.RUnlock()

	c, err := r.db.GetCampaignBySlug(ctx, slug)
	if err != nil {
		if err == pgstore.ErrNotFound {
			return pgstore.Campaign{}, ErrNotFound
		}
		// StoreUnavailable: single retry per spec.md §7.
		c, err = r.db.GetCampaignBySlug(ctx, slug)
		if err != nil {
			return pgstore.Campaign{}, ErrNotFound
		}
	}

	r.mu.Lock()
	r.cache[slug] = entry{campaign: *c, expires: time.Now().Add(ttl)}
	r.mu.Unlock()

	return *c, nil
}

// Invalidate immediately expires a cached campaign, used by the admin
// write-path (out of this core's scope) to satisfy spec.md §4.2's "within
// two seconds of a campaign pause" guarantee without waiting for the full
// TTL to lapse.
func (r *Resolver) Invalidate(slug string) {
	r.mu.Lock()
	delete(r.cache, slug)
	r.mu.Unlock()
}

// InvalidateByID expires every cached entry for campaignID. The cache is
// keyed by slug, not id, so this scans the (small, process-local) cache
// map rather than requiring a reverse index. Used by the decision-cache
// invalidation subscriber (cmd/server/main.go), which only knows the
// campaign id a writer published, not its slug.
func (r *Resolver) InvalidateByID(campaignID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for slug, e := range r.cache {
		if e.campaign.ID == campaignID {
			delete(r.cache, slug)
		}
	}
}
