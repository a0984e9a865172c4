// Package cache implements the Decision Cache (component C2, spec.md
// §4.2): a (campaignId, fingerprintHash)-keyed memoization of final
// Decision values with a short TTL, backed by the shared store. Grounded
// on the teacher's read-through Redis cache idiom in internal/cache
// (campaign/session lookups) generalized to Decision values.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/veil-waf/cloakgate/internal/decision"
	"github.com/veil-waf/cloakgate/internal/store"
)

// TTL is the fixed lifetime spec.md §4.2 mandates.
const TTL = 5 * time.Minute

// invalidationChannel names the pub/sub channel campaign writers use to
// force cached decisions to expire early, per §4.2's "invalidating on
// campaign write" option.
const invalidationChannel = "cloakgate:campaign-invalidate"

// DecisionCache is the read-through store wrapper. Reads and writes are
// both best-effort: per spec.md §4.2/§7, a store error degrades to a miss
// (read) or is swallowed and logged (write) — it never surfaces to the
// request path.
type DecisionCache struct {
	store store.Store
	log   *slog.Logger
}

// New builds a DecisionCache over an already-connected store.
func New(s store.Store, log *slog.Logger) *DecisionCache {
	return &DecisionCache{store: s, log: log}
}

func key(campaignID int64, fingerprintHash string) string {
	return fmt.Sprintf("cloakgate:decision:%d:%s", campaignID, fingerprintHash)
}

// Get returns the cached Decision for (campaignID, fingerprintHash), or
// ok=false on miss or any store error.
func (c *DecisionCache) Get(ctx context.Context, campaignID int64, fingerprintHash string) (decision.Decision, bool) {
	raw, err := c.store.Get(ctx, key(campaignID, fingerprintHash))
	if err != nil {
		return decision.Decision{}, false
	}
	d, err := decision.UnmarshalCache([]byte(raw))
	if err != nil {
		c.log.Warn("decision cache: corrupt entry", "error", err)
		return decision.Decision{}, false
	}
	return d, true
}

// Put stores d for TTL. Failures are logged and swallowed: the decision
// path must never block or error on a cache write.
func (c *DecisionCache) Put(ctx context.Context, campaignID int64, fingerprintHash string, d decision.Decision) {
	raw, err := decision.MarshalCache(d)
	if err != nil {
		c.log.Warn("decision cache: marshal failed", "error", err)
		return
	}
	if err := c.store.SetTTL(ctx, key(campaignID, fingerprintHash), string(raw), TTL); err != nil {
		c.log.Warn("decision cache: write failed", "error", err)
	}
}

// InvalidateCampaign broadcasts a campaign-write invalidation so every
// subscribed process busts its own copies of that campaign's cached
// decisions and campaign-resolver entry — see WatchInvalidations for the
// receiving side.
func (c *DecisionCache) InvalidateCampaign(ctx context.Context, campaignID int64) {
	payload := fmt.Sprintf("%d", campaignID)
	if err := c.store.Publish(ctx, invalidationChannel, payload); err != nil {
		c.log.Warn("decision cache: invalidation publish failed", "error", err)
	}
}

// DeleteByCampaign evicts every decision cached under campaignID. Decision
// keys are per-fingerprint, so there is no single key to Del; instead this
// scans the store for the campaign's key prefix and deletes each match.
// Called from WatchInvalidations' callback so a paused/edited campaign's
// cached money-page decisions don't linger for the remainder of their TTL.
func (c *DecisionCache) DeleteByCampaign(ctx context.Context, campaignID int64) {
	keys, err := c.store.Scan(ctx, fmt.Sprintf("cloakgate:decision:%d:*", campaignID))
	if err != nil {
		c.log.Warn("decision cache: invalidation scan failed", "error", err)
		return
	}
	for _, k := range keys {
		if err := c.store.Del(ctx, k); err != nil {
			c.log.Warn("decision cache: invalidation delete failed", "key", k, "error", err)
		}
	}
}

// WatchInvalidations subscribes to campaign-invalidation events and invokes
// onInvalidate(campaignID) for each one, until ctx is cancelled. Spec.md
// §4.2's guarantee — "within two seconds of a campaign pause no further
// cached money-page decisions are served" — is met by having the callback
// both bust the campaign resolver's 60s cache (internal/campaign) and
// evict this process's cached decisions via DeleteByCampaign.
func (c *DecisionCache) WatchInvalidations(ctx context.Context, onInvalidate func(campaignID int64)) {
	sub := c.store.Subscribe(ctx, invalidationChannel)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			var campaignID int64
			if _, err := fmt.Sscanf(msg.Payload, "%d", &campaignID); err != nil {
				continue
			}
			onInvalidate(campaignID)
		}
	}
}
