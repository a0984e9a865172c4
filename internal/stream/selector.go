// Package stream implements the Stream Selector (component C8, spec.md
// §4.8): targeting-rule evaluation and weighted random selection among
// eligible streams. Grounded on the teacher's classify/regex.go
// pattern-precompilation idiom (compile once, cache by pattern text,
// never compile inside the request path) and biter777/countries for
// country-code normalization (seuros-kaunta manifest in the retrieval
// pack), adapted from per-request classification into per-campaign
// targeting rules.
package stream

import (
	"context"
	"hash/fnv"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/biter777/countries"

	"github.com/veil-waf/cloakgate/internal/geo"
	"github.com/veil-waf/cloakgate/internal/pgstore"
	"github.com/veil-waf/cloakgate/internal/visitor"
)

const cacheTTLSeconds = 60

// Selector evaluates targeting rules and draws a weighted pick among
// eligible streams for a campaign.
type Selector struct {
	db  *pgstore.DB
	log *slog.Logger

	mu         sync.RWMutex
	cache      map[int64]cacheEntry
	regexCache sync.Map // pattern text -> *regexp.Regexp (or nil sentinel for malformed)

	loggedBadPatterns sync.Map // pattern text -> struct{}, logged once
}

type cacheEntry struct {
	streams  []pgstore.StreamWithRules
	expireAt int64 // unix seconds
}

// New builds a Selector.
func New(db *pgstore.DB, log *slog.Logger) *Selector {
	return &Selector{db: db, log: log, cache: make(map[int64]cacheEntry)}
}

// SelectStream implements spec.md §4.8's selectStream(campaignId,
// descriptor) -> Stream | nil.
func (s *Selector) SelectStream(ctx context.Context, campaignID int64, d visitor.Descriptor, nowUnix int64, nowMinute int64) (*pgstore.Stream, error) {
	streams, err := s.streamsFor(ctx, campaignID, nowUnix)
	if err != nil {
		return nil, err
	}

	eligible := make([]pgstore.StreamWithRules, 0, len(streams))
	for _, swr := range streams {
		if !swr.Stream.Eligible() {
			continue
		}
		if s.matches(swr.Rules, d) {
			eligible = append(eligible, swr)
		}
	}
	if len(eligible) == 0 {
		return nil, nil
	}

	sort.Slice(eligible, func(i, j int) bool { return eligible[i].ID < eligible[j].ID })

	var total int
	for _, e := range eligible {
		total += e.Weight
	}
	if total <= 0 {
		return nil, nil
	}

	seed := seedFor(campaignID, d.HashHex, nowMinute)
	r := int(seed % uint64(total))

	var cumulative int
	for _, e := range eligible {
		cumulative += e.Weight
		if r < cumulative {
			picked := e.Stream
			return &picked, nil
		}
	}
	return nil, nil
}

func (s *Selector) streamsFor(ctx context.Context, campaignID int64, nowUnix int64) ([]pgstore.StreamWithRules, error) {
	s.mu.RLock()
	if e, ok := s.cache[campaignID]; ok && nowUnix < e.expireAt {
		s.mu.RUnlock()
		return e.streams, nil
	}
	s.mu.RUnlock()

	streams, err := s.db.ListActiveStreamsWithRules(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[campaignID] = cacheEntry{streams: streams, expireAt: nowUnix + cacheTTLSeconds}
	s.mu.Unlock()

	return streams, nil
}

// matches implements spec.md §4.8's rule-evaluation contract: every
// include-rule must match; no exclude-rule may match; empty rule set is
// always eligible.
func (s *Selector) matches(rules []pgstore.TargetingRule, d visitor.Descriptor) bool {
	for _, rule := range rules {
		matched := s.evaluate(rule, d)
		if rule.Include && !matched {
			return false
		}
		if !rule.Include && matched {
			return false
		}
	}
	return true
}

func (s *Selector) evaluate(rule pgstore.TargetingRule, d visitor.Descriptor) bool {
	field := s.fieldValue(rule.RuleType, d)

	switch rule.Operator {
	case pgstore.OpEquals:
		return strings.EqualFold(field, rule.Value)
	case pgstore.OpNotEquals:
		return !strings.EqualFold(field, rule.Value)
	case pgstore.OpContains:
		return strings.Contains(strings.ToLower(field), strings.ToLower(rule.Value))
	case pgstore.OpNotContains:
		return !strings.Contains(strings.ToLower(field), strings.ToLower(rule.Value))
	case pgstore.OpIn:
		return containsFold(rule.Values, field)
	case pgstore.OpNotIn:
		return !containsFold(rule.Values, field)
	case pgstore.OpRegex:
		re := s.compiledPattern(rule.Value)
		if re == nil {
			return false
		}
		return re.MatchString(field)
	default:
		return false
	}
}

func (s *Selector) fieldValue(ruleType pgstore.RuleType, d visitor.Descriptor) string {
	switch ruleType {
	case pgstore.RuleCountry:
		return normalizeCountry(d.Geo)
	case pgstore.RuleDevice:
		return d.Browser.Device
	case pgstore.RuleBrowser:
		return d.Browser.Name
	case pgstore.RuleOS:
		return d.Browser.OS
	case pgstore.RuleReferer:
		return d.Referrer
	default:
		return ""
	}
}

func normalizeCountry(loc *geo.Location) string {
	if loc == nil {
		return ""
	}
	cc := countries.ByName(loc.Country)
	if cc == countries.Unknown {
		return loc.Country
	}
	return cc.Alpha2()
}

// compiledPattern returns a cached compiled regexp for pattern, compiling
// and caching it on first use. A malformed pattern is cached as "never
// matches" and logged exactly once, per spec.md §4.8.
func (s *Selector) compiledPattern(pattern string) *regexp.Regexp {
	if v, ok := s.regexCache.Load(pattern); ok {
		re, _ := v.(*regexp.Regexp)
		return re
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		s.regexCache.Store(pattern, (*regexp.Regexp)(nil))
		if _, logged := s.loggedBadPatterns.LoadOrStore(pattern, struct{}{}); !logged {
			s.log.Warn("stream: malformed targeting rule pattern, treated as never-matching", "pattern", pattern, "error", err)
		}
		return nil
	}
	s.regexCache.Store(pattern, re)
	return re
}

func containsFold(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(v, target) {
			return true
		}
	}
	return false
}

// seedFor derives the deterministic draw spec.md §5 requires: "seed the
// draw from (campaignId, fingerprintHash, now_minute) rather than
// per-request to keep cached decisions stable."
func seedFor(campaignID int64, fingerprintHash string, nowMinute int64) uint64 {
	h := fnv.New64a()
	h.Write([]byte(strconv.FormatInt(campaignID, 10)))
	h.Write([]byte{0})
	h.Write([]byte(fingerprintHash))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(nowMinute, 10)))
	return h.Sum64()
}
