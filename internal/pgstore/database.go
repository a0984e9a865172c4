// Package pgstore is the persistent store the decision core reads from:
// campaigns, streams, targeting rules, and blacklist entries, plus the
// traffic_records append table the sink writes to. Ownership of this data
// belongs to the (out-of-scope) admin CRUD surface; the core only ever
// reads, except for sink appends. Adapted from the teacher's
// internal/db/database.go (pgxpool connect/migrate idiom, embedded SQL).
package pgstore

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veil-waf/cloakgate/internal/breaker"
)

// ErrNotFound is returned when a queried entity does not exist.
var ErrNotFound = errors.New("pgstore: not found")

// ErrBreakerOpen is returned instead of attempting a pool call once the
// primary-store breaker has tripped, per spec.md §9's "one breaker per
// external resource" design note (the primary store is one of the three
// named resources, alongside each threat-intel provider and the
// time-series store).
var ErrBreakerOpen = errors.New("pgstore: circuit breaker open")

//go:embed migrations/*.sql
var migrations embed.FS

// DB wraps a pgx connection pool.
type DB struct {
	Pool    *pgxpool.Pool
	logger  *slog.Logger
	breaker *breaker.Breaker
}

// Connect dials Postgres, pings it, and applies migrations. A failure here
// is a startup-fatal StoreUnavailable per spec.md §7: the process must not
// accept traffic without its persistent store reachable.
func Connect(ctx context.Context, dsn string, logger *slog.Logger) (*DB, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}

	db := &DB{Pool: pool, logger: logger, breaker: breaker.Default()}
	if err := db.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// guard records the outcome of a pool call against the breaker. A
// not-found result is a successful round-trip (the pool answered; there
// was simply no row) and does not count as a failure.
func (db *DB) guard(err error) error {
	if err == nil || errors.Is(err, pgx.ErrNoRows) {
		db.breaker.RecordSuccess()
		return err
	}
	db.breaker.RecordFailure()
	return err
}

func (db *DB) migrate(ctx context.Context) error {
	sql, err := migrations.ReadFile("migrations/001_init.sql")
	if err != nil {
		return fmt.Errorf("read migration: %w", err)
	}
	if _, err := db.Pool.Exec(ctx, string(sql)); err != nil {
		return fmt.Errorf("exec migration: %w", err)
	}
	db.logger.Info("pgstore migrated")
	return nil
}

// Close shuts down the connection pool.
func (db *DB) Close() { db.Pool.Close() }

// Ping checks connectivity — used by the readiness probe.
func (db *DB) Ping(ctx context.Context) error { return db.Pool.Ping(ctx) }

// ---------------------------------------------------------------------------
// Campaigns
// ---------------------------------------------------------------------------

// GetCampaignBySlug resolves a campaign by its public slug.
func (db *DB) GetCampaignBySlug(ctx context.Context, slug string) (*Campaign, error) {
	if !db.breaker.Allow() {
		return nil, ErrBreakerOpen
	}
	var c Campaign
	err := db.guard(db.Pool.QueryRow(ctx,
		`SELECT id, slug, status, money_url, safe_url, redirect_kind, created_at, updated_at
		 FROM campaigns WHERE slug = $1`, slug,
	).Scan(&c.ID, &c.Slug, &c.Status, &c.MoneyURL, &c.SafeURL, &c.RedirectKind, &c.CreatedAt, &c.UpdatedAt))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ---------------------------------------------------------------------------
// Streams + targeting rules
// ---------------------------------------------------------------------------

// StreamWithRules bundles a stream with its targeting rules — the single
// join spec.md §4.8 calls for.
type StreamWithRules struct {
	Stream
	Rules []TargetingRule
}

// ListActiveStreamsWithRules returns every active stream for a campaign
// (regardless of weight — weight==0 filtering happens in the selector, per
// the Stream.Eligible invariant) joined with their targeting rules.
func (db *DB) ListActiveStreamsWithRules(ctx context.Context, campaignID int64) ([]StreamWithRules, error) {
	if !db.breaker.Allow() {
		return nil, ErrBreakerOpen
	}
	rows, err := db.Pool.Query(ctx,
		`SELECT s.id, s.campaign_id, s.name, s.weight, s.active,
		        COALESCE(s.money_url, ''), COALESCE(s.safe_url, ''),
		        r.id, r.rule_type, r.operator, COALESCE(r.value, ''), COALESCE(r.values, '{}'), r.include
		 FROM streams s
		 LEFT JOIN targeting_rules r ON r.stream_id = s.id
		 WHERE s.campaign_id = $1 AND s.active = true
		 ORDER BY s.id ASC`, campaignID)
	if err := db.guard(err); err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[int64]*StreamWithRules)
	var order []int64
	for rows.Next() {
		var s Stream
		var ruleID *int64
		var ruleType, operator, value *string
		var values []string
		var include *bool
		if err := rows.Scan(&s.ID, &s.CampaignID, &s.Name, &s.Weight, &s.Active,
			&s.MoneyURL, &s.SafeURL, &ruleID, &ruleType, &operator, &value, &values, &include); err != nil {
			return nil, err
		}
		swr, ok := byID[s.ID]
		if !ok {
			swr = &StreamWithRules{Stream: s}
			byID[s.ID] = swr
			order = append(order, s.ID)
		}
		if ruleID != nil {
			swr.Rules = append(swr.Rules, TargetingRule{
				ID:       *ruleID,
				StreamID: s.ID,
				RuleType: RuleType(*ruleType),
				Operator: RuleOperator(*operator),
				Value:    *value,
				Values:   values,
				Include:  *include,
			})
		}
	}
	if err := db.guard(rows.Err()); err != nil {
		return nil, err
	}

	out := make([]StreamWithRules, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Blacklist
// ---------------------------------------------------------------------------

// LookupBlacklistEntry returns the effective blacklist entry for ip, if any.
func (db *DB) LookupBlacklistEntry(ctx context.Context, ip string) (*BlacklistEntry, error) {
	if !db.breaker.Allow() {
		return nil, ErrBreakerOpen
	}
	var e BlacklistEntry
	err := db.guard(db.Pool.QueryRow(ctx,
		`SELECT id, ip::text, reason, detection_kind, confidence, first_detected_at, last_detected_at, expires_at
		 FROM blacklist_entries WHERE ip = $1::inet`, ip,
	).Scan(&e.ID, &e.IP, &e.Reason, &e.DetectionKind, &e.Confidence, &e.FirstDetectedAt, &e.LastDetectedAt, &e.ExpiresAt))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !e.Effective(time.Now()) {
		return nil, ErrNotFound
	}
	return &e, nil
}

// ListBlacklistIPs returns every currently-effective blacklisted IP, used to
// seed/refresh the blacklist checker's in-process hot set.
func (db *DB) ListBlacklistIPs(ctx context.Context) ([]BlacklistEntry, error) {
	if !db.breaker.Allow() {
		return nil, ErrBreakerOpen
	}
	rows, err := db.Pool.Query(ctx,
		`SELECT id, ip::text, reason, detection_kind, confidence, first_detected_at, last_detected_at, expires_at
		 FROM blacklist_entries WHERE expires_at IS NULL OR expires_at > now()`)
	if err := db.guard(err); err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BlacklistEntry
	for rows.Next() {
		var e BlacklistEntry
		if err := rows.Scan(&e.ID, &e.IP, &e.Reason, &e.DetectionKind, &e.Confidence, &e.FirstDetectedAt, &e.LastDetectedAt, &e.ExpiresAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, db.guard(rows.Err())
}

// ---------------------------------------------------------------------------
// Traffic records (append-only, written by internal/sink)
// ---------------------------------------------------------------------------

// TrafficRecordRow is the row shape inserted by the sink. Field names match
// spec.md §6's TrafficRecord.
type TrafficRecordRow struct {
	ID             string
	CampaignID     int64
	StreamID       *int64
	VisitorID      string
	IP             string
	UserAgent      string
	Referer        string
	Country        string
	City           string
	DeviceType     string
	Browser        string
	OS             string
	IsBot          bool
	BotScore       float64
	Decision       string
	PageShown      string
	ResponseTimeMs float64
	CreatedAt      time.Time
}

// InsertTrafficRecord appends one traffic record. Called only from the
// sink's worker pool — never from the request path.
func (db *DB) InsertTrafficRecord(ctx context.Context, r TrafficRecordRow) error {
	if !db.breaker.Allow() {
		return ErrBreakerOpen
	}
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO traffic_records
		 (id, campaign_id, stream_id, visitor_id, ip, user_agent, referer, country, city,
		  device_type, browser, os, is_bot, bot_score, decision, page_shown, response_time_ms, created_at)
		 VALUES ($1,$2,$3,$4,$5::inet,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		r.ID, r.CampaignID, r.StreamID, r.VisitorID, r.IP, r.UserAgent, r.Referer, r.Country, r.City,
		r.DeviceType, r.Browser, r.OS, r.IsBot, r.BotScore, r.Decision, r.PageShown, r.ResponseTimeMs, r.CreatedAt)
	return db.guard(err)
}
