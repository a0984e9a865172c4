// Package sink implements the Traffic Sink (component C11, spec.md
// §4.11): a non-blocking bounded channel drained by a worker pool into the
// persistent store (TrafficRecord) and the time-series store
// (MetricPoint). Grounded on the teacher's sse.Hub drop-on-full fan-out
// (internal/sse/hub.go) — same "try-send, else log and count" idiom —
// generalized from pub/sub delivery into an append-only write path, plus
// promauto counters (AleutianFOSS prefilter, other_examples) for the
// dropped-records metric spec.md §8 requires to be observable.
package sink

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/veil-waf/cloakgate/internal/decision"
	"github.com/veil-waf/cloakgate/internal/idgen"
	"github.com/veil-waf/cloakgate/internal/pgstore"
	"github.com/veil-waf/cloakgate/internal/visitor"
)

var (
	droppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cloakgate_sink_dropped_records_total",
		Help: "Traffic records dropped because the sink's bounded queue was full.",
	})
	enqueuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cloakgate_sink_enqueued_records_total",
		Help: "Traffic records successfully enqueued to the sink.",
	})
)

// TrafficEvent is the per-request payload handed to the sink; it carries
// enough to derive both the TrafficRecord row and the MetricPoint.
type TrafficEvent struct {
	CampaignID int64
	StreamID   *int64
	Descriptor visitor.Descriptor
	IsBot      bool
	BotScore   float64
	Decision   decision.Decision
	At         time.Time
}

// MetricWriter is the time-series backend contract (InfluxDB-shaped, per
// spec.md §6's MetricPoint).
type MetricWriter interface {
	WritePageView(ctx context.Context, ev TrafficEvent) error
}

// Sink owns the bounded channel and worker pool. Enqueue never blocks: a
// full queue drops the record and increments droppedTotal.
type Sink struct {
	events  chan TrafficEvent
	db      *pgstore.DB
	metrics MetricWriter
	log     *slog.Logger
	workers int
}

// New builds a Sink with the given queue capacity and worker count.
func New(capacity, workers int, db *pgstore.DB, metrics MetricWriter, log *slog.Logger) *Sink {
	return &Sink{
		events:  make(chan TrafficEvent, capacity),
		db:      db,
		metrics: metrics,
		log:     log,
		workers: workers,
	}
}

// Enqueue is the non-blocking fire-and-forget entry point the decision
// path calls. It must never be on the critical path for longer than a
// channel send.
func (s *Sink) Enqueue(ev TrafficEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case s.events <- ev:
		enqueuedTotal.Inc()
	default:
		droppedTotal.Inc()
		s.log.Warn("sink: queue full, dropping traffic record")
	}
}

// Run launches the worker pool and blocks until ctx is cancelled; it then
// closes the queue and returns once the workers have written out whatever
// remained in it. Those final writes use a context detached from ctx's
// cancellation, and Run puts no time bound on them.
func (s *Sink) Run(ctx context.Context) {
	done := make(chan struct{})
	for i := 0; i < s.workers; i++ {
		go s.worker(context.WithoutCancel(ctx), done)
	}
	<-ctx.Done()
	close(s.events)
	for i := 0; i < s.workers; i++ {
		<-done
	}
}

func (s *Sink) worker(ctx context.Context, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	for ev := range s.events {
		s.drain(ctx, ev)
	}
}

func (s *Sink) drain(ctx context.Context, ev TrafficEvent) {
	row := toTrafficRecordRow(ev)
	if err := s.db.InsertTrafficRecord(ctx, row); err != nil {
		s.log.Warn("sink: persistent store write failed", "error", err)
	}
	if s.metrics != nil {
		if err := s.metrics.WritePageView(ctx, ev); err != nil {
			s.log.Warn("sink: time-series write failed", "error", err)
		}
	}
}

func toTrafficRecordRow(ev TrafficEvent) pgstore.TrafficRecordRow {
	country, city := "", ""
	if ev.Descriptor.Geo != nil {
		country = ev.Descriptor.Geo.Country
		city = ev.Descriptor.Geo.City
	}
	return pgstore.TrafficRecordRow{
		ID:             idgen.New(),
		CampaignID:     ev.CampaignID,
		StreamID:       ev.StreamID,
		VisitorID:      ev.Descriptor.HashHex,
		IP:             ev.Descriptor.RemoteIP,
		UserAgent:      ev.Descriptor.RawUA,
		Referer:        ev.Descriptor.Referrer,
		Country:        country,
		City:           city,
		DeviceType:     ev.Descriptor.Browser.Device,
		Browser:        ev.Descriptor.Browser.Name,
		OS:             ev.Descriptor.Browser.OS,
		IsBot:          ev.IsBot,
		BotScore:       ev.BotScore,
		Decision:       string(ev.Decision.Page),
		PageShown:      string(ev.Decision.Page),
		ResponseTimeMs: float64(ev.Decision.ElapsedMicros) / 1000.0,
		CreatedAt:      ev.At,
	}
}
