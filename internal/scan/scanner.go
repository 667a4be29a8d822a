// Package scan runs the fetch, dedup, route and deliver cycle.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/semaphore"

	"threat-relay/internal/catalog"
	"threat-relay/internal/config"
	"threat-relay/internal/dedup"
	"threat-relay/internal/feed"
	"threat-relay/internal/intel"
	"threat-relay/internal/route"
	"threat-relay/internal/state"
	"threat-relay/internal/watch"
	"threat-relay/internal/webhook"
)

var (
	metricCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "intel_scan_cycles_total",
		Help: "The total number of scan cycles by result",
	}, []string{"result"})

	metricNewItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "intel_new_items_total",
		Help: "The total number of new items delivered",
	}, []string{"source"})
)

var (
	ErrNoTenants = errors.New("no tenants configured")
	ErrNoSources = errors.New("no sources configured")
)

// Triggers recorded in stats and logs.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
	TriggerStartup  = "startup"
)

type TenantLoader interface {
	Load() ([]config.Tenant, error)
}

type CatalogLoader interface {
	Load() (*catalog.Catalog, error)
}

type Fetcher interface {
	FetchAll(ctx context.Context, sources []catalog.Source, cache state.HTTPCache) []feed.FetchResult
}

type Normalizer interface {
	Normalize(src catalog.Source, status int, payload []byte) ([]feed.Entry, feed.Outcome)
}

type PageWatcher interface {
	Check(ctx context.Context, pages []catalog.Source, hashes map[string]string) []watch.Change
}

type Sender interface {
	Send(ctx context.Context, t config.Tenant, msg webhook.Message) error
}

type Config struct {
	Interval           time.Duration
	CompactionInterval time.Duration
	// BypassCap bounds the items sent by a cycle that skips dedup.
	BypassCap int
	Policy    dedup.Policy
}

func DefaultConfig() Config {
	return Config{
		Interval:           30 * time.Minute,
		CompactionInterval: 7 * 24 * time.Hour,
		BypassCap:          1,
		Policy:             dedup.DefaultPolicy(),
	}
}

// Deps are the collaborators of a scanner. Watcher and Providers are optional.
type Deps struct {
	Store      state.Store
	Tenants    TenantLoader
	Catalog    CatalogLoader
	Fetcher    Fetcher
	Normalizer Normalizer
	Router     *route.Router
	Sender     Sender
	Watcher    PageWatcher
	Providers  []intel.Provider
	Logger     *slog.Logger
	Clock      func() time.Time
}

type RunOptions struct {
	// BypassCache skips the dedup filter. Delivered links are still recorded.
	BypassCache bool
}

// Report summarizes one cycle.
type Report struct {
	CycleID          string
	Trigger          string
	Skipped          bool
	StartedAt        time.Time
	Duration         time.Duration
	Compacted        bool
	Sources          int
	CacheHits        int
	FeedsFailed      int
	Sent             int
	Deliveries       int
	DeliveryFailures int
}

// Stats is the running state shown by the status endpoint.
type Stats struct {
	StartedAt       time.Time
	CyclesCompleted int
	ItemsSent       int
	CacheHits       int
	FeedsFailed     int
	LastRunAt       time.Time
	NextRunAt       time.Time
	LastTrigger     string
	LastCycleID     string
	LastDuration    time.Duration
	Running         bool
}

// Uptime formats the time since start as "2d 4h 30m".
func (s Stats) Uptime(now time.Time) string {
	return FormatUptime(now.Sub(s.StartedAt))
}

type Scanner struct {
	cfg    Config
	deps   Deps
	engine *dedup.Engine
	guard  *semaphore.Weighted
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	stats Stats
}

func NewScanner(cfg Config, deps Deps) *Scanner {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	defaults := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.BypassCap <= 0 {
		cfg.BypassCap = defaults.BypassCap
	}
	if deps.Router == nil {
		deps.Router = route.NewRouter(deps.Logger)
	}
	s := &Scanner{
		cfg:    cfg,
		deps:   deps,
		engine: dedup.NewEngine(cfg.Policy, dedup.WithClock(deps.Clock), dedup.WithLogger(deps.Logger)),
		guard:  semaphore.NewWeighted(1),
		logger: deps.Logger,
		now:    deps.Clock,
	}
	s.stats.StartedAt = s.now()
	return s
}

// Stats returns a copy of the running stats.
func (s *Scanner) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Run executes a cycle right away and then one per interval until ctx is
// done. A panicking cycle is logged and the schedule goes on.
func (s *Scanner) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.runSafely(ctx, TriggerStartup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runSafely(ctx, TriggerSchedule)
		}
	}
}

func (s *Scanner) runSafely(ctx context.Context, trigger string) {
	defer func() {
		if r := recover(); r != nil {
			metricCycles.WithLabelValues("panic").Inc()
			s.logger.Error("Scan cycle panicked", "panic", r, "stack", string(debug.Stack()))
			s.scheduleNext()
		}
	}()
	if _, err := s.RunCycle(ctx, trigger, RunOptions{}); err != nil {
		s.logger.Warn("Scan cycle ended early", "error", err)
	}
}

// RunCycle runs one full cycle unless another one holds the guard, in which
// case it returns a skipped report at once.
func (s *Scanner) RunCycle(ctx context.Context, trigger string, opts RunOptions) (Report, error) {
	if !s.guard.TryAcquire(1) {
		s.logger.Info("Scan skipped, a cycle is already running", "trigger", trigger)
		metricCycles.WithLabelValues("skipped").Inc()
		return Report{Trigger: trigger, Skipped: true}, nil
	}
	defer s.guard.Release(1)

	c := &cycle{
		Scanner: s,
		ctx:     ctx,
		opts:    opts,
		report:  Report{CycleID: uuid.NewString(), Trigger: trigger, StartedAt: s.now()},
	}
	c.logger = s.logger.With("cycle", c.report.CycleID, "trigger", trigger)

	s.setRunning(true)
	err := c.run()
	c.report.Duration = s.now().Sub(c.report.StartedAt)
	s.finish(c.report, err)
	return c.report, err
}

func (s *Scanner) setRunning(running bool) {
	s.mu.Lock()
	s.stats.Running = running
	s.mu.Unlock()
}

func (s *Scanner) finish(r Report, err error) {
	s.mu.Lock()
	s.stats.Running = false
	s.stats.LastTrigger = r.Trigger
	s.stats.LastCycleID = r.CycleID
	s.stats.LastRunAt = r.StartedAt
	s.stats.LastDuration = r.Duration
	s.stats.NextRunAt = s.now().Add(s.cfg.Interval)
	if err == nil {
		s.stats.CyclesCompleted++
		s.stats.ItemsSent += r.Sent
		s.stats.CacheHits += r.CacheHits
		s.stats.FeedsFailed += r.FeedsFailed
	}
	s.mu.Unlock()

	if err != nil {
		metricCycles.WithLabelValues("aborted").Inc()
		return
	}
	metricCycles.WithLabelValues("completed").Inc()
	s.logger.Info("Scan cycle finished",
		"cycle", r.CycleID,
		"sources", r.Sources,
		"sent", r.Sent,
		"cache_hits", r.CacheHits,
		"failed", r.FeedsFailed,
		"duration", r.Duration.Round(time.Millisecond))
}

func (s *Scanner) scheduleNext() {
	s.mu.Lock()
	s.stats.Running = false
	s.stats.NextRunAt = s.now().Add(s.cfg.Interval)
	s.mu.Unlock()
}

// cycle carries the state of one RunCycle call.
type cycle struct {
	*Scanner
	ctx     context.Context
	opts    RunOptions
	logger  *slog.Logger
	report  Report
	tenants []config.Tenant
	doc     *state.Document
	history *state.History
}

func (c *cycle) run() error {
	tenants, err := c.deps.Tenants.Load()
	if err != nil {
		c.logger.Error("Failed to load tenants", "error", err)
		return fmt.Errorf("load tenants: %w", err)
	}
	if len(tenants) == 0 {
		c.logger.Warn("No tenants configured, skipping cycle")
		return ErrNoTenants
	}
	c.tenants = tenants

	cat, err := c.deps.Catalog.Load()
	if err != nil {
		c.logger.Warn("Failed to load sources, continuing with none", "error", err)
		cat = catalog.Empty()
	}
	if cat.Len() == 0 && len(c.deps.Providers) == 0 {
		c.logger.Warn("No sources configured, skipping cycle")
		return ErrNoSources
	}

	snap := c.deps.Store.Load(c.ctx)
	c.doc, c.history = snap.Doc, snap.History
	if c.doc.CompactIfDue(c.now(), c.cfg.CompactionInterval) {
		c.report.Compacted = true
		c.logger.Info("Compacted dedup state", "history", c.history.Len(), "history_limit", c.history.Limit())
	}

	c.logger.Info("Starting scan cycle", "sources", cat.Len(), "tenants", len(tenants), "bypass", c.opts.BypassCache)

	pollable := cat.Pollable()
	c.report.Sources = len(pollable)
	for _, res := range c.deps.Fetcher.FetchAll(c.ctx, pollable, c.doc.HTTPCache) {
		switch {
		case res.Err != nil:
			c.report.FeedsFailed++
			continue
		case res.CacheHit:
			c.report.CacheHits++
			continue
		}
		entries, outcome := c.deps.Normalizer.Normalize(res.Source, res.Status, res.Payload)
		if outcome == feed.OutcomeParseError {
			c.report.FeedsFailed++
			continue
		}
		c.process(res.Source, entries)
	}

	for _, p := range c.deps.Providers {
		src := p.Source()
		c.report.Sources++
		entries, err := p.FetchRecent(c.ctx)
		if err != nil {
			c.logger.Warn("Provider failed", "source", src.URL, "error", err)
			c.report.FeedsFailed++
			continue
		}
		c.process(src, entries)
	}

	if pages := cat.StaticPages(); c.deps.Watcher != nil && len(pages) > 0 {
		c.report.Sources += len(pages)
		for _, change := range c.deps.Watcher.Check(c.ctx, pages, c.doc.PageHashes) {
			if !change.Changed {
				continue
			}
			src, ok := cat.Lookup(change.URL)
			if !ok {
				src = catalog.Source{URL: change.URL, Kind: catalog.KindStaticPage}
			}
			c.process(src, watch.ChangeEntries([]watch.Change{change}))
		}
	}

	// Saved even after cancellation so delivered links are not sent again.
	if err := c.deps.Store.Save(context.WithoutCancel(c.ctx), state.Snapshot{Doc: c.doc, History: c.history}); err != nil {
		// The cycle still counts; the next one reloads what was last saved.
		c.logger.Error("Failed to save state", "error", err)
	}
	return nil
}

// process filters the entries of one source and delivers the new ones to the
// tenants that accept them. A link is recorded once at least one tenant got it.
func (c *cycle) process(src catalog.Source, entries []feed.Entry) {
	if len(entries) == 0 {
		return
	}
	ledger, cold := dedup.LedgerFor(c.doc, c.history, src.URL)

	var fresh []feed.Entry
	if c.opts.BypassCache {
		fresh = normalized(entries)
	} else {
		fresh = c.engine.Filter(src.URL, entries, ledger, cold)
	}
	if len(fresh) > 0 {
		c.logger.Info("Found new items", "source", src.URL, "count", len(fresh))
	}

	for _, e := range fresh {
		if c.opts.BypassCache && c.report.Sent >= c.cfg.BypassCap {
			return
		}
		delivered := false
		for _, d := range c.deps.Router.Route(e, src.Metadata, c.tenants) {
			if err := c.deps.Sender.Send(c.ctx, d.Tenant, webhook.NewMessage(d)); err != nil {
				c.logger.Error("Failed to deliver item", "tenant", d.Tenant.ID, "link", e.Link, "error", err)
				c.report.DeliveryFailures++
				continue
			}
			c.report.Deliveries++
			delivered = true
		}
		if !delivered {
			continue
		}
		c.engine.MarkDelivered(ledger, e.Link)
		c.report.Sent++
		metricNewItems.WithLabelValues(src.URL).Inc()
		c.logger.Info("Processed new item", "source", src.URL, "title", e.Title)
	}
}

func normalized(entries []feed.Entry) []feed.Entry {
	out := make([]feed.Entry, 0, len(entries))
	for _, e := range entries {
		if e.Link = dedup.NormalizeLink(e.Link); e.Link != "" {
			out = append(out, e)
		}
	}
	return out
}

// FormatUptime renders d as days, hours and minutes, e.g. "2d 4h 30m".
func FormatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Minute)
	days, hours, minutes := total/(24*60), total/60%24, total%60
	return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
}
