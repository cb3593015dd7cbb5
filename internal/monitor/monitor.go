// Package monitor runs the sampling loop: tail logs for one interval, count
// lines per domain, read connection statistics and hand a report to every
// renderer.
package monitor

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/oicur0t/rpsmon/internal/classify"
	"github.com/oicur0t/rpsmon/internal/netstat"
	"github.com/oicur0t/rpsmon/internal/rate"
	"github.com/oicur0t/rpsmon/internal/tailer"
	"github.com/oicur0t/rpsmon/pkg/models"
	"go.uber.org/zap"
)

// SourceSet is the set of tailed log files
type SourceSet interface {
	Sync() models.CycleErrors
	Poll(fn func(key, line string)) models.CycleErrors
	Paths() []string
	Close() error
}

// StatsCollector reads host connection statistics
type StatsCollector interface {
	Collect(ctx context.Context, top netstat.TopIPOptions) netstat.Result
}

// Renderer presents one cycle report
type Renderer interface {
	Render(report models.Report) error
}

// Options controls the loop
type Options struct {
	Interval     time.Duration
	PollInterval time.Duration
	Rediscover   time.Duration
	ShowZero     bool
	ShowDomains  bool
	ListFiles    bool
	TopIP        netstat.TopIPOptions

	// Diagnostics receives every report; a new store is created when nil
	Diagnostics *Diagnostics
}

// Monitor owns the sampling loop. Sources are only touched from Run.
type Monitor struct {
	opts       Options
	sources    SourceSet
	classifier *classify.Classifier
	stats      StatsCollector
	renderers  []Renderer
	clock      clock.Clock
	logger     *zap.Logger
	diag       *Diagnostics

	lastRediscover time.Time
	pending        models.CycleErrors
}

// New creates a monitor. sources may be nil when domains are not shown.
func New(opts Options, sources SourceSet, classifier *classify.Classifier, stats StatsCollector, renderers []Renderer, clk clock.Clock, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.New()
	}
	if classifier == nil {
		classifier = classify.New()
	}
	if opts.PollInterval <= 0 || opts.PollInterval > opts.Interval {
		opts.PollInterval = opts.Interval
	}
	diag := opts.Diagnostics
	if diag == nil {
		diag = NewDiagnostics()
	}
	return &Monitor{
		opts:       opts,
		sources:    sources,
		classifier: classifier,
		stats:      stats,
		renderers:  renderers,
		clock:      clk,
		logger:     logger,
		diag:       diag,
	}
}

// Diagnostics returns the cumulative counters of this monitor
func (m *Monitor) Diagnostics() *Diagnostics { return m.diag }

func (m *Monitor) tailing() bool {
	return m.opts.ShowDomains && m.sources != nil
}

// Run performs the initial discovery and then cycles until ctx is cancelled.
// Sources are closed on return.
func (m *Monitor) Run(ctx context.Context) error {
	if m.tailing() {
		defer func() {
			if err := m.sources.Close(); err != nil {
				m.logger.Warn("Failed to close log sources", zap.Error(err))
			}
		}()
		m.pending = m.sources.Sync()
		m.lastRediscover = m.clock.Now()
	}

	m.logger.Info("Monitor started",
		zap.Duration("interval", m.opts.Interval),
		zap.Duration("rediscover", m.opts.Rediscover),
		zap.Bool("domains", m.opts.ShowDomains),
		zap.Bool("top_ip", m.opts.TopIP.Enabled))

	for {
		if _, err := m.Cycle(ctx); err != nil {
			m.logger.Info("Monitor stopped")
			return nil
		}
	}
}

// Cycle runs one sampling window and renders its report. It only returns an
// error when ctx is cancelled, in which case nothing is rendered.
func (m *Monitor) Cycle(ctx context.Context) (models.Report, error) {
	start := m.clock.Now()
	deadline := start.Add(m.opts.Interval)
	agg := rate.New(start)

	errs := m.pending
	m.pending = models.CycleErrors{}

	record := func(key, line string) {
		agg.Record(m.classifier.Classify(line, key, tailer.IsAggregated(key)))
	}

	var now time.Time
	for {
		if m.tailing() {
			errs.Add(m.sources.Poll(record))
		}
		now = m.clock.Now()
		if !now.Before(deadline) {
			break
		}
		if err := m.sleep(ctx, min(m.opts.PollInterval, deadline.Sub(now))); err != nil {
			return models.Report{}, err
		}
	}

	if m.tailing() && now.Sub(m.lastRediscover) >= m.opts.Rediscover {
		errs.Add(m.sources.Sync())
		m.lastRediscover = now
	}

	stats := m.stats.Collect(ctx, m.opts.TopIP)
	if err := ctx.Err(); err != nil {
		return models.Report{}, err
	}
	errs.Add(stats.Errors)

	report := models.Report{
		Time:          now,
		WindowSeconds: m.opts.Interval.Seconds(),
		Connections:   stats.Summary,
		Errors:        errs,
	}
	if m.opts.ShowDomains {
		report.Domains = agg.Snapshot(report.WindowSeconds, m.opts.ShowZero)
	}
	if m.opts.TopIP.Enabled {
		report.TopIPs = stats.TopIPs
	}
	if m.opts.ListFiles && m.tailing() {
		report.Files = m.sources.Paths()
	}

	m.diag.Observe(report)
	if errs.Total() > 0 {
		m.logger.Debug("Cycle completed with errors",
			zap.Int("transient_source", errs.TransientSource),
			zap.Int("permission", errs.Permission),
			zap.Int("malformed_record", errs.MalformedRecord),
			zap.Int("fallback_unavailable", errs.FallbackUnavailable))
	}

	for _, r := range m.renderers {
		if err := r.Render(report); err != nil {
			m.logger.Warn("Failed to render report", zap.Error(err))
		}
	}

	return report, nil
}

func (m *Monitor) sleep(ctx context.Context, d time.Duration) error {
	t := m.clock.Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
