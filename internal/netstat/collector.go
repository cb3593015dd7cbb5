// Package netstat reports host-level TCP connection counters and top remote
// addresses, read from the kernel connection tables with an external command
// as fallback.
package netstat

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/oicur0t/rpsmon/pkg/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Config configures a Collector
type Config struct {
	TCP4Path string
	TCP6Path string
	Workers  int
	Command  string
	Timeout  time.Duration
}

// Result is one cycle's connection statistics
type Result struct {
	Summary models.ConnectionSummary
	TopIPs  models.TopIPTable
	Errors  models.CycleErrors
}

// Collector reads connection statistics once per cycle. It is not safe for
// concurrent Collect calls.
type Collector struct {
	cfg    Config
	run    CommandRunner
	logger *zap.Logger

	usingFallback bool
}

// NewCollector creates a collector using the real kernel tables and command
func NewCollector(cfg Config, logger *zap.Logger) *Collector {
	return NewCollectorWithRunner(cfg, execRunner, logger)
}

// NewCollectorWithRunner creates a collector with a custom command runner
func NewCollectorWithRunner(cfg Config, run CommandRunner, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Command == "" {
		cfg.Command = "ss"
	}
	return &Collector{cfg: cfg, run: run, logger: logger}
}

type tableRead struct {
	records   []ConnRecord
	malformed int
	err       error
}

// Collect gathers one snapshot. Kernel tables are used when at least one of
// them can be read; otherwise the fallback command is run. Cancelling ctx
// abandons in-flight reads and returns whatever is complete.
func (c *Collector) Collect(ctx context.Context, top TopIPOptions) Result {
	records, errs, ok := c.readTables(ctx)
	if ctx.Err() != nil {
		return Result{Summary: models.ConnectionSummary{Source: models.SourceKernelTable}, Errors: errs}
	}

	if !ok {
		if !c.usingFallback {
			c.logger.Warn("Kernel connection tables unavailable, using fallback command",
				zap.String("command", c.cfg.Command))
			c.usingFallback = true
		}
		res := c.collectFallback(ctx, top)
		res.Errors.Add(errs)
		return res
	}

	if c.usingFallback {
		c.logger.Info("Kernel connection tables available again")
		c.usingFallback = false
	}

	res := Result{Summary: Summarize(records), Errors: errs}
	if top.Enabled {
		res.TopIPs = RankTopIPs(records, top)
	}
	return res
}

// readTables decodes the configured tables on a bounded worker group
func (c *Collector) readTables(ctx context.Context) ([]ConnRecord, models.CycleErrors, bool) {
	var errs models.CycleErrors

	paths := make([]string, 0, 2)
	for _, p := range []string{c.cfg.TCP4Path, c.cfg.TCP6Path} {
		if p != "" {
			paths = append(paths, p)
		}
	}
	if len(paths) == 0 {
		return nil, errs, false
	}

	results := make([]tableRead, len(paths))
	done := make(chan struct{})

	go func() {
		defer close(done)
		var g errgroup.Group
		g.SetLimit(c.cfg.Workers)
		for i, p := range paths {
			g.Go(func() error {
				results[i] = readTable(ctx, p)
				return nil
			})
		}
		g.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return nil, errs, false
	}

	var records []ConnRecord
	ok := false
	for i, r := range results {
		errs.MalformedRecord += r.malformed
		if r.err != nil {
			switch {
			case errors.Is(r.err, fs.ErrNotExist):
				// tcp6 is absent on hosts without IPv6
			case errors.Is(r.err, fs.ErrPermission):
				errs.Permission++
			default:
				errs.TransientSource++
			}
			c.logger.Debug("Failed to read connection table",
				zap.String("path", paths[i]),
				zap.Error(r.err))
			continue
		}
		ok = true
		records = append(records, r.records...)
	}

	return records, errs, ok
}

func readTable(ctx context.Context, path string) tableRead {
	f, err := os.Open(path)
	if err != nil {
		return tableRead{err: err}
	}
	defer f.Close()

	records, malformed, err := ParseTable(ctx, f)
	if err != nil {
		return tableRead{malformed: malformed, err: fmt.Errorf("failed to read %s: %w", path, err)}
	}
	return tableRead{records: records, malformed: malformed}
}
