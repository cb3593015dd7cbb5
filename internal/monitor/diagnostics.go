package monitor

import (
	"sync/atomic"

	"github.com/oicur0t/rpsmon/pkg/models"
	cmap "github.com/orcaman/concurrent-map/v2"
)

// Counter names reported by Diagnostics
const (
	CounterCycles              = "cycles"
	CounterTransientSource     = "transient_source"
	CounterPermission          = "permission"
	CounterMalformedRecord     = "malformed_record"
	CounterFallbackUnavailable = "fallback_unavailable"
	CounterFallbackCycles      = "fallback_cycles"
)

// Diagnostics keeps cumulative counters and the latest report. It is written
// by the monitor loop and read concurrently by the status server.
type Diagnostics struct {
	counters cmap.ConcurrentMap[string, int]
	last     atomic.Pointer[models.Report]
}

// NewDiagnostics creates an empty diagnostics store
func NewDiagnostics() *Diagnostics {
	return &Diagnostics{counters: cmap.New[int]()}
}

func (d *Diagnostics) incr(name string, n int) {
	d.counters.Upsert(name, n, func(exist bool, cur, delta int) int {
		if exist {
			return cur + delta
		}
		return delta
	})
}

// Observe folds one cycle report into the counters
func (d *Diagnostics) Observe(r models.Report) {
	d.incr(CounterCycles, 1)
	d.incr(CounterTransientSource, r.Errors.TransientSource)
	d.incr(CounterPermission, r.Errors.Permission)
	d.incr(CounterMalformedRecord, r.Errors.MalformedRecord)
	d.incr(CounterFallbackUnavailable, r.Errors.FallbackUnavailable)
	if r.Connections.Source == models.SourceFallbackCommand {
		d.incr(CounterFallbackCycles, 1)
	}
	d.last.Store(&r)
}

// Counters returns a copy of the cumulative counters
func (d *Diagnostics) Counters() map[string]int {
	return d.counters.Items()
}

// Last returns the most recent report, if any cycle completed
func (d *Diagnostics) Last() (models.Report, bool) {
	r := d.last.Load()
	if r == nil {
		return models.Report{}, false
	}
	return *r, true
}
