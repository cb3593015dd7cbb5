// Package rate turns per-domain line counts into a requests-per-second table.
package rate

import (
	"math"
	"sort"
	"time"

	"github.com/oicur0t/rpsmon/pkg/models"
)

// Aggregator counts classified lines for one sampling window. Counts only
// grow until Snapshot; a new window gets a new Aggregator.
type Aggregator struct {
	start  time.Time
	counts map[string]int
	order  []string // first-seen order, used to break rate ties
}

// New opens a sampling window starting at start
func New(start time.Time) *Aggregator {
	return &Aggregator{
		start:  start,
		counts: make(map[string]int),
	}
}

// Start returns when the window was opened
func (a *Aggregator) Start() time.Time { return a.start }

// Record counts one line for domain
func (a *Aggregator) Record(domain string) {
	if _, ok := a.counts[domain]; !ok {
		a.order = append(a.order, domain)
	}
	a.counts[domain]++
}

// Count returns the lines recorded for domain
func (a *Aggregator) Count(domain string) int {
	return a.counts[domain]
}

// Total returns the lines recorded across all domains
func (a *Aggregator) Total() int {
	total := 0
	for _, c := range a.counts {
		total += c
	}
	return total
}

// Snapshot converts the counts to whole requests per second, rounding half
// away from zero. Rows are sorted by rate descending; equal rates keep
// first-seen order. Zero rates are dropped unless includeZero is set.
func (a *Aggregator) Snapshot(windowSeconds float64, includeZero bool) []models.DomainRate {
	rows := make([]models.DomainRate, 0, len(a.order))
	if windowSeconds <= 0 {
		return rows
	}

	for _, domain := range a.order {
		r := int(math.Round(float64(a.counts[domain]) / windowSeconds))
		if r == 0 && !includeZero {
			continue
		}
		rows = append(rows, models.DomainRate{Domain: domain, Rate: r})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Rate > rows[j].Rate
	})

	return rows
}
