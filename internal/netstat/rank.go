package netstat

import (
	"sort"

	"github.com/oicur0t/rpsmon/pkg/models"
)

// TopIPOptions selects which remote addresses make it into the top tables
type TopIPOptions struct {
	Enabled   bool
	Threshold int // an address needs strictly more connections than this
	Limit     int
}

// ignoredRemote lists addresses that never count as talkers. "::1" only
// matches fallback output: kernel rows keep IPv6 peers as raw hex, so
// loopback arrives there as 00000000000000000000000001000000.
var ignoredRemote = map[string]struct{}{
	"":          {},
	"*":         {},
	"0.0.0.0":   {},
	"127.0.0.1": {},
	"::1":       {},
}

// ipCounter counts per-address occurrences in first-seen order
type ipCounter struct {
	counts map[string]int
	order  []string
}

func newIPCounter() *ipCounter {
	return &ipCounter{counts: make(map[string]int)}
}

func (c *ipCounter) add(ip string) {
	if _, skip := ignoredRemote[ip]; skip {
		return
	}
	if _, ok := c.counts[ip]; !ok {
		c.order = append(c.order, ip)
	}
	c.counts[ip]++
}

// top ranks by count descending; ties keep first-seen order
func (c *ipCounter) top(opts TopIPOptions) []models.TopIPEntry {
	entries := make([]models.TopIPEntry, 0, len(c.order))
	for _, ip := range c.order {
		if n := c.counts[ip]; n > opts.Threshold {
			entries = append(entries, models.TopIPEntry{IP: ip, Count: n})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Count > entries[j].Count
	})
	if len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
	}
	return entries
}

// Summarize counts records by port and state. A record is counted for a port
// when either end uses it.
func Summarize(records []ConnRecord) models.ConnectionSummary {
	var s models.ConnectionSummary
	for _, r := range records {
		if r.LocalPort == 80 || r.RemotePort == 80 {
			s.Port80++
		}
		if r.LocalPort == 443 || r.RemotePort == 443 {
			s.Port443++
		}
		switch r.State {
		case StateEstablished:
			s.Established++
		case StateSynRecv:
			s.SynRecv++
		}
	}
	s.Source = models.SourceKernelTable
	return s
}

// RankTopIPs builds the per-category top-talker tables from kernel records
func RankTopIPs(records []ConnRecord, opts TopIPOptions) models.TopIPTable {
	counters := map[models.TopIPCategory]*ipCounter{
		models.CategoryPort80:      newIPCounter(),
		models.CategoryPort443:     newIPCounter(),
		models.CategoryEstablished: newIPCounter(),
	}

	for _, r := range records {
		if r.LocalPort == 80 || r.RemotePort == 80 {
			counters[models.CategoryPort80].add(r.RemoteAddr)
		}
		if r.LocalPort == 443 || r.RemotePort == 443 {
			counters[models.CategoryPort443].add(r.RemoteAddr)
		}
		if r.State == StateEstablished {
			counters[models.CategoryEstablished].add(r.RemoteAddr)
		}
	}

	table := make(models.TopIPTable, len(counters))
	for cat, c := range counters {
		table[cat] = c.top(opts)
	}
	return table
}
