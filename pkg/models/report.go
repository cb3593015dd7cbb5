package models

import "time"

// StatsSource tags where connection counters were read from
type StatsSource string

const (
	SourceKernelTable     StatsSource = "kernel-table"
	SourceFallbackCommand StatsSource = "fallback-command"
)

// ConnectionSummary holds host-level TCP counters for one cycle
type ConnectionSummary struct {
	Port80      int         `json:"port_80" yaml:"port_80"`
	Port443     int         `json:"port_443" yaml:"port_443"`
	Established int         `json:"established" yaml:"established"`
	SynRecv     int         `json:"syn_recv" yaml:"syn_recv"`
	Source      StatsSource `json:"source" yaml:"source"`
}

// TopIPCategory labels one top-talker ranking
type TopIPCategory string

const (
	CategoryPort80      TopIPCategory = "port80"
	CategoryPort443     TopIPCategory = "port443"
	CategoryEstablished TopIPCategory = "established"
)

// TopIPCategories lists the categories in display order
var TopIPCategories = []TopIPCategory{CategoryPort80, CategoryPort443, CategoryEstablished}

// TopIPEntry is a remote address and its connection count
type TopIPEntry struct {
	IP    string `json:"ip" yaml:"ip"`
	Count int    `json:"count" yaml:"count"`
}

// TopIPTable maps each category to its ranked entries
type TopIPTable map[TopIPCategory][]TopIPEntry

// DomainRate is one row of the requests-per-second table
type DomainRate struct {
	Domain string `json:"domain" yaml:"domain"`
	Rate   int    `json:"rps" yaml:"rps"`
}

// CycleErrors counts the non-fatal failures observed during one cycle
type CycleErrors struct {
	TransientSource     int `json:"transient_source" yaml:"transient_source"`
	Permission          int `json:"permission" yaml:"permission"`
	MalformedRecord     int `json:"malformed_record" yaml:"malformed_record"`
	FallbackUnavailable int `json:"fallback_unavailable" yaml:"fallback_unavailable"`
}

// Add accumulates other into e
func (e *CycleErrors) Add(other CycleErrors) {
	e.TransientSource += other.TransientSource
	e.Permission += other.Permission
	e.MalformedRecord += other.MalformedRecord
	e.FallbackUnavailable += other.FallbackUnavailable
}

// Total returns the sum of all categories
func (e CycleErrors) Total() int {
	return e.TransientSource + e.Permission + e.MalformedRecord + e.FallbackUnavailable
}

// Report is everything a renderer receives at the end of a cycle
type Report struct {
	Time          time.Time         `json:"time" yaml:"time"`
	WindowSeconds float64           `json:"window_seconds" yaml:"window_seconds"`
	Connections   ConnectionSummary `json:"connections" yaml:"connections"`
	Domains       []DomainRate      `json:"domains,omitempty" yaml:"domains,omitempty"`
	TopIPs        TopIPTable        `json:"top_ips,omitempty" yaml:"top_ips,omitempty"`
	Files         []string          `json:"files,omitempty" yaml:"files,omitempty"`
	Errors        CycleErrors       `json:"errors" yaml:"errors"`
}
