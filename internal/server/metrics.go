package server

import (
	"github.com/oicur0t/rpsmon/internal/monitor"
	"github.com/oicur0t/rpsmon/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainRPSDesc = prometheus.NewDesc("rpsmon_domain_requests_per_second",
		"Requests per second in the last sampling window.", []string{"domain"}, nil)
	connectionsDesc = prometheus.NewDesc("rpsmon_connections",
		"TCP connections seen in the last cycle.", []string{"kind"}, nil)
	fallbackDesc = prometheus.NewDesc("rpsmon_fallback_active",
		"1 when connection counters came from the fallback command.", nil, nil)
	topIPDesc = prometheus.NewDesc("rpsmon_top_ip_connections",
		"Connections of the top remote addresses.", []string{"category", "ip"}, nil)
	filesDesc = prometheus.NewDesc("rpsmon_tailed_files",
		"Access log files being tailed.", nil, nil)
	cyclesDesc = prometheus.NewDesc("rpsmon_cycles_total",
		"Completed sampling cycles.", nil, nil)
	errorsDesc = prometheus.NewDesc("rpsmon_cycle_errors_total",
		"Non-fatal errors by category.", []string{"category"}, nil)
)

var errorCounters = []string{
	monitor.CounterTransientSource,
	monitor.CounterPermission,
	monitor.CounterMalformedRecord,
	monitor.CounterFallbackUnavailable,
}

// reportCollector exposes the latest report and cumulative counters as
// const metrics built at scrape time
type reportCollector struct {
	diag *monitor.Diagnostics
}

// Describe implements prometheus.Collector
func (c *reportCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{domainRPSDesc, connectionsDesc, fallbackDesc, topIPDesc, filesDesc, cyclesDesc, errorsDesc} {
		ch <- d
	}
}

// Collect implements prometheus.Collector
func (c *reportCollector) Collect(ch chan<- prometheus.Metric) {
	counters := c.diag.Counters()
	ch <- prometheus.MustNewConstMetric(cyclesDesc, prometheus.CounterValue, float64(counters[monitor.CounterCycles]))
	for _, name := range errorCounters {
		ch <- prometheus.MustNewConstMetric(errorsDesc, prometheus.CounterValue, float64(counters[name]), name)
	}

	r, ok := c.diag.Last()
	if !ok {
		return
	}

	for kind, v := range map[string]int{
		"port80":      r.Connections.Port80,
		"port443":     r.Connections.Port443,
		"established": r.Connections.Established,
		"syn_recv":    r.Connections.SynRecv,
	} {
		ch <- prometheus.MustNewConstMetric(connectionsDesc, prometheus.GaugeValue, float64(v), kind)
	}

	fallback := 0.0
	if r.Connections.Source == models.SourceFallbackCommand {
		fallback = 1
	}
	ch <- prometheus.MustNewConstMetric(fallbackDesc, prometheus.GaugeValue, fallback)

	for _, d := range r.Domains {
		ch <- prometheus.MustNewConstMetric(domainRPSDesc, prometheus.GaugeValue, float64(d.Rate), d.Domain)
	}
	for cat, entries := range r.TopIPs {
		for _, e := range entries {
			ch <- prometheus.MustNewConstMetric(topIPDesc, prometheus.GaugeValue, float64(e.Count), string(cat), e.IP)
		}
	}
	ch <- prometheus.MustNewConstMetric(filesDesc, prometheus.GaugeValue, float64(len(r.Files)))
}

// NewRegistry returns a registry exposing the monitor's diagnostics
func NewRegistry(diag *monitor.Diagnostics) *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(&reportCollector{diag: diag})
	return registry
}
