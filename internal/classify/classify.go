// Package classify attributes access-log lines to the domain they were
// served for.
//
// A Classifier walks a fixed chain: the aggregated-vhost matcher (only for
// multi-vhost sources), the line matchers in order, and finally the domain
// part of the source's logical key. The chain is total and deterministic.
package classify

import (
	"net"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// Matcher extracts a domain from a raw log line
type Matcher interface {
	Match(line string) (string, bool)
}

// RegexMatcher returns the first capture group of a line-start pattern
type RegexMatcher struct {
	Name    string
	Pattern *regexp.Regexp
}

// Match implements Matcher
func (m RegexMatcher) Match(line string) (string, bool) {
	sub := m.Pattern.FindStringSubmatch(line)
	if len(sub) < 2 || sub[1] == "" {
		return "", false
	}
	return strings.ToLower(sub[1]), true
}

// JSONHostMatcher reads the host from JSON access logs such as Caddy's
type JSONHostMatcher struct {
	Paths []string
}

// Match implements Matcher
func (m JSONHostMatcher) Match(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") {
		return "", false
	}
	for _, p := range m.Paths {
		r := gjson.Get(trimmed, p)
		if r.Type != gjson.String || r.Str == "" {
			continue
		}
		host := r.Str
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		return strings.ToLower(host), true
	}
	return "", false
}

var (
	// VhostMatcher matches the leading "domain " or "domain:" of lines in an
	// aggregated multi-vhost log
	VhostMatcher = RegexMatcher{
		Name:    "vhost",
		Pattern: regexp.MustCompile(`^\s*([A-Za-z0-9.\-]+\.[A-Za-z]{2,})(?:\s|:)`),
	}

	// DefaultLineMatchers are tried in order on every line
	DefaultLineMatchers = []Matcher{
		// combined log with vhost: "example.com 192.0.2.1 - - [date] ..."
		RegexMatcher{
			Name:    "vhost-combined",
			Pattern: regexp.MustCompile(`^([A-Za-z0-9][-A-Za-z0-9.]*\.[A-Za-z]{2,})\s+\d`),
		},
		// nginx $host prefix: "example.com - 192.0.2.1 ..."
		RegexMatcher{
			Name:    "host-dash",
			Pattern: regexp.MustCompile(`^([A-Za-z0-9][-A-Za-z0-9.]*\.[A-Za-z]{2,})\s*[-–]\s*\d`),
		},
		JSONHostMatcher{Paths: []string{"request.host", "host", "vhost", "http_host"}},
	}

	// DefaultKeySuffixes are stripped from key-derived domains
	DefaultKeySuffixes = []string{"_ssl", "-ssl", "_http", "-http", "_https", "-https"}
)

// Classifier derives a canonical lowercase domain for a log line
type Classifier struct {
	vhost    Matcher
	line     []Matcher
	suffixes []string
}

// New creates a Classifier with the default matchers
func New() *Classifier {
	return NewWithMatchers(VhostMatcher, DefaultLineMatchers, DefaultKeySuffixes)
}

// NewWithMatchers creates a Classifier from an explicit chain
func NewWithMatchers(vhost Matcher, line []Matcher, suffixes []string) *Classifier {
	return &Classifier{vhost: vhost, line: line, suffixes: suffixes}
}

// Classify returns the domain for line read from the source with the given
// logical key. aggregated marks multi-vhost sources.
func (c *Classifier) Classify(line, key string, aggregated bool) string {
	if aggregated && c.vhost != nil {
		if d, ok := c.vhost.Match(line); ok {
			return d
		}
	}

	for _, m := range c.line {
		if d, ok := m.Match(line); ok {
			return d
		}
	}

	return KeyDomain(key, c.suffixes)
}

// KeyDomain returns the lowercased text before the first colon of key with
// the first matching suffix removed.
func KeyDomain(key string, suffixes []string) string {
	domain, _, _ := strings.Cut(key, ":")
	domain = strings.ToLower(domain)
	for _, s := range suffixes {
		if strings.HasSuffix(domain, s) {
			return strings.TrimSuffix(domain, s)
		}
	}
	return domain
}
