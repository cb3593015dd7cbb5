package tailer

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/oicur0t/rpsmon/pkg/models"
	"go.uber.org/zap"
)

// AggregatedMarker replaces the domain part of the logical key for files
// that interleave many virtual hosts.
const AggregatedMarker = "__apache_vhosts__"

// IsAggregated reports whether key belongs to a multi-vhost log
func IsAggregated(key string) bool {
	return strings.HasPrefix(key, AggregatedMarker+":")
}

// DiscoverConfig holds the data driving log discovery
type DiscoverConfig struct {
	IncludeGlobs          []string
	ExcludePatterns       []string
	FilenameDomainPattern string
	AggregatedPrefix      string
	MaxAge                time.Duration
}

// Discovered is one candidate access log
type Discovered struct {
	Key     string
	Path    string
	ModTime time.Time
}

// Discoverer scans directories for access logs and assigns logical keys
type Discoverer struct {
	include          []string
	exclude          []*regexp.Regexp
	filenameDomain   *regexp.Regexp
	nameGroup        int
	aggregatedPrefix string
	maxAge           time.Duration
	now              func() time.Time
	logger           *zap.Logger
}

// NewDiscoverer compiles cfg into a Discoverer
func NewDiscoverer(cfg DiscoverConfig, logger *zap.Logger) (*Discoverer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	exclude := make([]*regexp.Regexp, 0, len(cfg.ExcludePatterns))
	for _, p := range cfg.ExcludePatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", p, err)
		}
		exclude = append(exclude, re)
	}

	for _, g := range cfg.IncludeGlobs {
		if _, err := filepath.Match(g, ""); err != nil {
			return nil, fmt.Errorf("invalid include glob %q: %w", g, err)
		}
	}

	filenameDomain, err := regexp.Compile(cfg.FilenameDomainPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid filename domain pattern: %w", err)
	}
	nameGroup := filenameDomain.SubexpIndex("name")
	if nameGroup < 0 {
		return nil, fmt.Errorf("filename domain pattern has no \"name\" group")
	}

	return &Discoverer{
		include:          cfg.IncludeGlobs,
		exclude:          exclude,
		filenameDomain:   filenameDomain,
		nameGroup:        nameGroup,
		aggregatedPrefix: cfg.AggregatedPrefix,
		maxAge:           cfg.MaxAge,
		now:              time.Now,
		logger:           logger,
	}, nil
}

// Discover scans dirs and returns one entry per logical key in first-seen
// order. Inaccessible directories and files are skipped and counted.
func (d *Discoverer) Discover(dirs []string) ([]Discovered, models.CycleErrors) {
	var errs models.CycleErrors
	var found []Discovered
	index := make(map[string]int)

	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			countSourceError(err, &errs)
			d.logger.Debug("Skipping directory", zap.String("dir", dir), zap.Error(err))
			if len(entries) == 0 {
				continue
			}
		}

		for _, pattern := range d.include {
			for _, entry := range entries {
				name := entry.Name()
				if strings.HasPrefix(name, ".") {
					continue
				}
				if ok, _ := filepath.Match(pattern, name); !ok {
					continue
				}

				path := filepath.Join(dir, name)
				cand, ok, err := d.inspect(path)
				if err != nil {
					countSourceError(err, &errs)
					d.logger.Debug("Skipping file", zap.String("file", path), zap.Error(err))
					continue
				}
				if !ok {
					continue
				}

				i, exists := index[cand.Key]
				if !exists {
					index[cand.Key] = len(found)
					found = append(found, cand)
					continue
				}
				// Keep the most recently modified file for the key
				if cand.ModTime.After(found[i].ModTime) {
					found[i] = cand
				}
			}
		}
	}

	return found, errs
}

// inspect applies the file filters and computes the logical key
func (d *Discoverer) inspect(path string) (Discovered, bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Discovered{}, false, err
	}
	if !info.Mode().IsRegular() || d.Excluded(path) {
		return Discovered{}, false, nil
	}
	if d.maxAge > 0 && d.now().Sub(info.ModTime()) > d.maxAge {
		return Discovered{}, false, nil
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return Discovered{}, false, err
	}

	return Discovered{
		Key:     d.LogicalKey(abs),
		Path:    abs,
		ModTime: info.ModTime(),
	}, true, nil
}

// Excluded reports whether any exclude rule matches path
func (d *Discoverer) Excluded(path string) bool {
	normalized := filepath.ToSlash(strings.ReplaceAll(path, `\`, "/"))
	for _, re := range d.exclude {
		if re.MatchString(normalized) {
			return true
		}
	}
	return false
}

// LogicalKey builds the "<domain>:<path>" key for an absolute log path
func (d *Discoverer) LogicalKey(absPath string) string {
	base := filepath.Base(absPath)
	if d.aggregatedPrefix != "" && strings.HasPrefix(base, d.aggregatedPrefix) {
		return AggregatedMarker + ":" + absPath
	}
	return d.domainName(absPath) + ":" + absPath
}

// domainName recovers a domain from the file name, then the parent
// directory, then a sanitized base name.
func (d *Discoverer) domainName(path string) string {
	base := filepath.Base(path)
	if m := d.filenameDomain.FindStringSubmatch(base); m != nil {
		return m[d.nameGroup]
	}

	parent := filepath.Base(filepath.Dir(path))
	if strings.Contains(parent, ".") && len(parent) > 3 {
		return parent
	}

	name := strings.ReplaceAll(base, ".log", "")
	name = strings.ReplaceAll(name, "_log", "")
	return strings.ReplaceAll(name, "-log", "")
}
