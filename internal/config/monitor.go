package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// TopIPConfig controls the top-talker tables
type TopIPConfig struct {
	Enabled   bool `mapstructure:"enabled"`
	Threshold int  `mapstructure:"threshold"`
	Limit     int  `mapstructure:"limit"`
}

// NetstatConfig holds connection statistics settings
type NetstatConfig struct {
	TCP4Path string        `mapstructure:"tcp4_path"`
	TCP6Path string        `mapstructure:"tcp6_path"`
	Workers  int           `mapstructure:"workers"`
	Command  string        `mapstructure:"command"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// TailerConfig holds log discovery and tailing settings
type TailerConfig struct {
	Backend               string        `mapstructure:"backend"` // poll or follow
	MaxAge                time.Duration `mapstructure:"max_age"`
	IncludeGlobs          []string      `mapstructure:"include_globs"`
	ExcludePatterns       []string      `mapstructure:"exclude_patterns"`
	FilenameDomainPattern string        `mapstructure:"filename_domain_pattern"`
	AggregatedPrefix      string        `mapstructure:"aggregated_prefix"`
}

// RenderConfig holds output settings
type RenderConfig struct {
	Format    string `mapstructure:"format"` // table, json or yaml
	MaxRows   int    `mapstructure:"max_rows"`
	MaxFiles  int    `mapstructure:"max_files"`
	ShowFiles bool   `mapstructure:"show_files"`
}

// StatusConfig holds the optional status HTTP server settings
type StatusConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	ListenAddress   string        `mapstructure:"listen_address"`
	TLSCert         string        `mapstructure:"tls_cert"`
	TLSKey          string        `mapstructure:"tls_key"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// MonitorConfig represents the complete monitor configuration
type MonitorConfig struct {
	Interval      float64       `mapstructure:"interval"`   // seconds
	Rediscover    float64       `mapstructure:"rediscover"` // seconds
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	StartAtBegin  bool          `mapstructure:"start_at_begin"`
	ShowZero      bool          `mapstructure:"show_zero"`
	ShowDomains   bool          `mapstructure:"show_domains"`
	Dirs          []string      `mapstructure:"dirs"`
	CandidateDirs []string      `mapstructure:"candidate_dirs"`
	TopIP         TopIPConfig   `mapstructure:"top_ip"`
	Netstat       NetstatConfig `mapstructure:"netstat"`
	Tailer        TailerConfig  `mapstructure:"tailer"`
	Render        RenderConfig  `mapstructure:"render"`
	Status        StatusConfig  `mapstructure:"status"`
	LogLevel      string        `mapstructure:"log_level"`
	LogFormat     string        `mapstructure:"log_format"`
}

// LoadMonitorConfig loads the monitor configuration. configPath may be empty,
// in which case only defaults, environment and overrides apply. Overrides are
// keyed like the config file (e.g. "top_ip.threshold") and win over everything.
func LoadMonitorConfig(configPath string, overrides map[string]any) (*MonitorConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("RPSMON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	v.SetDefault("interval", 2.0)
	v.SetDefault("rediscover", 10.0)
	v.SetDefault("poll_interval", "100ms")
	v.SetDefault("start_at_begin", false)
	v.SetDefault("show_zero", false)
	v.SetDefault("show_domains", true)
	v.SetDefault("dirs", []string{})
	v.SetDefault("candidate_dirs", DefaultCandidateDirs)
	v.SetDefault("top_ip.enabled", false)
	v.SetDefault("top_ip.threshold", 5)
	v.SetDefault("top_ip.limit", 5)
	v.SetDefault("netstat.tcp4_path", "/proc/net/tcp")
	v.SetDefault("netstat.tcp6_path", "/proc/net/tcp6")
	v.SetDefault("netstat.workers", 2)
	v.SetDefault("netstat.command", "ss")
	v.SetDefault("netstat.timeout", "5s")
	v.SetDefault("tailer.backend", "poll")
	v.SetDefault("tailer.max_age", "24h")
	v.SetDefault("tailer.include_globs", DefaultIncludeGlobs)
	v.SetDefault("tailer.exclude_patterns", DefaultExcludePatterns)
	v.SetDefault("tailer.filename_domain_pattern", DefaultFilenameDomainPattern)
	v.SetDefault("tailer.aggregated_prefix", DefaultAggregatedPrefix)
	v.SetDefault("render.format", "table")
	v.SetDefault("render.max_rows", 60)
	v.SetDefault("render.max_files", 20)
	v.SetDefault("render.show_files", false)
	v.SetDefault("status.enabled", false)
	v.SetDefault("status.listen_address", "127.0.0.1:9181")
	v.SetDefault("status.shutdown_timeout", "5s")
	v.SetDefault("log_level", "warn")
	v.SetDefault("log_format", "console")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	for key, value := range overrides {
		v.Set(key, value)
	}

	var config MonitorConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	// a window shorter than the poll interval is polled once at its end
	if window := config.IntervalDuration(); config.PollInterval > window {
		config.PollInterval = window
	}

	return &config, nil
}

// Validate checks the configuration for values the monitor cannot run with
func (c *MonitorConfig) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %v", c.Interval)
	}
	if c.Rediscover <= 0 {
		return fmt.Errorf("rediscover must be positive, got %v", c.Rediscover)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.TopIP.Threshold < 0 || c.TopIP.Limit < 0 {
		return fmt.Errorf("top_ip threshold and limit must not be negative")
	}
	if c.Netstat.Workers < 1 {
		return fmt.Errorf("netstat.workers must be at least 1")
	}
	switch c.Tailer.Backend {
	case "poll", "follow":
	default:
		return fmt.Errorf("unknown tailer.backend %q", c.Tailer.Backend)
	}
	switch c.Render.Format {
	case "table", "json", "yaml":
	default:
		return fmt.Errorf("unknown render.format %q", c.Render.Format)
	}
	if (c.Status.TLSCert == "") != (c.Status.TLSKey == "") {
		return fmt.Errorf("status.tls_cert and status.tls_key must be set together")
	}
	return nil
}

// IntervalDuration returns the sampling window length
func (c *MonitorConfig) IntervalDuration() time.Duration {
	return secondsToDuration(c.Interval)
}

// RediscoverDuration returns the rediscovery period
func (c *MonitorConfig) RediscoverDuration() time.Duration {
	return secondsToDuration(c.Rediscover)
}

// Directories returns the extra directories followed by the candidates,
// deduplicated in first-seen order.
func (c *MonitorConfig) Directories() []string {
	seen := make(map[string]struct{}, len(c.Dirs)+len(c.CandidateDirs))
	dirs := make([]string, 0, len(c.Dirs)+len(c.CandidateDirs))
	for _, list := range [][]string{c.Dirs, c.CandidateDirs} {
		for _, d := range list {
			if _, ok := seen[d]; ok {
				continue
			}
			seen[d] = struct{}{}
			dirs = append(dirs, d)
		}
	}
	return dirs
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
