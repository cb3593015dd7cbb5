package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/oicur0t/rpsmon/internal/classify"
	"github.com/oicur0t/rpsmon/internal/config"
	"github.com/oicur0t/rpsmon/internal/monitor"
	"github.com/oicur0t/rpsmon/internal/netstat"
	"github.com/oicur0t/rpsmon/internal/render"
	"github.com/oicur0t/rpsmon/internal/server"
	"github.com/oicur0t/rpsmon/internal/tailer"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// flagValues holds the raw command line values
type flagValues struct {
	configPath   string
	dirs         []string
	interval     float64
	rediscover   float64
	startAtBegin bool
	showZero     bool
	noDomains    bool
	topIP        int
	logfile      bool
	format       string
	statusAddr   string
	logLevel     string
}

func newRootCommand() *cobra.Command {
	return newRootCommandWith(&flagValues{})
}

func newRootCommandWith(fv *flagValues) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rpsmon",
		Short: "Live requests per second per domain and TCP connection counters",
		Long: `rpsmon discovers web server access logs (nginx, apache, LiteSpeed, Caddy and
the usual hosting panels), tails them across rotation and shows requests per
second per domain next to host TCP connection counters.`,
		SilenceUsage: true,
		Args: func(cmd *cobra.Command, args []string) error {
			return fv.topIPArg(cmd.Flags().Changed, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadMonitorConfig(fv.configPath, fv.overrides(cmd.Flags().Changed))
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&fv.configPath, "config", "", "Path to configuration file")
	f.StringArrayVar(&fv.dirs, "dir", nil, "Extra log directory, wildcards allowed (repeatable)")
	f.Float64Var(&fv.interval, "interval", 2, "Sampling window in seconds")
	f.Float64Var(&fv.rediscover, "rediscover", 10, "Log rediscovery period in seconds")
	f.BoolVar(&fv.startAtBegin, "start-at-begin", false, "Read files from the beginning instead of the end")
	f.BoolVar(&fv.showZero, "show-zero", false, "Show domains with 0 requests per second")
	f.BoolVar(&fv.noDomains, "no-domains", false, "Hide the per domain table and skip log tailing")
	f.IntVar(&fv.topIP, "topip", 5, "Show top remote IPs with more than N connections (--topip, --topip 20 or --topip=20)")
	f.Lookup("topip").NoOptDefVal = "5"
	f.BoolVar(&fv.logfile, "logfile", false, "List the log files being tailed")
	f.StringVar(&fv.format, "format", "table", "Output format: table, json or yaml")
	f.StringVar(&fv.statusAddr, "status-addr", "", "Serve the status API on this address")
	f.StringVar(&fv.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	return cmd
}

// topIPArg takes the threshold of "--topip 20", which the flag parser
// leaves behind as a positional argument
func (fv *flagValues) topIPArg(changed func(string) bool, args []string) error {
	if len(args) == 0 {
		return nil
	}
	if len(args) > 1 || !changed("topip") {
		return fmt.Errorf("unexpected arguments: %v", args)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 0 {
		return fmt.Errorf("invalid --topip threshold %q", args[0])
	}
	fv.topIP = n
	return nil
}

// overrides maps the flags that were set to configuration keys
func (fv *flagValues) overrides(changed func(string) bool) map[string]any {
	ov := make(map[string]any)
	if changed("dir") {
		ov["dirs"] = fv.dirs
	}
	if changed("interval") {
		ov["interval"] = fv.interval
	}
	if changed("rediscover") {
		ov["rediscover"] = fv.rediscover
	}
	if changed("start-at-begin") {
		ov["start_at_begin"] = fv.startAtBegin
	}
	if changed("show-zero") {
		ov["show_zero"] = fv.showZero
	}
	if changed("no-domains") {
		ov["show_domains"] = !fv.noDomains
	}
	if changed("topip") {
		ov["top_ip.enabled"] = true
		ov["top_ip.threshold"] = fv.topIP
	}
	if changed("logfile") {
		ov["render.show_files"] = fv.logfile
	}
	if changed("format") {
		ov["render.format"] = fv.format
	}
	if changed("status-addr") {
		ov["status.enabled"] = fv.statusAddr != ""
		ov["status.listen_address"] = fv.statusAddr
	}
	if changed("log-level") {
		ov["log_level"] = fv.logLevel
	}
	return ov
}

func run(ctx context.Context, cfg *config.MonitorConfig) error {
	// Initialize logger
	logger, err := initLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting rpsmon",
		zap.Float64("interval", cfg.Interval),
		zap.Float64("rediscover", cfg.Rediscover),
		zap.Strings("dirs", cfg.Dirs),
		zap.String("format", cfg.Render.Format))

	var sources monitor.SourceSet
	if cfg.ShowDomains {
		discoverer, err := tailer.NewDiscoverer(tailer.DiscoverConfig{
			IncludeGlobs:          cfg.Tailer.IncludeGlobs,
			ExcludePatterns:       cfg.Tailer.ExcludePatterns,
			FilenameDomainPattern: cfg.Tailer.FilenameDomainPattern,
			AggregatedPrefix:      cfg.Tailer.AggregatedPrefix,
			MaxAge:                cfg.Tailer.MaxAge,
		}, logger)
		if err != nil {
			return err
		}
		open, err := tailer.OpenerFor(cfg.Tailer.Backend, !cfg.StartAtBegin)
		if err != nil {
			return err
		}
		sources = tailer.NewWatcher(cfg.Directories(), discoverer, open, logger)
	}

	collector := netstat.NewCollector(netstat.Config{
		TCP4Path: cfg.Netstat.TCP4Path,
		TCP6Path: cfg.Netstat.TCP6Path,
		Workers:  cfg.Netstat.Workers,
		Command:  cfg.Netstat.Command,
		Timeout:  cfg.Netstat.Timeout,
	}, logger)

	out, err := render.New(cfg.Render.Format, os.Stdout, render.Options{
		MaxRows:     cfg.Render.MaxRows,
		MaxFiles:    cfg.Render.MaxFiles,
		ShowDomains: cfg.ShowDomains,
		TopIP:       cfg.TopIP.Enabled,
		TopIPAbove:  cfg.TopIP.Threshold,
		ShowFiles:   cfg.Render.ShowFiles,
		Clear:       render.IsTerminal(os.Stdout),
	})
	if err != nil {
		return err
	}
	renderers := []monitor.Renderer{out}

	diag := monitor.NewDiagnostics()

	var status *server.Server
	if cfg.Status.Enabled {
		status, err = server.New(server.Config{
			ListenAddress: cfg.Status.ListenAddress,
			TLSCert:       cfg.Status.TLSCert,
			TLSKey:        cfg.Status.TLSKey,
		}, diag, logger)
		if err != nil {
			return err
		}
		renderers = append(renderers, status)

		errc := status.Start()
		go func() {
			if err := <-errc; err != nil {
				logger.Error("Status server failed", zap.Error(err))
			}
		}()
	}

	mon := monitor.New(monitor.Options{
		Interval:     cfg.IntervalDuration(),
		PollInterval: cfg.PollInterval,
		Rediscover:   cfg.RediscoverDuration(),
		ShowZero:     cfg.ShowZero,
		ShowDomains:  cfg.ShowDomains,
		ListFiles:    cfg.Render.ShowFiles || cfg.Status.Enabled,
		TopIP: netstat.TopIPOptions{
			Enabled:   cfg.TopIP.Enabled,
			Threshold: cfg.TopIP.Threshold,
			Limit:     cfg.TopIP.Limit,
		},
		Diagnostics: diag,
	}, sources, classify.New(), collector, renderers, clock.New(), logger)

	runErr := mon.Run(ctx)

	if status != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Status.ShutdownTimeout)
		defer cancel()
		if err := status.Shutdown(shutdownCtx); err != nil {
			logger.Error("Status server shutdown error", zap.Error(err))
		}
	}

	logger.Info("rpsmon stopped")
	return runErr
}

// initLogger creates a configured zap logger
func initLogger(level string, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var loggerConfig zap.Config
	if format == "json" {
		loggerConfig = zap.NewProductionConfig()
	} else {
		loggerConfig = zap.NewDevelopmentConfig()
	}

	loggerConfig.Level = zap.NewAtomicLevelAt(zapLevel)

	return loggerConfig.Build()
}
