package monitor

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/oicur0t/rpsmon/internal/config"
	"github.com/oicur0t/rpsmon/internal/netstat"
	"github.com/oicur0t/rpsmon/internal/tailer"
	"github.com/oicur0t/rpsmon/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type line struct{ key, text string }

type fakeSources struct {
	mu       sync.Mutex
	batches  [][]line
	syncErrs models.CycleErrors
	syncs    int
	closed   bool
}

func (f *fakeSources) Sync() models.CycleErrors {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncs++
	return f.syncErrs
}

func (f *fakeSources) Poll(fn func(key, line string)) models.CycleErrors {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.batches) == 0 {
		return models.CycleErrors{}
	}
	for _, l := range f.batches[0] {
		fn(l.key, l.text)
	}
	f.batches = f.batches[1:]
	return models.CycleErrors{}
}

func (f *fakeSources) Paths() []string { return []string{"/var/log/a.log", "/var/log/b.log"} }

func (f *fakeSources) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakeStats struct {
	res   netstat.Result
	calls int
}

func (f *fakeStats) Collect(ctx context.Context, top netstat.TopIPOptions) netstat.Result {
	f.calls++
	return f.res
}

type chanRenderer chan models.Report

func (c chanRenderer) Render(r models.Report) error {
	c <- r
	return nil
}

func repeat(key string, n int) []line {
	out := make([]line, n)
	for i := range out {
		out[i] = line{key: key, text: "203.0.113.9 - - [10/Oct/2024:13:55:36 +0000] \"GET / HTTP/1.1\" 200 1"}
	}
	return out
}

var testOpts = Options{
	Interval:     2 * time.Second,
	PollInterval: 100 * time.Millisecond,
	Rediscover:   time.Hour,
	ShowDomains:  true,
}

// drive advances the mock clock until fn returns
func drive(t *testing.T, mock *clock.Mock, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	for {
		select {
		case <-done:
			return
		default:
			mock.Add(50 * time.Millisecond)
		}
	}
}

func TestCycle_Rates(t *testing.T) {
	mock := clock.NewMock()
	src := &fakeSources{batches: [][]line{
		append(repeat("a.example.com:/var/log/a.log", 7), repeat("b.example.com:/var/log/b.log", 3)...),
	}}
	stats := &fakeStats{res: netstat.Result{
		Summary: models.ConnectionSummary{Port80: 12, Port443: 3, Established: 9, SynRecv: 1, Source: models.SourceKernelTable},
		Errors:  models.CycleErrors{MalformedRecord: 2},
	}}

	m := New(testOpts, src, nil, stats, nil, mock, nil)

	var report models.Report
	var err error
	drive(t, mock, func() { report, err = m.Cycle(context.Background()) })
	require.NoError(t, err)

	assert.Equal(t, 2.0, report.WindowSeconds)
	assert.Equal(t, []models.DomainRate{
		{Domain: "a.example.com", Rate: 4},
		{Domain: "b.example.com", Rate: 2},
	}, report.Domains)
	assert.Equal(t, stats.res.Summary, report.Connections)
	assert.Equal(t, 2, report.Errors.MalformedRecord)
	assert.Nil(t, report.TopIPs)
	assert.Nil(t, report.Files)
	assert.Equal(t, 1, stats.calls)
	// a monitor that never rediscovered does so on its first window
	assert.Equal(t, 1, src.syncs)
}

func TestCycle_ShowZeroFilesAndTopIPs(t *testing.T) {
	mock := clock.NewMock()
	src := &fakeSources{batches: [][]line{
		repeat("a.example.com:/var/log/a.log", 1),
		repeat("b.example.com:/var/log/b.log", 10),
	}}
	top := models.TopIPTable{models.CategoryPort80: {{IP: "203.0.113.9", Count: 7}}}
	stats := &fakeStats{res: netstat.Result{TopIPs: top}}

	opts := testOpts
	opts.Interval = 4 * time.Second
	opts.ShowZero = true
	opts.ListFiles = true
	opts.TopIP = netstat.TopIPOptions{Enabled: true, Threshold: 5, Limit: 5}

	m := New(opts, src, nil, stats, nil, mock, nil)

	var report models.Report
	drive(t, mock, func() { report, _ = m.Cycle(context.Background()) })

	assert.Equal(t, []models.DomainRate{
		{Domain: "b.example.com", Rate: 3},
		{Domain: "a.example.com", Rate: 0},
	}, report.Domains)
	assert.Equal(t, top, report.TopIPs)
	assert.Equal(t, []string{"/var/log/a.log", "/var/log/b.log"}, report.Files)
}

func TestCycle_NoDomains(t *testing.T) {
	mock := clock.NewMock()
	stats := &fakeStats{res: netstat.Result{Summary: models.ConnectionSummary{Port80: 1}}}

	opts := testOpts
	opts.ShowDomains = false
	opts.ListFiles = true

	m := New(opts, nil, nil, stats, nil, mock, nil)

	var report models.Report
	drive(t, mock, func() { report, _ = m.Cycle(context.Background()) })

	assert.Nil(t, report.Domains)
	assert.Nil(t, report.Files)
	assert.Equal(t, 1, report.Connections.Port80)
}

func TestCycle_Rediscover(t *testing.T) {
	mock := clock.NewMock()
	src := &fakeSources{syncErrs: models.CycleErrors{Permission: 1}}

	opts := testOpts
	opts.Rediscover = time.Millisecond

	m := New(opts, src, nil, &fakeStats{}, nil, mock, nil)

	var report models.Report
	drive(t, mock, func() { report, _ = m.Cycle(context.Background()) })
	assert.Equal(t, 1, src.syncs)
	assert.Equal(t, 1, report.Errors.Permission)

	drive(t, mock, func() { report, _ = m.Cycle(context.Background()) })
	assert.Equal(t, 2, src.syncs)
}

func TestCycle_Cancelled(t *testing.T) {
	mock := clock.NewMock()
	stats := &fakeStats{}
	out := make(chanRenderer, 1)

	m := New(testOpts, &fakeSources{}, nil, stats, []Renderer{out}, mock, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Cycle(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, stats.calls)
	assert.Empty(t, out)
}

func TestRun(t *testing.T) {
	mock := clock.NewMock()
	src := &fakeSources{
		batches:  [][]line{repeat("a.example.com:/var/log/a.log", 4)},
		syncErrs: models.CycleErrors{Permission: 1},
	}
	out := make(chanRenderer, 4)

	m := New(testOpts, src, nil, &fakeStats{}, []Renderer{out}, mock, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- m.Run(ctx) }()

	var reports []models.Report
	for len(reports) < 2 {
		select {
		case r := <-out:
			reports = append(reports, r)
		default:
			mock.Add(50 * time.Millisecond)
		}
	}
	cancel()
	require.NoError(t, <-errc)

	assert.Equal(t, []models.DomainRate{{Domain: "a.example.com", Rate: 2}}, reports[0].Domains)
	assert.Equal(t, 1, reports[0].Errors.Permission)
	assert.Empty(t, reports[1].Domains)
	assert.Zero(t, reports[1].Errors.Permission)

	assert.Equal(t, 1, src.syncs)
	assert.True(t, src.closed)

	counters := m.Diagnostics().Counters()
	assert.GreaterOrEqual(t, counters[CounterCycles], 2)
	assert.Equal(t, 1, counters[CounterPermission])
}

func TestCycle_WithWatcher(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "a.example.com.access.log")
	b := filepath.Join(root, "b.example.com.access.log")
	for _, p := range []string{a, b} {
		require.NoError(t, os.WriteFile(p, []byte("history\n"), 0644))
	}

	d, err := tailer.NewDiscoverer(tailer.DiscoverConfig{
		IncludeGlobs:          config.DefaultIncludeGlobs,
		ExcludePatterns:       config.DefaultExcludePatterns,
		FilenameDomainPattern: config.DefaultFilenameDomainPattern,
		AggregatedPrefix:      config.DefaultAggregatedPrefix,
		MaxAge:                time.Hour,
	}, nil)
	require.NoError(t, err)
	open, err := tailer.OpenerFor("poll", true)
	require.NoError(t, err)

	w := tailer.NewWatcher([]string{root}, d, open, nil)
	defer w.Close()
	w.Sync()

	appendN := func(path string, n int) {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
		require.NoError(t, err)
		defer f.Close()
		for i := 0; i < n; i++ {
			_, err := f.WriteString("198.51.100.7 - - [10/Oct/2024:13:55:36 +0000] \"GET / HTTP/1.1\" 200 1\n")
			require.NoError(t, err)
		}
	}
	appendN(a, 7)
	appendN(b, 3)

	mock := clock.NewMock()
	m := New(testOpts, w, nil, &fakeStats{}, nil, mock, nil)

	var report models.Report
	drive(t, mock, func() { report, _ = m.Cycle(context.Background()) })

	assert.Equal(t, []models.DomainRate{
		{Domain: "a.example.com", Rate: 4},
		{Domain: "b.example.com", Rate: 2},
	}, report.Domains)
}

func TestDiagnostics(t *testing.T) {
	d := NewDiagnostics()
	_, ok := d.Last()
	assert.False(t, ok)

	d.Observe(models.Report{
		Connections: models.ConnectionSummary{Source: models.SourceFallbackCommand},
		Errors:      models.CycleErrors{FallbackUnavailable: 2, MalformedRecord: 1},
	})
	d.Observe(models.Report{
		Connections: models.ConnectionSummary{Port80: 5, Source: models.SourceKernelTable},
		Errors:      models.CycleErrors{TransientSource: 1},
	})

	c := d.Counters()
	assert.Equal(t, 2, c[CounterCycles])
	assert.Equal(t, 2, c[CounterFallbackUnavailable])
	assert.Equal(t, 1, c[CounterFallbackCycles])
	assert.Equal(t, 1, c[CounterMalformedRecord])
	assert.Equal(t, 1, c[CounterTransientSource])
	assert.Equal(t, 0, c[CounterPermission])

	last, ok := d.Last()
	require.True(t, ok)
	assert.Equal(t, 5, last.Connections.Port80)
}
