package netstat

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/oicur0t/rpsmon/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tcp4Table = `  sl  local_address rem_address   st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode
   0: 00000000:0050 00000000:0000 0A 00000000:00000000 00:00000000 00000000     0        0 100 1 0 100 0 0 10 0
   1: 0A00000A:0050 097100CB:C350 01 00000000:00000000 00:00000000 00000000    33        0 101 1 0 20 4 30 10 -1
   2: 0A00000A:0050 097100CB:C351 01 00000000:00000000 00:00000000 00000000    33        0 102 1 0 20 4 30 10 -1
   3: 0A00000A:01BB 076433C6:C352 03 00000000:00000000 00:00000000 00000000    33        0 103 1 0 20 4 30 10 -1
   4: 0A00000A:01BB 097100CB:C353 01 00000000:00000000 00:00000000 00000000    33        0 104 1 0 20 4 30 10 -1
   5: nonsense
   6: 0A00000A:0016 076433C6:C354 01 00000000:00000000 00:00000000 00000000     0        0 105 1 0 20 4 30 10 -1
`

const tcp6Table = `  sl  local_address                         remote_address                        st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode
   0: 0000000000000000FFFF00000A00000A:0050 0000000000000000FFFF0000097100CB:C355 01 00000000:00000000 00:00000000 00000000    33        0 200 1 0 20 4 30 10 -1
   1: 00000000000000000000000001000000:01BB 00000000000000000000000001000000:C356 06 00000000:00000000 00:00000000 00000000     0        0 0 3 0
`

func writeTables(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	tcp4 := filepath.Join(dir, "tcp")
	tcp6 := filepath.Join(dir, "tcp6")
	require.NoError(t, os.WriteFile(tcp4, []byte(tcp4Table), 0644))
	require.NoError(t, os.WriteFile(tcp6, []byte(tcp6Table), 0644))
	return Config{TCP4Path: tcp4, TCP6Path: tcp6, Workers: 2, Command: "ss", Timeout: time.Second}
}

func failRunner(t *testing.T) CommandRunner {
	return func(ctx context.Context, name string, args ...string) ([]byte, error) {
		t.Errorf("unexpected fallback call: %s %v", name, args)
		return nil, errors.New("unexpected")
	}
}

func TestCollect_KernelTables(t *testing.T) {
	cfg := writeTables(t)
	c := NewCollectorWithRunner(cfg, failRunner(t), nil)

	res := c.Collect(context.Background(), TopIPOptions{})
	assert.Equal(t, models.ConnectionSummary{
		Port80:      4,
		Port443:     3,
		Established: 5,
		SynRecv:     1,
		Source:      models.SourceKernelTable,
	}, res.Summary)
	assert.Equal(t, 1, res.Errors.MalformedRecord)
	assert.Nil(t, res.TopIPs)
}

func TestCollect_TopIPs(t *testing.T) {
	cfg := writeTables(t)
	cfg.Workers = 1
	c := NewCollectorWithRunner(cfg, failRunner(t), nil)

	res := c.Collect(context.Background(), TopIPOptions{Enabled: true, Threshold: 1, Limit: 5})
	assert.Equal(t, []models.TopIPEntry{{IP: "203.0.113.9", Count: 3}}, res.TopIPs[models.CategoryPort80])
	assert.Empty(t, res.TopIPs[models.CategoryPort443])
	assert.Equal(t, []models.TopIPEntry{{IP: "203.0.113.9", Count: 4}}, res.TopIPs[models.CategoryEstablished])

	res = c.Collect(context.Background(), TopIPOptions{Enabled: true, Threshold: 0, Limit: 2})
	assert.Equal(t, []models.TopIPEntry{
		{IP: "198.51.100.7", Count: 1},
		{IP: "203.0.113.9", Count: 1},
	}, res.TopIPs[models.CategoryPort443])
}

func TestRankTopIPs_IgnoredRemotes(t *testing.T) {
	const hexLoopback = "00000000000000000000000001000000"
	var records []ConnRecord
	for _, ip := range []string{"127.0.0.1", "::1", "0.0.0.0", "*", "", hexLoopback, hexLoopback} {
		records = append(records, ConnRecord{LocalPort: 80, RemoteAddr: ip, RemotePort: 51000, State: StateEstablished})
	}

	table := RankTopIPs(records, TopIPOptions{Enabled: true, Threshold: 0, Limit: 5})
	// raw hex IPv6 loopback is not recognised as loopback
	assert.Equal(t, []models.TopIPEntry{{IP: hexLoopback, Count: 2}}, table[models.CategoryPort80])
	assert.Equal(t, []models.TopIPEntry{{IP: hexLoopback, Count: 2}}, table[models.CategoryEstablished])
}

func TestCollect_MissingTCP6(t *testing.T) {
	cfg := writeTables(t)
	cfg.TCP6Path = filepath.Join(t.TempDir(), "absent")
	c := NewCollectorWithRunner(cfg, failRunner(t), nil)

	res := c.Collect(context.Background(), TopIPOptions{})
	assert.Equal(t, models.SourceKernelTable, res.Summary.Source)
	assert.Equal(t, 3, res.Summary.Port80)
	assert.Zero(t, res.Errors.TransientSource)
}

const ssPort80 = `State  Recv-Q Send-Q Local Address:Port  Peer Address:Port Process
ESTAB  0      0      10.0.0.10:80        203.0.113.9:50000
ESTAB  0      0      10.0.0.10:80        203.0.113.9:50001
LISTEN 0      511    0.0.0.0:80          0.0.0.0:*
`

const ssEstablished = `Recv-Q Send-Q Local Address:Port Peer Address:Port Process
0      0      10.0.0.10:443      [::ffff:198.51.100.7]:40000
0      0      10.0.0.10:22       [2001:db8::5]:40001
`

func TestCollect_Fallback(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		TCP4Path: filepath.Join(dir, "tcp"),
		TCP6Path: filepath.Join(dir, "tcp6"),
		Command:  "ss",
		Timeout:  time.Second,
	}

	var calls []string
	run := func(ctx context.Context, name string, args ...string) ([]byte, error) {
		joined := strings.Join(args, " ")
		calls = append(calls, joined)
		switch {
		case strings.Contains(joined, ":80 "):
			return []byte(ssPort80), nil
		case strings.Contains(joined, ":443 "):
			return []byte("State Recv-Q Send-Q Local Peer\n"), nil
		case strings.HasSuffix(joined, "established"):
			return []byte(ssEstablished), nil
		default:
			return nil, errors.New("exec: \"ss\": executable file not found in $PATH")
		}
	}

	c := NewCollectorWithRunner(cfg, run, nil)
	res := c.Collect(context.Background(), TopIPOptions{Enabled: true, Threshold: 0, Limit: 5})

	assert.Len(t, calls, 4)
	assert.Equal(t, models.ConnectionSummary{
		Port80:      3,
		Port443:     0,
		Established: 2,
		SynRecv:     0,
		Source:      models.SourceFallbackCommand,
	}, res.Summary)
	assert.Equal(t, 1, res.Errors.FallbackUnavailable)

	assert.Equal(t, []models.TopIPEntry{{IP: "203.0.113.9", Count: 2}}, res.TopIPs[models.CategoryPort80])
	assert.Empty(t, res.TopIPs[models.CategoryPort443])
	assert.Equal(t, []models.TopIPEntry{
		{IP: "198.51.100.7", Count: 1},
		{IP: "2001:db8::5", Count: 1},
	}, res.TopIPs[models.CategoryEstablished])
}

func TestCollect_FallbackTimeout(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{TCP4Path: filepath.Join(dir, "tcp"), Timeout: 10 * time.Millisecond}

	run := func(ctx context.Context, name string, args ...string) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	c := NewCollectorWithRunner(cfg, run, nil)
	res := c.Collect(context.Background(), TopIPOptions{})
	assert.Equal(t, 4, res.Errors.FallbackUnavailable)
	assert.Equal(t, models.ConnectionSummary{Source: models.SourceFallbackCommand}, res.Summary)
}

func TestCollect_Cancelled(t *testing.T) {
	cfg := writeTables(t)
	c := NewCollectorWithRunner(cfg, failRunner(t), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := c.Collect(ctx, TopIPOptions{Enabled: true})
	assert.Zero(t, res.Summary.Port80)
	assert.Nil(t, res.TopIPs)
}

func TestPeerHost(t *testing.T) {
	tests := map[string]string{
		"203.0.113.9:443":          "203.0.113.9",
		"[::ffff:203.0.113.9]:443": "203.0.113.9",
		"[2001:db8::1]:80":         "2001:db8::1",
		"[fe80::1%eth0]:80":        "fe80::1",
		"0.0.0.0:*":                "0.0.0.0",
		"*:*":                      "*",
		"no-port":                  "no-port",
	}
	for in, want := range tests {
		assert.Equal(t, want, PeerHost(in), in)
	}
}
