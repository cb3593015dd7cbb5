package netstat

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/oicur0t/rpsmon/pkg/models"
	"go.uber.org/zap"
)

// ErrFallbackUnavailable wraps failures of the external socket listing command
var ErrFallbackUnavailable = errors.New("fallback command unavailable")

// CommandRunner runs an external command and returns its standard output
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// fallbackQuery is one invocation of the socket listing command
type fallbackQuery struct {
	args     []string
	peer     int // column holding the remote endpoint
	category models.TopIPCategory
}

var (
	queryPort80 = fallbackQuery{
		args:     []string{"-ant", "( sport = :80 or dport = :80 )"},
		peer:     4,
		category: models.CategoryPort80,
	}
	queryPort443 = fallbackQuery{
		args:     []string{"-ant", "( sport = :443 or dport = :443 )"},
		peer:     4,
		category: models.CategoryPort443,
	}
	// state filtered output has no State column
	queryEstablished = fallbackQuery{
		args:     []string{"-ant", "state", "established"},
		peer:     3,
		category: models.CategoryEstablished,
	}
	querySynRecv = fallbackQuery{
		args: []string{"-ant", "state", "syn-recv"},
		peer: 3,
	}
)

// runQuery returns the data rows of one listing, header removed
func (c *Collector) runQuery(ctx context.Context, q fallbackQuery) ([][]string, error) {
	qctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	out, err := c.run(qctx, c.cfg.Command, q.args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrFallbackUnavailable, c.cfg.Command, strings.Join(q.args, " "), err)
	}

	var rows [][]string
	for i, line := range strings.Split(string(out), "\n") {
		if i == 0 || strings.TrimSpace(line) == "" {
			continue
		}
		rows = append(rows, strings.Fields(line))
	}
	return rows, nil
}

// collectFallback fills a summary from the socket listing command. Each query
// that fails counts once and contributes zero.
func (c *Collector) collectFallback(ctx context.Context, top TopIPOptions) Result {
	res := Result{Summary: models.ConnectionSummary{Source: models.SourceFallbackCommand}}
	if top.Enabled {
		res.TopIPs = make(models.TopIPTable, len(models.TopIPCategories))
	}

	for _, q := range []fallbackQuery{queryPort80, queryPort443, queryEstablished, querySynRecv} {
		if ctx.Err() != nil {
			return res
		}

		rows, err := c.runQuery(ctx, q)
		if err != nil {
			res.Errors.FallbackUnavailable++
			c.logger.Debug("Fallback query failed", zap.Error(err))
			rows = nil
		}

		switch q.category {
		case models.CategoryPort80:
			res.Summary.Port80 = len(rows)
		case models.CategoryPort443:
			res.Summary.Port443 = len(rows)
		case models.CategoryEstablished:
			res.Summary.Established = len(rows)
		default:
			res.Summary.SynRecv = len(rows)
		}

		if top.Enabled && q.category != "" {
			counter := newIPCounter()
			for _, fields := range rows {
				if q.peer < len(fields) {
					counter.add(PeerHost(fields[q.peer]))
				}
			}
			res.TopIPs[q.category] = counter.top(top)
		}
	}

	return res
}

// PeerHost strips the port and brackets from an ss endpoint such as
// "203.0.113.9:443" or "[::ffff:203.0.113.9]:443". Mapped IPv4 addresses are
// returned in dotted form to match the kernel table decoding.
func PeerHost(endpoint string) string {
	host := endpoint
	if i := strings.LastIndex(endpoint, ":"); i >= 0 {
		host = endpoint[:i]
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if i := strings.IndexByte(host, '%'); i >= 0 {
		host = host[:i]
	}
	if rest, ok := strings.CutPrefix(host, "::ffff:"); ok && strings.Count(rest, ".") == 3 {
		host = rest
	}
	return host
}
