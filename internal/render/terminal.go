package render

import (
	"bytes"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/oicur0t/rpsmon/pkg/models"
	"github.com/olekukonko/tablewriter"
)

const (
	clearScreen = "\033[H\033[2J"
	nameWidth   = 30
)

var styles = struct {
	Title   lipgloss.Style
	Section lipgloss.Style
	Muted   lipgloss.Style
	Warning lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
	Section: lipgloss.NewStyle().Bold(true),
	Muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
	Warning: lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
}

var categoryTitles = map[models.TopIPCategory]string{
	models.CategoryPort80:      "Port 80",
	models.CategoryPort443:     "Port 443",
	models.CategoryEstablished: "Established",
}

// Terminal draws a full screen per report
type Terminal struct {
	out  io.Writer
	opts Options
}

// NewTerminal creates a terminal renderer
func NewTerminal(out io.Writer, opts Options) *Terminal {
	return &Terminal{out: out, opts: opts}
}

// Render implements monitor.Renderer. The frame is built in memory and
// written at once to avoid flicker.
func (t *Terminal) Render(r models.Report) error {
	var buf bytes.Buffer
	if t.opts.Clear {
		buf.WriteString(clearScreen)
	}

	fmt.Fprintf(&buf, "%s  %s\n",
		styles.Title.Render("rpsmon"),
		styles.Muted.Render(fmt.Sprintf("%s  window %.1fs", r.Time.Format("2006-01-02 15:04:05"), r.WindowSeconds)))

	if err := t.connections(&buf, r.Connections); err != nil {
		return err
	}
	if t.opts.ShowDomains {
		if err := t.domains(&buf, r.Domains); err != nil {
			return err
		}
	}
	if t.opts.TopIP {
		if err := t.topIPs(&buf, r.TopIPs); err != nil {
			return err
		}
	}
	if t.opts.ShowFiles {
		t.files(&buf, r.Files)
	}
	if n := r.Errors.Total(); n > 0 {
		fmt.Fprintf(&buf, "\n%s\n", styles.Warning.Render(fmt.Sprintf(
			"%d errors this cycle (transient %d, permission %d, malformed %d, fallback %d)",
			n, r.Errors.TransientSource, r.Errors.Permission, r.Errors.MalformedRecord, r.Errors.FallbackUnavailable)))
	}

	_, err := t.out.Write(buf.Bytes())
	return err
}

func (t *Terminal) connections(buf *bytes.Buffer, c models.ConnectionSummary) error {
	fmt.Fprintf(buf, "\n%s %s\n", styles.Section.Render("Connections"), styles.Muted.Render("("+string(c.Source)+")"))

	table := tablewriter.NewWriter(buf)
	table.Header("Port 80", "Port 443", "Established", "SYN_RECV")
	if err := table.Append([]string{
		strconv.Itoa(c.Port80),
		strconv.Itoa(c.Port443),
		strconv.Itoa(c.Established),
		strconv.Itoa(c.SynRecv),
	}); err != nil {
		return fmt.Errorf("failed to build connection table: %w", err)
	}
	return table.Render()
}

func (t *Terminal) domains(buf *bytes.Buffer, rows []models.DomainRate) error {
	fmt.Fprintf(buf, "\n%s\n", styles.Section.Render("Requests per second"))
	if len(rows) == 0 {
		fmt.Fprintln(buf, styles.Muted.Render("(no requests in this window)"))
		return nil
	}

	shown := rows
	if t.opts.MaxRows > 0 && len(shown) > t.opts.MaxRows {
		shown = shown[:t.opts.MaxRows]
	}

	table := tablewriter.NewWriter(buf)
	table.Header("Domain", "RPS")
	for _, row := range shown {
		if err := table.Append([]string{Truncate(row.Domain, nameWidth), strconv.Itoa(row.Rate)}); err != nil {
			return fmt.Errorf("failed to build rate table: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return err
	}

	if hidden := len(rows) - len(shown); hidden > 0 {
		fmt.Fprintln(buf, styles.Muted.Render(fmt.Sprintf("... %d more domains", hidden)))
	}
	return nil
}

func (t *Terminal) topIPs(buf *bytes.Buffer, top models.TopIPTable) error {
	fmt.Fprintf(buf, "\n%s %s\n",
		styles.Section.Render("Top IPs"),
		styles.Muted.Render(fmt.Sprintf("(more than %d connections)", t.opts.TopIPAbove)))

	empty := true
	table := tablewriter.NewWriter(buf)
	table.Header("Category", "IP", "Connections")
	for _, cat := range models.TopIPCategories {
		for _, e := range top[cat] {
			empty = false
			if err := table.Append([]string{categoryTitles[cat], e.IP, strconv.Itoa(e.Count)}); err != nil {
				return fmt.Errorf("failed to build top ip table: %w", err)
			}
		}
	}
	if empty {
		fmt.Fprintln(buf, styles.Muted.Render("(no addresses above threshold)"))
		return nil
	}
	return table.Render()
}

func (t *Terminal) files(buf *bytes.Buffer, files []string) {
	fmt.Fprintf(buf, "\n%s %s\n", styles.Section.Render("Tailed files"), styles.Muted.Render(fmt.Sprintf("(%d)", len(files))))
	if len(files) == 0 {
		fmt.Fprintln(buf, styles.Muted.Render("(no access logs found)"))
		return
	}

	shown := files
	if t.opts.MaxFiles > 0 && len(shown) > t.opts.MaxFiles {
		shown = shown[:t.opts.MaxFiles]
	}
	for _, f := range shown {
		fmt.Fprintf(buf, "  %s\n", f)
	}
	if hidden := len(files) - len(shown); hidden > 0 {
		fmt.Fprintln(buf, styles.Muted.Render(fmt.Sprintf("  ... and %d more", hidden)))
	}
}

// Truncate shortens s to at most width runes, ending in an ellipsis
func Truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	if width <= 1 {
		return string(r[:width])
	}
	return string(r[:width-1]) + "…"
}
