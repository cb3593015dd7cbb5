// Package render presents cycle reports: a refreshing terminal view, or one
// JSON / YAML document per cycle for piping into other tools.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/oicur0t/rpsmon/pkg/models"
	"gopkg.in/yaml.v3"
)

// Options controls what a renderer prints
type Options struct {
	MaxRows     int
	MaxFiles    int
	ShowDomains bool
	TopIP       bool
	TopIPAbove  int
	ShowFiles   bool
	Clear       bool // clear the screen before each report
}

// Renderer presents one cycle report
type Renderer interface {
	Render(models.Report) error
}

// New returns the renderer for format ("table", "json" or "yaml")
func New(format string, out io.Writer, opts Options) (Renderer, error) {
	switch format {
	case "table", "":
		return NewTerminal(out, opts), nil
	case "json":
		return NewJSON(out), nil
	case "yaml":
		return NewYAML(out), nil
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

// IsTerminal reports whether f is an interactive terminal
func IsTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// JSON writes one report per line
type JSON struct {
	enc *json.Encoder
}

// NewJSON creates a newline-delimited JSON renderer
func NewJSON(out io.Writer) *JSON {
	return &JSON{enc: json.NewEncoder(out)}
}

// Render implements monitor.Renderer
func (j *JSON) Render(r models.Report) error {
	if err := j.enc.Encode(r); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

// YAML writes one document per report
type YAML struct {
	enc *yaml.Encoder
}

// NewYAML creates a multi-document YAML renderer
func NewYAML(out io.Writer) *YAML {
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	return &YAML{enc: enc}
}

// Render implements monitor.Renderer
func (y *YAML) Render(r models.Report) error {
	if err := y.enc.Encode(r); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}
