// Writes command results in the selected format.

package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/maruel/docstore/internal/docstore"
	"gopkg.in/yaml.v3"
)

// printer writes values to a command's output.
type printer struct {
	format string
	w      io.Writer
	yaml   *yaml.Encoder
}

func newPrinter(format string, w io.Writer) *printer {
	return &printer{format: format, w: w}
}

// print writes one value. JSON values are indented; YAML values are
// separated by document markers.
func (p *printer) print(v any) error {
	if p.format == "yaml" {
		return p.encodeYAML(v)
	}
	e := json.NewEncoder(p.w)
	e.SetIndent("", "  ")
	return e.Encode(v)
}

// line writes one value on a single line in JSON, for streams.
func (p *printer) line(v any) error {
	if p.format == "yaml" {
		return p.encodeYAML(v)
	}
	return json.NewEncoder(p.w).Encode(v)
}

func (p *printer) encodeYAML(v any) error {
	if p.yaml == nil {
		p.yaml = yaml.NewEncoder(p.w)
		p.yaml.SetIndent(2)
	}
	if err := p.yaml.Encode(yamlValue(v)); err != nil {
		return fmt.Errorf("failed to encode yaml: %w", err)
	}
	return nil
}

// yamlValue replaces the json.Number values of decoded documents with Go
// numbers, which yaml.v3 would otherwise quote as strings.
func yamlValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case docstore.Document:
		return yamlValue(map[string]any(t))
	case []docstore.Document:
		out := make([]any, len(t))
		for i, d := range t {
			out[i] = yamlValue(d)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = yamlValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = yamlValue(e)
		}
		return out
	default:
		return v
	}
}

// close flushes the YAML stream, if any.
func (p *printer) close() error {
	if p.yaml == nil {
		return nil
	}
	return p.yaml.Close()
}
