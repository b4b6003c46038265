package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"nsmigrate/internal/core/ports"
	"nsmigrate/internal/engine/planner"
	"nsmigrate/internal/engine/tracker"
)

type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
)

func ParseFormat(v string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "text", "txt":
		return FormatText, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown output format %q (want text, markdown, json or yaml)", v)
}

type Options struct {
	Format      Format
	Version     string
	GeneratedAt time.Time
	// Plain disables terminal styling in text output.
	Plain bool
}

// Write renders one operation result. Structured formats encode the value
// as is; text and markdown know the engine result types.
func Write(w io.Writer, v any, opts Options) error {
	if opts.GeneratedAt.IsZero() {
		opts.GeneratedAt = time.Now().UTC()
	}
	switch opts.Format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case FormatMarkdown:
		doc, err := Markdown(v, opts)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, doc)
		return err
	case FormatText, "":
		doc, err := Text(v, opts)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, doc)
		return err
	}
	return fmt.Errorf("unknown output format %q", opts.Format)
}

func kindOf(v any) (string, error) {
	switch v.(type) {
	case *ports.AnalysisResult:
		return "analysis", nil
	case *planner.Plan:
		return "plan", nil
	case *ports.ExecutionResult:
		return "execution", nil
	case *ports.VerificationResult:
		return "verification", nil
	case tracker.Report, *tracker.Report:
		return "status", nil
	case tracker.RollbackResult, *tracker.RollbackResult:
		return "rollback", nil
	}
	return "", fmt.Errorf("no text rendering for %T", v)
}

func pct(v float64) string {
	return fmt.Sprintf("%.0f%%", v*100)
}

func orNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}
