package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"nsmigrate/internal/core/ports"
	"nsmigrate/internal/engine/planner"
	"nsmigrate/internal/engine/tracker"
)

// collapseAfter is the row count above which tables go into <details>.
const collapseAfter = 10

// Markdown renders a result as a standalone document with front matter.
func Markdown(v any, opts Options) (string, error) {
	kind, err := kindOf(v)
	if err != nil {
		return "", err
	}
	if opts.GeneratedAt.IsZero() {
		opts.GeneratedAt = time.Now().UTC()
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.WriteString("title: Namespace Migration " + strings.ToUpper(kind[:1]) + kind[1:] + "\n")
	b.WriteString("generated_at: " + opts.GeneratedAt.UTC().Format(time.RFC3339) + "\n")
	b.WriteString("version: " + nonEmpty(opts.Version, "unknown") + "\n")
	b.WriteString("---\n\n")

	switch r := v.(type) {
	case *ports.AnalysisResult:
		mdAnalysis(&b, r)
	case *planner.Plan:
		mdPlan(&b, r)
	case *ports.ExecutionResult:
		mdExecution(&b, r)
	case *ports.VerificationResult:
		mdVerification(&b, r)
	case tracker.Report:
		mdStatus(&b, r)
	case *tracker.Report:
		mdStatus(&b, *r)
	case tracker.RollbackResult:
		mdRollback(&b, r)
	case *tracker.RollbackResult:
		mdRollback(&b, *r)
	}
	return b.String(), nil
}

func mdAnalysis(b *strings.Builder, r *ports.AnalysisResult) {
	s := r.Report.Summary
	b.WriteString("# Analysis Report\n\n")
	b.WriteString("## Executive Summary\n")
	b.WriteString("| Metric | Value |\n| --- | --- |\n")
	fmt.Fprintf(b, "| Project | `%s` |\n", r.Project)
	fmt.Fprintf(b, "| State | %s |\n", s.State)
	fmt.Fprintf(b, "| Artifacts | %d |\n", s.Total)
	fmt.Fprintf(b, "| Legacy | %d |\n", s.Legacy)
	fmt.Fprintf(b, "| Successor | %d |\n", s.Successor)
	fmt.Fprintf(b, "| Mixed | %d |\n", s.Mixed)
	fmt.Fprintf(b, "| Unknown | %d |\n", s.Unknown)
	fmt.Fprintf(b, "| Blockers | %d |\n", len(r.Report.Blockers))
	fmt.Fprintf(b, "| Files With Legacy Usages | %d |\n\n", len(r.Usages))

	b.WriteString("## Blockers\n")
	if len(r.Report.Blockers) == 0 {
		b.WriteString("No blockers detected.\n\n")
	} else {
		rows := make([]string, 0, len(r.Report.Blockers))
		for _, bl := range r.Report.Blockers {
			rows = append(rows, fmt.Sprintf("| `%s` | %s | %s | %s | %s |\n",
				bl.Artifact, bl.Kind, escapeCell(bl.Reason), pct(bl.Confidence), escapeCell(strings.Join(bl.Mitigations, "; "))))
		}
		writeTable(b, "Blocker details", []string{"Artifact", "Kind", "Reason", "Confidence", "Mitigations"}, rows)
	}

	b.WriteString("## Recommendations\n")
	if len(r.Report.Recommendations) == 0 {
		b.WriteString("No upgrades recommended.\n\n")
	} else {
		rows := make([]string, 0, len(r.Report.Recommendations))
		for _, rec := range r.Report.Recommendations {
			rows = append(rows, fmt.Sprintf("| `%s` | `%s` | %s | %s |\n",
				rec.Artifact, rec.Target, nonEmpty(string(rec.Level), "-"), escapeCell(strings.Join(rec.BreakingChanges, "; "))))
		}
		writeTable(b, "Recommendation details", []string{"Artifact", "Target", "Level", "Breaking Changes"}, rows)
	}

	if len(r.Warnings) > 0 {
		b.WriteString("## Warnings\n")
		for _, w := range r.Warnings {
			b.WriteString("- " + w + "\n")
		}
		b.WriteString("\n")
	}
}

func mdPlan(b *strings.Builder, plan *planner.Plan) {
	b.WriteString("# Migration Plan\n\n")
	fmt.Fprintf(b, "Plan `%s` for `%s`.\n\n", plan.ID, plan.Project)
	b.WriteString("| Phase | Description | Files | Batches | Risk |\n| --- | --- | --- | --- | --- |\n")
	for _, ph := range plan.Phases {
		fmt.Fprintf(b, "| %d | %s | %d | %d | %s |\n", ph.Number, ph.Description, len(ph.Files), len(ph.Batches), ph.Risk)
	}
	b.WriteString("\n")
	for _, ph := range plan.Phases {
		fmt.Fprintf(b, "## Phase %d\n", ph.Number)
		for _, reason := range ph.RiskReasons {
			b.WriteString("> " + reason + "\n")
		}
		if len(ph.Files) == 0 {
			b.WriteString("Nothing to migrate.\n\n")
			continue
		}
		rows := make([]string, 0, len(ph.Files))
		for _, f := range ph.Files {
			rows = append(rows, fmt.Sprintf("| `%s` | %s | %d | %d |\n", f.Path, f.Kind, len(f.Actions), f.InDegree))
		}
		writeTable(b, fmt.Sprintf("Phase %d files", ph.Number), []string{"File", "Kind", "Changes", "Dependents"}, rows)
	}
	if len(plan.Blockers) > 0 {
		b.WriteString("## Blockers\n")
		for _, bl := range plan.Blockers {
			fmt.Fprintf(b, "- `%s` (%s): %s\n", bl.Artifact, bl.Kind, bl.Reason)
		}
		b.WriteString("\n")
	}
}

func mdExecution(b *strings.Builder, r *ports.ExecutionResult) {
	b.WriteString("# Execution Report\n\n")
	fmt.Fprintf(b, "Run `%s` of plan `%s` is `%s`.\n\n", r.RunID, r.PlanID, r.Progress.State)
	if r.StoppedAt > 0 {
		fmt.Fprintf(b, "> Stopped at phase %d: %s\n\n", r.StoppedAt, r.Reason)
	}
	b.WriteString("## Files\n")
	if len(r.Files) == 0 {
		b.WriteString("No files were processed.\n\n")
	} else {
		rows := make([]string, 0, len(r.Files))
		for _, f := range r.Files {
			rows = append(rows, fmt.Sprintf("| %d | `%s` | %s | %s |\n", f.Phase, f.Path, f.Status, escapeCell(f.Error)))
		}
		writeTable(b, "File results", []string{"Phase", "File", "Status", "Error"}, rows)
	}
	mdPhaseCounts(b, r.Progress)
}

func mdVerification(b *strings.Builder, r *ports.VerificationResult) {
	b.WriteString("# Verification Report\n\n")
	b.WriteString("| Metric | Value |\n| --- | --- |\n")
	fmt.Fprintf(b, "| Artifact | `%s` |\n", r.Artifact)
	fmt.Fprintf(b, "| Status | %s |\n", r.Status)
	fmt.Fprintf(b, "| Exit Code | %d |\n", r.ExitCode)
	fmt.Fprintf(b, "| Duration | %s |\n", r.Duration)
	if r.State != "" {
		fmt.Fprintf(b, "| Run State | %s |\n", r.State)
	}
	b.WriteString("\n")

	b.WriteString("## Findings\n")
	if len(r.Analyses) == 0 {
		b.WriteString("No failures to analyze.\n\n")
	} else {
		rows := make([]string, 0, len(r.Analyses))
		for _, a := range r.Analyses {
			file := "-"
			if a.File != "" {
				file = fmt.Sprintf("`%s` (phase %d)", a.File, a.Phase)
			}
			rows = append(rows, fmt.Sprintf("| %s | %s | %s | %s | %s |\n",
				a.Category, escapeCell(a.RootCause), pct(a.Confidence), file, escapeCell(a.Remediation)))
		}
		writeTable(b, "Finding details", []string{"Category", "Root Cause", "Confidence", "File", "Remediation"}, rows)
	}
	if r.Stderr != "" {
		b.WriteString("## Output\n```text\n")
		b.WriteString(strings.TrimRight(r.Stderr, "\n"))
		b.WriteString("\n```\n")
	}
}

func mdStatus(b *strings.Builder, r tracker.Report) {
	b.WriteString("# Migration Status\n\n")
	fmt.Fprintf(b, "Run `%s` for `%s` is `%s`.\n\n", nonEmpty(r.RunID, "-"), r.Project, r.State)
	mdPhaseCounts(b, r)
	if len(r.FilesFailed) > 0 {
		b.WriteString("## Failed Files\n")
		for _, f := range r.FilesFailed {
			b.WriteString("- `" + f + "`\n")
		}
		b.WriteString("\n")
	}
	if len(r.Skipped) > 0 {
		b.WriteString("## Skipped Files\n")
		for _, rec := range r.Skipped {
			fmt.Fprintf(b, "- `%s`: %s\n", rec.Path, rec.SkipReason)
		}
		b.WriteString("\n")
	}
}

func mdPhaseCounts(b *strings.Builder, r tracker.Report) {
	b.WriteString("## Phases\n")
	b.WriteString("| Phase | Total | Succeeded | Failed | Skipped | Pending |\n| --- | --- | --- | --- | --- | --- |\n")
	for _, ph := range r.Phases {
		fmt.Fprintf(b, "| %d | %d | %d | %d | %d | %d |\n", ph.Number, ph.Total, ph.Succeeded, ph.Failed, ph.Skipped, ph.Pending)
	}
	b.WriteString("\n")
}

func mdRollback(b *strings.Builder, r tracker.RollbackResult) {
	b.WriteString("# Rollback\n\n")
	fmt.Fprintf(b, "Moved from `%s` to `%s`.\n\n", r.From, r.To)
	b.WriteString("## Restored Files\n")
	if len(r.Restored) == 0 {
		b.WriteString("None.\n\n")
		return
	}
	for _, f := range r.Restored {
		b.WriteString("- `" + f + "`\n")
	}
	b.WriteString("\n")
}

func writeTable(b *strings.Builder, summary string, header []string, rows []string) {
	collapse := len(rows) > collapseAfter
	if collapse {
		fmt.Fprintf(b, "<details>\n<summary>%s (%d)</summary>\n\n", summary, len(rows))
	}
	b.WriteString("| " + strings.Join(header, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(header)) + "\n")
	for _, row := range rows {
		b.WriteString(row)
	}
	if collapse {
		b.WriteString("\n</details>\n")
	}
	b.WriteString("\n")
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}

func nonEmpty(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

// InjectSection replaces the block between the nsmigrate:<marker> comments
// of an existing markdown file, leaving the rest untouched.
func InjectSection(filePath, marker, section string) error {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("read markdown file %q: %w", filePath, err)
	}

	next, err := ReplaceBetweenMarkers(string(content), marker, section)
	if err != nil {
		return err
	}

	dir := filepath.Dir(filePath)
	tmp, err := os.CreateTemp(dir, ".markdown-inject-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file for %q: %w", filePath, err)
	}
	tmpName := tmp.Name()

	writeErr := error(nil)
	if _, err := tmp.WriteString(next); err != nil {
		writeErr = fmt.Errorf("write temp markdown file %q: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil && writeErr == nil {
		writeErr = fmt.Errorf("close temp markdown file %q: %w", tmpName, err)
	}
	if writeErr != nil {
		_ = os.Remove(tmpName)
		return writeErr
	}

	if err := os.Rename(tmpName, filePath); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace markdown file %q: %w", filePath, err)
	}
	return nil
}

func ReplaceBetweenMarkers(content, marker, replacement string) (string, error) {
	marker = strings.TrimSpace(marker)
	if marker == "" {
		return "", fmt.Errorf("markdown marker must not be empty")
	}

	newline := "\n"
	if strings.Contains(content, "\r\n") {
		newline = "\r\n"
	}

	start := fmt.Sprintf("<!-- nsmigrate:%s:start -->", marker)
	end := fmt.Sprintf("<!-- nsmigrate:%s:end -->", marker)
	if strings.Count(content, start) != 1 || strings.Count(content, end) != 1 {
		return "", fmt.Errorf("markdown marker %q must appear exactly once for start and end", marker)
	}

	startIdx := strings.Index(content, start)
	endIdx := strings.Index(content, end)
	if endIdx < startIdx {
		return "", fmt.Errorf("invalid marker order for %q", marker)
	}

	prefix := content[:startIdx+len(start)]
	suffix := content[endIdx:]
	body := strings.ReplaceAll(strings.TrimRight(replacement, "\r\n"), "\n", newline)
	return prefix + newline + body + newline + suffix, nil
}

// stripFrontMatter drops the leading --- block so a rendered document can
// be embedded in another one.
func stripFrontMatter(doc string) string {
	if !strings.HasPrefix(doc, "---\n") {
		return doc
	}
	rest := doc[len("---\n"):]
	idx := strings.Index(rest, "\n---\n")
	if idx < 0 {
		return doc
	}
	return strings.TrimLeft(rest[idx+len("\n---\n"):], "\n")
}

// Section renders v as markdown without front matter, for InjectSection.
func Section(v any, opts Options) (string, error) {
	doc, err := Markdown(v, opts)
	if err != nil {
		return "", err
	}
	return stripFrontMatter(doc), nil
}
