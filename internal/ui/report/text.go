package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"nsmigrate/internal/core/ports"
	"nsmigrate/internal/engine/planner"
	"nsmigrate/internal/engine/tracker"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#3B82F6")).
			Bold(true)

	headingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#E2E8F0")).
			Bold(true).
			MarginTop(1)

	blockerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F87171")).
			Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FBBF24"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981")).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#64748B")).
			Italic(true)
)

type painter struct {
	plain bool
}

func (p painter) paint(s lipgloss.Style, text string) string {
	if p.plain {
		return text
	}
	return s.Render(text)
}

func (p painter) title(b *strings.Builder, text string) {
	b.WriteString(p.paint(titleStyle, text))
	b.WriteString("\n")
}

func (p painter) heading(b *strings.Builder, text string, n int) {
	if p.plain {
		fmt.Fprintf(b, "\n%s (%d)\n", text, n)
		return
	}
	b.WriteString(headingStyle.Render(fmt.Sprintf("%s (%d)", text, n)))
	b.WriteString("\n")
}

// Text renders a result for a terminal.
func Text(v any, opts Options) (string, error) {
	if _, err := kindOf(v); err != nil {
		return "", err
	}
	p := painter{plain: opts.Plain}
	var b strings.Builder
	switch r := v.(type) {
	case *ports.AnalysisResult:
		p.analysis(&b, r)
	case *planner.Plan:
		p.plan(&b, r)
	case *ports.ExecutionResult:
		p.execution(&b, r)
	case *ports.VerificationResult:
		p.verification(&b, r)
	case tracker.Report:
		p.status(&b, r)
	case *tracker.Report:
		p.status(&b, *r)
	case tracker.RollbackResult:
		p.rollback(&b, r)
	case *tracker.RollbackResult:
		p.rollback(&b, *r)
	}
	return b.String(), nil
}

func (p painter) analysis(b *strings.Builder, r *ports.AnalysisResult) {
	s := r.Report.Summary
	p.title(b, "Analysis of "+r.Project)
	fmt.Fprintf(b, "  state: %s  artifacts: %d (legacy %d, successor %d, mixed %d, unknown %d)\n",
		s.State, s.Total, s.Legacy, s.Successor, s.Mixed, s.Unknown)
	fmt.Fprintf(b, "  files with legacy usages: %d\n", len(r.Usages))
	b.WriteString(p.paint(mutedStyle, "  knowledge base: "+r.KnowledgeBase) + "\n")

	p.heading(b, "Blockers", len(r.Report.Blockers))
	for _, bl := range r.Report.Blockers {
		fmt.Fprintf(b, "  %s %s [%s] %s (%s)\n", p.paint(blockerStyle, "x"), bl.Artifact, bl.Kind, bl.Reason, pct(bl.Confidence))
		for _, m := range bl.Mitigations {
			fmt.Fprintf(b, "      - %s\n", m)
		}
	}

	p.heading(b, "Recommendations", len(r.Report.Recommendations))
	for _, rec := range r.Report.Recommendations {
		fmt.Fprintf(b, "  -> %s => %s", rec.Artifact, p.paint(successStyle, rec.Target))
		if rec.Level != "" {
			fmt.Fprintf(b, " [%s]", rec.Level)
		}
		b.WriteString("\n")
		for _, c := range rec.BreakingChanges {
			fmt.Fprintf(b, "      ! %s\n", c)
		}
	}

	if len(r.Warnings) > 0 {
		p.heading(b, "Warnings", len(r.Warnings))
		for _, w := range r.Warnings {
			fmt.Fprintf(b, "  %s %s\n", p.paint(warnStyle, "!"), w)
		}
	}
}

func (p painter) plan(b *strings.Builder, plan *planner.Plan) {
	p.title(b, "Plan "+plan.ID)
	fmt.Fprintf(b, "  project: %s\n", plan.Project)
	for _, ph := range plan.Phases {
		p.heading(b, fmt.Sprintf("Phase %d: %s", ph.Number, ph.Description), len(ph.Files))
		risk := string(ph.Risk)
		switch ph.Risk {
		case planner.RiskHigh:
			risk = p.paint(blockerStyle, risk)
		case planner.RiskMedium:
			risk = p.paint(warnStyle, risk)
		}
		fmt.Fprintf(b, "  risk: %s  batches: %d  batch size: %d\n", risk, len(ph.Batches), ph.BatchSize)
		for _, reason := range ph.RiskReasons {
			b.WriteString(p.paint(mutedStyle, "    "+reason) + "\n")
		}
		for _, f := range ph.Files {
			fmt.Fprintf(b, "    %s (%d change(s))\n", f.Path, len(f.Actions))
		}
	}
	if len(plan.Blockers) > 0 {
		p.heading(b, "Blockers", len(plan.Blockers))
		for _, bl := range plan.Blockers {
			fmt.Fprintf(b, "  %s %s [%s] %s\n", p.paint(blockerStyle, "x"), bl.Artifact, bl.Kind, bl.Reason)
		}
	}
}

func (p painter) execution(b *strings.Builder, r *ports.ExecutionResult) {
	head := "Run " + r.RunID
	if r.Resumed {
		head += " (resumed)"
	}
	p.title(b, head)
	fmt.Fprintf(b, "  plan: %s  state: %s\n", r.PlanID, r.Progress.State)
	if r.StoppedAt > 0 {
		fmt.Fprintf(b, "  %s at phase %d: %s\n", p.paint(blockerStyle, "stopped"), r.StoppedAt, r.Reason)
	}
	p.heading(b, "Files", len(r.Files))
	for _, f := range r.Files {
		mark := p.paint(successStyle, string(f.Status))
		if f.Status == tracker.StatusFailed {
			mark = p.paint(blockerStyle, string(f.Status))
		}
		fmt.Fprintf(b, "  [%d] %s %s", f.Phase, mark, f.Path)
		if f.Error != "" {
			fmt.Fprintf(b, ": %s", f.Error)
		}
		b.WriteString("\n")
	}
	p.phaseCounts(b, r.Progress)
}

func (p painter) verification(b *strings.Builder, r *ports.VerificationResult) {
	status := p.paint(successStyle, string(r.Status))
	if !r.Passed() {
		status = p.paint(blockerStyle, string(r.Status))
	}
	p.title(b, "Verification of "+r.Artifact)
	fmt.Fprintf(b, "  status: %s  exit code: %d  duration: %s\n", status, r.ExitCode, r.Duration)
	if r.State != "" {
		fmt.Fprintf(b, "  run state: %s\n", r.State)
	}
	if r.Message != "" {
		b.WriteString(p.paint(mutedStyle, "  "+r.Message) + "\n")
	}
	if len(r.Analyses) > 0 {
		p.heading(b, "Findings", len(r.Analyses))
		for _, a := range r.Analyses {
			fmt.Fprintf(b, "  %s %s (%s)\n", p.paint(blockerStyle, string(a.Category)), a.RootCause, pct(a.Confidence))
			if a.File != "" {
				fmt.Fprintf(b, "      file: %s (phase %d)\n", a.File, a.Phase)
			}
			if a.Remediation != "" {
				fmt.Fprintf(b, "      fix: %s\n", a.Remediation)
			}
		}
	}
	if len(r.Blockers) > 0 {
		p.heading(b, "Blockers for replanning", len(r.Blockers))
		for _, bl := range r.Blockers {
			fmt.Fprintf(b, "  %s %s\n", bl.Artifact, bl.Reason)
		}
	}
}

func (p painter) status(b *strings.Builder, r tracker.Report) {
	p.title(b, "Status of "+r.Project)
	fmt.Fprintf(b, "  run: %s  plan: %s  state: %s\n", r.RunID, r.PlanID, r.State)
	p.phaseCounts(b, r)
	if len(r.FilesFailed) > 0 {
		p.heading(b, "Failed", len(r.FilesFailed))
		for _, f := range r.FilesFailed {
			fmt.Fprintf(b, "  %s %s\n", p.paint(blockerStyle, "x"), f)
		}
	}
	if len(r.Skipped) > 0 {
		p.heading(b, "Skipped", len(r.Skipped))
		for _, rec := range r.Skipped {
			fmt.Fprintf(b, "  %s: %s\n", rec.Path, rec.SkipReason)
		}
	}
}

func (p painter) phaseCounts(b *strings.Builder, r tracker.Report) {
	p.heading(b, "Phases", len(r.Phases))
	for _, ph := range r.Phases {
		fmt.Fprintf(b, "  %d: %d/%d done (%d failed, %d skipped, %d pending)\n",
			ph.Number, ph.Succeeded+ph.Skipped, ph.Total, ph.Failed, ph.Skipped, ph.Pending)
	}
}

func (p painter) rollback(b *strings.Builder, r tracker.RollbackResult) {
	p.title(b, fmt.Sprintf("Rolled back %s -> %s", r.From, r.To))
	fmt.Fprintf(b, "  restored: %s\n", orNone(r.Restored))
	fmt.Fprintf(b, "  reset: %s\n", orNone(r.Reset))
}
