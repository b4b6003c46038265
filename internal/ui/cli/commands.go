package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"nsmigrate/internal/core/ports"
	"nsmigrate/internal/engine/classify"
	"nsmigrate/internal/engine/planner"
	"nsmigrate/internal/ui/report"
)

func projectArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "."
}

func analyzeCmd(s *session) *cobra.Command {
	var watch, ui bool
	cmd := &cobra.Command{
		Use:   "analyze [project]",
		Short: "Classify dependencies and find legacy namespace usage",
		Args:  cobra.MaximumNArgs(1),
		RunE: s.wrap(func(cmd *cobra.Command, args []string) error {
			project := projectArg(args)
			if ui {
				return runWatchUI(cmd.Context(), s, project)
			}
			if watch {
				return s.app.Watch(cmd.Context(), project, func(res *ports.AnalysisResult, err error) {
					if err != nil {
						slog.Error("analysis failed", "error", err)
						return
					}
					if err := s.render(res); err != nil {
						slog.Error("render analysis", "error", err)
					}
				})
			}
			res, err := s.app.Analyze(cmd.Context(), project)
			if err != nil {
				return err
			}
			return s.render(res)
		}),
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Re-analyze whenever manifests or sources change")
	cmd.Flags().BoolVar(&ui, "ui", false, "Show the watch in a terminal UI (implies --watch)")
	return cmd
}

func planCmd(s *session) *cobra.Command {
	var findings string
	cmd := &cobra.Command{
		Use:   "plan [project]",
		Short: "Build the four-phase migration plan",
		Long: `Build the four-phase migration plan.

With --findings, blockers from a saved verification result (JSON) are merged
into the analysis before planning.`,
		Args: cobra.MaximumNArgs(1),
		RunE: s.wrap(func(cmd *cobra.Command, args []string) error {
			project := projectArg(args)
			if findings == "" {
				plan, err := s.app.Plan(cmd.Context(), project, nil)
				if err != nil {
					return err
				}
				return s.render(plan)
			}
			blockers, err := readFindings(findings)
			if err != nil {
				return &ExitError{Code: ExitUsage, Err: err}
			}
			plan, err := s.app.Replan(cmd.Context(), project, nil, blockers)
			if err != nil {
				return err
			}
			return s.render(plan)
		}),
	}
	cmd.Flags().StringVar(&findings, "findings", "", "Verification result JSON whose blockers feed the plan")
	return cmd
}

func readFindings(path string) ([]classify.Blocker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var res ports.VerificationResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("parse findings %s: %w", path, err)
	}
	return res.Blockers, nil
}

func executeCmd(s *session) *cobra.Command {
	var from, to int
	cmd := &cobra.Command{
		Use:   "execute [project]",
		Short: "Run or resume the migration",
		Long: `Run the migration plan phase by phase through the configured rewriter
(execute.rewrite_command). An interrupted or blocked run resumes where it
stopped; the stored plan is reused.`,
		Args: cobra.MaximumNArgs(1),
		RunE: s.wrap(func(cmd *cobra.Command, args []string) error {
			project := projectArg(args)
			res, err := s.app.Execute(cmd.Context(), project, nil, ports.PhaseRange{From: from, To: to})
			if err != nil {
				return err
			}
			if err := s.render(res); err != nil {
				return err
			}
			if res.StoppedAt > 0 {
				return &ExitError{Code: ExitBlocked, Err: fmt.Errorf("stopped at phase %d: %s", res.StoppedAt, res.Reason)}
			}
			return nil
		}),
	}
	cmd.Flags().IntVar(&from, "from", 0, "First phase to run (default: next pending)")
	cmd.Flags().IntVar(&to, "to", 0, "Last phase to run (default: "+strconv.Itoa(planner.PhaseCount)+")")
	return cmd
}

func verifyCmd(s *session) *cobra.Command {
	var (
		project   string
		classpath []string
		mainClass string
		save      string
	)
	cmd := &cobra.Command{
		Use:   "verify <artifact> [-- args...]",
		Short: "Run the built artifact and analyze runtime failures",
		Long: `Run the built artifact in a child process with a timeout and memory
ceiling. Failures are classified and, with --project, correlated to the plan;
a passing run after phase 4 marks the migration verified.`,
		Args: cobra.MinimumNArgs(1),
		RunE: s.wrap(func(cmd *cobra.Command, args []string) error {
			req := ports.VerifyRequest{
				Project:   project,
				Artifact:  args[0],
				Classpath: splitClasspath(classpath),
				MainClass: mainClass,
				Args:      args[1:],
			}
			res, err := s.app.Verify(cmd.Context(), req)
			if err != nil {
				return err
			}
			if save != "" {
				if err := writeJSON(save, res); err != nil {
					return err
				}
			}
			if err := s.render(res); err != nil {
				return err
			}
			if !res.Passed() {
				return &ExitError{Code: ExitVerifyKO, Err: fmt.Errorf("verification %s", res.Status)}
			}
			return nil
		}),
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "Project whose run this verifies")
	cmd.Flags().StringSliceVar(&classpath, "classpath", nil, "Classpath entries (repeatable or "+string(os.PathListSeparator)+"-separated)")
	cmd.Flags().StringVar(&mainClass, "main-class", "", "Main class when the artifact is not an executable jar")
	cmd.Flags().StringVar(&save, "save", "", "Also write the result as JSON to this file (input for plan --findings)")
	return cmd
}

func splitClasspath(in []string) []string {
	var out []string
	for _, v := range in {
		for _, part := range filepath.SplitList(v) {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := report.Write(f, v, report.Options{Format: report.FormatJSON}); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func rollbackCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <project> <phase>",
		Short: "Undo a phase and every phase after it",
		Args:  cobra.ExactArgs(2),
		RunE: s.wrap(func(cmd *cobra.Command, args []string) error {
			phase, err := strconv.Atoi(args[1])
			if err != nil {
				return &ExitError{Code: ExitUsage, Err: fmt.Errorf("phase must be a number, got %q", args[1])}
			}
			res, err := s.app.Rollback(cmd.Context(), args[0], phase)
			if err != nil {
				return err
			}
			return s.render(res)
		}),
	}
}

func skipCmd(s *session) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "skip <project> <file>",
		Short: "Acknowledge a failed file so its phase can complete",
		Args:  cobra.ExactArgs(2),
		RunE: s.wrap(func(cmd *cobra.Command, args []string) error {
			if err := s.app.Skip(cmd.Context(), args[0], args[1], reason); err != nil {
				return err
			}
			rep, err := s.app.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return s.render(rep)
		}),
	}
	cmd.Flags().StringVarP(&reason, "reason", "r", "", "Why the file is left as is (required)")
	return cmd
}

func statusCmd(s *session) *cobra.Command {
	var inject string
	cmd := &cobra.Command{
		Use:   "status [project]",
		Short: "Show the run state and per-phase progress",
		Long: `Show the run state and per-phase progress.

With --inject FILE, the markdown status replaces the block between
<!-- nsmigrate:status:start --> and <!-- nsmigrate:status:end --> in FILE.`,
		Args: cobra.MaximumNArgs(1),
		RunE: s.wrap(func(cmd *cobra.Command, args []string) error {
			rep, err := s.app.Status(cmd.Context(), projectArg(args))
			if err != nil {
				return err
			}
			if inject != "" {
				section, err := report.Section(rep, report.Options{Version: Version})
				if err != nil {
					return err
				}
				if err := report.InjectSection(inject, "status", section); err != nil {
					return err
				}
			}
			return s.render(rep)
		}),
	}
	cmd.Flags().StringVar(&inject, "inject", "", "Markdown file to update between nsmigrate:status markers")
	return cmd
}

func completeCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "complete [project]",
		Short: "Close a verified migration and discard its checkpoints",
		Args:  cobra.MaximumNArgs(1),
		RunE: s.wrap(func(cmd *cobra.Command, args []string) error {
			project := projectArg(args)
			if err := s.app.Complete(cmd.Context(), project); err != nil {
				return err
			}
			rep, err := s.app.Status(cmd.Context(), project)
			if err != nil {
				return err
			}
			return s.render(rep)
		}),
	}
}
