// Package verifier runs a migrated artifact, classifies the runtime errors it
// reports and ties them back to the plan.
package verifier

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"nsmigrate/internal/core/config"
	domainerrors "nsmigrate/internal/core/errors"
	"nsmigrate/internal/engine/classify"
	"nsmigrate/internal/engine/kb"
	"nsmigrate/internal/engine/planner"
	"nsmigrate/internal/shared/observability"
)

type Options struct {
	JavaBinary     string
	JVMArgs        []string
	Args           []string
	Timeout        time.Duration
	MemoryMB       int
	AddressSpaceMB int
	MaxOutputBytes int
}

func OptionsFromConfig(c config.Verify) Options {
	return Options{
		JavaBinary:     c.JavaBinary,
		JVMArgs:        c.JVMArgs,
		Args:           c.Args,
		Timeout:        c.Timeout,
		MemoryMB:       c.MemoryMB,
		AddressSpaceMB: c.AddressSpaceMB,
		MaxOutputBytes: c.MaxOutputBytes,
	}
}

// Context carries what the caller knows about the run being verified.
type Context struct {
	// Plan is used to correlate failures with migrated files. Optional.
	Plan      *planner.Plan
	Classpath []string
	Args      []string
	MainClass string
	// Dir is the working directory for the child; defaults to the
	// artifact's directory.
	Dir string
}

type Result struct {
	Artifact  string             `json:"artifact" yaml:"artifact"`
	Status    Status             `json:"status" yaml:"status"`
	ExitCode  int                `json:"exit_code" yaml:"exit_code"`
	Duration  time.Duration      `json:"duration" yaml:"duration"`
	Stdout    string             `json:"stdout,omitempty" yaml:"stdout,omitempty"`
	Stderr    string             `json:"stderr,omitempty" yaml:"stderr,omitempty"`
	Truncated bool               `json:"truncated,omitempty" yaml:"truncated,omitempty"`
	Message   string             `json:"message,omitempty" yaml:"message,omitempty"`
	Errors    []RuntimeError     `json:"errors" yaml:"errors"`
	Analyses  []Analysis         `json:"analyses" yaml:"analyses"`
	Blockers  []classify.Blocker `json:"blockers" yaml:"blockers"`
}

func (r Result) Passed() bool {
	return r.Status == StatusPassed
}

type Verifier struct {
	opts Options
	kb   *kb.KnowledgeBase
	now  func() time.Time
}

func New(opts Options, k *kb.KnowledgeBase) *Verifier {
	d := OptionsFromConfig(config.Default().Verify)
	if opts.JavaBinary == "" {
		opts.JavaBinary = d.JavaBinary
	}
	if opts.Timeout <= 0 {
		opts.Timeout = d.Timeout
	}
	if opts.MemoryMB <= 0 {
		opts.MemoryMB = d.MemoryMB
	}
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = d.MaxOutputBytes
	}
	return &Verifier{opts: opts, kb: k, now: time.Now}
}

// Verify runs artifact and classifies whatever it reports. A non-nil error
// is returned only for invalid input; a failing artifact is a Result.
func (v *Verifier) Verify(ctx context.Context, artifact string, vc Context) (Result, error) {
	ctx, span := observability.Tracer.Start(ctx, "verifier.Verify")
	defer span.End()

	if strings.TrimSpace(artifact) == "" {
		return Result{}, domainerrors.New(domainerrors.CodeValidationError, "artifact path is required")
	}
	abs, err := filepath.Abs(artifact)
	if err != nil {
		return Result{}, domainerrors.Wrap(err, domainerrors.CodeValidationError, "resolve artifact path")
	}
	dir := vc.Dir
	if dir == "" {
		dir = filepath.Dir(abs)
	}

	argv := v.command(abs, vc)
	slog.Debug("verifying artifact", "artifact", abs, "argv", argv, "timeout", v.opts.Timeout)
	run := v.execute(ctx, dir, argv, v.addressLimit(abs))

	res := Result{
		Artifact:  abs,
		Status:    run.status,
		ExitCode:  run.exitCode,
		Duration:  run.duration,
		Stdout:    run.stdout,
		Stderr:    run.stderr,
		Truncated: run.truncated,
		Errors:    []RuntimeError{},
		Analyses:  []Analysis{},
		Blockers:  []classify.Blocker{},
	}
	switch run.status {
	case StatusTimeout:
		res.Message = "killed after " + v.opts.Timeout.String()
	case StatusError:
		if run.err != nil {
			res.Message = run.err.Error()
		}
	}
	span.SetAttributes(attribute.String("status", string(res.Status)))
	observability.VerificationsTotal.WithLabelValues(string(res.Status)).Inc()

	if res.Passed() {
		return res, nil
	}

	res.Errors = extractErrors(run.stderr+"\n"+run.stdout, v.now().UTC())
	classified := false
	for _, e := range res.Errors {
		a, ok := analyze(e, v.kb)
		if !ok {
			a = Analysis{
				Category:    CategoryUnclassified,
				RootCause:   e.Kind + ": " + e.Message,
				Confidence:  0,
				Remediation: "inspect the stack trace; no known migration signature matched",
			}
		} else {
			classified = true
		}
		a.File, a.Phase = correlate(vc.Plan, e, a.Symbol)
		res.Analyses = append(res.Analyses, a)
	}

	if !classified {
		static, err := staticCrossCheck(abs, vc.Classpath, v.kb)
		if err != nil {
			slog.Warn("static classpath check failed", "artifact", abs, "error", err)
		}
		res.Analyses = append(res.Analyses, static...)
	}
	if len(res.Analyses) == 0 {
		res.Analyses = append(res.Analyses, Analysis{
			Category:    CategoryUnclassified,
			RootCause:   unclassifiedCause(res),
			Remediation: "inspect the artifact output",
		})
	}
	res.Analyses = dedupe(res.Analyses)
	res.Blockers = BlockersFromFindings(res.Analyses, v.kb)
	return res, nil
}

func unclassifiedCause(r Result) string {
	switch r.Status {
	case StatusTimeout:
		return "artifact did not finish before the timeout"
	case StatusError:
		return "artifact could not be started: " + r.Message
	}
	return "artifact exited with a non-zero status and no recognizable error"
}

// dedupe drops repeated analyses of the same category and symbol, keeping
// the first.
func dedupe(in []Analysis) []Analysis {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, a := range in {
		key := string(a.Category) + "|" + a.Symbol + "|" + a.Artifact + "|" + a.RootCause
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

// correlate finds the plan file most likely responsible for e: the file
// declaring its first application frame, else a file whose planned actions
// touch the failing symbol.
func correlate(p *planner.Plan, e RuntimeError, symbol string) (string, int) {
	if p == nil {
		return "", 0
	}
	if dot := strings.LastIndex(e.Source, "."); dot > 0 {
		class := e.Source[:dot]
		if i := strings.IndexByte(class, '$'); i >= 0 {
			class = class[:i]
		}
		suffix := strings.ReplaceAll(class, ".", "/")
		for _, ph := range p.Phases {
			for _, f := range ph.Files {
				stem := strings.TrimSuffix(filepath.ToSlash(f.Path), filepath.Ext(f.Path))
				if stem == suffix || strings.HasSuffix(stem, "/"+suffix) {
					return f.Path, ph.Number
				}
			}
		}
	}
	if symbol == "" {
		return "", 0
	}
	pkg := symbol
	if i := strings.LastIndex(symbol, "."); i > 0 {
		pkg = symbol[:i]
	}
	fallback, fallbackPhase := "", 0
	for _, ph := range p.Phases {
		for _, f := range ph.Files {
			for _, act := range f.Actions {
				if act.Before == symbol || act.Symbol == symbol {
					return f.Path, ph.Number
				}
				if fallback == "" && (act.Before == pkg || strings.HasPrefix(act.Before, pkg+".")) {
					fallback, fallbackPhase = f.Path, ph.Number
				}
			}
		}
	}
	return fallback, fallbackPhase
}

// BlockersFromFindings turns attributed analyses into blockers for
// replanning. Artifact is the legacy group:name a manifest would declare and
// Target the successor coordinate that fixes the failure, so the planner can
// tie each finding to a manifest edit.
//
// Kinds: a missing legacy class or a mix of both namespaces at runtime is a
// transitive-conflict (something on the classpath still needs the legacy
// API); only linkage failures against legacy signatures are
// binary-incompatible. The runtime category is kept in Finding.
func BlockersFromFindings(analyses []Analysis, k *kb.KnowledgeBase) []classify.Blocker {
	out := []classify.Blocker{}
	seen := make(map[string]bool)
	for _, a := range analyses {
		if a.Artifact == "" || a.Confidence <= 0 {
			continue
		}
		switch a.Category {
		case CategoryConfiguration, CategoryClassLoading, CategoryUnclassified:
			continue
		}
		legacy, target, noEquivalent := attributeFinding(a.Artifact, k)
		kind := classify.BlockerTransitiveConflict
		switch {
		case noEquivalent:
			kind = classify.BlockerNoEquivalent
		case a.Category == CategoryBinaryIncompatible:
			kind = classify.BlockerBinaryIncompatible
		}
		key := legacy + "|" + string(kind) + "|" + a.RootCause
		if seen[key] {
			continue
		}
		seen[key] = true

		var mitigations []string
		if a.Remediation != "" {
			mitigations = []string{a.Remediation}
		}
		b := classify.RuntimeBlocker(kind, legacy, a.RootCause, mitigations, a.Confidence)
		b.Target = target
		b.Finding = string(a.Category)
		out = append(out, b)
	}
	return out
}

// attributeFinding maps the coordinate a finding names to the legacy group:name a
// manifest declares and the successor coordinate replacing it.
func attributeFinding(coord string, k *kb.KnowledgeBase) (legacy, target string, noEquivalent bool) {
	group, rest, _ := strings.Cut(coord, ":")
	name, version, _ := strings.Cut(rest, ":")
	key := coordinateKey(coord)

	if e, ok := k.EntryBySuccessor(group, name); ok {
		target = coord
		if version == "" {
			target = e.TargetCoordinate("")
		}
		return e.Legacy, target, false
	}
	if e, ok := k.Entry(group, name); ok {
		if e.Level == kb.LevelNone {
			return key, "", true
		}
		return key, e.TargetCoordinate(version), false
	}
	c := classify.Classify(classify.Artifact{Group: group, Name: name, Version: version}, k)
	switch {
	case c.Recommendation != nil:
		return key, c.Recommendation.Target, false
	case c.Blocker != nil && c.Blocker.Kind == classify.BlockerNoEquivalent:
		return key, "", true
	}
	return key, "", false
}

// coordinateKey trims a version from group:name[:version].
func coordinateKey(coord string) string {
	parts := strings.SplitN(coord, ":", 3)
	if len(parts) < 2 {
		return coord
	}
	return parts[0] + ":" + parts[1]
}
