package verifier

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"nsmigrate/internal/engine/kb"
)

type Category string

const (
	CategoryClasspath          Category = "classpath-issue"
	CategoryNamespaceMix       Category = "namespace-mix"
	CategoryBinaryIncompatible Category = "binary-incompatible"
	CategoryConfiguration      Category = "configuration-issue"
	CategoryClassLoading       Category = "class-loading"
	CategoryStaticCrossCheck   Category = "static-cross-check"
	CategoryUnclassified       Category = "unclassified"
)

// RuntimeError is one exception reported by the child process.
type RuntimeError struct {
	Kind      string    `json:"kind" yaml:"kind"`
	Message   string    `json:"message" yaml:"message"`
	Trace     string    `json:"trace,omitempty" yaml:"trace,omitempty"`
	Symbol    string    `json:"symbol,omitempty" yaml:"symbol,omitempty"`
	Source    string    `json:"source,omitempty" yaml:"source,omitempty"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

type Analysis struct {
	Category    Category `json:"category" yaml:"category"`
	RootCause   string   `json:"root_cause" yaml:"root_cause"`
	Factors     []string `json:"factors,omitempty" yaml:"factors,omitempty"`
	Confidence  float64  `json:"confidence" yaml:"confidence"`
	Remediation string   `json:"remediation" yaml:"remediation"`
	// Symbol is the class the failure names, when known.
	Symbol string `json:"symbol,omitempty" yaml:"symbol,omitempty"`
	// Artifact is the coordinate the failure is attributed to.
	Artifact string `json:"artifact,omitempty" yaml:"artifact,omitempty"`
	File     string `json:"file,omitempty" yaml:"file,omitempty"`
	Phase    int    `json:"phase,omitempty" yaml:"phase,omitempty"`
}

var (
	exceptionLine = regexp.MustCompile(`^(?:Exception in thread "[^"]*" |Caused by: )?((?:[a-z_$][\w$]*\.)+[A-Z][\w$]*(?:Error|Exception))(?::\s*(.*))?$`)
	frameLine     = regexp.MustCompile(`^\s*at (?:[\w.$-]+(?:@[\w.\-]+)?/)?((?:[\w$]+\.)+[\w$<>]+)\(([^)]*)\)`)
	className     = regexp.MustCompile(`L?((?:[a-zA-Z_$][\w$]*[./])+[A-Za-z_$][\w$]*)`)
)

// extractErrors finds exception headlines and their stack frames in output.
func extractErrors(output string, now time.Time) []RuntimeError {
	var (
		out []RuntimeError
		cur *RuntimeError
	)
	flush := func() {
		if cur != nil {
			cur.Trace = strings.TrimRight(cur.Trace, "\n")
			out = append(out, *cur)
			cur = nil
		}
	}
	for _, raw := range strings.Split(output, "\n") {
		line := strings.TrimRight(raw, "\r")
		if m := exceptionLine.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			flush()
			cur = &RuntimeError{Kind: m[1], Message: strings.TrimSpace(m[2]), Timestamp: now}
			continue
		}
		if cur == nil {
			continue
		}
		if f := frameLine.FindStringSubmatch(line); f != nil {
			cur.Trace += strings.TrimSpace(line) + "\n"
			if cur.Source == "" && !isRuntimeFrame(f[1]) {
				cur.Source = f[1]
			}
			continue
		}
		if strings.HasPrefix(strings.TrimSpace(line), "...") {
			continue
		}
		flush()
	}
	flush()
	return out
}

func isRuntimeFrame(method string) bool {
	for _, p := range []string{"java.", "javax.", "jdk.", "sun.", "jakarta.", "org.springframework.", "org.apache.", "org.eclipse.jetty."} {
		if strings.HasPrefix(method, p) {
			return true
		}
	}
	return false
}

// classNames returns every class-like token in msg, slash names
// normalized to dots.
func classNames(msg string) []string {
	var out []string
	for _, m := range className.FindAllStringSubmatch(msg, -1) {
		name := strings.ReplaceAll(m[1], "/", ".")
		name = strings.TrimSuffix(name, ";")
		out = append(out, name)
	}
	return out
}

type signature struct {
	category   Category
	confidence float64
	kinds      []string
	// match reports the class the signature is about, if it applies.
	match func(e RuntimeError, k *kb.KnowledgeBase) (string, bool)
	cause func(symbol string, e RuntimeError) string
}

func kindIs(e RuntimeError, kinds []string) bool {
	if len(kinds) == 0 {
		return true
	}
	simple := e.Kind[strings.LastIndex(e.Kind, ".")+1:]
	for _, k := range kinds {
		if simple == k {
			return true
		}
	}
	return false
}

func legacyClass(e RuntimeError, k *kb.KnowledgeBase) (string, bool) {
	for _, name := range classNames(e.Message) {
		if m, ok := k.PackageFor(name); ok && !m.Retained() {
			return name, true
		}
	}
	return "", false
}

func hasPrefix(name, prefix string) bool {
	return prefix != "" && (name == prefix || strings.HasPrefix(name, prefix+"."))
}

// signatures are tried in order; the first match wins.
var signatures = []signature{
	{
		category:   CategoryClasspath,
		confidence: 0.9,
		kinds:      []string{"NoClassDefFoundError", "ClassNotFoundException"},
		match:      legacyClass,
		cause: func(symbol string, e RuntimeError) string {
			return fmt.Sprintf("legacy class %s is referenced at runtime but not on the classpath", symbol)
		},
	},
	{
		category:   CategoryNamespaceMix,
		confidence: 0.85,
		kinds:      []string{"ClassCastException", "LinkageError", "IncompatibleClassChangeError", "VerifyError", "NoSuchMethodError", "AbstractMethodError"},
		match: func(e RuntimeError, k *kb.KnowledgeBase) (string, bool) {
			var legacy, successor string
			for _, name := range classNames(e.Message) {
				if legacy == "" && hasPrefix(name, k.LegacyPrefix) {
					if m, ok := k.PackageFor(name); ok && !m.Retained() {
						legacy = name
					}
				}
				if successor == "" && hasPrefix(name, k.SuccessorPrefix) {
					successor = name
				}
			}
			return legacy, legacy != "" && successor != ""
		},
		cause: func(symbol string, e RuntimeError) string {
			return fmt.Sprintf("classes from both namespaces are linked together around %s", symbol)
		},
	},
	{
		category:   CategoryBinaryIncompatible,
		confidence: 0.8,
		kinds:      []string{"NoSuchMethodError", "AbstractMethodError", "NoSuchFieldError", "IncompatibleClassChangeError"},
		match:      legacyClass,
		cause: func(symbol string, e RuntimeError) string {
			return fmt.Sprintf("a dependency was compiled against legacy API %s", symbol)
		},
	},
	{
		category:   CategoryConfiguration,
		confidence: 0.7,
		kinds:      []string{"ServiceConfigurationError", "NoSuchElementException", "IllegalStateException"},
		match: func(e RuntimeError, k *kb.KnowledgeBase) (string, bool) {
			simple := e.Kind[strings.LastIndex(e.Kind, ".")+1:]
			msg := strings.ToLower(e.Message)
			if simple != "ServiceConfigurationError" && !strings.Contains(msg, "provider") && !strings.Contains(msg, "serviceloader") {
				return "", false
			}
			if name, ok := legacyClass(e, k); ok {
				return name, true
			}
			names := classNames(e.Message)
			if len(names) > 0 {
				return names[0], true
			}
			return "", true
		},
		cause: func(symbol string, e RuntimeError) string {
			if symbol == "" {
				return "a service provider lookup failed"
			}
			return fmt.Sprintf("service provider lookup for %s failed; META-INF/services may still name the legacy interface", symbol)
		},
	},
	{
		category:   CategoryClassLoading,
		confidence: 0.6,
		kinds:      []string{"NoClassDefFoundError", "ClassNotFoundException", "LinkageError", "UnsupportedClassVersionError", "ExceptionInInitializerError"},
		match: func(e RuntimeError, k *kb.KnowledgeBase) (string, bool) {
			names := classNames(e.Message)
			if len(names) > 0 {
				return names[0], true
			}
			return "", true
		},
		cause: func(symbol string, e RuntimeError) string {
			if symbol == "" {
				return fmt.Sprintf("class loading failed with %s", e.Kind)
			}
			return fmt.Sprintf("class %s could not be loaded", symbol)
		},
	},
}

// analyze runs e through the signature table.
func analyze(e RuntimeError, k *kb.KnowledgeBase) (Analysis, bool) {
	for _, sig := range signatures {
		if !kindIs(e, sig.kinds) {
			continue
		}
		symbol, ok := sig.match(e, k)
		if !ok {
			continue
		}
		a := Analysis{
			Category:   sig.category,
			RootCause:  sig.cause(symbol, e),
			Confidence: sig.confidence,
			Symbol:     symbol,
			Factors:    []string{e.Kind + ": " + e.Message},
		}
		a.Artifact, a.Remediation = remediation(sig.category, symbol, k)
		if e.Source != "" {
			a.Factors = append(a.Factors, "first application frame: "+e.Source)
		}
		return a, true
	}
	return Analysis{}, false
}

// remediation draws the fix from the knowledge base: the successor
// coordinate that provides symbol, or the legacy artifact with no
// equivalent.
func remediation(cat Category, symbol string, k *kb.KnowledgeBase) (artifact, text string) {
	m, ok := k.PackageFor(symbol)
	if !ok || m.Retained() {
		switch cat {
		case CategoryConfiguration:
			return "", "check META-INF/services entries and framework configuration for legacy interface names"
		default:
			return "", "inspect the dependency tree for an artifact providing " + symbolOr(symbol, "the missing class")
		}
	}
	if m.NoEquivalent {
		return m.Artifact, fmt.Sprintf("%s has no successor-namespace equivalent; replace or remove code depending on %s", m.Artifact, symbol)
	}

	target := m.Artifact
	group, name, _ := strings.Cut(m.Artifact, ":")
	if e, ok := k.EntryBySuccessor(group, name); ok {
		if c := e.TargetCoordinate(""); c != "" {
			target = c
		}
	}
	successor := m.Rewrite(symbol)
	switch cat {
	case CategoryClasspath:
		return target, fmt.Sprintf("add %s to the runtime classpath and replace references to %s with %s", target, symbol, successor)
	case CategoryNamespaceMix:
		return target, fmt.Sprintf("align every dependency on %s; remove remaining artifacts that still link %s", target, symbol)
	case CategoryBinaryIncompatible:
		return target, fmt.Sprintf("upgrade the dependency calling %s to a release built against %s", symbol, target)
	case CategoryConfiguration:
		return target, fmt.Sprintf("rename service registrations for %s to %s", symbol, successor)
	}
	return target, fmt.Sprintf("use %s from %s", successor, target)
}

func symbolOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
