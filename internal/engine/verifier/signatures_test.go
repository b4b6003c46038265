package verifier

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nsmigrate/internal/engine/classify"
)

func TestExtractErrors(t *testing.T) {
	out := `INFO starting
Exception in thread "main" java.lang.IllegalStateException: boot failed
	at com.shop.App.start(App.java:20)
	at com.shop.App.main(App.java:5)
Caused by: java.lang.ClassCastException: class jakarta.servlet.http.HttpServlet cannot be cast to class javax.servlet.Servlet
	at org.apache.catalina.core.StandardWrapper.loadServlet(StandardWrapper.java:1000)
	at com.shop.web.Boot$Inner.run(Boot.java:12)
done`
	errs := extractErrors(out, time.Unix(0, 0))
	require.Len(t, errs, 2)
	assert.Equal(t, "java.lang.IllegalStateException", errs[0].Kind)
	assert.Equal(t, "boot failed", errs[0].Message)
	assert.Equal(t, "com.shop.App.start", errs[0].Source)
	assert.Equal(t, "java.lang.ClassCastException", errs[1].Kind)
	assert.Equal(t, "com.shop.web.Boot$Inner.run", errs[1].Source)
	assert.Contains(t, errs[1].Trace, "StandardWrapper")
}

func TestAnalyze_Signatures(t *testing.T) {
	k := defaultKB(t)
	cases := []struct {
		name       string
		err        RuntimeError
		category   Category
		confidence float64
		symbol     string
		remedy     string
	}{
		{
			name:       "legacy class missing",
			err:        RuntimeError{Kind: "java.lang.ClassNotFoundException", Message: "javax.ws.rs.core.Response"},
			category:   CategoryClasspath,
			confidence: 0.9,
			symbol:     "javax.ws.rs.core.Response",
			remedy:     "jakarta.ws.rs:jakarta.ws.rs-api:3.1.0",
		},
		{
			name:       "namespace mix",
			err:        RuntimeError{Kind: "java.lang.ClassCastException", Message: "class jakarta.servlet.http.HttpServlet cannot be cast to class javax.servlet.Servlet"},
			category:   CategoryNamespaceMix,
			confidence: 0.85,
			symbol:     "javax.servlet.Servlet",
			remedy:     "jakarta.servlet:jakarta.servlet-api",
		},
		{
			name:       "binary incompatible",
			err:        RuntimeError{Kind: "java.lang.NoSuchMethodError", Message: "'void javax.servlet.http.HttpServletResponse.setStatus(int, java.lang.String)'"},
			category:   CategoryBinaryIncompatible,
			confidence: 0.8,
			symbol:     "javax.servlet.http.HttpServletResponse.setStatus",
			remedy:     "upgrade the dependency",
		},
		{
			name:       "service provider",
			err:        RuntimeError{Kind: "java.util.ServiceConfigurationError", Message: "javax.ws.rs.ext.RuntimeDelegate: Provider org.glassfish.jersey.internal.RuntimeDelegateImpl not found"},
			category:   CategoryConfiguration,
			confidence: 0.7,
			symbol:     "javax.ws.rs.ext.RuntimeDelegate",
			remedy:     "jakarta.ws.rs.ext.RuntimeDelegate",
		},
		{
			name:       "generic class loading",
			err:        RuntimeError{Kind: "java.lang.NoClassDefFoundError", Message: "com/acme/Missing"},
			category:   CategoryClassLoading,
			confidence: 0.6,
			symbol:     "com.acme.Missing",
			remedy:     "com.acme.Missing",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a, ok := analyze(tc.err, k)
			require.True(t, ok)
			assert.Equal(t, tc.category, a.Category)
			assert.InDelta(t, tc.confidence, a.Confidence, 1e-9)
			assert.Equal(t, tc.symbol, a.Symbol)
			assert.Contains(t, a.Remediation, tc.remedy)
		})
	}
}

func TestAnalyze_NoMatch(t *testing.T) {
	_, ok := analyze(RuntimeError{Kind: "java.lang.NullPointerException", Message: "x is null"}, defaultKB(t))
	assert.False(t, ok)
}

func TestAnalyze_RetainedPackageIsNotLegacy(t *testing.T) {
	a, ok := analyze(RuntimeError{Kind: "java.lang.ClassNotFoundException", Message: "javax.sql.DataSource"}, defaultKB(t))
	require.True(t, ok)
	assert.Equal(t, CategoryClassLoading, a.Category)
}

func TestBlockersFromFindings(t *testing.T) {
	blockers := BlockersFromFindings([]Analysis{
		{Category: CategoryBinaryIncompatible, Artifact: "jakarta.servlet:jakarta.servlet-api:6.0.0", RootCause: "r", Remediation: "fix", Confidence: 0.8},
		{Category: CategoryBinaryIncompatible, Artifact: "jakarta.servlet:jakarta.servlet-api:6.0.0", RootCause: "r", Confidence: 0.8},
		{Category: CategoryConfiguration, Artifact: "jakarta.ws.rs:jakarta.ws.rs-api:3.1.0", RootCause: "c", Confidence: 0.7},
		{Category: CategoryUnclassified, RootCause: "u"},
	}, defaultKB(t))
	require.Len(t, blockers, 1)
	assert.Equal(t, "javax.servlet:javax.servlet-api", blockers[0].Artifact)
	assert.Equal(t, classify.BlockerBinaryIncompatible, blockers[0].Kind)
	assert.Equal(t, "jakarta.servlet:jakarta.servlet-api:6.0.0", blockers[0].Target)
	assert.Equal(t, []string{"fix"}, blockers[0].Mitigations)
}

func TestBlockersFromFindings_KindsFollowCategory(t *testing.T) {
	k := defaultKB(t)
	cases := []struct {
		name     string
		analysis Analysis
		artifact string
		kind     classify.BlockerKind
		target   string
	}{
		{
			name:     "classpath issue",
			analysis: Analysis{Category: CategoryClasspath, Artifact: "jakarta.ws.rs:jakarta.ws.rs-api:3.1.0", RootCause: "missing", Confidence: 0.9},
			artifact: "javax.ws.rs:javax.ws.rs-api",
			kind:     classify.BlockerTransitiveConflict,
			target:   "jakarta.ws.rs:jakarta.ws.rs-api:3.1.0",
		},
		{
			name:     "namespace mix",
			analysis: Analysis{Category: CategoryNamespaceMix, Artifact: "jakarta.servlet:jakarta.servlet-api:6.0.0", RootCause: "mixed", Confidence: 0.85},
			artifact: "javax.servlet:javax.servlet-api",
			kind:     classify.BlockerTransitiveConflict,
			target:   "jakarta.servlet:jakarta.servlet-api:6.0.0",
		},
		{
			name:     "binary incompatible",
			analysis: Analysis{Category: CategoryBinaryIncompatible, Artifact: "jakarta.servlet:jakarta.servlet-api:6.0.0", RootCause: "linked", Confidence: 0.8},
			artifact: "javax.servlet:javax.servlet-api",
			kind:     classify.BlockerBinaryIncompatible,
			target:   "jakarta.servlet:jakarta.servlet-api:6.0.0",
		},
		{
			name:     "legacy artifact on the classpath",
			analysis: Analysis{Category: CategoryStaticCrossCheck, Artifact: "javax.ws.rs:javax.ws.rs-api:2.1.1", RootCause: "bundled", Confidence: 0.5},
			artifact: "javax.ws.rs:javax.ws.rs-api",
			kind:     classify.BlockerTransitiveConflict,
			target:   "jakarta.ws.rs:jakarta.ws.rs-api:3.1.0",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			blockers := BlockersFromFindings([]Analysis{tc.analysis}, k)
			require.Len(t, blockers, 1)
			assert.Equal(t, tc.artifact, blockers[0].Artifact)
			assert.Equal(t, tc.kind, blockers[0].Kind)
			assert.Equal(t, tc.target, blockers[0].Target)
			assert.Equal(t, string(tc.analysis.Category), blockers[0].Finding)
		})
	}
}
