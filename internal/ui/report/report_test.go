package report

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"nsmigrate/internal/core/ports"
	"nsmigrate/internal/engine/classify"
	"nsmigrate/internal/engine/planner"
	"nsmigrate/internal/engine/tracker"
	"nsmigrate/internal/engine/verifier"
)

var fixedTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleAnalysis() *ports.AnalysisResult {
	return &ports.AnalysisResult{
		Project:       "/work/shop",
		KnowledgeBase: "embedded",
		Report: classify.Report{
			Blockers: []classify.Blocker{{
				Artifact:    "com.acme:legacy-lib:1.0",
				Kind:        classify.BlockerNoEquivalent,
				Reason:      "no successor | ever",
				Mitigations: []string{"replace it"},
				Confidence:  0.9,
			}},
			Recommendations: []classify.Recommendation{{
				Artifact: "javax.servlet:javax.servlet-api:4.0.1",
				Target:   "jakarta.servlet:jakarta.servlet-api:6.0.0",
			}},
			Summary: classify.Summary{Total: 3, Legacy: 2, Successor: 1, State: classify.StateMixed},
		},
		Warnings: []string{"module api: pom.xml not found"},
	}
}

func sampleStatus() tracker.Report {
	return tracker.Report{
		Project:     "/work/shop",
		RunID:       "run-1",
		PlanID:      "abc",
		State:       "in-progress:3",
		FilesFailed: []string{"src/Api.java"},
		Phases: []tracker.PhaseReport{
			{Number: 1, Counts: tracker.Counts{Total: 1, Succeeded: 1}},
			{Number: 3, Counts: tracker.Counts{Total: 2, Succeeded: 1, Failed: 1}},
		},
	}
}

func TestParseFormat(t *testing.T) {
	cases := map[string]Format{"": FormatText, "md": FormatMarkdown, "JSON": FormatJSON, "yml": FormatYAML}
	for in, want := range cases {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("html")
	assert.Error(t, err)
}

func TestText_Analysis(t *testing.T) {
	out, err := Text(sampleAnalysis(), Options{Plain: true})
	require.NoError(t, err)
	assert.Contains(t, out, "Analysis of /work/shop")
	assert.Contains(t, out, "state: mixed")
	assert.Contains(t, out, "Blockers (1)")
	assert.Contains(t, out, "com.acme:legacy-lib:1.0 [no-equivalent]")
	assert.Contains(t, out, "-> javax.servlet:javax.servlet-api:4.0.1 => jakarta.servlet:jakarta.servlet-api:6.0.0")
	assert.Contains(t, out, "! module api: pom.xml not found")
}

func TestText_Status(t *testing.T) {
	out, err := Text(sampleStatus(), Options{Plain: true})
	require.NoError(t, err)
	assert.Contains(t, out, "state: in-progress:3")
	assert.Contains(t, out, "3: 1/2 done (1 failed, 0 skipped, 0 pending)")
	assert.Contains(t, out, "x src/Api.java")
}

func TestText_UnknownType(t *testing.T) {
	_, err := Text(42, Options{})
	assert.Error(t, err)
}

func TestMarkdown_Analysis(t *testing.T) {
	out, err := Markdown(sampleAnalysis(), Options{GeneratedAt: fixedTime, Version: "1.2.0"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "---\ntitle: Namespace Migration Analysis\n"))
	assert.Contains(t, out, "generated_at: 2026-03-01T12:00:00Z")
	assert.Contains(t, out, "| State | mixed |")
	// Pipes inside cells are escaped.
	assert.Contains(t, out, `no successor \| ever`)
	assert.Contains(t, out, "| `javax.servlet:javax.servlet-api:4.0.1` | `jakarta.servlet:jakarta.servlet-api:6.0.0` | - |")
}

func TestMarkdown_CollapsesLongTables(t *testing.T) {
	res := &ports.ExecutionResult{RunID: "r", PlanID: "p"}
	for i := 0; i < collapseAfter+1; i++ {
		res.Files = append(res.Files, ports.FileResult{Path: "f.java", Phase: 2, Status: tracker.StatusSucceeded})
	}
	out, err := Markdown(res, Options{GeneratedAt: fixedTime})
	require.NoError(t, err)
	assert.Contains(t, out, "<summary>File results (11)</summary>")
}

func TestMarkdown_Verification(t *testing.T) {
	res := &ports.VerificationResult{Result: verifier.Result{
		Artifact: "app.jar",
		Status:   verifier.StatusFailed,
		ExitCode: 1,
		Stderr:   "Exception in thread \"main\" java.lang.NoClassDefFoundError: javax/servlet/Filter\n",
		Analyses: []verifier.Analysis{{
			Category:    verifier.CategoryClasspath,
			RootCause:   "legacy class javax.servlet.Filter missing",
			Confidence:  0.9,
			Remediation: "use jakarta.servlet:jakarta.servlet-api:6.0.0",
			File:        "src/App.java",
			Phase:       2,
		}},
	}}
	out, err := Markdown(res, Options{GeneratedAt: fixedTime})
	require.NoError(t, err)
	assert.Contains(t, out, "| Status | failed |")
	assert.Contains(t, out, "| classpath-issue | legacy class javax.servlet.Filter missing | 90% | `src/App.java` (phase 2) |")
	assert.Contains(t, out, "```text\nException in thread")
}

func TestWrite_StructuredFormats(t *testing.T) {
	plan := &planner.Plan{ID: "p1", Project: "/work/shop", Phases: []planner.Phase{{Number: 1, Risk: planner.RiskLow}}}

	var js bytes.Buffer
	require.NoError(t, Write(&js, plan, Options{Format: FormatJSON}))
	var decoded planner.Plan
	require.NoError(t, json.Unmarshal(js.Bytes(), &decoded))
	assert.Equal(t, "p1", decoded.ID)

	var ym bytes.Buffer
	require.NoError(t, Write(&ym, plan, Options{Format: FormatYAML}))
	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(ym.Bytes(), &doc))
	assert.Equal(t, "/work/shop", doc["project"])
}

func TestInjectSection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "MIGRATION.md")
	original := "# Notes\n<!-- nsmigrate:status:start -->\nold\n<!-- nsmigrate:status:end -->\ntail\n"
	require.NoError(t, os.WriteFile(path, []byte(original), 0o644))

	section, err := Section(sampleStatus(), Options{GeneratedAt: fixedTime})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(section, "# Migration Status"))
	require.NoError(t, InjectSection(path, "status", section))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	got := string(data)
	assert.NotContains(t, got, "old")
	assert.Contains(t, got, "Run `run-1` for `/work/shop` is `in-progress:3`.")
	assert.True(t, strings.HasSuffix(got, "<!-- nsmigrate:status:end -->\ntail\n"))
}

func TestReplaceBetweenMarkers_Errors(t *testing.T) {
	_, err := ReplaceBetweenMarkers("no markers", "status", "x")
	assert.Error(t, err)
	_, err = ReplaceBetweenMarkers("<!-- nsmigrate:s:end --><!-- nsmigrate:s:start -->", "s", "x")
	assert.Error(t, err)
	_, err = ReplaceBetweenMarkers("", " ", "x")
	assert.Error(t, err)
}
