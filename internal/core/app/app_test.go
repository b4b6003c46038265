package app

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"nsmigrate/internal/core/config"
	domainerrors "nsmigrate/internal/core/errors"
	"nsmigrate/internal/core/ports"
	"nsmigrate/internal/engine/classify"
	"nsmigrate/internal/engine/planner"
	"nsmigrate/internal/engine/tracker"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const shopPOM = `<project>
  <groupId>com.shop</groupId>
  <artifactId>shop</artifactId>
  <version>1.0.0</version>
  <dependencies>
    <dependency>
      <groupId>javax.servlet</groupId>
      <artifactId>javax.servlet-api</artifactId>
      <version>4.0.1</version>
    </dependency>
    <dependency>
      <groupId>org.springframework.boot</groupId>
      <artifactId>spring-boot-starter-web</artifactId>
      <version>3.1.0</version>
    </dependency>
  </dependencies>
</project>
`

var shopFiles = map[string]string{
	"pom.xml": shopPOM,
	"src/main/java/com/shop/web/App.java": `package com.shop.web;

import javax.servlet.Filter;

public class App {
    Filter filter;
}
`,
	"src/main/java/com/shop/model/Model.java": `package com.shop.model;

import javax.persistence.Entity;

@Entity
public class Model {
}
`,
	"src/main/java/com/shop/web/Api.java": `package com.shop.web;

import javax.ws.rs.Path;
import com.shop.model.Model;

@Path("/models")
public class Api {
    Model model;
}
`,
	"src/main/resources/META-INF/persistence.xml": `<persistence>
  <properties>
    <property name="javax.persistence.jdbc.url" value="jdbc:h2:mem:shop"/>
  </properties>
</persistence>
`,
	"README.md": "shop\n",
}

const (
	appJava   = "src/main/java/com/shop/web/App.java"
	modelJava = "src/main/java/com/shop/model/Model.java"
	apiJava   = "src/main/java/com/shop/web/Api.java"
	persXML   = "src/main/resources/META-INF/persistence.xml"
)

func writeProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range shopFiles {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	require.NoError(t, filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	}))
	return out
}

// memStores hands out one in-memory store per project, surviving reopen.
type memStores struct {
	mu     sync.Mutex
	stores map[string]*tracker.MemoryStore
}

type memStore struct {
	*tracker.MemoryStore
}

func (memStore) Close() error { return nil }

func (m *memStores) open(project string) (ports.CheckpointStore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stores == nil {
		m.stores = make(map[string]*tracker.MemoryStore)
	}
	s, ok := m.stores[project]
	if !ok {
		s = tracker.NewMemoryStore()
		m.stores[project] = s
	}
	return memStore{s}, nil
}

// replacing applies symbol edits textually and stamps every file it
// touches. Paths in failOn are written and then reported as failed.
func replacing(failOn ...string) ports.Rewriter {
	return ports.RewriterFunc(func(_ context.Context, req ports.RewriteRequest) error {
		p := filepath.Join(req.Root, filepath.FromSlash(req.Path))
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		s := string(data)
		for _, act := range req.Actions {
			if act.Kind == planner.ActionSymbol && act.After != "" {
				s = strings.ReplaceAll(s, act.Before, act.After)
			}
		}
		s += "\n// migrated\n"
		if err := os.WriteFile(p, []byte(s), 0o644); err != nil {
			return err
		}
		if slices.Contains(failOn, req.Path) {
			return errors.New("rewrite exploded")
		}
		return nil
	})
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Paths.StateDir = t.TempDir()
	cfg.Execute.Workers = 2
	return cfg
}

func newTestApp(t *testing.T, rw ports.Rewriter) *App {
	t.Helper()
	stores := &memStores{}
	a, err := NewWithDependencies(testConfig(t), Dependencies{Rewriter: rw, OpenStore: stores.open})
	require.NoError(t, err)
	return a
}

func TestAnalyze(t *testing.T) {
	root := writeProject(t)
	a := newTestApp(t, nil)

	res, err := a.Analyze(context.Background(), root)
	require.NoError(t, err)

	assert.Empty(t, res.Report.Blockers)
	require.Len(t, res.Report.Recommendations, 1)
	assert.Equal(t, "javax.servlet:javax.servlet-api:4.0.1", res.Report.Recommendations[0].Artifact)
	assert.Equal(t, "jakarta.servlet:jakarta.servlet-api:6.0.0", res.Report.Recommendations[0].Target)

	spring, ok := res.Report.Lookup("org.springframework.boot:spring-boot-starter-web:3.1.0")
	require.True(t, ok)
	assert.Equal(t, classify.StateSuccessor, spring.State)
	assert.Nil(t, spring.Blocker)

	var paths []string
	for _, u := range res.Usages {
		paths = append(paths, u.Path)
	}
	assert.ElementsMatch(t, []string{appJava, modelJava, apiJava, persXML}, paths)
	assert.Equal(t, []string{modelJava}, res.References[apiJava])
}

func TestAnalyze_UnreadableRoot(t *testing.T) {
	a := newTestApp(t, nil)
	_, err := a.Analyze(context.Background(), filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.True(t, domainerrors.IsCode(err, domainerrors.CodeNotFound))
}

func TestPlan(t *testing.T) {
	root := writeProject(t)
	a := newTestApp(t, nil)
	ctx := context.Background()

	analysis, err := a.Analyze(ctx, root)
	require.NoError(t, err)
	plan, err := a.Plan(ctx, root, analysis)
	require.NoError(t, err)

	p1, _ := plan.Phase(planner.PhaseManifests)
	assert.Equal(t, []string{"pom.xml"}, p1.Paths())
	p2, _ := plan.Phase(planner.PhaseLeafSources)
	assert.Equal(t, []string{appJava, modelJava}, p2.Paths())
	p3, _ := plan.Phase(planner.PhaseSources)
	assert.Equal(t, []string{apiJava}, p3.Paths())
	p4, _ := plan.Phase(planner.PhaseConfigAndTest)
	assert.Equal(t, []string{persXML}, p4.Paths())

	again, err := a.Plan(ctx, root, nil)
	require.NoError(t, err)
	assert.Equal(t, plan.ID, again.ID)
}

func TestPlan_RejectsForeignAnalysis(t *testing.T) {
	a := newTestApp(t, nil)
	ctx := context.Background()
	analysis, err := a.Analyze(ctx, writeProject(t))
	require.NoError(t, err)

	_, err = a.Plan(ctx, writeProject(t), analysis)
	require.Error(t, err)
	assert.True(t, domainerrors.IsCode(err, domainerrors.CodeConflict))
}

func TestExecute_FullRun(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("verification uses a shell script")
	}
	root := writeProject(t)
	a := newTestApp(t, replacing())
	ctx := context.Background()

	plan, err := a.Plan(ctx, root, nil)
	require.NoError(t, err)
	res, err := a.Execute(ctx, root, plan, ports.PhaseRange{})
	require.NoError(t, err)

	assert.Zero(t, res.StoppedAt)
	assert.Len(t, res.Files, 5)
	assert.Equal(t, "phase-4-complete", res.Progress.State)
	assert.Empty(t, res.Progress.FilesFailed)

	app := readTree(t, root)[appJava]
	assert.Contains(t, app, "import jakarta.servlet.Filter;")
	assert.NotContains(t, app, "javax.servlet")

	script := filepath.Join(t.TempDir(), "run.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho started\n"), 0o755))
	v, err := a.Verify(ctx, ports.VerifyRequest{Project: root, Artifact: script})
	require.NoError(t, err)
	assert.True(t, v.Passed())
	assert.Equal(t, "verified", v.State)

	require.NoError(t, a.Complete(ctx, root))
	st, err := a.Status(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, "complete", st.State)

	_, err = a.Execute(ctx, root, plan, ports.PhaseRange{})
	require.Error(t, err)
	assert.True(t, domainerrors.IsCode(err, domainerrors.CodeConflict))
}

func TestExecute_PlansFreshRun(t *testing.T) {
	root := writeProject(t)
	a := newTestApp(t, replacing())
	ctx := context.Background()

	plan, err := a.Plan(ctx, root, nil)
	require.NoError(t, err)
	res, err := a.Execute(ctx, root, nil, ports.PhaseRange{To: 1})
	require.NoError(t, err)
	assert.False(t, res.Resumed)
	assert.Equal(t, plan.ID, res.PlanID)

	// A different plan cannot take over a run in progress.
	other := *plan
	other.ID = "replanned"
	_, err = a.Execute(ctx, root, &other, ports.PhaseRange{})
	require.Error(t, err)
	assert.True(t, domainerrors.IsCode(err, domainerrors.CodeConflict))
}

func TestExecute_RequiresRewriter(t *testing.T) {
	a := newTestApp(t, nil)
	_, err := a.Execute(context.Background(), writeProject(t), &planner.Plan{}, ports.PhaseRange{})
	require.Error(t, err)
	assert.True(t, domainerrors.IsCode(err, domainerrors.CodeValidationError))
}

func TestExecute_PartialFailureBlocksAndSkipResumes(t *testing.T) {
	root := writeProject(t)
	original := readTree(t, root)
	stores := &memStores{}
	ctx := context.Background()

	failing, err := NewWithDependencies(testConfig(t), Dependencies{Rewriter: replacing(apiJava), OpenStore: stores.open})
	require.NoError(t, err)
	plan, err := failing.Plan(ctx, root, nil)
	require.NoError(t, err)

	res, err := failing.Execute(ctx, root, plan, ports.PhaseRange{})
	require.NoError(t, err)
	assert.Equal(t, planner.PhaseSources, res.StoppedAt)
	assert.Equal(t, "in-progress:3", res.Progress.State)
	assert.Equal(t, []string{apiJava}, res.Progress.FilesFailed)
	// The failed file is left untouched.
	assert.Equal(t, original[apiJava], readTree(t, root)[apiJava])

	// Retrying without resolving still blocks.
	res, err = failing.Execute(ctx, root, nil, ports.PhaseRange{})
	require.NoError(t, err)
	assert.True(t, res.Resumed)
	assert.Equal(t, planner.PhaseSources, res.StoppedAt)

	require.Error(t, failing.Skip(ctx, root, apiJava, ""))
	require.NoError(t, failing.Skip(ctx, root, filepath.Join(root, filepath.FromSlash(apiJava)), "migrated by hand"))

	res, err = failing.Execute(ctx, root, nil, ports.PhaseRange{})
	require.NoError(t, err)
	assert.Zero(t, res.StoppedAt)
	assert.Equal(t, "phase-4-complete", res.Progress.State)
	require.Len(t, res.Progress.Skipped, 1)
	assert.Equal(t, apiJava, res.Progress.Skipped[0].Path)
}

func TestExecute_PhaseRange(t *testing.T) {
	root := writeProject(t)
	a := newTestApp(t, replacing())
	ctx := context.Background()
	plan, err := a.Plan(ctx, root, nil)
	require.NoError(t, err)

	_, err = a.Execute(ctx, root, plan, ports.PhaseRange{From: 2, To: 2})
	require.Error(t, err, "phase 2 cannot run before phase 1")

	res, err := a.Execute(ctx, root, plan, ports.PhaseRange{From: 1, To: 2})
	require.NoError(t, err)
	assert.Equal(t, "phase-2-complete", res.Progress.State)
	assert.Len(t, res.Files, 3)

	res, err = a.Execute(ctx, root, nil, ports.PhaseRange{From: 3})
	require.NoError(t, err)
	assert.Equal(t, "phase-4-complete", res.Progress.State)
	assert.Len(t, res.Files, 2)
}

func TestExecute_CancelledBetweenPhases(t *testing.T) {
	root := writeProject(t)
	ctx, cancel := context.WithCancel(context.Background())
	var once sync.Once
	rw := ports.RewriterFunc(func(c context.Context, req ports.RewriteRequest) error {
		once.Do(cancel)
		return replacing().Rewrite(c, req)
	})
	a := newTestApp(t, rw)
	plan, err := a.Plan(context.Background(), root, nil)
	require.NoError(t, err)

	res, err := a.Execute(ctx, root, plan, ports.PhaseRange{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.StoppedAt)
	assert.Equal(t, "phase-1-complete", res.Progress.State)
}

func TestRollback_IsInverseOfExecute(t *testing.T) {
	for k := 1; k <= planner.PhaseCount; k++ {
		root := writeProject(t)
		original := readTree(t, root)
		a := newTestApp(t, replacing())
		ctx := context.Background()

		plan, err := a.Plan(ctx, root, nil)
		require.NoError(t, err)
		res, err := a.Execute(ctx, root, plan, ports.PhaseRange{From: 1, To: k})
		require.NoError(t, err)
		require.Equal(t, "phase-"+phaseLabel(k)+"-complete", res.Progress.State)
		require.NotEqual(t, original, readTree(t, root))

		rb, err := a.Rollback(ctx, root, 1)
		require.NoError(t, err)
		assert.Equal(t, "not-started", rb.To)

		assert.Equal(t, original, readTree(t, root), "k=%d", k)
		st, err := a.Status(ctx, root)
		require.NoError(t, err)
		assert.Equal(t, "not-started", st.State)
	}
}

func TestRollback_Partial(t *testing.T) {
	root := writeProject(t)
	original := readTree(t, root)
	a := newTestApp(t, replacing())
	ctx := context.Background()

	plan, err := a.Plan(ctx, root, nil)
	require.NoError(t, err)
	_, err = a.Execute(ctx, root, plan, ports.PhaseRange{})
	require.NoError(t, err)

	rb, err := a.Rollback(ctx, root, 3)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{apiJava, persXML}, rb.Restored)

	tree := readTree(t, root)
	assert.Equal(t, original[apiJava], tree[apiJava])
	assert.Equal(t, original[persXML], tree[persXML])
	assert.NotEqual(t, original[appJava], tree[appJava])

	_, err = a.Rollback(ctx, root, 0)
	require.Error(t, err)
}

func TestExecute_ResumesAcrossProcesses(t *testing.T) {
	root := writeProject(t)
	cfg := testConfig(t)
	ctx := context.Background()

	first, err := NewWithDependencies(cfg, Dependencies{Rewriter: replacing(persXML)})
	require.NoError(t, err)
	plan, err := first.Plan(ctx, root, nil)
	require.NoError(t, err)
	res, err := first.Execute(ctx, root, plan, ports.PhaseRange{})
	require.NoError(t, err)
	require.Equal(t, planner.PhaseConfigAndTest, res.StoppedAt)

	second, err := NewWithDependencies(cfg, Dependencies{Rewriter: replacing()})
	require.NoError(t, err)
	res, err = second.Execute(ctx, root, nil, ports.PhaseRange{})
	require.NoError(t, err)
	assert.True(t, res.Resumed)
	assert.Equal(t, plan.ID, res.PlanID)
	assert.Equal(t, "phase-4-complete", res.Progress.State)

	dbPath, err := second.Paths().ProgressDBPath(root)
	require.NoError(t, err)
	assert.FileExists(t, dbPath)
}

func TestReplan_AddsVerifierFindings(t *testing.T) {
	root := writeProject(t)
	a := newTestApp(t, nil)
	ctx := context.Background()
	analysis, err := a.Analyze(ctx, root)
	require.NoError(t, err)

	finding := classify.RuntimeBlocker(classify.BlockerBinaryIncompatible, "javax.servlet:javax.servlet-api", "linked against removed API", nil, 0.8)
	plan, err := a.Replan(ctx, root, analysis, []classify.Blocker{finding})
	require.NoError(t, err)
	require.Len(t, plan.Blockers, 1)
	p1, _ := plan.Phase(planner.PhaseManifests)
	assert.NotEqual(t, planner.RiskLow, p1.Risk)
}

func TestVerifyThenReplan_CorrectsPlan(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("verification uses a shell script")
	}
	root := writeProject(t)
	a := newTestApp(t, nil)
	ctx := context.Background()
	analysis, err := a.Analyze(ctx, root)
	require.NoError(t, err)
	before, err := a.Plan(ctx, root, analysis)
	require.NoError(t, err)

	script := filepath.Join(t.TempDir(), "run.sh")
	out := `#!/bin/sh
echo 'Exception in thread "main" java.lang.NoClassDefFoundError: javax/servlet/Filter' >&2
echo 'Exception in thread "worker" java.lang.ClassNotFoundException: javax.ws.rs.core.Response' >&2
exit 1
`
	require.NoError(t, os.WriteFile(script, []byte(out), 0o755))
	vr, err := a.Verify(ctx, ports.VerifyRequest{Artifact: script})
	require.NoError(t, err)
	require.False(t, vr.Passed())
	require.Len(t, vr.Blockers, 2)
	for _, bl := range vr.Blockers {
		assert.Equal(t, classify.BlockerTransitiveConflict, bl.Kind)
		assert.Equal(t, "classpath-issue", bl.Finding)
	}

	after, err := a.Replan(ctx, root, analysis, vr.Blockers)
	require.NoError(t, err)
	assert.NotEqual(t, before.ID, after.ID)
	assert.Empty(t, after.Warnings)

	p1, _ := after.Phase(planner.PhaseManifests)
	pom, ok := p1.File("pom.xml")
	require.True(t, ok)
	assert.Equal(t, 2, pom.Blockers)

	byKind := make(map[planner.ActionKind][]planner.Action)
	for _, act := range pom.Actions {
		byKind[act.Kind] = append(byKind[act.Kind], act)
	}
	// The declared servlet API keeps its replacement and carries the
	// runtime evidence.
	require.Len(t, byKind[planner.ActionCoordinate], 1)
	servlet := byKind[planner.ActionCoordinate][0]
	assert.Equal(t, "javax.servlet:javax.servlet-api:4.0.1", servlet.Before)
	assert.Equal(t, "jakarta.servlet:jakarta.servlet-api:6.0.0", servlet.After)
	assert.Contains(t, servlet.Note, "verified classpath-issue")
	// Nothing declares the REST API, so the plan adds its successor.
	require.Len(t, byKind[planner.ActionAddCoordinate], 1)
	assert.Equal(t, "jakarta.ws.rs:jakarta.ws.rs-api:3.1.0", byKind[planner.ActionAddCoordinate][0].After)
}

func TestSkip_OutsideProject(t *testing.T) {
	a := newTestApp(t, nil)
	err := a.Skip(context.Background(), writeProject(t), "/elsewhere/File.java", "x")
	require.Error(t, err)
	assert.True(t, domainerrors.IsCode(err, domainerrors.CodeValidationError))
}

func TestHealth(t *testing.T) {
	a := newTestApp(t, replacing())
	h := NewHealthService(a).Check(context.Background())
	assert.Equal(t, "up", h.Status)
	assert.Equal(t, "ok", h.Components["rewriter"])
	assert.Contains(t, h.Components["knowledge_base"], "embedded")
}
