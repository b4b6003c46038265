package classify

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nsmigrate/internal/engine/graph"
	"nsmigrate/internal/engine/kb"
	"nsmigrate/internal/engine/manifest"
)

const testTable = `
schema_version = 1
legacy_prefix = "legacy-lib"
successor_prefix = "successor-lib"

[[families]]
family = "acme.framework:*"
min_version = "3.0.0"
description = "acme framework 3 is successor-native"

[[families]]
family = "legacy-lib.frameworks:*"
min_version = "1.0.0"
description = "renamed internally"

[[entries]]
legacy = "legacy-lib:legacy-lib-api"
successor = "successor-lib:successor-lib-api"
version_map = { "4.0.1" = "6.0.0" }
level = "minor-changes"
breaking_changes = ["packages renamed"]

[[entries]]
legacy = "legacy-lib:legacy-rpc"
level = "none"
breaking_changes = ["removed without replacement"]
`

func testKB(t *testing.T) *kb.KnowledgeBase {
	t.Helper()
	k, err := kb.Parse([]byte(testTable), "toml")
	require.NoError(t, err)
	return k
}

func TestClassify_ExactEntry(t *testing.T) {
	c := Classify(Artifact{Group: "legacy-lib", Name: "legacy-lib-api", Version: "4.0.1"}, testKB(t))

	assert.Equal(t, StateLegacy, c.State)
	assert.Equal(t, TierEntry, c.Tier)
	assert.Equal(t, 0.95, c.Confidence)
	assert.Nil(t, c.Blocker)
	require.NotNil(t, c.Recommendation)
	assert.Equal(t, "successor-lib:successor-lib-api:6.0.0", c.Recommendation.Target)
}

func TestClassify_FamilyRule(t *testing.T) {
	k := testKB(t)

	c := Classify(Artifact{Group: "acme.framework", Name: "acme-web", Version: "3.2.0"}, k)
	assert.Equal(t, StateSuccessor, c.State)
	assert.Equal(t, TierFamily, c.Tier)
	assert.Nil(t, c.Blocker)

	old := Classify(Artifact{Group: "acme.framework", Name: "acme-web", Version: "2.7.0"}, k)
	assert.Equal(t, StateLegacy, old.State)
	require.NotNil(t, old.Recommendation)
	assert.Equal(t, "acme.framework:acme-web:3.0.0", old.Recommendation.Target)

	unresolved := Classify(Artifact{Group: "acme.framework", Name: "acme-web", Version: "${acme.version}"}, k)
	assert.Equal(t, StateUnknown, unresolved.State)
}

// A family rule beats the prefix heuristic even for legacy-prefixed groups.
func TestClassify_FamilyBeatsPrefix(t *testing.T) {
	k := testKB(t)
	for _, v := range []string{"1.0.0", "1.4", "2.0.0.Final", "10.1.3"} {
		a := Artifact{Group: "legacy-lib.frameworks", Name: fmt.Sprintf("core-%s", v), Version: v}
		c := Classify(a, k)
		assert.Equal(t, StateSuccessor, c.State, a.ID())
		assert.Nil(t, c.Blocker, a.ID())
	}
}

func TestClassify_NoEquivalent(t *testing.T) {
	k := testKB(t)

	c := Classify(Artifact{Group: "legacy-lib", Name: "legacy-rpc", Version: "1.1"}, k)
	require.NotNil(t, c.Blocker)
	assert.Equal(t, BlockerNoEquivalent, c.Blocker.Kind)
	assert.Equal(t, 0.95, c.Blocker.Confidence)

	p := Classify(Artifact{Group: "legacy-lib.extras", Name: "widgets", Version: "1.0"}, k)
	assert.Equal(t, StateLegacy, p.State)
	assert.Equal(t, TierPrefix, p.Tier)
	require.NotNil(t, p.Blocker)
	assert.Equal(t, 0.6, p.Blocker.Confidence)

	u := Classify(Artifact{Group: "org.slf4j", Name: "slf4j-api", Version: "2.0.9"}, k)
	assert.Equal(t, StateUnknown, u.State)
	assert.Equal(t, 0.0, u.Confidence)
}

func TestClassify_Pure(t *testing.T) {
	k := testKB(t)
	a := Artifact{Group: "legacy-lib", Name: "legacy-lib-api", Version: "4.0.1"}
	assert.Equal(t, Classify(a, k), Classify(a, k))
}

func buildGraph(decls []manifest.Declaration, tree []manifest.TreeEdge) *graph.Graph {
	b := graph.NewBuilder("shop")
	b.AddManifest(&manifest.Manifest{Path: "pom.xml", Format: manifest.FormatMaven, Declarations: decls})
	if len(tree) > 0 {
		b.AddManifest(&manifest.Manifest{Path: "dependency-tree.txt", Format: manifest.FormatTree, Tree: tree})
	}
	return b.Build()
}

func d(group, name, version string) manifest.Declaration {
	return manifest.Declaration{Group: group, Name: name, Version: version, Scope: manifest.DefaultScope}
}

// Scenario: a mapped legacy artifact yields no blocker and one recommendation.
func TestClassifyGraph_MappedArtifact(t *testing.T) {
	g := buildGraph([]manifest.Declaration{d("legacy-lib", "legacy-lib-api", "4.0.1")}, nil)

	r := ClassifyGraph(g, testKB(t))
	assert.Empty(t, r.Blockers)
	require.Len(t, r.Recommendations, 1)
	assert.Equal(t, "successor-lib:successor-lib-api:6.0.0", r.Recommendations[0].Target)
	assert.Equal(t, StateLegacy, r.Summary.State)
}

// Scenario: a family-covered framework at major 3 is successor with no
// blockers.
func TestClassifyGraph_FrameworkFamily(t *testing.T) {
	g := buildGraph([]manifest.Declaration{d("acme.framework", "acme-web", "3.0.4")}, nil)

	r := ClassifyGraph(g, testKB(t))
	assert.Empty(t, r.Blockers)
	c, ok := r.Lookup("acme.framework:acme-web:3.0.4")
	require.True(t, ok)
	assert.Equal(t, StateSuccessor, c.State)
	assert.Equal(t, StateSuccessor, r.Summary.State)
}

func TestClassifyGraph_MixedAndConflict(t *testing.T) {
	web := d("acme.framework", "acme-web", "3.1.0")
	oldAPI := d("legacy-lib", "legacy-lib-api", "4.0.1")
	newAPI := d("successor-lib", "successor-lib-api", "6.0.0")
	g := buildGraph(
		[]manifest.Declaration{web, newAPI},
		[]manifest.TreeEdge{
			{To: web},
			{From: web, To: oldAPI},
		},
	)

	r := ClassifyGraph(g, testKB(t))

	c, ok := r.Lookup(web.Coordinate())
	require.True(t, ok)
	assert.Equal(t, StateMixed, c.State)
	assert.Equal(t, StateMixed, r.Summary.State)

	// Different group:name, so no transitive conflict between legacy and
	// successor coordinates.
	for _, b := range r.Blockers {
		assert.NotEqual(t, BlockerTransitiveConflict, b.Kind)
	}
}

func TestClassifyGraph_TransitiveConflict(t *testing.T) {
	k, err := kb.Parse([]byte(`
schema_version = 1
[[families]]
family = "acme.framework:*"
min_version = "3.0.0"
`), "toml")
	require.NoError(t, err)

	lib := d("com.acme", "lib", "1.0")
	g := buildGraph(
		[]manifest.Declaration{d("acme.framework", "acme-core", "3.1.0"), lib},
		[]manifest.TreeEdge{
			{To: lib},
			{From: lib, To: d("acme.framework", "acme-core", "2.5.0")},
		},
	)

	r := ClassifyGraph(g, k)
	var conflicts []Blocker
	for _, b := range r.Blockers {
		if b.Kind == BlockerTransitiveConflict {
			conflicts = append(conflicts, b)
		}
	}
	require.Len(t, conflicts, 1)
	assert.Equal(t, "acme.framework:acme-core:2.5.0", conflicts[0].Artifact)
	assert.Contains(t, conflicts[0].Reason, "com.acme:lib:1.0")
	assert.Equal(t, 1, r.BlockerCount("acme.framework:acme-core"))
}
