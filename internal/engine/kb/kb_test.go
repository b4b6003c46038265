package kb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "nsmigrate/internal/core/errors"
)

func TestDefault(t *testing.T) {
	kb, err := Default()
	require.NoError(t, err)
	assert.Equal(t, "embedded", kb.Source())
	assert.Equal(t, "javax", kb.LegacyPrefix)

	e, ok := kb.Entry("javax.servlet", "javax.servlet-api")
	require.True(t, ok)
	assert.Equal(t, "jakarta.servlet:jakarta.servlet-api:6.0.0", e.TargetCoordinate("4.0.1"))
	assert.Equal(t, "jakarta.servlet:jakarta.servlet-api:5.0.0", e.TargetCoordinate("3.1.0"))

	f, ok := kb.Family("org.springframework.boot", "spring-boot-starter-web")
	require.True(t, ok)
	assert.Equal(t, "3.0.0", f.MinVersion)

	_, ok = kb.Family("org.glassfish.jersey.core", "jersey-server")
	assert.True(t, ok)
}

func TestPackageFor(t *testing.T) {
	kb, err := Default()
	require.NoError(t, err)

	p, ok := kb.PackageFor("javax.servlet.http.HttpServletRequest")
	require.True(t, ok)
	assert.Equal(t, "jakarta.servlet.http.HttpServletRequest", p.Rewrite("javax.servlet.http.HttpServletRequest"))
	assert.Equal(t, "jakarta.servlet:jakarta.servlet-api", p.Artifact)

	p, ok = kb.PackageFor("javax.servlet.jsp.PageContext")
	require.True(t, ok)
	assert.Equal(t, "javax.servlet.jsp", p.Legacy, "longest prefix wins")

	p, ok = kb.PackageFor("javax.annotation.processing.Processor")
	require.True(t, ok)
	assert.True(t, p.Retained())

	_, ok = kb.PackageFor("javax.sql.DataSource")
	assert.False(t, ok)

	p, ok = kb.PackageFor("javax.xml.rpc.Service")
	require.True(t, ok)
	assert.True(t, p.NoEquivalent)
	assert.False(t, p.Retained())
}

func TestURIFor(t *testing.T) {
	kb, err := Default()
	require.NoError(t, err)

	u, ok := kb.URIFor("http://xmlns.jcp.org/xml/ns/persistence/persistence_2_2.xsd")
	require.True(t, ok)
	assert.Equal(t, "https://jakarta.ee/xml/ns/persistence", u.Successor)
}

func TestParse_RejectsNewerSchema(t *testing.T) {
	_, err := Parse([]byte("schema_version = 2\n"), "toml")
	require.Error(t, err)
	assert.True(t, domainerrors.IsCode(err, domainerrors.CodeNotSupported))

	_, err = Parse([]byte("legacy_prefix = \"javax\"\n"), "toml")
	assert.True(t, domainerrors.IsCode(err, domainerrors.CodeValidationError))
}

func TestParse_Validation(t *testing.T) {
	cases := map[string]string{
		"bad level":      "schema_version = 1\n[[entries]]\nlegacy = \"a:b\"\nsuccessor = \"c:d\"\nlevel = \"easy\"\n",
		"no successor":   "schema_version = 1\n[[entries]]\nlegacy = \"a:b\"\nlevel = \"drop-in\"\n",
		"bad family":     "schema_version = 1\n[[families]]\nfamily = \"[\"\nmin_version = \"1.0\"\n",
		"bad minversion": "schema_version = 1\n[[families]]\nfamily = \"a:*\"\nmin_version = \"latest\"\n",
		"unknown key":    "schema_version = 1\nlegacy_prefx = \"javax\"\n",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(src), "toml")
			assert.Error(t, err)
		})
	}
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "compat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
schema_version: 1
legacy_prefix: legacy
successor_prefix: successor
entries:
  - legacy: legacy-lib:legacy-lib-api
    successor: successor-lib:successor-lib-api
    successor_version: 6.0.0
    level: minor-changes
    packages: [legacy.lib]
families:
  - family: "acme.framework:*"
    min_version: "3.0.0"
    description: acme framework 3 is successor-native
`), 0o644))

	kb, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, kb.Source())

	e, ok := kb.Entry("legacy-lib", "legacy-lib-api")
	require.True(t, ok)
	assert.Equal(t, "successor-lib:successor-lib-api:6.0.0", e.TargetCoordinate("4.0.1"))

	p, ok := kb.PackageFor("legacy.lib.Thing")
	require.True(t, ok)
	assert.Equal(t, "successor.lib.Thing", p.Rewrite("legacy.lib.Thing"))
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
	assert.True(t, domainerrors.IsCode(err, domainerrors.CodeNotFound))
}

func TestStore_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "compat.toml")
	write := func(level string) {
		src := "schema_version = 1\n[[entries]]\nlegacy = \"a:b\"\nsuccessor = \"c:d\"\nlevel = \"" + level + "\"\n"
		require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	}
	write("drop-in")

	s, err := NewStore(path)
	require.NoError(t, err)

	var reloaded *KnowledgeBase
	s.OnReload(func(kb *KnowledgeBase) { reloaded = kb })

	write("major-refactor")
	require.NoError(t, s.Reload())
	e, _ := s.Get().Entry("a", "b")
	assert.Equal(t, LevelMajorRefactor, e.Level)
	assert.Same(t, s.Get(), reloaded)

	write("bogus")
	assert.Error(t, s.Reload())
	e, _ = s.Get().Entry("a", "b")
	assert.Equal(t, LevelMajorRefactor, e.Level, "failed reload keeps the previous table")
}
