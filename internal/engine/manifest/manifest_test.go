package manifest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePOM = `<?xml version="1.0" encoding="UTF-8"?>
<project xmlns="http://maven.apache.org/POM/4.0.0">
  <modelVersion>4.0.0</modelVersion>
  <parent>
    <groupId>com.acme</groupId>
    <artifactId>acme-parent</artifactId>
    <version>2.1.0</version>
  </parent>
  <artifactId>shop</artifactId>
  <properties>
    <servlet.version>4.0.1</servlet.version>
  </properties>
  <modules>
    <module>shop-api</module>
  </modules>
  <dependencyManagement>
    <dependencies>
      <dependency>
        <groupId>javax.xml.bind</groupId>
        <artifactId>jaxb-api</artifactId>
        <version>2.3.1</version>
        <scope>runtime</scope>
      </dependency>
    </dependencies>
  </dependencyManagement>
  <dependencies>
    <dependency>
      <groupId>javax.servlet</groupId>
      <artifactId>javax.servlet-api</artifactId>
      <version>${servlet.version}</version>
      <scope>provided</scope>
    </dependency>
    <dependency>
      <groupId>javax.xml.bind</groupId>
      <artifactId>jaxb-api</artifactId>
      <exclusions>
        <exclusion>
          <groupId>javax.activation</groupId>
          <artifactId>activation</artifactId>
        </exclusion>
      </exclusions>
    </dependency>
    <dependency>
      <groupId>${project.groupId}</groupId>
      <artifactId>shop-api</artifactId>
      <version>${project.version}</version>
    </dependency>
  </dependencies>
</project>
`

func TestParsePOM(t *testing.T) {
	m, err := Parse("shop/pom.xml", []byte(samplePOM))
	require.NoError(t, err)

	require.NotNil(t, m.Module)
	assert.Equal(t, "com.acme:shop:2.1.0", m.Module.Coordinate())
	require.NotNil(t, m.Parent)
	assert.Equal(t, "com.acme:acme-parent", m.Parent.Key())
	assert.Equal(t, []string{"shop-api"}, m.Modules)

	require.Len(t, m.Declarations, 3)
	servlet := m.Declarations[0]
	assert.Equal(t, "javax.servlet:javax.servlet-api:4.0.1", servlet.Coordinate())
	assert.Equal(t, "provided", servlet.Scope)
	assert.Equal(t, 27, servlet.Line)

	jaxb := m.Declarations[1]
	assert.Equal(t, "javax.xml.bind", jaxb.Group, "exclusion must not overwrite the dependency group")
	assert.Equal(t, "2.3.1", jaxb.Version)
	assert.Equal(t, "runtime", jaxb.Scope)

	assert.Equal(t, "com.acme:shop-api:2.1.0", m.Declarations[2].Coordinate())
	assert.Equal(t, DefaultScope, m.Declarations[2].Scope)
}

func TestParsePOM_Malformed(t *testing.T) {
	_, err := Parse("broken/pom.xml", []byte("<project>\n  <artifactId>x</artifactId>\n  <dependencies>\n"))
	require.Error(t, err)

	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "broken/pom.xml", perr.Path)
}

func TestResolveInheritance(t *testing.T) {
	parent, err := Parse("pom.xml", []byte(`<project>
  <groupId>com.acme</groupId>
  <artifactId>acme-parent</artifactId>
  <version>2.1.0</version>
  <properties><jaxrs.version>2.1.1</jaxrs.version></properties>
  <dependencyManagement><dependencies>
    <dependency><groupId>javax.validation</groupId><artifactId>validation-api</artifactId><version>2.0.1.Final</version></dependency>
  </dependencies></dependencyManagement>
</project>`))
	require.NoError(t, err)

	child, err := Parse("api/pom.xml", []byte(`<project>
  <parent><groupId>com.acme</groupId><artifactId>acme-parent</artifactId><version>2.1.0</version></parent>
  <artifactId>api</artifactId>
  <dependencies>
    <dependency><groupId>javax.validation</groupId><artifactId>validation-api</artifactId></dependency>
    <dependency><groupId>javax.ws.rs</groupId><artifactId>javax.ws.rs-api</artifactId><version>${jaxrs.version}</version></dependency>
  </dependencies>
</project>`))
	require.NoError(t, err)
	assert.Equal(t, "", child.Declarations[0].Version)

	ResolveInheritance([]*Manifest{parent, child})
	assert.Equal(t, "2.0.1.Final", child.Declarations[0].Version)
	assert.Equal(t, "2.1.1", child.Declarations[1].Version)
}

func TestParseGradle(t *testing.T) {
	src := `plugins { id 'java' }

group = 'com.acme'
version = '1.0.0'

ext {
    jaxbVersion = '2.3.1'
}

dependencies {
    implementation 'javax.servlet:javax.servlet-api:4.0.1'
    api("javax.ws.rs:javax.ws.rs-api:2.1.1")
    // implementation 'javax.mail:mail:1.4'
    runtimeOnly group: 'javax.xml.bind', name: 'jaxb-api', version: "$jaxbVersion"
    testImplementation(platform("org.junit:junit-bom:5.10.0"))
    customConfiguration 'ignored:thing:1.0'
}
`
	m, err := Parse("shop/build.gradle", []byte(src))
	require.NoError(t, err)
	require.NotNil(t, m.Module)
	assert.Equal(t, "com.acme:shop:1.0.0", m.Module.Coordinate())

	require.Len(t, m.Declarations, 4)
	assert.Equal(t, "javax.servlet:javax.servlet-api:4.0.1", m.Declarations[0].Coordinate())
	assert.Equal(t, 11, m.Declarations[0].Line)
	assert.Equal(t, "compile", m.Declarations[1].Scope)
	assert.Equal(t, "javax.xml.bind:jaxb-api:2.3.1", m.Declarations[2].Coordinate())
	assert.Equal(t, "runtime", m.Declarations[2].Scope)
	assert.Equal(t, "test", m.Declarations[3].Scope)
}

func TestParseGradleSettings(t *testing.T) {
	m, err := Parse("settings.gradle.kts", []byte("rootProject.name = \"shop\"\ninclude(\":api\", \":web:admin\")\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"api", "web/admin"}, m.Modules)
	assert.Empty(t, m.Declarations)
}

func TestParseCatalog(t *testing.T) {
	src := `[versions]
jakarta-servlet = "6.0.0"

[libraries]
servlet = { module = "jakarta.servlet:jakarta.servlet-api", version.ref = "jakarta-servlet" }
jaxb = { group = "javax.xml.bind", name = "jaxb-api", version = "2.3.1" }
mail = "javax.mail:mail:1.4.7"
`
	m, err := Parse("gradle/libs.versions.toml", []byte(src))
	require.NoError(t, err)
	require.Len(t, m.Declarations, 3)

	// aliases are sorted: jaxb, mail, servlet
	assert.Equal(t, "javax.xml.bind:jaxb-api:2.3.1", m.Declarations[0].Coordinate())
	assert.Equal(t, 6, m.Declarations[0].Line)
	assert.Equal(t, "javax.mail:mail:1.4.7", m.Declarations[1].Coordinate())
	assert.Equal(t, "jakarta.servlet:jakarta.servlet-api:6.0.0", m.Declarations[2].Coordinate())
}

func TestParseCatalog_Invalid(t *testing.T) {
	_, err := Parse("libs.versions.toml", []byte("[libraries]\nbad = \"nocolon\"\n"))
	require.Error(t, err)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 2, perr.Line)
}

func TestParseTree_Maven(t *testing.T) {
	src := `[INFO] com.acme:shop:war:1.0.0
[INFO] +- org.glassfish.jersey.core:jersey-server:jar:2.35:compile
[INFO] |  +- javax.ws.rs:javax.ws.rs-api:jar:2.1.1:compile
[INFO] |  \- (javax.annotation:javax.annotation-api:jar:1.3.2:compile - omitted for duplicate)
[INFO] \- javax.annotation:javax.annotation-api:jar:1.3.2:compile
`
	m, err := Parse("dependency-tree.txt", []byte(src))
	require.NoError(t, err)
	require.NotNil(t, m.Module)
	assert.Equal(t, "com.acme:shop:1.0.0", m.Module.Coordinate())

	require.Len(t, m.Declarations, 2)
	assert.Equal(t, "org.glassfish.jersey.core:jersey-server:2.35", m.Declarations[0].Coordinate())

	require.Len(t, m.Tree, 4)
	assert.Equal(t, "com.acme:shop:1.0.0", m.Tree[0].From.Coordinate())
	assert.Equal(t, "org.glassfish.jersey.core:jersey-server:2.35", m.Tree[1].From.Coordinate())
	assert.Equal(t, "javax.ws.rs:javax.ws.rs-api:2.1.1", m.Tree[1].To.Coordinate())
}

func TestParseTree_Gradle(t *testing.T) {
	src := `compileClasspath - Compile classpath for source set 'main'.
+--- org.springframework:spring-web:5.3.30
|    \--- org.springframework:spring-core:5.3.20 -> 5.3.30
\--- javax.servlet:javax.servlet-api:4.0.1

runtimeClasspath - Runtime classpath of source set 'main'.
+--- org.springframework:spring-web:5.3.30 (*)
\--- project :api
`
	m, err := Parse("build.deptree", []byte(src))
	require.NoError(t, err)
	assert.Nil(t, m.Module)
	require.Len(t, m.Declarations, 2)
	require.Len(t, m.Tree, 3)

	edge := m.Tree[1]
	assert.Equal(t, "org.springframework:spring-web:5.3.30", edge.From.Coordinate())
	assert.Equal(t, "org.springframework:spring-core:5.3.30", edge.To.Coordinate())
	assert.True(t, m.Tree[0].From.IsZero())
}

func TestDetect(t *testing.T) {
	cases := map[string]Format{
		"a/pom.xml":                 FormatMaven,
		"build.gradle.kts":          FormatGradle,
		"gradle/libs.versions.toml": FormatCatalog,
		"out/dependency-tree.txt":   FormatTree,
	}
	for path, want := range cases {
		got, ok := Detect(path)
		assert.True(t, ok, path)
		assert.Equal(t, want, got, path)
	}
	assert.False(t, IsManifest("src/Main.java"))
}
