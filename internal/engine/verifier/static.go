package verifier

import (
	"archive/zip"
	"bufio"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"nsmigrate/internal/engine/classify"
	"nsmigrate/internal/engine/kb"
)

var jarVersion = regexp.MustCompile(`^(.+?)-(\d[\w.\-]*)$`)

// bundledArtifact is one dependency found inside or next to the artifact.
type bundledArtifact struct {
	artifact classify.Artifact
	origin   string
}

// staticCrossCheck inspects the declared classpath of artifact when runtime
// output gave nothing to classify: Class-Path manifest entries, embedded
// Maven pom.properties, nested library jars and explicit classpath entries.
func staticCrossCheck(artifact string, classpath []string, k *kb.KnowledgeBase) ([]Analysis, error) {
	var found []bundledArtifact
	if strings.HasSuffix(strings.ToLower(artifact), ".jar") {
		inner, err := readJar(artifact, k)
		if err != nil {
			return nil, err
		}
		found = append(found, inner...)
	}
	for _, entry := range classpath {
		if a, ok := artifactFromJarName(filepath.Base(entry), k); ok {
			found = append(found, bundledArtifact{artifact: a, origin: "classpath entry " + entry})
		}
	}

	seen := make(map[string]bool)
	var out []Analysis
	for _, b := range found {
		if seen[b.artifact.ID()] {
			continue
		}
		seen[b.artifact.ID()] = true
		c := classify.Classify(b.artifact, k)
		if c.State != classify.StateLegacy {
			continue
		}
		a := Analysis{
			Category:   CategoryStaticCrossCheck,
			RootCause:  fmt.Sprintf("%s on the declared classpath is a legacy-namespace artifact", b.artifact.ID()),
			Factors:    []string{b.origin, c.Reason},
			Confidence: 0.5,
			Artifact:   b.artifact.ID(),
		}
		switch {
		case c.Recommendation != nil:
			a.Remediation = c.Recommendation.Reason
		case c.Blocker != nil:
			a.Remediation = c.Blocker.Reason
			if len(c.Blocker.Mitigations) > 0 {
				a.Remediation += "; " + strings.Join(c.Blocker.Mitigations, "; ")
			}
		default:
			a.Remediation = "replace " + b.artifact.Key() + " with a successor-namespace artifact"
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Artifact < out[j].Artifact })
	return out, nil
}

func readJar(jarPath string, k *kb.KnowledgeBase) ([]bundledArtifact, error) {
	zr, err := zip.OpenReader(jarPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", jarPath, err)
	}
	defer zr.Close()

	var out []bundledArtifact
	for _, f := range zr.File {
		name := f.Name
		switch {
		case name == "META-INF/MANIFEST.MF":
			entries, err := readClassPath(f)
			if err != nil {
				return nil, err
			}
			for _, e := range entries {
				if a, ok := artifactFromJarName(path.Base(e), k); ok {
					out = append(out, bundledArtifact{artifact: a, origin: "Class-Path " + e})
				}
			}
		case strings.HasPrefix(name, "META-INF/maven/") && strings.HasSuffix(name, "/pom.properties"):
			a, err := readPomProperties(f)
			if err != nil {
				return nil, err
			}
			if a.Group != "" && a.Name != "" {
				out = append(out, bundledArtifact{artifact: a, origin: name})
			}
		case (strings.HasPrefix(name, "BOOT-INF/lib/") || strings.HasPrefix(name, "WEB-INF/lib/")) && strings.HasSuffix(name, ".jar"):
			if a, ok := artifactFromJarName(path.Base(name), k); ok {
				out = append(out, bundledArtifact{artifact: a, origin: name})
			}
		}
	}
	return out, nil
}

// readClassPath returns the Class-Path attribute, joining 72-byte
// continuation lines.
func readClassPath(f *zip.File) ([]string, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var (
		value   strings.Builder
		inAttr  bool
		scanner = bufio.NewScanner(io.LimitReader(rc, 1<<20))
	)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		switch {
		case strings.HasPrefix(line, " ") && inAttr:
			value.WriteString(line[1:])
		case strings.HasPrefix(line, "Class-Path:"):
			inAttr = true
			value.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "Class-Path:")))
		default:
			inAttr = false
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return strings.Fields(value.String()), nil
}

func readPomProperties(f *zip.File) (classify.Artifact, error) {
	rc, err := f.Open()
	if err != nil {
		return classify.Artifact{}, err
	}
	defer rc.Close()

	var a classify.Artifact
	scanner := bufio.NewScanner(io.LimitReader(rc, 1<<16))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "groupId":
			a.Group = strings.TrimSpace(value)
		case "artifactId":
			a.Name = strings.TrimSpace(value)
		case "version":
			a.Version = strings.TrimSpace(value)
		}
	}
	return a, scanner.Err()
}

// artifactFromJarName maps "name-version.jar" to a coordinate by finding a
// knowledge-base entry with the same artifact name.
func artifactFromJarName(base string, k *kb.KnowledgeBase) (classify.Artifact, bool) {
	stem := strings.TrimSuffix(base, path.Ext(base))
	name, version := stem, ""
	if m := jarVersion.FindStringSubmatch(stem); m != nil {
		name, version = m[1], m[2]
	}
	for _, e := range k.Entries {
		for _, coord := range []string{e.Legacy, e.Successor} {
			group, n, ok := strings.Cut(coord, ":")
			if ok && n == name {
				return classify.Artifact{Group: group, Name: name, Version: version}, true
			}
		}
	}
	return classify.Artifact{}, false
}
