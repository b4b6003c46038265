package manifest

import (
	"bufio"
	"bytes"
	"path/filepath"
	"regexp"
	"strings"
)

var gradleScopes = map[string]string{
	"implementation":                "compile",
	"api":                           "compile",
	"compile":                       "compile",
	"compileOnly":                   "provided",
	"compileOnlyApi":                "provided",
	"providedCompile":               "provided",
	"annotationProcessor":           "provided",
	"kapt":                          "provided",
	"runtimeOnly":                   "runtime",
	"runtime":                       "runtime",
	"providedRuntime":               "runtime",
	"testImplementation":            "test",
	"testCompileOnly":               "test",
	"testRuntimeOnly":               "test",
	"testCompile":                   "test",
	"testRuntime":                   "test",
	"integrationTestImplementation": "test",
}

var (
	gradleString  = regexp.MustCompile(`^\s*(\w+)\s*\(?\s*(?:(?:enforced)?[pP]latform\s*\(\s*)?["']([^"':\s]+):([^"':\s]+)(?::([^"'@\s]+))?(?:@\w+)?["']`)
	gradleMap     = regexp.MustCompile(`^\s*(\w+)\s*\(?\s*group\s*[:=]\s*["']([^"']+)["']\s*,\s*name\s*[:=]\s*["']([^"']+)["'](?:\s*,\s*version\s*[:=]\s*["']([^"']+)["'])?`)
	gradleAssign  = regexp.MustCompile(`^\s*(?:def\s+|val\s+|var\s+|ext\.|extra\[")?\s*(\w+)"?\]?\s*=\s*["']([^"'$]+)["']`)
	gradleVarRef  = regexp.MustCompile(`\$\{?(\w+)\}?`)
	gradleProp    = regexp.MustCompile(`^\s*(group|version)\s*=\s*["']([^"']+)["']`)
	gradleInclude = regexp.MustCompile(`["']:?([^"']+)["']`)
)

func parseGradle(path string, data []byte) (*Manifest, error) {
	m := &Manifest{Path: path, Format: FormatGradle}
	vars := make(map[string]string)
	module := Declaration{Name: filepath.Base(filepath.Dir(path))}

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	inBlockComment := false
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if inBlockComment {
			if idx := strings.Index(line, "*/"); idx >= 0 {
				line = line[idx+2:]
				inBlockComment = false
			} else {
				continue
			}
		}
		if idx := strings.Index(line, "/*"); idx >= 0 && !strings.Contains(line[idx:], "*/") {
			line = line[:idx]
			inBlockComment = true
		}
		if strings.HasPrefix(strings.TrimSpace(line), "//") {
			continue
		}

		if sub := gradleProp.FindStringSubmatch(line); sub != nil {
			if sub[1] == "group" {
				module.Group = sub[2]
			} else {
				module.Version = sub[2]
			}
			continue
		}
		if sub := gradleString.FindStringSubmatch(line); sub != nil {
			if scope, ok := gradleScopes[sub[1]]; ok {
				m.Declarations = append(m.Declarations, Declaration{
					Group:   sub[2],
					Name:    sub[3],
					Version: expandGradleVars(sub[4], vars),
					Scope:   scope,
					Line:    lineNo,
				})
				continue
			}
		}
		if sub := gradleMap.FindStringSubmatch(line); sub != nil {
			if scope, ok := gradleScopes[sub[1]]; ok {
				m.Declarations = append(m.Declarations, Declaration{
					Group:   sub[2],
					Name:    sub[3],
					Version: expandGradleVars(sub[4], vars),
					Scope:   scope,
					Line:    lineNo,
				})
				continue
			}
		}
		if sub := gradleAssign.FindStringSubmatch(line); sub != nil {
			vars[sub[1]] = sub[2]
		}
	}
	if err := sc.Err(); err != nil {
		return nil, &ParseError{Path: path, Line: lineNo, Err: err}
	}

	if module.Group != "" {
		m.Module = &module
	}
	return m, nil
}

func expandGradleVars(value string, vars map[string]string) string {
	if !strings.Contains(value, "$") {
		return value
	}
	return gradleVarRef.ReplaceAllStringFunc(value, func(ref string) string {
		name := strings.Trim(ref, "${}")
		if v, ok := vars[name]; ok {
			return v
		}
		return ref
	})
}

func parseGradleSettings(path string, data []byte) *Manifest {
	m := &Manifest{Path: path, Format: FormatGradleSettings}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "include") {
			continue
		}
		for _, sub := range gradleInclude.FindAllStringSubmatch(line, -1) {
			m.Modules = append(m.Modules, strings.ReplaceAll(sub[1], ":", "/"))
		}
	}
	return m
}
