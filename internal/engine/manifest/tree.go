package manifest

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"strings"
)

var (
	mavenLogPrefix = regexp.MustCompile(`^\[(INFO|DEBUG|WARNING)\]\s?`)
	treeMarker     = regexp.MustCompile(`(\+---|\\---|\+-|\\-) `)
	treeTrailer    = regexp.MustCompile(`\s+\((\*|c|n|optional|.*omitted.*)\)\s*$`)
)

// parseTree reads `mvn dependency:tree` or `gradle dependencies` output.
func parseTree(path string, data []byte) (*Manifest, error) {
	m := &Manifest{Path: path, Format: FormatTree}
	seenDirect := make(map[string]bool)
	seenEdge := make(map[string]bool)

	// stack[d] is the declaration at depth d; stack[0] is the module (zero for
	// gradle output).
	stack := []Declaration{{}}
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := mavenLogPrefix.ReplaceAllString(sc.Text(), "")
		if strings.TrimSpace(line) == "" {
			continue
		}

		loc := treeMarker.FindStringIndex(line)
		if loc == nil {
			// Maven prints the module itself as the unindented first entry.
			if m.Module == nil && len(m.Declarations) == 0 {
				if decl, ok := parseMavenCoordinate(strings.TrimSpace(line)); ok {
					decl.Scope = ""
					decl.Line = lineNo
					m.Module = &decl
					stack = []Declaration{decl}
				}
			}
			// Gradle configuration headers reset nesting.
			if m.Module == nil {
				stack = []Declaration{{}}
			}
			continue
		}

		markerLen := loc[1] - loc[0]
		unit := 3
		if markerLen > 3 {
			unit = 5
		}
		depth := loc[0]/unit + 1
		body := treeTrailer.ReplaceAllString(strings.TrimSpace(line[loc[1]:]), "")
		if strings.HasPrefix(body, "project ") {
			continue
		}
		if strings.HasPrefix(body, "(") {
			body, _, _ = strings.Cut(strings.TrimPrefix(body, "("), " - ")
		}

		var (
			decl Declaration
			ok   bool
		)
		if unit == 3 {
			decl, ok = parseMavenCoordinate(body)
		} else {
			decl, ok = parseGradleCoordinate(body)
		}
		if !ok {
			return nil, &ParseError{Path: path, Line: lineNo, Err: fmt.Errorf("unrecognized coordinate %q", body)}
		}
		decl.Line = lineNo

		if depth > len(stack) {
			return nil, &ParseError{Path: path, Line: lineNo, Err: fmt.Errorf("indentation skips a level")}
		}
		stack = append(stack[:depth], decl)
		from := stack[depth-1]

		key := from.Coordinate() + "->" + decl.Coordinate()
		if !seenEdge[key] {
			seenEdge[key] = true
			m.Tree = append(m.Tree, TreeEdge{From: from, To: decl})
		}
		if depth == 1 && !seenDirect[decl.Coordinate()] {
			seenDirect[decl.Coordinate()] = true
			m.Declarations = append(m.Declarations, decl)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, &ParseError{Path: path, Line: lineNo, Err: err}
	}
	return m, nil
}

// parseMavenCoordinate accepts g:a:type:v[:scope] and g:a:type:classifier:v:scope.
func parseMavenCoordinate(s string) (Declaration, bool) {
	s = strings.TrimSuffix(firstField(s), ",")
	parts := strings.Split(s, ":")
	var d Declaration
	switch len(parts) {
	case 4:
		d = Declaration{Group: parts[0], Name: parts[1], Version: parts[3], Scope: DefaultScope}
	case 5:
		d = Declaration{Group: parts[0], Name: parts[1], Version: parts[3], Scope: parts[4]}
	case 6:
		d = Declaration{Group: parts[0], Name: parts[1], Version: parts[4], Scope: parts[5]}
	default:
		return Declaration{}, false
	}
	if d.Group == "" || d.Name == "" {
		return Declaration{}, false
	}
	return d, true
}

// parseGradleCoordinate accepts g:a:v, g:a:v -> v2 and g:a -> v2.
func parseGradleCoordinate(s string) (Declaration, bool) {
	coord, resolved, hasArrow := strings.Cut(s, " -> ")
	parts := strings.Split(firstField(coord), ":")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Declaration{}, false
	}
	d := Declaration{Group: parts[0], Name: parts[1], Scope: DefaultScope}
	if len(parts) > 2 {
		d.Version = parts[2]
	}
	if hasArrow {
		d.Version = firstField(resolved)
	}
	return d, true
}

func firstField(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
