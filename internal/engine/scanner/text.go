package scanner

import (
	"bufio"
	"bytes"
	"path"
	"regexp"
	"strings"

	"nsmigrate/internal/engine/kb"
)

var uriPattern = regexp.MustCompile(`https?://[^\s"'<>]+`)

// scanLines finds legacy package names and namespace URIs line by line. It
// serves every non-Java file.
func scanLines(relPath string, kind FileKind, data []byte, k *kb.KnowledgeBase) []Match {
	var matches []Match

	// META-INF/services/<legacy interface> must be renamed itself.
	if dir, base := path.Split(relPath); strings.HasSuffix(dir, "META-INF/services/") {
		if mapping, ok := k.PackageFor(base); ok && !mapping.Retained() {
			m := Match{Symbol: base, Legacy: base, Artifact: mapping.Artifact}
			if mapping.NoEquivalent {
				m.NoEquivalent = true
			} else {
				m.Successor = mapping.Rewrite(base)
			}
			matches = append(matches, m)
		}
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		text := sc.Text()

		for _, loc := range uriPattern.FindAllStringIndex(text, -1) {
			uri := text[loc[0]:loc[1]]
			if u, ok := k.URIFor(uri); ok {
				matches = append(matches, Match{
					Symbol:    u.Legacy,
					Line:      lineNo,
					Legacy:    uri,
					Successor: u.Successor + strings.TrimPrefix(uri, u.Legacy),
				})
			}
		}

		masked := uriPattern.ReplaceAllStringFunc(text, func(s string) string {
			return strings.Repeat(" ", len(s))
		})
		for _, loc := range dottedName.FindAllStringIndex(masked, -1) {
			tok := masked[loc[0]:loc[1]]
			mapping, ok := k.PackageFor(tok)
			if !ok || mapping.Retained() {
				continue
			}
			m := Match{
				Symbol:   tok,
				Line:     lineNo,
				Legacy:   tok,
				Artifact: mapping.Artifact,
				Dynamic:  kind == KindSource && insideQuotes(masked, loc[0]),
			}
			if mapping.NoEquivalent {
				m.NoEquivalent = true
			} else {
				m.Successor = mapping.Rewrite(tok)
			}
			matches = append(matches, m)
		}
	}
	return matches
}

func insideQuotes(line string, pos int) bool {
	return strings.Count(line[:pos], `"`)%2 == 1
}
