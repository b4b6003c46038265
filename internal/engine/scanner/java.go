package scanner

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	sitter "github.com/tree-sitter/go-tree-sitter"

	"nsmigrate/internal/engine/kb"
)

type javaImport struct {
	Name     string
	Static   bool
	Wildcard bool
	Line     int
}

// javaFile is what one Java compilation unit contributes to the scan.
type javaFile struct {
	Package  string
	Types    []string
	Imports  []javaImport
	TypeRefs map[string]bool
	// Qualified holds fully qualified names used outside imports.
	Qualified map[string]bool
	Matches   []Match
	HasError  bool
}

var dottedName = regexp.MustCompile(`[A-Za-z_$][\w$]*(?:\.[A-Za-z_$][\w$]*)+`)

func parseJava(source []byte, k *kb.KnowledgeBase) (*javaFile, error) {
	pool := javaParsers()
	p := pool.get()
	defer pool.put(p)

	tree := p.Parse(source, nil)
	if tree == nil {
		return nil, fmt.Errorf("tree-sitter returned no tree")
	}
	defer tree.Close()

	root := tree.RootNode()
	jf := &javaFile{
		TypeRefs:  make(map[string]bool),
		Qualified: make(map[string]bool),
		HasError:  root.HasError(),
	}
	w := &javaWalker{src: source, kb: k, file: jf}
	w.walk(root)
	return jf, nil
}

type javaWalker struct {
	src  []byte
	kb   *kb.KnowledgeBase
	file *javaFile
}

func (w *javaWalker) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return string(w.src[n.StartByte():n.EndByte()])
}

func line(n *sitter.Node) int {
	return int(n.StartPosition().Row) + 1
}

func (w *javaWalker) walk(n *sitter.Node) {
	if n == nil {
		return
	}
	switch n.Kind() {
	case "package_declaration":
		w.file.Package = compact(w.text(nameChild(n)))
		return
	case "import_declaration":
		w.importDecl(n)
		return
	case "class_declaration", "interface_declaration", "enum_declaration", "record_declaration", "annotation_type_declaration":
		if parent := n.Parent(); parent != nil && parent.Kind() == "program" {
			if name := n.ChildByFieldName("name"); name != nil {
				w.file.Types = append(w.file.Types, w.text(name))
			}
		}
	case "type_identifier":
		w.file.TypeRefs[w.text(n)] = true
		return
	case "identifier":
		// Static calls such as Helper.run() name the type as a plain identifier.
		if name := w.text(n); name != "" && unicode.IsUpper(rune(name[0])) {
			w.file.TypeRefs[name] = true
		}
		return
	case "scoped_type_identifier", "scoped_identifier", "field_access":
		if w.qualified(n) {
			return
		}
	case "string_literal":
		w.stringLiteral(n)
		return
	case "line_comment", "block_comment":
		return
	}
	for i := uint(0); i < n.ChildCount(); i++ {
		w.walk(n.Child(i))
	}
}

func nameChild(n *sitter.Node) *sitter.Node {
	for i := uint(0); i < n.ChildCount(); i++ {
		c := n.Child(i)
		if c.Kind() == "scoped_identifier" || c.Kind() == "identifier" {
			return c
		}
	}
	return nil
}

func (w *javaWalker) importDecl(n *sitter.Node) {
	imp := javaImport{Line: line(n)}
	for i := uint(0); i < n.ChildCount(); i++ {
		c := n.Child(i)
		switch c.Kind() {
		case "static":
			imp.Static = true
		case "asterisk":
			imp.Wildcard = true
		case "scoped_identifier", "identifier":
			imp.Name = compact(w.text(c))
		}
	}
	if imp.Name == "" {
		return
	}
	w.file.Imports = append(w.file.Imports, imp)

	mapping, ok := w.kb.PackageFor(imp.Name)
	if !ok || mapping.Retained() {
		return
	}
	legacy := strings.Join(strings.Fields(w.text(n)), " ")
	m := Match{
		Symbol:   imp.Name,
		Line:     imp.Line,
		Legacy:   legacy,
		Artifact: mapping.Artifact,
	}
	if mapping.NoEquivalent {
		m.NoEquivalent = true
	} else {
		m.Successor = strings.Replace(legacy, imp.Name, mapping.Rewrite(imp.Name), 1)
	}
	w.file.Matches = append(w.file.Matches, m)
}

// qualified records a dotted name used in code. It reports true when the
// name was a legacy reference, so the caller does not descend into it.
func (w *javaWalker) qualified(n *sitter.Node) bool {
	name := compact(w.text(n))
	if !strings.Contains(name, ".") {
		return false
	}
	w.file.Qualified[name] = true

	mapping, ok := w.kb.PackageFor(name)
	if !ok || mapping.Retained() {
		return false
	}
	m := Match{Symbol: name, Line: line(n), Legacy: name, Artifact: mapping.Artifact}
	if mapping.NoEquivalent {
		m.NoEquivalent = true
	} else {
		m.Successor = mapping.Rewrite(name)
	}
	w.file.Matches = append(w.file.Matches, m)
	return true
}

// stringLiteral flags legacy names hidden in strings, typically reflective
// lookups or configuration keys. These are marked dynamic.
func (w *javaWalker) stringLiteral(n *sitter.Node) {
	value := w.text(n)
	for _, tok := range dottedName.FindAllString(value, -1) {
		mapping, ok := w.kb.PackageFor(tok)
		if !ok || mapping.Retained() {
			continue
		}
		m := Match{Symbol: tok, Line: line(n), Legacy: tok, Dynamic: true, Artifact: mapping.Artifact}
		if mapping.NoEquivalent {
			m.NoEquivalent = true
		} else {
			m.Successor = mapping.Rewrite(tok)
		}
		w.file.Matches = append(w.file.Matches, m)
	}
}

func compact(s string) string {
	return strings.Join(strings.Fields(s), "")
}
