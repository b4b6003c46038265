package scanner

import (
	"fmt"
	"path"
	"sync"

	sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_html "github.com/tree-sitter/tree-sitter-html/bindings/go"

	"nsmigrate/internal/engine/kb"
)

var markupExts = map[string]bool{".html": true, ".xhtml": true, ".jsp": true, ".jspx": true, ".tag": true}

var (
	htmlPoolOnce sync.Once
	htmlPool     *parserPool
)

func htmlParsers() *parserPool {
	htmlPoolOnce.Do(func() {
		htmlPool = newParserPool(sitter.NewLanguage(tree_sitter_html.Language()))
	})
	return htmlPool
}

func isMarkup(relPath string) bool {
	return markupExts[path.Ext(relPath)]
}

// scanMarkup line-scans a page after blanking its <!-- --> comments, so a
// commented-out taglib or xmlns declaration is not reported.
func scanMarkup(relPath string, kind FileKind, data []byte, k *kb.KnowledgeBase) ([]Match, error) {
	masked, err := maskComments(data)
	if err != nil {
		return nil, err
	}
	return scanLines(relPath, kind, masked, k), nil
}

// maskComments returns a copy of data with every comment byte except line
// breaks replaced by a space. Line numbers are preserved.
func maskComments(data []byte) ([]byte, error) {
	pool := htmlParsers()
	p := pool.get()
	defer pool.put(p)

	tree := p.Parse(data, nil)
	if tree == nil {
		return nil, fmt.Errorf("tree-sitter returned no tree")
	}
	defer tree.Close()

	out := make([]byte, len(data))
	copy(out, data)

	var visit func(n *sitter.Node)
	visit = func(n *sitter.Node) {
		if n.Kind() == "comment" {
			for i := n.StartByte(); i < n.EndByte() && int(i) < len(out); i++ {
				if out[i] != '\n' && out[i] != '\r' {
					out[i] = ' '
				}
			}
			return
		}
		for i := uint(0); i < n.ChildCount(); i++ {
			if c := n.Child(i); c != nil {
				visit(c)
			}
		}
	}
	visit(tree.RootNode())
	return out, nil
}
