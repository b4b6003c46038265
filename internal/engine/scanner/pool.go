package scanner

import (
	"sync"
	"sync/atomic"

	sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_java "github.com/tree-sitter/tree-sitter-java/bindings/go"
)

// parserPool recycles tree-sitter parsers for one grammar. Safe for
// concurrent use.
type parserPool struct {
	lang   *sitter.Language
	pool   sync.Pool
	leased atomic.Int64
}

func newParserPool(lang *sitter.Language) *parserPool {
	p := &parserPool{lang: lang}
	p.pool = sync.Pool{
		New: func() any {
			sp := sitter.NewParser()
			_ = sp.SetLanguage(lang)
			return sp
		},
	}
	return p
}

var (
	javaPoolOnce sync.Once
	javaPool     *parserPool
)

func javaParsers() *parserPool {
	javaPoolOnce.Do(func() {
		javaPool = newParserPool(sitter.NewLanguage(tree_sitter_java.Language()))
	})
	return javaPool
}

func (p *parserPool) get() *sitter.Parser {
	sp := p.pool.Get().(*sitter.Parser)
	_ = sp.SetLanguage(p.lang)
	p.leased.Add(1)
	return sp
}

// put resets sp so it holds no reference to the previous tree.
func (p *parserPool) put(sp *sitter.Parser) {
	if sp == nil {
		return
	}
	p.leased.Add(-1)
	sp.Reset()
	p.pool.Put(sp)
}

// active reports parsers currently leased.
func (p *parserPool) active() int {
	return int(p.leased.Load())
}
