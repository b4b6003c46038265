// Package graph holds the project dependency graph built from declared
// manifests, and the file reference graph used to order source files.
package graph

import (
	"encoding/json"
	"fmt"
	"sort"

	"nsmigrate/internal/shared/util"
)

type NodeKind string

const (
	KindRoot     NodeKind = "root"
	KindModule   NodeKind = "module"
	KindArtifact NodeKind = "artifact"
)

type Node struct {
	ID       string   `json:"id" yaml:"id"`
	Kind     NodeKind `json:"kind" yaml:"kind"`
	Group    string   `json:"group,omitempty" yaml:"group,omitempty"`
	Name     string   `json:"name" yaml:"name"`
	Version  string   `json:"version,omitempty" yaml:"version,omitempty"`
	Scope    string   `json:"scope,omitempty" yaml:"scope,omitempty"`
	Manifest string   `json:"manifest,omitempty" yaml:"manifest,omitempty"`
	Line     int      `json:"line,omitempty" yaml:"line,omitempty"`
}

func (n Node) Key() string {
	return n.Group + ":" + n.Name
}

type Edge struct {
	From       string `json:"from" yaml:"from"`
	To         string `json:"to" yaml:"to"`
	Scope      string `json:"scope,omitempty" yaml:"scope,omitempty"`
	Transitive bool   `json:"transitive,omitempty" yaml:"transitive,omitempty"`
	Manifest   string `json:"manifest,omitempty" yaml:"manifest,omitempty"`
}

// FileError records a manifest that could not be parsed.
type FileError struct {
	Path    string `json:"path" yaml:"path"`
	Line    int    `json:"line,omitempty" yaml:"line,omitempty"`
	Message string `json:"message" yaml:"message"`
}

func (e FileError) String() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Message)
	}
	return e.Path + ": " + e.Message
}

// Graph is immutable once returned by Builder.Build; re-analysis builds a
// new one.
type Graph struct {
	root   string
	nodes  map[string]Node
	out    map[string]map[string]Edge
	in     map[string]map[string]bool
	errors []FileError
}

func newGraph() *Graph {
	return &Graph{
		nodes: make(map[string]Node),
		out:   make(map[string]map[string]Edge),
		in:    make(map[string]map[string]bool),
	}
}

func (g *Graph) Root() string {
	return g.root
}

func (g *Graph) Node(id string) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

func (g *Graph) Len() int {
	return len(g.nodes)
}

func (g *Graph) EdgeCount() int {
	count := 0
	for _, targets := range g.out {
		count += len(targets)
	}
	return count
}

func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.nodes))
	for _, id := range util.SortedStringKeys(g.nodes) {
		out = append(out, g.nodes[id])
	}
	return out
}

// Artifacts returns the external artifact nodes sorted by ID.
func (g *Graph) Artifacts() []Node {
	var out []Node
	for _, n := range g.Nodes() {
		if n.Kind == KindArtifact {
			out = append(out, n)
		}
	}
	return out
}

func (g *Graph) Edges() []Edge {
	var out []Edge
	for _, from := range util.SortedStringKeys(g.out) {
		for _, to := range util.SortedStringKeys(g.out[from]) {
			out = append(out, g.out[from][to])
		}
	}
	return out
}

// Direct returns artifacts declared by the project root or any module.
func (g *Graph) Direct() []Node {
	seen := make(map[string]bool)
	var out []Node
	for _, n := range g.Nodes() {
		if n.Kind == KindArtifact {
			continue
		}
		for to := range g.out[n.ID] {
			target := g.nodes[to]
			if target.Kind == KindArtifact && !seen[to] {
				seen[to] = true
				out = append(out, target)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (g *Graph) Dependencies(id string) []string {
	return util.SortedStringKeys(g.out[id])
}

func (g *Graph) Dependents(id string) []string {
	return util.SortedStringKeys(g.in[id])
}

func (g *Graph) EdgeBetween(from, to string) (Edge, bool) {
	e, ok := g.out[from][to]
	return e, ok
}

// Versions returns every node sharing group and name, sorted by ID.
func (g *Graph) Versions(group, name string) []Node {
	var out []Node
	for _, n := range g.Nodes() {
		if n.Group == group && n.Name == name {
			out = append(out, n)
		}
	}
	return out
}

// PathFromRoot returns the shortest dependency chain from the root to id.
// Neighbors are visited in sorted order so the result is deterministic.
func (g *Graph) PathFromRoot(id string) ([]string, bool) {
	if _, ok := g.nodes[id]; !ok {
		return nil, false
	}
	if id == g.root {
		return []string{id}, true
	}

	queue := []string{g.root}
	visited := map[string]bool{g.root: true}
	prev := make(map[string]string)

	for len(queue) > 0 {
		curr := queue[0]
		queue = queue[1:]

		for _, next := range g.Dependencies(curr) {
			if visited[next] {
				continue
			}
			visited[next] = true
			prev[next] = curr

			if next == id {
				path := []string{id}
				for node := id; node != g.root; {
					node = prev[node]
					path = append(path, node)
				}
				for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
					path[i], path[j] = path[j], path[i]
				}
				return path, true
			}
			queue = append(queue, next)
		}
	}
	return nil, false
}

func (g *Graph) Errors() []FileError {
	return append([]FileError(nil), g.errors...)
}

// Partial reports whether any manifest failed to parse.
func (g *Graph) Partial() bool {
	return len(g.errors) > 0
}

type graphJSON struct {
	Root   string      `json:"root"`
	Nodes  []Node      `json:"nodes"`
	Edges  []Edge      `json:"edges"`
	Errors []FileError `json:"errors,omitempty"`
}

func (g *Graph) MarshalJSON() ([]byte, error) {
	return json.Marshal(graphJSON{
		Root:   g.root,
		Nodes:  g.Nodes(),
		Edges:  g.Edges(),
		Errors: g.errors,
	})
}

func (g *Graph) UnmarshalJSON(data []byte) error {
	var raw graphJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	fresh := newGraph()
	fresh.root = raw.Root
	for _, n := range raw.Nodes {
		fresh.nodes[n.ID] = n
	}
	for _, e := range raw.Edges {
		fresh.addEdge(e)
	}
	fresh.errors = raw.Errors
	*g = *fresh
	return nil
}

// MarshalYAML renders the same document shape as MarshalJSON.
func (g *Graph) MarshalYAML() (any, error) {
	return struct {
		Root   string      `yaml:"root"`
		Nodes  []Node      `yaml:"nodes"`
		Edges  []Edge      `yaml:"edges"`
		Errors []FileError `yaml:"errors,omitempty"`
	}{g.root, g.Nodes(), g.Edges(), g.errors}, nil
}

func (g *Graph) addEdge(e Edge) bool {
	if e.From == e.To {
		return false
	}
	if g.out[e.From] == nil {
		g.out[e.From] = make(map[string]Edge)
	}
	if _, exists := g.out[e.From][e.To]; exists {
		return false
	}
	g.out[e.From][e.To] = e
	if g.in[e.To] == nil {
		g.in[e.To] = make(map[string]bool)
	}
	g.in[e.To][e.From] = true
	return true
}
