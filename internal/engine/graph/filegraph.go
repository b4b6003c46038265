package graph

import (
	"sort"

	"nsmigrate/internal/shared/util"
)

// FileGraph is a directed reference graph between project files; an edge
// from -> to means from depends on to.
type FileGraph struct {
	nodes map[string]bool
	out   map[string]map[string]bool
	in    map[string]map[string]bool
}

func NewFileGraph() *FileGraph {
	return &FileGraph{
		nodes: make(map[string]bool),
		out:   make(map[string]map[string]bool),
		in:    make(map[string]map[string]bool),
	}
}

func (f *FileGraph) AddNode(path string) {
	f.nodes[path] = true
}

func (f *FileGraph) AddEdge(from, to string) {
	f.AddNode(from)
	f.AddNode(to)
	if from == to {
		return
	}
	if f.out[from] == nil {
		f.out[from] = make(map[string]bool)
	}
	f.out[from][to] = true
	if f.in[to] == nil {
		f.in[to] = make(map[string]bool)
	}
	f.in[to][from] = true
}

func (f *FileGraph) Has(path string) bool {
	return f.nodes[path]
}

func (f *FileGraph) Nodes() []string {
	return util.SortedStringKeys(f.nodes)
}

func (f *FileGraph) DependsOn(path string) []string {
	return util.SortedStringKeys(f.out[path])
}

func (f *FileGraph) Dependents(path string) []string {
	return util.SortedStringKeys(f.in[path])
}

// InDegree is the number of files that depend on path.
func (f *FileGraph) InDegree(path string) int {
	return len(f.in[path])
}

// Contract keeps only nodes accepted by keep. Dependencies that pass through
// dropped nodes are preserved as direct edges.
func (f *FileGraph) Contract(keep func(string) bool) *FileGraph {
	out := NewFileGraph()
	for _, n := range f.Nodes() {
		if !keep(n) {
			continue
		}
		out.AddNode(n)

		visited := map[string]bool{n: true}
		stack := f.DependsOn(n)
		for len(stack) > 0 {
			next := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if visited[next] {
				continue
			}
			visited[next] = true
			if keep(next) {
				out.AddEdge(n, next)
				continue
			}
			stack = append(stack, f.DependsOn(next)...)
		}
	}
	return out
}

// StronglyConnected returns the strongly connected components using
// Tarjan's algorithm. Each component is sorted, and components are returned
// in dependency order: a component appears after every component it
// depends on.
func (f *FileGraph) StronglyConnected() [][]string {
	index := 0
	indices := make(map[string]int)
	lowlink := make(map[string]int)
	onStack := make(map[string]bool)
	var stack []string
	var components [][]string

	var strongConnect func(v string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range f.DependsOn(v) {
			if _, seen := indices[w]; !seen {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var comp []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				comp = append(comp, w)
				if w == v {
					break
				}
			}
			sort.Strings(comp)
			components = append(components, comp)
		}
	}

	for _, n := range f.Nodes() {
		if _, seen := indices[n]; !seen {
			strongConnect(n)
		}
	}
	return components
}

// Cycles returns the components with more than one file.
func (f *FileGraph) Cycles() [][]string {
	var cycles [][]string
	for _, comp := range f.StronglyConnected() {
		if len(comp) > 1 {
			cycles = append(cycles, comp)
		}
	}
	return cycles
}

// Component is a strongly connected component placed at a level of the
// condensation: level 0 depends on nothing, level n depends only on lower
// levels.
type Component struct {
	Files []string
	Level int
}

func (c Component) IsCycle() bool {
	return len(c.Files) > 1
}

func (f *FileGraph) Condensation() []Component {
	sccs := f.StronglyConnected()
	owner := make(map[string]int, len(f.nodes))
	for i, comp := range sccs {
		for _, file := range comp {
			owner[file] = i
		}
	}

	// Tarjan emits dependencies first, so one forward pass settles levels.
	levels := make([]int, len(sccs))
	for i, comp := range sccs {
		for _, file := range comp {
			for _, dep := range f.DependsOn(file) {
				j := owner[dep]
				if j != i && levels[j]+1 > levels[i] {
					levels[i] = levels[j] + 1
				}
			}
		}
	}

	out := make([]Component, len(sccs))
	for i, comp := range sccs {
		out[i] = Component{Files: comp, Level: levels[i]}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level < out[j].Level
		}
		return out[i].Files[0] < out[j].Files[0]
	})
	return out
}
