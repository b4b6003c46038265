package planner

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"nsmigrate/internal/engine/classify"
	"nsmigrate/internal/engine/graph"
	"nsmigrate/internal/engine/manifest"
	"nsmigrate/internal/engine/scanner"
	"nsmigrate/internal/shared/util"
)

// Input is everything the planner consumes from an analysis run.
type Input struct {
	Root       string
	Graph      *graph.Graph
	Report     classify.Report
	Usages     []scanner.FileUsage
	References map[string][]string
	// Unresolved sources have unknown references and migrate in the last
	// tier of phase 3.
	Unresolved []string
}

// Scorer orders files inside a phase or tier. Lower scores run first and
// ties break on path.
type Scorer interface {
	Score(f FileAction) float64
}

// InDegreeScorer runs the least depended-on files first.
type InDegreeScorer struct{}

func (InDegreeScorer) Score(f FileAction) float64 {
	return float64(f.InDegree)
}

type Options struct {
	HighRiskBlockerDensity float64
	MediumRiskFiles        int
	HighRiskMaxBatch       int
	Scorer                 Scorer
}

func DefaultOptions() Options {
	return Options{
		HighRiskBlockerDensity: 0.2,
		MediumRiskFiles:        50,
		HighRiskMaxBatch:       4,
		Scorer:                 InDegreeScorer{},
	}
}

type Builder struct {
	opts Options
}

func New(opts Options) *Builder {
	def := DefaultOptions()
	if opts.HighRiskBlockerDensity <= 0 {
		opts.HighRiskBlockerDensity = def.HighRiskBlockerDensity
	}
	if opts.MediumRiskFiles <= 0 {
		opts.MediumRiskFiles = def.MediumRiskFiles
	}
	if opts.HighRiskMaxBatch <= 0 {
		opts.HighRiskMaxBatch = def.HighRiskMaxBatch
	}
	if opts.Scorer == nil {
		opts.Scorer = def.Scorer
	}
	return &Builder{opts: opts}
}

// Build computes a plan. It is deterministic: equal inputs produce equal
// plans, including file order and ID.
func (b *Builder) Build(in Input) (*Plan, error) {
	if in.Graph == nil {
		return nil, fmt.Errorf("planner: analysis has no dependency graph")
	}
	plan := &Plan{
		Project:  in.Root,
		Blockers: sortedBlockers(in.Report.Blockers),
	}

	manifests, unattached := b.manifestFiles(in, plan.Blockers)
	if unattached > 0 {
		plan.Warnings = append(plan.Warnings, fmt.Sprintf("%d blocker(s) concern artifacts not declared in an editable manifest", unattached))
	}

	var sources, later []FileAction
	for _, u := range in.Usages {
		fa := usageFile(u)
		switch u.Kind {
		case scanner.KindManifest:
			manifests = mergeFile(manifests, fa)
		case scanner.KindSource:
			sources = append(sources, fa)
		default:
			later = append(later, fa)
		}
		if fa.Dynamic {
			plan.Warnings = append(plan.Warnings, fmt.Sprintf("%s: dynamic legacy references need manual review", u.Path))
		}
	}

	refs := graph.NewFileGraph()
	for _, from := range util.SortedStringKeys(in.References) {
		refs.AddNode(from)
		for _, to := range in.References[from] {
			refs.AddEdge(from, to)
		}
	}
	migrating := make(map[string]bool, len(sources))
	for _, f := range sources {
		migrating[f.Path] = true
		refs.AddNode(f.Path)
	}
	contracted := refs.Contract(func(p string) bool { return migrating[p] })

	levels := make(map[string]int)
	cycles := make(map[string]int)
	for i, comp := range contracted.Condensation() {
		for _, f := range comp.Files {
			levels[f] = comp.Level
			if comp.IsCycle() {
				cycles[f] = i + 1
			}
		}
	}

	unresolved := make(map[string]bool, len(in.Unresolved))
	for _, p := range in.Unresolved {
		unresolved[p] = true
	}
	deepest := 0
	for _, l := range levels {
		deepest = max(deepest, l)
	}

	var leaf, inner []FileAction
	for _, f := range sources {
		f.DependsOn = contracted.DependsOn(f.Path)
		f.InDegree = contracted.InDegree(f.Path)
		switch {
		case unresolved[f.Path]:
			f.Tier = deepest + 1
			f.Unresolved = true
		case len(f.DependsOn) == 0:
			leaf = append(leaf, f)
			continue
		default:
			f.Tier = levels[f.Path]
			f.Cycle = cycles[f.Path] != 0
		}
		inner = append(inner, f)
	}
	for i := range later {
		later[i].InDegree = refs.InDegree(later[i].Path)
	}

	plan.Phases = []Phase{
		b.flatPhase(PhaseManifests, manifests),
		b.flatPhase(PhaseLeafSources, leaf),
		b.tieredPhase(inner, cycles),
		b.flatPhase(PhaseConfigAndTest, later),
	}
	if unattached > 0 && plan.Phases[0].Risk == RiskLow {
		plan.Phases[0].Risk = RiskMedium
		plan.Phases[0].RiskReasons = append(plan.Phases[0].RiskReasons, fmt.Sprintf("%d blocker(s) not tied to a declared dependency", unattached))
	}
	sort.Strings(plan.Warnings)

	id, err := digest(plan)
	if err != nil {
		return nil, err
	}
	plan.ID = id
	slog.Debug("plan built", "id", plan.ID, "files", plan.FileCount(), "blockers", len(plan.Blockers))
	return plan, nil
}

// Replan merges verifier-derived blockers into the analysis and rebuilds the
// plan from scratch.
func (b *Builder) Replan(in Input, findings []classify.Blocker) (*Plan, error) {
	merged := append([]classify.Blocker(nil), in.Report.Blockers...)
	seen := make(map[string]bool, len(merged))
	for _, bl := range merged {
		seen[blockerKey(bl)] = true
	}
	for _, bl := range findings {
		if seen[blockerKey(bl)] {
			continue
		}
		seen[blockerKey(bl)] = true
		merged = append(merged, bl)
	}
	in.Report.Blockers = merged
	return b.Build(in)
}

func blockerKey(b classify.Blocker) string {
	return b.Artifact + "|" + string(b.Kind) + "|" + b.Reason
}

func sortedBlockers(in []classify.Blocker) []classify.Blocker {
	out := append([]classify.Blocker(nil), in...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Artifact != out[j].Artifact {
			return out[i].Artifact < out[j].Artifact
		}
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Reason < out[j].Reason
	})
	if out == nil {
		out = []classify.Blocker{}
	}
	return out
}

// manifestFiles derives coordinate edits from direct declarations. Blockers
// attach to a declaration by artifact or by the successor they point to; a
// runtime blocker whose successor nothing declares becomes an add action in
// the primary manifest. It also returns how many blockers stayed unattached.
func (b *Builder) manifestFiles(in Input, blockers []classify.Blocker) ([]FileAction, int) {
	byArtifact := make(map[string][]classify.Blocker)
	byTarget := make(map[string][]classify.Blocker)
	for _, bl := range blockers {
		byArtifact[bl.Artifact] = append(byArtifact[bl.Artifact], bl)
		if bl.Target != "" {
			byTarget[coordinateKey(bl.Target)] = append(byTarget[coordinateKey(bl.Target)], bl)
		}
	}
	attached := make(map[string]bool)
	declared := make(map[string]bool)

	files := make(map[string]*FileAction)
	fileFor := func(path string) *FileAction {
		fa := files[path]
		if fa == nil {
			fa = &FileAction{Path: path, Kind: scanner.KindManifest}
			files[path] = fa
		}
		return fa
	}
	var editable []string
	seen := make(map[string]bool)
	for _, e := range in.Graph.Edges() {
		if e.Transitive || e.Manifest == "" {
			continue
		}
		if format, ok := manifest.Detect(e.Manifest); !ok || format == manifest.FormatTree {
			continue
		}
		node, ok := in.Graph.Node(e.To)
		if !ok || node.Kind != graph.KindArtifact {
			continue
		}
		path := relPath(in.Root, e.Manifest)
		if !seen[path] {
			seen[path] = true
			editable = append(editable, path)
		}
		declared[node.Key()] = true
		if seen[path+"|"+node.ID] {
			continue
		}
		seen[path+"|"+node.ID] = true

		a := classify.FromNode(node)
		c, _ := in.Report.Lookup(a.ID())
		nodeBlockers := append(append([]classify.Blocker(nil), byArtifact[a.ID()]...), byArtifact[a.Key()]...)
		if c.Recommendation != nil {
			for _, bl := range byTarget[coordinateKey(c.Recommendation.Target)] {
				if bl.Artifact != a.ID() && bl.Artifact != a.Key() {
					nodeBlockers = append(nodeBlockers, bl)
				}
			}
		}
		for _, bl := range nodeBlockers {
			attached[blockerKey(bl)] = true
		}

		action := Action{Kind: ActionCoordinate, Symbol: a.Key(), Before: a.ID()}
		if node.Manifest == e.Manifest {
			action.Line = node.Line
		}
		switch {
		case c.Recommendation != nil:
			action.After = c.Recommendation.Target
			action.Note = c.Recommendation.Reason
		case len(nodeBlockers) > 0 && nodeBlockers[0].Target != "":
			action.After = nodeBlockers[0].Target
			action.Note = nodeBlockers[0].Reason
		case len(nodeBlockers) > 0:
			action.NoEquivalent = nodeBlockers[0].Kind == classify.BlockerNoEquivalent
			action.Note = nodeBlockers[0].Reason
		default:
			continue
		}
		action.Note = withFindings(action.Note, nodeBlockers)

		fa := fileFor(path)
		fa.Actions = append(fa.Actions, action)
		fa.Blockers += len(nodeBlockers)
	}

	// A runtime finding naming a successor no manifest declares yet: the
	// fix is to declare it.
	primary := primaryManifest(editable)
	added := make(map[string]bool)
	for _, bl := range blockers {
		if attached[blockerKey(bl)] || bl.Finding == "" || bl.Target == "" || primary == "" {
			continue
		}
		key := coordinateKey(bl.Target)
		if declared[key] {
			continue
		}
		attached[blockerKey(bl)] = true
		fa := fileFor(primary)
		fa.Blockers++
		if added[key] {
			continue
		}
		added[key] = true
		fa.Actions = append(fa.Actions, Action{
			Kind:   ActionAddCoordinate,
			Symbol: key,
			After:  bl.Target,
			Note:   withFindings("declare "+bl.Target, []classify.Blocker{bl}),
		})
	}

	unattached := 0
	for _, bl := range blockers {
		if !attached[blockerKey(bl)] {
			unattached++
		}
	}

	out := make([]FileAction, 0, len(files))
	for _, p := range util.SortedStringKeys(files) {
		fa := *files[p]
		sort.SliceStable(fa.Actions, func(i, j int) bool {
			// Additions have no line and go last.
			li, lj := fa.Actions[i].Line, fa.Actions[j].Line
			if (fa.Actions[i].Kind == ActionAddCoordinate) != (fa.Actions[j].Kind == ActionAddCoordinate) {
				return fa.Actions[j].Kind == ActionAddCoordinate
			}
			if li != lj {
				return li < lj
			}
			if fa.Actions[i].Before != fa.Actions[j].Before {
				return fa.Actions[i].Before < fa.Actions[j].Before
			}
			return fa.Actions[i].After < fa.Actions[j].After
		})
		out = append(out, fa)
	}
	return out, unattached
}

// withFindings appends the reasons of runtime-confirmed blockers to note.
func withFindings(note string, blockers []classify.Blocker) string {
	var confirmed []string
	for _, bl := range blockers {
		if bl.Finding != "" {
			confirmed = append(confirmed, bl.Finding+": "+bl.Reason)
		}
	}
	if len(confirmed) == 0 {
		return note
	}
	sort.Strings(confirmed)
	if note == "" {
		return "verified " + strings.Join(confirmed, "; ")
	}
	return note + "; verified " + strings.Join(confirmed, "; ")
}

// primaryManifest is the shallowest editable manifest, ties broken by path.
func primaryManifest(paths []string) string {
	best := ""
	for _, p := range paths {
		if best == "" || strings.Count(p, "/") < strings.Count(best, "/") ||
			(strings.Count(p, "/") == strings.Count(best, "/") && p < best) {
			best = p
		}
	}
	return best
}

// coordinateKey trims a version from group:name[:version].
func coordinateKey(coord string) string {
	parts := strings.SplitN(coord, ":", 3)
	if len(parts) < 2 {
		return coord
	}
	return parts[0] + ":" + parts[1]
}

func usageFile(u scanner.FileUsage) FileAction {
	fa := FileAction{Path: u.Path, Kind: u.Kind}
	for _, m := range u.Matches {
		fa.Actions = append(fa.Actions, Action{
			Kind:         ActionSymbol,
			Symbol:       m.Symbol,
			Line:         m.Line,
			Before:       m.Legacy,
			After:        m.Successor,
			Dynamic:      m.Dynamic,
			NoEquivalent: m.NoEquivalent,
		})
		if m.Dynamic {
			fa.Dynamic = true
		}
		if m.NoEquivalent {
			fa.Blockers++
		}
	}
	return fa
}

func mergeFile(files []FileAction, fa FileAction) []FileAction {
	for i := range files {
		if files[i].Path == fa.Path {
			files[i].Actions = append(files[i].Actions, fa.Actions...)
			files[i].Blockers += fa.Blockers
			files[i].Dynamic = files[i].Dynamic || fa.Dynamic
			return files
		}
	}
	files = append(files, fa)
	sort.SliceStable(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files
}

func relPath(root, p string) string {
	if root != "" && filepath.IsAbs(p) {
		if rel, err := filepath.Rel(root, p); err == nil && !strings.HasPrefix(rel, "..") {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.ToSlash(p)
}

func (b *Builder) order(files []FileAction) {
	sort.SliceStable(files, func(i, j int) bool {
		si, sj := b.opts.Scorer.Score(files[i]), b.opts.Scorer.Score(files[j])
		if si != sj {
			return si < sj
		}
		return files[i].Path < files[j].Path
	})
}

func newPhase(number int) Phase {
	prereqs := make([]int, 0, number-1)
	for i := 1; i < number; i++ {
		prereqs = append(prereqs, i)
	}
	return Phase{
		Number:        number,
		Description:   phaseDescriptions[number],
		Files:         []FileAction{},
		Batches:       []Batch{},
		Prerequisites: prereqs,
		Risk:          RiskLow,
	}
}

func (b *Builder) flatPhase(number int, files []FileAction) Phase {
	ph := newPhase(number)
	if len(files) == 0 {
		return ph
	}
	files = append([]FileAction(nil), files...)
	b.order(files)
	ph.Files = files
	ph.Risk, ph.RiskReasons = b.assess(files)
	ph.BatchSize = b.batchSize(len(files), ph.Risk)
	for start := 0; start < len(files); start += ph.BatchSize {
		end := min(start+ph.BatchSize, len(files))
		batch := Batch{}
		for _, f := range files[start:end] {
			batch.Files = append(batch.Files, f.Path)
		}
		ph.Batches = append(ph.Batches, batch)
	}
	return ph
}

// tieredPhase orders files by condensation level. A cycle is a single
// batch with its files in path order.
func (b *Builder) tieredPhase(files []FileAction, cycles map[string]int) Phase {
	ph := newPhase(PhaseSources)
	if len(files) == 0 {
		return ph
	}
	ph.Risk, ph.RiskReasons = b.assess(files)

	byLevel := make(map[int][]FileAction)
	for _, f := range files {
		byLevel[f.Tier] = append(byLevel[f.Tier], f)
	}
	levels := make([]int, 0, len(byLevel))
	for l := range byLevel {
		levels = append(levels, l)
	}
	sort.Ints(levels)

	largest := 0
	for tier, level := range levels {
		units := b.units(byLevel[level], cycles)
		for _, unit := range units {
			if len(unit) > 1 {
				largest = max(largest, len(unit))
			}
		}
		size := b.batchSize(len(byLevel[level]), ph.Risk)
		var pending []string
		flush := func() {
			if len(pending) > 0 {
				ph.Batches = append(ph.Batches, Batch{Files: pending, Tier: tier + 1})
				pending = nil
			}
		}
		for _, unit := range units {
			for _, f := range unit {
				f.Tier = tier + 1
				ph.Files = append(ph.Files, f)
			}
			if len(unit) > 1 {
				flush()
				ph.Batches = append(ph.Batches, Batch{Files: unitPaths(unit), Tier: tier + 1, Cycle: true})
				continue
			}
			pending = append(pending, unit[0].Path)
			if len(pending) >= size {
				flush()
			}
		}
		flush()
		ph.BatchSize = max(ph.BatchSize, size)
	}
	if largest > 0 {
		ph.RiskReasons = append(ph.RiskReasons, fmt.Sprintf("reference cycle of %d files migrates as one batch", largest))
	}
	return ph
}

// units groups a tier into single files and whole cycles, ordered by score.
func (b *Builder) units(files []FileAction, cycles map[string]int) [][]FileAction {
	grouped := make(map[int][]FileAction)
	var units [][]FileAction
	for _, f := range files {
		if id := cycles[f.Path]; id != 0 {
			grouped[id] = append(grouped[id], f)
			continue
		}
		units = append(units, []FileAction{f})
	}
	for _, members := range grouped {
		sort.Slice(members, func(i, j int) bool { return members[i].Path < members[j].Path })
		units = append(units, members)
	}
	score := func(unit []FileAction) float64 {
		s := b.opts.Scorer.Score(unit[0])
		for _, f := range unit[1:] {
			s = min(s, b.opts.Scorer.Score(f))
		}
		return s
	}
	sort.SliceStable(units, func(i, j int) bool {
		si, sj := score(units[i]), score(units[j])
		if si != sj {
			return si < sj
		}
		return units[i][0].Path < units[j][0].Path
	})
	return units
}

func unitPaths(unit []FileAction) []string {
	out := make([]string, len(unit))
	for i, f := range unit {
		out[i] = f.Path
	}
	return out
}

func (b *Builder) assess(files []FileAction) (Risk, []string) {
	var reasons []string
	dynamic, blocked, blockers, unresolved := 0, 0, 0, 0
	for _, f := range files {
		if f.Dynamic {
			dynamic++
		}
		if f.Unresolved {
			unresolved++
		}
		if f.Blockers > 0 {
			blocked++
			blockers += f.Blockers
		}
	}
	density := float64(blocked) / float64(len(files))

	risk := RiskLow
	if blockers > 0 {
		risk = RiskMedium
		reasons = append(reasons, fmt.Sprintf("%d blocker(s) in %d file(s)", blockers, blocked))
	}
	if len(files) > b.opts.MediumRiskFiles {
		risk = RiskMedium
		reasons = append(reasons, fmt.Sprintf("%d files exceed %d", len(files), b.opts.MediumRiskFiles))
	}
	if unresolved > 0 {
		risk = RiskMedium
		reasons = append(reasons, fmt.Sprintf("%d file(s) with unresolved references", unresolved))
	}
	if dynamic > 0 {
		risk = RiskHigh
		reasons = append(reasons, fmt.Sprintf("%d file(s) with dynamic legacy references", dynamic))
	}
	if blockers > 0 && density >= b.opts.HighRiskBlockerDensity {
		risk = RiskHigh
		reasons = append(reasons, fmt.Sprintf("blocker density %.2f", density))
	}
	return risk, reasons
}

// batchSize is n unless the phase is high risk, where it halves until it
// fits the configured maximum.
func (b *Builder) batchSize(n int, risk Risk) int {
	if n <= 0 {
		return 0
	}
	size := n
	if risk == RiskHigh {
		for size > b.opts.HighRiskMaxBatch && size > 1 {
			size /= 2
		}
	}
	return max(size, 1)
}

func digest(p *Plan) (string, error) {
	data, err := json.Marshal(struct {
		Phases   []Phase            `json:"phases"`
		Blockers []classify.Blocker `json:"blockers"`
	}{p.Phases, p.Blockers})
	if err != nil {
		return "", err
	}
	return util.ContentDigest(data)[:16], nil
}
