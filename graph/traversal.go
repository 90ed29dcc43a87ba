package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/mleroux/kgraph/store"
	"github.com/mleroux/kgraph/vocab"
)

// Traversal horizons. Related walks stay shallow because result size
// grows geometrically; path searches may go deeper since they stay
// narrow.
const (
	maxRelatedDepth     = 5
	defaultRelatedDepth = 2
	maxPathHops         = 10
	defaultPathHops     = 5
	maxPaths            = 5
)

// Traverser answers neighborhood and path queries over the concept
// graph. Edges are walked in both directions.
type Traverser struct {
	store *store.Store
	vocab *vocab.Manager
}

// NewTraverser creates a traverser. The vocabulary manager resolves
// epistemic filters into concrete relationship-type sets.
func NewTraverser(s *store.Store, vm *vocab.Manager) *Traverser {
	return &Traverser{store: s, vocab: vm}
}

// RelatedOptions filters a neighborhood walk.
type RelatedOptions struct {
	// MaxDepth is the BFS horizon in hops, clamped to [1, 5]. Zero
	// takes the default of 2.
	MaxDepth int
	// Types restricts traversal to these relationship types.
	Types []string
	// IncludeEpistemic keeps only relationship types whose epistemic
	// status is listed.
	IncludeEpistemic []string
	// ExcludeEpistemic drops relationship types whose epistemic status
	// is listed.
	ExcludeEpistemic []string
	// Limit caps the returned neighbors. Zero means no cap.
	Limit int
}

// RelatedConcept is one neighbor with its graph distance and the edge
// types along the shortest path that reached it.
type RelatedConcept struct {
	Concept   store.Concept `json:"concept"`
	Distance  int           `json:"distance"`
	PathTypes []string      `json:"path_types"`
}

// Related walks outward from a concept and returns everything reachable
// within the depth horizon, ordered by distance. The effective type
// filter is the intersection of the explicit list and the types the
// epistemic filters resolve to.
func (t *Traverser) Related(ctx context.Context, conceptID string, opts RelatedOptions) ([]RelatedConcept, error) {
	if _, err := t.store.GetConcept(ctx, conceptID); err != nil {
		return nil, fmt.Errorf("graph: start concept %s: %w", conceptID, err)
	}

	depth := clampHorizon(opts.MaxDepth, defaultRelatedDepth, maxRelatedDepth)
	allowed, restricted, err := t.typeFilter(ctx, opts)
	if err != nil {
		return nil, err
	}
	if restricted && len(allowed) == 0 {
		return nil, nil
	}

	type visit struct {
		dist      int
		pathTypes []string
	}
	visited := map[string]*visit{conceptID: {dist: 0}}
	frontier := []string{conceptID}
	usedTypes := make(map[string]bool)

	for d := 1; d <= depth && len(frontier) > 0; d++ {
		edges, err := t.store.EdgesTouching(ctx, frontier)
		if err != nil {
			return nil, fmt.Errorf("graph: expand depth %d: %w", d, err)
		}

		var next []string
		for _, e := range edges {
			if restricted && !allowed[e.RelationType] {
				continue
			}
			for _, pair := range [][2]string{
				{e.FromConcept, e.ToConcept},
				{e.ToConcept, e.FromConcept},
			} {
				src, dst := pair[0], pair[1]
				from, ok := visited[src]
				if !ok || from.dist != d-1 {
					continue
				}
				if _, seen := visited[dst]; seen {
					continue
				}
				pt := make([]string, 0, len(from.pathTypes)+1)
				pt = append(pt, from.pathTypes...)
				pt = append(pt, e.RelationType)
				visited[dst] = &visit{dist: d, pathTypes: pt}
				next = append(next, dst)
				usedTypes[e.RelationType] = true
			}
		}
		frontier = next
	}

	ids := make([]string, 0, len(visited)-1)
	for id := range visited {
		if id != conceptID {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	concepts, err := t.store.GetConceptsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("graph: fetch neighbors: %w", err)
	}

	out := make([]RelatedConcept, 0, len(concepts))
	for _, c := range concepts {
		v := visited[c.ConceptID]
		out = append(out, RelatedConcept{Concept: c, Distance: v.dist, PathTypes: v.pathTypes})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		if out[i].Concept.Label != out[j].Concept.Label {
			return out[i].Concept.Label < out[j].Concept.Label
		}
		return out[i].Concept.ConceptID < out[j].Concept.ConceptID
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}

	t.recordTraversals(ctx, usedTypes)
	return out, nil
}

// typeFilter resolves the explicit and epistemic filters into one
// allowed set. Epistemic lists are classified against the live
// vocabulary first, then intersected with the explicit list.
func (t *Traverser) typeFilter(ctx context.Context, opts RelatedOptions) (map[string]bool, bool, error) {
	explicit := len(opts.Types) > 0
	epistemic := len(opts.IncludeEpistemic) > 0 || len(opts.ExcludeEpistemic) > 0
	if !explicit && !epistemic {
		return nil, false, nil
	}

	allowed := make(map[string]bool)
	if !epistemic {
		for _, rt := range opts.Types {
			allowed[normalizeTypeRef(rt)] = true
		}
		return allowed, true, nil
	}

	include := make(map[string]bool, len(opts.IncludeEpistemic))
	for _, s := range opts.IncludeEpistemic {
		include[strings.ToUpper(strings.TrimSpace(s))] = true
	}
	exclude := make(map[string]bool, len(opts.ExcludeEpistemic))
	for _, s := range opts.ExcludeEpistemic {
		exclude[strings.ToUpper(strings.TrimSpace(s))] = true
	}

	types, err := t.store.ListVocabTypes(ctx, true)
	if err != nil {
		return nil, false, fmt.Errorf("graph: list vocabulary: %w", err)
	}
	for _, vt := range types {
		status, _, err := t.vocab.EpistemicStatus(ctx, vt.RelationshipType)
		if err != nil {
			slog.Warn("graph: epistemic status failed, excluding type",
				"type", vt.RelationshipType, "error", err)
			continue
		}
		if len(include) > 0 && !include[status] {
			continue
		}
		if exclude[status] {
			continue
		}
		allowed[vt.RelationshipType] = true
	}

	if explicit {
		keep := make(map[string]bool, len(opts.Types))
		for _, rt := range opts.Types {
			keep[normalizeTypeRef(rt)] = true
		}
		for rt := range allowed {
			if !keep[rt] {
				delete(allowed, rt)
			}
		}
	}
	return allowed, true, nil
}

// PathOptions bounds a path search.
type PathOptions struct {
	// MaxHops caps path length, clamped to [1, 10]. Zero takes the
	// default of 5.
	MaxHops int
	// Types restricts expansion to these relationship types.
	Types []string
}

// Path is one route between two concepts: the nodes in order and the
// edge types between them.
type Path struct {
	Concepts []store.Concept `json:"concepts"`
	Types    []string        `json:"relationship_types"`
	Length   int             `json:"length"`
}

// pathStep is one node on a route plus the type of the edge that led
// into it. The first step of a route carries no type.
type pathStep struct {
	node    string
	relType string
}

// FindPaths runs a bidirectional BFS between two concepts and returns
// up to five shortest paths. All returned paths share the minimal
// length; longer detours are never reported.
func (t *Traverser) FindPaths(ctx context.Context, fromID, toID string, opts PathOptions) ([]Path, error) {
	if fromID == toID {
		return nil, fmt.Errorf("graph: path endpoints are the same concept")
	}
	if _, err := t.store.GetConcept(ctx, fromID); err != nil {
		return nil, fmt.Errorf("graph: from concept %s: %w", fromID, err)
	}
	if _, err := t.store.GetConcept(ctx, toID); err != nil {
		return nil, fmt.Errorf("graph: to concept %s: %w", toID, err)
	}

	maxHops := clampHorizon(opts.MaxHops, defaultPathHops, maxPathHops)
	var allowed map[string]bool
	if len(opts.Types) > 0 {
		allowed = make(map[string]bool, len(opts.Types))
		for _, rt := range opts.Types {
			allowed[normalizeTypeRef(rt)] = true
		}
	}

	fwdDepth := map[string]int{fromID: 0}
	bwdDepth := map[string]int{toID: 0}
	fwdParents := map[string][]pathStep{}
	bwdParents := map[string][]pathStep{}
	fwdFrontier := []string{fromID}
	bwdFrontier := []string{toID}
	fd, bd := 0, 0

	// expand walks one BFS level, recording every shortest-path
	// predecessor so all minimal routes stay enumerable.
	expand := func(frontier []string, depth map[string]int, parents map[string][]pathStep, d int) ([]string, error) {
		edges, err := t.store.EdgesTouching(ctx, frontier)
		if err != nil {
			return nil, err
		}
		var next []string
		for _, e := range edges {
			if allowed != nil && !allowed[e.RelationType] {
				continue
			}
			for _, pair := range [][2]string{
				{e.FromConcept, e.ToConcept},
				{e.ToConcept, e.FromConcept},
			} {
				src, dst := pair[0], pair[1]
				if src == dst {
					continue
				}
				sd, ok := depth[src]
				if !ok || sd != d {
					continue
				}
				if dd, seen := depth[dst]; seen && dd <= d {
					continue
				} else if !seen {
					depth[dst] = d + 1
					next = append(next, dst)
				}
				parents[dst] = append(parents[dst], pathStep{node: src, relType: e.RelationType})
			}
		}
		return next, nil
	}

	meets := func() []string {
		var out []string
		for id := range fwdDepth {
			if _, ok := bwdDepth[id]; ok {
				out = append(out, id)
			}
		}
		return out
	}

	// Expand the smaller frontier until the searches meet or the hop
	// budget runs out. A frontier going empty without a meet means the
	// endpoints live in different components.
	var met []string
	for fd+bd < maxHops && len(fwdFrontier) > 0 && len(bwdFrontier) > 0 {
		var err error
		if len(fwdFrontier) <= len(bwdFrontier) {
			fwdFrontier, err = expand(fwdFrontier, fwdDepth, fwdParents, fd)
			fd++
		} else {
			bwdFrontier, err = expand(bwdFrontier, bwdDepth, bwdParents, bd)
			bd++
		}
		if err != nil {
			return nil, fmt.Errorf("graph: path expansion: %w", err)
		}
		if met = meets(); len(met) > 0 {
			break
		}
	}
	if len(met) == 0 {
		return nil, nil
	}

	shortest := -1
	for _, id := range met {
		total := fwdDepth[id] + bwdDepth[id]
		if shortest < 0 || total < shortest {
			shortest = total
		}
	}

	var routes [][]pathStep
	dedup := make(map[string]bool)
	for _, id := range met {
		if fwdDepth[id]+bwdDepth[id] != shortest {
			continue
		}
		for _, fw := range walkRoutes(fwdParents, fromID, id) {
			for _, bw := range walkRoutes(bwdParents, toID, id) {
				route := stitchRoute(fw, flipRoute(bw))
				if route == nil {
					continue
				}
				sig := routeSignature(route)
				if dedup[sig] {
					continue
				}
				dedup[sig] = true
				routes = append(routes, route)
			}
		}
	}

	sort.Slice(routes, func(i, j int) bool {
		return routeSignature(routes[i]) < routeSignature(routes[j])
	})
	if len(routes) > maxPaths {
		routes = routes[:maxPaths]
	}

	return t.materializePaths(ctx, routes)
}

// walkRoutes enumerates the shortest routes from a BFS root down to
// node by following recorded predecessors, root first.
func walkRoutes(parents map[string][]pathStep, root, node string) [][]pathStep {
	// Over-collect a little so stitching losses from overlapping
	// halves still leave enough routes for the result cap.
	routeCap := maxPaths * 4

	var walk func(n string) [][]pathStep
	walk = func(n string) [][]pathStep {
		if n == root {
			return [][]pathStep{{{node: n}}}
		}
		var out [][]pathStep
		for _, st := range parents[n] {
			for _, p := range walk(st.node) {
				route := make([]pathStep, 0, len(p)+1)
				route = append(route, p...)
				route = append(route, pathStep{node: n, relType: st.relType})
				out = append(out, route)
				if len(out) >= routeCap {
					return out
				}
			}
		}
		return out
	}
	return walk(node)
}

// flipRoute reverses a route while keeping each edge type between the
// same pair of nodes.
func flipRoute(r []pathStep) []pathStep {
	k := len(r) - 1
	f := make([]pathStep, len(r))
	f[0] = pathStep{node: r[k].node}
	for j := 1; j <= k; j++ {
		f[j] = pathStep{node: r[k-j].node, relType: r[k-j+1].relType}
	}
	return f
}

// stitchRoute joins a forward half ending at the meet node with a
// flipped backward half starting there. Routes revisiting a node are
// discarded.
func stitchRoute(fw, bw []pathStep) []pathStep {
	route := make([]pathStep, 0, len(fw)+len(bw)-1)
	route = append(route, fw...)
	if len(bw) > 1 {
		route = append(route, bw[1:]...)
	}

	seen := make(map[string]bool, len(route))
	for _, st := range route {
		if seen[st.node] {
			return nil
		}
		seen[st.node] = true
	}
	return route
}

func routeSignature(route []pathStep) string {
	parts := make([]string, 0, len(route)*2)
	for _, st := range route {
		parts = append(parts, st.node, st.relType)
	}
	return strings.Join(parts, "|")
}

// materializePaths turns step routes into Paths with full concept rows.
func (t *Traverser) materializePaths(ctx context.Context, routes [][]pathStep) ([]Path, error) {
	if len(routes) == 0 {
		return nil, nil
	}

	idSet := make(map[string]bool)
	usedTypes := make(map[string]bool)
	for _, route := range routes {
		for _, st := range route {
			idSet[st.node] = true
			if st.relType != "" {
				usedTypes[st.relType] = true
			}
		}
	}
	ids := make([]string, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	concepts, err := t.store.GetConceptsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("graph: fetch path concepts: %w", err)
	}
	byID := make(map[string]store.Concept, len(concepts))
	for _, c := range concepts {
		byID[c.ConceptID] = c
	}

	paths := make([]Path, 0, len(routes))
	for _, route := range routes {
		p := Path{
			Concepts: make([]store.Concept, 0, len(route)),
			Types:    make([]string, 0, len(route)-1),
			Length:   len(route) - 1,
		}
		for i, st := range route {
			p.Concepts = append(p.Concepts, byID[st.node])
			if i > 0 {
				p.Types = append(p.Types, st.relType)
			}
		}
		paths = append(paths, p)
	}

	t.recordTraversals(ctx, usedTypes)
	return paths, nil
}

// recordTraversals bumps the per-type traversal counters. Best effort:
// query results never fail on a counter write.
func (t *Traverser) recordTraversals(ctx context.Context, types map[string]bool) {
	for rt := range types {
		if err := t.store.RecordTraversal(ctx, rt); err != nil {
			slog.Warn("graph: traversal counter failed", "type", rt, "error", err)
		}
	}
}

// clampHorizon bounds a caller-supplied depth: zero takes the default,
// everything else clamps into [1, hi].
func clampHorizon(v, def, hi int) int {
	if v == 0 {
		return def
	}
	if v < 1 {
		return 1
	}
	if v > hi {
		return hi
	}
	return v
}

func normalizeTypeRef(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
