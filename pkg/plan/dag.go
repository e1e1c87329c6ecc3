package plan

import (
	"fmt"
	"strings"
)

// Graph is the validated dependency DAG of a plan: a wave (topological
// level) assignment plus adjacency in both directions, ready for the
// scheduler to walk wave by wave.
type Graph struct {
	// Waves[k] holds the ids of every action whose dependencies are all
	// satisfied by waves < k.
	Waves [][]string

	// dependents maps an action id to the ids that depend on it.
	dependents map[string][]string

	// dependencies maps an action id to the ids it depends on.
	dependencies map[string][]string
}

// WaveOf returns the wave index of an action id, or -1 if unknown.
func (g *Graph) WaveOf(id string) int {
	for level, ids := range g.Waves {
		for _, candidate := range ids {
			if candidate == id {
				return level
			}
		}
	}
	return -1
}

// Dependents returns the ids that depend on id.
func (g *Graph) Dependents(id string) []string { return g.dependents[id] }

// Dependencies returns the ids id depends on.
func (g *Graph) Dependencies(id string) []string { return g.dependencies[id] }

// dagBuilder builds a Graph from a plan's actions, detecting cycles and
// unresolved dependency targets along the way.
type dagBuilder struct {
	actions      map[string]*Action
	adjacency    map[string][]string // target -> dependents
	reverse      map[string][]string // action -> its dependencies
	inDegree     map[string]int
	waves        [][]string
}

func newDAGBuilder() *dagBuilder {
	return &dagBuilder{
		actions:   make(map[string]*Action),
		adjacency: make(map[string][]string),
		reverse:   make(map[string][]string),
		inDegree:  make(map[string]int),
	}
}

// BuildGraph validates and lays out a plan's actions into waves. It
// returns a *EngineError with code validation_error on any structural
// violation, carrying the offending cycle or missing id.
func BuildGraph(actions []Action) (*Graph, error) {
	b := newDAGBuilder()

	if len(actions) == 0 {
		return &Graph{Waves: nil, dependents: map[string][]string{}, dependencies: map[string][]string{}}, nil
	}

	if err := b.initialize(actions); err != nil {
		return nil, err
	}
	if err := b.detectCycles(); err != nil {
		return nil, err
	}
	if err := b.computeWaves(); err != nil {
		return nil, err
	}

	return &Graph{
		Waves:        b.waves,
		dependents:   b.adjacency,
		dependencies: b.reverse,
	}, nil
}

func (b *dagBuilder) initialize(actions []Action) error {
	for i := range actions {
		a := &actions[i]
		if a.ID == "" {
			return NewPermanentError(CodeValidationError, "action has empty id", nil)
		}
		if _, exists := b.actions[a.ID]; exists {
			return NewPermanentError(CodeValidationError, fmt.Sprintf("duplicate action id: %s", a.ID), nil).
				WithResource(a.ID)
		}
		b.actions[a.ID] = a
		b.adjacency[a.ID] = nil
		b.reverse[a.ID] = nil
		b.inDegree[a.ID] = 0
	}

	for _, a := range b.actions {
		for _, dep := range a.DependsOn {
			if _, exists := b.actions[dep]; !exists {
				return NewPermanentError(
					CodeValidationError,
					fmt.Sprintf("action %s depends on unknown action %s", a.ID, dep),
					nil,
				).WithResource(a.ID)
			}
			b.adjacency[dep] = append(b.adjacency[dep], a.ID)
			b.reverse[a.ID] = append(b.reverse[a.ID], dep)
			b.inDegree[a.ID]++
		}
	}

	return nil
}

// detectCycles runs DFS with grey/black colouring over every node,
// reporting the discovered cycle path in the error message.
func (b *dagBuilder) detectCycles() error {
	visited := make(map[string]bool) // black: fully explored
	onStack := make(map[string]bool) // grey: on current DFS path
	path := make([]string, 0, len(b.actions))

	for id := range b.actions {
		if visited[id] {
			continue
		}
		if cycle := b.walk(id, visited, onStack, path); cycle != nil {
			return NewPermanentError(
				CodeValidationError,
				fmt.Sprintf("circular dependency detected: %s", strings.Join(cycle, " -> ")),
				nil,
			)
		}
	}
	return nil
}

func (b *dagBuilder) walk(id string, visited, onStack map[string]bool, path []string) []string {
	visited[id] = true
	onStack[id] = true
	path = append(path, id)

	for _, next := range b.adjacency[id] {
		if !visited[next] {
			if cycle := b.walk(next, visited, onStack, path); cycle != nil {
				return cycle
			}
		} else if onStack[next] {
			start := 0
			for i, n := range path {
				if n == next {
					start = i
					break
				}
			}
			return append(append([]string(nil), path[start:]...), next)
		}
	}

	onStack[id] = false
	return nil
}

// computeWaves runs Kahn's algorithm, peeling off zero-in-degree nodes
// one wave at a time.
func (b *dagBuilder) computeWaves() error {
	remaining := make(map[string]int, len(b.inDegree))
	for id, deg := range b.inDegree {
		remaining[id] = deg
	}

	var current []string
	for id, deg := range remaining {
		if deg == 0 {
			current = append(current, id)
		}
	}
	if len(current) == 0 && len(b.actions) > 0 {
		return NewPermanentError(CodeValidationError, "no action has zero dependencies", nil)
	}

	processed := 0
	for len(current) > 0 {
		b.waves = append(b.waves, current)
		processed += len(current)

		var next []string
		for _, id := range current {
			for _, dependent := range b.adjacency[id] {
				remaining[dependent]--
				if remaining[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		current = next
	}

	if processed != len(b.actions) {
		return NewPermanentError(CodeInternalError, "failed to schedule all actions; possible cycle", nil)
	}
	return nil
}

// ToDOT renders the graph in Graphviz DOT format, grouped by wave.
func (g *Graph) ToDOT(planID string) string {
	var sb strings.Builder
	sb.WriteString("digraph Plan_" + sanitizeDOTID(planID) + " {\n")
	sb.WriteString("  rankdir=LR;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, ids := range g.Waves {
		fmt.Fprintf(&sb, "  subgraph cluster_wave_%d {\n", level)
		fmt.Fprintf(&sb, "    label=\"wave %d\";\n", level)
		sb.WriteString("    style=dashed;\n")
		for _, id := range ids {
			fmt.Fprintf(&sb, "    %q;\n", id)
		}
		sb.WriteString("  }\n\n")
	}

	for id, deps := range g.dependencies {
		for _, dep := range deps {
			fmt.Fprintf(&sb, "  %q -> %q;\n", dep, id)
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

func sanitizeDOTID(id string) string {
	var sb strings.Builder
	for _, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			sb.WriteRune(r)
		} else {
			sb.WriteRune('_')
		}
	}
	if sb.Len() == 0 {
		return "plan"
	}
	return sb.String()
}
