// Package graph resolves a pipeline definition into its dependency graph:
// explicit needs edges where declared, implicit stage edges otherwise, with
// cycle and unreachable-reference detection at build time.
package graph

import (
	"github.com/gantryci/gantry/internal/gantry/domain"
	"github.com/gantryci/gantry/pkg/errors"
)

// Graph is the resolved dependency structure of one pipeline definition.
// Edges run from a job to its predecessors; all lookups are precomputed at
// build time and the graph is immutable afterwards.
type Graph struct {
	def          *domain.PipelineDefinition
	predecessors map[string][]string
	dependents   map[string][]string
	layers       [][]string
	order        []string
}

// DFS colors for cycle detection
const (
	white = iota // unvisited
	gray         // on the current path
	black        // fully explored
)

// Build resolves and validates the dependency graph of a definition.
// Returns CyclicDependency with the offending path, or UnreachableJob when
// a job explicitly references one that can never run.
func Build(def *domain.PipelineDefinition) (*Graph, error) {
	g := &Graph{
		def:          def,
		predecessors: make(map[string][]string, len(def.Jobs)),
		dependents:   make(map[string][]string, len(def.Jobs)),
	}

	for _, job := range def.Jobs {
		preds, err := resolvePredecessors(def, job)
		if err != nil {
			return nil, err
		}
		g.predecessors[job.Name] = preds
	}

	// Invert edges in definition order so dependent lists are deterministic
	for _, job := range def.Jobs {
		for _, pred := range g.predecessors[job.Name] {
			g.dependents[pred] = append(g.dependents[pred], job.Name)
		}
	}

	if err := g.detectCycles(); err != nil {
		return nil, err
	}

	if err := checkReachableReferences(def); err != nil {
		return nil, err
	}

	g.buildLayers()

	return g, nil
}

// resolvePredecessors returns a job's deduplicated predecessor list
func resolvePredecessors(def *domain.PipelineDefinition, job *domain.JobDefinition) ([]string, error) {
	raw := def.Predecessors(job)

	seen := make(map[string]bool, len(raw))
	preds := make([]string, 0, len(raw))
	for _, name := range raw {
		if def.Job(name) == nil {
			return nil, errors.WrapGraphError(def.Name, []string{job.Name, name},
				errors.ErrJobNotFound)
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		preds = append(preds, name)
	}

	return preds, nil
}

// detectCycles walks the predecessor edges depth-first. A gray node reached
// twice on one path is a cycle; the reported path lists the cycle in walk
// order with the entry job repeated.
func (g *Graph) detectCycles() error {
	colors := make(map[string]int, len(g.def.Jobs))
	var stack []string

	var visit func(name string) error
	visit = func(name string) error {
		colors[name] = gray
		stack = append(stack, name)

		for _, pred := range g.predecessors[name] {
			switch colors[pred] {
			case gray:
				start := 0
				for i, n := range stack {
					if n == pred {
						start = i
						break
					}
				}
				cycle := append(append([]string{}, stack[start:]...), pred)
				return errors.WrapGraphError(g.def.Name, cycle, errors.ErrCyclicDependency)
			case white:
				if err := visit(pred); err != nil {
					return err
				}
			}
		}

		stack = stack[:len(stack)-1]
		colors[name] = black
		return nil
	}

	for _, job := range g.def.Jobs {
		if colors[job.Name] == white {
			if err := visit(job.Name); err != nil {
				return err
			}
		}
	}

	return nil
}

// checkReachableReferences rejects explicit references (needs, dependencies)
// to jobs whose rules can never match: such a job is skipped in every run,
// so naming it is a definition bug. Implicit stage edges are exempt because
// a rule-skipped predecessor still satisfies them.
func checkReachableReferences(def *domain.PipelineDefinition) error {
	for _, job := range def.Jobs {
		for _, need := range job.Needs {
			if target := def.Job(need); target != nil && target.ConstantlySkipped() {
				return errors.WrapGraphError(def.Name, []string{need, job.Name},
					errors.ErrUnreachableJob)
			}
		}
		for _, dep := range job.Dependencies {
			if target := def.Job(dep); target != nil && target.ConstantlySkipped() {
				return errors.WrapGraphError(def.Name, []string{dep, job.Name},
					errors.ErrUnreachableJob)
			}
		}
	}
	return nil
}

// buildLayers groups jobs into execution waves: each layer's jobs depend
// only on earlier layers. Also fixes the graph's topological order.
func (g *Graph) buildLayers() {
	indegree := make(map[string]int, len(g.def.Jobs))
	for _, job := range g.def.Jobs {
		indegree[job.Name] = len(g.predecessors[job.Name])
	}

	remaining := make([]string, 0, len(g.def.Jobs))
	for _, job := range g.def.Jobs {
		remaining = append(remaining, job.Name)
	}

	for len(remaining) > 0 {
		var layer []string
		var rest []string
		for _, name := range remaining {
			if indegree[name] == 0 {
				layer = append(layer, name)
			} else {
				rest = append(rest, name)
			}
		}

		for _, name := range layer {
			for _, dep := range g.dependents[name] {
				indegree[dep]--
			}
		}

		g.layers = append(g.layers, layer)
		g.order = append(g.order, layer...)
		remaining = rest
	}
}

// Predecessors returns the jobs that must finish before the named job
func (g *Graph) Predecessors(job string) []string {
	return g.predecessors[job]
}

// Dependents returns the jobs that wait on the named job
func (g *Graph) Dependents(job string) []string {
	return g.dependents[job]
}

// Roots returns the jobs with no predecessors, in definition order
func (g *Graph) Roots() []string {
	var roots []string
	for _, job := range g.def.Jobs {
		if len(g.predecessors[job.Name]) == 0 {
			roots = append(roots, job.Name)
		}
	}
	return roots
}

// Order returns all jobs in a deterministic topological order
func (g *Graph) Order() []string {
	return g.order
}

// Layers returns jobs grouped into execution waves for display
func (g *Graph) Layers() [][]string {
	return g.layers
}

// TransitiveDependents returns every job downstream of the named job,
// in topological order. Used for skip cascades.
func (g *Graph) TransitiveDependents(job string) []string {
	reached := make(map[string]bool)
	var walk func(name string)
	walk = func(name string) {
		for _, dep := range g.dependents[name] {
			if !reached[dep] {
				reached[dep] = true
				walk(dep)
			}
		}
	}
	walk(job)

	var result []string
	for _, name := range g.order {
		if reached[name] {
			result = append(result, name)
		}
	}
	return result
}
