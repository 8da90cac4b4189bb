package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
)

// DanglingEdge is a dependency whose target is not stored.
type DanglingEdge struct {
	DocID  string `json:"doc_id"`
	Name   string `json:"name"`
	Target string `json:"target"`
}

// Cycle is a strongly connected set of documents in the dependency graph.
// Path walks the cycle and ends where it started.
type Cycle struct {
	Path    []string `json:"path"`
	Message string   `json:"message"`
}

// VerifyReport lists integrity problems found by Verify.
type VerifyReport struct {
	Documents int            `json:"documents"`
	Dangling  []DanglingEdge `json:"dangling"`
	Cycles    []Cycle        `json:"cycles"`
}

// OK reports whether no problems were found.
func (r VerifyReport) OK() bool {
	return len(r.Dangling) == 0 && len(r.Cycles) == 0
}

// Verify scans the whole store for dangling dependencies and dependency
// cycles. The store rejects both on write, so problems here come from
// backends edited out of band or from partial copies.
func (s *Store) Verify(ctx context.Context) (VerifyReport, error) {
	s.graph.RLock()
	defer s.graph.RUnlock()

	ids, err := s.backend.IDs(ctx)
	if err != nil {
		return VerifyReport{}, fmt.Errorf("store.verify: %w", err)
	}
	present := make(map[string]bool, len(ids))
	for _, id := range ids {
		present[id] = true
	}

	report := VerifyReport{Documents: len(ids), Dangling: []DanglingEdge{}, Cycles: []Cycle{}}
	graph := make(dependencyGraph, len(ids))
	for _, id := range ids {
		doc, err := s.backend.Get(ctx, id)
		if err != nil {
			return VerifyReport{}, fmt.Errorf("store.verify: %w", err)
		}
		graph[id] = []string{}
		for _, dep := range doc.DependsOn {
			if dep.Value == "" {
				continue
			}
			if !present[dep.Value] {
				report.Dangling = append(report.Dangling, DanglingEdge{DocID: id, Name: dep.Name, Target: dep.Value})
				continue
			}
			graph[id] = append(graph[id], dep.Value)
		}
	}

	for _, scc := range tarjanSCC(graph, ids) {
		if len(scc) > 1 || hasSelfLoop(scc[0], graph) {
			report.Cycles = append(report.Cycles, sccToCycle(scc, graph))
		}
	}
	return report, nil
}

// dependencyGraph maps document id -> ids it depends on.
type dependencyGraph map[string][]string

func hasSelfLoop(node string, graph dependencyGraph) bool {
	return slices.Contains(graph[node], node)
}

// tarjanSCC finds strongly connected components. Nodes are visited in the
// given order so the result is deterministic.
func tarjanSCC(graph dependencyGraph, order []string) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sort.Strings(scc)
			sccs = append(sccs, scc)
		}
	}

	for _, node := range order {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}

// sccToCycle walks edges inside the SCC from its smallest id until it
// returns to the start.
func sccToCycle(scc []string, graph dependencyGraph) Cycle {
	if len(scc) == 1 {
		return Cycle{
			Path:    []string{scc[0], scc[0]},
			Message: fmt.Sprintf("document %s depends on itself", scc[0]),
		}
	}

	members := make(map[string]bool, len(scc))
	for _, n := range scc {
		members[n] = true
	}
	start := scc[0]
	path := []string{start}
	visited := map[string]bool{}
	current := start
	for {
		visited[current] = true
		var next string
		for _, w := range graph[current] {
			if members[w] && (!visited[w] || w == start) {
				next = w
				break
			}
		}
		if next == "" {
			break
		}
		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}
	return Cycle{
		Path:    path,
		Message: fmt.Sprintf("dependency cycle: %s", strings.Join(path, " -> ")),
	}
}
