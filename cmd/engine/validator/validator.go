package validator

import (
	"fmt"

	"github.com/flowsync/flowsync/common/models"
)

// Result carries all validation findings, not just the first
type Result struct {
	OK     bool     `json:"ok"`
	Errors []string `json:"errors,omitempty"`
}

// Err converts a failed result into a typed error, nil when valid
func (r Result) Err() error {
	if r.OK {
		return nil
	}
	return &models.ValidationError{Errors: r.Errors}
}

// Validate is the gatekeeper for workflow definitions. Checks run in
// order: presence, duplicate IDs, start/end counts, edge endpoints, cycle
// detection (Kahn), reachability (BFS from start), fork/join arity.
// Structural errors short-circuit cycle and reachability analysis so a
// malformed graph does not produce misleading cascading findings.
func Validate(def *models.WorkflowDefinition) Result {
	var errs []string

	if def == nil {
		return Result{Errors: []string{"definition is required"}}
	}
	if len(def.Nodes) == 0 {
		errs = append(errs, "definition has no nodes")
		return Result{Errors: errs}
	}

	nodeIDs := make(map[string]bool, len(def.Nodes))
	for _, n := range def.Nodes {
		if n.ID == "" {
			errs = append(errs, "node with empty id")
			continue
		}
		if nodeIDs[n.ID] {
			errs = append(errs, fmt.Sprintf("duplicate node id: %s", n.ID))
		}
		nodeIDs[n.ID] = true
	}

	edgeIDs := make(map[string]bool, len(def.Edges))
	for _, e := range def.Edges {
		if e.ID == "" {
			errs = append(errs, "edge with empty id")
			continue
		}
		if edgeIDs[e.ID] {
			errs = append(errs, fmt.Sprintf("duplicate edge id: %s", e.ID))
		}
		edgeIDs[e.ID] = true
	}

	var startID string
	startCount, endCount := 0, 0
	for _, n := range def.Nodes {
		switch n.Type {
		case models.NodeStart:
			startCount++
			startID = n.ID
		case models.NodeEnd:
			endCount++
		}
	}
	if startCount != 1 {
		errs = append(errs, fmt.Sprintf("exactly one start node required, found %d", startCount))
	}
	if endCount < 1 {
		errs = append(errs, "at least one end node required")
	}

	for _, e := range def.Edges {
		if !nodeIDs[e.Source] {
			errs = append(errs, fmt.Sprintf("edge %s references undefined source node: %s", e.ID, e.Source))
		}
		if !nodeIDs[e.Target] {
			errs = append(errs, fmt.Sprintf("edge %s references undefined target node: %s", e.ID, e.Target))
		}
	}

	structuralOK := len(errs) == 0

	if structuralOK {
		if cyclic := hasCycle(def); cyclic {
			errs = append(errs, "definition contains a cycle")
		}
		errs = append(errs, unreachable(def, startID)...)
	}

	// Fork/join arity is independent of graph topology
	for _, n := range def.Nodes {
		switch n.Type {
		case models.NodeFork:
			if out := countEdges(def, n.ID, false); out < 2 {
				errs = append(errs, fmt.Sprintf("fork node %s needs at least 2 outgoing edges, found %d", n.ID, out))
			}
		case models.NodeJoin:
			if in := countEdges(def, n.ID, true); in < 2 {
				errs = append(errs, fmt.Sprintf("join node %s needs at least 2 incoming edges, found %d", n.ID, in))
			}
		}
	}

	return Result{OK: len(errs) == 0, Errors: errs}
}

// hasCycle peels zero-in-degree nodes iteratively; leftovers mean a cycle
func hasCycle(def *models.WorkflowDefinition) bool {
	inDegree := make(map[string]int, len(def.Nodes))
	adjacent := make(map[string][]string, len(def.Nodes))
	for _, n := range def.Nodes {
		inDegree[n.ID] = 0
	}
	for _, e := range def.Edges {
		inDegree[e.Target]++
		adjacent[e.Source] = append(adjacent[e.Source], e.Target)
	}

	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	peeled := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		peeled++
		for _, next := range adjacent[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	return peeled != len(def.Nodes)
}

// unreachable reports every non-start node not reachable via BFS from start
func unreachable(def *models.WorkflowDefinition, startID string) []string {
	adjacent := make(map[string][]string, len(def.Nodes))
	for _, e := range def.Edges {
		adjacent[e.Source] = append(adjacent[e.Source], e.Target)
	}

	visited := map[string]bool{startID: true}
	queue := []string{startID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range adjacent[id] {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}

	var errs []string
	for _, n := range def.Nodes {
		if !visited[n.ID] {
			errs = append(errs, fmt.Sprintf("node %s is not reachable from start", n.ID))
		}
	}
	return errs
}

func countEdges(def *models.WorkflowDefinition, nodeID string, incoming bool) int {
	count := 0
	for _, e := range def.Edges {
		if incoming && e.Target == nodeID {
			count++
		}
		if !incoming && e.Source == nodeID {
			count++
		}
	}
	return count
}
