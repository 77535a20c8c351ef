package workflow

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/flowforge/types"
)

// GraphMetrics summarizes the shape of a dependency graph. Level-derived
// fields are zero when the graph is cyclic.
type GraphMetrics struct {
	StepCount        int      `json:"step_count"`
	EdgeCount        int      `json:"edge_count"`
	Depth            int      `json:"depth"`
	MaxWidth         int      `json:"max_width"`
	RootCount        int      `json:"root_count"`
	LeafCount        int      `json:"leaf_count"`
	CriticalPath     []string `json:"critical_path,omitempty"`
	ParallelismRatio float64  `json:"parallelism_ratio"`
}

// DAGValidationResult is the outcome of DAGValidator.Validate.
// CyclesDetected is empty iff IsValidDAG.
type DAGValidationResult struct {
	IsValidDAG     bool         `json:"is_valid_dag"`
	CyclesDetected [][]string   `json:"cycles_detected"`
	GraphMetrics   GraphMetrics `json:"graph_metrics"`
	Levels         [][]string   `json:"levels,omitempty"`
	Warnings       []string     `json:"warnings,omitempty"`
}

// DAGValidator detects cycles and computes the level plan of a definition.
type DAGValidator struct {
	logger *zap.Logger
}

// NewDAGValidator creates a validator.
func NewDAGValidator(logger *zap.Logger) *DAGValidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DAGValidator{logger: logger.With(zap.String("component", "dag_validator"))}
}

// Validate checks acyclicity and computes graph metrics and levels.
func (v *DAGValidator) Validate(def *WorkflowDefinition) *DAGValidationResult {
	g := buildDepGraph(def)
	result := &DAGValidationResult{
		CyclesDetected: g.findCycles(),
		Warnings:       g.warnings,
	}
	result.IsValidDAG = len(result.CyclesDetected) == 0
	if result.IsValidDAG {
		result.CyclesDetected = [][]string{}
	}
	result.GraphMetrics = GraphMetrics{
		StepCount: len(g.ids),
		EdgeCount: g.edges,
	}
	for _, id := range g.ids {
		if len(g.pred[id]) == 0 {
			result.GraphMetrics.RootCount++
		}
		if len(g.succ[id]) == 0 {
			result.GraphMetrics.LeafCount++
		}
	}

	if result.IsValidDAG {
		levelOf := g.levels()
		result.Levels = groupLevels(g.ids, levelOf)
		fillLevelMetrics(&result.GraphMetrics, g, result.Levels, levelOf)
	}

	v.logger.Debug("workflow graph validated",
		zap.String("workflow_id", def.ID),
		zap.Bool("valid", result.IsValidDAG),
		zap.Int("cycles", len(result.CyclesDetected)),
		zap.Int("depth", result.GraphMetrics.Depth),
		zap.Int("max_width", result.GraphMetrics.MaxWidth),
	)
	return result
}

// GetExecutionOrder returns the level plan: every step's level is one more
// than the highest level among its prerequisites, roots are level 0. Steps
// keep declaration order inside a level. Cyclic input yields an INVALID_DAG
// error carrying the cycles.
func (v *DAGValidator) GetExecutionOrder(def *WorkflowDefinition) ([][]string, error) {
	g := buildDepGraph(def)
	if cycles := g.findCycles(); len(cycles) > 0 {
		return nil, invalidDAGError(cycles)
	}
	return groupLevels(g.ids, g.levels()), nil
}

// FormatCycle renders a cycle as "a -> b -> a".
func FormatCycle(cycle []string) string {
	if len(cycle) == 0 {
		return ""
	}
	return strings.Join(append(cloneStrings(cycle), cycle[0]), " -> ")
}

func invalidDAGError(cycles [][]string) *types.Error {
	rendered := make([]string, len(cycles))
	for i, c := range cycles {
		rendered[i] = FormatCycle(c)
	}
	return types.Errorf(types.ErrInvalidDAG, "Invalid DAG: %d cycle(s) detected: %s",
		len(cycles), strings.Join(rendered, "; ")).
		WithDetail("cycles", cycles)
}

// depGraph is the prerequisite -> dependent adjacency of a definition,
// restricted to known step ids.
type depGraph struct {
	ids      []string
	known    map[string]bool
	succ     map[string][]string
	pred     map[string][]string
	edges    int
	warnings []string
}

func buildDepGraph(def *WorkflowDefinition) *depGraph {
	g := &depGraph{
		known: make(map[string]bool, len(def.Steps)),
		succ:  make(map[string][]string),
		pred:  make(map[string][]string),
	}
	for _, s := range def.Steps {
		if s.ID == "" || g.known[s.ID] {
			continue
		}
		g.known[s.ID] = true
		g.ids = append(g.ids, s.ID)
	}

	for _, id := range g.ids {
		seen := make(map[string]bool)
		for _, pre := range def.Dependencies[id] {
			if seen[pre] {
				continue
			}
			seen[pre] = true
			if !g.known[pre] {
				g.warnings = append(g.warnings, fmt.Sprintf("step %q depends on unknown step %q; edge ignored", id, pre))
				continue
			}
			g.pred[id] = append(g.pred[id], pre)
			g.edges++
		}
	}
	// Successors in declaration order of the dependent.
	for _, id := range g.ids {
		for _, pre := range g.pred[id] {
			g.succ[pre] = append(g.succ[pre], id)
		}
	}
	for id := range def.Dependencies {
		if !g.known[id] {
			g.warnings = append(g.warnings, fmt.Sprintf("dependency entry for unknown step %q ignored", id))
		}
	}
	return g
}

const (
	white = iota
	gray
	black
)

// findCycles runs a three-color DFS in declaration order. Each back edge
// yields one cycle: the path from the edge target to the edge source.
func (g *depGraph) findCycles() [][]string {
	color := make(map[string]int, len(g.ids))
	var path []string
	var cycles [][]string

	var visit func(id string)
	visit = func(id string) {
		color[id] = gray
		path = append(path, id)
		for _, next := range g.succ[id] {
			switch color[next] {
			case white:
				visit(next)
			case gray:
				start := len(path) - 1
				for path[start] != next {
					start--
				}
				cycles = append(cycles, cloneStrings(path[start:]))
			}
		}
		path = path[:len(path)-1]
		color[id] = black
	}

	for _, id := range g.ids {
		if color[id] == white {
			visit(id)
		}
	}
	return cycles
}

// levels assigns each step its topological generation. Only valid on
// acyclic graphs.
func (g *depGraph) levels() map[string]int {
	levelOf := make(map[string]int, len(g.ids))
	var level func(id string) int
	level = func(id string) int {
		if l, ok := levelOf[id]; ok {
			return l
		}
		l := 0
		for _, pre := range g.pred[id] {
			if pl := level(pre) + 1; pl > l {
				l = pl
			}
		}
		levelOf[id] = l
		return l
	}
	for _, id := range g.ids {
		level(id)
	}
	return levelOf
}

func groupLevels(ids []string, levelOf map[string]int) [][]string {
	depth := 0
	for _, l := range levelOf {
		if l+1 > depth {
			depth = l + 1
		}
	}
	out := make([][]string, depth)
	for _, id := range ids {
		l := levelOf[id]
		out[l] = append(out[l], id)
	}
	return out
}

func fillLevelMetrics(m *GraphMetrics, g *depGraph, levels [][]string, levelOf map[string]int) {
	m.Depth = len(levels)
	for _, lvl := range levels {
		if len(lvl) > m.MaxWidth {
			m.MaxWidth = len(lvl)
		}
	}
	if m.Depth > 0 {
		m.ParallelismRatio = float64(m.StepCount) / float64(m.Depth)
		m.CriticalPath = criticalPath(g, levels, levelOf)
	}
}

// criticalPath walks back from the first step of the last level through
// prerequisites one level lower.
func criticalPath(g *depGraph, levels [][]string, levelOf map[string]int) []string {
	cur := levels[len(levels)-1][0]
	path := []string{cur}
	for levelOf[cur] > 0 {
		for _, pre := range g.pred[cur] {
			if levelOf[pre] == levelOf[cur]-1 {
				cur = pre
				break
			}
		}
		path = append(path, cur)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}
