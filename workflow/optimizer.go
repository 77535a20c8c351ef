package workflow

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/flowforge/types"
)

// Improvement names accepted by GenerateOptimized.
const (
	ImprovementRetryPolicy         = "retry_policy"
	ImprovementTimeout             = "timeout"
	ImprovementRedundantDependency = "redundant_dependency"
	ImprovementParallelization     = "parallelization"
)

// IssueInvalidDAG flags a cyclic definition in an optimization report.
const IssueInvalidDAG = "Invalid DAG"

// Structure optimization kinds.
const (
	StructureParallelize         = "parallelize"
	StructureRedundantDependency = "redundant_dependency"
	StructureMerge               = "merge"
)

// Improvement is one advisory finding.
type Improvement struct {
	Type        string   `json:"type"`
	Issue       string   `json:"issue"`
	Description string   `json:"description"`
	StepIDs     []string `json:"step_ids,omitempty"`
	Impact      string   `json:"impact"`
}

// StructureOptimization is a concrete restructuring opportunity.
type StructureOptimization struct {
	Type        string   `json:"type"`
	StepIDs     []string `json:"step_ids"`
	Description string   `json:"description"`
	// LevelSavings is how many levels the plan loses if applied alone.
	LevelSavings int `json:"level_savings"`
}

// OptimizationReport is the result of Optimizer.Optimize.
type OptimizationReport struct {
	OptimizationScore      float64                 `json:"optimization_score"`
	SuggestedImprovements  []Improvement           `json:"suggested_improvements"`
	StructureOptimizations []StructureOptimization `json:"structure_optimizations"`
	Metrics                GraphMetrics            `json:"metrics"`
}

// Has reports whether the report contains an improvement with the given issue.
func (r *OptimizationReport) Has(issue string) bool {
	for _, imp := range r.SuggestedImprovements {
		if imp.Issue == issue {
			return true
		}
	}
	return false
}

// OptimizerConfig tunes the optimizer.
type OptimizerConfig struct {
	// LongChainThreshold is the minimum length of a strictly sequential chain
	// reported as a parallelization candidate.
	LongChainThreshold int `yaml:"long_chain_threshold" env:"LONG_CHAIN_THRESHOLD"`
	// DefaultTimeout in seconds, attached by the "timeout" improvement.
	DefaultTimeout float64 `yaml:"default_timeout" env:"DEFAULT_TIMEOUT"`
	// RetryPolicy is attached by the "retry_policy" improvement.
	RetryPolicy RetryPolicy `yaml:"retry_policy"`
}

// DefaultOptimizerConfig returns the default tuning.
func DefaultOptimizerConfig() OptimizerConfig {
	return OptimizerConfig{
		LongChainThreshold: 4,
		DefaultTimeout:     300,
		RetryPolicy:        *DefaultRetryPolicy(),
	}
}

// ScoreRecorder observes optimization scores.
type ScoreRecorder interface {
	RecordOptimizationScore(workflowID string, score float64)
}

// Optimizer analyses definitions and derives improved copies. It never
// executes anything.
type Optimizer struct {
	config    OptimizerConfig
	validator *DAGValidator
	scores    ScoreRecorder
	logger    *zap.Logger
}

// NewOptimizer creates an optimizer. scores may be nil.
func NewOptimizer(config OptimizerConfig, scores ScoreRecorder, logger *zap.Logger) *Optimizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.LongChainThreshold < 2 {
		config.LongChainThreshold = 2
	}
	return &Optimizer{
		config:    config,
		validator: NewDAGValidator(logger),
		scores:    scores,
		logger:    logger.With(zap.String("component", "optimizer")),
	}
}

// Optimize scores a definition and lists improvements. A cyclic definition
// scores 0 and is flagged with IssueInvalidDAG instead of failing.
func (o *Optimizer) Optimize(def *WorkflowDefinition) *OptimizationReport {
	validation := o.validator.Validate(def)
	report := &OptimizationReport{
		SuggestedImprovements:  []Improvement{},
		StructureOptimizations: []StructureOptimization{},
		Metrics:                validation.GraphMetrics,
	}

	if !validation.IsValidDAG {
		rendered := make([]string, len(validation.CyclesDetected))
		var involved []string
		for i, c := range validation.CyclesDetected {
			rendered[i] = FormatCycle(c)
			involved = append(involved, c...)
		}
		report.SuggestedImprovements = append(report.SuggestedImprovements, Improvement{
			Type:        "dag_validity",
			Issue:       IssueInvalidDAG,
			Description: "Break the dependency cycle(s): " + strings.Join(rendered, "; "),
			StepIDs:     uniqueSorted(involved),
			Impact:      "high",
		})
		o.logger.Debug("optimization skipped for cyclic workflow", zap.String("workflow_id", def.ID))
		o.record(def.ID, 0)
		return report
	}

	var noRetry, noTimeout []string
	for _, s := range def.Steps {
		if s.RetryPolicy == nil {
			noRetry = append(noRetry, s.ID)
		}
		if s.Timeout <= 0 {
			noTimeout = append(noTimeout, s.ID)
		}
	}
	if len(noRetry) > 0 {
		report.SuggestedImprovements = append(report.SuggestedImprovements, Improvement{
			Type:        ImprovementRetryPolicy,
			Issue:       "Missing retry policy",
			Description: fmt.Sprintf("%d step(s) fail on the first error; attach a retry policy", len(noRetry)),
			StepIDs:     noRetry,
			Impact:      "medium",
		})
	}
	if len(noTimeout) > 0 {
		report.SuggestedImprovements = append(report.SuggestedImprovements, Improvement{
			Type:        ImprovementTimeout,
			Issue:       "Missing timeout",
			Description: fmt.Sprintf("%d step(s) can run unbounded; set a timeout", len(noTimeout)),
			StepIDs:     noTimeout,
			Impact:      "low",
		})
	}

	g := buildDepGraph(def)
	for _, chain := range sequentialChains(g) {
		if len(chain) < o.config.LongChainThreshold {
			continue
		}
		report.SuggestedImprovements = append(report.SuggestedImprovements, Improvement{
			Type:        ImprovementParallelization,
			Issue:       "Long sequential chain",
			Description: fmt.Sprintf("%d steps run strictly one after another: %s", len(chain), strings.Join(chain, " -> ")),
			StepIDs:     chain,
			Impact:      "medium",
		})
		report.StructureOptimizations = append(report.StructureOptimizations, mergeCandidates(def, chain)...)
	}

	depth := validation.GraphMetrics.Depth
	for _, e := range redundantEdges(g) {
		report.StructureOptimizations = append(report.StructureOptimizations, StructureOptimization{
			Type:        StructureRedundantDependency,
			StepIDs:     []string{e.from, e.to},
			Description: fmt.Sprintf("%s already reaches %s through another prerequisite", e.from, e.to),
		})
	}
	for _, e := range dataIndependentEdges(def, g) {
		report.StructureOptimizations = append(report.StructureOptimizations, StructureOptimization{
			Type:         StructureParallelize,
			StepIDs:      []string{e.from, e.to},
			Description:  fmt.Sprintf("%s consumes none of the outputs of %s; the dependency could be dropped", e.to, e.from),
			LevelSavings: depth - depthWithout(g, []edge{e}),
		})
	}

	report.OptimizationScore = score(validation.GraphMetrics, len(def.Steps)-len(noRetry), len(def.Steps)-len(noTimeout))
	o.logger.Debug("workflow optimized",
		zap.String("workflow_id", def.ID),
		zap.Float64("score", report.OptimizationScore),
		zap.Int("improvements", len(report.SuggestedImprovements)),
		zap.Int("structure_optimizations", len(report.StructureOptimizations)),
	)
	o.record(def.ID, report.OptimizationScore)
	return report
}

// GenerateOptimized returns a copy of def with the named improvements
// applied. The input is never modified. Graph-changing improvements only
// remove edges, so a valid DAG stays valid; they are skipped for cyclic input.
func (o *Optimizer) GenerateOptimized(def *WorkflowDefinition, improvements []string) (*WorkflowDefinition, error) {
	for _, name := range improvements {
		switch name {
		case ImprovementRetryPolicy, ImprovementTimeout, ImprovementRedundantDependency, ImprovementParallelization:
		default:
			return nil, types.Errorf(types.ErrInvalidRequest, "unknown improvement %q", name)
		}
	}

	out := def.Clone()
	out.ID = def.ID + "_optimized"
	out.Name = def.Name + " (Optimized)"
	valid := o.validator.Validate(def).IsValidDAG

	for _, name := range improvements {
		switch name {
		case ImprovementRetryPolicy:
			for i := range out.Steps {
				if out.Steps[i].RetryPolicy == nil {
					out.Steps[i].RetryPolicy = o.config.RetryPolicy.Clone()
				}
			}
		case ImprovementTimeout:
			for i := range out.Steps {
				if out.Steps[i].Timeout <= 0 {
					out.Steps[i].Timeout = o.config.DefaultTimeout
				}
			}
		case ImprovementRedundantDependency:
			if valid {
				removeEdges(out, redundantEdges(buildDepGraph(out)))
			}
		case ImprovementParallelization:
			if valid {
				removeEdges(out, dataIndependentEdges(out, buildDepGraph(out)))
			}
		}
	}

	o.logger.Info("generated optimized workflow",
		zap.String("workflow_id", def.ID),
		zap.String("optimized_id", out.ID),
		zap.Strings("improvements", improvements),
	)
	return out, nil
}

func (o *Optimizer) record(workflowID string, s float64) {
	if o.scores != nil {
		o.scores.RecordOptimizationScore(workflowID, s)
	}
}

// score maps graph shape and resilience to [0, 100]. It grows with max
// width, retry and timeout coverage, and shrinks with depth.
func score(m GraphMetrics, withRetry, withTimeout int) float64 {
	n := m.StepCount
	if n == 0 {
		return 0
	}
	parallelism, chain := 1.0, 1.0
	if n > 1 {
		parallelism = float64(m.MaxWidth-1) / float64(n-1)
		chain = float64(n-m.Depth) / float64(n-1)
	}
	resilience := float64(withRetry) / float64(n)
	bounded := float64(withTimeout) / float64(n)
	s := 100 * (0.35*parallelism + 0.30*resilience + 0.25*chain + 0.10*bounded)
	switch {
	case s < 0:
		return 0
	case s > 100:
		return 100
	}
	return s
}

// ============================================================
// Graph analysis helpers
// ============================================================

type edge struct {
	from, to string
}

// sequentialChains returns maximal runs of steps where each link is the
// only dependent of its predecessor and the only prerequisite of its
// successor.
func sequentialChains(g *depGraph) [][]string {
	linked := func(from string) (string, bool) {
		if len(g.succ[from]) != 1 {
			return "", false
		}
		to := g.succ[from][0]
		return to, len(g.pred[to]) == 1
	}

	var chains [][]string
	for _, id := range g.ids {
		// Start only at chain heads.
		if len(g.pred[id]) == 1 {
			if _, ok := linked(g.pred[id][0]); ok {
				continue
			}
		}
		chain := []string{id}
		for cur := id; ; {
			next, ok := linked(cur)
			if !ok {
				break
			}
			chain = append(chain, next)
			cur = next
		}
		if len(chain) > 1 {
			chains = append(chains, chain)
		}
	}
	return chains
}

// mergeCandidates pairs consecutive chain steps that share a kind and agent.
func mergeCandidates(def *WorkflowDefinition, chain []string) []StructureOptimization {
	var out []StructureOptimization
	for i := 0; i+1 < len(chain); i++ {
		a, _ := def.Step(chain[i])
		b, _ := def.Step(chain[i+1])
		if a.Type != b.Type || a.AgentID != b.AgentID {
			continue
		}
		out = append(out, StructureOptimization{
			Type:         StructureMerge,
			StepIDs:      []string{a.ID, b.ID},
			Description:  fmt.Sprintf("%s and %s run back to back on the same %s executor; consider merging them", a.ID, b.ID, a.Type),
			LevelSavings: 1,
		})
	}
	return out
}

// redundantEdges lists prerequisite edges implied by another path.
func redundantEdges(g *depGraph) []edge {
	ancestors := make(map[string]map[string]bool, len(g.ids))
	var collect func(id string) map[string]bool
	collect = func(id string) map[string]bool {
		if a, ok := ancestors[id]; ok {
			return a
		}
		a := make(map[string]bool)
		ancestors[id] = a
		for _, pre := range g.pred[id] {
			a[pre] = true
			for anc := range collect(pre) {
				a[anc] = true
			}
		}
		return a
	}

	var out []edge
	for _, id := range g.ids {
		for _, p := range g.pred[id] {
			for _, q := range g.pred[id] {
				if q != p && collect(q)[p] {
					out = append(out, edge{from: p, to: id})
					break
				}
			}
		}
	}
	return out
}

// dataIndependentEdges lists edges between steps that both declare their
// data keys yet share none.
func dataIndependentEdges(def *WorkflowDefinition, g *depGraph) []edge {
	var out []edge
	for _, id := range g.ids {
		to, _ := def.Step(id)
		if len(to.Inputs) == 0 {
			continue
		}
		for _, p := range g.pred[id] {
			from, _ := def.Step(p)
			if len(from.Outputs) == 0 || sharesKey(from.Outputs, to.Inputs) {
				continue
			}
			out = append(out, edge{from: p, to: id})
		}
	}
	return out
}

func sharesKey(a, b []string) bool {
	set := make(map[string]bool, len(a))
	for _, k := range a {
		set[k] = true
	}
	for _, k := range b {
		if set[k] {
			return true
		}
	}
	return false
}

// depthWithout returns the level count after dropping edges.
func depthWithout(g *depGraph, drop []edge) int {
	skip := make(map[edge]bool, len(drop))
	for _, e := range drop {
		skip[e] = true
	}
	h := &depGraph{ids: g.ids, pred: make(map[string][]string, len(g.pred))}
	for id, pres := range g.pred {
		for _, p := range pres {
			if !skip[edge{from: p, to: id}] {
				h.pred[id] = append(h.pred[id], p)
			}
		}
	}
	return len(groupLevels(h.ids, h.levels()))
}

func removeEdges(def *WorkflowDefinition, edges []edge) {
	for _, e := range edges {
		pres := def.Dependencies[e.to]
		kept := pres[:0]
		for _, p := range pres {
			if p != e.from {
				kept = append(kept, p)
			}
		}
		if len(kept) == 0 {
			delete(def.Dependencies, e.to)
			continue
		}
		def.Dependencies[e.to] = kept
	}
	if len(def.Dependencies) == 0 {
		def.Dependencies = nil
	}
}
