package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/BaSui01/flowforge/config"
	"github.com/BaSui01/flowforge/types"
	"github.com/BaSui01/flowforge/workflow"
	"github.com/BaSui01/flowforge/workflow/dsl"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// errNegative 表示命令正常完成但结论为否定（定义无效、运行失败），报告已写到 stdout
var errNegative = errors.New("negative result")

type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func (a *app) exitCode(err error) int {
	var usage usageError
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errNegative):
		return exitFailure
	case errors.Is(err, flag.ErrHelp):
		return exitOK
	case errors.As(err, &usage):
		fmt.Fprintf(a.stderr, "Error: %s\n", usage.msg)
		return exitUsage
	}

	fmt.Fprintf(a.stderr, "Error: %v\n", err)
	if te, ok := types.AsError(err); ok && len(te.Details) > 0 {
		keys := make([]string, 0, len(te.Details))
		for k := range te.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(a.stderr, "  %s: %v\n", k, te.Details[k])
		}
	}
	return exitFailure
}

// =============================================================================
// 🔧 公共流程
// =============================================================================

func (a *app) flagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	configPath := fs.String("config", "", "Path to config file")
	return fs, configPath
}

// start 加载配置、初始化日志并装配组件
func (a *app) start(ctx context.Context, configPath string, opts runtimeOptions) (*runtime, error) {
	loader := config.NewLoader().WithValidator(func(c *config.Config) error { return c.Validate() })
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	return newRuntime(ctx, cfg, initLogger(cfg.Log), opts)
}

func (a *app) finish(ctx context.Context, rt *runtime) {
	rt.close(ctx)
	_ = rt.logger.Sync()
}

// workflowArg 返回唯一的位置参数
func workflowArg(fs *flag.FlagSet) (string, error) {
	if fs.NArg() != 1 {
		return "", usageError{msg: fmt.Sprintf("%s expects exactly one workflow argument", fs.Name())}
	}
	return fs.Arg(0), nil
}

// load 解析文件或 sample:<name> 形式的内置样例
func (rt *runtime) load(ctx context.Context, ref string) (*workflow.WorkflowDefinition, error) {
	if name, ok := strings.CutPrefix(ref, "sample:"); ok {
		src, err := dsl.SampleSource(name)
		if err != nil {
			return nil, err
		}
		return rt.parser.ParseContext(ctx, src, dsl.FormatYAML)
	}
	return rt.parser.ParseFile(ref)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// =============================================================================
// ✅ validate
// =============================================================================

type validateReport struct {
	WorkflowID string     `json:"workflow_id"`
	Valid      bool       `json:"valid"`
	Errors     []string   `json:"errors"`
	Warnings   []string   `json:"warnings"`
	Cycles     [][]string `json:"cycles,omitempty"`
}

func (a *app) runValidate(ctx context.Context, args []string) error {
	fs, configPath := a.flagSet("validate")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ref, err := workflowArg(fs)
	if err != nil {
		return err
	}

	rt, err := a.start(ctx, *configPath, runtimeOptions{})
	if err != nil {
		return err
	}
	defer a.finish(ctx, rt)

	def, err := rt.load(ctx, ref)
	if err != nil {
		return err
	}

	structure := rt.parser.Validate(def)
	dag := workflow.NewDAGValidator(rt.logger).Validate(def)

	report := validateReport{
		WorkflowID: def.ID,
		Errors:     structure.Errors,
		Warnings:   append(structure.Warnings, dag.Warnings...),
		Cycles:     dag.CyclesDetected,
	}
	for _, c := range dag.CyclesDetected {
		report.Errors = append(report.Errors, "cycle detected: "+workflow.FormatCycle(c))
	}
	report.Valid = structure.Valid && dag.IsValidDAG

	if err := writeJSON(a.stdout, report); err != nil {
		return err
	}
	if !report.Valid {
		return errNegative
	}
	return nil
}

// =============================================================================
// 🗺️ plan
// =============================================================================

type planReport struct {
	WorkflowID string                `json:"workflow_id"`
	IsValidDAG bool                  `json:"is_valid_dag"`
	Levels     [][]string            `json:"levels"`
	Metrics    workflow.GraphMetrics `json:"metrics"`
	Cycles     []string              `json:"cycles,omitempty"`
}

func (a *app) runPlan(ctx context.Context, args []string) error {
	fs, configPath := a.flagSet("plan")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ref, err := workflowArg(fs)
	if err != nil {
		return err
	}

	rt, err := a.start(ctx, *configPath, runtimeOptions{})
	if err != nil {
		return err
	}
	defer a.finish(ctx, rt)

	def, err := rt.load(ctx, ref)
	if err != nil {
		return err
	}
	result := workflow.NewDAGValidator(rt.logger).Validate(def)

	report := planReport{
		WorkflowID: def.ID,
		IsValidDAG: result.IsValidDAG,
		Levels:     result.Levels,
		Metrics:    result.GraphMetrics,
	}
	for _, c := range result.CyclesDetected {
		report.Cycles = append(report.Cycles, workflow.FormatCycle(c))
	}
	if err := writeJSON(a.stdout, report); err != nil {
		return err
	}
	if !result.IsValidDAG {
		return errNegative
	}
	return nil
}

// =============================================================================
// 🚀 optimize
// =============================================================================

func (a *app) runOptimize(ctx context.Context, args []string) error {
	fs, configPath := a.flagSet("optimize")
	apply := fs.String("apply", "", "Comma separated improvements to apply")
	out := fs.String("o", "", "Write the optimized workflow to this file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ref, err := workflowArg(fs)
	if err != nil {
		return err
	}

	rt, err := a.start(ctx, *configPath, runtimeOptions{})
	if err != nil {
		return err
	}
	defer a.finish(ctx, rt)

	def, err := rt.load(ctx, ref)
	if err != nil {
		return err
	}

	if *apply == "" {
		return writeJSON(a.stdout, rt.optimizer.Optimize(def))
	}

	var names []string
	for _, n := range strings.Split(*apply, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	optimized, err := rt.optimizer.GenerateOptimized(def, names)
	if err != nil {
		return err
	}

	if *out == "" {
		text, err := rt.parser.Export(optimized, dsl.FormatYAML)
		if err != nil {
			return err
		}
		_, err = io.WriteString(a.stdout, text)
		return err
	}
	if err := rt.parser.ExportFile(optimized, *out); err != nil {
		return err
	}
	fmt.Fprintf(a.stderr, "optimized workflow %s written to %s\n", optimized.ID, *out)
	return nil
}

// =============================================================================
// 📤 export
// =============================================================================

func (a *app) runExport(ctx context.Context, args []string) error {
	fs, configPath := a.flagSet("export")
	formatName := fs.String("format", "yaml", "Output format: yaml or json")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ref, err := workflowArg(fs)
	if err != nil {
		return err
	}
	format, err := dsl.ParseFormat(*formatName)
	if err != nil || format == dsl.FormatAuto {
		return usageError{msg: fmt.Sprintf("unsupported export format %q", *formatName)}
	}

	rt, err := a.start(ctx, *configPath, runtimeOptions{})
	if err != nil {
		return err
	}
	defer a.finish(ctx, rt)

	def, err := rt.load(ctx, ref)
	if err != nil {
		return err
	}
	text, err := rt.parser.Export(def, format)
	if err != nil {
		return err
	}
	_, err = io.WriteString(a.stdout, text)
	return err
}

// =============================================================================
// ▶️ run
// =============================================================================

func (a *app) runRun(ctx context.Context, args []string) error {
	fs, configPath := a.flagSet("run")
	inputsJSON := fs.String("inputs", "", "Run inputs as a JSON object")
	withArchive := fs.Bool("archive", false, "Store the run record in the configured database")
	metricsOut := fs.String("metrics-out", "", "Write Prometheus metrics to this file after the run")
	events := fs.Bool("events", false, "Print run events to stderr as JSON lines")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ref, err := workflowArg(fs)
	if err != nil {
		return err
	}

	var inputs map[string]any
	if *inputsJSON != "" {
		if err := json.Unmarshal([]byte(*inputsJSON), &inputs); err != nil {
			return usageError{msg: fmt.Sprintf("-inputs must be a JSON object: %v", err)}
		}
	}

	rt, err := a.start(ctx, *configPath, runtimeOptions{withArchive: *withArchive})
	if err != nil {
		return err
	}
	defer a.finish(ctx, rt)

	def, err := rt.load(ctx, ref)
	if err != nil {
		return err
	}

	var emitter workflow.RunEventEmitter
	if *events {
		var mu sync.Mutex
		enc := json.NewEncoder(a.stderr)
		emitter = func(ev workflow.RunEvent) {
			mu.Lock()
			defer mu.Unlock()
			_ = enc.Encode(ev)
		}
	}

	record := rt.engine(emitter).Execute(ctx, def, inputs)
	rt.reportCircuits()
	rt.pruneArchive(ctx)

	path := *metricsOut
	if path == "" {
		path = rt.cfg.Metrics.OutputFile
	}
	if err := rt.writeMetrics(path); err != nil {
		return err
	}

	if err := writeJSON(a.stdout, record); err != nil {
		return err
	}
	if record.Status != workflow.ExecutionStatusCompleted {
		return errNegative
	}
	return nil
}

// =============================================================================
// 🗄️ history
// =============================================================================

func (a *app) runHistory(ctx context.Context, args []string) error {
	fs, configPath := a.flagSet("history")
	limit := fs.Int("limit", 20, "Maximum number of runs")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageError{msg: "history expects exactly one workflow id"}
	}

	rt, err := a.start(ctx, *configPath, runtimeOptions{withArchive: true})
	if err != nil {
		return err
	}
	defer a.finish(ctx, rt)

	runs, err := rt.archive.ListByWorkflow(ctx, fs.Arg(0), *limit)
	if err != nil {
		return err
	}
	return writeJSON(a.stdout, runs)
}

// =============================================================================
// 📚 samples
// =============================================================================

func (a *app) runSamples(_ context.Context, args []string) error {
	switch len(args) {
	case 0:
		for _, name := range dsl.SampleNames() {
			fmt.Fprintln(a.stdout, name)
		}
		return nil
	case 1:
		src, err := dsl.SampleSource(args[0])
		if err != nil {
			return err
		}
		_, err = io.WriteString(a.stdout, src)
		return err
	default:
		return usageError{msg: "samples accepts at most one name"}
	}
}
