// =============================================================================
// FlowForge 命令行入口
// =============================================================================
// 解析、校验、优化、导出并执行工作流定义
//
// 使用方法:
//
//	flowforge validate pipeline.yaml
//	flowforge plan sample:diamond
//	flowforge optimize -apply retry_policy,timeout -o out.yaml pipeline.yaml
//	flowforge export -format json pipeline.yaml
//	flowforge run -archive -metrics-out run.prom pipeline.yaml
//	flowforge history -limit 5 project_generation
//	flowforge samples [name]
//	flowforge version
// =============================================================================

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/BaSui01/flowforge/internal/telemetry"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := newApp(os.Stdout, os.Stderr).run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

// app 绑定输出流，便于测试
type app struct {
	stdout io.Writer
	stderr io.Writer
}

func newApp(stdout, stderr io.Writer) *app {
	if Version != "dev" {
		telemetry.Version = Version
	}
	return &app{stdout: stdout, stderr: stderr}
}

// run 执行子命令并返回进程退出码
func (a *app) run(ctx context.Context, args []string) int {
	if len(args) < 1 {
		a.printUsage()
		return exitUsage
	}

	commands := map[string]func(context.Context, []string) error{
		"validate": a.runValidate,
		"plan":     a.runPlan,
		"optimize": a.runOptimize,
		"export":   a.runExport,
		"run":      a.runRun,
		"history":  a.runHistory,
		"samples":  a.runSamples,
	}

	switch args[0] {
	case "version":
		a.printVersion()
		return exitOK
	case "help", "-h", "--help":
		a.printUsage()
		return exitOK
	}

	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(a.stderr, "Unknown command: %s\n", args[0])
		a.printUsage()
		return exitUsage
	}
	return a.exitCode(cmd(ctx, args[1:]))
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func (a *app) printVersion() {
	fmt.Fprintf(a.stdout, "FlowForge %s\n", Version)
	fmt.Fprintf(a.stdout, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(a.stdout, "  Git Commit: %s\n", GitCommit)
}

func (a *app) printUsage() {
	fmt.Fprintln(a.stdout, `FlowForge - workflow orchestration engine

Usage:
  flowforge <command> [options] <workflow>

<workflow> is a .yaml/.yml/.json file or sample:<name> for a built-in sample.

Commands:
  validate   Check structure and cycles, print the validation report
  plan       Print the execution levels and graph metrics
  optimize   Score the workflow and list improvements
  export     Re-serialize the workflow in normalized form
  run        Execute the workflow with the built-in echo executors
  history    List archived runs of a workflow id
  samples    List built-in samples or print one
  version    Show version information
  help       Show this help message

Common options:
  -config <path>       Path to configuration file (YAML)

Options for 'optimize':
  -apply <names>       Comma separated improvements to apply
                       (retry_policy, timeout, redundant_dependency, parallelization)
  -o <path>            Write the optimized workflow here instead of stdout

Options for 'export':
  -format yaml|json    Output format (default yaml)

Options for 'run':
  -inputs <json>       Run inputs as a JSON object
  -archive             Store the run record in the configured database
  -metrics-out <path>  Write Prometheus metrics in text format after the run
  -events              Print run events to stderr as JSON lines

Options for 'history':
  -limit <n>           Maximum number of runs (default 20)

Examples:
  flowforge plan sample:project_generation
  flowforge run -config flowforge.yaml -archive pipeline.yaml
  flowforge export -format json pipeline.yaml`)
}
