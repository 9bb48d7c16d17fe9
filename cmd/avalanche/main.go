/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: main.go
Description: Command-line entry point for the avalanche exploration
driver: cobra root with persistent flags bound through viper, plus the
run/report/check subcommands.
*/

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kleascm/avalanche-driver/cmd/avalanche/commands"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "avalanche",
		Short: "avalanche - concolic exploration driver",
		Long: `avalanche drives best-first symbolic exploration of a target program: it
repeatedly traces an input's path condition, asks an SMT solver to flip each
branch along it, checks the resulting candidates for new coverage and
crashes, and explores the highest-scoring frontier input next.`,
		Version: "0.1.0",
	}

	var (
		configFile string
		logLevel   string
		logFormat  string
	)
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Logging level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (text, json, custom)")
	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.AddCommand(buildRunCmd())
	rootCmd.AddCommand(buildReportCmd())
	rootCmd.AddCommand(buildCheckCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run one exploration session against a target",
		RunE:  commands.RunExplore,
	}

	f := runCmd.Flags()
	f.String("target", "", "Path to the target binary (required)")
	f.StringSlice("args", []string{}, "Command-line arguments for the target")
	f.String("mode", "files", "Target input mode: files, sockets, datagrams")
	f.StringSlice("file", []string{}, "Seed input file (repeatable; one per target input file or message)")

	f.String("tracer", "avalanche-tracer", "Path to the tracing instrumentation plugin")
	f.String("checker", "avalanche-checker", "Path to the coverage/error-checking plugin")
	f.String("solver", "stp", "Path to the SMT solver binary")

	f.Uint32("invert-depth", 1, "Branch-collection depth per tracer invocation (D)")
	f.Uint32("start-depth", 0, "Initial start depth for the root input")
	f.Bool("check-prediction", false, "Ask the tracer to compare observed branches against the popped input's prediction")

	f.Duration("tracer-timeout", 30*time.Second, "Soft timeout for one tracer run (0 disables)")
	f.Duration("checker-timeout", 10*time.Second, "Timeout for one checker run")
	f.Duration("solver-timeout", 30*time.Second, "Timeout for one solver invocation")
	f.Int("threads", 0, "Solver fan-out concurrency (0 = sequential)")

	f.Bool("memcheck", false, "Run the checker in memory-checker mode")
	f.Bool("leaks", false, "Report leak-only findings from the memory checker")
	f.Bool("check-danger", false, "Process dangertrace.log memory-safety queries each iteration")
	f.Bool("suppress-subcalls", false, "Suppress subcall tracing in the tracer")
	f.Bool("trace-children", false, "Trace child processes spawned by the target")

	f.String("host", "127.0.0.1", "Target host for socket-mode targets")
	f.Int("port", 0, "Target port for socket-mode targets")

	f.StringSlice("func-name", []string{}, "Restrict tracing to this function (repeatable)")
	f.String("func-filter-file", "", "Path to a function allow/deny list for the tracer")
	f.String("mask-file", "", "Path to an input byte mask for the tracer")

	f.Bool("distributed", false, "Offload surplus frontier inputs to a distribution coordinator")
	f.String("dist-host", "", "Distribution coordinator host")
	f.Int("dist-port", 0, "Distribution coordinator port")
	f.Bool("protect-main-agent", false, "Keep at least 5*agents local inputs before offloading surplus")
	f.Int("agents", 1, "Number of peer agents (used only to size the protect-main-agent floor)")
	f.Bool("agent", false, "Run as a remote worker that can request fresh seeds from a supervising parent")

	f.String("work-dir", "./avalanche_work", "Working directory for on-disk artefacts")
	f.String("report-log", "", "Also write the final crash report to this file")
	f.Bool("debug", false, "Verbose tracer/checker debug output")
	f.Bool("verbose", false, "Verbose engine logging")

	for _, name := range []string{
		"target", "args", "mode", "file", "tracer", "checker", "solver",
		"invert-depth", "start-depth", "check-prediction",
		"tracer-timeout", "checker-timeout", "solver-timeout", "threads",
		"memcheck", "leaks", "check-danger", "suppress-subcalls", "trace-children",
		"host", "port", "func-name", "func-filter-file", "mask-file",
		"distributed", "dist-host", "dist-port", "protect-main-agent", "agents", "agent",
		"work-dir", "report-log", "debug", "verbose",
	} {
		viper.BindPFlag(name, f.Lookup(name))
	}

	return runCmd
}

func buildReportCmd() *cobra.Command {
	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Re-render a prior run's crash groups from its on-disk artefacts",
		RunE:  commands.RunReport,
	}
	f := reportCmd.Flags()
	f.String("work-dir", "./avalanche_work", "Working directory of the prior run")
	f.String("report-log", "", "Write the rendered report to this file instead of stdout")
	viper.BindPFlag("work-dir", f.Lookup("work-dir"))
	viper.BindPFlag("report-log", f.Lookup("report-log"))
	return reportCmd
}

func buildCheckCmd() *cobra.Command {
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configured tracer/checker/solver binaries before a run",
		RunE:  commands.RunCheck,
	}
	f := checkCmd.Flags()
	f.String("tracer", "avalanche-tracer", "Path to the tracing instrumentation plugin")
	f.String("checker", "avalanche-checker", "Path to the coverage/error-checking plugin")
	f.String("solver", "stp", "Path to the SMT solver binary")
	viper.BindPFlag("tracer", f.Lookup("tracer"))
	viper.BindPFlag("checker", f.Lookup("checker"))
	viper.BindPFlag("solver", f.Lookup("solver"))
	return checkCmd
}
