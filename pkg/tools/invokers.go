/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: invokers.go
Description: Thin typed argv builders for the three external collaborators
the engine never implements itself: the tracing plugin, the coverage/error
checker, and the SMT solver binary. Each Invoker only assembles an argv
slice; spawning and timeout handling belongs to procrunner.
*/

package tools

import "fmt"

// TracerOptions controls the argv the exploration engine passes to the
// tracing instrumentation plugin for one iteration.
type TracerOptions struct {
	Binary           string
	StartDepth       uint32
	InvertDepth      uint32
	DumpPrediction   bool
	CheckPrediction  bool
	CheckDanger      bool
	FuncNames        []string
	FuncFilterFile   string
	MaskFile         string
	SuppressSubcalls bool
	Sockets          bool
	Datagrams        bool
	Host             string
	Port             int
	Files            []string
	TargetArgv       []string
}

// TracerInvoker builds the argv for one tracer run: the tracer binary,
// its own flags, then "--" and the target's own argv.
func TracerInvoker(opt TracerOptions) []string {
	argv := []string{opt.Binary}
	argv = append(argv, fmt.Sprintf("--startdepth=%d", opt.StartDepth))
	argv = append(argv, fmt.Sprintf("--invertdepth=%d", opt.InvertDepth))

	if opt.DumpPrediction {
		argv = append(argv, "--dump-prediction=yes")
	} else {
		argv = append(argv, "--dump-file=calldump.log")
	}

	if opt.CheckDanger {
		argv = append(argv, "--check-danger=yes")
	} else {
		argv = append(argv, "--check-danger=no")
	}

	for _, fn := range opt.FuncNames {
		argv = append(argv, "--func-name="+fn)
	}
	if opt.FuncFilterFile != "" {
		argv = append(argv, "--func-filter-file="+opt.FuncFilterFile)
	}
	if opt.MaskFile != "" {
		argv = append(argv, "--mask="+opt.MaskFile)
	}
	if opt.SuppressSubcalls {
		argv = append(argv, "--suppress-subcalls=yes")
	}

	switch {
	case opt.Sockets:
		argv = append(argv, "--sockets=yes", "--replace=yes",
			fmt.Sprintf("--host=%s", opt.Host), fmt.Sprintf("--port=%d", opt.Port))
	case opt.Datagrams:
		argv = append(argv, "--datagrams=yes", "--replace=yes")
	default:
		for _, f := range opt.Files {
			argv = append(argv, "--file="+f)
		}
	}

	if opt.CheckPrediction {
		argv = append(argv, "--check-prediction=yes")
	}

	if len(opt.TargetArgv) > 0 {
		argv = append(argv, "--")
		argv = append(argv, opt.TargetArgv...)
	}
	return argv
}

// CheckerOptions controls the argv passed to the coverage/error-checking
// plugin run against one candidate child input.
type CheckerOptions struct {
	Binary       string
	AlarmSeconds int
	ThreadID     int
	NoCoverage   bool
	Sockets      bool
	Datagrams    bool
	Host         string
	Port         int
	Files        []string
	TargetArgv   []string
}

// CheckerInvoker builds the argv for one checker run. The log-file and
// filename flags are stamped with the per-thread suffix so concurrent
// workers never collide on the same artefact path.
func CheckerInvoker(opt CheckerOptions) []string {
	argv := []string{opt.Binary}
	if opt.AlarmSeconds > 0 {
		argv = append(argv, fmt.Sprintf("--alarm=%d", opt.AlarmSeconds))
	}
	argv = append(argv, fmt.Sprintf("--log-file=execution_%d.log", opt.ThreadID))
	argv = append(argv, fmt.Sprintf("--filename=basic_blocks_%d.log", opt.ThreadID))
	if opt.NoCoverage {
		argv = append(argv, "--no-coverage=yes")
	}

	switch {
	case opt.Sockets:
		argv = append(argv, "--sockets=yes", "--replace=yes",
			fmt.Sprintf("--host=%s", opt.Host), fmt.Sprintf("--port=%d", opt.Port))
	case opt.Datagrams:
		argv = append(argv, "--datagrams=yes", "--replace=yes")
	default:
		for _, f := range opt.Files {
			argv = append(argv, "--file="+f)
		}
	}

	if len(opt.TargetArgv) > 0 {
		argv = append(argv, "--")
		argv = append(argv, opt.TargetArgv...)
	}
	return argv
}

// SolverInvoker builds the argv for one SMT solver invocation: the
// solver binary followed by "-p <cnfFile>".
func SolverInvoker(binary, cnfFile string) []string {
	return []string{binary, "-p", cnfFile}
}
