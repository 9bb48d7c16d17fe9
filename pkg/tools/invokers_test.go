package tools_test

import (
	"testing"

	"github.com/kleascm/avalanche-driver/pkg/tools"
	"github.com/stretchr/testify/assert"
)

func TestTracerInvokerFilesMode(t *testing.T) {
	argv := tools.TracerInvoker(tools.TracerOptions{
		Binary:      "avalanche-tracer",
		StartDepth:  3,
		InvertDepth: 1,
		Files:       []string{"file_0"},
		TargetArgv:  []string{"./target", "-x"},
	})
	assert.Equal(t, []string{
		"avalanche-tracer",
		"--startdepth=3", "--invertdepth=1", "--dump-file=calldump.log",
		"--check-danger=no", "--file=file_0",
		"--", "./target", "-x",
	}, argv)
}

func TestTracerInvokerSocketsMode(t *testing.T) {
	argv := tools.TracerInvoker(tools.TracerOptions{
		Binary:     "avalanche-tracer",
		Sockets:    true,
		Host:       "127.0.0.1",
		Port:       9000,
		TargetArgv: []string{"./target"},
	})
	assert.Contains(t, argv, "--sockets=yes")
	assert.Contains(t, argv, "--host=127.0.0.1")
	assert.Contains(t, argv, "--port=9000")
}

func TestTracerInvokerDumpPrediction(t *testing.T) {
	argv := tools.TracerInvoker(tools.TracerOptions{Binary: "t", DumpPrediction: true})
	assert.Contains(t, argv, "--dump-prediction=yes")
	assert.NotContains(t, argv, "--dump-file=calldump.log")
}

func TestCheckerInvokerStampsThreadSuffix(t *testing.T) {
	argv := tools.CheckerInvoker(tools.CheckerOptions{
		Binary:   "avalanche-checker",
		ThreadID: 2,
		Files:    []string{"file_0"},
	})
	assert.Contains(t, argv, "--log-file=execution_2.log")
	assert.Contains(t, argv, "--filename=basic_blocks_2.log")
}

func TestSolverInvoker(t *testing.T) {
	argv := tools.SolverInvoker("stp", "query.cnf")
	assert.Equal(t, []string{"stp", "-p", "query.cnf"}, argv)
}
