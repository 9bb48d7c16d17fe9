package procrunner_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kleascm/avalanche-driver/pkg/procrunner"
)

func paths(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "stdout.log"), filepath.Join(dir, "stderr.log")
}

func TestRunReportsExitCode(t *testing.T) {
	r := procrunner.New()
	stdout, stderr := paths(t)

	res, err := r.Run(context.Background(), 0, []string{"/bin/sh", "-c", "exit 3"}, 0, stdout, stderr)
	require.NoError(t, err)
	assert.Equal(t, procrunner.StatusExited, res.Status)
	assert.Equal(t, 3, res.ExitCode)
}

func TestRunRedirectsStdout(t *testing.T) {
	r := procrunner.New()
	stdout, stderr := paths(t)

	res, err := r.Run(context.Background(), 0, []string{"/bin/sh", "-c", "echo out; echo err 1>&2"}, 0, stdout, stderr)
	require.NoError(t, err)
	assert.Equal(t, procrunner.StatusExited, res.Status)

	outData, err := os.ReadFile(stdout)
	require.NoError(t, err)
	assert.Equal(t, "out\n", string(outData))
	errData, err := os.ReadFile(stderr)
	require.NoError(t, err)
	assert.Equal(t, "err\n", string(errData))
}

func TestRunTimeoutIsKilledNotSignaled(t *testing.T) {
	r := procrunner.New()
	stdout, stderr := paths(t)

	res, err := r.Run(context.Background(), 0, []string{"/bin/sh", "-c", "sleep 10"},
		100*time.Millisecond, stdout, stderr)
	require.NoError(t, err)
	assert.Equal(t, procrunner.StatusKilled, res.Status,
		"a timeout kill must be distinguishable from a genuine crash signal")
}

func TestRunEmptyArgv(t *testing.T) {
	r := procrunner.New()
	stdout, stderr := paths(t)
	res, err := r.Run(context.Background(), 0, nil, 0, stdout, stderr)
	assert.Error(t, err)
	assert.Equal(t, procrunner.StatusIOError, res.Status)
}

func TestRunMissingBinary(t *testing.T) {
	r := procrunner.New()
	stdout, stderr := paths(t)
	res, err := r.Run(context.Background(), 0,
		[]string{filepath.Join(t.TempDir(), "no-such-binary")}, 0, stdout, stderr)
	assert.Error(t, err)
	assert.Equal(t, procrunner.StatusIOError, res.Status)
}

func TestKillWithNoTrackedChildIsNoop(t *testing.T) {
	r := procrunner.New()
	assert.NoError(t, r.Kill(42))
}
