package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kleascm/avalanche-driver/pkg/logging"
	"github.com/kleascm/avalanche-driver/pkg/model"
)

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	logger, err := logging.NewLogger(&logging.LoggerConfig{
		Level:     logging.LogLevelError,
		Format:    logging.LogFormatText,
		OutputDir: t.TempDir(),
		MaxFiles:  2,
		MaxSize:   1 << 20,
	})
	require.NoError(t, err)
	t.Cleanup(func() { logger.Close() })
	return logger
}

func testEngine(t *testing.T, cfg Config, fs afero.Fs) *Engine {
	t.Helper()
	if cfg.WorkDir == "" {
		cfg.WorkDir = "/work"
	}
	initial := model.NewRoot([]model.Blob{{Name: "file_0", Data: []byte("hello")}}, cfg.Mode, cfg.StartDepth)
	return New(cfg, fs, testLogger(t), initial)
}

func TestFloorPolicy(t *testing.T) {
	fs := afero.NewMemMapFs()
	e := testEngine(t, Config{ProtectMainAgent: true, Agents: 2}, fs)
	assert.Equal(t, 10, e.floor())

	e = testEngine(t, Config{Agents: 2}, fs)
	assert.Equal(t, 1, e.floor())
}

func TestDeriveChildAppliesModel(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/work/model_0.log",
		[]byte("ASSERT( file_0_0 = 0h00 );\n"), 0o644))

	parent := model.NewRoot([]model.Blob{{Name: "file_0", Data: []byte("hello")}}, model.ModeFiles, 0)
	child, ok, err := DeriveChild(fs, parent, "/work/model_0.log", 0, []bool{true})
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, []byte("\x00ello"), child.Blobs[0].Data)
	assert.Equal(t, uint32(1), child.StartDepth)
	assert.Equal(t, []bool{false}, child.Prediction)
	assert.Equal(t, []byte("hello"), parent.Blobs[0].Data, "parent blobs must not alias the child's")
}

func TestDeriveProbeNeedsNoPredictionVector(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/work/model_0.log",
		[]byte("ASSERT( file_0_1 = 0h41 );\n"), 0o644))

	parent := model.NewRoot([]model.Blob{{Name: "file_0", Data: []byte("hello")}}, model.ModeFiles, 3)
	probe, ok, err := DeriveProbe(fs, parent, "/work/model_0.log")
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, []byte("hAllo"), probe.Blobs[0].Data)
	assert.Empty(t, probe.Prediction)
	assert.Equal(t, uint32(3), probe.StartDepth)
	assert.Same(t, parent, probe.Parent)

	require.NoError(t, afero.WriteFile(fs, "/work/model_1.log",
		[]byte("ASSERT( file_9_0 = 0h00 );\n"), 0o644))
	_, ok, err = DeriveProbe(fs, parent, "/work/model_1.log")
	require.NoError(t, err)
	assert.False(t, ok, "a model that rewrites no byte yields no probe")
}

func TestDeriveChildPrunesWhenModelTouchesNothing(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/work/model_0.log",
		[]byte("ASSERT( file_9_0 = 0h00 );\n"), 0o644))

	parent := model.NewRoot([]model.Blob{{Name: "file_0", Data: []byte("hi")}}, model.ModeFiles, 0)
	_, ok, err := DeriveChild(fs, parent, "/work/model_0.log", 0, []bool{true})
	require.NoError(t, err)
	assert.False(t, ok, "a model that rewrites no byte prunes the branch")
}

func TestReadActualParsesBranchVector(t *testing.T) {
	fs := afero.NewMemMapFs()
	e := testEngine(t, Config{}, fs)
	require.NoError(t, afero.WriteFile(fs, "/work/actual.log", []byte("101"), 0o644))

	actual, err := e.readActual(e.dirs())
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, true}, actual)
}

func TestCheckDivergenceParsesFlagAndDepth(t *testing.T) {
	fs := afero.NewMemMapFs()
	e := testEngine(t, Config{}, fs)
	require.NoError(t, afero.WriteFile(fs, "/work/divergence.log", []byte("true\n3\n"), 0o644))

	diverged, depth, err := e.checkDivergence(e.dirs())
	require.NoError(t, err)
	assert.True(t, diverged)
	assert.Equal(t, uint32(3), depth)

	require.NoError(t, afero.WriteFile(fs, "/work/divergence.log", []byte("false"), 0o644))
	diverged, _, err = e.checkDivergence(e.dirs())
	require.NoError(t, err)
	assert.False(t, diverged)
}

func TestRefreshSocketBlobsSplitsEvenly(t *testing.T) {
	fs := afero.NewMemMapFs()
	e := testEngine(t, Config{Mode: model.ModeSockets}, fs)
	fi := model.NewRoot([]model.Blob{
		{Name: "msg_0", Data: []byte("aa")},
		{Name: "msg_1", Data: []byte("bb")},
	}, model.ModeSockets, 0)
	require.NoError(t, afero.WriteFile(fs, "/work/replace_data", []byte("0123456789"), 0o644))

	require.NoError(t, e.refreshSocketBlobs(fi, e.dirs()))
	assert.Equal(t, []byte("01234"), fi.Blobs[0].Data)
	assert.Equal(t, []byte("56789"), fi.Blobs[1].Data)
}

func TestDumpSeedAndCleanupKeepFindings(t *testing.T) {
	fs := afero.NewMemMapFs()
	e := testEngine(t, Config{StpThreads: 2}, fs)

	require.NoError(t, afero.WriteFile(fs, "/work/curtrace_0.log", []byte("x"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/work/execution_1.log", []byte("x"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/work/exploit_0", []byte("keep"), 0o644))

	require.NoError(t, e.DumpSeed())
	e.CleanupArtefacts()

	for _, gone := range []string{"/work/curtrace_0.log", "/work/execution_1.log"} {
		exists, err := afero.Exists(fs, gone)
		require.NoError(t, err)
		assert.False(t, exists, "%s should be cleaned up", gone)
	}
	for _, kept := range []string{"/work/exploit_0", "/work/seed_0"} {
		exists, err := afero.Exists(fs, kept)
		require.NoError(t, err)
		assert.True(t, exists, "%s should survive cleanup", kept)
	}
}

type fakeCoordinator struct {
	ok     bool
	talked int
	closed bool
}

func (f *fakeCoordinator) TalkToServer(ctx context.Context, fe *FrontierExchange) bool {
	f.talked++
	return f.ok
}
func (f *fakeCoordinator) Close() { f.closed = true }

func TestTalkToServerDowngradesOnLoss(t *testing.T) {
	fs := afero.NewMemMapFs()
	e := testEngine(t, Config{}, fs)
	fake := &fakeCoordinator{ok: false}
	e.SetCoordinator(fake)

	e.talkToServer(context.Background())
	assert.Equal(t, 1, fake.talked)
	assert.True(t, fake.closed)
	assert.True(t, e.coordinatorDown.Load())
}

func TestRunTerminatesWhenToolsAreAbsent(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := Config{
		TargetArgv:    []string{"./target"},
		TracerBinary:  filepath.Join(t.TempDir(), "missing-tracer"),
		CheckerBinary: filepath.Join(t.TempDir(), "missing-checker"),
		SolverBinary:  filepath.Join(t.TempDir(), "missing-solver"),
		WorkDir:       t.TempDir(),
	}
	initial := model.NewRoot([]model.Blob{{Name: "file_0", Data: []byte("hi")}}, model.ModeFiles, 0)
	e := New(cfg, fs, testLogger(t), initial)

	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, 1, e.Iterations(), "the initial input is popped once, fails to trace, and the run ends")
}

func TestRunUsesFreshSeedDepthWithoutError(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := Config{
		TargetArgv:    []string{"./target"},
		TracerBinary:  filepath.Join(t.TempDir(), "missing-tracer"),
		CheckerBinary: filepath.Join(t.TempDir(), "missing-checker"),
		SolverBinary:  filepath.Join(t.TempDir(), "missing-solver"),
		WorkDir:       t.TempDir(),
	}
	initial := model.NewRoot([]model.Blob{{Name: "file_0", Data: []byte("hi")}}, model.ModeFiles, 0)
	e := New(cfg, fs, testLogger(t), initial)
	e.SetSeedSource(StaticSeedSource{StartDepth: 7})

	require.NoError(t, e.Run(context.Background()))
}
