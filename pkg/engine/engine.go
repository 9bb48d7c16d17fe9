/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: engine.go
Description: The exploration engine's main loop: pop the frontier, dump
inputs, invoke the tracer, split the trace into per-branch SMT queries,
fan them out sequentially or via the worker pool, check each candidate,
score it against global coverage, insert survivors, detect divergence,
and talk to the distribution coordinator.
*/

package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"

	"github.com/kleascm/avalanche-driver/pkg/buffer"
	"github.com/kleascm/avalanche-driver/pkg/coverage"
	"github.com/kleascm/avalanche-driver/pkg/crash"
	"github.com/kleascm/avalanche-driver/pkg/frontier"
	"github.com/kleascm/avalanche-driver/pkg/logging"
	"github.com/kleascm/avalanche-driver/pkg/model"
	"github.com/kleascm/avalanche-driver/pkg/procrunner"
	"github.com/kleascm/avalanche-driver/pkg/tools"
	"github.com/kleascm/avalanche-driver/pkg/workerpool"
)

// Coordinator is the capability the engine needs from the distribution
// client (pkg/coordinator), narrowed to what the main loop calls. Kept as
// an interface so the engine can run standalone in tests without a TCP
// dial.
type Coordinator interface {
	// TalkToServer runs one post-iteration exchange and reports whether
	// the coordinator is still usable. A false return means the engine
	// should downgrade to local-only mode for the rest of the run.
	TalkToServer(ctx context.Context, fe *FrontierExchange) (ok bool)
	Close()
}

// FrontierExchange is the capability the coordinator needs back from the
// engine to answer "announce"/"give input" requests without importing
// pkg/frontier's concrete type into pkg/coordinator.
type FrontierExchange struct {
	Len              int
	Floor            int
	PopSecondHighest func() (*model.Input, bool)
	EffectiveConfig  *Config
}

// SeedSource hands the engine a fresh starting depth when every local
// frontier entry has stopped earning coverage. The concrete
// implementation signals a supervising parent process (SIGUSR1/SIGUSR2
// plus startdepth.log); wrapping it behind an interface lets tests
// inject a depth without touching signals.
type SeedSource interface {
	RequestSeed(ctx context.Context) (startDepth uint32, err error)
}

// Engine is one exploration run's mutable state, threaded explicitly
// rather than kept in package globals. Callers wire a context.Context's
// cancellation to SIGINT themselves; the engine never installs signal
// handlers.
type Engine struct {
	cfg    Config
	fs     afero.Fs
	logger *logging.Logger

	frontier *frontier.Frontier
	coverage *coverage.Set
	crashes  *crash.Report
	pool     *workerpool.Pool
	runner   *procrunner.Runner

	coordinator Coordinator
	seedSource  SeedSource

	initial *model.Input

	divSeq     int64 // atomic: names divergence_<n> artefacts
	iterations int64 // atomic: total completed iterations, for shutdown reporting
	killed     atomic.Bool

	coordinatorDown atomic.Bool // true once the coordinator is deemed lost

	mu sync.Mutex // serializes coordinator talk
}

// New constructs an Engine ready to run. fs is the filesystem the engine
// dumps artefacts to and reads tool output from (afero.NewOsFs() in
// production, afero.NewMemMapFs() in tests).
func New(cfg Config, fs afero.Fs, logger *logging.Logger, initial *model.Input) *Engine {
	return &Engine{
		cfg:      cfg,
		fs:       fs,
		logger:   logger,
		frontier: frontier.New(),
		coverage: coverage.New(),
		crashes:  crash.New(),
		pool:     workerpool.New(cfg.StpThreads),
		runner:   procrunner.New(),
		initial:  initial,
	}
}

// SetCoordinator wires a distribution coordinator client into the engine.
// Optional; a nil coordinator means local-only mode for the whole run.
func (e *Engine) SetCoordinator(c Coordinator) { e.coordinator = c }

// SetSeedSource wires the agent-mode seed capability.
func (e *Engine) SetSeedSource(s SeedSource) { e.seedSource = s }

// Crashes exposes the crash report for shutdown reporting.
func (e *Engine) Crashes() *crash.Report { return e.crashes }

// Coverage exposes the global coverage set for shutdown reporting.
func (e *Engine) Coverage() *coverage.Set { return e.coverage }

// Iterations returns the number of completed pop-trace-split-check cycles,
// for shutdown reporting.
func (e *Engine) Iterations() int { return int(atomic.LoadInt64(&e.iterations)) }

// Kill sets the killed flag and asks the process runner to terminate
// every tracked child. Wired to SIGINT by the caller; the engine itself
// never installs a handler.
func (e *Engine) Kill() {
	e.killed.Store(true)
	e.runner.KillAll()
}

// Run scores and seeds the frontier with the initial Input, then iterates
// until the frontier is empty or ctx is cancelled. A single query or
// child failure never aborts the loop.
func (e *Engine) Run(ctx context.Context) error {
	initialScore := 0
	if s, crashed, err := e.checkCandidate(ctx, e.initial, 0, false); err != nil {
		e.logger.Warning("avalanche: initial input check failed, scoring it zero",
			map[string]interface{}{"error": err.Error()})
	} else if !crashed {
		initialScore = s
	}
	e.coverage.CommitDelta()
	e.frontier.Insert(frontier.Key{Score: uint32(initialScore), Depth: 0}, e.initial)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		fi, key, ok := e.frontier.Pop()
		if !ok {
			return nil
		}

		// When even the best entry has stopped earning coverage, an
		// agent may ask its supervisor for a fresh starting depth and
		// trace from there instead of from the popped input's depth.
		var freshDepth uint32
		if key.Score == 0 && e.seedSource != nil {
			sd, err := e.seedSource.RequestSeed(ctx)
			switch {
			case err != nil:
				e.logger.Warning("avalanche: seed request failed, continuing with popped input",
					map[string]interface{}{"error": err.Error()})
			case sd > 0:
				freshDepth = sd
				e.logger.Info("avalanche: agent received fresh start depth",
					map[string]interface{}{"start_depth": sd})
			}
		}

		started := time.Now()
		queries, err := e.runIteration(ctx, fi, key, freshDepth)
		if err != nil {
			e.logger.Error("avalanche: iteration failed, continuing",
				map[string]interface{}{"error": err.Error()})
		}
		atomic.AddInt64(&e.iterations, 1)
		e.logger.LogIteration(fi.ID, time.Since(started), queries,
			map[string]interface{}{"frontier_size": e.frontier.Len()})

		if e.coordinator != nil && !e.coordinatorDown.Load() {
			e.talkToServer(ctx)
		}
	}
}

// iterDirs names the per-iteration artefact paths the engine reads and
// writes under cfg.WorkDir.
type iterDirs struct {
	trace       string
	dangerTrace string
	actual      string
	divergence  string
	replaceData string
}

func (e *Engine) dirs() iterDirs {
	wd := e.cfg.WorkDir
	return iterDirs{
		trace:       filepath.Join(wd, "trace.log"),
		dangerTrace: filepath.Join(wd, "dangertrace.log"),
		actual:      filepath.Join(wd, "actual.log"),
		divergence:  filepath.Join(wd, "divergence.log"),
		replaceData: filepath.Join(wd, "replace_data"),
	}
}

// runIteration executes one pop-trace-split-fan-out-check-score cycle for
// the popped Input fi. freshDepth, when nonzero, replaces fi's own start
// depth for this iteration's tracer run. Returns the number of queries
// the trace yielded.
func (e *Engine) runIteration(ctx context.Context, fi *model.Input, key frontier.Key, freshDepth uint32) (int, error) {
	dirs := e.dirs()

	if err := e.materialise(fi, dirs); err != nil {
		return 0, fmt.Errorf("materialise: %w", err)
	}

	startDepth := fi.StartDepth
	if freshDepth > 0 {
		startDepth = freshDepth
	}

	checkPrediction := e.cfg.CheckPrediction && fi.Parent != nil

	opt := tools.TracerOptions{
		Binary:           e.cfg.TracerBinary,
		StartDepth:       startDepth,
		InvertDepth:      e.cfg.InvertDepth,
		DumpPrediction:   true,
		CheckPrediction:  checkPrediction,
		CheckDanger:      e.cfg.CheckDanger,
		FuncNames:        e.cfg.FuncNames,
		FuncFilterFile:   e.cfg.FuncFilterFile,
		MaskFile:         e.cfg.MaskFile,
		SuppressSubcalls: e.cfg.SuppressSubcalls,
		Sockets:          e.cfg.Mode == model.ModeSockets,
		Datagrams:        e.cfg.Mode == model.ModeDatagrams,
		Host:             e.cfg.Host,
		Port:             e.cfg.Port,
		Files:            blobNames(fi),
		TargetArgv:       e.cfg.TargetArgv,
	}
	argv := tools.TracerInvoker(opt)

	// A zero TracerTimeout suppresses the alarm entirely; a timed-out or
	// crashed tracer still leaves whatever it managed to write, and that
	// partial trace is used as-is.
	res, err := e.runner.Run(ctx, 0, argv, e.cfg.TracerTimeout,
		filepath.Join(e.cfg.WorkDir, "tracer_stdout.log"),
		filepath.Join(e.cfg.WorkDir, "tracer_stderr.log"))
	if err != nil && res.Status == procrunner.StatusIOError {
		return 0, fmt.Errorf("run tracer: %w", err)
	}

	// The tracer may have captured additional message bytes beyond what
	// the engine wrote before the run.
	if e.cfg.Mode != model.ModeFiles {
		if err := e.refreshSocketBlobs(fi, dirs); err != nil {
			e.logger.Warning("avalanche: refresh socket blobs failed",
				map[string]interface{}{"error": err.Error()})
		}
	}

	if checkPrediction {
		diverged, depth, derr := e.checkDivergence(dirs)
		if derr != nil {
			e.logger.Warning("avalanche: divergence check failed",
				map[string]interface{}{"error": derr.Error()})
		} else if diverged {
			pruned := key.Score == 0
			e.logger.LogDivergence(fi.ID, depth, pruned, nil)
			if err := e.dumpDivergentInput(fi); err != nil {
				e.logger.Warning("avalanche: dump divergent input failed",
					map[string]interface{}{"error": err.Error()})
			}
			if pruned {
				return 0, nil
			}
		}
	}

	// Danger queries run first and never score: their only purpose is
	// surfacing direct crashes against memory-safety predicates.
	if e.cfg.CheckDanger {
		if err := e.processDangerQueries(ctx, fi, dirs); err != nil {
			e.logger.Warning("avalanche: danger query processing failed",
				map[string]interface{}{"error": err.Error()})
		}
	}

	actual, err := e.readActual(dirs)
	if err != nil {
		e.logger.Warning("avalanche: read actual branch vector failed",
			map[string]interface{}{"error": err.Error()})
		actual = nil
	}

	n, err := e.splitAndProcess(ctx, fi, dirs.trace, actual, false)
	if err != nil {
		return 0, fmt.Errorf("split and process trace: %w", err)
	}

	before := e.coverage.Len()
	e.coverage.CommitDelta()
	e.logger.LogCoverageDelta(fi.ID, e.coverage.Len()-before, e.coverage.Len(), nil)

	return n, nil
}

func blobNames(in *model.Input) []string {
	names := make([]string, len(in.Blobs))
	for i, b := range in.Blobs {
		names[i] = b.Name
	}
	return names
}

// materialise writes fi's blobs to their on-disk names (file targets) or
// to the replace_data sidecar (socket/datagram targets).
func (e *Engine) materialise(fi *model.Input, dirs iterDirs) error {
	if e.cfg.Mode == model.ModeFiles {
		for _, b := range fi.Blobs {
			fb := buffer.New(e.fs, b.Name, b.Data)
			if err := fb.Dump(filepath.Join(e.cfg.WorkDir, b.Name)); err != nil {
				return err
			}
		}
		return nil
	}
	var packed []byte
	for _, b := range fi.Blobs {
		packed = append(packed, b.Data...)
	}
	return buffer.New(e.fs, "replace_data", packed).Dump(dirs.replaceData)
}

// refreshSocketBlobs re-reads replace_data after a tracer run in
// socket/datagram mode. Message boundaries are not recorded in the
// sidecar itself, so each blob takes an equal share of the refreshed
// buffer, with the tail going to the last message.
func (e *Engine) refreshSocketBlobs(fi *model.Input, dirs iterDirs) error {
	data, err := afero.ReadFile(e.fs, dirs.replaceData)
	if err != nil {
		return err
	}
	if len(fi.Blobs) == 0 || len(data) == 0 {
		return nil
	}
	share := len(data) / len(fi.Blobs)
	if share == 0 {
		return nil
	}
	for i := range fi.Blobs {
		start := i * share
		end := start + share
		if i == len(fi.Blobs)-1 {
			end = len(data)
		}
		if start < len(data) && end <= len(data) {
			fi.Blobs[i].Data = append([]byte(nil), data[start:end]...)
		}
	}
	return nil
}

// readActual parses the tracer's actual.log into the true branch vector
// observed during this traced run.
func (e *Engine) readActual(dirs iterDirs) ([]bool, error) {
	data, err := afero.ReadFile(e.fs, dirs.actual)
	if err != nil {
		return nil, err
	}
	actual := make([]bool, 0, len(data))
	for _, c := range data {
		switch c {
		case '1', 'T', 't':
			actual = append(actual, true)
		case '0', 'F', 'f':
			actual = append(actual, false)
		}
	}
	return actual, nil
}

// checkDivergence parses divergence.log: "true"/"false" on the first
// line says whether the tracer observed a branch its prediction vector
// disagreed with; an optional second line carries the depth at which it
// happened.
func (e *Engine) checkDivergence(dirs iterDirs) (bool, uint32, error) {
	data, err := afero.ReadFile(e.fs, dirs.divergence)
	if err != nil {
		return false, 0, err
	}
	lines := strings.SplitN(strings.TrimSpace(string(data)), "\n", 2)
	if len(lines) == 0 || lines[0] == "" {
		return false, 0, nil
	}
	diverged := lines[0][0] == '1' || lines[0][0] == 't' || lines[0][0] == 'T'
	var depth uint32
	if len(lines) > 1 {
		if v, perr := strconv.ParseUint(strings.TrimSpace(lines[1]), 10, 32); perr == nil {
			depth = uint32(v)
		}
	}
	return diverged, depth, nil
}

// dumpDivergentInput writes the divergent input's blobs under a numbered
// divergence_<n>[_<i>] prefix.
func (e *Engine) dumpDivergentInput(fi *model.Input) error {
	n := atomic.AddInt64(&e.divSeq, 1) - 1
	for i, b := range fi.Blobs {
		name := fmt.Sprintf("divergence_%d", n)
		if len(fi.Blobs) > 1 {
			name = fmt.Sprintf("divergence_%d_%d", n, i)
		}
		if err := buffer.New(e.fs, name, b.Data).Dump(filepath.Join(e.cfg.WorkDir, name)); err != nil {
			return err
		}
	}
	return nil
}

// DumpSeed writes the initial seed input's blobs back to disk under a
// seed_ prefix, so an interrupted run leaves its starting point behind.
func (e *Engine) DumpSeed() error {
	for i, b := range e.initial.Blobs {
		name := fmt.Sprintf("seed_%d", i)
		if err := buffer.New(e.fs, name, b.Data).Dump(filepath.Join(e.cfg.WorkDir, name)); err != nil {
			return err
		}
	}
	return nil
}

// CleanupArtefacts removes every per-thread scratch file a run leaves
// under the work directory. Findings (exploit_*, memcheck_*,
// divergence_*, seed_*) are kept.
func (e *Engine) CleanupArtefacts() {
	threads := e.cfg.StpThreads
	if threads < 1 {
		threads = 1
	}
	for k := 0; k < threads; k++ {
		for _, name := range []string{
			fmt.Sprintf("curtrace_%d.log", k),
			fmt.Sprintf("curdtrace_%d.log", k),
			fmt.Sprintf("basic_blocks_%d.log", k),
			fmt.Sprintf("execution_%d.log", k),
			fmt.Sprintf("prediction_%d.log", k),
			fmt.Sprintf("replace_data_%d", k),
			fmt.Sprintf("model_%d.log", k),
			fmt.Sprintf("solver_stderr_%d.log", k),
			fmt.Sprintf("checker_stdout_%d.log", k),
			fmt.Sprintf("checker_stderr_%d.log", k),
		} {
			_ = e.fs.Remove(filepath.Join(e.cfg.WorkDir, name))
		}
	}
	for _, name := range []string{"tracer_stdout.log", "tracer_stderr.log"} {
		_ = e.fs.Remove(filepath.Join(e.cfg.WorkDir, name))
	}
}
