/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: split.go
Description: Trace-to-query splitting and the per-branch solve/check/score
pipeline. A trace with N QUERY(FALSE); records yields N single-query solver
inputs; each is solved, materialised as a candidate child, checked and
scored, either sequentially or fanned out across the worker pool.
*/

package engine

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/kleascm/avalanche-driver/pkg/buffer"
	"github.com/kleascm/avalanche-driver/pkg/frontier"
	"github.com/kleascm/avalanche-driver/pkg/model"
	"github.com/kleascm/avalanche-driver/pkg/procrunner"
	"github.com/kleascm/avalanche-driver/pkg/tools"
	"github.com/kleascm/avalanche-driver/pkg/workerpool"
)

// splitAndProcess cuts tracePath into its N per-query files and processes
// each one, either sequentially (StpThreads == 0) or via the worker pool.
// When addNoCoverage is true the checker still runs but no score is
// computed or inserted into the frontier; the only goal for danger
// queries is surfacing crashes directly.
func (e *Engine) splitAndProcess(ctx context.Context, fi *model.Input, tracePath string, actual []bool, addNoCoverage bool) (int, error) {
	data, err := afero.ReadFile(e.fs, tracePath)
	if err != nil {
		return 0, fmt.Errorf("split: read %s: %w", tracePath, err)
	}
	n := buffer.CountQueries(data)
	if n == 0 {
		return 0, nil
	}

	jobs := make([]workerpool.Job, n)
	for i := 0; i < n; i++ {
		i := i
		jobs[i] = func(threadID int) error {
			return e.processQuery(ctx, fi, data, i, threadID, actual, addNoCoverage)
		}
	}

	if e.cfg.StpThreads <= 0 {
		for i, job := range jobs {
			if err := job(0); err != nil {
				e.logger.Warning("avalanche: query processing failed, continuing",
					map[string]interface{}{"query": i, "error": err.Error()})
			}
		}
		return n, nil
	}

	e.pool.SetShared(workerpool.SharedData{"input": fi, "actual": actual})
	if err := e.pool.RunAll(ctx, jobs); err != nil && ctx.Err() == nil {
		e.logger.Warning("avalanche: worker pool reported an error",
			map[string]interface{}{"error": err.Error()})
	}
	return n, nil
}

// processQuery handles one query index: cut it to a per-thread file, ask
// the solver for a model, derive a candidate child, run it under the
// checker, score it, and (unless addNoCoverage) insert it into the
// frontier.
func (e *Engine) processQuery(ctx context.Context, fi *model.Input, traceData []byte, queryIndex, threadID int, actual []bool, addNoCoverage bool) error {
	buf := buffer.New(e.fs, "trace", traceData)
	curTrace := filepath.Join(e.cfg.WorkDir, fmt.Sprintf("curtrace_%d.log", threadID))

	// Advance past the earlier queries so the cut below yields query
	// queryIndex with every declaration that precedes it.
	for i := 0; i < queryIndex; i++ {
		if !buf.SkipQuery() {
			return fmt.Errorf("processQuery: trace has fewer than %d queries", queryIndex+1)
		}
	}
	if ok, err := buf.CutQueryAndDump(curTrace, false); err != nil {
		return fmt.Errorf("processQuery: cut query %d: %w", queryIndex, err)
	} else if !ok {
		return fmt.Errorf("processQuery: query %d not found", queryIndex)
	}

	modelPath := filepath.Join(e.cfg.WorkDir, fmt.Sprintf("model_%d.log", threadID))
	solverArgv := tools.SolverInvoker(e.cfg.SolverBinary, curTrace)
	res, err := e.runner.Run(ctx, threadID, solverArgv, e.cfg.SolverTimeout,
		modelPath,
		filepath.Join(e.cfg.WorkDir, fmt.Sprintf("solver_stderr_%d.log", threadID)))
	if err != nil && res.Status == procrunner.StatusIOError {
		return fmt.Errorf("processQuery: run solver: %w", err)
	}
	sat := res.Status == procrunner.StatusExited && res.ExitCode == 0
	e.logger.LogQuery(fi.ID, queryIndex, sat, nil)
	if !sat {
		return nil // unsatisfiable or solver failure: no child to derive
	}

	// Danger-query candidates exist only to be checked, so no prediction
	// vector is stamped on them.
	var child *model.Input
	var ok bool
	if addNoCoverage {
		child, ok, err = DeriveProbe(e.fs, fi, modelPath)
	} else {
		child, ok, err = DeriveChild(e.fs, fi, modelPath, queryIndex, actual)
	}
	if err != nil {
		return fmt.Errorf("processQuery: derive child: %w", err)
	}
	if !ok {
		return nil // model referenced no byte of some blob: branch pruned
	}

	score, crashed, err := e.checkCandidate(ctx, child, threadID, addNoCoverage)
	if err != nil {
		return fmt.Errorf("processQuery: check candidate: %w", err)
	}
	if crashed || addNoCoverage {
		return nil
	}

	e.frontier.Insert(frontier.Key{Score: uint32(score), Depth: child.Depth()}, child)
	return nil
}
