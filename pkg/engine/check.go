/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: check.go
Description: Runs the coverage/error-checking plugin against one
candidate child Input, scores it by newly-covered basic blocks, and
detects crashes and memory-checker findings.
*/

package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/spf13/afero"

	"github.com/kleascm/avalanche-driver/pkg/buffer"
	"github.com/kleascm/avalanche-driver/pkg/coverage"
	"github.com/kleascm/avalanche-driver/pkg/model"
	"github.com/kleascm/avalanche-driver/pkg/procrunner"
	"github.com/kleascm/avalanche-driver/pkg/tools"
)

var memcheckErrorSummary = regexp.MustCompile(`ERROR SUMMARY:\s*(\d+)`)
var memcheckDefinitelyLost = regexp.MustCompile(`definitely lost:\s*(\d+)`)
var memcheckPossiblyLost = regexp.MustCompile(`possibly lost:\s*(\d+)`)

// checkCandidate materialises child, runs the checker on it, and reports
// its novelty score. crashed is true when the checker died of a signal
// the timeout didn't cause, or when memcheck is on and a memory-error
// finding was recorded; in either case score is meaningless and the
// caller must not insert child into the frontier (the finding has already
// been filed and dumped to disk).
func (e *Engine) checkCandidate(ctx context.Context, child *model.Input, threadID int, noCoverage bool) (score int, crashed bool, err error) {
	if e.cfg.Mode == model.ModeFiles {
		for _, b := range child.Blobs {
			fb := buffer.New(e.fs, b.Name, b.Data)
			if derr := fb.Dump(filepath.Join(e.cfg.WorkDir, b.Name)); derr != nil {
				return 0, false, fmt.Errorf("checkCandidate: dump blob %s: %w", b.Name, derr)
			}
		}
	} else {
		var packed []byte
		for _, b := range child.Blobs {
			packed = append(packed, b.Data...)
		}
		if derr := buffer.New(e.fs, "replace_data", packed).Dump(
			filepath.Join(e.cfg.WorkDir, fmt.Sprintf("replace_data_%d", threadID))); derr != nil {
			return 0, false, fmt.Errorf("checkCandidate: dump replace_data: %w", derr)
		}
	}

	opt := tools.CheckerOptions{
		Binary:       e.cfg.CheckerBinary,
		AlarmSeconds: int(e.cfg.CheckerTimeout.Seconds()),
		ThreadID:     threadID,
		NoCoverage:   noCoverage,
		Sockets:      e.cfg.Mode == model.ModeSockets,
		Datagrams:    e.cfg.Mode == model.ModeDatagrams,
		Host:         e.cfg.Host,
		Port:         e.cfg.Port,
		Files:        blobNames(child),
		TargetArgv:   e.cfg.TargetArgv,
	}
	argv := tools.CheckerInvoker(opt)

	// execution_<k>.log is written by the checker itself (--log-file);
	// the crash/memcheck parse reads that artefact, while the child's
	// own stdout/stderr are captured separately.
	execLog := filepath.Join(e.cfg.WorkDir, fmt.Sprintf("execution_%d.log", threadID))
	res, rerr := e.runner.Run(ctx, threadID, argv, e.cfg.CheckerTimeout,
		filepath.Join(e.cfg.WorkDir, fmt.Sprintf("checker_stdout_%d.log", threadID)),
		filepath.Join(e.cfg.WorkDir, fmt.Sprintf("checker_stderr_%d.log", threadID)))
	if rerr != nil && res.Status == procrunner.StatusIOError {
		return 0, false, fmt.Errorf("checkCandidate: run checker: %w", rerr)
	}

	// A StatusKilled child was terminated by our own alarm, and a child
	// signaled after Kill() was terminated by our own shutdown; neither
	// is a target crash.
	if res.Status == procrunner.StatusSignaled && !e.killed.Load() {
		return e.recordCrash(child, execLog)
	}

	if e.cfg.Memcheck {
		if found, ferr := e.recordMemcheckFinding(child, execLog); ferr != nil {
			e.logger.Warning("avalanche: memcheck log parse failed",
				map[string]interface{}{"error": ferr.Error()})
		} else if found {
			return 0, true, nil
		}
	}

	if noCoverage {
		return 0, false, nil
	}

	blockLogPath := filepath.Join(e.cfg.WorkDir, fmt.Sprintf("basic_blocks_%d.log", threadID))
	raw, berr := afero.ReadFile(e.fs, blockLogPath)
	if berr != nil {
		return 0, false, nil // no block log: zero new coverage, not fatal
	}
	blocks, perr := coverage.ParseBlockLog(raw)
	if perr != nil {
		return 0, false, fmt.Errorf("checkCandidate: parse block log: %w", perr)
	}
	score = e.coverage.Score(blocks)
	e.coverage.Record(blocks)
	return score, false, nil
}

// recordCrash files a crash finding and dumps the mutated blobs as
// exploit_<n>[_<i>] artefacts.
func (e *Engine) recordCrash(child *model.Input, execLog string) (int, bool, error) {
	raw, err := afero.ReadFile(e.fs, execLog)
	if err != nil {
		raw = nil
	}
	filtered := buffer.FilterCheckerOutput(raw)
	idx, gid := e.crashes.Record(filtered, len(child.Blobs))

	for i, b := range child.Blobs {
		name := fmt.Sprintf("exploit_%d", idx)
		if len(child.Blobs) > 1 {
			name = fmt.Sprintf("exploit_%d_%d", idx, i)
		}
		if derr := buffer.New(e.fs, name, b.Data).Dump(filepath.Join(e.cfg.WorkDir, name)); derr != nil {
			return 0, true, fmt.Errorf("recordCrash: dump %s: %w", name, derr)
		}
	}
	e.logger.LogCrashFinding(idx, fmt.Sprintf("group_%d", gid),
		map[string]interface{}{"input_id": child.ID})
	return 0, true, nil
}

// recordMemcheckFinding parses the checker's execution log for an
// "ERROR SUMMARY: K" with K>0, or (when leak reporting is on) nonzero
// "definitely lost"/"possibly lost" counters, and dumps the candidate as
// a memcheck_<n>[_<i>] artefact when found.
func (e *Engine) recordMemcheckFinding(child *model.Input, execLog string) (bool, error) {
	raw, err := afero.ReadFile(e.fs, execLog)
	if err != nil {
		return false, err
	}

	errCount := 0
	if m := memcheckErrorSummary.FindSubmatch(raw); m != nil {
		fmt.Sscanf(string(m[1]), "%d", &errCount)
	}

	hasLeak := false
	if e.cfg.Leaks {
		if m := memcheckDefinitelyLost.FindSubmatch(raw); m != nil && string(m[1]) != "0" {
			hasLeak = true
		}
		if m := memcheckPossiblyLost.FindSubmatch(raw); m != nil && string(m[1]) != "0" {
			hasLeak = true
		}
	}

	if errCount == 0 && !hasLeak {
		return false, nil
	}

	idx := e.crashes.TakeMemcheckIndex()
	for i, b := range child.Blobs {
		name := fmt.Sprintf("memcheck_%d", idx)
		if len(child.Blobs) > 1 {
			name = fmt.Sprintf("memcheck_%d_%d", idx, i)
		}
		if derr := buffer.New(e.fs, name, b.Data).Dump(filepath.Join(e.cfg.WorkDir, name)); derr != nil {
			return true, fmt.Errorf("recordMemcheckFinding: dump %s: %w", name, derr)
		}
	}
	e.logger.Warning("avalanche: memcheck finding recorded",
		map[string]interface{}{"exploit_index": idx, "error_count": errCount, "leak": hasLeak})
	return true, nil
}

// processDangerQueries runs the dangertrace.log queries ahead of the
// regular trace, with scoring suppressed.
func (e *Engine) processDangerQueries(ctx context.Context, fi *model.Input, dirs iterDirs) error {
	_, err := e.splitAndProcess(ctx, fi, dirs.dangerTrace, nil, true)
	return err
}
