/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: summary.go
Description: Shutdown report writer: one stack-trace file per crash group
plus a timestamped JSON summary of the whole run, each group annotated
with its triage classification and contributing exploit indices. Built
over afero.Fs so it is testable with afero.NewMemMapFs() like the rest
of the engine.
*/

package report

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/kleascm/avalanche-driver/pkg/crash"
)

// GroupSummary is one crash group's row in the JSON summary.
type GroupSummary struct {
	TraceFile      string   `json:"trace_file"`
	Fingerprint    string   `json:"fingerprint"`
	Type           string   `json:"type"`
	Severity       string   `json:"severity"`
	Keywords       []string `json:"keywords,omitempty"`
	ExploitIndices []int    `json:"exploit_indices"`
}

// Summary is the run-level shutdown report.
type Summary struct {
	GeneratedAt   string         `json:"generated_at"`
	Iterations    int            `json:"iterations"`
	CoveredBlocks int            `json:"covered_blocks"`
	CrashGroups   []GroupSummary `json:"crash_groups"`
}

// Write dumps one "<dir>/crash_<n>.trace" file per crash group plus a
// timestamped "<dir>/summary_<ts>.json" describing the run, and returns
// the summary file's path. now is passed in rather than read from
// time.Now so callers can stamp a deterministic clock in tests.
func Write(fs afero.Fs, dir string, now time.Time, iterations, coveredBlocks int, crashes *crash.Report) (string, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("report: create dir: %w", err)
	}

	groups := crashes.Groups()
	summary := Summary{
		GeneratedAt:   now.UTC().Format(time.RFC3339),
		Iterations:    iterations,
		CoveredBlocks: coveredBlocks,
		CrashGroups:   make([]GroupSummary, 0, len(groups)),
	}

	for i, g := range groups {
		traceFile := fmt.Sprintf("crash_%d.trace", i)
		if err := afero.WriteFile(fs, filepath.Join(dir, traceFile), g.Trace, 0o644); err != nil {
			return "", fmt.Errorf("report: write trace %s: %w", traceFile, err)
		}

		triage := crash.Classify(g)
		indices := make([]int, len(g.Occurrences))
		for j, occ := range g.Occurrences {
			indices[j] = occ.ExploitIndex
		}

		summary.CrashGroups = append(summary.CrashGroups, GroupSummary{
			TraceFile:      traceFile,
			Fingerprint:    g.Fingerprint,
			Type:           string(triage.Type),
			Severity:       triage.Severity.String(),
			Keywords:       triage.Keywords,
			ExploitIndices: indices,
		})
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", fmt.Errorf("report: marshal summary: %w", err)
	}

	filename := fmt.Sprintf("summary_%s.json", now.UTC().Format("2006-01-02_15-04-05"))
	path := filepath.Join(dir, filename)
	if err := afero.WriteFile(fs, path, data, 0o644); err != nil {
		return "", fmt.Errorf("report: write summary: %w", err)
	}
	return path, nil
}
