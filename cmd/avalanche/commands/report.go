/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: report.go
Description: "report" command implementation: re-renders a prior run's
crash groups from the newest summary_*.json under its work directory's
report/ folder, to stdout or a --report-log file.
*/

package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kleascm/avalanche-driver/pkg/logging"
	"github.com/kleascm/avalanche-driver/pkg/report"
)

// RunReport renders the most recent shutdown summary of a prior run.
func RunReport(cmd *cobra.Command, args []string) error {
	if err := LoadConfig(); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	fs := afero.NewOsFs()
	reportDir := filepath.Join(viper.GetString("work-dir"), "report")

	summary, path, err := latestSummary(fs, reportDir)
	if err != nil {
		return err
	}

	rendered := renderSummary(summary, path)

	// Append the run's log-event tallies when its log directory is
	// still around.
	logDir := filepath.Join(viper.GetString("work-dir"), "logs")
	if analysis, aerr := logging.NewLogAnalyzer(logDir).AnalyzeLogs(); aerr == nil && analysis.LogFiles > 0 {
		rendered += "\n" + analysis.GetLogSummary() + "\n"
	}

	if reportLog := viper.GetString("report-log"); reportLog != "" {
		if err := afero.WriteFile(fs, reportLog, []byte(rendered), 0o644); err != nil {
			return fmt.Errorf("write report log %s: %w", reportLog, err)
		}
		return nil
	}
	fmt.Fprint(os.Stdout, rendered)
	return nil
}

// latestSummary loads the newest summary_*.json under dir.
func latestSummary(fs afero.Fs, dir string) (*report.Summary, string, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, "", fmt.Errorf("read report dir %s: %w", dir, err)
	}

	var candidates []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "summary_") && strings.HasSuffix(name, ".json") {
			candidates = append(candidates, name)
		}
	}
	if len(candidates) == 0 {
		return nil, "", fmt.Errorf("no summary files under %s; has a run completed?", dir)
	}
	sort.Strings(candidates) // timestamped names sort chronologically

	path := filepath.Join(dir, candidates[len(candidates)-1])
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, "", fmt.Errorf("read summary %s: %w", path, err)
	}
	var s report.Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, "", fmt.Errorf("parse summary %s: %w", path, err)
	}
	return &s, path, nil
}

func renderSummary(s *report.Summary, path string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run summary (%s)\n", path)
	fmt.Fprintf(&b, "  generated:      %s\n", s.GeneratedAt)
	fmt.Fprintf(&b, "  iterations:     %d\n", s.Iterations)
	fmt.Fprintf(&b, "  covered blocks: %d\n", s.CoveredBlocks)
	fmt.Fprintf(&b, "  crash groups:   %d\n", len(s.CrashGroups))
	for i, g := range s.CrashGroups {
		fmt.Fprintf(&b, "\nGroup %d: %s severity=%s trace=%s\n", i, g.Type, g.Severity, g.TraceFile)
		fmt.Fprintf(&b, "  exploits: %v\n", g.ExploitIndices)
		if len(g.Keywords) > 0 {
			fmt.Fprintf(&b, "  keywords: %s\n", strings.Join(g.Keywords, ", "))
		}
	}
	return b.String()
}
