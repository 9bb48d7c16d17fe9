package report_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kleascm/avalanche-driver/pkg/crash"
	"github.com/kleascm/avalanche-driver/pkg/report"
)

func TestWriteOneTraceFilePerGroup(t *testing.T) {
	fs := afero.NewMemMapFs()
	crashes := crash.New()
	crashes.Record([]byte("segmentation fault in foo()"), 1)
	crashes.Record([]byte("segmentation fault in foo()"), 1)
	crashes.Record([]byte("aborted in bar()"), 1)

	path, err := report.Write(fs, "/work/report", time.Unix(0, 0), 10, 42, crashes)
	require.NoError(t, err)

	exists, err := afero.Exists(fs, "/work/report/crash_0.trace")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = afero.Exists(fs, "/work/report/crash_1.trace")
	require.NoError(t, err)
	assert.True(t, exists)

	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	var summary report.Summary
	require.NoError(t, json.Unmarshal(data, &summary))
	assert.Equal(t, 10, summary.Iterations)
	assert.Equal(t, 42, summary.CoveredBlocks)
	require.Len(t, summary.CrashGroups, 2)
	assert.Equal(t, []int{0, 1}, summary.CrashGroups[0].ExploitIndices)
	assert.Equal(t, []int{2}, summary.CrashGroups[1].ExploitIndices)
}

func TestWriteWithNoCrashesProducesEmptySummary(t *testing.T) {
	fs := afero.NewMemMapFs()
	_, err := report.Write(fs, "/work/report", time.Unix(0, 0), 5, 0, crash.New())
	require.NoError(t, err)
}
