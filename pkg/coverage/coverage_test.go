package coverage_test

import (
	"testing"

	"github.com/kleascm/avalanche-driver/pkg/coverage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoreCountsOnlyNewBlocks(t *testing.T) {
	set := coverage.New()
	assert.Equal(t, 2, set.Score([]uint64{1, 2}))

	set.Record([]uint64{1, 2})
	set.CommitDelta()
	assert.Equal(t, 1, set.Score([]uint64{2, 3}), "block 2 already seen, only block 3 is new")
	assert.Equal(t, 2, set.Len())
}

func TestCommitDeltaResetsRunDelta(t *testing.T) {
	set := coverage.New()
	set.Record([]uint64{5})
	set.CommitDelta()
	assert.Equal(t, 1, set.Score([]uint64{5, 6}), "global coverage still recognizes block 5")
}

func TestParseBlockLog(t *testing.T) {
	data := []byte{
		1, 0, 0, 0, 0, 0, 0, 0,
		2, 0, 0, 0, 0, 0, 0, 0,
	}
	blocks, err := coverage.ParseBlockLog(data)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, blocks)
}

func TestParseBlockLogRejectsPartialRecord(t *testing.T) {
	_, err := coverage.ParseBlockLog([]byte{1, 2, 3})
	assert.Error(t, err)
}
