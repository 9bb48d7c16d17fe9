package crash_test

import (
	"testing"

	"github.com/kleascm/avalanche-driver/pkg/crash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordGroupsByFingerprint(t *testing.T) {
	r := crash.New()
	r.Record([]byte("segfault in foo()"), 2)
	r.Record([]byte("segfault in foo()"), 1)
	r.Record([]byte("abort in bar()"), 1)

	require.Equal(t, 2, r.Len())

	groups := r.Groups()
	var fooGroup *crash.Group
	for _, g := range groups {
		if len(g.Occurrences) == 2 {
			fooGroup = g
		}
	}
	require.NotNil(t, fooGroup)
	assert.Equal(t, 0, fooGroup.Occurrences[0].ExploitIndex)
	assert.Equal(t, 1, fooGroup.Occurrences[1].ExploitIndex)
}

func TestRecordEmptyTraceAlwaysStartsNewGroup(t *testing.T) {
	r := crash.New()
	r.Record(nil, 1)
	r.Record(nil, 1)
	assert.Equal(t, 2, r.Len(), "a crash with no extractable trace never groups with another")
}

func TestNextExploitIndexDoesNotConsume(t *testing.T) {
	r := crash.New()
	assert.Equal(t, 0, r.NextExploitIndex())
	assert.Equal(t, 0, r.NextExploitIndex())
	r.Record([]byte("trace"), 1)
	assert.Equal(t, 1, r.NextExploitIndex())
}

func TestTakeMemcheckIndexConsumesSeparateCounter(t *testing.T) {
	r := crash.New()
	assert.Equal(t, 0, r.TakeMemcheckIndex())
	assert.Equal(t, 1, r.TakeMemcheckIndex(), "every memcheck finding gets a fresh index")

	r.Record([]byte("trace"), 1)
	assert.Equal(t, 2, r.TakeMemcheckIndex(), "crash recording never advances the memcheck counter")
	assert.Equal(t, 1, r.NextExploitIndex(), "memcheck indices never advance the exploit counter")
}
