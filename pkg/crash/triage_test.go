package crash_test

import (
	"testing"

	"github.com/kleascm/avalanche-driver/pkg/crash"
	"github.com/stretchr/testify/assert"
)

func TestClassifyRecognizesSegfault(t *testing.T) {
	r := crash.New()
	r.Record([]byte("Process terminated by SIGSEGV: segmentation fault at 0xdeadbeef"), 1)
	groups := r.Groups()
	triage := crash.Classify(groups[0])
	assert.Equal(t, crash.TypeSegfault, triage.Type)
	assert.Contains(t, triage.Keywords, "segmentation")
}

func TestClassifyRecognizesLeak(t *testing.T) {
	r := crash.New()
	r.Record([]byte("==1234== 40 bytes in 1 blocks are definitely lost"), 1)
	groups := r.Groups()
	triage := crash.Classify(groups[0])
	assert.Equal(t, crash.TypeLeak, triage.Type)
}

func TestClassifySeverityRisesWithOccurrenceCount(t *testing.T) {
	r := crash.New()
	for i := 0; i < 12; i++ {
		r.Record([]byte("buffer overflow detected"), 1)
	}
	groups := r.Groups()
	triage := crash.Classify(groups[0])
	assert.Equal(t, 12, triage.Occurrence)
	assert.Equal(t, crash.SeverityCritical, triage.Severity)
}

func TestClassifyUnknownTraceIsLowSeverity(t *testing.T) {
	r := crash.New()
	r.Record([]byte("something odd happened"), 1)
	groups := r.Groups()
	triage := crash.Classify(groups[0])
	assert.Equal(t, crash.TypeUnknown, triage.Type)
	assert.Equal(t, crash.SeverityLow, triage.Severity)
}
