/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: triage.go
Description: Crash classification and severity scoring over a filtered
checker trace. Pattern-matches the group's stored trace bytes into a
crash type and weighs it into a severity, folding in how many distinct
exploits landed on the same fault.
*/

package crash

import (
	"regexp"
	"strings"
)

// Type classifies what kind of fault produced a crash group's trace.
type Type string

const (
	TypeSegfault       Type = "SEGFAULT"
	TypeBufferOverflow Type = "BUFFER_OVERFLOW"
	TypeUseAfterFree   Type = "USE_AFTER_FREE"
	TypeNullPointer    Type = "NULL_POINTER"
	TypeStackOverflow  Type = "STACK_OVERFLOW"
	TypeAssertion      Type = "ASSERTION"
	TypeAbort          Type = "ABORT"
	TypeLeak           Type = "LEAK"
	TypeUnknown        Type = "UNKNOWN"
)

// Severity is the triage-assigned severity of a crash group.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Triage is the classification result for one crash group.
type Triage struct {
	Type       Type
	Severity   Severity
	Keywords   []string
	Occurrence int // number of occurrences filed under the group
}

// crashPatterns is checked in order; the most specific fault kinds come
// first so a trace mentioning both an overflow and the resulting abort
// classifies as the overflow.
var crashPatterns = []struct {
	kind    Type
	pattern *regexp.Regexp
}{
	{TypeBufferOverflow, regexp.MustCompile(`(?i)(buffer overflow|stack smashing|heap.buffer.overflow)`)},
	{TypeUseAfterFree, regexp.MustCompile(`(?i)(use.after.free|double free|invalid free)`)},
	{TypeNullPointer, regexp.MustCompile(`(?i)(null pointer|nullptr dereference)`)},
	{TypeStackOverflow, regexp.MustCompile(`(?i)(stack overflow|stack exhaustion)`)},
	{TypeSegfault, regexp.MustCompile(`(?i)(segmentation fault|sigsegv|invalid read|invalid write)`)},
	{TypeAssertion, regexp.MustCompile(`(?i)(assertion .*failed|assert\(.*\) failed)`)},
	{TypeAbort, regexp.MustCompile(`(?i)(aborted|sigabrt|fatal error)`)},
	{TypeLeak, regexp.MustCompile(`(?i)(definitely lost|possibly lost|memory leak)`)},
}

var severityWeight = map[Type]int{
	TypeSegfault:       8,
	TypeBufferOverflow: 9,
	TypeUseAfterFree:   9,
	TypeNullPointer:    5,
	TypeStackOverflow:  7,
	TypeAssertion:      4,
	TypeAbort:          4,
	TypeLeak:           3,
	TypeUnknown:        2,
}

var keywordList = []string{"error", "fault", "crash", "abort", "segmentation", "overflow", "corruption", "leak", "invalid"}

// Classify runs the crash-group's trace through the crash-type patterns
// and a weighted severity score, bumping the score by 3 once a group has
// at least 3 occurrences and by 6 once it has at least 10, since a crash
// group many exploits land in is more exploitable (more distinct inputs
// reach the same fault).
func Classify(g *Group) Triage {
	text := strings.ToLower(string(g.Trace))

	t := TypeUnknown
	for _, cp := range crashPatterns {
		if cp.pattern.MatchString(text) {
			t = cp.kind
			break
		}
	}

	score := severityWeight[t]
	occ := len(g.Occurrences)
	switch {
	case occ >= 10:
		score += 6
	case occ >= 3:
		score += 3
	}

	var sev Severity
	switch {
	case score >= 12:
		sev = SeverityCritical
	case score >= 9:
		sev = SeverityHigh
	case score >= 6:
		sev = SeverityMedium
	default:
		sev = SeverityLow
	}

	var keywords []string
	for _, kw := range keywordList {
		if strings.Contains(text, kw) {
			keywords = append(keywords, kw)
		}
	}

	return Triage{Type: t, Severity: sev, Keywords: keywords, Occurrence: occ}
}
