/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: config.go
Description: Engine configuration: target argv, on-disk tool paths, depth
and concurrency knobs, and the distribution/agent settings. A plain
struct; defaults are applied by the command layer that builds it.
*/

package engine

import (
	"time"

	"github.com/kleascm/avalanche-driver/pkg/model"
)

// Config holds everything one exploration run needs that isn't carried on
// an Input itself.
type Config struct {
	// Target.
	TargetArgv []string
	Mode       model.TargetMode

	// External tool binaries.
	TracerBinary  string
	CheckerBinary string
	SolverBinary  string

	// Depth knobs.
	InvertDepth     uint32 // D: branch-collection depth per tracer invocation
	StartDepth      uint32 // configured start depth for the root Input
	CheckPrediction bool

	// Timeouts.
	TracerTimeout  time.Duration // tracegrindAlarm; zero suppresses the alarm
	CheckerTimeout time.Duration // alarm
	SolverTimeout  time.Duration

	// Concurrency.
	StpThreads int // zero means purely sequential

	// Checker modes.
	Memcheck         bool
	Leaks            bool
	CheckDanger      bool
	SuppressSubcalls bool
	TraceChildren    bool
	StpThreadsAuto   bool

	// Network targets.
	Host string
	Port int

	// Filtering.
	FuncNames      []string
	FuncFilterFile string
	MaskFile       string

	// Distribution.
	Distributed      bool
	DistHost         string
	DistPort         int
	ProtectMainAgent bool
	Agents           int
	Agent            bool // this process is a remote worker with a supervising parent

	// Filesystem layout.
	WorkDir string
	Debug   bool
	Verbose bool
}
