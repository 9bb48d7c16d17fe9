/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: seedsource.go
Description: Concrete SeedSource wiring the agent/parent signal contract:
send SIGUSR1 to the parent process, block on SIGUSR2, then read the fresh
start depth out of startdepth.log. Wrapped behind the SeedSource
interface so tests can inject a seed without touching signals at all.
*/

package engine

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/afero"
	"golang.org/x/sys/unix"
)

// SignalSeedSource implements SeedSource over the SIGUSR1/SIGUSR2 IPC
// contract with a supervising parent process.
type SignalSeedSource struct {
	fs        afero.Fs
	workDir   string
	parentPid int
}

// NewSignalSeedSource returns a SeedSource that signals parentPid and
// reads startdepth.log under workDir once the reply arrives.
func NewSignalSeedSource(fs afero.Fs, workDir string, parentPid int) *SignalSeedSource {
	return &SignalSeedSource{fs: fs, workDir: workDir, parentPid: parentPid}
}

// RequestSeed signals SIGUSR1 to the parent and blocks for SIGUSR2 (or
// ctx cancellation), then parses startdepth.log.
func (s *SignalSeedSource) RequestSeed(ctx context.Context) (uint32, error) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, unix.SIGUSR2)
	defer signal.Stop(ch)

	if err := syscall.Kill(s.parentPid, unix.SIGUSR1); err != nil {
		return 0, fmt.Errorf("seedsource: signal parent %d: %w", s.parentPid, err)
	}

	select {
	case <-ch:
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	data, err := afero.ReadFile(s.fs, filepath.Join(s.workDir, "startdepth.log"))
	if err != nil {
		return 0, fmt.Errorf("seedsource: read startdepth.log: %w", err)
	}
	sd, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("seedsource: parse startdepth.log: %w", err)
	}
	return uint32(sd), nil
}

// StaticSeedSource is a test/injection double that returns a fixed start
// depth without touching signals at all.
type StaticSeedSource struct {
	StartDepth uint32
	Err        error
}

func (s StaticSeedSource) RequestSeed(ctx context.Context) (uint32, error) {
	return s.StartDepth, s.Err
}
