/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: coverage.go
Description: Global basic-block coverage set with a thread-safe "delta since
last commit" view. Workers accumulate newly-seen block ids into the delta
under a single lock during one iteration; the main loop merges the delta
into the global set exactly once, after the iteration succeeds.
*/

package coverage

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// Set is the global set of observed basic-block identifiers plus the delta
// accumulated during the current iteration. Scoring reads only the global
// set: Score reports how many of the given blocks are not yet in the global
// set, without mutating anything, so concurrent workers can score against
// a stable view while other workers are still recording their own finds.
type Set struct {
	mu     sync.Mutex
	global map[uint64]struct{}
	delta  map[uint64]struct{}
}

// New returns an empty coverage set.
func New() *Set {
	return &Set{
		global: make(map[uint64]struct{}),
		delta:  make(map[uint64]struct{}),
	}
}

// Record adds blocks to the iteration's delta. Safe for concurrent
// callers. Blocks already present in the global set are still recorded in
// delta; Score, not Record, is what decides novelty, so two workers
// recording the same new block in the same iteration both see it as new
// when they score it.
func (s *Set) Record(blocks []uint64) {
	if len(blocks) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range blocks {
		s.delta[b] = struct{}{}
	}
}

// Score returns the number of blocks in the given slice that are not
// present in the global set, i.e. the novelty a child input's
// basic-block log earns it. Reads the global set only; it does not
// consult the in-progress delta, so it is stable regardless of
// how far the current iteration's other workers have gotten.
func (s *Set) Score(blocks []uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	score := 0
	for _, b := range blocks {
		if _, ok := s.global[b]; !ok {
			score++
		}
	}
	return score
}

// CommitDelta merges the accumulated delta into the global set and clears
// the delta, ready for the next iteration. Called by the main thread
// exactly once per successful iteration.
func (s *Set) CommitDelta() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for b := range s.delta {
		s.global[b] = struct{}{}
	}
	s.delta = make(map[uint64]struct{})
}

// Len returns the size of the global set.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.global)
}

// ParseBlockLog decodes a basic_blocks_<k>.log artefact: a packed array of
// little-endian 64-bit block addresses.
func ParseBlockLog(data []byte) ([]uint64, error) {
	if len(data)%8 != 0 {
		return nil, fmt.Errorf("coverage: block log length %d is not a multiple of 8", len(data))
	}
	blocks := make([]uint64, len(data)/8)
	for i := range blocks {
		blocks[i] = binary.LittleEndian.Uint64(data[i*8 : i*8+8])
	}
	return blocks, nil
}
