/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: frontier.go
Description: Multi-map from (score, depth) to Input, popped highest-score
first with ties broken in favour of the shallower node. Backed by a heap
with a stable insertion-order tiebreak so equal keys pop in the order
they arrived.
*/

package frontier

import (
	"container/heap"
	"sync"

	"github.com/kleascm/avalanche-driver/pkg/model"
)

// Key orders Frontier entries: score ascending, then depth descending, so
// the highest-scoring (and, among ties, shallowest) entry sorts last.
type Key struct {
	Score uint32
	Depth uint32
}

// Less reports whether k sorts before other under the Frontier's order.
func (k Key) Less(other Key) bool {
	if k.Score != other.Score {
		return k.Score < other.Score
	}
	return k.Depth > other.Depth
}

type entry struct {
	key   Key
	input *model.Input
	seq   uint64 // insertion order, breaks ties stably within equal keys
}

// maxHeap orders entries so Pop always returns the logically-last one:
// highest score, then (on a score tie) shallowest depth, then (on a full
// tie) earliest insertion, so entries with equal keys pop first-in,
// first-out.
type maxHeap []*entry

func (h maxHeap) Len() int { return len(h) }
func (h maxHeap) Less(i, j int) bool {
	if h[i].key != h[j].key {
		return h[j].key.Less(h[i].key)
	}
	return h[i].seq < h[j].seq
}
func (h maxHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x interface{}) { *h = append(*h, x.(*entry)) }
func (h *maxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Frontier is the best-first exploration queue. Safe for concurrent
// Insert from worker goroutines; Pop is called only by the main
// iteration loop.
type Frontier struct {
	mu      sync.Mutex
	heap    maxHeap
	nextSeq uint64
}

// New returns an empty Frontier.
func New() *Frontier {
	f := &Frontier{}
	heap.Init(&f.heap)
	return f
}

// Insert adds an Input under the given key. Thread-safe.
func (f *Frontier) Insert(key Key, input *model.Input) {
	f.mu.Lock()
	defer f.mu.Unlock()
	heap.Push(&f.heap, &entry{key: key, input: input, seq: f.nextSeq})
	f.nextSeq++
}

// Pop removes and returns the highest-scoring Input (score asc/depth desc
// order, i.e. highest score, shallowest depth among ties). Returns
// (nil, Key{}, false) when the Frontier is empty.
func (f *Frontier) Pop() (*model.Input, Key, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.heap.Len() == 0 {
		return nil, Key{}, false
	}
	e := heap.Pop(&f.heap).(*entry)
	return e.input, e.key, true
}

// PopSecondHighest removes and returns the second-highest-scoring Input,
// leaving the best one in place. The coordinator client uses this to
// keep the single best input local while shipping surplus off to peer
// agents. Returns false if fewer than two entries remain.
func (f *Frontier) PopSecondHighest() (*model.Input, Key, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.heap.Len() < 2 {
		return nil, Key{}, false
	}
	best := heap.Pop(&f.heap).(*entry)
	second := heap.Pop(&f.heap).(*entry)
	heap.Push(&f.heap, best)
	return second.input, second.key, true
}

// Len returns the number of Inputs currently queued.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.heap.Len()
}

// Peek returns the highest-scoring Input without removing it.
func (f *Frontier) Peek() (*model.Input, Key, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.heap.Len() == 0 {
		return nil, Key{}, false
	}
	e := f.heap[0]
	return e.input, e.key, true
}
