/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: input.go
Description: Core data types for the exploration tree. An Input is a rooted
node carrying one byte blob per target file (or per socket message in
network mode), the depth at which it branched off its ancestors, and the
branch-outcome vector predicted for it by the solver model that produced it.
*/

package model

import (
	"fmt"

	"github.com/google/uuid"
)

// TargetMode selects how an Input's blobs map onto the target's input
// channel: a list of files, a TCP byte stream, or a sequence of UDP
// datagrams.
type TargetMode int

const (
	ModeFiles TargetMode = iota
	ModeSockets
	ModeDatagrams
)

// Blob is a single named byte buffer belonging to an Input. For ModeFiles
// blobs carry the on-disk file name the tracer/checker expect; for
// ModeSockets/ModeDatagrams the name is a stable encoding of the message
// index and is never written to disk under that name.
type Blob struct {
	Name string
	Data []byte
}

// Input is a node in the exploration tree. The zero value is not valid;
// construct with NewRoot or Derive.
//
// Parent is a non-owning back-reference: the parent always outlives its
// children because children live in the Frontier (or are consumed by the
// iteration that produced them) while parents are retained by the engine
// for the lifetime of the run. There is no cycle because Derive only ever
// points a new Input at an already-existing one.
type Input struct {
	ID         string
	Blobs      []Blob
	Mode       TargetMode
	StartDepth uint32
	Prediction []bool
	Parent     *Input
}

// NewRoot builds the initial seed Input. It has no parent and its
// StartDepth is whatever start depth the run was configured with.
func NewRoot(blobs []Blob, mode TargetMode, configuredStartDepth uint32) *Input {
	cloned := make([]Blob, len(blobs))
	for i, b := range blobs {
		cloned[i] = Blob{Name: b.Name, Data: append([]byte(nil), b.Data...)}
	}
	return &Input{
		ID:         uuid.NewString(),
		Blobs:      cloned,
		Mode:       mode,
		StartDepth: configuredStartDepth,
		Prediction: nil,
		Parent:     nil,
	}
}

// Derive builds a child Input from a parent, a query index and the
// observed "actual" branch vector from the parent's traced run:
//
//	next.StartDepth = parent.StartDepth + queryIndex + 1
//	next.Prediction[0:parent.StartDepth+queryIndex] = actual[same range]
//	next.Prediction[parent.StartDepth+queryIndex]   = !actual[that index]
//
// The caller is responsible for having already applied the solver's model
// to the cloned blobs (see pkg/buffer) before calling Derive; Derive only
// stamps the depth/prediction bookkeeping.
func Derive(parent *Input, blobs []Blob, queryIndex int, actual []bool) (*Input, error) {
	flipIndex := int(parent.StartDepth) + queryIndex
	if flipIndex >= len(actual) {
		return nil, fmt.Errorf("model: actual vector too short: need index %d, have %d", flipIndex, len(actual))
	}
	prediction := make([]bool, flipIndex+1)
	copy(prediction, actual[:flipIndex])
	prediction[flipIndex] = !actual[flipIndex]

	return &Input{
		ID:         uuid.NewString(),
		Blobs:      blobs,
		Mode:       parent.Mode,
		StartDepth: uint32(flipIndex + 1),
		Prediction: prediction,
		Parent:     parent,
	}, nil
}

// Probe builds a child used only to drive one checker run: the blobs
// carry a solver model's mutations but no prediction vector is stamped,
// because a probe is never enqueued or traced.
func Probe(parent *Input, blobs []Blob) *Input {
	return &Input{
		ID:         uuid.NewString(),
		Blobs:      blobs,
		Mode:       parent.Mode,
		StartDepth: parent.StartDepth,
		Parent:     parent,
	}
}

// Depth returns the branch-tree depth used as the second component of a
// FrontierKey: for the root this is 0, for any derived Input it is the
// length of its own prediction vector (equivalently its StartDepth).
func (in *Input) Depth() uint32 {
	return uint32(len(in.Prediction))
}

// CloneBlobs returns a deep copy of the Input's blobs, suitable for
// InputFactory to mutate via applyModel without aliasing the parent's
// bytes.
func (in *Input) CloneBlobs() []Blob {
	out := make([]Blob, len(in.Blobs))
	for i, b := range in.Blobs {
		out[i] = Blob{Name: b.Name, Data: append([]byte(nil), b.Data...)}
	}
	return out
}
