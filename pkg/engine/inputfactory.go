/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: inputfactory.go
Description: Builds a child Input by cloning the parent's byte blobs,
applying a solver model to every one of them, and stamping
the predicted branch vector via model.Derive.
*/

package engine

import (
	"fmt"

	"github.com/spf13/afero"

	"github.com/kleascm/avalanche-driver/pkg/buffer"
	"github.com/kleascm/avalanche-driver/pkg/model"
)

// applyModelToBlobs clones parent's blobs and applies the solver model
// at modelPath to every one of them. allChanged is false as soon as the
// model rewrites no byte of some blob.
func applyModelToBlobs(fs afero.Fs, parent *model.Input, modelPath string) (blobs []model.Blob, allChanged bool, err error) {
	blobs = parent.CloneBlobs()
	for i, b := range blobs {
		updated, changed, aerr := buffer.ApplyModel(fs, b.Name, b.Data, modelPath, i)
		if aerr != nil {
			return nil, false, fmt.Errorf("apply model to blob %d: %w", i, aerr)
		}
		if !changed {
			return nil, false, nil
		}
		blobs[i] = model.Blob{Name: updated.Name, Data: updated.Data}
	}
	return blobs, true, nil
}

// DeriveChild builds the child Input for query index queryIndex of
// parent's trace, given the solver's counterexample file at modelPath and
// the actual branch vector observed during parent's own traced run.
//
// The model names bytes per blob (file_<k>_<...>); DeriveChild applies it
// to each of parent's blobs in turn. If the model references no byte of
// some blob, ok is false and the caller treats this branch as pruned
// rather than synthesise a partial duplicate of the parent.
func DeriveChild(fs afero.Fs, parent *model.Input, modelPath string, queryIndex int, actual []bool) (child *model.Input, ok bool, err error) {
	blobs, allChanged, err := applyModelToBlobs(fs, parent, modelPath)
	if err != nil {
		return nil, false, fmt.Errorf("engine: inputfactory: %w", err)
	}
	if !allChanged {
		return nil, false, nil
	}

	child, derr := model.Derive(parent, blobs, queryIndex, actual)
	if derr != nil {
		return nil, false, fmt.Errorf("engine: inputfactory: %w", derr)
	}
	return child, true, nil
}

// DeriveProbe builds a candidate whose only purpose is one checker run:
// the model's mutations are applied but no prediction vector is needed,
// since a probe is never inserted into the frontier. Used for danger
// queries, where the goal is surfacing a direct crash.
func DeriveProbe(fs afero.Fs, parent *model.Input, modelPath string) (child *model.Input, ok bool, err error) {
	blobs, allChanged, err := applyModelToBlobs(fs, parent, modelPath)
	if err != nil {
		return nil, false, fmt.Errorf("engine: inputfactory: %w", err)
	}
	if !allChanged {
		return nil, false, nil
	}
	return model.Probe(parent, blobs), true, nil
}
