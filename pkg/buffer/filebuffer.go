/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: filebuffer.go
Description: Owned, named byte buffers for target inputs. FileBuffer wraps a
single on-disk blob; applyModel rewrites bytes per the solver's
counterexample file, and cutQueryAndDump implements the trace-splitting
primitive the exploration engine drives the solver fan-out with.
*/

package buffer

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"strconv"

	"github.com/spf13/afero"
)

// FileBuffer is a named, owned, growable byte buffer. The zero value is
// not valid; use New.
type FileBuffer struct {
	fs   afero.Fs
	Name string
	Data []byte
}

// New wraps an in-memory blob. Pass afero.NewOsFs() for real filesystem
// access or afero.NewMemMapFs() in tests.
func New(fs afero.Fs, name string, data []byte) *FileBuffer {
	return &FileBuffer{fs: fs, Name: name, Data: append([]byte(nil), data...)}
}

// Load reads a FileBuffer's contents from path.
func Load(fs afero.Fs, name, path string) (*FileBuffer, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("buffer: load %s: %w", path, err)
	}
	return New(fs, name, data), nil
}

// Dump atomically overwrites path with the buffer's contents: written to a
// sibling temp file and renamed over the destination, so a crash mid-write
// never leaves a partial file at path.
func (b *FileBuffer) Dump(path string) error {
	tmp := path + ".tmp"
	if err := afero.WriteFile(b.fs, tmp, b.Data, 0o644); err != nil {
		return fmt.Errorf("buffer: dump %s: %w", path, err)
	}
	if err := b.fs.Rename(tmp, path); err != nil {
		return fmt.Errorf("buffer: dump %s: rename: %w", path, err)
	}
	return nil
}

// modelAssertion matches one line of a solver counterexample file, e.g.
// `ASSERT( file_0_12 = 0h41 );`
var modelAssertion = regexp.MustCompile(`ASSERT\(\s*file_(\d+)_(\d+)\s*=\s*0h([0-9A-Fa-f]{2})\s*\);`)

// ApplyModel parses modelPath and, for every assertion targeting blobIndex,
// overwrites the referenced byte. It returns (newBuffer, changed). When no
// assertion in the model references this blob, changed is false and the
// caller should treat the branch as pruned rather than synthesise a
// duplicate input.
func ApplyModel(fs afero.Fs, name string, data []byte, modelPath string, blobIndex int) (*FileBuffer, bool, error) {
	f, err := fs.Open(modelPath)
	if err != nil {
		return nil, false, fmt.Errorf("buffer: applyModel: open %s: %w", modelPath, err)
	}
	defer f.Close()

	out := append([]byte(nil), data...)
	changed := false

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		m := modelAssertion.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil || idx != blobIndex {
			continue
		}
		offset, err := strconv.Atoi(m[2])
		if err != nil || offset < 0 || offset >= len(out) {
			continue
		}
		value, err := strconv.ParseUint(m[3], 16, 8)
		if err != nil {
			continue
		}
		out[offset] = byte(value)
		changed = true
	}
	if err := scanner.Err(); err != nil {
		return nil, false, fmt.Errorf("buffer: applyModel: scan %s: %w", modelPath, err)
	}
	if !changed {
		return nil, false, nil
	}
	return New(fs, name, out), true, nil
}

// preambleNoise strips the execution-framework banner lines that precede
// the actual call stack in checker/memcheck output.
var preambleNoise = regexp.MustCompile(`(?m)^(==\d+==|--\d+--|\*\*).*$` + "\n?")

// FilterCheckerOutput strips execution-framework preamble lines, retaining
// only call-stack frames, producing the canonical fingerprint CrashReport
// groups crashes by. Idempotent: filtering already-filtered output is a
// no-op.
func FilterCheckerOutput(raw []byte) []byte {
	return preambleNoise.ReplaceAll(raw, nil)
}

// queryMarker is the self-contained record boundary the tracer emits once
// per path-condition predicate.
const queryMarker = "QUERY(FALSE);"

// CutQueryAndDump splits off the first QUERY(FALSE); record, together
// with all preceding declarations, and writes it to path. If
// keepRemainder is true, the query record itself is then removed from
// the in-memory buffer while the declarations stay, so the next call
// yields the next query with every declaration that precedes it;
// otherwise the buffer is left unchanged. This is the primitive that
// turns one trace file into N single-query solver inputs.
func (b *FileBuffer) CutQueryAndDump(path string, keepRemainder bool) (bool, error) {
	idx := bytes.Index(b.Data, []byte(queryMarker))
	if idx == -1 {
		return false, nil
	}
	cut := idx + len(queryMarker)

	out := New(b.fs, path, b.Data[:cut])
	if err := out.Dump(path); err != nil {
		return false, err
	}

	if keepRemainder {
		b.Data = append(b.Data[:idx], b.Data[cut:]...)
	}
	return true, nil
}

// SkipQuery removes the first QUERY(FALSE); record from the buffer
// without dumping anything, keeping its declarations. Reports whether a
// query was present.
func (b *FileBuffer) SkipQuery() bool {
	idx := bytes.Index(b.Data, []byte(queryMarker))
	if idx == -1 {
		return false
	}
	b.Data = append(b.Data[:idx], b.Data[idx+len(queryMarker):]...)
	return true
}

// CountQueries returns the number of QUERY(FALSE); occurrences in the
// buffer, i.e. the trace's depth.
func CountQueries(data []byte) int {
	return bytes.Count(data, []byte(queryMarker))
}
