/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: wire.go
Description: Binary encoding for the distribution coordinator's wire
protocol. All integers are 4-byte little-endian host order; booleans are
a single byte.
*/

package coordinator

import (
	"encoding/binary"
	"fmt"
	"io"
)

type writer struct {
	w   io.Writer
	err error
}

func newWriter(w io.Writer) *writer { return &writer{w: w} }

func (wr *writer) u32(v uint32) {
	if wr.err != nil {
		return
	}
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, wr.err = wr.w.Write(b[:])
}

func (wr *writer) b1(v bool) {
	if wr.err != nil {
		return
	}
	var b byte
	if v {
		b = 1
	}
	_, wr.err = wr.w.Write([]byte{b})
}

func (wr *writer) bytes(v []byte) {
	if wr.err != nil {
		return
	}
	_, wr.err = wr.w.Write(v)
}

func (wr *writer) blob(v []byte) {
	wr.u32(uint32(len(v)))
	wr.bytes(v)
}

func (wr *writer) str(v string) {
	wr.blob([]byte(v))
}

func (wr *writer) Err() error { return wr.err }

type reader struct {
	r   io.Reader
	err error
}

func newReader(r io.Reader) *reader { return &reader{r: r} }

func (rd *reader) u32() uint32 {
	if rd.err != nil {
		return 0
	}
	var b [4]byte
	if _, rd.err = io.ReadFull(rd.r, b[:]); rd.err != nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b[:])
}

func (rd *reader) b1() bool {
	if rd.err != nil {
		return false
	}
	var b [1]byte
	if _, rd.err = io.ReadFull(rd.r, b[:]); rd.err != nil {
		return false
	}
	return b[0] != 0
}

func (rd *reader) blob() []byte {
	n := rd.u32()
	if rd.err != nil || n == 0 {
		return nil
	}
	buf := make([]byte, n)
	if _, rd.err = io.ReadFull(rd.r, buf); rd.err != nil {
		return nil
	}
	return buf
}

func (rd *reader) str() string { return string(rd.blob()) }

func (rd *reader) byte1() byte {
	if rd.err != nil {
		return 0
	}
	var b [1]byte
	if _, rd.err = io.ReadFull(rd.r, b[:]); rd.err != nil {
		return 0
	}
	return b[0]
}

func (rd *reader) Err() error { return rd.err }

// InputFile is one blob of an InputRecord as it travels over the wire.
type InputFile struct {
	Name string // omitted (empty) in socket/datagram modes
	Data []byte
}

// OptionSet is the full effective option set sent with an "announce"
// ('a') response. The eight booleans travel in this exact order:
// memcheck, leaks, traceChildren, checkDanger, debug, verbose,
// suppressSubcalls, stpThreadsAuto.
type OptionSet struct {
	Depth            uint32 // the sending agent's currently configured invert depth
	Alarm            uint32
	TracegrindAlarm  uint32
	StpThreads       uint32
	Memcheck         bool
	Leaks            bool
	TraceChildren    bool
	CheckDanger      bool
	Debug            bool
	Verbose          bool
	SuppressSubcalls bool
	StpThreadsAuto   bool
	Host             string // empty when not a socket target
	Port             uint32
	InputMask        []byte // nil when none
	FuncFilterNames  []string
	FuncFilterFile   []byte // nil when none
	TargetArgv       []string
}

// InputRecord is one serialised Input plus, for "announce" responses, the
// OptionSet that accompanies it.
type InputRecord struct {
	Files      []InputFile
	Sockets    bool
	Datagrams  bool
	StartDepth uint32
	Options    *OptionSet // nil for "give input" ('g') responses
}

func writeInputRecord(wr *writer, rec InputRecord) {
	wr.u32(uint32(len(rec.Files)))
	wr.b1(rec.Sockets)
	wr.b1(rec.Datagrams)
	networked := rec.Sockets || rec.Datagrams
	for _, f := range rec.Files {
		if !networked {
			wr.str(f.Name)
		}
		wr.blob(f.Data)
	}
	wr.u32(rec.StartDepth)

	if rec.Options == nil {
		return
	}
	o := rec.Options
	wr.u32(o.Depth)
	wr.u32(o.Alarm)
	wr.u32(o.TracegrindAlarm)
	wr.u32(o.StpThreads)
	wr.u32(uint32(len(o.TargetArgv)))

	wr.b1(o.Memcheck)
	wr.b1(o.Leaks)
	wr.b1(o.TraceChildren)
	wr.b1(o.CheckDanger)
	wr.b1(o.Debug)
	wr.b1(o.Verbose)
	wr.b1(o.SuppressSubcalls)
	wr.b1(o.StpThreadsAuto)

	if networked {
		wr.str(o.Host)
		wr.u32(o.Port)
	}

	wr.blob(o.InputMask)

	wr.u32(uint32(len(o.FuncFilterNames)))
	for _, n := range o.FuncFilterNames {
		wr.str(n)
	}
	wr.blob(o.FuncFilterFile)

	for _, a := range o.TargetArgv {
		wr.str(a)
	}
}

func readInputRecord(rd *reader, withOptions bool) (InputRecord, error) {
	var rec InputRecord
	fileCount := rd.u32()
	rec.Sockets = rd.b1()
	rec.Datagrams = rd.b1()
	networked := rec.Sockets || rec.Datagrams

	rec.Files = make([]InputFile, fileCount)
	for i := range rec.Files {
		if !networked {
			rec.Files[i].Name = rd.str()
		}
		rec.Files[i].Data = rd.blob()
	}
	rec.StartDepth = rd.u32()

	if withOptions {
		o := &OptionSet{}
		o.Depth = rd.u32()
		o.Alarm = rd.u32()
		o.TracegrindAlarm = rd.u32()
		o.StpThreads = rd.u32()
		argc := rd.u32()

		o.Memcheck = rd.b1()
		o.Leaks = rd.b1()
		o.TraceChildren = rd.b1()
		o.CheckDanger = rd.b1()
		o.Debug = rd.b1()
		o.Verbose = rd.b1()
		o.SuppressSubcalls = rd.b1()
		o.StpThreadsAuto = rd.b1()

		if networked {
			o.Host = rd.str()
			o.Port = rd.u32()
		}
		o.InputMask = rd.blob()

		filterCount := rd.u32()
		o.FuncFilterNames = make([]string, filterCount)
		for i := range o.FuncFilterNames {
			o.FuncFilterNames[i] = rd.str()
		}
		o.FuncFilterFile = rd.blob()

		o.TargetArgv = make([]string, argc)
		for i := range o.TargetArgv {
			o.TargetArgv[i] = rd.str()
		}
		rec.Options = o
	}

	if rd.Err() != nil {
		return InputRecord{}, fmt.Errorf("coordinator: decode input record: %w", rd.Err())
	}
	return rec, nil
}
