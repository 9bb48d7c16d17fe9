package coordinator

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kleascm/avalanche-driver/pkg/engine"
	"github.com/kleascm/avalanche-driver/pkg/model"
)

// fakeServer accepts one client and runs script against its connection.
func fakeServer(t *testing.T, script func(conn net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		script(conn)
	}()
	return ln.Addr().String()
}

func handshake(t *testing.T, conn net.Conn, agents uint32) {
	t.Helper()
	one := make([]byte, 1)
	if _, err := io.ReadFull(conn, one); err != nil || one[0] != 'm' {
		t.Errorf("expected main-agent identification, got %v (%v)", one, err)
		return
	}
	wr := newWriter(conn)
	wr.u32(agents)
	require.NoError(t, wr.Err())
}

func TestDialIdentifiesAsMainAgent(t *testing.T) {
	done := make(chan struct{})
	addr := fakeServer(t, func(conn net.Conn) {
		handshake(t, conn, 2)
		close(done)
	})

	client, err := Dial(context.Background(), addr, logrus.New())
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, uint32(2), client.Agents())
	<-done
}

func TestTalkToServerAnswersAnnounce(t *testing.T) {
	type result struct {
		rec InputRecord
		err error
	}
	got := make(chan result, 1)
	announced := make(chan struct{})
	release := make(chan struct{})

	addr := fakeServer(t, func(conn net.Conn) {
		defer func() { <-release }() // hold the connection open until the client is done polling
		handshake(t, conn, 1)

		_, err := conn.Write([]byte{'a'})
		if err != nil {
			got <- result{err: err}
			return
		}
		close(announced)

		one := make([]byte, 1)
		if _, err := io.ReadFull(conn, one); err != nil || one[0] != 'r' {
			got <- result{err: err}
			return
		}
		wr := newWriter(conn)
		wr.u32(1) // request one input
		if wr.Err() != nil {
			got <- result{err: wr.Err()}
			return
		}

		rd := newReader(conn)
		if flag := rd.u32(); flag != 1 || rd.Err() != nil {
			got <- result{err: rd.Err()}
			return
		}
		rec, err := readInputRecord(rd, true)
		got <- result{rec: rec, err: err}
	})

	client, err := Dial(context.Background(), addr, logrus.New())
	require.NoError(t, err)
	defer client.Close()

	<-announced
	time.Sleep(50 * time.Millisecond) // let the command byte reach the socket buffer

	in := model.NewRoot([]model.Blob{{Name: "file_0", Data: []byte("seed")}}, model.ModeFiles, 0)
	in.StartDepth = 4
	popped := 0
	fe := &engine.FrontierExchange{
		Len:   3,
		Floor: 1,
		PopSecondHighest: func() (*model.Input, bool) {
			popped++
			return in, true
		},
		EffectiveConfig: &engine.Config{
			InvertDepth:    2,
			CheckerTimeout: 30 * time.Second,
			StpThreads:     4,
			Memcheck:       true,
			TargetArgv:     []string{"./target"},
		},
	}

	ok := client.TalkToServer(context.Background(), fe)
	close(release)
	assert.True(t, ok)
	assert.Equal(t, 1, popped)

	r := <-got
	require.NoError(t, r.err)
	require.Len(t, r.rec.Files, 1)
	assert.Equal(t, "file_0", r.rec.Files[0].Name)
	assert.Equal(t, []byte("seed"), r.rec.Files[0].Data)
	assert.Equal(t, uint32(4), r.rec.StartDepth)
	require.NotNil(t, r.rec.Options)
	assert.Equal(t, uint32(2), r.rec.Options.Depth)
	assert.Equal(t, uint32(30), r.rec.Options.Alarm)
	assert.True(t, r.rec.Options.Memcheck)
	assert.Equal(t, []string{"./target"}, r.rec.Options.TargetArgv)
}

func TestTalkToServerRespectsFloor(t *testing.T) {
	flags := make(chan []uint32, 1)
	announced := make(chan struct{})
	release := make(chan struct{})

	addr := fakeServer(t, func(conn net.Conn) {
		defer func() { <-release }()
		handshake(t, conn, 2)

		if _, err := conn.Write([]byte{'g'}); err != nil {
			return
		}
		close(announced)

		one := make([]byte, 1)
		if _, err := io.ReadFull(conn, one); err != nil {
			return
		}
		wr := newWriter(conn)
		wr.u32(3)
		if wr.Err() != nil {
			return
		}

		rd := newReader(conn)
		var got []uint32
		for i := 0; i < 3; i++ {
			flag := rd.u32()
			got = append(got, flag)
			if flag == 1 {
				if _, err := readInputRecord(rd, false); err != nil {
					return
				}
			}
		}
		flags <- got
	})

	client, err := Dial(context.Background(), addr, logrus.New())
	require.NoError(t, err)
	defer client.Close()

	<-announced
	time.Sleep(50 * time.Millisecond)

	in := model.NewRoot([]model.Blob{{Name: "file_0", Data: []byte("x")}}, model.ModeFiles, 0)
	fe := &engine.FrontierExchange{
		Len:              11,
		Floor:            10,
		PopSecondHighest: func() (*model.Input, bool) { return in, true },
		EffectiveConfig:  &engine.Config{},
	}

	ok := client.TalkToServer(context.Background(), fe)
	close(release)
	assert.True(t, ok)
	assert.Equal(t, []uint32{1, 0, 0}, <-flags,
		"only inputs above the floor are given away; the rest answer 0")
}

func TestCloseSendsShutdownByte(t *testing.T) {
	gotBye := make(chan byte, 1)
	addr := fakeServer(t, func(conn net.Conn) {
		handshake(t, conn, 1)
		one := make([]byte, 1)
		if _, err := io.ReadFull(conn, one); err == nil {
			gotBye <- one[0]
		}
	})

	client, err := Dial(context.Background(), addr, logrus.New())
	require.NoError(t, err)
	client.Close()

	select {
	case b := <-gotBye:
		assert.Equal(t, byte('q'), b)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the shutdown byte")
	}
}
