/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: client.go
Description: TCP client dialogue with the distribution server: announce
as main agent, then on each post-iteration call, answer whatever the
server asks for — a batch of surplus inputs plus the full option set, or
bare inputs — out of the local frontier, respecting the protect-main-agent
floor.
*/

package coordinator

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/kleascm/avalanche-driver/pkg/engine"
	"github.com/kleascm/avalanche-driver/pkg/model"
)

// cmdAnnounce / cmdGiveInput are the one-byte command codes the server
// sends during a post-iteration exchange.
const (
	cmdAnnounce  byte = 'a'
	cmdGiveInput byte = 'g'
	respOK       byte = 'r'
	identifyMain byte = 'm'
	byeByte      byte = 'q'
)

// Client is a single TCP connection to the distribution server,
// implementing the engine.Coordinator capability.
type Client struct {
	conn   *net.TCPConn
	logger *logrus.Logger
	agents uint32
}

// Dial connects to addr, identifies as the main agent, and reads back the
// number of peer agents the server reports.
func Dial(ctx context.Context, addr string, logger *logrus.Logger) (*Client, error) {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("coordinator: dial %s: %w", addr, err)
	}
	tcpConn := conn.(*net.TCPConn)

	if _, err := tcpConn.Write([]byte{identifyMain}); err != nil {
		tcpConn.Close()
		return nil, fmt.Errorf("coordinator: identify: %w", err)
	}

	rd := newReader(tcpConn)
	agents := rd.u32()
	if rd.Err() != nil {
		tcpConn.Close()
		return nil, fmt.Errorf("coordinator: read agent count: %w", rd.Err())
	}

	return &Client{conn: tcpConn, logger: logger, agents: agents}, nil
}

// Agents returns the peer agent count reported at handshake time.
func (c *Client) Agents() uint32 { return c.agents }

// Close sends the 'q' shutdown byte and closes the connection.
func (c *Client) Close() {
	if c.conn == nil {
		return
	}
	_, _ = c.conn.Write([]byte{byeByte})
	c.conn.Close()
}

// pollReadable does a zero-timeout poll(2) on the connection's fd, so
// the exchange drains exactly the commands already queued and never
// blocks waiting for a server that has nothing to say.
func pollReadable(conn *net.TCPConn) (bool, error) {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return false, err
	}
	var readable bool
	var pollErr error
	ctrlErr := rawConn.Control(func(fd uintptr) {
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, 0)
		if err != nil {
			pollErr = err
			return
		}
		readable = n > 0 && fds[0].Revents&unix.POLLIN != 0
	})
	if ctrlErr != nil {
		return false, ctrlErr
	}
	return readable, pollErr
}

// TalkToServer implements engine.Coordinator. It polls the socket and,
// while readable, dispatches each one-byte server command; it returns
// false (and the caller should downgrade to local-only mode) on a read
// error or a zero-byte read, which mean the coordinator has gone away.
func (c *Client) TalkToServer(ctx context.Context, fe *engine.FrontierExchange) bool {
	for {
		readable, err := pollReadable(c.conn)
		if err != nil {
			c.logger.WithError(err).Warn("coordinator: poll failed")
			return false
		}
		if !readable {
			return true
		}

		cmdBuf := make([]byte, 1)
		c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		n, err := c.conn.Read(cmdBuf)
		if err != nil || n == 0 {
			c.logger.WithError(err).Warn("coordinator: lost connection")
			return false
		}

		switch cmdBuf[0] {
		case cmdAnnounce:
			if !c.handleAnnounce(fe) {
				return false
			}
		case cmdGiveInput:
			if !c.handleGiveInput(fe) {
				return false
			}
		default:
			if _, err := c.conn.Write([]byte{0}); err != nil {
				return false
			}
		}
	}
}

func (c *Client) handleAnnounce(fe *engine.FrontierExchange) bool {
	if _, err := c.conn.Write([]byte{respOK}); err != nil {
		return false
	}
	rd := newReader(c.conn)
	size := rd.u32()
	if rd.Err() != nil {
		return false
	}

	wr := newWriter(c.conn)
	cfg := fe.EffectiveConfig
	remaining := fe.Len
	for i := uint32(0); i < size; i++ {
		if remaining <= fe.Floor {
			wr.u32(0)
			continue
		}
		in, ok := fe.PopSecondHighest()
		if !ok {
			wr.u32(0)
			continue
		}
		remaining--
		wr.u32(1)
		writeInputRecord(wr, InputRecord{
			Files:      toWireFiles(in),
			Sockets:    in.Mode == model.ModeSockets,
			Datagrams:  in.Mode == model.ModeDatagrams,
			StartDepth: in.StartDepth,
			Options:    optionSetFrom(cfg),
		})
	}
	return wr.Err() == nil
}

func (c *Client) handleGiveInput(fe *engine.FrontierExchange) bool {
	if _, err := c.conn.Write([]byte{respOK}); err != nil {
		return false
	}
	rd := newReader(c.conn)
	size := rd.u32()
	if rd.Err() != nil {
		return false
	}

	wr := newWriter(c.conn)
	remaining := fe.Len
	for i := uint32(0); i < size; i++ {
		if remaining <= fe.Floor {
			wr.u32(0)
			continue
		}
		in, ok := fe.PopSecondHighest()
		if !ok {
			wr.u32(0)
			continue
		}
		remaining--
		wr.u32(1)
		writeInputRecord(wr, InputRecord{
			Files:      toWireFiles(in),
			Sockets:    in.Mode == model.ModeSockets,
			Datagrams:  in.Mode == model.ModeDatagrams,
			StartDepth: in.StartDepth,
			Options:    nil,
		})
	}
	return wr.Err() == nil
}

func toWireFiles(in *model.Input) []InputFile {
	files := make([]InputFile, len(in.Blobs))
	for i, b := range in.Blobs {
		files[i] = InputFile{Name: b.Name, Data: b.Data}
	}
	return files
}

func optionSetFrom(cfg *engine.Config) *OptionSet {
	if cfg == nil {
		return &OptionSet{}
	}
	return &OptionSet{
		Depth:            cfg.InvertDepth,
		Alarm:            uint32(cfg.CheckerTimeout.Seconds()),
		TracegrindAlarm:  uint32(cfg.TracerTimeout.Seconds()),
		StpThreads:       uint32(cfg.StpThreads),
		Memcheck:         cfg.Memcheck,
		Leaks:            cfg.Leaks,
		TraceChildren:    cfg.TraceChildren,
		CheckDanger:      cfg.CheckDanger,
		Debug:            cfg.Debug,
		Verbose:          cfg.Verbose,
		SuppressSubcalls: cfg.SuppressSubcalls,
		StpThreadsAuto:   cfg.StpThreadsAuto,
		Host:             cfg.Host,
		Port:             uint32(cfg.Port),
		FuncFilterNames:  cfg.FuncNames,
		TargetArgv:       cfg.TargetArgv,
	}
}
