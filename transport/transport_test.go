package transport

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xbdm-loader/protocol"
	"xbdm-loader/rpcerr"
)

// fakeConsole accepts one connection and hands it to script.
func fakeConsole(t *testing.T, script func(conn net.Conn, r *bufio.Reader)) string {
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
		script(conn, bufio.NewReader(conn))
	}()
	return ln.Addr().String()
}

func TestSessionCallExchange(t *testing.T) {
	addr := fakeConsole(t, func(conn net.Conn, r *bufio.Reader) {
		protocol.WriteResponse(conn, protocol.StatusConnected, "connected")

		line, _ := r.ReadString('\n')
		if line != "rpc system version=4 buf_size=16 processor=5 thread=\r\n" {
			protocol.WriteResponse(conn, protocol.StatusUnknownCommand, "unknown command")
			return
		}
		protocol.WriteResponse(conn, protocol.StatusSendBinary, "buf_addr=40001000")

		buf := make([]byte, 16)
		io.ReadFull(r, buf)
		protocol.WriteResponse(conn, protocol.StatusOK, "OK")
		conn.Write(buf)
	})

	s, err := NewDialer(addr, time.Second).OpenSession(context.Background())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	resp, err := s.SendTextCommand(ctx, protocol.RPCCommand(16))
	require.NoError(t, err)
	base, err := protocol.ParseBufAddr(resp)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x40001000), base)

	payload := []byte("0123456789abcdef")
	require.NoError(t, s.SendBinary(ctx, payload))

	status, err := s.AwaitStatus(ctx)
	require.NoError(t, err)
	assert.True(t, status.Success())

	echoed, err := s.ReceiveBinary(ctx, len(payload))
	require.NoError(t, err)
	assert.Equal(t, payload, echoed)
}

func TestSessionMultiline(t *testing.T) {
	addr := fakeConsole(t, func(conn net.Conn, r *bufio.Reader) {
		protocol.WriteResponse(conn, protocol.StatusConnected, "connected")
		r.ReadString('\n')
		protocol.WriteMultiline(conn, []string{`name="xam.xex"`, `name="xbdm.xex"`})
		r.ReadString('\n')
		protocol.WriteResponse(conn, protocol.StatusFileNotFound, "file not found")
	})

	s, err := NewDialer(addr, time.Second).OpenSession(context.Background())
	require.NoError(t, err)
	defer s.Close()

	resp, lines, err := s.SendMultilineCommand(context.Background(), protocol.CmdModules)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusMultiline, resp.Code)
	assert.Equal(t, []string{`name="xam.xex"`, `name="xbdm.xex"`}, lines)

	resp, lines, err = s.SendMultilineCommand(context.Background(), protocol.GetFileAttributesCommand(`Hdd:\x.xex`))
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusFileNotFound, resp.Code)
	assert.Nil(t, lines)
}

func TestOpenSessionRefused(t *testing.T) {
	addr := fakeConsole(t, func(conn net.Conn, r *bufio.Reader) {
		protocol.WriteResponse(conn, protocol.StatusMaxConnections, "max number of connections exceeded")
	})

	_, err := NewDialer(addr, time.Second).OpenSession(context.Background())
	assert.True(t, errors.Is(err, rpcerr.ErrRemote))
	assert.Contains(t, err.Error(), "401- max number of connections exceeded")
}

func TestOpenSessionUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = NewDialer(addr, time.Second).OpenSession(context.Background())
	assert.True(t, errors.Is(err, rpcerr.ErrTransport))
}

func TestStepTimeout(t *testing.T) {
	addr := fakeConsole(t, func(conn net.Conn, r *bufio.Reader) {
		protocol.WriteResponse(conn, protocol.StatusConnected, "connected")
		r.ReadString('\n')
		time.Sleep(time.Second) // never answers in time
	})

	s, err := NewDialer(addr, 100*time.Millisecond).OpenSession(context.Background())
	require.NoError(t, err)
	defer s.Close()

	start := time.Now()
	_, err = s.SendTextCommand(context.Background(), protocol.CmdDbgName)
	assert.True(t, errors.Is(err, rpcerr.ErrTransport))
	assert.Less(t, time.Since(start), 900*time.Millisecond)
}

func TestContextCancelAbortsStep(t *testing.T) {
	addr := fakeConsole(t, func(conn net.Conn, r *bufio.Reader) {
		protocol.WriteResponse(conn, protocol.StatusConnected, "connected")
		time.Sleep(time.Second)
	})

	s, err := NewDialer(addr, 0).OpenSession(context.Background())
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err = s.ReceiveBinary(ctx, 8)
	assert.True(t, errors.Is(err, rpcerr.ErrTransport))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestWithDefaultPort(t *testing.T) {
	assert.Equal(t, "192.168.1.20:730", WithDefaultPort("192.168.1.20"))
	assert.Equal(t, "devkit:7300", WithDefaultPort("devkit:7300"))
}

type countingOpener struct {
	opened int
	fail   bool
}

type nopSession struct{ Session }

func (nopSession) Close() error { return nil }

func (o *countingOpener) OpenSession(ctx context.Context) (Session, error) {
	if o.fail {
		return nil, rpcerr.Transport("dial", errors.New("refused"))
	}
	o.opened++
	return nopSession{}, nil
}

func TestPoolBoundsSessions(t *testing.T) {
	opener := &countingOpener{}
	pool := NewPool(opener, 2)
	ctx := context.Background()

	s1, err := pool.OpenSession(ctx)
	require.NoError(t, err)
	s2, err := pool.OpenSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, pool.InUse())

	// Third open blocks until a slot frees up
	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = pool.OpenSession(waitCtx)
	assert.True(t, errors.Is(err, rpcerr.ErrTransport))

	require.NoError(t, s1.Close())
	require.NoError(t, s1.Close()) // second close must not free another slot
	assert.Equal(t, 1, pool.InUse())

	s3, err := pool.OpenSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, pool.InUse())
	assert.Equal(t, 3, opener.opened)

	s2.Close()
	s3.Close()
	assert.Equal(t, 0, pool.InUse())
}

func TestPoolReleasesSlotOnOpenFailure(t *testing.T) {
	opener := &countingOpener{fail: true}
	pool := NewPool(opener, 1)

	_, err := pool.OpenSession(context.Background())
	assert.Error(t, err)

	opener.fail = false
	s, err := pool.OpenSession(context.Background())
	require.NoError(t, err)
	s.Close()
	assert.Equal(t, 1, pool.Cap())
}
