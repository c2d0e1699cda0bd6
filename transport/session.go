// Package transport implements the client side of the debug monitor channel.
//
// A Session is one TCP connection to the console. The remote call protocol
// is strictly one call in flight per session: the scratch buffer address the
// console hands out is only valid for the call that asked for it, so a call
// owns its session from allocation until it closes it. Concurrency comes from
// opening more sessions, which Pool bounds per console.
//
//	caller ──OpenSession──→ dial :730 ──→ "201- connected"
//	       ──SendTextCommand──→ "rpc ..."  ←── "204- buf_addr=..."
//	       ──SendBinary──→ call buffer     ←── AwaitStatus "200- ..."
//	       ──ReceiveBinary(n)──→ echoed bytes
//	       ──Close
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"xbdm-loader/protocol"
	"xbdm-loader/rpcerr"
)

// Session is a blocking, exclusively owned channel to one console.
type Session interface {
	// SendTextCommand sends one command line and returns the status line.
	// A non-2xx status is returned as a Response, not as an error.
	SendTextCommand(ctx context.Context, command string) (*protocol.Response, error)
	// SendMultilineCommand is SendTextCommand for commands that answer with a
	// 202 body; lines is nil unless the status is 202.
	SendMultilineCommand(ctx context.Context, command string) (*protocol.Response, []string, error)
	// SendBinary uploads a raw block.
	SendBinary(ctx context.Context, data []byte) error
	// AwaitStatus blocks for the next status line.
	AwaitStatus(ctx context.Context) (*protocol.Response, error)
	// ReceiveBinary reads exactly n raw bytes.
	ReceiveBinary(ctx context.Context, n int) ([]byte, error)
	// Close aborts whatever is in flight and releases the connection.
	Close() error
}

// Opener opens independent sessions. Dialer and Pool implement it.
type Opener interface {
	OpenSession(ctx context.Context) (Session, error)
}

// Dialer opens sessions to a single console address.
type Dialer struct {
	Addr        string         // host or host:port; port defaults to 730
	DialTimeout time.Duration  // zero means no dial timeout beyond ctx
	StepTimeout time.Duration  // wall-clock limit for every blocking step, zero disables
	Logger      zerolog.Logger // Wire-level tracing
}

// NewDialer creates a Dialer for addr with a per-step timeout.
func NewDialer(addr string, stepTimeout time.Duration) *Dialer {
	return &Dialer{
		Addr:        addr,
		DialTimeout: stepTimeout,
		StepTimeout: stepTimeout,
		Logger:      zerolog.Nop(),
	}
}

// Address returns Addr with the default port filled in.
func (d *Dialer) Address() string {
	return WithDefaultPort(d.Addr)
}

// WithDefaultPort appends the debug monitor port to addr if it has none.
func WithDefaultPort(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, strconv.Itoa(protocol.DefaultPort))
}

// OpenSession dials the console and consumes its greeting.
func (d *Dialer) OpenSession(ctx context.Context) (Session, error) {
	nd := net.Dialer{Timeout: d.DialTimeout}
	conn, err := nd.DialContext(ctx, "tcp", d.Address())
	if err != nil {
		return nil, rpcerr.Transport("connect to "+d.Address(), err)
	}

	s := &session{
		conn:        conn,
		reader:      bufio.NewReader(conn),
		stepTimeout: d.StepTimeout,
		logger:      d.Logger.With().Str("console", d.Address()).Logger(),
	}

	greeting, err := s.AwaitStatus(ctx)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if greeting.Code != protocol.StatusConnected {
		conn.Close()
		return nil, rpcerr.Remote("console refused the session", greeting.Raw)
	}
	return s, nil
}

type session struct {
	conn        net.Conn
	reader      *bufio.Reader
	stepTimeout time.Duration
	logger      zerolog.Logger
}

// step runs fn under the step deadline, and aborts it when ctx is done.
// Any I/O failure, including an expired deadline, becomes a TransportError.
func (s *session) step(ctx context.Context, op string, fn func() error) error {
	deadline := time.Time{}
	if s.stepTimeout > 0 {
		deadline = time.Now().Add(s.stepTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	if err := s.conn.SetDeadline(deadline); err != nil {
		return rpcerr.Transport(op, err)
	}

	stop := context.AfterFunc(ctx, func() {
		s.conn.SetDeadline(time.Now())
	})
	defer stop()

	err := fn()
	if err == nil {
		return nil
	}
	var typed *rpcerr.Error
	if errors.As(err, &typed) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return rpcerr.Transport(op, ctxErr)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return rpcerr.Transport(fmt.Sprintf("%s: no answer within %s", op, s.stepTimeout), err)
	}
	return rpcerr.Transport(op, err)
}

func (s *session) SendTextCommand(ctx context.Context, command string) (*protocol.Response, error) {
	var resp *protocol.Response
	err := s.step(ctx, "send command", func() error {
		s.logger.Trace().Str("send", command).Msg("command")
		if err := protocol.WriteCommand(s.conn, command); err != nil {
			return err
		}
		var err error
		resp, err = protocol.ReadResponse(s.reader)
		if err != nil {
			return err
		}
		s.logger.Trace().Str("recv", resp.Raw).Msg("status")
		return nil
	})
	return resp, err
}

func (s *session) SendMultilineCommand(ctx context.Context, command string) (*protocol.Response, []string, error) {
	resp, err := s.SendTextCommand(ctx, command)
	if err != nil || resp.Code != protocol.StatusMultiline {
		return resp, nil, err
	}
	var lines []string
	err = s.step(ctx, "read multiline body", func() error {
		var err error
		lines, err = protocol.ReadMultiline(s.reader)
		return err
	})
	return resp, lines, err
}

func (s *session) SendBinary(ctx context.Context, data []byte) error {
	return s.step(ctx, "upload binary", func() error {
		s.logger.Trace().Int("bytes", len(data)).Msg("upload")
		_, err := s.conn.Write(data)
		return err
	})
}

func (s *session) AwaitStatus(ctx context.Context) (*protocol.Response, error) {
	var resp *protocol.Response
	err := s.step(ctx, "await status", func() error {
		var err error
		resp, err = protocol.ReadResponse(s.reader)
		if err == nil {
			s.logger.Trace().Str("recv", resp.Raw).Msg("status")
		}
		return err
	})
	return resp, err
}

func (s *session) ReceiveBinary(ctx context.Context, n int) ([]byte, error) {
	if n < 0 {
		return nil, rpcerr.New(rpcerr.KindPrecondition, fmt.Sprintf("negative binary length %d", n))
	}
	buf := make([]byte, n)
	err := s.step(ctx, "download binary", func() error {
		_, err := io.ReadFull(s.reader, buf)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Trace().Int("bytes", n).Msg("download")
	return buf, nil
}

func (s *session) Close() error {
	return s.conn.Close()
}
