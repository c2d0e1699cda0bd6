// Package server implements a console simulator: a TCP server speaking the
// debug monitor's text/binary protocol, with a table of exported routines,
// a small file system, a loaded-module list and poke-able memory.
//
// Session processing pipeline:
//
//	Accept conn → "201- connected" → handleConn (one goroutine per session)
//	  → for each command line: dispatch
//	    rpc → "204- buf_addr=X" → read buf_size bytes → Peek + DecodeRequest
//	        → exported Func → "200- OK" → preamble + echoed buffer
//
// It backs the end-to-end tests and the xbdm-sim binary.
package server

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"xbdm-loader/codec"
	"xbdm-loader/message"
	"xbdm-loader/protocol"
	"xbdm-loader/registry"
)

// maxCallBuffer bounds the scratch buffer a client may ask for.
const maxCallBuffer = 64 << 10

// registrationTTL is the lease, in seconds, of the simulator's registry entry.
const registrationTTL = 10

// Server is a simulated console.
type Server struct {
	name   string
	logger zerolog.Logger

	mu         sync.Mutex
	exports    map[uint32][]*export // Exported routines by ordinal
	files      map[string]int64     // Lower-cased path → size
	modules    []*Module            // Loaded modules, in load order
	memory     map[uint32]byte      // Bytes written by setmem or by the routines
	nextBuffer uint64               // Next scratch buffer address
	nextHandle uint32               // Next module handle
	nextBase   uint32               // Next module load address

	listener   net.Listener
	conns      map[net.Conn]struct{}
	wg         sync.WaitGroup // Tracks open sessions for graceful shutdown
	shutdown   atomic.Bool    // Set during shutdown to suppress Accept errors
	registry   registry.Registry
	unregister context.CancelFunc // Stops the registry lease keep-alive
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the simulator's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a console called name with the system modules loaded and
// the load/unload routines exported.
func NewServer(name string, opts ...Option) *Server {
	s := &Server{
		name:       name,
		logger:     zerolog.Nop(),
		exports:    make(map[uint32][]*export),
		files:      make(map[string]int64),
		memory:     make(map[uint32]byte),
		conns:      make(map[net.Conn]struct{}),
		nextBuffer: 0x40000000,
		nextHandle: 0x8F000000,
		nextBase:   0x91000000,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.loadSystemModules()
	s.registerBuiltins()
	return s
}

// Name returns the console's debug name.
func (s *Server) Name() string {
	return s.name
}

// Listen binds the listener without accepting yet. Use Addr to learn the
// bound address when listening on port 0.
func (s *Server) Listen(network, address string) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	s.listener = listener
	return nil
}

// Addr returns the listener's address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve listens on address, optionally publishes the console in reg under
// advertiseAddr, and accepts sessions until Shutdown.
//
// advertiseAddr differs from address because ":730" is not routable for
// other machines. Pass a nil reg to skip publishing.
func (s *Server) Serve(network, address string, advertiseAddr string, reg registry.Registry) error {
	if err := s.Listen(network, address); err != nil {
		return err
	}

	if reg != nil {
		ctx, cancel := context.WithCancel(context.Background())
		s.registry = reg
		s.unregister = cancel
		err := reg.Register(ctx, registry.Console{Name: s.name, Addr: advertiseAddr}, registrationTTL)
		if err != nil {
			s.logger.Warn().Err(err).Str("addr", advertiseAddr).Msg("console registration failed")
		}
	}

	return s.Run()
}

// Run accepts sessions on a listener bound by Listen until Shutdown.
func (s *Server) Run() error {
	if s.listener == nil {
		return fmt.Errorf("server: Run called before Listen")
	}
	s.logger.Info().Str("name", s.name).Stringer("addr", s.listener.Addr()).Msg("console simulator listening")

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			// Shutdown closes the listener; that Accept error is expected
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		s.track(conn, true)
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) track(conn net.Conn, open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if open {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

// handleConn runs one session. Commands on a session are strictly sequential.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.track(conn, false)
	defer conn.Close()

	logger := s.logger.With().Stringer("remote", conn.RemoteAddr()).Logger()
	logger.Debug().Msg("session opened")

	if err := protocol.WriteResponse(conn, protocol.StatusConnected, "connected"); err != nil {
		return
	}

	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				logger.Debug().Err(err).Msg("session read failed")
			}
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		name, fields := protocol.SplitCommand(line)
		logger.Debug().Str("command", line).Msg("command received")

		var keep bool
		switch name {
		case protocol.CmdRPC:
			keep = s.handleRPC(conn, r, fields, logger)
		case protocol.CmdSetMem:
			keep = s.handleSetMem(conn, fields)
		case protocol.CmdGetFileAttributes:
			keep = s.handleFileAttributes(conn, fields)
		case protocol.CmdModules:
			keep = protocol.WriteMultiline(conn, s.moduleLines()) == nil
		case protocol.CmdDbgName:
			keep = protocol.WriteResponse(conn, protocol.StatusOK, s.name) == nil
		case protocol.CmdBye:
			protocol.WriteResponse(conn, protocol.StatusOK, "bye")
			return
		default:
			keep = protocol.WriteResponse(conn, protocol.StatusUnknownCommand, "unknown command") == nil
		}
		if !keep {
			return
		}
	}
}

// handleRPC allocates a buffer, receives the encoded call, runs it and echoes
// the buffer with the return value filled in.
func (s *Server) handleRPC(conn net.Conn, r *bufio.Reader, fields protocol.Fields, logger zerolog.Logger) bool {
	size, err := fields.Uint("buf_size")
	if err != nil || size < codec.FixedSize || size > maxCallBuffer {
		return protocol.WriteResponse(conn, protocol.StatusUnexpected, "bad buf_size") == nil
	}

	base := s.allocateBuffer(size)
	if err := protocol.WriteResponse(conn, protocol.StatusSendBinary, fmt.Sprintf("buf_addr=%08X", base)); err != nil {
		return false
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return false
	}

	ret, err := s.execute(buf, base)
	if err != nil {
		logger.Info().Err(err).Msg("remote call rejected")
		return protocol.WriteResponse(conn, protocol.StatusNoSuchModule, err.Error()) == nil
	}
	logger.Debug().Str("return", fmt.Sprintf("0x%X", ret)).Msg("remote call executed")

	if err := protocol.WriteResponse(conn, protocol.StatusOK, "OK"); err != nil {
		return false
	}
	codec.PutReturnValue(buf, ret)
	reply := make([]byte, 0, codec.PreambleSize+len(buf))
	reply = append(reply, make([]byte, codec.PreambleSize)...)
	reply = append(reply, buf...)
	_, err = conn.Write(reply)
	return err == nil
}

func (s *Server) allocateBuffer(size uint64) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	base := s.nextBuffer
	s.nextBuffer += uint64(message.Align8(int(size))) + 0x100
	return base
}

func (s *Server) handleSetMem(conn net.Conn, fields protocol.Fields) bool {
	addr, err := fields.Uint("addr")
	if err != nil || addr > 0xFFFFFFFF {
		return protocol.WriteResponse(conn, protocol.StatusUnexpected, "bad addr") == nil
	}
	data, err := hex.DecodeString(fields["data"])
	if err != nil || len(data) == 0 {
		return protocol.WriteResponse(conn, protocol.StatusUnexpected, "bad data") == nil
	}
	s.WriteMemory(uint32(addr), data)
	return protocol.WriteResponse(conn, protocol.StatusOK, fmt.Sprintf("set %d bytes", len(data))) == nil
}

func (s *Server) handleFileAttributes(conn net.Conn, fields protocol.Fields) bool {
	name, ok := fields["name"]
	if !ok {
		return protocol.WriteResponse(conn, protocol.StatusUnexpected, "missing name") == nil
	}
	size, exists := s.fileSize(name)
	if !exists {
		return protocol.WriteResponse(conn, protocol.StatusFileNotFound, "file not found") == nil
	}
	line := fmt.Sprintf("sizehi=0x%08x sizelo=0x%08x createhi=0x01cb0000 createlo=0x00000000 changehi=0x01cb0000 changelo=0x00000000",
		uint64(size)>>32, uint32(size))
	return protocol.WriteMultiline(conn, []string{line}) == nil
}

// Shutdown stops the simulator:
//  1. Remove the console from the registry so nobody picks it up
//  2. Set the shutdown flag and close the listener
//  3. Close open sessions and wait for their goroutines, up to timeout
func (s *Server) Shutdown(timeout time.Duration) error {
	if s.registry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := s.registry.Deregister(ctx, s.name); err != nil {
			s.logger.Warn().Err(err).Msg("console deregistration failed")
		}
		cancel()
		s.unregister()
	}

	// Set the flag before closing, or Run reports the Accept error
	s.shutdown.Store(true)
	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for open sessions to finish")
	}
}
