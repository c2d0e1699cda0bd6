package server

import (
	"fmt"
	"slices"
	"strings"

	"xbdm-loader/codec"
	"xbdm-loader/message"
)

// NTSTATUS values the simulated routines return.
const (
	StatusSuccess             = 0x00000000
	StatusUnsuccessful        = 0xC0000001
	StatusInvalidHandle       = 0xC0000008
	StatusObjectNameNotFound  = 0xC0000034
	StatusObjectNameCollision = 0xC0000035
)

// Func is a simulated exported routine. It receives the decoded arguments in
// call order and returns the value placed in the return slot.
type Func func(args []message.Argument) (uint64, error)

type export struct {
	module  string
	ordinal uint32
	kinds   []message.Kind
	fn      Func
}

// Register exports fn as ordinal of module. kinds is the routine's signature;
// it is how an incoming buffer is told apart from another routine sharing the
// ordinal in a different module. Registering the same module, ordinal and
// signature again replaces the routine.
func (s *Server) Register(module string, ordinal uint32, kinds []message.Kind, fn Func) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.exports[ordinal] {
		if strings.EqualFold(e.module, module) && slices.Equal(e.kinds, kinds) {
			e.fn = fn
			return
		}
	}
	s.exports[ordinal] = append(s.exports[ordinal], &export{
		module:  module,
		ordinal: ordinal,
		kinds:   slices.Clone(kinds),
		fn:      fn,
	})
}

// execute finds the export a call buffer targets and runs it.
func (s *Server) execute(buf []byte, base uint64) (uint64, error) {
	argc, ordinal, err := codec.Peek(buf)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	candidates := make([]export, 0, len(s.exports[ordinal]))
	for _, e := range s.exports[ordinal] {
		candidates = append(candidates, *e)
	}
	s.mu.Unlock()

	for _, e := range candidates {
		if uint64(len(e.kinds)) != argc {
			continue
		}
		req, err := codec.DecodeRequest(buf, base, e.module, e.kinds)
		if err != nil {
			continue
		}
		return e.fn(req.Arguments)
	}
	return 0, fmt.Errorf("no export #%d taking %d arguments", ordinal, argc)
}

// registerBuiltins exports the routines module loading relies on.
func (s *Server) registerBuiltins() {
	text, integer := message.KindText, message.KindInteger
	s.Register("xboxkrnl.exe", 409, []message.Kind{text, integer, integer, integer}, s.loadImage)
	s.Register("xboxkrnl.exe", 417, []message.Kind{integer}, s.unloadImage)
	s.Register("xam.xex", 1102, []message.Kind{text}, s.moduleHandle)
}

// loadImage maps a module from the simulated file system.
func (s *Server) loadImage(args []message.Argument) (uint64, error) {
	path := args[0].Text
	size, ok := s.fileSize(path)
	if !ok {
		return StatusObjectNameNotFound, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findModule(path) != nil {
		return StatusObjectNameCollision, nil
	}
	s.addModule(path, uint32(size))
	return StatusSuccess, nil
}

// moduleHandle returns the handle of a loaded module, or 0.
func (s *Server) moduleHandle(args []message.Argument) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := s.findModule(args[0].Text); m != nil {
		return uint64(m.Handle), nil
	}
	return 0, nil
}

// unloadImage drops one reference from a module and unmaps it once the load
// count, a big-endian u16 at handle+0x40, reaches zero.
func (s *Server) unloadImage(args []message.Argument) (uint64, error) {
	if args[0].Integer > 0xFFFFFFFF {
		return StatusInvalidHandle, nil
	}
	handle := uint32(args[0].Integer)

	s.mu.Lock()
	defer s.mu.Unlock()
	idx := -1
	for i, m := range s.modules {
		if m.Handle == handle {
			idx = i
		}
	}
	if idx < 0 || s.modules[idx].System {
		return StatusInvalidHandle, nil
	}

	count := s.loadCount(handle)
	if count == 0 {
		return StatusUnsuccessful, nil
	}
	count--
	s.setLoadCount(handle, count)
	if count == 0 {
		s.modules = append(s.modules[:idx], s.modules[idx+1:]...)
	}
	return StatusSuccess, nil
}

// findModule matches a full path or a bare module name, ignoring case.
// Callers hold s.mu.
func (s *Server) findModule(path string) *Module {
	name := baseName(path)
	for _, m := range s.modules {
		if strings.EqualFold(m.Path, path) || strings.EqualFold(m.Name, name) {
			return m
		}
	}
	return nil
}

func baseName(path string) string {
	if i := strings.LastIndexAny(path, `\/`); i >= 0 {
		return path[i+1:]
	}
	return path
}
