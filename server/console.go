package server

import (
	"fmt"
	"hash/crc32"
	"strings"
	"time"
)

// Module is a module mapped into the simulated console.
type Module struct {
	Name      string // Base name, e.g. "xam.xex"
	Path      string // Path it was loaded from
	Base      uint32
	Size      uint32
	Checksum  uint32
	Timestamp uint32 // Link time, seconds since the Unix epoch
	Handle    uint32 // Address of the loader's data entry
	System    bool   // Part of the system image; cannot be unloaded
}

// loadCountOffset is where the loader keeps a module's reference count,
// relative to its handle.
const loadCountOffset = 0x40

func (s *Server) loadSystemModules() {
	system := []Module{
		{Name: "xboxkrnl.exe", Path: `\SystemRoot\xboxkrnl.exe`, Base: 0x80040000, Size: 0x00240000, Checksum: 0x0021D1B4, Timestamp: 0x4D3B0E6C},
		{Name: "xam.xex", Path: `\SystemRoot\xam.xex`, Base: 0x81A00000, Size: 0x00A40000, Checksum: 0x00A2A5C2, Timestamp: 0x4D3B0F5A},
		{Name: "xbdm.xex", Path: `\SystemRoot\xbdm.xex`, Base: 0x91F00000, Size: 0x000C0000, Checksum: 0x000C4E31, Timestamp: 0x4D3B0F8D},
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range system {
		m := system[i]
		m.System = true
		m.Handle = s.nextHandle
		s.nextHandle += 0x100
		s.modules = append(s.modules, &m)
		s.setLoadCount(m.Handle, 1)
	}
}

// addModule maps a module loaded from path. The loader holds a second
// reference for the title that loaded it, so the load count starts at 2.
// Callers hold s.mu.
func (s *Server) addModule(path string, size uint32) *Module {
	size = (size + 0xFFFF) &^ 0xFFFF
	if size == 0 {
		size = 0x10000
	}
	m := &Module{
		Name:      baseName(path),
		Path:      path,
		Base:      s.nextBase,
		Size:      size,
		Checksum:  crc32.ChecksumIEEE([]byte(strings.ToLower(path))),
		Timestamp: uint32(time.Now().Unix()),
		Handle:    s.nextHandle,
	}
	s.nextBase += size
	s.nextHandle += 0x100
	s.modules = append(s.modules, m)
	s.setLoadCount(m.Handle, 2)
	return m
}

// AddFile puts a file of the given size on the simulated file system.
func (s *Server) AddFile(path string, size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[strings.ToLower(path)] = size
}

func (s *Server) fileSize(path string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	size, ok := s.files[strings.ToLower(path)]
	return size, ok
}

// Modules returns a snapshot of the loaded modules.
func (s *Server) Modules() []Module {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Module, len(s.modules))
	for i, m := range s.modules {
		out[i] = *m
	}
	return out
}

// moduleLines renders the loaded modules the way the modules command does.
func (s *Server) moduleLines() []string {
	mods := s.Modules()
	lines := make([]string, len(mods))
	for i, m := range mods {
		lines[i] = fmt.Sprintf(`name="%s" base=0x%08x size=0x%08x check=0x%08x timestamp=0x%08x pdata=0x00000000 psize=0x00000000 thread=0x00000000 osize=0x%08x`,
			m.Name, m.Base, m.Size, m.Checksum, m.Timestamp, m.Size)
	}
	return lines
}

// WriteMemory stores data at addr.
func (s *Server) WriteMemory(addr uint32, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, b := range data {
		s.memory[addr+uint32(i)] = b
	}
}

// ReadMemory returns n bytes at addr. Bytes never written read as zero.
func (s *Server) ReadMemory(addr uint32, n int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, n)
	for i := range out {
		out[i] = s.memory[addr+uint32(i)]
	}
	return out
}

// Callers hold s.mu.
func (s *Server) loadCount(handle uint32) uint16 {
	at := handle + loadCountOffset
	return uint16(s.memory[at])<<8 | uint16(s.memory[at+1])
}

// Callers hold s.mu.
func (s *Server) setLoadCount(handle uint32, count uint16) {
	at := handle + loadCountOffset
	s.memory[at] = byte(count >> 8)
	s.memory[at+1] = byte(count)
}
