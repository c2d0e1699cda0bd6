// Package modules loads and unloads modules on a console.
//
// Loading and unloading are remote calls into the system image:
//
//	Load:   xboxkrnl.exe #409 (path, 8, 0, 0)        → NTSTATUS
//	Unload: xam.xex #1102 (path)                     → handle (0: not found)
//	        setmem handle+0x40 = 0x0001              (force the load count to 1)
//	        xboxkrnl.exe #417 (handle)               → NTSTATUS
//
// Listing, file checks and the console name use plain text commands.
package modules

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"xbdm-loader/message"
	"xbdm-loader/protocol"
	"xbdm-loader/rpcerr"
	"xbdm-loader/transport"
)

// Exports used by the loader.
const (
	KernelModule = "xboxkrnl.exe"
	XamModule    = "xam.xex"

	OrdinalXexLoadImage       = 409
	OrdinalXexUnloadImage     = 417
	OrdinalXexGetModuleHandle = 1102
)

const (
	// loadFlags are the XexLoadImage flags for a system DLL.
	loadFlags = 8
	// loadCountOffset is where the loader keeps a module's reference count,
	// relative to its handle.
	loadCountOffset = 0x40
	// defaultDevice prefixes bare module names.
	defaultDevice = `Hdd:\`
)

var (
	ErrFileNotFound  = errors.New("file does not exist")
	ErrAlreadyLoaded = errors.New("module is already loaded")
	ErrNotLoaded     = errors.New("module is not loaded")
	ErrNoHandle      = errors.New("console returned no module handle")
)

// StatusError is a failing NTSTATUS returned by a load or unload routine.
type StatusError struct {
	Op     string
	Status uint32
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned NTSTATUS 0x%08X", e.Op, e.Status)
}

// ntSuccess reports whether status is a success or informational NTSTATUS.
func ntSuccess(status uint64) bool {
	return int32(uint32(status)) >= 0
}

// Invoker runs remote calls. *client.Client implements it.
type Invoker interface {
	Invoke(ctx context.Context, module string, ordinal uint32, args []message.Argument, wantReturn bool) (*message.Result, error)
}

// Manager manages modules on one console.
type Manager struct {
	opener  transport.Opener
	invoker Invoker
	logger  zerolog.Logger
}

// NewManager creates a Manager that sends text commands through opener and
// remote calls through invoker. Both must reach the same console.
func NewManager(opener transport.Opener, invoker Invoker, logger zerolog.Logger) *Manager {
	return &Manager{opener: opener, invoker: invoker, logger: logger}
}

// NormalizePath puts bare module names on the hard drive.
func NormalizePath(path string) string {
	if strings.Contains(path, `\`) {
		return path
	}
	return defaultDevice + path
}

// BaseName returns the file name part of a console path.
func BaseName(path string) string {
	if i := strings.LastIndexAny(path, `\/`); i >= 0 {
		return path[i+1:]
	}
	return path
}

// Module is one entry of the console's loaded-module list.
type Module struct {
	Name      string `json:"name"`
	Base      uint32 `json:"base"`
	Size      uint32 `json:"size"`
	Checksum  uint32 `json:"checksum"`
	Timestamp uint32 `json:"timestamp"`
}

// LinkTime is the module's link timestamp.
func (m Module) LinkTime() time.Time {
	return time.Unix(int64(m.Timestamp), 0).UTC()
}

// withSession runs fn on a fresh session.
func (m *Manager) withSession(ctx context.Context, fn func(transport.Session) error) error {
	session, err := m.opener.OpenSession(ctx)
	if err != nil {
		return err
	}
	defer session.Close()
	return fn(session)
}

// ConsoleName returns the console's debug name.
func (m *Manager) ConsoleName(ctx context.Context) (string, error) {
	var name string
	err := m.withSession(ctx, func(s transport.Session) error {
		resp, err := s.SendTextCommand(ctx, protocol.CmdDbgName)
		if err != nil {
			return err
		}
		if !resp.Success() {
			return rpcerr.Remote("console refused dbgname", resp.Raw)
		}
		name = resp.Text
		return nil
	})
	return name, err
}

// List returns the loaded modules in load order.
func (m *Manager) List(ctx context.Context) ([]Module, error) {
	var lines []string
	err := m.withSession(ctx, func(s transport.Session) error {
		resp, body, err := s.SendMultilineCommand(ctx, protocol.CmdModules)
		if err != nil {
			return err
		}
		if resp.Code != protocol.StatusMultiline {
			return rpcerr.Remote("console refused module listing", resp.Raw)
		}
		lines = body
		return nil
	})
	if err != nil {
		return nil, err
	}

	mods := make([]Module, 0, len(lines))
	for _, line := range lines {
		mod, err := parseModule(line)
		if err != nil {
			return nil, err
		}
		mods = append(mods, mod)
	}
	return mods, nil
}

func parseModule(line string) (Module, error) {
	fields := protocol.ParseFields(line)
	name, ok := fields["name"]
	if !ok || name == "" {
		return Module{}, rpcerr.Protocol("module entry has no name", line)
	}
	mod := Module{Name: name}
	for key, dst := range map[string]*uint32{
		"base":      &mod.Base,
		"size":      &mod.Size,
		"check":     &mod.Checksum,
		"timestamp": &mod.Timestamp,
	} {
		if _, present := fields[key]; !present {
			continue
		}
		v, err := fields.Uint(key)
		if err != nil || v > 0xFFFFFFFF {
			return Module{}, rpcerr.Protocol(fmt.Sprintf("module entry has a bad %s", key), line)
		}
		*dst = uint32(v)
	}
	return mod, nil
}

// FileExists reports whether path exists on the console.
func (m *Manager) FileExists(ctx context.Context, path string) (bool, error) {
	var exists bool
	err := m.withSession(ctx, func(s transport.Session) error {
		resp, _, err := s.SendMultilineCommand(ctx, protocol.GetFileAttributesCommand(path))
		if err != nil {
			return err
		}
		switch resp.Code {
		case protocol.StatusMultiline, protocol.StatusOK:
			exists = true
		case protocol.StatusFileNotFound:
			exists = false
		default:
			return rpcerr.Remote("console refused file query", resp.Raw)
		}
		return nil
	})
	return exists, err
}

// IsLoaded reports whether a module with path's file name is loaded.
// Names compare without regard to case.
func (m *Manager) IsLoaded(ctx context.Context, path string) (bool, error) {
	mods, err := m.List(ctx)
	if err != nil {
		return false, err
	}
	name := BaseName(path)
	for _, mod := range mods {
		if strings.EqualFold(mod.Name, name) {
			return true, nil
		}
	}
	return false, nil
}

// checkFile fails with ErrFileNotFound unless path exists.
func (m *Manager) checkFile(ctx context.Context, path string) error {
	exists, err := m.FileExists(ctx, path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if !exists {
		return fmt.Errorf("%s: %w", path, ErrFileNotFound)
	}
	return nil
}

// Load loads the module at path. Bare names are looked up on Hdd:\.
func (m *Manager) Load(ctx context.Context, path string) error {
	path = NormalizePath(path)
	if err := m.checkFile(ctx, path); err != nil {
		return err
	}
	loaded, err := m.IsLoaded(ctx, path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if loaded {
		return fmt.Errorf("%s: %w", path, ErrAlreadyLoaded)
	}

	result, err := m.invoker.Invoke(ctx, KernelModule, OrdinalXexLoadImage, []message.Argument{
		message.Text(path),
		message.Integer(loadFlags),
		message.Integer(0),
		message.Integer(0),
	}, true)
	if err != nil {
		return fmt.Errorf("could not load %s: %w", path, err)
	}
	if status, ok := result.Value(); ok && !ntSuccess(status) {
		return fmt.Errorf("could not load %s: %w", path, &StatusError{Op: "XexLoadImage", Status: uint32(status)})
	}
	m.logger.Debug().Str("path", path).Msg("module loaded")
	return nil
}

// Unload unloads the module loaded from path.
func (m *Manager) Unload(ctx context.Context, path string) error {
	path = NormalizePath(path)
	if err := m.checkFile(ctx, path); err != nil {
		return err
	}
	loaded, err := m.IsLoaded(ctx, path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if !loaded {
		return fmt.Errorf("%s: %w", path, ErrNotLoaded)
	}

	result, err := m.invoker.Invoke(ctx, XamModule, OrdinalXexGetModuleHandle, []message.Argument{message.Text(path)}, true)
	if err != nil {
		return fmt.Errorf("could not unload %s: %w", path, err)
	}
	handle, _ := result.Value()
	if handle == 0 {
		return fmt.Errorf("could not unload %s: %w", path, ErrNoHandle)
	}
	if handle > 0xFFFFFFFF-loadCountOffset {
		return fmt.Errorf("could not unload %s: %w", path, rpcerr.Protocol(fmt.Sprintf("module handle 0x%X is wider than 32 bits", handle), ""))
	}
	m.logger.Debug().Str("path", path).Str("handle", fmt.Sprintf("0x%08X", handle)).Msg("module handle resolved")

	// Drop every other reference so the unload below actually unmaps it
	err = m.withSession(ctx, func(s transport.Session) error {
		resp, err := s.SendTextCommand(ctx, protocol.SetMemCommand(uint32(handle)+loadCountOffset, []byte{0x00, 0x01}))
		if err != nil {
			return err
		}
		if !resp.Success() {
			return rpcerr.Remote("console refused setmem", resp.Raw)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("could not unload %s: %w", path, err)
	}

	result, err = m.invoker.Invoke(ctx, KernelModule, OrdinalXexUnloadImage, []message.Argument{message.Integer(handle)}, true)
	if err != nil {
		return fmt.Errorf("could not unload %s: %w", path, err)
	}
	if status, ok := result.Value(); ok && !ntSuccess(status) {
		return fmt.Errorf("could not unload %s: %w", path, &StatusError{Op: "XexUnloadImage", Status: uint32(status)})
	}
	m.logger.Debug().Str("path", path).Msg("module unloaded")
	return nil
}

// Reload unloads path when it is loaded, then loads it. It reports whether
// an unload happened.
func (m *Manager) Reload(ctx context.Context, path string) (bool, error) {
	path = NormalizePath(path)
	loaded, err := m.IsLoaded(ctx, path)
	if err != nil {
		return false, fmt.Errorf("%s: %w", path, err)
	}
	if loaded {
		if err := m.Unload(ctx, path); err != nil {
			return false, err
		}
	}
	return loaded, m.Load(ctx, path)
}
