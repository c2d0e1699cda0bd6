package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Command names understood by the debug monitor.
const (
	CmdRPC               = "rpc"
	CmdSetMem            = "setmem"
	CmdGetFileAttributes = "getfileattributes"
	CmdModules           = "modules"
	CmdDbgName           = "dbgname"
	CmdBye               = "bye"
)

// RPCCommand asks the console to allocate a size-byte scratch buffer for a
// remote call on the system thread.
func RPCCommand(size int) string {
	return fmt.Sprintf("%s system version=4 buf_size=%d processor=5 thread=", CmdRPC, size)
}

// SetMemCommand writes data at a remote address.
func SetMemCommand(addr uint32, data []byte) string {
	return fmt.Sprintf("%s addr=0x%08X data=%X", CmdSetMem, addr, data)
}

// GetFileAttributesCommand queries a file on the console file system.
func GetFileAttributesCommand(path string) string {
	return fmt.Sprintf(`%s name="%s"`, CmdGetFileAttributes, path)
}

// Fields is a parsed key=value line. Bare words map to "".
type Fields map[string]string

// ParseFields parses a line of space-separated key=value pairs. Values may be
// double-quoted to contain spaces; backslashes inside quotes are literal,
// since console paths use them as separators.
func ParseFields(line string) Fields {
	fields := Fields{}
	i := 0
	for i < len(line) {
		for i < len(line) && line[i] == ' ' {
			i++
		}
		start := i
		for i < len(line) && line[i] != ' ' && line[i] != '=' {
			i++
		}
		key := strings.ToLower(line[start:i])
		if key == "" {
			i++
			continue
		}
		if i >= len(line) || line[i] != '=' {
			fields[key] = ""
			continue
		}
		i++ // '='

		var value string
		if i < len(line) && line[i] == '"' {
			end := strings.IndexByte(line[i+1:], '"')
			if end < 0 {
				value = line[i+1:]
				i = len(line)
			} else {
				value = line[i+1 : i+1+end]
				i += end + 2
			}
		} else {
			start = i
			for i < len(line) && line[i] != ' ' {
				i++
			}
			value = line[start:i]
		}
		fields[key] = value
	}
	return fields
}

// Uint parses a numeric field, accepting decimal or 0x hex.
func (f Fields) Uint(key string) (uint64, error) {
	raw, ok := f[key]
	if !ok {
		return 0, fmt.Errorf("missing field %q", key)
	}
	v, err := strconv.ParseUint(raw, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("field %q: %w", key, err)
	}
	return v, nil
}

// SplitCommand separates the command name from its fields.
func SplitCommand(line string) (string, Fields) {
	line = strings.TrimSpace(line)
	name, rest, _ := strings.Cut(line, " ")
	return strings.ToLower(name), ParseFields(rest)
}
