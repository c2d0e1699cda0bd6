package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xbdm-loader/message"
	"xbdm-loader/server"
)

func startConsole(t *testing.T, name string) *server.Server {
	t.Helper()
	s := server.NewServer(name)
	require.NoError(t, s.Listen("tcp", "127.0.0.1:0"))
	go s.Run()
	t.Cleanup(func() { s.Shutdown(time.Second) })
	return s
}

// writeConfig writes a config listing the given consoles.
func writeConfig(t *testing.T, extra string, consoles ...*server.Server) string {
	t.Helper()
	var b strings.Builder
	if len(consoles) > 0 {
		b.WriteString("consoles:\n")
		for _, s := range consoles {
			fmt.Fprintf(&b, "  - name: %s\n    addr: %s\n", s.Name(), s.Addr())
		}
	}
	b.WriteString(`timeouts:
  step: 2s
  call: 10s
retry:
  max_attempts: 1
log:
  level: info
  pretty: false
`)
	b.WriteString(extra)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0644))
	return path
}

func run(t *testing.T, configPath string, args ...string) (string, string, error) {
	t.Helper()
	for _, env := range []string{"XBDM_CONSOLE", "XBDM_ETCD_ENDPOINTS", "XBDM_LOG_LEVEL", "XBDM_BALANCER"} {
		t.Setenv(env, "")
	}

	cmd := NewRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", configPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestShow(t *testing.T) {
	s := startConsole(t, "devkit")
	cfg := writeConfig(t, "", s)

	out, _, err := run(t, cfg, "show")
	require.NoError(t, err)
	assert.Equal(t, "xboxkrnl.exe\nxam.xex\nxbdm.xex\n", out)
}

func TestShowVerbose(t *testing.T) {
	s := startConsole(t, "devkit")
	cfg := writeConfig(t, "", s)

	out, _, err := run(t, cfg, "show", "-v")
	require.NoError(t, err)
	assert.Contains(t, out, "xam.xex\n    Base:      0x81A00000\n    Size:      0x00A40000\n")
	assert.Contains(t, out, "    Timestamp: January 22, 2011 (17:09:46)\n")
}

func TestReloadLoadUnload(t *testing.T) {
	s := startConsole(t, "devkit")
	s.AddFile(`Hdd:\plugin.xex`, 0x8000)
	cfg := writeConfig(t, "", s)

	_, logs, err := run(t, cfg, "plugin.xex")
	require.NoError(t, err)
	assert.Contains(t, logs, "Successfully connected to console: devkit")
	assert.Contains(t, logs, "plugin.xex has been loaded.")
	assert.NotContains(t, logs, "has been unloaded.")
	require.Len(t, s.Modules(), 4)

	_, logs, err = run(t, cfg, `Hdd:\plugin.xex`)
	require.NoError(t, err)
	assert.Contains(t, logs, "plugin.xex has been unloaded.")
	assert.Contains(t, logs, "plugin.xex has been loaded.")
	require.Len(t, s.Modules(), 4)

	_, _, err = run(t, cfg, "load", "plugin.xex")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already loaded")

	_, logs, err = run(t, cfg, "unload", "plugin.xex")
	require.NoError(t, err)
	assert.Contains(t, logs, "plugin.xex has been unloaded.")
	assert.Len(t, s.Modules(), 3)

	_, _, err = run(t, cfg, "load", "missing.xex")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func registerAdder(s *server.Server) {
	s.Register("xam.xex", 2601, []message.Kind{message.KindInteger, message.KindText}, func(args []message.Argument) (uint64, error) {
		return args[0].Integer + uint64(len(args[1].Text)), nil
	})
}

func TestInvoke(t *testing.T) {
	s := startConsole(t, "devkit")
	registerAdder(s)
	cfg := writeConfig(t, "", s)

	out, _, err := run(t, cfg, "invoke", "xam.xex", "2601", "40", "str:ab", "--return")
	require.NoError(t, err)
	assert.Equal(t, "0x0000002A\n", out)

	out, _, err = run(t, cfg, "invoke", "xam.xex", "0xA29", "int:0x10", "ab", "--json")
	require.NoError(t, err)
	var got invokeOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "devkit", got.Console)
	assert.Equal(t, uint32(2601), got.Ordinal)
	assert.Equal(t, []string{"0x10", `"ab"`}, got.Arguments)
	require.NotNil(t, got.ReturnValue)
	assert.Equal(t, uint64(18), *got.ReturnValue)
}

func TestInvokeErrors(t *testing.T) {
	s := startConsole(t, "devkit")
	cfg := writeConfig(t, "", s)

	_, _, err := run(t, cfg, "invoke", "xam.xex", "ordinal")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid ordinal")

	_, _, err = run(t, cfg, "invoke", "xam.xex", "9999")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remote_rejection")
}

func TestAllConsoles(t *testing.T) {
	devkit := startConsole(t, "devkit")
	testkit := startConsole(t, "testkit")
	cfg := writeConfig(t, "", devkit, testkit)

	out, _, err := run(t, cfg, "--all", "show")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "[devkit]\nxboxkrnl.exe\n"), out)
	assert.Contains(t, out, "[testkit]\nxboxkrnl.exe\n")

	// One console failing does not stop the others
	devkit.AddFile(`Hdd:\plugin.xex`, 0x8000)
	_, _, err = run(t, cfg, "--all", "load", "plugin.xex")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "testkit")
	assert.NotContains(t, err.Error(), "devkit")
	assert.Len(t, devkit.Modules(), 4)
}

func TestConsoleSelection(t *testing.T) {
	devkit := startConsole(t, "devkit")
	testkit := startConsole(t, "testkit")

	// A raw address needs no configuration
	out, _, err := run(t, writeConfig(t, ""), "--console", testkit.Addr().String(), "show")
	require.NoError(t, err)
	assert.Contains(t, out, "xbdm.xex")

	_, _, err = run(t, writeConfig(t, ""), "show")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no console configured")

	// By name, from the config file
	testkit.AddFile(`Hdd:\plugin.xex`, 0x8000)
	cfg := writeConfig(t, "console: testkit\n", devkit, testkit)
	_, _, err = run(t, cfg, "load", "plugin.xex")
	require.NoError(t, err)
	assert.Len(t, testkit.Modules(), 4)
	assert.Len(t, devkit.Modules(), 3)
}

func TestConsolesList(t *testing.T) {
	devkit := startConsole(t, "devkit")
	testkit := startConsole(t, "testkit")
	cfg := writeConfig(t, "console: testkit\n", devkit, testkit)

	out, _, err := run(t, cfg, "consoles", "list")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "NAME"))
	assert.True(t, strings.HasPrefix(lines[1], "devkit "))
	assert.True(t, strings.HasPrefix(lines[2], "testkit *"))

	out, _, err = run(t, writeConfig(t, ""), "consoles", "list")
	require.NoError(t, err)
	assert.Equal(t, "No consoles configured.\n", out)

	_, _, err = run(t, cfg, "consoles", "register", "lab-1", "10.0.0.7")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no etcd endpoints")
}

func TestVersion(t *testing.T) {
	out, _, err := run(t, "/nonexistent/config.yaml", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "xbdm-loader version dev")
}

func TestInvalidConfig(t *testing.T) {
	cfg := writeConfig(t, "pool:\n  max_sessions: 0\n")

	_, _, err := run(t, cfg, "show")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pool.max_sessions")
}
