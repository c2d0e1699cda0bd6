package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"testing"

	"xbdm-loader/rpcerr"
)

func TestParseResponse(t *testing.T) {
	resp, err := ParseResponse("200- OK\r\n")
	if err != nil {
		t.Fatalf("ParseResponse failed: %v", err)
	}
	if resp.Code != StatusOK || resp.Text != "OK" || !resp.Success() {
		t.Fatalf("unexpected response: %+v", resp)
	}

	resp, err = ParseResponse("402- file not found\r\n")
	if err != nil {
		t.Fatalf("ParseResponse failed: %v", err)
	}
	if resp.Success() {
		t.Fatal("4xx must not be a success")
	}
	if resp.Raw != "402- file not found" {
		t.Fatalf("Raw mismatch: %q", resp.Raw)
	}
}

func TestParseResponseMalformed(t *testing.T) {
	for _, line := range []string{"", "OK\r\n", "20- short\r\n", "abc- nope\r\n", "200 OK\r\n"} {
		_, err := ParseResponse(line)
		if !errors.Is(err, rpcerr.ErrProtocol) {
			t.Errorf("ParseResponse(%q): expect protocol error, got %v", line, err)
		}
	}
}

func TestParseBufAddr(t *testing.T) {
	cases := []struct {
		line string
		want uint64
	}{
		{"204- buf_addr=3A174C30\r\n", 0x3A174C30},
		{"204- buf_addr=0x3a174c30\r\n", 0x3A174C30},
		{"204- buf_addr=0\r\n", 0},
	}
	for _, tc := range cases {
		resp, err := ParseResponse(tc.line)
		if err != nil {
			t.Fatal(err)
		}
		got, err := ParseBufAddr(resp)
		if err != nil {
			t.Fatalf("ParseBufAddr(%q): %v", tc.line, err)
		}
		if got != tc.want {
			t.Errorf("ParseBufAddr(%q) = 0x%X, want 0x%X", tc.line, got, tc.want)
		}
	}
}

func TestParseBufAddrRejects(t *testing.T) {
	for _, line := range []string{
		"200- OK\r\n",
		"204- send binary data\r\n",
		"204- buf_addr=\r\n",
		"204- buf_addr=XYZ\r\n",
		"204- buf_addr=3A174C30 extra\r\n",
		"204- buf_addr=11223344556677889\r\n",
	} {
		resp, err := ParseResponse(line)
		if err != nil {
			t.Fatal(err)
		}
		_, err = ParseBufAddr(resp)
		if !errors.Is(err, rpcerr.ErrProtocol) {
			t.Errorf("ParseBufAddr(%q): expect protocol error, got %v", line, err)
		}
		if !strings.Contains(err.Error(), strings.TrimRight(line, "\r\n")) {
			t.Errorf("error should carry the raw reply, got %v", err)
		}
	}
}

func TestMultilineRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	lines := []string{`name="xam.xex" base=0x81d40000`, `name="xbdm.xex" base=0x91f00000`}
	if err := WriteMultiline(&buf, lines); err != nil {
		t.Fatal(err)
	}

	r := bufio.NewReader(&buf)
	resp, err := ReadResponse(r)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Code != StatusMultiline {
		t.Fatalf("expect 202, got %d", resp.Code)
	}
	got, err := ReadMultiline(r)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != lines[0] || got[1] != lines[1] {
		t.Fatalf("unexpected body: %q", got)
	}
}

func TestWriteCommand(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCommand(&buf, RPCCommand(104)); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "rpc system version=4 buf_size=104 processor=5 thread=\r\n" {
		t.Fatalf("unexpected command: %q", buf.String())
	}

	if err := WriteCommand(&buf, "dbgname\r\nbye"); !errors.Is(err, rpcerr.ErrPrecondition) {
		t.Fatalf("expect precondition error for embedded CRLF, got %v", err)
	}
}

func TestCommandBuilders(t *testing.T) {
	if got := SetMemCommand(0x81F2A040, []byte{0x00, 0x01}); got != "setmem addr=0x81F2A040 data=0001" {
		t.Fatalf("SetMemCommand = %q", got)
	}
	if got := GetFileAttributesCommand(`Hdd:\Plugins\x.xex`); got != `getfileattributes name="Hdd:\Plugins\x.xex"` {
		t.Fatalf("GetFileAttributesCommand = %q", got)
	}
}

func TestParseFields(t *testing.T) {
	f := ParseFields(`name="Hdd:\Plugins\My Plugin.xex" base=0x91F00000 size=0x2000 system thread=`)

	if f["name"] != `Hdd:\Plugins\My Plugin.xex` {
		t.Fatalf("name = %q", f["name"])
	}
	if _, ok := f["system"]; !ok {
		t.Fatal("bare word should be present")
	}
	if v, ok := f["thread"]; !ok || v != "" {
		t.Fatalf("thread = %q, %v", v, ok)
	}
	base, err := f.Uint("base")
	if err != nil || base != 0x91F00000 {
		t.Fatalf("base = 0x%X, %v", base, err)
	}
	if _, err := f.Uint("missing"); err == nil {
		t.Fatal("expect error for missing field")
	}

	name, fields := SplitCommand("RPC system version=4 buf_size=72 processor=5 thread=")
	if name != "rpc" {
		t.Fatalf("command name = %q", name)
	}
	size, err := fields.Uint("buf_size")
	if err != nil || size != 72 {
		t.Fatalf("buf_size = %d, %v", size, err)
	}
}
