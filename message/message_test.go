package message

import (
	"errors"
	"testing"

	"xbdm-loader/rpcerr"
)

func TestAlign8(t *testing.T) {
	if Align8(0) != 0 {
		t.Fatalf("Align8(0) = %d, want 0", Align8(0))
	}
	for n := 0; n <= 64; n++ {
		got := Align8(n)
		if got%8 != 0 || got < n || got-n >= 8 {
			t.Fatalf("Align8(%d) = %d", n, got)
		}
	}
}

func TestSizeOf(t *testing.T) {
	cases := []struct {
		arg  Argument
		want int
	}{
		{Integer(0), 8},
		{Integer(0xFFFFFFFFFFFFFFFF), 8},
		{Text(""), 8},
		{Text("a"), 8},
		{Text("1234567"), 8},
		{Text("12345678"), 16}, // terminator needs a whole extra block
		{Text(`hdd:\Plugins\Hayzen.xex`), 24},
	}
	for _, tc := range cases {
		if got := SizeOf(tc.arg); got != tc.want {
			t.Errorf("SizeOf(%v) = %d, want %d", tc.arg, got, tc.want)
		}
	}
}

func TestHasString(t *testing.T) {
	if HasString(nil) {
		t.Fatal("empty list has no strings")
	}
	if HasString([]Argument{Integer(1), Integer(2)}) {
		t.Fatal("integer-only list has no strings")
	}
	if !HasString([]Argument{Integer(1), Text("x")}) {
		t.Fatal("expected a string")
	}
}

func TestNewRequest(t *testing.T) {
	args := []Argument{Text("a"), Integer(8)}
	req, err := NewRequest("xboxkrnl.exe", 409, args, true)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}

	// Request owns its arguments
	args[0] = Integer(1)
	if req.Arguments[0].Kind != KindText {
		t.Fatal("request arguments were aliased to the caller's slice")
	}
	if req.String() != `xboxkrnl.exe#409("a", 0x8)` {
		t.Fatalf("unexpected String(): %s", req.String())
	}
}

func TestNewRequestPreconditions(t *testing.T) {
	cases := map[string]struct {
		module string
		args   []Argument
	}{
		"empty module":     {"", nil},
		"NUL in module":    {"xam\x00.xex", nil},
		"NUL in text":      {"xam.xex", []Argument{Text("a\x00b")}},
		"unknown arg kind": {"xam.xex", []Argument{{Kind: 9}}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewRequest(tc.module, 1, tc.args, false)
			if !errors.Is(err, rpcerr.ErrPrecondition) {
				t.Fatalf("expect precondition violation, got %v", err)
			}
		})
	}
}

func TestParseArgument(t *testing.T) {
	cases := []struct {
		in   string
		want Argument
	}{
		{"int:8", Integer(8)},
		{"int:0x40", Integer(0x40)},
		{"str:123", Text("123")},
		{"42", Integer(42)},
		{"0x8000", Integer(0x8000)},
		{`Hdd:\Plugins\x.xex`, Text(`Hdd:\Plugins\x.xex`)},
	}
	for _, tc := range cases {
		got, err := ParseArgument(tc.in)
		if err != nil {
			t.Fatalf("ParseArgument(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("ParseArgument(%q) = %+v, want %+v", tc.in, got, tc.want)
		}
	}

	if _, err := ParseArgument("int:nope"); err == nil {
		t.Fatal("expect error for malformed int")
	}
}

func TestResultValue(t *testing.T) {
	var empty *Result
	if _, ok := empty.Value(); ok {
		t.Fatal("nil result has no value")
	}
	v := uint64(7)
	if got, ok := (&Result{ReturnValue: &v}).Value(); !ok || got != 7 {
		t.Fatalf("Value() = %d, %v", got, ok)
	}
}
