// Package message defines the data exchanged in one remote procedure call on
// the console.
//
// A Request names an exported routine (module + ordinal) and carries its
// ordered arguments. It gets laid out by the codec package into the buffer the
// debug monitor's remote execution stub expects. A Result carries the value
// the routine left in that buffer, when the caller asked for it.
package message

import (
	"fmt"
	"strings"

	"xbdm-loader/rpcerr"
)

// Request is a single remote call. It is never mutated after NewRequest.
//
//   - TargetModule: module that exports the routine, e.g. "xboxkrnl.exe"
//   - Ordinal:      export ordinal inside TargetModule (not validated here)
//   - Arguments:    positional arguments, in the order the routine declares them
type Request struct {
	TargetModule string
	Ordinal      uint32
	Arguments    []Argument
	WantReturn   bool // Download the echoed buffer and decode the return value
}

// NewRequest validates the request invariants and returns an immutable copy.
// A violated invariant is a PreconditionViolation, never silently repaired.
func NewRequest(module string, ordinal uint32, args []Argument, wantReturn bool) (*Request, error) {
	if module == "" {
		return nil, rpcerr.New(rpcerr.KindPrecondition, "target module must not be empty")
	}
	if strings.IndexByte(module, 0) >= 0 {
		return nil, rpcerr.New(rpcerr.KindPrecondition, "target module contains a NUL byte")
	}
	for i, arg := range args {
		if arg.Kind == KindText && strings.IndexByte(arg.Text, 0) >= 0 {
			return nil, rpcerr.New(rpcerr.KindPrecondition, fmt.Sprintf("argument %d: text contains a NUL byte", i))
		}
		if arg.Kind != KindInteger && arg.Kind != KindText {
			return nil, rpcerr.New(rpcerr.KindPrecondition, fmt.Sprintf("argument %d: unknown kind %d", i, arg.Kind))
		}
	}

	copied := make([]Argument, len(args))
	copy(copied, args)
	return &Request{
		TargetModule: module,
		Ordinal:      ordinal,
		Arguments:    copied,
		WantReturn:   wantReturn,
	}, nil
}

// String renders the request as "module#ordinal(args...)" for logs.
func (r *Request) String() string {
	parts := make([]string, len(r.Arguments))
	for i, arg := range r.Arguments {
		parts[i] = arg.String()
	}
	return fmt.Sprintf("%s#%d(%s)", r.TargetModule, r.Ordinal, strings.Join(parts, ", "))
}

// Result is what came back from the console for one Request.
// ReturnValue is nil unless the request had WantReturn set.
type Result struct {
	ReturnValue *uint64 `json:"return_value,omitempty"`
}

// Value returns the return value and whether one was present.
func (r *Result) Value() (uint64, bool) {
	if r == nil || r.ReturnValue == nil {
		return 0, false
	}
	return *r.ReturnValue, true
}
