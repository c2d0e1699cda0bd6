// Package codec lays out remote calls in the byte format the debug monitor's
// remote execution stub interprets, and reads results back out of it.
//
// Buffer layout (every multi-byte field big-endian):
//
//	0        32       40       48          56        64           64/72
//	┌────────┬────────┬────────┬───────────┬─────────┬────────────┬──────────┬─────────┬──────────────┐
//	│ zero×32│  argc  │ zero×8 │ firstAddr │ ordinal │ secondAddr │ integers │ module  │ text pool    │
//	│        │ uint64 │        │  uint64   │ uint64  │ (if text)  │ 8 each   │ align8  │ align8(n+1)  │
//	└────────┴────────┴────────┴───────────┴─────────┴────────────┴──────────┴─────────┴──────────────┘
//
// Integers sit in the fixed parameter slots in call order; text payloads are
// appended after the module name as a contiguous pool, also in call order.
// The stub writes the return value back into the same buffer at offset 8.
package codec

// Field offsets inside the local buffer.
const (
	HeaderReservedSize  = 32 // leading zero region
	OffsetArgCount      = 32
	OffsetReserved      = 40
	OffsetFirstAddress  = 48
	OffsetOrdinal       = 56
	OffsetSecondAddress = 64
	FixedSize           = 64 // everything up to and excluding secondAddress
	SlotSize            = 8
)

// Remote stub constants. These are protocol-fixed, learned from the stub's
// calling convention on real hardware. Do not re-derive or simplify them
// without re-verifying against a console.
const (
	// StubFrameReserve is what the stub reserves on its own stack ahead of
	// the uploaded buffer.
	StubFrameReserve = 0x40
	// ShadowSlotSize is the stub's per-parameter shadow slot.
	ShadowSlotSize = 8
	// ReturnValueOffset is where the stub leaves the return value in the
	// echoed buffer, right after the first 8-byte slot.
	ReturnValueOffset = 8
	// PreambleSize is the opaque two-word block the console sends ahead of
	// the echoed buffer. It is drained and ignored.
	PreambleSize = 16
)

// Codec serializes values for machine-readable output.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}
