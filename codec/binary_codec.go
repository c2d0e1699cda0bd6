package codec

import (
	"fmt"
	"strings"

	"xbdm-loader/message"
	"xbdm-loader/rpcerr"
)

// Encode writes the call described by plan into buf, which must hold at least
// plan.TotalSize bytes. Every byte of the first plan.TotalSize is written, so
// buf does not need to be zeroed beforehand.
func Encode(plan *Plan, buf []byte) error {
	if len(buf) < plan.TotalSize {
		return rpcerr.New(rpcerr.KindPrecondition,
			fmt.Sprintf("buffer holds %d bytes, plan needs %d", len(buf), plan.TotalSize))
	}

	req := plan.Request
	w := NewWriter(buf[:plan.TotalSize])

	// Reserved region
	w.Zero(HeaderReservedSize)
	// Argument count -- 8 bytes
	w.PutUint64(uint64(len(req.Arguments)))
	// Reserved -- 8 bytes
	w.Zero(SlotSize)
	// Remote address of the stub's view of this buffer -- 8 bytes
	w.PutUint64(plan.FirstAddress)
	// Ordinal, zero-extended -- 8 bytes
	w.PutUint64(uint64(req.Ordinal))
	// String pool address, only when there is a pool -- 8 bytes
	if plan.HasStringArgs {
		w.PutUint64(plan.SecondAddress)
	}

	// Integer arguments in call order -- 8 bytes each
	for _, arg := range req.Arguments {
		if arg.Kind == message.KindInteger {
			w.PutUint64(arg.Integer)
		}
	}

	// Module name, zero padded
	w.PutPadded([]byte(req.TargetModule), plan.ModuleNameSize)

	// Text arguments in call order, NUL terminated and zero padded
	for _, arg := range req.Arguments {
		if arg.Kind == message.KindText {
			w.PutPadded([]byte(arg.Text), message.SizeOf(arg))
		}
	}

	if w.Offset() != plan.TotalSize {
		panic(fmt.Sprintf("codec: encoded %d bytes but plan says %d", w.Offset(), plan.TotalSize))
	}
	return nil
}

// EncodeRequest plans and encodes req for a buffer at baseAddress in one step.
func EncodeRequest(req *message.Request, baseAddress uint64) (*Plan, []byte, error) {
	plan := NewPlan(req, baseAddress)
	buf := make([]byte, plan.TotalSize)
	if err := Encode(plan, buf); err != nil {
		return nil, nil, err
	}
	return plan, buf, nil
}

// Dump formats buf as hex, 16 bytes per line with a gap after every 8.
func Dump(buf []byte) string {
	var b strings.Builder
	for i, c := range buf {
		fmt.Fprintf(&b, "%02X ", c)
		switch {
		case (i+1)%16 == 0:
			b.WriteByte('\n')
		case (i+1)%8 == 0:
			b.WriteString("  ")
		}
	}
	return strings.TrimRight(b.String(), " \n")
}
