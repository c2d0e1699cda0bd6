package codec

import (
	"encoding/binary"
	"fmt"

	"xbdm-loader/message"
	"xbdm-loader/rpcerr"
)

// DecodeReturnValue extracts the return value the stub wrote into the echoed
// buffer. The echoed buffer must be exactly the size of the one uploaded.
func DecodeReturnValue(echoed []byte, plan *Plan) (uint64, error) {
	if len(echoed) != plan.TotalSize {
		return 0, rpcerr.Protocol(fmt.Sprintf("echoed buffer is %d bytes, uploaded %d", len(echoed), plan.TotalSize), "")
	}
	return binary.BigEndian.Uint64(echoed[ReturnValueOffset : ReturnValueOffset+SlotSize]), nil
}

// PutReturnValue stores v where DecodeReturnValue reads it. This is what the
// remote stub does after the call returns.
func PutReturnValue(buf []byte, v uint64) {
	binary.BigEndian.PutUint64(buf[ReturnValueOffset:ReturnValueOffset+SlotSize], v)
}

// Peek reads the argument count and ordinal of an encoded call without
// knowing its signature.
func Peek(buf []byte) (argc uint64, ordinal uint32, err error) {
	if len(buf) < FixedSize {
		return 0, 0, rpcerr.Protocol(fmt.Sprintf("call buffer is %d bytes, shorter than the %d-byte header", len(buf), FixedSize), "")
	}
	argc = binary.BigEndian.Uint64(buf[OffsetArgCount:])
	raw := binary.BigEndian.Uint64(buf[OffsetOrdinal:])
	if raw > 0xFFFFFFFF {
		return 0, 0, rpcerr.Protocol(fmt.Sprintf("ordinal slot holds 0x%X, wider than 32 bits", raw), "")
	}
	return argc, uint32(raw), nil
}

// DecodeRequest parses a call buffer placed at baseAddress, given the module
// it is expected to target and the kinds of its arguments. Every field is
// checked against the layout NewPlan would produce; any mismatch is a
// ProtocolError.
func DecodeRequest(buf []byte, baseAddress uint64, module string, kinds []message.Kind) (*message.Request, error) {
	r := NewReader(buf)

	if err := r.Zeros(HeaderReservedSize); err != nil {
		return nil, err
	}
	argc, err := r.Uint64()
	if err != nil {
		return nil, err
	}
	if argc != uint64(len(kinds)) {
		return nil, rpcerr.Protocol(fmt.Sprintf("argument count is %d, want %d", argc, len(kinds)), "")
	}
	if err := r.Zeros(SlotSize); err != nil {
		return nil, err
	}

	first, err := r.Uint64()
	if err != nil {
		return nil, err
	}
	wantFirst := baseAddress + StubFrameReserve + ShadowSlotSize*argc
	if first != wantFirst {
		return nil, rpcerr.Protocol(fmt.Sprintf("first address is 0x%X, want 0x%X", first, wantFirst), "")
	}

	ordinal, err := r.Uint64()
	if err != nil {
		return nil, err
	}
	if ordinal > 0xFFFFFFFF {
		return nil, rpcerr.Protocol(fmt.Sprintf("ordinal slot holds 0x%X, wider than 32 bits", ordinal), "")
	}

	hasText := false
	for _, k := range kinds {
		if k == message.KindText {
			hasText = true
		}
	}
	moduleNameSize := message.Align8(len(module))
	if hasText {
		second, err := r.Uint64()
		if err != nil {
			return nil, err
		}
		if want := first + uint64(moduleNameSize); second != want {
			return nil, rpcerr.Protocol(fmt.Sprintf("second address is 0x%X, want 0x%X", second, want), "")
		}
	}

	args := make([]message.Argument, len(kinds))
	for i, k := range kinds {
		if k != message.KindInteger {
			continue
		}
		v, err := r.Uint64()
		if err != nil {
			return nil, err
		}
		args[i] = message.Integer(v)
	}

	if err := r.Padded([]byte(module), moduleNameSize); err != nil {
		return nil, err
	}

	for i, k := range kinds {
		if k != message.KindText {
			continue
		}
		s, err := r.CString()
		if err != nil {
			return nil, err
		}
		args[i] = message.Text(s)
	}

	if r.Remaining() != 0 {
		return nil, rpcerr.Protocol(fmt.Sprintf("%d trailing bytes after the string pool", r.Remaining()), "")
	}

	return message.NewRequest(module, uint32(ordinal), args, false)
}
