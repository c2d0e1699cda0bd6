package codec

import (
	"xbdm-loader/message"
)

// Plan is the complete byte layout of one call buffer. It is derived from a
// Request and the remote base address the console reported at allocation
// time, used once to drive Encode, then discarded.
type Plan struct {
	Request        *message.Request
	TotalSize      int
	HasStringArgs  bool
	BaseAddress    uint64
	FirstAddress   uint64
	SecondAddress  uint64 // Zero unless HasStringArgs
	ModuleNameSize int
	ModuleOffset   int   // Local offset of the module name
	PoolOffset     int   // Local offset of the first text payload
	ArgOffsets     []int // Local offset of every argument, in call order
}

// BufferSize returns the number of bytes the call buffer for req needs.
// It does not depend on the remote address, so it can size the allocation
// request before the console has answered.
func BufferSize(req *message.Request) int {
	size := FixedSize
	if message.HasString(req.Arguments) {
		size += SlotSize
	}
	for _, arg := range req.Arguments {
		size += message.SizeOf(arg)
	}
	return size + message.Align8(len(req.TargetModule))
}

// NewPlan computes the layout of req for a buffer the console placed at
// baseAddress. It is a pure function of its inputs.
func NewPlan(req *message.Request, baseAddress uint64) *Plan {
	p := &Plan{
		Request:        req,
		HasStringArgs:  message.HasString(req.Arguments),
		BaseAddress:    baseAddress,
		ModuleNameSize: message.Align8(len(req.TargetModule)),
		ArgOffsets:     make([]int, len(req.Arguments)),
	}

	argc := uint64(len(req.Arguments))
	p.FirstAddress = baseAddress + StubFrameReserve + ShadowSlotSize*argc
	if p.HasStringArgs {
		p.SecondAddress = p.FirstAddress + uint64(p.ModuleNameSize)
	}

	off := FixedSize
	if p.HasStringArgs {
		off += SlotSize
	}
	for i, arg := range req.Arguments {
		if arg.Kind == message.KindInteger {
			p.ArgOffsets[i] = off
			off += SlotSize
		}
	}

	p.ModuleOffset = off
	off += p.ModuleNameSize

	p.PoolOffset = off
	for i, arg := range req.Arguments {
		if arg.Kind == message.KindText {
			p.ArgOffsets[i] = off
			off += message.SizeOf(arg)
		}
	}

	p.TotalSize = off
	return p
}
