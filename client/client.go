// Package client runs remote procedure calls on the console.
//
// Invoke turns a module name, an ordinal and typed arguments into one
// exchange with the debug monitor's remote execution facility:
//
//	OpenSession → "rpc ... buf_size=N" → "204- buf_addr=X"
//	  → NewPlan(req, X) → Encode → SendBinary → AwaitStatus
//	  → [drain preamble → ReceiveBinary(N) → DecodeReturnValue] → Close
//
// Each call opens and closes its own session; nothing is retried here. Retry,
// timeouts, rate limiting and logging are middlewares wrapped around the call.
package client

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"xbdm-loader/codec"
	"xbdm-loader/message"
	"xbdm-loader/middleware"
	"xbdm-loader/protocol"
	"xbdm-loader/rpcerr"
	"xbdm-loader/transport"
)

// Client invokes exported routines on one console.
type Client struct {
	opener      transport.Opener
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc // middleware(middleware(...(c.call)))
	logger      zerolog.Logger
	observer    func(from, to State)
}

// Option configures a Client.
type Option func(*Client)

// WithMiddleware appends middlewares. They run in the order given.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(c *Client) {
		c.middlewares = append(c.middlewares, mws...)
	}
}

// WithLogger sets the logger for state transitions and buffer dumps.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithObserver registers a callback fired on every state transition.
func WithObserver(fn func(from, to State)) Option {
	return func(c *Client) {
		c.observer = fn
	}
}

// New creates a Client that opens its sessions through opener.
func New(opener transport.Opener, opts ...Option) *Client {
	c := &Client{
		opener: opener,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	// Build the chain once, not per call
	c.handler = middleware.Chain(c.middlewares...)(c.call)
	return c
}

// Invoke calls the routine at ordinal in module with args. When wantReturn is
// set the result carries the routine's return value.
func (c *Client) Invoke(ctx context.Context, module string, ordinal uint32, args []message.Argument, wantReturn bool) (*message.Result, error) {
	req, err := message.NewRequest(module, ordinal, args, wantReturn)
	if err != nil {
		return nil, rpcerr.WithState(err, StateIdle.String())
	}
	return c.Call(ctx, req)
}

// Call runs a prepared request through the middleware chain.
func (c *Client) Call(ctx context.Context, req *message.Request) (*message.Result, error) {
	ctx = middleware.EnsureCallID(ctx)
	return c.handler(ctx, req)
}

// exchange tracks one call's progress through the state machine.
type exchange struct {
	client *Client
	state  State
	logger zerolog.Logger
}

func (x *exchange) advance(to State) {
	if !canTransition(x.state, to) {
		panic(fmt.Sprintf("client: illegal transition %s → %s", x.state, to))
	}
	x.logger.Debug().Stringer("from", x.state).Stringer("to", to).Msg("call state")
	if x.client.observer != nil {
		x.client.observer(x.state, to)
	}
	x.state = to
}

// fail moves the exchange to Failed and tags err with the state it broke in.
func (x *exchange) fail(err error) error {
	annotated := rpcerr.WithState(err, x.state.String())
	x.advance(StateFailed)
	return annotated
}

// call is the innermost handler: one complete exchange with the console.
func (c *Client) call(ctx context.Context, req *message.Request) (result *message.Result, err error) {
	x := &exchange{
		client: c,
		state:  StateIdle,
		logger: c.logger.With().
			Str("call_id", middleware.CallID(ctx)).
			Str("module", req.TargetModule).
			Uint32("ordinal", req.Ordinal).
			Logger(),
	}

	session, err := c.opener.OpenSession(ctx)
	if err != nil {
		return nil, x.fail(err)
	}
	defer session.Close()

	// Idle → BufferRequested: ask for a scratch buffer of the exact size
	size := codec.BufferSize(req)
	resp, err := session.SendTextCommand(ctx, protocol.RPCCommand(size))
	if err != nil {
		return nil, x.fail(err)
	}
	if !resp.Success() {
		return nil, x.fail(rpcerr.Remote("console refused buffer allocation", resp.Raw))
	}
	base, err := protocol.ParseBufAddr(resp)
	if err != nil {
		return nil, x.fail(err)
	}
	x.advance(StateBufferRequested)

	// BufferRequested → Encoded
	plan := codec.NewPlan(req, base)
	buf := make([]byte, plan.TotalSize)
	if err := codec.Encode(plan, buf); err != nil {
		return nil, x.fail(err)
	}
	x.logger.Debug().
		Int("size", plan.TotalSize).
		Str("base", fmt.Sprintf("0x%08X", plan.BaseAddress)).
		Str("first", fmt.Sprintf("0x%08X", plan.FirstAddress)).
		Str("second", fmt.Sprintf("0x%08X", plan.SecondAddress)).
		Msg("buffer planned")
	if e := x.logger.Trace(); e.Enabled() {
		e.Msg("encoded buffer:\n" + codec.Dump(buf))
	}
	x.advance(StateEncoded)

	// Encoded → Uploaded
	if err := session.SendBinary(ctx, buf); err != nil {
		return nil, x.fail(err)
	}
	x.advance(StateUploaded)

	// Uploaded → StatusReceived
	status, err := session.AwaitStatus(ctx)
	if err != nil {
		return nil, x.fail(err)
	}
	if !status.Success() {
		return nil, x.fail(rpcerr.Remote("remote call failed", status.Raw))
	}
	x.advance(StateStatusReceived)

	result = &message.Result{}
	if req.WantReturn {
		x.advance(StateReturnRequested)

		// Two opaque words come first; drain them
		if _, err := session.ReceiveBinary(ctx, codec.PreambleSize); err != nil {
			return nil, x.fail(err)
		}
		echoed, err := session.ReceiveBinary(ctx, plan.TotalSize)
		if err != nil {
			return nil, x.fail(err)
		}
		value, err := codec.DecodeReturnValue(echoed, plan)
		if err != nil {
			return nil, x.fail(err)
		}
		result.ReturnValue = &value
		x.advance(StateResultReceived)
	}

	x.advance(StateDone)
	return result, nil
}
