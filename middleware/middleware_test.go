package middleware

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"xbdm-loader/message"
	"xbdm-loader/rpcerr"
)

var testReq = &message.Request{TargetModule: "xam.xex", Ordinal: 1102, Arguments: []message.Argument{message.Text("a")}, WantReturn: true}

// echoHandler answers immediately with a fixed return value
func echoHandler(ctx context.Context, req *message.Request) (*message.Result, error) {
	v := uint64(0x81F2A000)
	return &message.Result{ReturnValue: &v}, nil
}

// slowHandler blocks until its context ends, like a console that never answers
func slowHandler(ctx context.Context, req *message.Request) (*message.Result, error) {
	select {
	case <-ctx.Done():
		return nil, rpcerr.Transport("await status", ctx.Err())
	case <-time.After(2 * time.Second):
		return &message.Result{}, nil
	}
}

// flakyHandler fails with err for the first n calls
func flakyHandler(n int, err error, calls *int) HandlerFunc {
	return func(ctx context.Context, req *message.Request) (*message.Result, error) {
		*calls++
		if *calls <= n {
			return nil, err
		}
		return echoHandler(ctx, req)
	}
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	handler := LoggingMiddleware(logger)(echoHandler)

	ctx := EnsureCallID(context.Background())
	result, err := handler(ctx, testReq)
	if err != nil {
		t.Fatalf("expect no error, got %v", err)
	}
	if v, ok := result.Value(); !ok || v != 0x81F2A000 {
		t.Fatalf("unexpected result %v", result)
	}

	out := buf.String()
	for _, want := range []string{`"call_id":"` + CallID(ctx) + `"`, `xam.xex#1102`, `"return":"0x81f2a000"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s: %s", want, out)
		}
	}
}

func TestLoggingError(t *testing.T) {
	var buf bytes.Buffer
	handler := LoggingMiddleware(zerolog.New(&buf))(func(ctx context.Context, req *message.Request) (*message.Result, error) {
		return nil, rpcerr.Remote("remote call failed", "400- unexpected error")
	})

	if _, err := handler(context.Background(), testReq); !errors.Is(err, rpcerr.ErrRemote) {
		t.Fatalf("expect remote rejection, got %v", err)
	}
	if !strings.Contains(buf.String(), `"kind":"remote_rejection"`) {
		t.Fatalf("log should carry the error kind: %s", buf.String())
	}
}

func TestTimeoutPass(t *testing.T) {
	handler := TimeOutMiddleware(500 * time.Millisecond)(echoHandler)

	if _, err := handler(context.Background(), testReq); err != nil {
		t.Fatalf("expect no error, got %v", err)
	}
}

func TestTimeoutExceeded(t *testing.T) {
	handler := TimeOutMiddleware(50 * time.Millisecond)(slowHandler)

	_, err := handler(context.Background(), testReq)
	if !errors.Is(err, rpcerr.ErrTransport) {
		t.Fatalf("expect transport error, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expect deadline exceeded in chain, got %v", err)
	}
}

func TestRetryTransportError(t *testing.T) {
	calls := 0
	handler := RetryMiddleware(3, time.Millisecond, 0, zerolog.Nop())(
		flakyHandler(2, rpcerr.Transport("connect", errors.New("connection refused")), &calls))

	result, err := handler(context.Background(), testReq)
	if err != nil {
		t.Fatalf("expect success after retries, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expect 3 attempts, got %d", calls)
	}
	if _, ok := result.Value(); !ok {
		t.Fatal("expect a return value")
	}
}

func TestRetryExhausted(t *testing.T) {
	calls := 0
	handler := RetryMiddleware(2, time.Millisecond, time.Millisecond, zerolog.Nop())(
		flakyHandler(10, rpcerr.Transport("connect", errors.New("connection refused")), &calls))

	_, err := handler(context.Background(), testReq)
	if !errors.Is(err, rpcerr.ErrTransport) {
		t.Fatalf("expect transport error, got %v", err)
	}
	if !strings.Contains(err.Error(), "failed after 2 retries") {
		t.Fatalf("unexpected error text: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expect 1 call + 2 retries, got %d", calls)
	}
}

func TestRetrySkipsNonTransportErrors(t *testing.T) {
	for _, failure := range []error{
		rpcerr.Protocol("reply carries no buf_addr", "200- OK"),
		rpcerr.Remote("remote call failed", "400- unexpected error"),
		rpcerr.New(rpcerr.KindPrecondition, "empty module"),
	} {
		calls := 0
		handler := RetryMiddleware(3, time.Millisecond, 0, zerolog.Nop())(flakyHandler(1, failure, &calls))

		if _, err := handler(context.Background(), testReq); !errors.Is(err, failure) {
			t.Fatalf("expect %v, got %v", failure, err)
		}
		if calls != 1 {
			t.Fatalf("%v must not be retried, got %d calls", failure, calls)
		}
	}
}

func TestRateLimit(t *testing.T) {
	// rate=20/s, burst=2: the third call has to wait for a token
	handler := RateLimitMiddleware(20, 2)(echoHandler)

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := handler(context.Background(), testReq); err != nil {
			t.Fatalf("call %d failed: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Fatalf("third call should have been throttled, took %s", elapsed)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := handler(ctx, testReq); !errors.Is(err, rpcerr.ErrTransport) {
		t.Fatalf("expect transport error for cancelled wait, got %v", err)
	}
}

func TestChain(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *message.Request) (*message.Result, error) {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}

	handler := Chain(mark("a"), mark("b"), TimeOutMiddleware(500*time.Millisecond))(echoHandler)
	if _, err := handler(context.Background(), testReq); err != nil {
		t.Fatalf("expect no error, got %v", err)
	}
	if strings.Join(order, ",") != "a,b" {
		t.Fatalf("unexpected order %v", order)
	}
}

func TestCallID(t *testing.T) {
	ctx := EnsureCallID(context.Background())
	id := CallID(ctx)
	if id == "" {
		t.Fatal("expect a call id")
	}
	if CallID(EnsureCallID(ctx)) != id {
		t.Fatal("existing call id must be kept")
	}
	if CallID(context.Background()) != "" {
		t.Fatal("bare context has no call id")
	}
}
