package transport

import (
	"context"
	"sync"
	"sync/atomic"

	"xbdm-loader/rpcerr"
)

// Pool bounds the number of sessions open to one console at a time.
//
// Sessions are never handed back for reuse: a remote call closes its session
// when it is done. What the pool recycles is the right to have a session
// open, so the console's small connection table is not exhausted when many
// calls run concurrently.
//
// Pool design: a buffered channel of tokens. Taking a token blocks while the
// pool is at capacity; closing a session puts its token back.
type Pool struct {
	opener Opener
	slots  chan struct{} // Buffered channel as semaphore, FIFO for waiters
	inUse  atomic.Int32
}

// NewPool wraps opener so that at most maxSessions sessions are open at once.
func NewPool(opener Opener, maxSessions int) *Pool {
	if maxSessions < 1 {
		maxSessions = 1
	}
	return &Pool{
		opener: opener,
		slots:  make(chan struct{}, maxSessions),
	}
}

// OpenSession waits for a free slot, then opens a session through the
// wrapped opener. The slot is released when the session is closed.
func (p *Pool) OpenSession(ctx context.Context) (Session, error) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, rpcerr.Transport("wait for free session slot", ctx.Err())
	}

	s, err := p.opener.OpenSession(ctx)
	if err != nil {
		<-p.slots
		return nil, err
	}
	p.inUse.Add(1)
	return &pooledSession{Session: s, pool: p}, nil
}

// InUse returns the number of sessions currently open through the pool.
func (p *Pool) InUse() int {
	return int(p.inUse.Load())
}

// Cap returns the maximum number of concurrent sessions.
func (p *Pool) Cap() int {
	return cap(p.slots)
}

// pooledSession releases its slot exactly once, however often Close is called.
type pooledSession struct {
	Session
	pool *Pool
	once sync.Once
}

func (s *pooledSession) Close() error {
	err := s.Session.Close()
	s.once.Do(func() {
		s.pool.inUse.Add(-1)
		<-s.pool.slots
	})
	return err
}
