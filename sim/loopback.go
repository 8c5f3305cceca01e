package sim

import (
	"io"
	"sync"
	"time"

	"github.com/WroblewskiAdam/column-stripper/protocol"
)

// Loopback is an in-memory serial link: two cross-connected FIFO pairs.
// Host() and Device() behave like the two ends of a cable; reads block
// briefly and then return zero bytes, mimicking a serial read timeout.
type Loopback struct {
	aToB *protocol.FifoBuffer
	bToA *protocol.FifoBuffer
	mu   sync.Mutex
	shut bool
}

// NewLoopback creates a link with room for several frames in flight.
func NewLoopback() *Loopback {
	return &Loopback{
		aToB: protocol.NewFifoBuffer(4096),
		bToA: protocol.NewFifoBuffer(4096),
	}
}

// Host returns the host end.
func (l *Loopback) Host() io.ReadWriteCloser {
	return &loopEnd{l: l, rx: l.bToA, tx: l.aToB}
}

// Device returns the device end.
func (l *Loopback) Device() io.ReadWriteCloser {
	return &loopEnd{l: l, rx: l.aToB, tx: l.bToA}
}

// Close shuts both ends down; blocked readers return EOF.
func (l *Loopback) Close() {
	l.mu.Lock()
	l.shut = true
	l.mu.Unlock()
}

type loopEnd struct {
	l  *Loopback
	rx *protocol.FifoBuffer
	tx *protocol.FifoBuffer
}

func (e *loopEnd) Read(p []byte) (int, error) {
	deadline := time.Now().Add(10 * time.Millisecond)
	for {
		if n := e.rx.Read(p); n > 0 {
			return n, nil
		}
		e.l.mu.Lock()
		shut := e.l.shut
		e.l.mu.Unlock()
		if shut {
			return 0, io.EOF
		}
		if time.Now().After(deadline) {
			return 0, nil // serial-style timeout
		}
		time.Sleep(100 * time.Microsecond)
	}
}

func (e *loopEnd) Write(p []byte) (int, error) {
	e.l.mu.Lock()
	shut := e.l.shut
	e.l.mu.Unlock()
	if shut {
		return 0, io.ErrClosedPipe
	}
	return e.tx.Write(p), nil
}

func (e *loopEnd) Close() error {
	e.l.Close()
	return nil
}
