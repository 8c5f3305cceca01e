package protocol

import (
	"encoding/binary"
	"io"
	"time"
)

// receive states
const (
	stateWaitStart1 = iota
	stateWaitStart2
	stateRxLen
	stateRxPayload
)

// Receiver is the byte-wise frame decoder. Bytes are fed in as they
// arrive; a complete, CRC-verified payload is surfaced once per frame.
// Anything malformed resets the decoder to hunting for the start
// sequence without surfacing an error: the link is ack-driven and a
// corrupted frame is simply never acknowledged.
type Receiver struct {
	state   int
	datalen int
	idx     int
	buf     [LenMax]byte
}

// Feed consumes one byte. It returns the decoded payload (without the
// CRC trailer) when b completes a valid frame, nil otherwise. The
// returned slice aliases the receiver's buffer and is valid until the
// next Feed call.
func (r *Receiver) Feed(b byte) []byte {
	switch r.state {
	case stateWaitStart1:
		if b == Start1 {
			r.state = stateWaitStart2
		}
	case stateWaitStart2:
		if b == Start2 {
			r.state = stateRxLen
		} else {
			r.state = stateWaitStart1
		}
	case stateRxLen:
		r.datalen = int(b)
		if r.datalen < LenMin || r.datalen > len(r.buf) {
			r.state = stateWaitStart1
			return nil
		}
		r.idx = 0
		r.state = stateRxPayload
	case stateRxPayload:
		r.buf[r.idx] = b
		r.idx++
		if r.idx >= r.datalen {
			r.state = stateWaitStart1
			body := r.buf[:r.datalen-TrailerSize]
			want := binary.BigEndian.Uint32(r.buf[r.datalen-TrailerSize : r.datalen])
			if Checksum(body) == want {
				return body
			}
		}
	}
	return nil
}

// Reset returns the decoder to its initial state.
func (r *Receiver) Reset() {
	r.state = stateWaitStart1
}

// FrameReader pulls frames out of a byte stream. The underlying reader
// is expected to enforce its own read timeout (serial ports do); a
// timed-out read surfaces as a zero-byte read.
type FrameReader struct {
	r   io.Reader
	rx  Receiver
	one [64]byte
	// pending holds bytes read but not yet fed
	pending []byte
}

// NewFrameReader wraps r.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r}
}

// ReadFrame blocks until a complete valid frame arrives or the deadline
// passes while hunting for a frame start. Once a start sequence has been
// seen the deadline no longer applies: a frame in progress completes
// promptly at line rate. Returns nil when no frame arrived in time.
func (f *FrameReader) ReadFrame(timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	f.rx.Reset()
	for {
		for len(f.pending) > 0 {
			b := f.pending[0]
			f.pending = f.pending[1:]
			if payload := f.rx.Feed(b); payload != nil {
				out := make([]byte, len(payload))
				copy(out, payload)
				return out, nil
			}
		}
		if f.rx.state == stateWaitStart1 && time.Now().After(deadline) {
			return nil, nil
		}
		n, err := f.r.Read(f.one[:])
		if n > 0 {
			f.pending = append(f.pending[:0], f.one[:n]...)
			continue
		}
		if err != nil {
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, err
		}
		// zero-byte read: the transport's own timeout elapsed; loop so
		// the deadline check above decides whether to keep polling
	}
}
