package protocol

import (
	"bytes"
	"testing"
	"time"
)

func feedAll(t *testing.T, r *Receiver, frame []byte) []byte {
	t.Helper()
	var got []byte
	for _, b := range frame {
		if payload := r.Feed(b); payload != nil {
			if got != nil {
				t.Fatalf("decoder produced more than one frame")
			}
			got = append([]byte(nil), payload...)
		}
	}
	return got
}

func TestEncodePing(t *testing.T) {
	frame, err := Encode([]byte{0x00})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// CRC32/IEEE of a single zero byte
	want := []byte{0x21, 0x37, 0x05, 0x00, 0xD2, 0x02, 0xEF, 0x8D}
	if !bytes.Equal(frame, want) {
		t.Fatalf("ping frame = % X, want % X", frame, want)
	}
}

func TestEncodeBounds(t *testing.T) {
	if _, err := Encode(nil); err != ErrPayloadEmpty {
		t.Errorf("empty payload: err = %v, want ErrPayloadEmpty", err)
	}
	if _, err := Encode(make([]byte, PayloadMax+1)); err != ErrPayloadTooLarge {
		t.Errorf("oversized payload: err = %v, want ErrPayloadTooLarge", err)
	}
	if _, err := Encode(make([]byte, PayloadMax)); err != nil {
		t.Errorf("max payload: err = %v", err)
	}
}

func TestRoundTripAllLengths(t *testing.T) {
	var r Receiver
	for n := 1; n <= PayloadMax; n++ {
		payload := make([]byte, n)
		for i := range payload {
			payload[i] = byte(i * 7)
		}
		frame, err := Encode(payload)
		if err != nil {
			t.Fatalf("Encode(len %d): %v", n, err)
		}
		got := feedAll(t, &r, frame)
		if !bytes.Equal(got, payload) {
			t.Fatalf("len %d: round trip = % X, want % X", n, got, payload)
		}
	}
}

func TestCorruptionDropsFrame(t *testing.T) {
	payload := []byte{0x02, 0x40, 0x49, 0x0F, 0xDB}
	frame, _ := Encode(payload)

	// mutate every payload and CRC byte in turn; none may decode
	for i := 3; i < len(frame); i++ {
		corrupted := append([]byte(nil), frame...)
		corrupted[i] ^= 0xFF
		var r Receiver
		if got := feedAll(t, &r, corrupted); got != nil {
			t.Errorf("byte %d corrupted: decoder accepted % X", i, got)
		}
		// the next valid frame must still decode
		if got := feedAll(t, &r, frame); !bytes.Equal(got, payload) {
			t.Errorf("byte %d corrupted: decoder did not recover", i)
		}
	}
}

func TestInvalidLengthRestarts(t *testing.T) {
	var r Receiver
	for _, badLen := range []byte{0, 1, 2, 3, 4} {
		r.Feed(Start1)
		r.Feed(Start2)
		if got := r.Feed(badLen); got != nil {
			t.Fatalf("LEN %d accepted", badLen)
		}
		// decoder must be hunting for a start sequence again
		frame, _ := Encode([]byte{0x00})
		if got := feedAll(t, &r, frame); got == nil {
			t.Fatalf("LEN %d: decoder did not restart", badLen)
		}
	}
}

func TestResyncAfterGarbage(t *testing.T) {
	payload := []byte{0x0E}
	frame, _ := Encode(payload)
	// noise, then a false start with an invalid LEN, then more noise
	stream := append([]byte{0x55, 0x21, 0x37, 0x00, 0xAB}, frame...)

	var r Receiver
	if got := feedAll(t, &r, stream); !bytes.Equal(got, payload) {
		t.Fatalf("resync: got % X, want % X", got, payload)
	}
}

func TestFrameReader(t *testing.T) {
	payload := []byte{0x08, 0x00, 0x01, 0x00, 0x02}
	frame, _ := Encode(payload)
	stream := append([]byte{0xDE, 0xAD}, frame...)

	fr := NewFrameReader(bytes.NewReader(stream))
	got, err := fr.ReadFrame(100 * time.Millisecond)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("ReadFrame = % X, want % X", got, payload)
	}
}

func TestFifoBuffer(t *testing.T) {
	f := NewFifoBuffer(8)
	n := f.Write([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	if n != 8 {
		t.Fatalf("Write = %d, want 8", n)
	}
	if f.Available() != 8 {
		t.Fatalf("Available = %d, want 8", f.Available())
	}
	buf := make([]byte, 5)
	if got := f.Read(buf); got != 5 {
		t.Fatalf("Read = %d, want 5", got)
	}
	if !bytes.Equal(buf, []byte{1, 2, 3, 4, 5}) {
		t.Fatalf("Read data = %v", buf)
	}
	// wrap-around
	f.Write([]byte{11, 12, 13})
	out := make([]byte, 8)
	if got := f.Read(out); got != 6 {
		t.Fatalf("Read after wrap = %d, want 6", got)
	}
	if !bytes.Equal(out[:6], []byte{6, 7, 8, 11, 12, 13}) {
		t.Fatalf("wrap data = %v", out[:6])
	}
}
