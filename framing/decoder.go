// Package framing implements the 4-byte length-prefixed framing shared by the
// extension host pipe and the client socket. Lengths are big-endian.
package framing

import (
	"encoding/binary"
)

// Frame prepends the length prefix to payload. A nil or empty payload
// produces a valid zero-length frame.
func Frame(payload []byte) []byte {
	out := make([]byte, PrefixSize+len(payload))
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	copy(out[PrefixSize:], payload)
	return out
}

// Decoder reassembles frames from arbitrarily split chunks of a byte stream.
// It is not safe for concurrent use; each stream owns one decoder.
type Decoder struct {
	buf   []byte
	off   int
	limit int
	err   error
}

// NewDecoder creates a decoder enforcing the given limits
func NewDecoder(limits Limits) *Decoder {
	return &Decoder{limit: limits.Effective()}
}

// Push appends chunk to the internal buffer and returns every payload that
// is now complete, in stream order. Bytes of a partial frame stay buffered
// for the next call.
//
// If a length prefix exceeds the limit, Push returns the frames completed
// before it together with a *FramingError. The decoder is then poisoned and
// every later call returns the same error.
func (d *Decoder) Push(chunk []byte) ([][]byte, error) {
	if d.err != nil {
		return nil, d.err
	}
	d.buf = append(d.buf, chunk...)

	var frames [][]byte
	for {
		avail := len(d.buf) - d.off
		if avail < PrefixSize {
			break
		}
		size := binary.BigEndian.Uint32(d.buf[d.off:])
		if uint64(size) > uint64(d.limit) {
			d.err = &FramingError{Err: ErrFrameTooLarge, Size: int(size), Limit: d.limit}
			d.buf, d.off = nil, 0
			return frames, d.err
		}
		end := d.off + PrefixSize + int(size)
		if len(d.buf) < end {
			break
		}
		payload := make([]byte, size)
		copy(payload, d.buf[d.off+PrefixSize:end])
		frames = append(frames, payload)
		d.off = end
	}
	d.compact()
	return frames, nil
}

// Buffered returns the number of bytes held for an incomplete frame
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.off
}

// Err returns the sticky error, if any
func (d *Decoder) Err() error {
	return d.err
}

// Reset drops buffered bytes and clears a sticky error
func (d *Decoder) Reset() {
	d.buf, d.off, d.err = nil, 0, nil
}

func (d *Decoder) compact() {
	if d.off == 0 {
		return
	}
	if d.off == len(d.buf) {
		d.buf, d.off = d.buf[:0], 0
		return
	}
	n := copy(d.buf, d.buf[d.off:])
	d.buf, d.off = d.buf[:n], 0
}
