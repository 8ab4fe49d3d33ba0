package framing

import (
	"errors"
	"io"
	"sync"
)

const readChunkSize = 32 * 1024

// Reader reads length-prefixed frames from a stream
type Reader struct {
	reader  io.Reader
	decoder *Decoder
	chunk   []byte
	queue   [][]byte
	err     error
}

// NewReader creates a new Reader with default limits
func NewReader(r io.Reader) *Reader {
	return NewReaderLimits(r, DefaultLimits())
}

// NewReaderLimits creates a new Reader enforcing limits
func NewReaderLimits(r io.Reader, limits Limits) *Reader {
	return &Reader{
		reader:  r,
		decoder: NewDecoder(limits),
		chunk:   make([]byte, readChunkSize),
	}
}

// ReadFrame returns the next payload. It returns io.EOF when the stream ends
// cleanly between frames, and a *FramingError wrapping ErrTruncated when it
// ends inside one. Frames completed before an error are delivered first.
func (fr *Reader) ReadFrame() ([]byte, error) {
	for len(fr.queue) == 0 {
		if fr.err != nil {
			return nil, fr.err
		}
		n, err := fr.reader.Read(fr.chunk)
		if n > 0 {
			frames, derr := fr.decoder.Push(fr.chunk[:n])
			fr.queue = append(fr.queue, frames...)
			if derr != nil {
				fr.err = derr
				continue
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) && fr.decoder.Buffered() > 0 {
				err = &FramingError{Err: ErrTruncated, Buffered: fr.decoder.Buffered()}
			}
			fr.err = err
		}
	}
	payload := fr.queue[0]
	fr.queue[0] = nil
	fr.queue = fr.queue[1:]
	return payload, nil
}

// Writer writes length-prefixed frames to a stream. WriteFrame is safe for
// concurrent use; each frame goes out in a single Write call.
type Writer struct {
	mu     sync.Mutex
	writer io.Writer
	limit  int
}

// NewWriter creates a new Writer with default limits
func NewWriter(w io.Writer) *Writer {
	return NewWriterLimits(w, DefaultLimits())
}

// NewWriterLimits creates a new Writer enforcing limits
func NewWriterLimits(w io.Writer, limits Limits) *Writer {
	return &Writer{writer: w, limit: limits.Effective()}
}

// WriteFrame writes a single frame to the stream
func (fw *Writer) WriteFrame(payload []byte) error {
	if len(payload) > fw.limit {
		return &FramingError{Err: ErrFrameTooLarge, Size: len(payload), Limit: fw.limit}
	}
	buf := Frame(payload)

	fw.mu.Lock()
	defer fw.mu.Unlock()
	_, err := fw.writer.Write(buf)
	return err
}
