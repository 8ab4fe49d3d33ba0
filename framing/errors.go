package framing

import (
	"errors"
	"fmt"
)

var (
	// ErrFrameTooLarge is returned when a length prefix exceeds the frame limit.
	ErrFrameTooLarge = errors.New("frame too large")
	// ErrTruncated is returned when a stream ends in the middle of a frame.
	ErrTruncated = errors.New("stream ended mid-frame")
)

// FramingError reports a violation of the length-prefixed framing.
// A framing error is unrecoverable for the stream it happened on.
type FramingError struct {
	Err      error
	Size     int
	Limit    int
	Buffered int
}

func (e *FramingError) Error() string {
	switch {
	case errors.Is(e.Err, ErrFrameTooLarge):
		return fmt.Sprintf("framing: frame size %d exceeds limit %d", e.Size, e.Limit)
	case errors.Is(e.Err, ErrTruncated):
		return fmt.Sprintf("framing: stream ended with %d bytes of an incomplete frame buffered", e.Buffered)
	default:
		return fmt.Sprintf("framing: %v", e.Err)
	}
}

func (e *FramingError) Unwrap() error {
	return e.Err
}

// IsFramingError reports whether err is (or wraps) a FramingError.
func IsFramingError(err error) bool {
	var fe *FramingError
	return errors.As(err, &fe)
}
