package improv

import (
	"bytes"
	"strings"
)

// maxLineLength bounds the console line buffer.
const maxLineLength = 1024

// Decoder turns an arbitrarily chunked byte stream into validated frames.
//
// Bytes that do not belong to a frame are device console output; complete
// lines are passed to OnLine when it is set. A frame that fails validation is
// reported to OnDrop and scanning resumes one byte past its preamble, so a
// corrupt frame never hides the frames after it. The rest of a rejected frame
// is discarded rather than reported as console output.
//
// A Decoder is not safe for concurrent use.
type Decoder struct {
	OnLine func(line string)
	OnDrop func(err *FramingError)

	buf     []byte
	line    []byte
	skip    int // leading bytes of buf that belong to a rejected frame
	dropped int
}

// NewDecoder creates an empty decoder.
func NewDecoder() *Decoder {
	return &Decoder{buf: make([]byte, 0, 2*(HeaderSize+MaxPayloadSize+2))}
}

// Dropped returns the number of frames discarded so far.
func (d *Decoder) Dropped() int {
	return d.dropped
}

// Buffered returns the number of bytes retained for the next Feed.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Feed appends chunk to the internal buffer and returns every complete frame
// now available, in arrival order. Incomplete trailing bytes are retained.
func (d *Decoder) Feed(chunk []byte) []Frame {
	d.buf = append(d.buf, chunk...)

	var frames []Frame
	for {
		start := bytes.Index(d.buf, []byte(Preamble))
		if start < 0 {
			// Keep a tail that may be the beginning of a preamble.
			keep := partialPreamble(d.buf)
			d.discard(len(d.buf) - keep)
			break
		}
		if start > 0 {
			d.discard(start)
		}
		d.skip = 0

		if len(d.buf) < HeaderSize {
			break
		}

		typ := PacketType(d.buf[len(Preamble)+1])
		if version := d.buf[len(Preamble)]; version != ProtocolVersion {
			d.drop(&FramingError{Reason: "unsupported protocol version", Type: typ, Raw: d.buf[:HeaderSize]})
			d.reject(HeaderSize + int(d.buf[HeaderSize-1]) + 1)
			continue
		}

		length := int(d.buf[HeaderSize-1])
		total := HeaderSize + length + 1
		if len(d.buf) < total {
			break
		}

		if got, want := d.buf[total-1], Checksum(d.buf[:total-1]); got != want {
			d.drop(&FramingError{Reason: "checksum mismatch", Type: typ, Raw: d.buf[:total]})
			d.reject(total)
			continue
		}

		payload := make([]byte, length)
		copy(payload, d.buf[HeaderSize:HeaderSize+length])
		frames = append(frames, Frame{Type: typ, Payload: payload})

		d.consume(total)
		if len(d.buf) > 0 && d.buf[0] == frameTerminator {
			d.consume(1)
		}
	}

	return frames
}

// Reset discards all buffered bytes.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.line = d.line[:0]
	d.skip = 0
}

func (d *Decoder) consume(n int) {
	if n <= 0 {
		return
	}
	remaining := copy(d.buf, d.buf[n:])
	d.buf = d.buf[:remaining]
}

// discard removes n leading bytes. Bytes past the rejected span go to the
// console.
func (d *Decoder) discard(n int) {
	skipped := min(n, d.skip)
	d.skip -= skipped
	d.console(d.buf[skipped:n])
	d.consume(n)
}

// reject drops the preamble of a bad frame of n bytes and marks the rest for
// discarding. A preamble inside the span still starts a new frame.
func (d *Decoder) reject(n int) {
	d.consume(1)
	d.skip = n - 1
}

func (d *Decoder) drop(err *FramingError) {
	d.dropped++
	if d.OnDrop != nil {
		raw := make([]byte, len(err.Raw))
		copy(raw, err.Raw)
		err.Raw = raw
		d.OnDrop(err)
	}
}

// console accumulates non-frame bytes into lines.
func (d *Decoder) console(data []byte) {
	for _, b := range data {
		if b == '\n' {
			d.flushLine()
			continue
		}
		if len(d.line) >= maxLineLength {
			d.flushLine()
		}
		d.line = append(d.line, b)
	}
}

func (d *Decoder) flushLine() {
	line := strings.TrimRight(string(d.line), "\r")
	d.line = d.line[:0]
	if line != "" && d.OnLine != nil {
		d.OnLine(line)
	}
}

// partialPreamble returns the length of the longest suffix of buf that is a
// proper prefix of the preamble.
func partialPreamble(buf []byte) int {
	limit := len(Preamble) - 1
	if len(buf) < limit {
		limit = len(buf)
	}
	for n := limit; n > 0; n-- {
		if bytes.Equal(buf[len(buf)-n:], []byte(Preamble[:n])) {
			return n
		}
	}
	return 0
}
