// Package sse decodes event-stream framing from upstream provider responses.
//
// DESIGN: Decoder is a pure carry-over-buffer state machine (bytes in, frame
// payloads out) so frame reassembly is testable without any network I/O.
// Scanner layers it over an io.Reader for the suspend-until-next-frame
// contract the provider clients need.
package sse

import (
	"bytes"
	"io"
)

// DataPrefix marks a payload line inside a frame.
const DataPrefix = "data:"

// DoneSentinel terminates a stream without carrying a payload.
const DoneSentinel = "[DONE]"

var (
	crlfDelim = []byte("\r\n\r\n")
	lfDelim   = []byte("\n\n")
)

// Decoder reassembles discrete frames from raw byte chunks arriving in any
// split. Bytes past the last complete frame are carried over to the next
// Feed call.
type Decoder struct {
	buf  []byte
	done bool
}

// NewDecoder returns an empty Decoder.
func NewDecoder() *Decoder {
	return &Decoder{buf: make([]byte, 0, 4096)}
}

// Done reports whether the [DONE] sentinel has been seen. After that the
// decoder yields nothing further regardless of input.
func (d *Decoder) Done() bool {
	return d.done
}

// Feed appends a raw chunk and returns the payloads of every frame completed
// by it, in arrival order. The sentinel frame is consumed, never returned.
func (d *Decoder) Feed(chunk []byte) [][]byte {
	if d.done {
		return nil
	}
	d.buf = append(d.buf, chunk...)

	var payloads [][]byte
	for {
		frame, rest, ok := nextFrame(d.buf)
		if !ok {
			break
		}
		d.buf = rest
		payload, ok := unwrapFrame(frame)
		if !ok {
			continue
		}
		if bytes.Equal(payload, []byte(DoneSentinel)) {
			d.done = true
			d.buf = nil
			return payloads
		}
		payloads = append(payloads, payload)
	}
	return payloads
}

// Flush returns the payload of any trailing partial frame once the input has
// ended. Streams that close without a final blank line still deliver their
// last frame this way.
func (d *Decoder) Flush() []byte {
	if d.done || len(d.buf) == 0 {
		return nil
	}
	frame := d.buf
	d.buf = nil
	payload, ok := unwrapFrame(frame)
	if !ok || bytes.Equal(payload, []byte(DoneSentinel)) {
		return nil
	}
	return payload
}

// nextFrame splits off the first complete frame, tolerating both LF and CRLF
// blank-line delimiters.
func nextFrame(buf []byte) (frame, rest []byte, ok bool) {
	iCRLF := bytes.Index(buf, crlfDelim)
	iLF := bytes.Index(buf, lfDelim)
	switch {
	case iCRLF >= 0 && (iLF < 0 || iCRLF < iLF):
		return buf[:iCRLF], buf[iCRLF+len(crlfDelim):], true
	case iLF >= 0:
		return buf[:iLF], buf[iLF+len(lfDelim):], true
	}
	return nil, nil, false
}

// unwrapFrame extracts the payload from one frame. Frames carrying data:
// lines have those payloads joined with \n; frames without any data: line are
// used whole (some upstreams omit the prefix). Comment-only or empty frames
// yield nothing.
func unwrapFrame(frame []byte) ([]byte, bool) {
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) == 0 {
		return nil, false
	}
	if !bytes.Contains(trimmed, []byte(DataPrefix)) {
		if trimmed[0] == ':' {
			return nil, false
		}
		return trimmed, true
	}

	var dataLines [][]byte
	for _, line := range bytes.Split(trimmed, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if !bytes.HasPrefix(line, []byte(DataPrefix)) {
			continue
		}
		payload := bytes.TrimSpace(bytes.TrimPrefix(line, []byte(DataPrefix)))
		if len(payload) == 0 {
			continue
		}
		dataLines = append(dataLines, payload)
	}
	if len(dataLines) == 0 {
		return nil, false
	}
	return bytes.Join(dataLines, []byte("\n")), true
}

// Scanner reads frames lazily from an io.Reader. Next blocks until a full
// frame is available or the connection ends.
type Scanner struct {
	r   io.Reader
	dec *Decoder
	// queued holds payloads decoded ahead of the consumer.
	queued  [][]byte
	readBuf []byte
	eof     bool
}

// NewScanner wraps r for frame-at-a-time reading.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{r: r, dec: NewDecoder(), readBuf: make([]byte, 4096)}
}

// Next returns the next frame payload. io.EOF signals a clean end of the
// sequence (sentinel seen or connection closed); any other error is a
// transport failure.
func (s *Scanner) Next() ([]byte, error) {
	for {
		if len(s.queued) > 0 {
			payload := s.queued[0]
			s.queued = s.queued[1:]
			return payload, nil
		}
		if s.dec.Done() || s.eof {
			return nil, io.EOF
		}

		n, err := s.r.Read(s.readBuf)
		if n > 0 {
			s.queued = append(s.queued, s.dec.Feed(s.readBuf[:n])...)
		}
		if err != nil {
			if err != io.EOF {
				return nil, err
			}
			s.eof = true
			if tail := s.dec.Flush(); tail != nil {
				s.queued = append(s.queued, tail)
			}
		}
	}
}
