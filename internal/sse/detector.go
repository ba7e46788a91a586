package sse

import "bytes"

// DefaultMaxLineBytes bounds how much of an unterminated line Detector keeps.
const DefaultMaxLineBytes = 1 << 20

// Detector feeds a byte stream to DetectRateLimit one complete line at a time,
// holding back a trailing partial line until the rest of it arrives.
// It implements io.Writer so it can sit behind an io.TeeReader.
// A Detector is not safe for concurrent use.
type Detector struct {
	// MaxLineBytes caps the held partial line; 0 means DefaultMaxLineBytes.
	// An oversized line is scanned as is and dropped.
	MaxLineBytes int

	partial  []byte
	detected bool
	cleared  bool
	scanned  int64
}

// Write scans every line completed by p. It never returns an error.
func (d *Detector) Write(p []byte) (int, error) {
	d.scanned += int64(len(p))
	if d.detected {
		return len(p), nil
	}

	d.partial = append(d.partial, p...)
	if i := bytes.LastIndexByte(d.partial, '\n'); i >= 0 {
		d.scan(string(d.partial[:i+1]))
		rest := copy(d.partial, d.partial[i+1:])
		d.partial = d.partial[:rest]
	}

	if len(d.partial) > d.maxLine() {
		d.scan(string(d.partial))
		d.partial = d.partial[:0]
	}
	if d.detected {
		d.partial = nil
	}
	return len(p), nil
}

// Flush scans whatever partial line is left, for use once the stream ended.
func (d *Detector) Flush() bool {
	if !d.detected && len(d.partial) > 0 {
		d.scan(string(d.partial))
	}
	d.partial = d.partial[:0]
	return d.detected
}

// Detected reports whether a rate-limit line has been seen.
func (d *Detector) Detected() bool { return d.detected }

// Cleared reports whether a complete data line with ordinary text, such as a
// content delta, was scanned before any rate limit. A provider that fails a
// call with a rate limit sends it ahead of any generated text.
func (d *Detector) Cleared() bool { return d.cleared && !d.detected }

// Scanned returns the number of bytes written so far.
func (d *Detector) Scanned() int64 { return d.scanned }

// Reset clears all state so the detector can inspect a new stream.
func (d *Detector) Reset() {
	d.partial = d.partial[:0]
	d.detected = false
	d.cleared = false
	d.scanned = 0
}

func (d *Detector) scan(lines string) {
	limited, text := scanLines(lines)
	if text {
		d.cleared = true
	}
	if limited {
		d.detected = true
	}
}

func (d *Detector) maxLine() int {
	if d.MaxLineBytes > 0 {
		return d.MaxLineBytes
	}
	return DefaultMaxLineBytes
}
