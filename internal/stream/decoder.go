// Package stream decodes newline-delimited JSON generation streams.
package stream

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"taskdealer/internal/logging"
)

// StreamError is an error reported inside the stream by the backend.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return "generation error: " + e.Message
}

// Decoder reassembles a generation stream written in arbitrary chunks.
// It is an io.Writer; call Close once the body is exhausted to flush a final
// line without a trailing newline.
type Decoder struct {
	mu       sync.Mutex
	partial  []byte
	raw      strings.Builder
	think    ThinkFilter
	done     bool
	errMsg   string
	lines    int
	skipped  int
	onUpdate func(visible string)
}

// NewDecoder returns a Decoder. onUpdate, if non-nil, is called after every
// write that added response text, with the think-suppressed text so far.
func NewDecoder(onUpdate func(visible string)) *Decoder {
	return &Decoder{onUpdate: onUpdate}
}

// Write consumes the next chunk of the body.
func (d *Decoder) Write(p []byte) (int, error) {
	d.mu.Lock()
	d.partial = append(d.partial, p...)
	grew := false
	for {
		i := bytes.IndexByte(d.partial, '\n')
		if i < 0 {
			break
		}
		if d.handleLine(d.partial[:i]) {
			grew = true
		}
		d.partial = d.partial[i+1:]
	}
	// drop the consumed prefix so the buffer doesn't pin old chunks
	d.partial = append([]byte(nil), d.partial...)
	visible := d.think.Visible()
	d.mu.Unlock()

	if grew && d.onUpdate != nil {
		d.onUpdate(visible)
	}
	return len(p), nil
}

// Close flushes a trailing unterminated line.
func (d *Decoder) Close() error {
	d.mu.Lock()
	grew := false
	if len(d.partial) > 0 {
		grew = d.handleLine(d.partial)
		d.partial = nil
	}
	visible := d.think.Visible()
	d.mu.Unlock()

	if grew && d.onUpdate != nil {
		d.onUpdate(visible)
	}
	return nil
}

func (d *Decoder) handleLine(line []byte) bool {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return false
	}
	d.lines++
	if !gjson.ValidBytes(line) {
		d.skipped++
		logging.StreamDebug("Skipping malformed stream line (%d bytes)", len(line))
		return false
	}

	grew := false
	if resp := gjson.GetBytes(line, "response"); resp.Type == gjson.String {
		d.raw.WriteString(resp.Str)
		d.think.Write(resp.Str)
		grew = resp.Str != ""
	}
	if gjson.GetBytes(line, "done").Bool() {
		d.done = true
	}
	if e := gjson.GetBytes(line, "error"); e.Type == gjson.String && e.Str != "" {
		d.errMsg = e.Str
	}
	return grew
}

// Raw returns every response fragment concatenated, think regions included.
func (d *Decoder) Raw() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.raw.String()
}

// Visible returns the live think-suppressed text.
func (d *Decoder) Visible() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.think.Visible()
}

// Text returns the final cleaned text: think regions removed, trimmed.
func (d *Decoder) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return strings.TrimSpace(d.think.Finish())
}

// Done reports whether a line with "done": true was seen.
func (d *Decoder) Done() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done
}

// Err returns a *StreamError if the backend reported one in-stream.
func (d *Decoder) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.errMsg == "" {
		return nil
	}
	return &StreamError{Message: d.errMsg}
}

// Stats returns the number of non-blank lines seen and how many were skipped.
func (d *Decoder) Stats() (lines, skipped int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lines, d.skipped
}

// Decode reads r to EOF and returns the cleaned text.
func Decode(r io.Reader, onUpdate func(visible string)) (string, error) {
	d := NewDecoder(onUpdate)
	if _, err := io.Copy(d, r); err != nil {
		return "", fmt.Errorf("stream aborted: %w", err)
	}
	if err := d.Close(); err != nil {
		return "", err
	}
	if err := d.Err(); err != nil {
		return "", err
	}
	lines, skipped := d.Stats()
	logging.StreamDebug("Decoded stream: %d lines, %d skipped, done=%v", lines, skipped, d.Done())
	return d.Text(), nil
}
