package stream

import "strings"

const (
	thinkStart = "<think>"
	thinkEnd   = "</think>"
)

// ThinkFilter suppresses <think>...</think> regions from text that arrives
// in pieces. Markers are matched case-insensitively and may be split across
// writes. Inside a region only the end marker is recognised, so a nested
// start marker is plain content and the first end marker closes the region.
type ThinkFilter struct {
	visible strings.Builder
	region  strings.Builder // raw text of the open region, start marker included
	pending string          // tail that may be the beginning of a marker
	inside  bool
}

// Write feeds the next piece of text.
func (f *ThinkFilter) Write(s string) {
	data := f.pending + s
	f.pending = ""

	for len(data) > 0 {
		marker := thinkStart
		if f.inside {
			marker = thinkEnd
		}

		if idx := indexFold(data, marker); idx >= 0 {
			if f.inside {
				f.region.Reset()
				f.inside = false
			} else {
				f.visible.WriteString(data[:idx])
				f.region.Reset()
				f.region.WriteString(data[idx : idx+len(marker)])
				f.inside = true
			}
			data = data[idx+len(marker):]
			continue
		}

		keep := partialSuffix(data, marker)
		emit := data[:len(data)-keep]
		if f.inside {
			f.region.WriteString(emit)
		} else {
			f.visible.WriteString(emit)
		}
		f.pending = data[len(data)-keep:]
		break
	}
}

// Visible returns the text known to be outside any think region so far.
func (f *ThinkFilter) Visible() string {
	return f.visible.String()
}

// Inside reports whether an unterminated region is open.
func (f *ThinkFilter) Inside() bool {
	return f.inside
}

// Finish returns the final text. Closed regions are removed; an unterminated
// region is put back verbatim. Finish does not change the filter.
func (f *ThinkFilter) Finish() string {
	var b strings.Builder
	b.WriteString(f.visible.String())
	if f.inside {
		b.WriteString(f.region.String())
	}
	b.WriteString(f.pending)
	return b.String()
}

// StripThink removes well-formed think regions from s.
func StripThink(s string) string {
	var f ThinkFilter
	f.Write(s)
	return f.Finish()
}

// indexFold is strings.Index with ASCII case folding. Markers are ASCII, so
// byte offsets in s stay valid.
func indexFold(s, marker string) int {
	n := len(marker)
	for i := 0; i+n <= len(s); i++ {
		if equalFoldASCII(s[i:i+n], marker) {
			return i
		}
	}
	return -1
}

// partialSuffix returns the length of the longest proper suffix of s that is
// a prefix of marker.
func partialSuffix(s, marker string) int {
	longest := min(len(s), len(marker)-1)
	for k := longest; k > 0; k-- {
		if equalFoldASCII(s[len(s)-k:], marker[:k]) {
			return k
		}
	}
	return 0
}

func equalFoldASCII(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
