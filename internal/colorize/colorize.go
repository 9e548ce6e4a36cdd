// Package colorize turns a chunked terminal byte stream into styled text
// segments. Only the 8 basic SGR foreground colors, bold and reset are
// understood; every other escape sequence is consumed without effect.
//
// Parser state lives in an explicit State value threaded through Feed, so
// splitting the input at arbitrary points (inside an escape sequence or a
// multi-byte character) yields the same styled text as one big chunk.
package colorize

import (
	"errors"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	esc      = 0x1b
	csiOpen  = '['
	sgrFinal = 'm'
	maxParam = 1000
)

// Segment is a run of text in a single style.
type Segment struct {
	Text  string `json:"text"`
	Bold  bool   `json:"bold"`
	Color int    `json:"color"`
}

// Foreground is the palette color the segment is displayed with.
func (s Segment) Foreground() string {
	return Resolve(s.Bold, s.Color)
}

func (s Segment) sameStyle(o Segment) bool {
	return s.Bold == o.Bold && s.Color == o.Color
}

// Feed consumes one chunk and returns the state for the next call together
// with the segments completed by this chunk. Bytes of an unfinished escape
// sequence or character are kept in the returned state, never emitted.
func Feed(st State, chunk []byte) (State, []Segment) {
	input := chunk
	if len(st.Pending) > 0 {
		input = make([]byte, 0, len(st.Pending)+len(chunk))
		input = append(input, st.Pending...)
		input = append(input, chunk...)
		st.Pending = nil
	}

	var out []Segment
	start := 0
	for i := 0; i < len(input); {
		if input[i] != esc {
			i++
			continue
		}
		st, out = appendText(st, out, input[start:i], true)
		seq, ok := scanSequence(input[i:])
		if !ok {
			st.Pending = carry(input[i:], seq)
			return st, out
		}
		st = st.apply(seq)
		i += seq.length
		start = i
	}
	st, out = appendText(st, out, input[start:], false)
	return st, out
}

// Flush ends a session: an unfinished escape sequence is dropped and an
// incomplete trailing character is emitted as U+FFFD.
func Flush(st State) (State, []Segment) {
	st.Pending = nil
	if len(st.PendingText) == 0 {
		return st, nil
	}
	return appendText(st, nil, nil, true)
}

// Merge joins neighbouring segments that share a style.
func Merge(segs []Segment) []Segment {
	out := make([]Segment, 0, len(segs))
	for _, seg := range segs {
		if seg.Text == "" {
			continue
		}
		if n := len(out); n > 0 && out[n-1].sameStyle(seg) {
			out[n-1].Text += seg.Text
			continue
		}
		out = append(out, seg)
	}
	return out
}

// Text concatenates the text of all segments.
func Text(segs []Segment) string {
	var sb strings.Builder
	for _, seg := range segs {
		sb.WriteString(seg.Text)
	}
	return sb.String()
}

type sequence struct {
	length int
	param  int
	final  byte
	plain  bool
}

// scanSequence reads the escape sequence at the start of b. It reports
// false while the sequence may still be completed by more input; the
// returned sequence then holds what was read so far.
func scanSequence(b []byte) (sequence, bool) {
	if len(b) < 2 {
		return sequence{}, false
	}
	if b[1] == esc {
		return sequence{length: 1}, true
	}
	if b[1] != csiOpen {
		return sequence{length: 2}, true
	}
	seq := sequence{plain: true}
	for i := 2; i < len(b); i++ {
		c := b[i]
		switch {
		case c >= '0' && c <= '9':
			if seq.param < maxParam {
				seq.param = seq.param*10 + int(c-'0')
			}
		case c >= 0x20 && c <= 0x3f:
			// ';' and friends: multi-parameter forms are swallowed whole.
			seq.plain = false
		default:
			seq.final = c
			seq.length = i + 1
			return seq, true
		}
	}
	return seq, false
}

// carry returns the bytes of an unfinished sequence to keep for the next
// chunk. A control sequence longer than maxPending is rewritten to ESC [
// followed by what it has accumulated, which scans to the same result.
func carry(rest []byte, seq sequence) []byte {
	if len(rest) <= maxPending {
		return append([]byte(nil), rest...)
	}
	out := []byte{esc, csiOpen}
	if !seq.plain {
		out = append(out, ';')
	}
	return strconv.AppendInt(out, int64(seq.param), 10)
}

func (s State) apply(seq sequence) State {
	if seq.final != sgrFinal || !seq.plain {
		return s
	}
	switch p := seq.param; {
	case p == 0:
		return s.reset()
	case p == 1:
		s.Bold = true
	case p >= 30 && p <= 37:
		s.Color = p - 30
	}
	return s
}

func appendText(st State, out []Segment, raw []byte, final bool) (State, []Segment) {
	if len(raw) == 0 && len(st.PendingText) == 0 {
		return st, out
	}
	src := raw
	if len(st.PendingText) > 0 {
		src = make([]byte, 0, len(st.PendingText)+len(raw))
		src = append(src, st.PendingText...)
		src = append(src, raw...)
	}
	text, rest := decode(st.Charset, src, final)
	st.PendingText = nil
	if len(rest) > 0 {
		st.PendingText = append([]byte(nil), rest...)
	}
	if text != "" {
		out = append(out, Segment{Text: text, Bold: st.Bold, Color: st.Color})
	}
	return st, out
}

// decode converts src to UTF-8 and returns the undecoded tail when the
// input ends inside a character and final is false.
func decode(charset string, src []byte, final bool) (string, []byte) {
	dec := encodingFor(charset).NewDecoder()
	var sb strings.Builder
	dst := make([]byte, 2*len(src)+utf8.UTFMax)
	for len(src) > 0 {
		nDst, nSrc, err := dec.Transform(dst, src, final)
		sb.Write(dst[:nDst])
		src = src[nSrc:]
		switch {
		case err == nil:
			return sb.String(), nil
		case errors.Is(err, transform.ErrShortDst):
			if nDst == 0 && nSrc == 0 {
				dst = make([]byte, 2*len(dst))
			}
		case errors.Is(err, transform.ErrShortSrc):
			if !final {
				return sb.String(), src
			}
			sb.WriteRune(utf8.RuneError)
			return sb.String(), nil
		default:
			sb.WriteRune(utf8.RuneError)
			src = src[1:]
		}
	}
	return sb.String(), nil
}

func encodingFor(charset string) encoding.Encoding {
	name := strings.TrimSpace(charset)
	if name == "" {
		return unicode.UTF8
	}
	enc, err := htmlindex.Get(name)
	if err != nil || enc == nil {
		return unicode.UTF8
	}
	return enc
}
