// Package jsonstream reveals string fields of a JSON document while it is
// still being generated, and parses the finished model envelope.
package jsonstream

import (
	"strings"
	"unicode/utf8"
)

// DefaultPaths are the envelope fields whose text is streamed to the client.
var DefaultPaths = []string{"response", "response.mainContent"}

// Reveal is newly decoded text of a watched string field.
type Reveal struct {
	Path string
	Text string
}

type frameKind uint8

const (
	frameObject frameKind = iota
	frameArray
)

type frame struct {
	kind      frameKind
	key       string
	expectKey bool
}

type lexState uint8

const (
	stOutside lexState = iota // before the top-level object
	stValue                   // between tokens inside the document
	stString
	stEscape
	stUnicode
	stDone
)

// Scanner is an incremental JSON tokenizer. It is not safe for concurrent use.
type Scanner struct {
	watch map[string]bool

	stack []frame
	state lexState

	// current string
	isKey   bool
	capture string // watched path of the current value string, "" when not watched
	keyBuf  strings.Builder
	hex     [4]byte
	hexN    int
	high    rune // pending high surrogate

	out     []reveal
	pending []byte // incomplete utf-8 tail of the last reveal
}

// reveal accumulates raw bytes until Feed returns.
type reveal struct {
	path string
	text []byte
}

func NewScanner(paths ...string) *Scanner {
	if len(paths) == 0 {
		paths = DefaultPaths
	}
	w := make(map[string]bool, len(paths))
	for _, p := range paths {
		w[p] = true
	}
	return &Scanner{watch: w}
}

// Done reports whether the top-level object has been closed.
func (s *Scanner) Done() bool { return s.state == stDone }

// Feed consumes the next chunk and returns text revealed by it, coalesced per
// field. Text outside the top-level object (code fences, prose) is ignored.
func (s *Scanner) Feed(chunk string) []Reveal {
	s.out = s.out[:0]
	for i := 0; i < len(chunk); i++ {
		s.step(chunk[i])
	}
	s.holdIncompleteTail()
	if len(s.out) == 0 {
		return nil
	}
	res := make([]Reveal, len(s.out))
	for i, r := range s.out {
		res[i] = Reveal{Path: r.path, Text: string(r.text)}
	}
	return res
}

func (s *Scanner) step(c byte) {
	switch s.state {
	case stDone:
		return
	case stOutside:
		if c == '{' {
			s.stack = append(s.stack, frame{kind: frameObject, expectKey: true})
			s.state = stValue
		}
	case stValue:
		s.structural(c)
	case stString:
		switch c {
		case '\\':
			s.state = stEscape
		case '"':
			s.endString()
		default:
			s.flushHigh()
			s.emitByte(c)
		}
	case stEscape:
		s.state = stString
		switch c {
		case 'n':
			s.emitRune('\n')
		case 't':
			s.emitRune('\t')
		case 'r':
			s.emitRune('\r')
		case 'b':
			s.emitRune('\b')
		case 'f':
			s.emitRune('\f')
		case 'u':
			s.state = stUnicode
			s.hexN = 0
		default:
			// \" \\ \/ and anything unknown decode to the character itself.
			s.emitRune(rune(c))
		}
	case stUnicode:
		s.hex[s.hexN] = c
		s.hexN++
		if s.hexN < 4 {
			return
		}
		s.state = stString
		r, ok := parseHex4(s.hex)
		if !ok {
			s.emitRune(utf8.RuneError)
			return
		}
		s.unicodeRune(r)
	}
}

func (s *Scanner) structural(c byte) {
	top := &s.stack[len(s.stack)-1]
	switch c {
	case '{':
		s.stack = append(s.stack, frame{kind: frameObject, expectKey: true})
	case '[':
		s.stack = append(s.stack, frame{kind: frameArray})
	case '}', ']':
		s.stack = s.stack[:len(s.stack)-1]
		if len(s.stack) == 0 {
			s.state = stDone
		}
	case ',':
		if top.kind == frameObject {
			top.expectKey = true
			top.key = ""
		}
	case '"':
		s.state = stString
		s.high = 0
		if top.kind == frameObject && top.expectKey {
			s.isKey = true
			s.keyBuf.Reset()
			s.capture = ""
			return
		}
		s.isKey = false
		if p := s.path(); s.watch[p] {
			s.capture = p
		} else {
			s.capture = ""
		}
	}
}

func (s *Scanner) endString() {
	s.flushHigh()
	s.state = stValue
	if s.isKey {
		top := &s.stack[len(s.stack)-1]
		top.key = s.keyBuf.String()
		top.expectKey = false
		s.isKey = false
		return
	}
	s.capture = ""
}

// path joins the object keys leading to the current value. Array levels are
// written as "[]".
func (s *Scanner) path() string {
	var b strings.Builder
	for i, f := range s.stack {
		if i > 0 {
			b.WriteByte('.')
		}
		if f.kind == frameArray {
			b.WriteString("[]")
			continue
		}
		b.WriteString(f.key)
	}
	return b.String()
}

func (s *Scanner) unicodeRune(r rune) {
	switch {
	case r >= 0xD800 && r <= 0xDBFF:
		s.flushHigh()
		s.high = r
	case r >= 0xDC00 && r <= 0xDFFF:
		if s.high == 0 {
			s.emitRune(utf8.RuneError)
			return
		}
		combined := (s.high-0xD800)<<10 + (r - 0xDC00) + 0x10000
		s.high = 0
		s.emitRune(combined)
	default:
		s.flushHigh()
		s.emitRune(r)
	}
}

// flushHigh replaces an unpaired high surrogate.
func (s *Scanner) flushHigh() {
	if s.high != 0 {
		s.high = 0
		s.emitRune(utf8.RuneError)
	}
}

func (s *Scanner) emitRune(r rune) {
	if r != utf8.RuneError {
		s.flushHigh()
	}
	var buf [utf8.UTFMax]byte
	n := utf8.EncodeRune(buf[:], r)
	for _, b := range buf[:n] {
		s.emitByte(b)
	}
}

func (s *Scanner) emitByte(b byte) {
	if s.isKey {
		s.keyBuf.WriteByte(b)
		return
	}
	if s.capture == "" {
		return
	}
	if n := len(s.out); n > 0 && s.out[n-1].path == s.capture {
		s.out[n-1].text = append(s.out[n-1].text, b)
		return
	}
	text := make([]byte, 0, len(s.pending)+1)
	text = append(append(text, s.pending...), b)
	s.pending = s.pending[:0]
	s.out = append(s.out, reveal{path: s.capture, text: text})
}

// holdIncompleteTail keeps a multi-byte character split across chunks out
// of the current reveal.
func (s *Scanner) holdIncompleteTail() {
	n := len(s.out)
	if n == 0 {
		return
	}
	text := s.out[n-1].text
	cut := len(text)
	for i := len(text) - 1; i >= 0 && i >= len(text)-utf8.UTFMax; i-- {
		if utf8.RuneStart(text[i]) {
			if !utf8.FullRune(text[i:]) {
				cut = i
			}
			break
		}
	}
	if cut == len(text) {
		return
	}
	s.pending = append(s.pending[:0], text[cut:]...)
	if cut == 0 {
		s.out = s.out[:n-1]
		return
	}
	s.out[n-1].text = text[:cut]
}

func parseHex4(h [4]byte) (rune, bool) {
	var r rune
	for _, c := range h {
		r <<= 4
		switch {
		case c >= '0' && c <= '9':
			r |= rune(c - '0')
		case c >= 'a' && c <= 'f':
			r |= rune(c-'a') + 10
		case c >= 'A' && c <= 'F':
			r |= rune(c-'A') + 10
		default:
			return 0, false
		}
	}
	return r, true
}
