package vterm

import (
	"fmt"
	"unicode/utf8"
)

const (
	esc  = 0x1b
	bell = 0x07

	// A CSI sequence split across more pulls than this is garbage, not
	// a sequence; the buffered prefix is flushed as literal text.
	maxPending = 64
)

// Feed interprets a chunk of log output. Literal runs are written at
// the cursor, control sequences update the cursor/attribute state. A
// trailing incomplete escape sequence is buffered until the next Feed.
//
// In strict mode the first unsupported sequence aborts with an error;
// otherwise unknown input is skipped.
func (t *Term) Feed(chunk string) error {
	data := chunk
	if len(t.pending) > 0 {
		data = string(t.pending) + chunk
		t.pending = t.pending[:0]
	}

	for len(data) > 0 {
		i := 0
		for i < len(data) && data[i] != esc && data[i] != bell {
			i++
		}
		t.writeText(data[:i])
		if i == len(data) {
			return nil
		}

		if data[i] == bell {
			if t.bell != nil {
				t.bell()
			}
			data = data[i+1:]
			continue
		}

		seq, rest, complete := scanCSI(data[i:])
		if !complete {
			if len(seq) <= maxPending {
				t.pending = append(t.pending, seq...)
				return nil
			}
			// Hopeless prefix; emit it as text and move on.
			t.writeText(seq)
			data = rest
			continue
		}
		if seq == "" {
			// ESC not introducing a CSI sequence: pass it through
			// like any other control character.
			t.writeText(rest[:1])
			data = rest[1:]
			continue
		}
		if err := t.applyCSI(seq); err != nil {
			return err
		}
		data = rest
	}
	return nil
}

// scanCSI scans a CSI sequence at the start of data (data[0] is ESC).
// It returns the full sequence and the remainder. complete=false means
// data ended mid-sequence and seq holds the prefix to buffer. An empty
// seq with complete=true means data[0] does not start a CSI sequence.
func scanCSI(data string) (seq, rest string, complete bool) {
	if len(data) == 1 {
		return data, "", false
	}
	if data[1] != '[' {
		return "", data, true
	}
	for i := 2; i < len(data); i++ {
		c := data[i]
		switch {
		case c >= '0' && c <= '9' || c == ';':
			continue
		case c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '@' || c == '`':
			return data[:i+1], data[i+1:], true
		default:
			// Malformed: not a sequence after all.
			return "", data, true
		}
	}
	return data, "", false
}

// applyCSI dispatches one complete sequence ("\x1b[...X").
func (t *Term) applyCSI(seq string) error {
	final := seq[len(seq)-1]
	params := splitParams(seq[2 : len(seq)-1])

	switch {
	case final == 'm':
		return t.applySGR(params)
	case final >= 'A' && final <= 'H':
		t.applyCursor(final, params)
		return nil
	}
	if t.strict {
		return fmt.Errorf("unsupported control sequence %q", seq)
	}
	return nil
}

// splitParams parses the semicolon-separated numeric parameters; empty
// parameters read as 0.
func splitParams(s string) []int {
	params := []int{}
	n := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ';' {
			params = append(params, n)
			n = 0
			continue
		}
		n = n*10 + int(s[i]-'0')
	}
	return params
}

var attrTable = map[int]Attr{
	1: AttrBold,
	2: AttrDim,
	4: AttrUnderline,
	5: AttrBlink,
	7: AttrReverse,
}

func (t *Term) applySGR(params []int) error {
	for _, p := range params {
		switch {
		case p == 0:
			t.style.Attr = 0
			t.fg, t.bg = DefaultColor, DefaultColor
		case attrTable[p] != 0:
			t.style.Attr |= attrTable[p]
		case p == 21 || p == 22:
			t.style.Attr &^= AttrBold | AttrDim
		case p == 24 || p == 25 || p == 27:
			t.style.Attr &^= attrTable[p-20]
		case p >= 30 && p <= 37:
			t.fg = int8(p - 30)
		case p == 38:
			// Nonstandard: the targeted log producers never emit
			// extended-color introducers, and the behavior here is
			// underline plus default foreground.
			t.style.Attr |= AttrUnderline
			t.fg = DefaultColor
		case p == 39:
			t.style.Attr &^= AttrUnderline
			t.fg = DefaultColor
		case p >= 40 && p <= 47:
			t.bg = int8(p - 40)
		case p == 49:
			t.bg = DefaultColor
		default:
			if t.strict {
				return fmt.Errorf("unsupported SGR code %d", p)
			}
		}
	}

	fg, bg, err := t.pairs.Resolve(t.fg, t.bg)
	if err != nil {
		if t.strict {
			return err
		}
		fg, bg = DefaultColor, DefaultColor
	}
	t.style.Fg, t.style.Bg = fg, bg
	return nil
}

func (t *Term) applyCursor(final byte, params []int) {
	arg := 1
	if len(params) > 0 && params[0] > 0 {
		arg = params[0]
	}
	row, col := t.row, t.col

	switch final {
	case 'A':
		row -= arg
	case 'B':
		row += arg
	case 'C':
		col += arg
	case 'D':
		col -= arg
	case 'E':
		row += arg
		col = 0
	case 'F':
		row -= arg
		col = 0
	case 'G':
		col = arg - 1
	case 'H':
		row = arg - 1
		col = 0
		if len(params) > 1 && params[1] > 0 {
			col = params[1] - 1
		}
	}
	t.moveTo(row, col)
}

// writeText writes a literal run. Invalid UTF-8 is replaced, never
// fatal. Newline, carriage return and tab keep their cursor meaning;
// other control characters are dropped.
func (t *Term) writeText(s string) {
	for _, r := range s {
		switch {
		case r == '\n':
			t.col = 0
			t.lineFeed()
		case r == '\r':
			t.col = 0
		case r == '\t':
			next := (t.col/8 + 1) * 8
			for t.col < next && t.col < t.cols-1 {
				t.col++
			}
		case r == utf8.RuneError:
			t.writeRune('�')
		case r < 0x20 || r == 0x7f:
			// other controls ignored
		default:
			t.writeRune(r)
		}
	}
}
