// Package vterm implements the miniature terminal behind each log
// window: a cell grid with cursor, wraparound and scrolling, plus an
// interpreter for the subset of ECMA-48 control sequences that build
// tools emit (SGR attributes, cursor motion, bell).
//
// The grid renders to styled strings, so everything here runs headless;
// only the UI layer ever touches a real terminal.
package vterm

// Attr is a display attribute bitmask mirroring the SGR codes the
// interpreter understands.
type Attr uint8

const (
	AttrBold Attr = 1 << iota
	AttrDim
	AttrUnderline
	AttrBlink
	AttrReverse
)

// DefaultColor marks the terminal's own foreground or background.
const DefaultColor int8 = -1

// Style is the rendering state applied to written cells.
type Style struct {
	Attr   Attr
	Fg, Bg int8 // DefaultColor or ANSI 0..7
}

// Cell is one character position on the grid. A zero Rune renders as a
// blank.
type Cell struct {
	Rune  rune
	Style Style
}

// Term is one embedded terminal region.
type Term struct {
	rows, cols int
	cells      [][]Cell
	row, col   int

	style  Style
	fg, bg int8 // requested colors before pair-cache resolution

	pairs   *PairCache
	strict  bool
	bell    func()
	pending []byte // trailing incomplete escape sequence
}

// Option configures a Term.
type Option func(*Term)

// WithBell installs the callback invoked for each BEL character.
func WithBell(fn func()) Option {
	return func(t *Term) { t.bell = fn }
}

// WithStrict makes unsupported sequences and pair-cache exhaustion
// errors instead of best-effort no-ops.
func WithStrict() Option {
	return func(t *Term) { t.strict = true }
}

// New creates an empty rows×cols terminal in the default state. The
// pair cache may be shared across terminals; nil means colors are not
// budgeted at all.
func New(rows, cols int, pairs *PairCache, opts ...Option) *Term {
	if rows < 1 {
		rows = 1
	}
	if cols < 1 {
		cols = 1
	}
	t := &Term{
		rows:  rows,
		cols:  cols,
		cells: blankGrid(rows, cols),
		style: Style{Fg: DefaultColor, Bg: DefaultColor},
		fg:    DefaultColor,
		bg:    DefaultColor,
		pairs: pairs,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func blankGrid(rows, cols int) [][]Cell {
	cells := make([][]Cell, rows)
	for i := range cells {
		cells[i] = make([]Cell, cols)
	}
	return cells
}

// Size returns the grid dimensions.
func (t *Term) Size() (rows, cols int) { return t.rows, t.cols }

// Cursor returns the current cursor position.
func (t *Term) Cursor() (row, col int) { return t.row, t.col }

// CurrentStyle returns the active rendering state.
func (t *Term) CurrentStyle() Style { return t.style }

// CellAt returns the cell at (row, col); out-of-range positions return
// a blank cell.
func (t *Term) CellAt(row, col int) Cell {
	if row < 0 || row >= t.rows || col < 0 || col >= t.cols {
		return Cell{}
	}
	return t.cells[row][col]
}

// writeRune puts one printable rune at the cursor and advances it,
// wrapping at the right edge and scrolling off the top when the last
// row overflows.
func (t *Term) writeRune(r rune) {
	t.cells[t.row][t.col] = Cell{Rune: r, Style: t.style}
	t.col++
	if t.col >= t.cols {
		t.col = 0
		t.lineFeed()
	}
}

func (t *Term) lineFeed() {
	t.row++
	if t.row >= t.rows {
		t.scroll()
		t.row = t.rows - 1
	}
}

func (t *Term) scroll() {
	copy(t.cells, t.cells[1:])
	t.cells[t.rows-1] = make([]Cell, t.cols)
}

// moveTo clamps the target to the grid. Out-of-range motion never wraps
// or scrolls.
func (t *Term) moveTo(row, col int) {
	if row < 0 {
		row = 0
	} else if row >= t.rows {
		row = t.rows - 1
	}
	if col < 0 {
		col = 0
	} else if col >= t.cols {
		col = t.cols - 1
	}
	t.row, t.col = row, col
}
