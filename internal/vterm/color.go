package vterm

import "fmt"

// PairCache budgets (foreground, background) combinations against the
// terminal's color-pair capacity, the way curses-style terminals
// allocate palette slots. One cache is shared by every window so the
// budget is global. The zero pair (default, default) is preallocated.
type PairCache struct {
	slots map[[2]int8]int
	limit int
}

// NewPairCache returns a cache holding at most limit pairs. Limits
// below 1 are raised to 1 so the default pair always fits.
func NewPairCache(limit int) *PairCache {
	if limit < 1 {
		limit = 1
	}
	return &PairCache{
		slots: map[[2]int8]int{{DefaultColor, DefaultColor}: 0},
		limit: limit,
	}
}

// Resolve returns the colors to render for the requested combination.
// A combination beyond the budget returns an error; permissive callers
// substitute the default pair.
func (c *PairCache) Resolve(fg, bg int8) (int8, int8, error) {
	if c == nil {
		return fg, bg, nil
	}
	key := [2]int8{fg, bg}
	if _, ok := c.slots[key]; ok {
		return fg, bg, nil
	}
	if len(c.slots) >= c.limit {
		return DefaultColor, DefaultColor, fmt.Errorf("color pairs exhausted (%d), no slot for (%d, %d)", c.limit, fg, bg)
	}
	c.slots[key] = len(c.slots)
	return fg, bg, nil
}

// Len reports the number of allocated pairs.
func (c *PairCache) Len() int {
	if c == nil {
		return 0
	}
	return len(c.slots)
}
