package ui

// minRegionRows is the smallest useful window: one title row plus three
// content rows.
const minRegionRows = 4

// Region is one window's band of the screen: Rows content rows starting
// at Top, with a title bar directly underneath.
type Region struct {
	Top  int
	Rows int // content rows, excluding the title bar
}

// Height is the total rows the region occupies.
func (r Region) Height() int { return r.Rows + 1 }

// Layout assigns screen bands to count visible windows on a totalRows
// screen. One row is always reserved for the status bar. Windows share
// the rest evenly; when the even share drops under four rows, fewer
// windows are shown instead of shrinking further, and remainder rows go
// to the earliest-discovered windows. Windows beyond the returned
// regions do not fit and stay hidden.
func Layout(totalRows, count int) []Region {
	avail := totalRows - 1
	if count <= 0 || avail < minRegionRows {
		return nil
	}

	share := avail / count
	if share < minRegionRows {
		share = minRegionRows
		count = avail / minRegionRows
	}
	rem := avail % count

	regions := make([]Region, count)
	top := 0
	for i := range regions {
		h := share
		if rem > 0 {
			h++
			rem--
		}
		regions[i] = Region{Top: top, Rows: h - 1}
		top += h
	}
	return regions
}
