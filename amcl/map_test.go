package amcl

import (
	"math"
	"testing"
)

// emptyGrid returns an all-free grid message of the given size.
func emptyGrid(w, h int, resolution float64) *OccupancyGridMsg {
	return &OccupancyGridMsg{
		Width:      w,
		Height:     h,
		Resolution: resolution,
		OriginX:    -float64(w) * resolution / 2,
		OriginY:    -float64(h) * resolution / 2,
		Data:       make([]int8, w*h),
	}
}

// corridorGrid returns a grid that is free except for an occupied column at
// cell x = wallX.
func corridorGrid(w, h, wallX int, resolution float64) *OccupancyGridMsg {
	g := emptyGrid(w, h, resolution)
	for j := 0; j < h; j++ {
		g.Data[wallX+j*w] = 100
	}
	return g
}

func TestNewMapFromGrid_States(t *testing.T) {
	g := emptyGrid(4, 4, 0.5)
	g.Data[0] = 100 // occupied
	g.Data[1] = 50  // unknown
	m := NewMapFromGrid(g)

	if m.Cells[0].OccState != OccOccupied {
		t.Errorf("cell 0 state = %d, want occupied", m.Cells[0].OccState)
	}
	if m.Cells[1].OccState != OccUnknown {
		t.Errorf("cell 1 state = %d, want unknown", m.Cells[1].OccState)
	}
	if m.Cells[2].OccState != OccFree {
		t.Errorf("cell 2 state = %d, want free", m.Cells[2].OccState)
	}

	// Every cached free index really is free.
	if len(m.FreeCells) != 14 {
		t.Fatalf("free cell count = %d, want 14", len(m.FreeCells))
	}
	for _, gp := range m.FreeCells {
		if m.Cells[m.Index(gp.I, gp.J)].OccState != OccFree {
			t.Errorf("free cell list contains non-free cell (%d,%d)", gp.I, gp.J)
		}
	}
}

func TestWorldGridRoundTrip(t *testing.T) {
	m := NewMapFromGrid(emptyGrid(20, 30, 0.25))
	for _, p := range [][2]float64{{0, 0}, {1.3, -2.1}, {-2.0, 3.2}, {0.12, 0.12}} {
		i, j := m.WorldToGrid(p[0], p[1])
		x, y := m.GridToWorld(i, j)
		if math.Abs(x-p[0]) > m.Scale/2 || math.Abs(y-p[1]) > m.Scale/2 {
			t.Errorf("roundtrip (%f,%f) -> (%d,%d) -> (%f,%f) moved more than half a cell",
				p[0], p[1], i, j, x, y)
		}
	}
}

func TestUpdateCSpace_DistanceField(t *testing.T) {
	m := NewMapFromGrid(corridorGrid(10, 10, 5, 1.0))
	m.UpdateCSpace(3.0)

	for j := 0; j < m.SizeY; j++ {
		for i := 0; i < m.SizeX; i++ {
			c := m.Cells[m.Index(i, j)]
			if c.OccDist < 0 || c.OccDist > m.MaxOccDist+1e-9 {
				t.Fatalf("occDist at (%d,%d) = %f out of [0, %f]", i, j, c.OccDist, m.MaxOccDist)
			}
			if c.OccState == OccOccupied && c.OccDist != 0 {
				t.Errorf("occupied cell (%d,%d) has occDist %f, want 0", i, j, c.OccDist)
			}
			// For a single wall column the exact distance is |i - wallX|.
			want := math.Abs(float64(i - 5))
			if want > 3 {
				want = 3
			}
			if math.Abs(c.OccDist-want) > 1e-9 {
				t.Errorf("occDist at (%d,%d) = %f, want %f", i, j, c.OccDist, want)
			}
		}
	}
}

func TestUpdateCSpace_Diagonal(t *testing.T) {
	g := emptyGrid(11, 11, 1.0)
	g.Data[5+5*11] = 100 // single obstacle at the center cell
	m := NewMapFromGrid(g)
	m.UpdateCSpace(10.0)

	// Distances are Euclidean, not Manhattan.
	i, j := 7, 7
	want := math.Sqrt(8)
	got := m.Cells[m.Index(i, j)].OccDist
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("occDist at (%d,%d) = %f, want %f", i, j, got, want)
	}
}

func TestRangeCast_HitsWall(t *testing.T) {
	m := NewMapFromGrid(corridorGrid(20, 20, 15, 1.0))

	// Cast from the center of the free region straight at the wall.
	ox, oy := m.GridToWorld(5, 10)
	got := m.RangeCast(ox, oy, 0, 50)
	if math.Abs(got-10) > 1.0 {
		t.Errorf("range to wall = %f, want ~10", got)
	}

	// Away from the wall the ray leaves the map and is capped there.
	away := m.RangeCast(ox, oy, math.Pi, 50)
	if away > 7 {
		t.Errorf("range away from wall = %f, want map-edge capped (< 7)", away)
	}
}

func TestRangeCast_MaxRange(t *testing.T) {
	m := NewMapFromGrid(corridorGrid(20, 20, 15, 1.0))
	ox, oy := m.GridToWorld(5, 10)
	got := m.RangeCast(ox, oy, 0, 3.0)
	if got != 3.0 {
		t.Errorf("short cast = %f, want max range 3.0", got)
	}
}
