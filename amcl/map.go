package amcl

import (
	"container/heap"
	"math"
)

// Occupancy states stored per cell.
const (
	OccFree     int8 = -1
	OccUnknown  int8 = 0
	OccOccupied int8 = +1
)

// Cell is one occupancy grid cell.
type Cell struct {
	OccState int8
	// OccDist is the distance in meters to the nearest occupied cell,
	// capped at the map's MaxOccDist. Populated by UpdateCSpace.
	OccDist float64
}

// GridPoint is a cell index pair.
type GridPoint struct {
	I, J int
}

// Map is a static occupancy grid with a cached distance-to-obstacle field.
// OriginX/OriginY are the world coordinates of the grid center. A Map is
// immutable once installed; dependent sensors are rebuilt when it is
// replaced.
type Map struct {
	SizeX, SizeY int
	Scale        float64 // meters per cell
	OriginX      float64
	OriginY      float64
	Cells        []Cell
	MaxOccDist   float64
	// FreeCells indexes every free cell, for uniform pose sampling.
	FreeCells []GridPoint
}

// NewMapFromGrid copies an occupancy grid message into the internal
// representation. Values of 0 become free, 100 occupied, all others unknown.
func NewMapFromGrid(msg *OccupancyGridMsg) *Map {
	m := &Map{
		SizeX: msg.Width,
		SizeY: msg.Height,
		Scale: msg.Resolution,
		// The message origin is the corner of cell (0,0); ours is the grid center.
		OriginX: msg.OriginX + float64(msg.Width/2)*msg.Resolution,
		OriginY: msg.OriginY + float64(msg.Height/2)*msg.Resolution,
		Cells:   make([]Cell, msg.Width*msg.Height),
	}
	for i := range m.Cells {
		switch {
		case i < len(msg.Data) && msg.Data[i] == 0:
			m.Cells[i].OccState = OccFree
		case i < len(msg.Data) && msg.Data[i] == 100:
			m.Cells[i].OccState = OccOccupied
		default:
			m.Cells[i].OccState = OccUnknown
		}
	}
	for j := 0; j < m.SizeY; j++ {
		for i := 0; i < m.SizeX; i++ {
			if m.Cells[m.Index(i, j)].OccState == OccFree {
				m.FreeCells = append(m.FreeCells, GridPoint{i, j})
			}
		}
	}
	return m
}

// Index returns the row-major cell index for (i, j).
func (m *Map) Index(i, j int) int {
	return i + j*m.SizeX
}

// Valid reports whether (i, j) lies inside the grid.
func (m *Map) Valid(i, j int) bool {
	return i >= 0 && i < m.SizeX && j >= 0 && j < m.SizeY
}

// WorldToGrid converts world coordinates to cell indices.
func (m *Map) WorldToGrid(x, y float64) (int, int) {
	i := int(math.Floor((x-m.OriginX)/m.Scale+0.5)) + m.SizeX/2
	j := int(math.Floor((y-m.OriginY)/m.Scale+0.5)) + m.SizeY/2
	return i, j
}

// GridToWorld converts cell indices to the world coordinates of the cell center.
func (m *Map) GridToWorld(i, j int) (float64, float64) {
	x := m.OriginX + float64(i-m.SizeX/2)*m.Scale
	y := m.OriginY + float64(j-m.SizeY/2)*m.Scale
	return x, y
}

// OccDistAt returns the cached obstacle distance at a world coordinate,
// or MaxOccDist when the coordinate is off-map.
func (m *Map) OccDistAt(x, y float64) float64 {
	i, j := m.WorldToGrid(x, y)
	if !m.Valid(i, j) {
		return m.MaxOccDist
	}
	return m.Cells[m.Index(i, j)].OccDist
}

type cspaceCell struct {
	i, j       int
	srcI, srcJ int
	occDist    float64
}

type cspaceQueue []cspaceCell

func (q cspaceQueue) Len() int            { return len(q) }
func (q cspaceQueue) Less(a, b int) bool  { return q[a].occDist < q[b].occDist }
func (q cspaceQueue) Swap(a, b int)       { q[a], q[b] = q[b], q[a] }
func (q *cspaceQueue) Push(x interface{}) { *q = append(*q, x.(cspaceCell)) }
func (q *cspaceQueue) Pop() interface{} {
	old := *q
	n := len(old)
	c := old[n-1]
	*q = old[:n-1]
	return c
}

// UpdateCSpace recomputes the distance field by a brushfire expansion from
// every occupied cell, with per-cell distance the Euclidean distance to the
// nearest occupied cell, capped at maxOccDist. Must be called again if the
// occupancy ever changed; install-time callers do this once.
func (m *Map) UpdateCSpace(maxOccDist float64) {
	m.MaxOccDist = maxOccDist
	cellRadius := int(maxOccDist / m.Scale)

	// Cache of Euclidean distances by index offset.
	dists := make([][]float64, cellRadius+2)
	for di := range dists {
		dists[di] = make([]float64, cellRadius+2)
		for dj := range dists[di] {
			dists[di][dj] = math.Sqrt(float64(di*di + dj*dj))
		}
	}

	marked := make([]bool, len(m.Cells))
	q := make(cspaceQueue, 0, len(m.Cells)/4)
	heap.Init(&q)

	for j := 0; j < m.SizeY; j++ {
		for i := 0; i < m.SizeX; i++ {
			idx := m.Index(i, j)
			if m.Cells[idx].OccState == OccOccupied {
				m.Cells[idx].OccDist = 0
				marked[idx] = true
				heap.Push(&q, cspaceCell{i: i, j: j, srcI: i, srcJ: j})
			} else {
				m.Cells[idx].OccDist = maxOccDist
			}
		}
	}

	enqueue := func(i, j, srcI, srcJ int) {
		if !m.Valid(i, j) {
			return
		}
		idx := m.Index(i, j)
		di := i - srcI
		if di < 0 {
			di = -di
		}
		dj := j - srcJ
		if dj < 0 {
			dj = -dj
		}
		if di > cellRadius || dj > cellRadius {
			return
		}
		d := dists[di][dj]
		if d > float64(cellRadius) {
			return
		}
		// A cell already reached keeps its distance unless this source is nearer.
		if marked[idx] && d*m.Scale >= m.Cells[idx].OccDist {
			return
		}
		m.Cells[idx].OccDist = d * m.Scale
		marked[idx] = true
		heap.Push(&q, cspaceCell{i: i, j: j, srcI: srcI, srcJ: srcJ, occDist: m.Cells[idx].OccDist})
	}

	for q.Len() > 0 {
		c := heap.Pop(&q).(cspaceCell)
		if c.occDist > m.Cells[m.Index(c.i, c.j)].OccDist {
			continue // superseded by a nearer source
		}
		for dj := -1; dj <= 1; dj++ {
			for di := -1; di <= 1; di++ {
				if di == 0 && dj == 0 {
					continue
				}
				enqueue(c.i+di, c.j+dj, c.srcI, c.srcJ)
			}
		}
	}
}

// RangeCast casts a ray from (ox, oy) along bearing oa and returns the
// distance to the first occupied or unknown cell, capped at maxRange.
func (m *Map) RangeCast(ox, oy, oa, maxRange float64) float64 {
	x0, y0 := m.WorldToGrid(ox, oy)
	x1, y1 := m.WorldToGrid(ox+maxRange*math.Cos(oa), oy+maxRange*math.Sin(oa))

	steep := abs(y1-y0) > abs(x1-x0)
	if steep {
		x0, y0 = y0, x0
		x1, y1 = y1, x1
	}

	deltaX := abs(x1 - x0)
	deltaY := abs(y1 - y0)
	errAcc := 0
	deltaErr := deltaY

	x, y := x0, y0
	xStep := 1
	if x0 > x1 {
		xStep = -1
	}
	yStep := 1
	if y0 > y1 {
		yStep = -1
	}

	blocked := func(x, y int) bool {
		if steep {
			x, y = y, x
		}
		return !m.Valid(x, y) || m.Cells[m.Index(x, y)].OccState > OccFree
	}
	dist := func(x, y int) float64 {
		return math.Sqrt(float64((x-x0)*(x-x0)+(y-y0)*(y-y0))) * m.Scale
	}

	if blocked(x, y) {
		return dist(x, y)
	}
	for x != x1 {
		x += xStep
		errAcc += deltaErr
		if 2*errAcc >= deltaX {
			y += yStep
			errAcc -= deltaX
		}
		if blocked(x, y) {
			return dist(x, y)
		}
	}
	return maxRange
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
