package amcl

import (
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// canvasRenderer is the interface both the svg and rasterizer backends implement
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// VectorRenderer draws the occupancy grid, particle cloud and best-pose
// arrow as vector graphics, in world coordinates (meters).
type VectorRenderer struct {
	Map        *Map
	Particles  []Pose
	Best       *PoseEstimate
	Padding    float64 // padding in meters
	Resolution canvas.Resolution
}

// NewVectorRenderer creates a vector renderer with default settings.
func NewVectorRenderer(m *Map) *VectorRenderer {
	return &VectorRenderer{
		Map:        m,
		Padding:    0.5,
		Resolution: canvas.DPI(150),
	}
}

func (r *VectorRenderer) bounds() (minX, minY, width, height float64) {
	m := r.Map
	halfW := float64(m.SizeX) * m.Scale / 2
	halfH := float64(m.SizeY) * m.Scale / 2
	minX = m.OriginX - halfW - r.Padding
	minY = m.OriginY - halfH - r.Padding
	width = 2*halfW + 2*r.Padding
	height = 2*halfH + 2*r.Padding
	return
}

// RenderToSVG writes the scene as an SVG to the provided writer.
func (r *VectorRenderer) RenderToSVG(w io.Writer) error {
	minX, minY, width, height := r.bounds()
	svgRenderer := svg.New(w, width, height, nil)
	r.renderToCanvas(svgRenderer, minX, minY, width, height)
	return svgRenderer.Close()
}

// RenderToPNG writes the scene as a PNG to the provided writer.
func (r *VectorRenderer) RenderToPNG(w io.Writer) error {
	minX, minY, width, height := r.bounds()
	rast := rasterizer.New(width, height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, minX, minY, width, height)
	return png.Encode(w, rast)
}

func (r *VectorRenderer) renderToCanvas(renderer canvasRenderer, minX, minY, width, height float64) {
	m := r.Map

	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	toCanvas := func(wx, wy float64) (float64, float64) {
		return wx - minX, wy - minY
	}

	cellStyle := func(c color.RGBA) canvas.Style {
		s := canvas.DefaultStyle
		s.Fill = canvas.Paint{Color: c}
		s.Stroke = canvas.Paint{Color: canvas.Transparent}
		return s
	}
	occStyle := cellStyle(color.RGBA{30, 30, 30, 255})
	unknownStyle := cellStyle(color.RGBA{180, 180, 180, 255})

	for j := 0; j < m.SizeY; j++ {
		for i := 0; i < m.SizeX; i++ {
			state := m.Cells[m.Index(i, j)].OccState
			if state == OccFree {
				continue
			}
			wx, wy := m.GridToWorld(i, j)
			cx, cy := toCanvas(wx-m.Scale/2, wy-m.Scale/2)
			cp := canvas.Rectangle(m.Scale, m.Scale).Translate(cx, cy)
			if state == OccOccupied {
				renderer.RenderPath(cp, occStyle, canvas.Identity)
			} else {
				renderer.RenderPath(cp, unknownStyle, canvas.Identity)
			}
		}
	}

	particleStyle := canvas.DefaultStyle
	particleStyle.Fill = canvas.Paint{Color: color.RGBA{255, 0, 0, 255}}
	particleStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
	radius := m.Scale / 4
	for _, p := range r.Particles {
		cx, cy := toCanvas(p.X, p.Y)
		renderer.RenderPath(canvas.Circle(radius).Translate(cx, cy), particleStyle, canvas.Identity)
	}

	if r.Best != nil {
		bestStyle := canvas.DefaultStyle
		bestStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		bestStyle.Stroke = canvas.Paint{Color: color.RGBA{0, 0, 255, 255}}
		bestStyle.StrokeWidth = m.Scale / 4

		cx, cy := toCanvas(r.Best.Pose.X, r.Best.Pose.Y)
		arrow := &canvas.Path{}
		arrow.MoveTo(cx, cy)
		ex, ey := toCanvas(
			r.Best.Pose.X+5*m.Scale*math.Cos(r.Best.Pose.Theta),
			r.Best.Pose.Y+5*m.Scale*math.Sin(r.Best.Pose.Theta),
		)
		arrow.LineTo(ex, ey)
		renderer.RenderPath(arrow, bestStyle, canvas.Identity)

		renderer.RenderPath(canvas.Circle(m.Scale/2).Translate(cx, cy), bestStyle, canvas.Identity)
	}
}
