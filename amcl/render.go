package amcl

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// MapRenderer rasterizes the occupancy grid with the particle cloud and
// best-pose arrow overlaid.
type MapRenderer struct {
	Map       *Map
	Scale     int // output pixels per cell
	Particles []Pose
	Best      *PoseEstimate

	FreeColor     color.RGBA
	OccupiedColor color.RGBA
	UnknownColor  color.RGBA
	ParticleColor color.RGBA
	BestColor     color.RGBA
}

// NewMapRenderer creates a renderer with default colors.
func NewMapRenderer(m *Map) *MapRenderer {
	return &MapRenderer{
		Map:           m,
		Scale:         4,
		FreeColor:     color.RGBA{255, 255, 255, 255},
		OccupiedColor: color.RGBA{30, 30, 30, 255},
		UnknownColor:  color.RGBA{180, 180, 180, 255},
		ParticleColor: color.RGBA{255, 0, 0, 255},
		BestColor:     color.RGBA{0, 0, 255, 255},
	}
}

// Render produces the image. Grid row 0 is drawn at the bottom so the world
// y axis points up.
func (r *MapRenderer) Render() *image.RGBA {
	m := r.Map
	s := r.Scale
	if s < 1 {
		s = 1
	}
	img := image.NewRGBA(image.Rect(0, 0, m.SizeX*s, m.SizeY*s))

	for j := 0; j < m.SizeY; j++ {
		for i := 0; i < m.SizeX; i++ {
			var c color.RGBA
			switch m.Cells[m.Index(i, j)].OccState {
			case OccFree:
				c = r.FreeColor
			case OccOccupied:
				c = r.OccupiedColor
			default:
				c = r.UnknownColor
			}
			for dy := 0; dy < s; dy++ {
				for dx := 0; dx < s; dx++ {
					img.Set(i*s+dx, (m.SizeY-1-j)*s+dy, c)
				}
			}
		}
	}

	for _, p := range r.Particles {
		x, y, ok := r.toPixel(p.X, p.Y)
		if ok {
			img.Set(x, y, r.ParticleColor)
		}
	}

	if r.Best != nil {
		r.drawArrow(img, r.Best.Pose)
		drawText(img, 4, 14, "amcl", color.RGBA{0, 0, 0, 255})
	}

	return img
}

func (r *MapRenderer) toPixel(wx, wy float64) (int, int, bool) {
	i, j := r.Map.WorldToGrid(wx, wy)
	if !r.Map.Valid(i, j) {
		return 0, 0, false
	}
	return i * r.Scale, (r.Map.SizeY - 1 - j) * r.Scale, true
}

func (r *MapRenderer) drawArrow(img *image.RGBA, p Pose) {
	x0, y0, ok := r.toPixel(p.X, p.Y)
	if !ok {
		return
	}
	length := 5 * r.Scale
	for t := 0; t <= length; t++ {
		// Screen y grows downward.
		x := x0 + int(float64(t)*math.Cos(p.Theta))
		y := y0 - int(float64(t)*math.Sin(p.Theta))
		img.Set(x, y, r.BestColor)
	}
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			img.Set(x0+dx, y0+dy, r.BestColor)
		}
	}
}

// drawText renders text onto an image at the specified position
func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}
