package mapview

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/olablt/slippymap/tiles"
)

// Surface is the drawing target of a frame.
type Surface interface {
	Size() image.Point
	Fill(c color.NRGBA)
	// DrawImage draws img with m mapping source pixels to surface pixels,
	// sampling nearest neighbour.
	DrawImage(img image.Image, m f64.Aff3)
}

// RasterSurface draws into an in-memory RGBA image.
type RasterSurface struct {
	dst *image.RGBA
}

func NewRasterSurface(size image.Point) *RasterSurface {
	return &RasterSurface{dst: image.NewRGBA(image.Rectangle{Max: size})}
}

func (s *RasterSurface) Image() *image.RGBA { return s.dst }

func (s *RasterSurface) Size() image.Point { return s.dst.Bounds().Size() }

func (s *RasterSurface) Fill(c color.NRGBA) {
	draw.Draw(s.dst, s.dst.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
}

func (s *RasterSurface) DrawImage(img image.Image, m f64.Aff3) {
	draw.NearestNeighbor.Transform(s.dst, m, img, img.Bounds(), draw.Over, nil)
}

// tileTransform maps the pixels of a tile image onto the screen: translate
// to the grid cell, scale by the fractional zoom and rotate by the bearing
// around the screen center.
func tileTransform(g *tiles.Grid, t tiles.GridTile, imgWidth int) f64.Aff3 {
	k := 1.0
	if imgWidth > 0 {
		k = tiles.TileSize / float64(imgWidth)
	}
	s := g.Scale * k
	sin, cos := math.Sincos(g.Bearing)
	ox, oy := g.Offset(t)
	cx, cy := float64(g.Size.X)/2, float64(g.Size.Y)/2
	return f64.Aff3{
		cos * s, -sin * s, cx + cos*ox - sin*oy,
		sin * s, cos * s, cy + sin*ox + cos*oy,
	}
}
