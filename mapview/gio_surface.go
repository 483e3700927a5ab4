package mapview

import (
	"image"
	"image/color"

	"gioui.org/f32"
	"gioui.org/op"
	"gioui.org/op/clip"
	"gioui.org/op/paint"
	"golang.org/x/image/math/f64"
)

// ImageOpCache keeps one paint.ImageOp per tile image so gio can reuse the
// uploaded texture across frames. Entries not drawn in a frame are dropped
// by Sweep.
type ImageOpCache struct {
	ops  map[image.Image]paint.ImageOp
	used map[image.Image]bool
}

func NewImageOpCache() *ImageOpCache {
	return &ImageOpCache{
		ops:  make(map[image.Image]paint.ImageOp),
		used: make(map[image.Image]bool),
	}
}

func (c *ImageOpCache) Get(img image.Image) paint.ImageOp {
	c.used[img] = true
	if op, ok := c.ops[img]; ok {
		return op
	}
	op := paint.NewImageOp(img)
	op.Filter = paint.FilterNearest
	c.ops[img] = op
	return op
}

// Sweep forgets images not requested since the previous sweep.
func (c *ImageOpCache) Sweep() {
	for img := range c.ops {
		if !c.used[img] {
			delete(c.ops, img)
		}
	}
	clear(c.used)
}

func (c *ImageOpCache) Len() int { return len(c.ops) }

// GioSurface records drawing into gio operations.
type GioSurface struct {
	ops   *op.Ops
	size  image.Point
	cache *ImageOpCache
}

func NewGioSurface(ops *op.Ops, size image.Point, cache *ImageOpCache) *GioSurface {
	if cache == nil {
		cache = NewImageOpCache()
	}
	return &GioSurface{ops: ops, size: size, cache: cache}
}

func (s *GioSurface) Size() image.Point { return s.size }

func (s *GioSurface) Fill(c color.NRGBA) {
	paint.FillShape(s.ops, c, clip.Rect{Max: s.size}.Op())
}

func (s *GioSurface) DrawImage(img image.Image, m f64.Aff3) {
	aff := f32.NewAffine2D(
		float32(m[0]), float32(m[1]), float32(m[2]),
		float32(m[3]), float32(m[4]), float32(m[5]),
	)
	t := op.Affine(aff).Push(s.ops)
	imgOp := s.cache.Get(img)
	imgOp.Add(s.ops)
	r := clip.Rect{Max: img.Bounds().Size()}.Push(s.ops)
	paint.PaintOp{}.Add(s.ops)
	r.Pop()
	t.Pop()
}
