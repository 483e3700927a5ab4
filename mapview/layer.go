package mapview

import (
	"image"
	"image/color"
	"time"

	"github.com/olablt/slippymap/tiles"
)

// Layer is anything the map draws. Layers are rendered in the order they
// were added.
type Layer interface {
	OnAdd(m *Map) error
	OnRemove(m *Map)
	Render(fc *FrameContext, s Surface)
}

// afterFramer is implemented by layers with work to queue once a frame has
// been drawn.
type afterFramer interface {
	AfterFrame(fc *FrameContext)
}

// FrameContext is the per-frame snapshot handed to layers. The view does not
// change while a frame is rendered.
type FrameContext struct {
	View tiles.View
	Size image.Point
	Now  time.Time

	TilesDrawn   int
	TilesMissing int
}

// BackgroundLayer fills the surface with a flat color.
type BackgroundLayer struct {
	Color color.NRGBA
}

func NewBackgroundLayer(c color.NRGBA) *BackgroundLayer {
	return &BackgroundLayer{Color: c}
}

func (l *BackgroundLayer) OnAdd(*Map) error { return nil }

func (l *BackgroundLayer) OnRemove(*Map) {}

func (l *BackgroundLayer) Render(_ *FrameContext, s Surface) {
	s.Fill(l.Color)
}
