package mapview

import (
	"image"
	"math"
	"time"

	"github.com/tanema/gween"
	"github.com/tanema/gween/ease"

	"github.com/olablt/slippymap/tiles"
)

// Point is a position in screen pixels.
type Point struct {
	X, Y float64
}

func Pt(x, y float64) Point { return Point{X: x, Y: y} }

func (p Point) Add(q Point) Point { return Point{p.X + q.X, p.Y + q.Y} }

func (p Point) Sub(q Point) Point { return Point{p.X - q.X, p.Y - q.Y} }

func (p Point) Mul(s float64) Point { return Point{p.X * s, p.Y * s} }

func (p Point) Len() float64 { return math.Hypot(p.X, p.Y) }

// rotate turns p by theta radians, clockwise on a y-down screen.
func (p Point) rotate(theta float64) Point {
	sin, cos := math.Sincos(theta)
	return Point{p.X*cos - p.Y*sin, p.X*sin + p.Y*cos}
}

const (
	DefaultZoomDuration = 250 * time.Millisecond
	inertiaDecay        = 4.0  // per second
	inertiaMinSpeed     = 15.0 // px/s
	maxTickStep         = 100 * time.Millisecond
)

type zoomAnim struct {
	tween  *gween.Tween
	geo    tiles.LatLng
	anchor Point
}

type inertia struct {
	velocity Point // px/s
}

// Camera owns the view state. Every read and write of the view goes through
// it, and it is only touched from the loop goroutine.
type Camera struct {
	view    tiles.View
	size    image.Point
	minZoom float64
	maxZoom float64
	events  *tiles.Emitter

	anim     *zoomAnim
	inertia  *inertia
	lastTick time.Time
}

func NewCamera(view tiles.View, minZoom, maxZoom int, events *tiles.Emitter) *Camera {
	c := &Camera{
		minZoom: float64(minZoom),
		maxZoom: float64(maxZoom),
		events:  events,
	}
	c.SetView(view)
	return c
}

func (c *Camera) View() tiles.View { return c.view }

func (c *Camera) Size() image.Point { return c.size }

func (c *Camera) SetSize(size image.Point) { c.size = size }

// SetView jumps to v, stopping any animation.
func (c *Camera) SetView(v tiles.View) {
	c.Stop()
	c.view = tiles.View{
		Center:  v.Center.Normalize(),
		Zoom:    c.clampZoom(v.Zoom),
		Bearing: normalizeBearing(v.Bearing),
	}
}

// Stop cancels zoom animation and inertia.
func (c *Camera) Stop() {
	c.anim = nil
	c.inertia = nil
}

// Animating reports whether Tick still has work to do.
func (c *Camera) Animating() bool {
	return c.anim != nil || c.inertia != nil
}

func (c *Camera) screenCenter() Point {
	return Point{float64(c.size.X) / 2, float64(c.size.Y) / 2}
}

// ScreenToLatLng returns the geographic point under screen position p.
func (c *Camera) ScreenToLatLng(p Point) tiles.LatLng {
	wx, wy := tiles.CalculateWorldCoordinates(c.view.Center, c.view.Zoom)
	d := p.Sub(c.screenCenter()).rotate(-c.view.Bearing)
	return tiles.WorldToLatLng(wx+d.X, wy+d.Y, c.view.Zoom).Normalize()
}

// LatLngToScreen returns the screen position of ll, using the world copy
// nearest to the view center.
func (c *Camera) LatLngToScreen(ll tiles.LatLng) Point {
	cx, cy := tiles.CalculateWorldCoordinates(c.view.Center, c.view.Zoom)
	gx, gy := tiles.CalculateWorldCoordinates(ll, c.view.Zoom)
	world := tiles.TileSize * math.Exp2(c.view.Zoom)
	dx := gx - cx
	dx -= world * math.Round(dx/world)
	return c.screenCenter().Add(Point{dx, gy - cy}.rotate(c.view.Bearing))
}

// PanBy moves the map content by d screen pixels.
func (c *Camera) PanBy(d Point) {
	wx, wy := tiles.CalculateWorldCoordinates(c.view.Center, c.view.Zoom)
	w := d.rotate(-c.view.Bearing)
	c.view.Center = tiles.WorldToLatLng(wx-w.X, wy-w.Y, c.view.Zoom).Normalize()
}

// ZoomAround changes zoom by delta keeping the point under anchor fixed.
func (c *Camera) ZoomAround(delta float64, anchor Point) {
	c.moveAnchored(c.view.Zoom+delta, c.view.Bearing, c.ScreenToLatLng(anchor), anchor)
}

// RotateAround changes bearing by delta radians keeping anchor fixed.
func (c *Camera) RotateAround(delta float64, anchor Point) {
	c.moveAnchored(c.view.Zoom, c.view.Bearing+delta, c.ScreenToLatLng(anchor), anchor)
}

// moveAnchored sets zoom and bearing and recenters so that geo lands on
// anchor.
func (c *Camera) moveAnchored(zoom, bearing float64, geo tiles.LatLng, anchor Point) {
	zoom = c.clampZoom(zoom)
	bearing = normalizeBearing(bearing)
	gx, gy := tiles.CalculateWorldCoordinates(geo, zoom)
	d := anchor.Sub(c.screenCenter()).rotate(-bearing)
	c.view = tiles.View{
		Center:  tiles.WorldToLatLng(gx-d.X, gy-d.Y, zoom).Normalize(),
		Zoom:    zoom,
		Bearing: bearing,
	}
}

// AnimateZoom eases to zoom over d keeping anchor fixed, then emits zoomend.
func (c *Camera) AnimateZoom(zoom float64, anchor Point, d time.Duration) {
	c.inertia = nil
	zoom = c.clampZoom(zoom)
	if d <= 0 {
		c.ZoomAround(zoom-c.view.Zoom, anchor)
		c.emit(tiles.EventZoomEnd)
		return
	}
	c.anim = &zoomAnim{
		tween:  gween.New(float32(c.view.Zoom), float32(zoom), float32(d.Seconds()), ease.OutQuad),
		geo:    c.ScreenToLatLng(anchor),
		anchor: anchor,
	}
}

// StartInertia continues a pan at velocity px/s, decaying exponentially.
// Below the stop threshold it ends the move at once.
func (c *Camera) StartInertia(velocity Point) {
	if velocity.Len() < inertiaMinSpeed {
		c.inertia = nil
		c.emit(tiles.EventMoveEnd)
		return
	}
	c.inertia = &inertia{velocity: velocity}
}

// Tick advances animations to now and reports whether another frame is needed.
func (c *Camera) Tick(now time.Time) bool {
	dt := time.Duration(0)
	if !c.lastTick.IsZero() {
		dt = min(now.Sub(c.lastTick), maxTickStep)
	}
	c.lastTick = now
	if dt <= 0 {
		return c.Animating()
	}

	if a := c.anim; a != nil {
		z, done := a.tween.Update(float32(dt.Seconds()))
		c.moveAnchored(float64(z), c.view.Bearing, a.geo, a.anchor)
		if done {
			c.anim = nil
			c.emit(tiles.EventZoomEnd)
		}
	}
	if in := c.inertia; in != nil {
		secs := dt.Seconds()
		c.PanBy(in.velocity.Mul(secs))
		in.velocity = in.velocity.Mul(math.Exp(-inertiaDecay * secs))
		if in.velocity.Len() < inertiaMinSpeed {
			c.inertia = nil
			c.emit(tiles.EventMoveEnd)
		}
	}
	return c.Animating()
}

func (c *Camera) emit(kind tiles.EventKind) {
	c.events.Emit(tiles.Event{Kind: kind, View: c.view})
}

func (c *Camera) clampZoom(z float64) float64 {
	if math.IsNaN(z) {
		return c.minZoom
	}
	return math.Max(c.minZoom, math.Min(z, c.maxZoom))
}

// normalizeBearing wraps b into [0, 2π).
func normalizeBearing(b float64) float64 {
	if math.IsNaN(b) || math.IsInf(b, 0) {
		return 0
	}
	b = math.Mod(b, 2*math.Pi)
	if b < 0 {
		b += 2 * math.Pi
	}
	return b
}
