package mapview

import (
	"math"
	"time"

	"github.com/olablt/slippymap/tiles"
)

// Key is a keyboard command understood by the gesture controller.
type Key string

const (
	KeyLeft        Key = "left"
	KeyRight       Key = "right"
	KeyUp          Key = "up"
	KeyDown        Key = "down"
	KeyZoomIn      Key = "+"
	KeyZoomOut     Key = "-"
	KeyRotateLeft  Key = "q"
	KeyRotateRight Key = "e"
)

type GestureConfig struct {
	// VelocityWindow is how far back pointer samples count towards the
	// release velocity.
	VelocityWindow time.Duration
	DoubleTapTime  time.Duration
	DoubleTapSlop  float64
	// WheelZoomRate is zoom levels per scroll unit.
	WheelZoomRate float64
	WheelDebounce time.Duration
	KeyPanStep    float64
	KeyRotateStep float64
	ZoomDuration  time.Duration
}

func DefaultGestureConfig() GestureConfig {
	return GestureConfig{
		VelocityWindow: 100 * time.Millisecond,
		DoubleTapTime:  300 * time.Millisecond,
		DoubleTapSlop:  20,
		WheelZoomRate:  1.0 / 120,
		WheelDebounce:  200 * time.Millisecond,
		KeyPanStep:     100,
		KeyRotateStep:  15 * math.Pi / 180,
		ZoomDuration:   DefaultZoomDuration,
	}
}

type sample struct {
	t time.Time
	p Point
}

// Gestures turns pointer, wheel and keyboard input into camera moves.
type Gestures struct {
	cam   *Camera
	sched frameScheduler
	cfg   GestureConfig

	pointers map[int]Point
	order    []int
	samples  []sample
	moved    bool
	downAt   Point
	pinching bool

	lastTap    time.Time
	lastTapPos Point
	wheelGen   int
}

// frameScheduler is the part of the loop gestures need.
type frameScheduler interface {
	After(d time.Duration, fn func()) (stop func() bool)
	RequestFrame()
}

func NewGestures(cam *Camera, s frameScheduler, cfg GestureConfig) *Gestures {
	return &Gestures{
		cam:      cam,
		sched:    s,
		cfg:      cfg,
		pointers: make(map[int]Point),
	}
}

// Active reports whether a pointer is down.
func (g *Gestures) Active() bool {
	return len(g.pointers) > 0
}

func (g *Gestures) PointerDown(id int, p Point, t time.Time) {
	if _, ok := g.pointers[id]; !ok {
		g.order = append(g.order, id)
	}
	g.pointers[id] = p
	g.cam.Stop()

	switch len(g.pointers) {
	case 1:
		g.samples = append(g.samples[:0], sample{t, p})
		g.moved = false
		g.downAt = p
	case 2:
		g.pinching = true
		g.moved = true
	}
}

func (g *Gestures) PointerMove(id int, p Point, t time.Time) {
	prev, ok := g.pointers[id]
	if !ok {
		return
	}

	if g.pinching && len(g.pointers) >= 2 {
		a, b := g.pair()
		before := pinchOf(a, b)
		g.pointers[id] = p
		a, b = g.pair()
		after := pinchOf(a, b)
		if before.dist > 0 && after.dist > 0 {
			geo := g.cam.ScreenToLatLng(before.mid)
			v := g.cam.View()
			g.cam.moveAnchored(
				v.Zoom+math.Log2(after.dist/before.dist),
				v.Bearing+angleDelta(before.angle, after.angle),
				geo,
				after.mid,
			)
		}
		g.sched.RequestFrame()
		return
	}

	g.pointers[id] = p
	g.cam.PanBy(p.Sub(prev))
	if p.Sub(g.downAt).Len() > g.cfg.DoubleTapSlop/4 {
		g.moved = true
	}
	g.samples = append(g.samples, sample{t, p})
	g.trimSamples(t)
	g.sched.RequestFrame()
}

func (g *Gestures) PointerUp(id int, p Point, t time.Time) {
	if _, ok := g.pointers[id]; !ok {
		return
	}
	delete(g.pointers, id)
	for i, o := range g.order {
		if o == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}

	if g.pinching {
		if len(g.pointers) < 2 {
			g.pinching = false
			g.cam.emit(tiles.EventZoomEnd)
			// the remaining finger continues as a drag
			for _, rest := range g.pointers {
				g.samples = append(g.samples[:0], sample{t, rest})
				g.downAt = rest
			}
		}
		g.sched.RequestFrame()
		return
	}
	if len(g.pointers) > 0 {
		return
	}

	if !g.moved {
		g.tap(p, t)
		return
	}
	g.samples = append(g.samples, sample{t, p})
	g.trimSamples(t)
	g.cam.StartInertia(g.velocity())
	g.sched.RequestFrame()
}

// PointerCancel drops all pointers without inertia.
func (g *Gestures) PointerCancel() {
	wasPinching := g.pinching
	hadPointers := len(g.pointers) > 0
	g.pointers = make(map[int]Point)
	g.order = g.order[:0]
	g.samples = g.samples[:0]
	g.pinching = false
	if wasPinching {
		g.cam.emit(tiles.EventZoomEnd)
	} else if hadPointers && g.moved {
		g.cam.emit(tiles.EventMoveEnd)
	}
}

func (g *Gestures) tap(p Point, t time.Time) {
	if !g.lastTap.IsZero() && t.Sub(g.lastTap) <= g.cfg.DoubleTapTime && p.Sub(g.lastTapPos).Len() <= g.cfg.DoubleTapSlop {
		g.lastTap = time.Time{}
		g.cam.AnimateZoom(math.Floor(g.cam.View().Zoom)+1, p, g.cfg.ZoomDuration)
		g.sched.RequestFrame()
		return
	}
	g.lastTap, g.lastTapPos = t, p
}

// Wheel zooms around p. Positive delta scrolls down, which zooms out. A
// zoomend follows once the wheel has been quiet for the debounce period.
func (g *Gestures) Wheel(delta float64, p Point) {
	dz := math.Max(-1, math.Min(-delta*g.cfg.WheelZoomRate, 1))
	if dz == 0 {
		return
	}
	g.cam.Stop()
	g.cam.ZoomAround(dz, p)
	g.sched.RequestFrame()

	g.wheelGen++
	gen := g.wheelGen
	g.sched.After(g.cfg.WheelDebounce, func() {
		if gen == g.wheelGen {
			g.cam.emit(tiles.EventZoomEnd)
		}
	})
}

func (g *Gestures) Key(k Key) {
	center := g.cam.screenCenter()
	switch k {
	case KeyLeft, KeyRight, KeyUp, KeyDown:
		step := g.cfg.KeyPanStep
		d := map[Key]Point{
			KeyLeft:  {step, 0},
			KeyRight: {-step, 0},
			KeyUp:    {0, step},
			KeyDown:  {0, -step},
		}[k]
		g.cam.Stop()
		g.cam.PanBy(d)
		g.cam.emit(tiles.EventMoveEnd)
	case KeyZoomIn:
		g.cam.AnimateZoom(math.Round(g.cam.View().Zoom)+1, center, g.cfg.ZoomDuration)
	case KeyZoomOut:
		g.cam.AnimateZoom(math.Round(g.cam.View().Zoom)-1, center, g.cfg.ZoomDuration)
	case KeyRotateLeft:
		g.cam.RotateAround(-g.cfg.KeyRotateStep, center)
	case KeyRotateRight:
		g.cam.RotateAround(g.cfg.KeyRotateStep, center)
	default:
		return
	}
	g.sched.RequestFrame()
}

// velocity is the average pointer speed over the sample window in px/s.
func (g *Gestures) velocity() Point {
	if len(g.samples) < 2 {
		return Point{}
	}
	first, last := g.samples[0], g.samples[len(g.samples)-1]
	dt := last.t.Sub(first.t).Seconds()
	if dt <= 0 {
		return Point{}
	}
	return last.p.Sub(first.p).Mul(1 / dt)
}

func (g *Gestures) trimSamples(now time.Time) {
	cut := 0
	for cut < len(g.samples)-1 && now.Sub(g.samples[cut].t) > g.cfg.VelocityWindow {
		cut++
	}
	g.samples = append(g.samples[:0], g.samples[cut:]...)
}

func (g *Gestures) pair() (Point, Point) {
	return g.pointers[g.order[0]], g.pointers[g.order[1]]
}

type pinch struct {
	mid   Point
	dist  float64
	angle float64
}

func pinchOf(a, b Point) pinch {
	d := b.Sub(a)
	return pinch{
		mid:   a.Add(b).Mul(0.5),
		dist:  d.Len(),
		angle: math.Atan2(d.Y, d.X),
	}
}

// angleDelta returns b-a wrapped into (-π, π].
func angleDelta(a, b float64) float64 {
	d := math.Mod(b-a, 2*math.Pi)
	if d > math.Pi {
		d -= 2 * math.Pi
	} else if d <= -math.Pi {
		d += 2 * math.Pi
	}
	return d
}
