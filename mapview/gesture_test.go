package mapview

import (
	"image"
	"math"
	"testing"
	"time"

	"github.com/olablt/slippymap/sched"
	"github.com/olablt/slippymap/tiles"
)

type gestureHarness struct {
	loop   *sched.Loop
	cam    *Camera
	g      *Gestures
	events []tiles.Event
}

func newGestureHarness() *gestureHarness {
	h := &gestureHarness{loop: sched.New()}
	em := tiles.NewEmitter()
	em.On(func(e tiles.Event) { h.events = append(h.events, e) })
	h.cam = NewCamera(tiles.View{Center: tiles.LatLng{Lat: 45, Lng: 7}, Zoom: 10}, 0, 19, em)
	h.cam.SetSize(image.Pt(800, 600))
	cfg := DefaultGestureConfig()
	cfg.WheelDebounce = 5 * time.Millisecond
	h.g = NewGestures(h.cam, h.loop, cfg)
	return h
}

func (h *gestureHarness) count(kind tiles.EventKind) int {
	n := 0
	for _, e := range h.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func TestDragPansAndFlings(t *testing.T) {
	h := newGestureHarness()
	geo := h.cam.ScreenToLatLng(Pt(100, 100))
	t0 := time.Unix(1000, 0)

	h.g.PointerDown(1, Pt(100, 100), t0)
	for i := 1; i <= 5; i++ {
		h.g.PointerMove(1, Pt(100+float64(i)*20, 100), t0.Add(time.Duration(i)*10*time.Millisecond))
	}
	if got := h.cam.LatLngToScreen(geo); !near(got, Pt(200, 100), 1e-6) {
		t.Errorf("dragged point at %v, want (200, 100)", got)
	}
	if !h.loop.TakeFrameRequest() {
		t.Error("drag did not request a frame")
	}

	h.g.PointerUp(1, Pt(200, 100), t0.Add(55*time.Millisecond))
	if !h.cam.Animating() {
		t.Fatal("fast release did not start inertia")
	}
	if v := h.cam.inertia.velocity; v.X < 1000 || math.Abs(v.Y) > 1e-9 {
		t.Errorf("inertia velocity = %v, want ~2000 px/s along x", v)
	}
	if h.count(tiles.EventMoveEnd) != 0 {
		t.Error("moveend before inertia finished")
	}
}

func TestDragThenPauseHasNoInertia(t *testing.T) {
	h := newGestureHarness()
	t0 := time.Unix(1000, 0)
	h.g.PointerDown(1, Pt(100, 100), t0)
	h.g.PointerMove(1, Pt(200, 100), t0.Add(10*time.Millisecond))
	h.g.PointerUp(1, Pt(200, 100), t0.Add(500*time.Millisecond))
	if h.cam.Animating() {
		t.Error("inertia after a paused release")
	}
	if h.count(tiles.EventMoveEnd) != 1 {
		t.Errorf("moveend events = %d, want 1", h.count(tiles.EventMoveEnd))
	}
}

func TestPinchZoomRotateKeepsMidpoint(t *testing.T) {
	h := newGestureHarness()
	t0 := time.Unix(1000, 0)
	h.g.PointerDown(1, Pt(300, 300), t0)
	h.g.PointerDown(2, Pt(500, 300), t0)
	geo := h.cam.ScreenToLatLng(Pt(400, 300))
	zoom := h.cam.View().Zoom

	// spread to twice the distance and turn by 90 degrees around the midpoint
	h.g.PointerMove(2, Pt(400, 500), t0.Add(10*time.Millisecond))
	h.g.PointerMove(1, Pt(400, 100), t0.Add(20*time.Millisecond))

	v := h.cam.View()
	if math.Abs(v.Zoom-(zoom+1)) > 1e-9 {
		t.Errorf("Zoom = %v, want %v", v.Zoom, zoom+1)
	}
	if math.Abs(v.Bearing-math.Pi/2) > 1e-9 {
		t.Errorf("Bearing = %v, want π/2", v.Bearing)
	}
	if got := h.cam.LatLngToScreen(geo); !near(got, Pt(400, 300), 1e-6) {
		t.Errorf("midpoint geo at %v, want (400, 300)", got)
	}

	h.g.PointerUp(2, Pt(400, 500), t0.Add(30*time.Millisecond))
	if h.count(tiles.EventZoomEnd) != 1 {
		t.Errorf("zoomend events = %d, want 1", h.count(tiles.EventZoomEnd))
	}
	h.g.PointerUp(1, Pt(400, 100), t0.Add(40*time.Millisecond))
	if h.g.Active() {
		t.Error("pointers still active")
	}
}

func TestWheelZoomDebouncesZoomEnd(t *testing.T) {
	h := newGestureHarness()
	anchor := Pt(600, 100)
	geo := h.cam.ScreenToLatLng(anchor)

	h.g.Wheel(-120, anchor)
	h.g.Wheel(-120, anchor)
	if got := h.cam.View().Zoom; math.Abs(got-12) > 1e-9 {
		t.Errorf("Zoom = %v, want 12", got)
	}
	if got := h.cam.LatLngToScreen(geo); !near(got, anchor, 1e-6) {
		t.Errorf("wheel anchor at %v, want %v", got, anchor)
	}

	deadline := time.Now().Add(time.Second)
	for h.count(tiles.EventZoomEnd) == 0 && time.Now().Before(deadline) {
		h.loop.RunPending()
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	h.loop.RunPending()
	if n := h.count(tiles.EventZoomEnd); n != 1 {
		t.Errorf("zoomend events = %d, want 1", n)
	}
}

func TestDoubleTapZoomsIn(t *testing.T) {
	h := newGestureHarness()
	t0 := time.Unix(1000, 0)
	p := Pt(250, 250)
	h.g.PointerDown(1, p, t0)
	h.g.PointerUp(1, p, t0.Add(50*time.Millisecond))
	if h.cam.Animating() {
		t.Fatal("single tap started an animation")
	}
	h.g.PointerDown(1, p, t0.Add(150*time.Millisecond))
	h.g.PointerUp(1, Pt(252, 251), t0.Add(200*time.Millisecond))
	if h.cam.anim == nil {
		t.Fatal("double tap did not start a zoom animation")
	}

	now := time.Unix(2000, 0)
	h.cam.Tick(now)
	for i := 0; i < 100 && h.cam.Animating(); i++ {
		now = now.Add(16 * time.Millisecond)
		h.cam.Tick(now)
	}
	if got := h.cam.View().Zoom; math.Abs(got-11) > 1e-5 {
		t.Errorf("Zoom after double tap = %v, want 11", got)
	}
}

func TestKeyboard(t *testing.T) {
	h := newGestureHarness()
	center := h.cam.View().Center

	h.g.Key(KeyRight)
	if lng := h.cam.View().Center.Lng; lng <= center.Lng {
		t.Errorf("right arrow moved center to %v, want east of %v", lng, center.Lng)
	}
	if h.count(tiles.EventMoveEnd) != 1 {
		t.Error("arrow key did not emit moveend")
	}

	h.g.Key(KeyRotateRight)
	if b := h.cam.View().Bearing; math.Abs(b-15*math.Pi/180) > 1e-9 {
		t.Errorf("Bearing = %v, want 15°", b)
	}

	h.g.Key(KeyZoomIn)
	if h.cam.anim == nil {
		t.Error("zoom key did not animate")
	}
	h.g.Key(Key("x"))
}
