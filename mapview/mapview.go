package mapview

import (
	"image"
	"time"

	"gioui.org/f32"
	"gioui.org/io/event"
	"gioui.org/io/key"
	"gioui.org/io/pointer"
	"gioui.org/layout"
	"gioui.org/op"
	"gioui.org/op/clip"
)

// MapView is the gio widget showing a Map.
type MapView struct {
	Map *Map
	// IdleBudget bounds deferred work run after each frame.
	IdleBudget time.Duration

	ops  *ImageOpCache
	size image.Point
}

func NewMapView(m *Map) *MapView {
	return &MapView{
		Map:        m,
		IdleBudget: 4 * time.Millisecond,
		ops:        NewImageOpCache(),
	}
}

var keyBindings = map[key.Name]Key{
	key.NameLeftArrow:  KeyLeft,
	key.NameRightArrow: KeyRight,
	key.NameUpArrow:    KeyUp,
	key.NameDownArrow:  KeyDown,
	"+":                KeyZoomIn,
	"=":                KeyZoomIn,
	"-":                KeyZoomOut,
	"Q":                KeyRotateLeft,
	"E":                KeyRotateRight,
}

func (mv *MapView) Layout(gtx layout.Context) layout.Dimensions {
	tag := mv
	mv.size = gtx.Constraints.Max
	mv.Map.Camera().SetSize(mv.size)
	g := mv.Map.Gestures()

	for {
		ev, ok := gtx.Event(pointer.Filter{
			Target:  tag,
			Kinds:   pointer.Scroll | pointer.Drag | pointer.Press | pointer.Release | pointer.Cancel,
			ScrollY: pointer.ScrollRange{Min: -1000, Max: 1000},
		})
		if !ok {
			break
		}
		x, ok := ev.(pointer.Event)
		if !ok {
			continue
		}
		p := toPoint(x.Position)
		id := int(x.PointerID)
		now := gtx.Now
		switch x.Kind {
		case pointer.Press:
			gtx.Execute(key.FocusCmd{Tag: tag})
			g.PointerDown(id, p, now)
		case pointer.Drag:
			g.PointerMove(id, p, now)
		case pointer.Release:
			g.PointerUp(id, p, now)
		case pointer.Cancel:
			g.PointerCancel()
		case pointer.Scroll:
			g.Wheel(float64(x.Scroll.Y), p)
		}
	}

	filters := make([]event.Filter, 0, len(keyBindings)+1)
	filters = append(filters, key.FocusFilter{Target: tag})
	for name := range keyBindings {
		filters = append(filters, key.Filter{Focus: tag, Name: name})
	}
	for {
		ev, ok := gtx.Event(filters...)
		if !ok {
			break
		}
		if e, ok := ev.(key.Event); ok && e.State == key.Press {
			if k, ok := keyBindings[e.Name]; ok {
				g.Key(k)
			}
		}
	}

	defer clip.Rect{Max: mv.size}.Push(gtx.Ops).Pop()
	event.Op(gtx.Ops, tag)

	surface := NewGioSurface(gtx.Ops, mv.size, mv.ops)
	mv.Map.Frame(surface, gtx.Now)
	mv.ops.Sweep()
	mv.Map.RunIdle(mv.IdleBudget)

	if mv.Map.NeedsFrame() {
		gtx.Execute(op.InvalidateCmd{})
	}
	return layout.Dimensions{Size: mv.size}
}

func toPoint(p f32.Point) Point {
	return Point{X: float64(p.X), Y: float64(p.Y)}
}
