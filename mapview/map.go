package mapview

import (
	"fmt"
	"image"
	"sync/atomic"
	"time"

	"github.com/olablt/slippymap/pkg/logger"
	"github.com/olablt/slippymap/sched"
	"github.com/olablt/slippymap/tiles"
)

type Options struct {
	View     tiles.View
	MinZoom  int
	MaxZoom  int
	Gestures GestureConfig
	Events   *tiles.Emitter
	Logger   logger.Logger
	// OnFrame receives the statistics of every rendered frame.
	OnFrame func(FrameStats)
}

type FrameStats struct {
	Frame        uint64        `json:"frame"`
	Duration     time.Duration `json:"duration"`
	TilesDrawn   int           `json:"tiles_drawn"`
	TilesMissing int           `json:"tiles_missing"`
	Layers       int           `json:"layers"`
}

// Snapshot is the state published after each frame for readers on other
// goroutines.
type Snapshot struct {
	View  tiles.View  `json:"view"`
	Size  image.Point `json:"size"`
	Stats FrameStats  `json:"stats"`
}

// Map is the render loop. Frame, the layer methods and the camera must be
// used from one goroutine, the one driving the loop.
type Map struct {
	loop     *sched.Loop
	camera   *Camera
	gestures *Gestures
	events   *tiles.Emitter
	log      logger.Logger
	onFrame  func(FrameStats)

	layers   []Layer
	frame    uint64
	snapshot atomic.Pointer[Snapshot]
}

func New(loop *sched.Loop, opts Options) *Map {
	if opts.Events == nil {
		opts.Events = tiles.NewEmitter()
	}
	if opts.MaxZoom == 0 {
		opts.MaxZoom = 19
	}
	if opts.Gestures == (GestureConfig{}) {
		opts.Gestures = DefaultGestureConfig()
	}
	m := &Map{
		loop:    loop,
		events:  opts.Events,
		log:     logger.OrNop(opts.Logger),
		onFrame: opts.OnFrame,
	}
	m.camera = NewCamera(opts.View, opts.MinZoom, opts.MaxZoom, opts.Events)
	m.gestures = NewGestures(m.camera, loop, opts.Gestures)
	m.snapshot.Store(&Snapshot{View: m.camera.View()})
	return m
}

func (m *Map) Camera() *Camera { return m.camera }

func (m *Map) Gestures() *Gestures { return m.gestures }

func (m *Map) Events() *tiles.Emitter { return m.events }

func (m *Map) Loop() *sched.Loop { return m.loop }

// AddLayer attaches l on top of the existing layers.
func (m *Map) AddLayer(l Layer) error {
	if err := l.OnAdd(m); err != nil {
		return fmt.Errorf("add layer: %w", err)
	}
	m.layers = append(m.layers, l)
	m.loop.RequestFrame()
	return nil
}

func (m *Map) RemoveLayer(l Layer) bool {
	for i, x := range m.layers {
		if x == l {
			m.layers = append(m.layers[:i], m.layers[i+1:]...)
			l.OnRemove(m)
			m.loop.RequestFrame()
			return true
		}
	}
	return false
}

// Close removes all layers.
func (m *Map) Close() {
	for len(m.layers) > 0 {
		m.RemoveLayer(m.layers[len(m.layers)-1])
	}
}

// Frame renders one frame onto s. Completed loads are applied first, then
// the camera advances and every layer draws the same view. Deferred work
// queued by layers runs later, in RunIdle.
func (m *Map) Frame(s Surface, now time.Time) FrameStats {
	start := time.Now()
	m.loop.RunPending()

	m.camera.SetSize(s.Size())
	if m.camera.Tick(now) {
		m.loop.RequestFrame()
	}

	fc := &FrameContext{View: m.camera.View(), Size: s.Size(), Now: now}
	for _, l := range m.layers {
		l.Render(fc, s)
	}
	for _, l := range m.layers {
		if af, ok := l.(afterFramer); ok {
			af.AfterFrame(fc)
		}
	}

	m.frame++
	stats := FrameStats{
		Frame:        m.frame,
		Duration:     time.Since(start),
		TilesDrawn:   fc.TilesDrawn,
		TilesMissing: fc.TilesMissing,
		Layers:       len(m.layers),
	}
	m.snapshot.Store(&Snapshot{View: fc.View, Size: fc.Size, Stats: stats})
	if m.onFrame != nil {
		m.onFrame(stats)
	}
	return stats
}

// RunIdle runs deferred work such as eviction for at most budget. Call it
// between frames.
func (m *Map) RunIdle(budget time.Duration) int {
	return m.loop.RunIdle(time.Now().Add(budget))
}

// NeedsFrame reports and clears a pending frame request.
func (m *Map) NeedsFrame() bool {
	return m.loop.TakeFrameRequest() || m.camera.Animating()
}

// Snapshot returns the state of the last frame. Safe for concurrent use.
func (m *Map) Snapshot() Snapshot {
	return *m.snapshot.Load()
}
