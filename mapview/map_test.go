package mapview

import (
	"context"
	"image"
	"image/color"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/olablt/slippymap/sched"
	"github.com/olablt/slippymap/tiles"
)

var testTemplate = tiles.MustParseURLTemplate("https://tile.example.org/{z}/{x}/{y}.png")

type fakeTiles struct {
	mu    sync.Mutex
	urls  []string
	block chan struct{}
	fail  func(url string) error
}

func (f *fakeTiles) Fetch(ctx context.Context, url string) (image.Image, error) {
	f.mu.Lock()
	f.urls = append(f.urls, url)
	block, fail := f.block, f.fail
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail != nil {
		if err := fail(url); err != nil {
			return nil, err
		}
	}
	return solidTile(color.RGBA{0, 128, 0, 255}, tiles.TileSize), nil
}

func (f *fakeTiles) fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.urls...)
}

func newTestMap(t *testing.T, f tiles.Fetcher, view tiles.View, configure ...func(*TileLayerOptions)) (*Map, *TileLayer) {
	t.Helper()
	loop := sched.New()
	m := New(loop, Options{View: view, MaxZoom: 19})
	grid := tiles.DefaultGridOptions()
	grid.PrefetchThreshold = 0
	opts := TileLayerOptions{
		Source:  tiles.NewSource(testTemplate, tiles.RetinaOff, 1),
		Fetcher: f,
		Grid:    grid,
		Timeout: time.Second,
		Retry:   tiles.RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		Workers: 2,
	}
	for _, fn := range configure {
		fn(&opts)
	}
	layer := NewTileLayer(opts)
	if err := m.AddLayer(NewBackgroundLayer(color.NRGBA{R: 200, G: 200, B: 200, A: 255})); err != nil {
		t.Fatal(err)
	}
	if err := m.AddLayer(layer); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		m.Close()
		loop.Close()
	})
	return m, layer
}

func renderUntil(t *testing.T, m *Map, s Surface, cond func(FrameStats) bool) FrameStats {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		st := m.Frame(s, time.Now())
		m.RunIdle(time.Millisecond)
		if cond(st) {
			return st
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not met, last frame %+v", st)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestColdViewportRequestsCenterFirst(t *testing.T) {
	f := &fakeTiles{block: make(chan struct{})}
	// a single worker takes queued loads strictly in priority order
	m, layer := newTestMap(t, f, tiles.View{Center: tiles.LatLng{}, Zoom: 3}, func(o *TileLayerOptions) { o.Workers = 1 })
	s := NewRasterSurface(image.Pt(800, 600))

	st := m.Frame(s, time.Now())
	if st.TilesDrawn != 0 || st.TilesMissing == 0 {
		t.Errorf("first frame = %+v, want all tiles missing", st)
	}
	if g := layer.Grid(); g.Tiles[0].Coord != (tiles.TileCoord{Z: 3, X: 4, Y: 4}) {
		t.Errorf("first grid tile = %v, want 3/4/4", g.Tiles[0].Coord)
	}

	deadline := time.Now().Add(time.Second)
	for len(f.fetched()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := f.fetched(); len(got) == 0 || got[0] != "https://tile.example.org/3/4/4.png" {
		t.Errorf("first fetch = %v, want the center tile", got)
	}
	// the background is drawn even though no tile is loaded
	if c := s.Image().RGBAAt(400, 300); c.R != 200 {
		t.Errorf("background pixel = %v", c)
	}
	close(f.block)
}

func TestFrameDrawsLoadedTiles(t *testing.T) {
	f := &fakeTiles{}
	m, layer := newTestMap(t, f, tiles.View{Center: tiles.LatLng{Lat: 10, Lng: 10}, Zoom: 4})
	s := NewRasterSurface(image.Pt(512, 512))

	renderUntil(t, m, s, func(st FrameStats) bool { return st.TilesMissing == 0 })
	if c := s.Image().RGBAAt(256, 256); c.G != 128 {
		t.Errorf("center pixel = %v, want tile color", c)
	}
	if n := layer.Manager().InFlight(); n != 0 {
		t.Errorf("InFlight() = %d, want 0", n)
	}
	snap := m.Snapshot()
	if snap.Size != image.Pt(512, 512) || snap.Stats.TilesDrawn == 0 {
		t.Errorf("Snapshot() = %+v", snap)
	}
}

func TestFailedTilesDrawPlaceholders(t *testing.T) {
	f := &fakeTiles{fail: func(url string) error {
		if strings.HasSuffix(url, "/4/8/7.png") {
			return &tiles.StatusError{Code: http.StatusNotFound, URL: url}
		}
		return nil
	}}
	var errs []*tiles.TileError
	loop := sched.New()
	defer loop.Close()
	m := New(loop, Options{View: tiles.View{Center: tiles.LatLng{Lat: 10, Lng: 10}, Zoom: 4}})
	layer := NewTileLayer(TileLayerOptions{
		Source:  tiles.NewSource(testTemplate, tiles.RetinaOff, 1),
		Fetcher: f,
		Grid:    tiles.DefaultGridOptions(),
		OnError: func(e *tiles.TileError) { errs = append(errs, e) },
	})
	if err := m.AddLayer(layer); err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	s := NewRasterSurface(image.Pt(512, 512))
	renderUntil(t, m, s, func(st FrameStats) bool { return st.TilesMissing == 0 })
	e, ok := layer.Cache().Peek("4/8/7")
	if !ok || !e.Placeholder {
		t.Fatalf("4/8/7 entry = %+v, want placeholder", e)
	}
	if len(errs) != 1 {
		t.Errorf("error hook calls = %d, want 1", len(errs))
	}
}

func TestPanCancelsTilesOutOfView(t *testing.T) {
	f := &fakeTiles{block: make(chan struct{})}
	defer close(f.block)
	m, layer := newTestMap(t, f, tiles.View{Center: tiles.LatLng{}, Zoom: 6})
	s := NewRasterSurface(image.Pt(256, 256))

	m.Frame(s, time.Now())
	before := layer.Grid().Keys()
	if layer.Manager().InFlight() == 0 {
		t.Fatal("no loads in flight")
	}

	m.Camera().SetView(tiles.View{Center: tiles.LatLng{Lat: 40, Lng: 100}, Zoom: 6})
	m.Frame(s, time.Now())
	for _, k := range before {
		if st := layer.Manager().State(k); st != tiles.StateUnrequested {
			t.Errorf("State(%s) = %v after moving away, want unrequested", k, st)
		}
	}
}

func TestEvictionRunsBetweenFrames(t *testing.T) {
	m, layer := newTestMap(t, &fakeTiles{}, tiles.View{Center: tiles.LatLng{}, Zoom: 5}, func(o *TileLayerOptions) {
		o.Cache.MaxSize = 30
	})
	s := NewRasterSurface(image.Pt(512, 512))

	for lng := 0.0; lng < 60; lng += 15 {
		m.Camera().SetView(tiles.View{Center: tiles.LatLng{Lng: lng}, Zoom: 5})
		renderUntil(t, m, s, func(st FrameStats) bool { return st.TilesMissing == 0 })
	}
	m.Frame(s, time.Now().Add(time.Second))
	m.RunIdle(time.Second)
	if n := layer.Cache().Len(); n > 30 {
		t.Errorf("cache Len() = %d after idle eviction, want <= 30", n)
	}
	for _, k := range layer.Grid().Keys() {
		if _, ok := layer.Cache().Peek(k); !ok {
			t.Errorf("visible tile %s was evicted", k)
		}
	}
}

func TestRemoveLayerCancelsAndClears(t *testing.T) {
	f := &fakeTiles{block: make(chan struct{})}
	defer close(f.block)
	m, layer := newTestMap(t, f, tiles.View{Center: tiles.LatLng{}, Zoom: 3})
	s := NewRasterSurface(image.Pt(256, 256))
	m.Frame(s, time.Now())
	mgr, c := layer.Manager(), layer.Cache()

	if !m.RemoveLayer(layer) {
		t.Fatal("RemoveLayer() = false")
	}
	if mgr.InFlight() != 0 || c.Len() != 0 {
		t.Errorf("after removal InFlight=%d Len=%d, want 0/0", mgr.InFlight(), c.Len())
	}
	st := m.Frame(s, time.Now())
	if st.Layers != 1 {
		t.Errorf("Layers = %d, want 1", st.Layers)
	}
}

func TestPrefetchStaysWithinCacheBound(t *testing.T) {
	f := &fakeTiles{}
	m, layer := newTestMap(t, f, tiles.View{Center: tiles.LatLng{}, Zoom: 5}, func(o *TileLayerOptions) {
		o.Cache.MaxSize = 30
		o.Grid.PrefetchThreshold = 0.15
	})
	s := NewRasterSurface(image.Pt(512, 512))

	renderUntil(t, m, s, func(st FrameStats) bool { return st.TilesMissing == 0 })
	visible := len(layer.Grid().Keys())
	if n := len(layer.Grid().Prefetch); n != 30-visible {
		t.Errorf("prefetch = %d tiles, want %d", n, 30-visible)
	}

	// let prefetch and eviction passes run until fetching stops
	now := time.Now()
	settled := -1
	for i := 0; i < 50; i++ {
		now = now.Add(evictInterval)
		m.Frame(s, now)
		m.RunIdle(10 * time.Millisecond)
		time.Sleep(time.Millisecond)
		n := len(f.fetched())
		if n == settled && layer.Manager().InFlight() == 0 {
			break
		}
		settled = n
	}
	before := len(f.fetched())
	for i := 0; i < 10; i++ {
		now = now.Add(evictInterval)
		m.Frame(s, now)
		m.RunIdle(10 * time.Millisecond)
	}
	if after := len(f.fetched()); after != before {
		t.Errorf("fetches grew from %d to %d on a still view", before, after)
	}
	if n := layer.Cache().Len(); n > 30 {
		t.Errorf("cache Len() = %d, want <= 30", n)
	}
}
