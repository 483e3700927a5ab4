package mapview

import (
	"errors"
	"net/http"
	"time"

	"github.com/olablt/slippymap/pkg/logger"
	"github.com/olablt/slippymap/tiles"
	"github.com/olablt/slippymap/tiles/cache"
	"github.com/olablt/slippymap/tiles/worker"
)

const evictInterval = 500 * time.Millisecond

type TileLayerOptions struct {
	Source  tiles.Source
	Fetcher tiles.Fetcher
	Grid    tiles.GridOptions
	Cache   cache.Options
	Timeout time.Duration
	Retry   tiles.RetryPolicy
	// TTL is both the stale-refresh age of visible tiles and the eviction age
	// of tiles out of view.
	TTL       time.Duration
	Workers   int
	UserAgent string
	OnError   tiles.ErrorHook
	Logger    logger.Logger
}

// TileLayer draws a raster tile source. It owns its cache, load pipeline and
// fetch workers; two layers never share them.
type TileLayer struct {
	opts    TileLayerOptions
	log     logger.Logger
	cache   *cache.Cache
	manager *tiles.Manager
	pool    *worker.Pool
	m       *Map

	grid      *tiles.Grid
	lastEvict time.Time
}

func NewTileLayer(opts TileLayerOptions) *TileLayer {
	if opts.Workers <= 0 {
		opts.Workers = 6
	}
	if opts.Timeout <= 0 {
		opts.Timeout = tiles.DefaultTimeout
	}
	return &TileLayer{opts: opts, log: logger.OrNop(opts.Logger)}
}

func (l *TileLayer) OnAdd(m *Map) error {
	if l.m != nil {
		return errors.New("tile layer already added to a map")
	}
	fetcher := l.opts.Fetcher
	if fetcher == nil {
		fetcher = tiles.NewHTTPFetcher(&http.Client{Timeout: 2 * l.opts.Timeout}, l.opts.UserAgent, 0)
	}

	var mgr *tiles.Manager
	copts := l.opts.Cache
	if copts.TTL == 0 {
		copts.TTL = l.opts.TTL
	}
	copts.Scheduler = m.loop
	copts.Logger = l.log
	copts.Protect = func(key string) bool { return mgr != nil && mgr.Wanted(key) }
	userPressure := copts.OnPressure
	copts.OnPressure = func(usage, budget float64, evicted int) {
		m.events.Emit(tiles.Event{Kind: tiles.EventCacheWarning, MemoryMB: usage, BudgetMB: budget})
		if userPressure != nil {
			userPressure(usage, budget, evicted)
		}
	}
	c := cache.New(copts)
	pool := worker.NewPool(l.opts.Workers)

	mgr, err := tiles.NewManager(tiles.ManagerOptions{
		Source:     l.opts.Source,
		Fetcher:    fetcher,
		Cache:      c,
		Scheduler:  m.loop,
		Pool:       pool,
		Timeout:    l.opts.Timeout,
		Retry:      l.opts.Retry,
		StaleAfter: l.opts.TTL,
		WorldWrap:  l.opts.Grid.WorldWrap,
		Events:     m.events,
		OnError:    l.opts.OnError,
		Logger:     l.log,
	})
	if err != nil {
		pool.Shutdown()
		return err
	}
	l.m, l.cache, l.manager, l.pool = m, c, mgr, pool
	return nil
}

// OnRemove cancels every in-flight load silently and drops the cache.
func (l *TileLayer) OnRemove(*Map) {
	if l.m == nil {
		return
	}
	l.manager.CancelAll()
	l.cache.Clear()
	go l.pool.Shutdown()
	l.m = nil
}

func (l *TileLayer) Render(fc *FrameContext, s Surface) {
	if l.m == nil {
		return
	}
	g := tiles.ComputeGrid(fc.View, fc.Size, l.opts.Grid)
	l.grid = g

	wanted := g.Keys()
	// prefetch only into the room the visible tiles leave in the cache;
	// protected tiles past the bound would be evicted and fetched again
	g.Prefetch = g.Prefetch[:max(0, min(len(g.Prefetch), l.cache.MaxSize()-len(wanted)))]
	for _, c := range g.Prefetch {
		wanted = append(wanted, c.Key())
	}
	l.manager.SetWanted(wanted)

	for _, t := range g.Tiles {
		e, ok := l.cache.Get(t.Coord.Key())
		if !ok || !e.Loaded || e.Image == nil {
			l.manager.Request(t.Coord, worker.PriorityVisible)
			fc.TilesMissing++
			continue
		}
		// refresh stale tiles while they stay on screen
		l.manager.Request(t.Coord, worker.PriorityVisible)
		s.DrawImage(e.Image, tileTransform(g, t, e.Image.Bounds().Dx()))
		fc.TilesDrawn++
	}
}

// AfterFrame queues the prefetch pass and, at most every evictInterval, an
// eviction pass. Both run at the loop's next idle point.
func (l *TileLayer) AfterFrame(fc *FrameContext) {
	if l.m == nil || l.grid == nil {
		return
	}
	if prefetch := l.grid.Prefetch; len(prefetch) > 0 {
		task := func() {
			if l.m != nil {
				l.manager.Prefetch(prefetch)
			}
		}
		if !l.m.loop.Defer(task) {
			l.m.loop.After(evictInterval/10, task)
		}
	}
	if fc.Now.Sub(l.lastEvict) >= evictInterval {
		l.lastEvict = fc.Now
		l.cache.ScheduleEvict()
		l.manager.Prune()
	}
}

func (l *TileLayer) Cache() *cache.Cache { return l.cache }

func (l *TileLayer) Manager() *tiles.Manager { return l.manager }

// Grid returns the grid of the last rendered frame.
func (l *TileLayer) Grid() *tiles.Grid { return l.grid }
