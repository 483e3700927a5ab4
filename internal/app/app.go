// Package app assembles a map from configuration. Both binaries share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"image/color"

	"github.com/olablt/slippymap/mapview"
	"github.com/olablt/slippymap/pkg/config"
	"github.com/olablt/slippymap/pkg/debugserver"
	"github.com/olablt/slippymap/pkg/logger"
	"github.com/olablt/slippymap/pkg/metrics"
	"github.com/olablt/slippymap/pkg/telemetry"
	"github.com/olablt/slippymap/sched"
	"github.com/olablt/slippymap/tiles"
	"github.com/olablt/slippymap/tiles/cache"
)

var backgroundColor = color.NRGBA{R: 0xdd, G: 0xdd, B: 0xdd, A: 0xff}

type App struct {
	Log     logger.Logger
	Loop    *sched.Loop
	Map     *mapview.Map
	Tiles   *mapview.TileLayer
	Metrics *metrics.Metrics

	debug    *debugserver.Server
	closers  []func(context.Context) error
	offEvent func()
}

type Options struct {
	// PixelRatio is the device pixel ratio used by the auto retina mode.
	PixelRatio float32
	// Fetcher replaces the HTTP fetcher.
	Fetcher tiles.Fetcher
}

func New(cfg *config.Config, l logger.Logger, opts Options) (*App, error) {
	l = logger.OrNop(l)
	a := &App{Log: l}

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(telemetry.Config{
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: cfg.Telemetry.ServiceVersion,
			Environment:    cfg.Telemetry.Environment,
			OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		}, l)
		if err != nil {
			return nil, fmt.Errorf("init telemetry: %w", err)
		}
		a.closers = append(a.closers, shutdown)
	}

	tmpl, err := tiles.ParseURLTemplate(cfg.Tiles.URLTemplate, cfg.Tiles.Subdomains...)
	if err != nil {
		return nil, err
	}
	mode, err := tiles.ParseRetinaMode(cfg.Tiles.RetinaMode)
	if err != nil {
		return nil, err
	}
	ratio := opts.PixelRatio
	if ratio <= 0 {
		ratio = 1
	}

	a.Metrics = metrics.New(nil)
	a.Loop = sched.New(sched.WithLogger(l))
	events := tiles.NewEmitter()
	a.offEvent = a.Metrics.Subscribe(events)
	a.Map = mapview.New(a.Loop, mapview.Options{
		View: tiles.View{
			Center:  tiles.LatLng{Lat: cfg.Map.Lat, Lng: cfg.Map.Lng},
			Zoom:    cfg.Map.Zoom,
			Bearing: cfg.Map.Bearing,
		},
		MinZoom: cfg.Map.MinZoom,
		MaxZoom: cfg.Map.MaxZoom,
		Events:  events,
		Logger:  l,
		OnFrame: func(s mapview.FrameStats) {
			a.Metrics.ObserveFrame(s.Duration, s.TilesMissing)
		},
	})

	grid := tiles.DefaultGridOptions()
	grid.MinZoom, grid.MaxZoom = cfg.Map.MinZoom, cfg.Map.MaxZoom
	grid.WorldWrap = cfg.Tiles.WorldWrap
	a.Tiles = mapview.NewTileLayer(mapview.TileLayerOptions{
		Source:  tiles.NewSource(tmpl, mode, ratio),
		Fetcher: opts.Fetcher,
		Grid:    grid,
		Cache: cache.Options{
			MaxSize:        cfg.Cache.MaxSize,
			MemoryBudgetMB: cfg.Cache.MemoryBudgetMB,
			Probe:          cache.RuntimeProbe(),
		},
		Timeout: cfg.Tiles.Timeout,
		Retry: tiles.RetryPolicy{
			MaxRetries: cfg.Tiles.MaxRetries,
			BaseDelay:  cfg.Tiles.RetryBaseDelay,
			MaxDelay:   cfg.Tiles.RetryMaxDelay,
		},
		TTL:       cfg.Tiles.TTL,
		Workers:   cfg.Tiles.Workers,
		UserAgent: cfg.Tiles.UserAgent,
		OnError: func(e *tiles.TileError) {
			l.Debug("tile error", "kind", e.Kind.String(), "context", e.Context)
		},
		Logger: l,
	})

	if err := a.Map.AddLayer(mapview.NewBackgroundLayer(backgroundColor)); err != nil {
		return nil, err
	}
	if err := a.Map.AddLayer(a.Tiles); err != nil {
		return nil, err
	}
	tileCache := a.Tiles.Cache()
	a.Metrics.WatchCache(func() *cache.Cache { return tileCache })

	if cfg.Debug.Enabled {
		a.debug = debugserver.New(debugserver.Options{
			Addr:     cfg.Debug.Addr,
			Registry: a.Metrics.Registry(),
			Tracing:  cfg.Telemetry.Enabled,
			Logger:   l,
			Sources: debugserver.Sources{
				View:  func() any { return a.Map.Snapshot() },
				Cache: func() any { return tileCache.Stats() },
			},
		})
		a.closers = append(a.closers, a.debug.Shutdown)
	}

	l.Info("map ready",
		"template", tmpl.String(),
		"retina", string(mode),
		"zoom", cfg.Map.Zoom,
		"cache_max", cfg.Cache.MaxSize,
	)
	return a, nil
}

// Start launches the background services.
func (a *App) Start() {
	if a.debug != nil {
		a.debug.Start()
	}
}

// Close removes the layers, cancelling in-flight loads, and stops the
// background services.
func (a *App) Close(ctx context.Context) error {
	a.Map.Close()
	a.Loop.Close()
	a.offEvent()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
