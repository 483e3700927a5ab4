package main

import (
	"context"
	"log"
	"os"
	"time"

	"gioui.org/app"
	"gioui.org/op"
	"gioui.org/unit"

	internalapp "github.com/olablt/slippymap/internal/app"
	"github.com/olablt/slippymap/mapview"
	"github.com/olablt/slippymap/pkg/config"
	"github.com/olablt/slippymap/pkg/logger"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	l := logger.NewZapLogger(cfg.Logger.Level)
	defer l.Sync()

	go func() {
		w := new(app.Window)
		w.Option(
			app.Title("Map Viewer"),
			app.Size(unit.Dp(float32(cfg.Map.Width)), unit.Dp(float32(cfg.Map.Height))),
		)
		if err := run(w, cfg, l); err != nil {
			l.Error("viewer stopped", "error", err)
			os.Exit(1)
		}
		os.Exit(0)
	}()
	app.Main()
}

func run(w *app.Window, cfg *config.Config, l *logger.ZapLogger) error {
	var (
		ops op.Ops
		a   *internalapp.App
		mv  *mapview.MapView
	)
	defer func() {
		if a == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Close(ctx); err != nil {
			l.Error("shutdown", "error", err)
		}
	}()

	for {
		switch e := w.Event().(type) {
		case app.DestroyEvent:
			return e.Err
		case app.FrameEvent:
			gtx := app.NewContext(&ops, e)
			if a == nil {
				// the pixel ratio is known only once the window has a frame
				var err error
				a, err = internalapp.New(cfg, l, internalapp.Options{PixelRatio: gtx.Metric.PxPerDp})
				if err != nil {
					return err
				}
				a.Start()
				mv = mapview.NewMapView(a.Map)
				go func(wake <-chan struct{}) {
					for range wake {
						w.Invalidate()
					}
				}(a.Loop.Wake())
			}
			mv.Layout(gtx)
			e.Frame(gtx.Ops)
		}
	}
}
