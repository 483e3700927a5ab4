// Command snapshot renders the configured view to a PNG without a window.
package main

import (
	"context"
	"flag"
	"image"
	"image/png"
	"log"
	"os"
	"time"

	internalapp "github.com/olablt/slippymap/internal/app"
	"github.com/olablt/slippymap/mapview"
	"github.com/olablt/slippymap/pkg/config"
	"github.com/olablt/slippymap/pkg/logger"
)

func main() {
	out := flag.String("o", "map.png", "output file")
	wait := flag.Duration("wait", 20*time.Second, "give up waiting for tiles after this long")
	flag.Parse()

	cfg, err := config.New()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	l := logger.NewZapLogger(cfg.Logger.Level)
	defer l.Sync()

	a, err := internalapp.New(cfg, l, internalapp.Options{PixelRatio: 1})
	if err != nil {
		l.Fatal("failed to build map", "error", err)
	}
	a.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Close(ctx); err != nil {
			l.Error("shutdown", "error", err)
		}
	}()

	s := mapview.NewRasterSurface(image.Pt(cfg.Map.Width, cfg.Map.Height))
	stats := render(a, s, *wait)
	if stats.TilesMissing > 0 {
		l.Warn("writing incomplete snapshot", "missing", stats.TilesMissing)
	}

	f, err := os.Create(*out)
	if err != nil {
		l.Fatal("failed to create output", "error", err)
	}
	defer f.Close()
	if err := png.Encode(f, s.Image()); err != nil {
		l.Fatal("failed to encode png", "error", err)
	}
	l.Info("snapshot written", "file", *out, "tiles", stats.TilesDrawn, "frames", stats.Frame)
}

// render draws frames as loads complete until every visible tile is drawn or
// wait elapses.
func render(a *internalapp.App, s mapview.Surface, wait time.Duration) mapview.FrameStats {
	deadline := time.After(wait)
	for {
		stats := a.Map.Frame(s, time.Now())
		a.Map.RunIdle(10 * time.Millisecond)
		if stats.TilesMissing == 0 {
			return stats
		}
		select {
		case <-a.Loop.Wake():
		case <-deadline:
			return stats
		}
	}
}
