package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/alexflint/go-arg"
	"github.com/go-redis/redis/v8"

	"classcal/internal/battery"
	"classcal/internal/capture"
	"classcal/internal/catalog"
	"classcal/internal/config"
	"classcal/internal/engine"
	"classcal/internal/ics"
	appLog "classcal/internal/log"
	"classcal/internal/period"
	"classcal/internal/playlist"
	"classcal/internal/web"
)

const version = "0.3.0"

// args are the command line flags. Anything set here wins over the
// config file.
type args struct {
	Config string `arg:"-c,--config" default:"/etc/classcal/config.yaml" help:"path to config file"`
	Listen string `arg:"--listen" help:"HTTP listen address (overrides config)"`
	Once   bool   `arg:"--once" help:"evaluate once, print the plan as JSON and exit"`
	Force  string `arg:"--force" help:"force a period id, skipping the calendar"`
	ICS    string `arg:"--ics" help:"use this calendar URL instead of the configured sources"`
	Debug  bool   `arg:"--debug" help:"debug logging"`
	Dump   bool   `arg:"--dump" help:"capture a PNG preview of the display after every cycle"`
}

func (args) Version() string { return "classcal " + version }

func (args) Description() string {
	return "classcal decides what a classroom display shows right now and serves it."
}

func main() {
	var a args
	arg.MustParse(&a)

	cfg, err := config.Load(a.Config)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", a.Config)
		os.Exit(1)
	}
	if a.Listen != "" {
		cfg.Listen = a.Listen
	}
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))
	if a.Debug {
		appLog.SetLevel(appLog.LevelDebug)
	}

	loc, err := cfg.Location()
	if err != nil {
		appLog.Error("invalid timezone", err, "timezone", cfg.Timezone)
		os.Exit(1)
	}

	appLog.Info("classcal starting",
		"version", version,
		"listen", cfg.Listen,
		"timezone", loc.String(),
		"refresh", cfg.RefreshCron,
		"ics_count", len(cfg.ICSURLs),
		"embed_probe", cfg.EmbedProbe,
		"once", a.Once,
		"dump", a.Dump,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	paths := catalog.Paths{
		Targets:       cfg.Catalogs.Targets,
		ClassMap:      cfg.Catalogs.ClassMap,
		Announcements: cfg.Catalogs.Announcements,
		Fallback:      cfg.Catalogs.Fallback,
	}
	cats := catalog.Load(ctx, paths)

	resolver := period.NewResolver(ics.NewFetcher(bodyCache(cfg)), period.NewHealth(), period.Options{
		Location:      loc,
		Grace:         cfg.Grace(),
		DaysBefore:    cfg.WindowDaysBefore,
		DaysAfter:     cfg.WindowDaysAfter,
		Sources:       period.BuildSources(cfg.ICSURLs, cfg.ICSProxyURL, cfg.ICSURL),
		EventMap:      cfg.EventMap,
		DefaultPeriod: cfg.DefaultThread,
		Fallback:      cats.Fallback,
	})
	eng := engine.New(resolver, cats, engine.Options{
		Location:         loc,
		PlaylistDuration: cfg.PlaylistDurationSec,
	})
	overrides := engine.Overrides{ForcePeriod: a.Force, CalendarURL: a.ICS}

	if a.Once {
		os.Exit(runOnce(ctx, eng, overrides))
	}

	assets := playlist.NewHTTPAssets(nil)
	var embed playlist.EmbedProbe = assets
	if cfg.EmbedProbe == config.EmbedProbeChromium {
		embed = &capture.ChromiumEmbedProbe{}
	}

	display := web.NewDisplaySink()
	seq := playlist.NewSequencer(display, assets, embed, assets, playlist.Options{
		GlobalDuration: cfg.PlaylistDurationSec,
		ProbeTimeout:   cfg.ProbeTimeout(),
		SlidesGrace:    cfg.SlidesGrace(),
	})

	previewPath := ""
	publish := display.Publish
	if a.Dump {
		previewPath = filepath.Join(cfg.CacheDir, "preview.png")
		publish = withPreview(ctx, display, cfg, previewPath)
	}

	runner := engine.NewRunner(eng, seq, engine.RunnerOptions{
		Spec:      cfg.RefreshCron,
		Overrides: overrides,
		Reload: func(ctx context.Context) *catalog.Catalogs {
			return catalog.Load(ctx, paths)
		},
		Publish: publish,
	})

	srv := web.NewServer(web.Deps{
		Config:      cfg,
		Engine:      eng,
		Runner:      runner,
		Display:     display,
		Battery:     battery.NewCached(battery.Detect(ctx, cfg.Battery.Bus, uint16(cfg.Battery.Addr)), 30*time.Second),
		PreviewPath: previewPath,
	})

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- srv.Serve(ctx)
	}()

	if err := runner.Start(ctx); err != nil {
		appLog.Error("failed to start refresh schedule", err)
		cancel()
	}

	select {
	case <-ctx.Done():
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("HTTP server stopped", err)
		}
		cancel()
	}

	runner.Stop()
	seq.Stop()
	appLog.Info("classcal exiting")
}

// runOnce evaluates a single cycle and prints the plan. It returns the
// process exit code.
func runOnce(ctx context.Context, eng *engine.Engine, ov engine.Overrides) int {
	plan, err := eng.Evaluate(ctx, time.Now(), ov)
	out, jerr := json.MarshalIndent(plan, "", "  ")
	if jerr != nil {
		appLog.Error("failed to encode plan", jerr)
		return 1
	}
	fmt.Println(string(out))
	if err != nil {
		appLog.Error("evaluation failed", err, "cycle_id", plan.CycleID)
		return 1
	}
	return 0
}

// bodyCache keeps the last good calendar bodies in Redis when configured,
// otherwise on disk.
func bodyCache(cfg *config.Config) ics.BodyCache {
	if cfg.Redis != nil {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		appLog.Info("calendar cache: redis", "addr", cfg.Redis.Addr, "db", cfg.Redis.DB)
		return ics.NewRedisCache(client, cfg.RedisTTL())
	}
	appLog.Info("calendar cache: disk", "dir", cfg.CacheDir)
	return ics.NewDiskCache(cfg.CacheDir)
}

// withPreview publishes the plan and then screenshots the display page.
// A capture still running when the next cycle lands is skipped.
func withPreview(ctx context.Context, display *web.DisplaySink, cfg *config.Config, out string) func(engine.Plan) {
	var busy atomic.Bool
	return func(p engine.Plan) {
		display.Publish(p)
		if cfg.BasicAuth != nil || !busy.CompareAndSwap(false, true) {
			return
		}
		go func() {
			defer busy.Store(false)
			err := capture.CapturePNG(ctx, capture.CaptureOptions{
				URL:        "http://" + cfg.Listen + "/",
				OutputPath: out,
			})
			if err != nil && ctx.Err() == nil {
				appLog.Error("preview capture failed", err, "cycle_id", p.CycleID)
			}
		}()
	}
}
