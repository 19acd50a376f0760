package main

import (
	"context"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"
	"github.com/hajimehoshi/ebiten/v2"
	_ "github.com/silbinarywolf/preferdiscretegpu"

	"github.com/kvollmer/topoflow/pkg/clashapi"
	"github.com/kvollmer/topoflow/pkg/config"
	"github.com/kvollmer/topoflow/pkg/topoengine"
	"github.com/kvollmer/topoflow/pkg/utils"
)

var cli struct {
	Config       string `help:"Config file path (default: XDG config dir)." type:"path"`
	URL          string `help:"Controller API URL."`
	Secret       string `help:"Controller API secret."`
	Alignment    string `help:"Column alignment: center or top." enum:"center,top,"`
	TPS          int    `help:"Ticks per second (engine updates)."`
	WindowWidth  int    `help:"Window width."`
	WindowHeight int    `help:"Window height."`
	MusicDir     string `help:"Directory of MP3 files for ambient playback." type:"path"`
	Debug        bool   `help:"Enable debug logging."`
}

func main() {
	kong.Parse(&cli,
		kong.Name("topoflow"),
		kong.Description("Real-time network topology viewer for a mihomo/Clash-compatible proxy client."))

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
	})
	if cli.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	log.SetDefault(logger)

	cfg := config.Load()
	if cli.Config != "" {
		cfg = config.LoadFrom(cli.Config)
	}
	if cli.URL != "" {
		cfg.API.URL = cli.URL
	}
	if cli.Secret != "" {
		cfg.API.Secret = cli.Secret
	}
	if cli.Alignment != "" {
		cfg.View.Alignment = cli.Alignment
	}
	if cli.TPS > 0 {
		cfg.View.TPS = cli.TPS
	}
	if cli.WindowWidth > 0 {
		cfg.View.Width = cli.WindowWidth
	}
	if cli.WindowHeight > 0 {
		cfg.View.Height = cli.WindowHeight
	}
	if cli.MusicDir != "" {
		cfg.Audio.MusicDir = cli.MusicDir
	}

	var store *utils.TrafficStore
	if !cfg.Store.Disabled {
		path := cfg.Store.Path
		if path == "" {
			path = config.CacheDir()
		}
		var err error
		store, err = utils.OpenTrafficStore(path)
		if err != nil {
			logger.Warn("traffic store unavailable", "path", path, "err", err)
		} else {
			defer store.Close()
		}
	}

	var geo *utils.GeoService
	if cfg.GeoIP.Database != "" {
		if err := utils.EnsureFile(cfg.GeoIP.URL, cfg.GeoIP.Database); err != nil {
			logger.Warn("geoip database unavailable", "err", err)
		} else if g, err := utils.OpenGeoService(cfg.GeoIP.Database); err != nil {
			logger.Warn("opening geoip database", "err", err)
		} else {
			geo = g
			defer geo.Close()
		}
	}

	alignment := topoengine.AlignCenter
	if cfg.View.Alignment == "top" {
		alignment = topoengine.AlignTop
	}
	engine := topoengine.NewEngine(topoengine.Options{
		Width:         cfg.View.Width,
		Height:        cfg.View.Height,
		Alignment:     alignment,
		AutoFit:       cfg.View.AutoFit,
		Panel:         cfg.View.Panel,
		ClientAliases: cfg.Clients,
		Store:         store,
		Geo:           geo,
		Logger:        logger,
	})
	engine.StartMemoryWatcher()

	if cfg.Audio.MusicDir != "" {
		player := topoengine.NewAudioPlayer(cfg.Audio.MusicDir)
		player.Logger = logger
		engine.AttachAudio(player)
		player.Start()
	}

	client := clashapi.NewClient(cfg.API.URL, cfg.API.Secret)
	client.Logger = logger

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Rules and groups refresh in the background; the first fetch happens
	// before the window opens so the initial graph attributes correctly.
	refresh := func() {
		fetchCtx, done := context.WithTimeout(ctx, 10*time.Second)
		defer done()
		if rules, err := client.FetchRules(fetchCtx); err != nil {
			logger.Warn("fetching rules", "err", err)
		} else {
			engine.SetRules(rules)
		}
		if proxies, err := client.FetchProxies(fetchCtx); err != nil {
			logger.Warn("fetching proxies", "err", err)
		} else {
			engine.SetGroups(clashapi.GroupNames(proxies))
		}
	}
	refresh()
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				refresh()
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		err := client.StreamConnections(ctx, engine.SubmitTraffic)
		if err != nil && ctx.Err() == nil {
			logger.Error("connections feed stopped", "err", err)
		}
	}()

	ebiten.SetTPS(cfg.View.TPS)
	ebiten.SetWindowSize(cfg.View.Width, cfg.View.Height)
	ebiten.SetWindowTitle("topoflow")
	if err := ebiten.RunGame(engine); err != nil {
		logger.Fatal("run", "err", err)
	}
	cancel()
	engine.Close()
}
