// topoflow-meter is the headless companion of the viewer: it follows the
// connections feed and accumulates lifetime per-proxy transfer totals into
// the shared traffic store.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"

	"github.com/kvollmer/topoflow/pkg/clashapi"
	"github.com/kvollmer/topoflow/pkg/config"
	"github.com/kvollmer/topoflow/pkg/utils"
)

var cli struct {
	URL      string        `help:"Controller API URL."`
	Secret   string        `help:"Controller API secret."`
	Store    string        `help:"Traffic store directory (default: XDG cache dir)." type:"path"`
	Interval time.Duration `help:"Flush interval." default:"5s"`
	Debug    bool          `help:"Enable debug logging."`
}

// accumulator folds per-connection rates into per-proxy byte deltas between
// flushes. Rates are bytes/second; multiplying by the time between
// snapshots recovers the transferred bytes.
type accumulator struct {
	mu     sync.Mutex
	last   time.Time
	deltas map[string]utils.TransferTotals
}

func (a *accumulator) observe(snap *clashapi.TrafficSnapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.last.IsZero() {
		a.last = snap.At
		return
	}
	elapsed := snap.At.Sub(a.last).Seconds()
	a.last = snap.At
	if elapsed <= 0 || elapsed > 60 {
		return
	}
	for i := range snap.Conns {
		c := &snap.Conns[i]
		if len(c.Chains) == 0 {
			continue
		}
		proxy := c.Chains[0]
		d := a.deltas[proxy]
		d.Upload += uint64(c.UploadSpeed * elapsed)
		d.Download += uint64(c.DownloadSpeed * elapsed)
		a.deltas[proxy] = d
	}
}

func (a *accumulator) drain() map[string]utils.TransferTotals {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.deltas
	a.deltas = make(map[string]utils.TransferTotals)
	return out
}

func main() {
	kong.Parse(&cli,
		kong.Name("topoflow-meter"),
		kong.Description("Headless lifetime transfer totals collector."))

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
	})
	if cli.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	log.SetDefault(logger)

	cfg := config.Load()
	if cli.URL != "" {
		cfg.API.URL = cli.URL
	}
	if cli.Secret != "" {
		cfg.API.Secret = cli.Secret
	}
	storePath := cli.Store
	if storePath == "" {
		storePath = cfg.Store.Path
	}
	if storePath == "" {
		storePath = config.CacheDir()
	}

	store, err := utils.OpenTrafficStore(storePath)
	if err != nil {
		logger.Fatal("opening traffic store", "path", storePath, "err", err)
	}
	defer store.Close()

	acc := &accumulator{deltas: make(map[string]utils.TransferTotals)}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	flush := func() {
		deltas := acc.drain()
		if len(deltas) == 0 {
			return
		}
		if err := store.BatchAdd(deltas); err != nil {
			logger.Error("flushing totals", "err", err)
			return
		}
		logger.Debug("flushed totals", "proxies", len(deltas))
	}
	go func() {
		ticker := time.NewTicker(cli.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				flush()
			case <-ctx.Done():
				return
			}
		}
	}()

	client := clashapi.NewClient(cfg.API.URL, cfg.API.Secret)
	client.Logger = logger
	logger.Info("metering", "url", cfg.API.URL, "store", storePath)
	if err := client.StreamConnections(ctx, acc.observe); err != nil && ctx.Err() == nil {
		logger.Error("connections feed stopped", "err", err)
	}
	flush()
}
