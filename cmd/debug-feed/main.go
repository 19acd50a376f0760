// debug-feed inspects the /connections stream: it prints per-snapshot
// aggregates (or raw JSON) so feed problems can be diagnosed without
// starting the viewer.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"

	"github.com/kvollmer/topoflow/pkg/clashapi"
	"github.com/kvollmer/topoflow/pkg/config"
	"github.com/kvollmer/topoflow/pkg/utils"
)

var cli struct {
	URL    string `help:"Controller API URL."`
	Secret string `help:"Controller API secret."`
	Count  int    `help:"Number of snapshots to print before exiting (0 = forever)." default:"10"`
	JSON   bool   `help:"Print raw snapshots as JSON."`
	Debug  bool   `help:"Enable debug logging."`
}

func main() {
	kong.Parse(&cli,
		kong.Name("debug-feed"),
		kong.Description("Connection feed inspector."))

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

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client := clashapi.NewClient(cfg.API.URL, cfg.API.Secret)
	client.Logger = logger

	seen := 0
	err := client.StreamConnections(ctx, func(snap *clashapi.TrafficSnapshot) {
		if cli.JSON {
			if data, err := json.MarshalIndent(snap, "", "  "); err == nil {
				fmt.Println(string(data))
			}
		} else {
			printSummary(snap)
		}
		seen++
		if cli.Count > 0 && seen >= cli.Count {
			cancel()
		}
	})
	if err != nil && ctx.Err() == nil {
		logger.Fatal("stream", "err", err)
	}
}

func printSummary(snap *clashapi.TrafficSnapshot) {
	byChain := make(map[string]int)
	byClient := make(map[string]int)
	for i := range snap.Conns {
		c := &snap.Conns[i]
		chain := "(empty)"
		if len(c.Chains) > 0 {
			chain = c.Chains[len(c.Chains)-1] + " → " + c.Chains[0]
		}
		byChain[chain]++
		ip := c.Metadata.SourceIP
		if ip == "" {
			ip = "(inner)"
		}
		byClient[ip]++
	}

	fmt.Printf("%s  %d connections  up %s  down %s\n",
		snap.At.Format("15:04:05"), len(snap.Conns),
		utils.FormatRate(snap.TotalUp), utils.FormatRate(snap.TotalDown))
	for _, line := range sortedCounts(byChain) {
		fmt.Printf("  chain  %s\n", line)
	}
	for _, line := range sortedCounts(byClient) {
		fmt.Printf("  client %s\n", line)
	}
	fmt.Println()
}

func sortedCounts(m map[string]int) []string {
	type kv struct {
		k string
		v int
	}
	entries := make([]kv, 0, len(m))
	for k, v := range m {
		entries = append(entries, kv{k, v})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].v != entries[j].v {
			return entries[i].v > entries[j].v
		}
		return entries[i].k < entries[j].k
	})
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, fmt.Sprintf("%-40s %d", e.k, e.v))
	}
	return out
}
