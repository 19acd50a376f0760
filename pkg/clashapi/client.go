package clashapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

// SnapshotCallback receives one decoded traffic snapshot per stream message.
type SnapshotCallback func(snap *TrafficSnapshot)

// Client talks to one controller instance.
type Client struct {
	BaseURL    string
	Secret     string
	HTTPClient *http.Client
	Logger     *log.Logger

	tracker *rateTracker
}

func NewClient(baseURL, secret string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Secret:     secret,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		tracker:    newRateTracker(),
	}
}

func (c *Client) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

// FetchProxies returns the full proxy/group registry.
func (c *Client) FetchProxies(ctx context.Context) (map[string]Proxy, error) {
	var payload struct {
		Proxies map[string]Proxy `json:"proxies"`
	}
	if err := c.getJSON(ctx, "/proxies", &payload); err != nil {
		return nil, err
	}
	return payload.Proxies, nil
}

// FetchRules returns the rule set in evaluation order.
func (c *Client) FetchRules(ctx context.Context) ([]Rule, error) {
	var payload struct {
		Rules []Rule `json:"rules"`
	}
	if err := c.getJSON(ctx, "/rules", &payload); err != nil {
		return nil, err
	}
	return payload.Rules, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	if c.Secret != "" {
		req.Header.Set("Authorization", "Bearer "+c.Secret)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status %s", path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("GET %s: decode: %w", path, err)
	}
	return nil
}

// StreamConnections subscribes to the /connections websocket and invokes cb
// for every snapshot, with per-connection rates derived from the cumulative
// counters. It reconnects with exponential backoff until ctx is done.
func (c *Client) StreamConnections(ctx context.Context, cb SnapshotCallback) error {
	wsURL, err := c.connectionsURL()
	if err != nil {
		return err
	}

	header := http.Header{}
	if c.Secret != "" {
		header.Set("Authorization", "Bearer "+c.Secret)
	}

	backoff := 1 * time.Second
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		c.logger().Debug("connecting to connections feed", "url", wsURL)
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger().Warn("feed dial failed", "err", err, "retry_in", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
			if backoff > 60*time.Second {
				backoff = 60 * time.Second
			}
			continue
		}
		backoff = 1 * time.Second
		c.logger().Info("connections feed connected")

		connCtx, cancel := context.WithCancel(ctx)
		go func() {
			<-connCtx.Done()
			conn.Close()
		}()

		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					c.logger().Warn("feed read failed, reconnecting", "err", err)
				}
				break
			}
			var snap ConnectionsSnapshot
			if json.Unmarshal(message, &snap) != nil {
				continue
			}
			cb(c.tracker.track(&snap, time.Now()))
		}
		cancel()
		conn.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		time.Sleep(time.Second)
	}
}

// connectionsURL converts the REST base URL into the websocket endpoint,
// carrying the secret as a token query parameter as the controller expects.
func (c *Client) connectionsURL() (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/connections"
	if c.Secret != "" {
		q := u.Query()
		q.Set("token", c.Secret)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

type rateSample struct {
	upload   int64
	download int64
	at       time.Time
}

// rateTracker turns the stream's cumulative per-connection byte counters
// into instantaneous rates by diffing consecutive samples. Counter
// regressions re-prime at rate zero; state for vanished connection ids is
// dropped.
type rateTracker struct {
	prev map[string]rateSample
}

func newRateTracker() *rateTracker {
	return &rateTracker{prev: make(map[string]rateSample)}
}

func (t *rateTracker) track(snap *ConnectionsSnapshot, now time.Time) *TrafficSnapshot {
	out := &TrafficSnapshot{
		At:    now,
		Conns: make([]ConnStats, 0, len(snap.Connections)),
	}
	seen := make(map[string]struct{}, len(snap.Connections))
	for _, conn := range snap.Connections {
		seen[conn.ID] = struct{}{}
		cs := ConnStats{Connection: conn}
		if prev, ok := t.prev[conn.ID]; ok {
			if elapsed := now.Sub(prev.at).Seconds(); elapsed > 0 {
				if conn.Upload >= prev.upload {
					cs.UploadSpeed = float64(conn.Upload-prev.upload) / elapsed
				}
				if conn.Download >= prev.download {
					cs.DownloadSpeed = float64(conn.Download-prev.download) / elapsed
				}
			}
		}
		t.prev[conn.ID] = rateSample{upload: conn.Upload, download: conn.Download, at: now}
		out.TotalUp += cs.UploadSpeed
		out.TotalDown += cs.DownloadSpeed
		out.Conns = append(out.Conns, cs)
	}
	for id := range t.prev {
		if _, ok := seen[id]; !ok {
			delete(t.prev, id)
		}
	}
	return out
}
