package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"logmux/src/internal/config"
	"logmux/src/internal/core"
	"logmux/src/internal/filter"
	"logmux/src/internal/limit"
	"logmux/src/internal/source"
	"logmux/src/internal/version"

	"github.com/lixenwraith/log"
	"github.com/lixenwraith/log/compat"
	"github.com/valyala/fasthttp"
)

var errNoSources = errors.New("no source files available")

// HTTPStreamer serves source discovery, live SSE streams, the status
// document, and the embedded viewer pages.
type HTTPStreamer struct {
	config     *config.HTTPConfig
	queueSize  int64
	registry   *source.Registry
	logger     *log.Logger
	netLimiter *limit.NetLimiter

	server    *fasthttp.Server
	done      chan struct{}
	wg        sync.WaitGroup
	startTime time.Time

	subsMu sync.Mutex
	subs   map[string]*Subscription

	indexPage     []byte
	dashboardPage []byte

	// Statistics
	activeClients   atomic.Int64
	totalClients    atomic.Uint64
	recordsStreamed atomic.Uint64
	heartbeatsSent  atomic.Uint64
}

func NewHTTPStreamer(cfg *config.HTTPConfig, queueSize int64, registry *source.Registry, logger *log.Logger) (*HTTPStreamer, error) {
	index, dashboard, err := renderPages(cfg)
	if err != nil {
		return nil, err
	}

	return &HTTPStreamer{
		config:        cfg,
		queueSize:     queueSize,
		registry:      registry,
		logger:        logger,
		netLimiter:    limit.New(cfg.NetLimit, logger),
		done:          make(chan struct{}),
		startTime:     time.Now(),
		subs:          make(map[string]*Subscription),
		indexPage:     index,
		dashboardPage: dashboard,
	}, nil
}

func (h *HTTPStreamer) Start(ctx context.Context) error {
	h.server = &fasthttp.Server{
		Name:             fmt.Sprintf("%s/%s", core.ServiceName, version.Short()),
		Handler:          h.requestHandler,
		DisableKeepalive: false,
		Logger:           compat.NewFastHTTPAdapter(h.logger),
	}

	addr := fmt.Sprintf("%s:%d", h.config.Host, h.config.Port)
	tlsEnabled := h.config.TLSCertFile != ""

	// Run server in separate goroutine to avoid blocking
	errChan := make(chan error, 1)
	go func() {
		h.logger.Info("msg", "HTTP streamer started",
			"component", "http_streamer",
			"host", h.config.Host,
			"port", h.config.Port,
			"stream_path", h.config.StreamPath,
			"files_path", h.config.FilesPath,
			"status_path", h.config.StatusPath,
			"tls_enabled", tlsEnabled)

		var err error
		if tlsEnabled {
			err = h.server.ListenAndServeTLS(addr, h.config.TLSCertFile, h.config.TLSKeyFile)
		} else {
			err = h.server.ListenAndServe(addr)
		}
		if err != nil {
			errChan <- err
		}
	}()

	// Monitor context for shutdown signal
	go func() {
		<-ctx.Done()
		if h.server != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			h.server.ShutdownWithContext(shutdownCtx)
		}
	}()

	// Check if server started successfully
	select {
	case err := <-errChan:
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

func (h *HTTPStreamer) Stop() {
	h.logger.Info("msg", "Stopping HTTP streamer",
		"component", "http_streamer")

	// Signal all stream loops to stop
	close(h.done)

	if h.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		h.server.ShutdownWithContext(ctx)
	}

	// Wait for active stream writers to finish their cleanup
	h.wg.Wait()
	h.netLimiter.Stop()

	h.logger.Info("msg", "HTTP streamer stopped",
		"component", "http_streamer")
}

func (h *HTTPStreamer) requestHandler(ctx *fasthttp.RequestCtx) {
	remoteAddr := ctx.RemoteAddr().String()

	if allowed, statusCode, message := h.netLimiter.CheckHTTP(remoteAddr); !allowed {
		h.logger.Warn("msg", "Net limited",
			"component", "http_streamer",
			"remote_addr", remoteAddr,
			"status_code", statusCode,
			"error", message)
		h.writeError(ctx, int(statusCode), message)
		return
	}

	switch string(ctx.Path()) {
	case h.config.StreamPath:
		h.handleStream(ctx)
	case h.config.FilesPath:
		h.handleFiles(ctx)
	case h.config.StatusPath:
		h.handleStatus(ctx)
	case "/":
		h.servePage(ctx, h.indexPage)
	case "/dashboard":
		if h.config.Dashboard.Enabled {
			h.servePage(ctx, h.dashboardPage)
		} else {
			h.writeNotFound(ctx)
		}
	default:
		h.writeNotFound(ctx)
	}
}

// handleFiles answers with the JSON array of currently available
// source names. A missing directory is an empty catalog, not an error.
func (h *HTTPStreamer) handleFiles(ctx *fasthttp.RequestCtx) {
	names, err := h.registry.ListSources()
	if err != nil {
		h.logger.Error("msg", "Failed to list source files",
			"component", "http_streamer",
			"error", err)
		h.writeError(ctx, fasthttp.StatusInternalServerError, "failed to list source files")
		return
	}
	if names == nil {
		names = []string{}
	}
	ctx.SetContentType("application/json")
	json.NewEncoder(ctx).Encode(names)
}

func (h *HTTPStreamer) handleStream(ctx *fasthttp.RequestCtx) {
	pred, err := filter.Compile(string(ctx.QueryArgs().Peek("filter")))
	if err != nil {
		h.writeError(ctx, fasthttp.StatusBadRequest, err.Error())
		return
	}

	names, err := h.resolveSelection(string(ctx.QueryArgs().Peek("files")))
	if err != nil {
		if errors.Is(err, source.ErrUnknownSource) || errors.Is(err, source.ErrInvalidName) || errors.Is(err, errNoSources) {
			h.writeError(ctx, fasthttp.StatusNotFound, err.Error())
		} else {
			h.writeError(ctx, fasthttp.StatusInternalServerError, err.Error())
		}
		return
	}

	remoteAddr := ctx.RemoteAddr().String()
	if !h.netLimiter.TryAddConnection(remoteAddr) {
		h.writeError(ctx, fasthttp.StatusTooManyRequests, "connection limit reached")
		return
	}

	sub, err := Open(h.registry, names, pred, h.queueSize)
	if err != nil {
		h.netLimiter.RemoveConnection(remoteAddr)
		h.logger.Error("msg", "Failed to open subscription",
			"component", "http_streamer",
			"remote_addr", remoteAddr,
			"error", err)
		h.writeError(ctx, fasthttp.StatusInternalServerError, "failed to open stream")
		return
	}

	h.trackSub(sub)
	h.totalClients.Add(1)
	connectCount := h.activeClients.Add(1)
	h.logger.Info("msg", "Stream client connected",
		"component", "http_streamer",
		"remote_addr", remoteAddr,
		"subscription_id", sub.ID,
		"sources", strings.Join(sub.Sources, ","),
		"filter", sub.Filter,
		"active_clients", connectCount)

	// Set SSE headers
	ctx.Response.Header.Set("Content-Type", "text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("Connection", "keep-alive")
	ctx.Response.Header.Set("Access-Control-Allow-Origin", "*")
	ctx.Response.Header.Set("X-Accel-Buffering", "no")

	h.wg.Add(1)
	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() {
			h.untrackSub(sub)
			sub.Close()
			h.netLimiter.RemoveConnection(remoteAddr)
			disconnectCount := h.activeClients.Add(-1)
			h.logger.Info("msg", "Stream client disconnected",
				"component", "http_streamer",
				"remote_addr", remoteAddr,
				"subscription_id", sub.ID,
				"active_clients", disconnectCount)
			h.wg.Done()
		}()

		if err := h.writeConnectedEvent(w, sub); err != nil {
			return
		}

		var ticker *time.Ticker
		var tickerChan <-chan time.Time
		if h.config.Heartbeat.Enabled {
			ticker = time.NewTicker(time.Duration(h.config.Heartbeat.IntervalSeconds) * time.Second)
			tickerChan = ticker.C
			defer ticker.Stop()
		}

		for {
			select {
			case rec := <-sub.Records():
				if err := writeSSERecord(w, rec.Raw); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
				h.recordsStreamed.Add(1)

			case <-tickerChan:
				if err := h.writeHeartbeat(w); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
				h.heartbeatsSent.Add(1)

			case <-h.done:
				fmt.Fprintf(w, "event: disconnect\ndata: {\"reason\":\"server_shutdown\"}\n\n")
				w.Flush()
				return
			}
		}
	})
}

// resolveSelection turns the files query parameter into a validated
// source list. An empty selection snapshots every available file. Any
// unknown or invalid name rejects the whole request.
func (h *HTTPStreamer) resolveSelection(raw string) ([]string, error) {
	var names []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			names = append(names, part)
		}
	}

	if len(names) == 0 {
		available, err := h.registry.ListSources()
		if err != nil {
			return nil, err
		}
		if len(available) == 0 {
			return nil, errNoSources
		}
		return available, nil
	}

	for _, name := range names {
		if err := h.registry.Resolve(name); err != nil {
			return nil, err
		}
	}
	return names, nil
}

func (h *HTTPStreamer) writeConnectedEvent(w *bufio.Writer, sub *Subscription) error {
	info := map[string]any{
		"subscription_id": sub.ID,
		"sources":         sub.Sources,
		"filter":          sub.Filter,
		"server":          core.ServiceName,
		"version":         version.Short(),
	}
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: connected\ndata: %s\n\n", data); err != nil {
		return err
	}
	return w.Flush()
}

// Records are delivered byte for byte as produced; SSE framing needs a
// data: prefix per line and a blank line terminator
func writeSSERecord(w *bufio.Writer, raw []byte) error {
	raw = bytes.TrimSuffix(raw, []byte{'\n'})
	for _, line := range bytes.Split(raw, []byte{'\n'}) {
		if _, err := fmt.Fprintf(w, "data: %s\n", line); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "\n")
	return err
}

// writeHeartbeat emits either an SSE comment or a named heartbeat
// event. Both forms are invisible to onmessage consumers, so viewer
// panels never render keep-alive traffic.
func (h *HTTPStreamer) writeHeartbeat(w *bufio.Writer) error {
	if h.config.Heartbeat.Format == "json" {
		hb := map[string]any{"type": "heartbeat"}
		if h.config.Heartbeat.IncludeTimestamp {
			hb["ts"] = time.Now().UTC().Format(time.RFC3339)
		}
		if h.config.Heartbeat.IncludeStats {
			hb["active_clients"] = h.activeClients.Load()
			hb["records_streamed"] = h.recordsStreamed.Load()
		}
		data, err := json.Marshal(hb)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "event: heartbeat\ndata: %s\n\n", data)
		return err
	}

	if h.config.Heartbeat.IncludeTimestamp {
		_, err := fmt.Fprintf(w, ": heartbeat %s\n\n", time.Now().UTC().Format(time.RFC3339))
		return err
	}
	_, err := fmt.Fprintf(w, ": heartbeat\n\n")
	return err
}

func (h *HTTPStreamer) handleStatus(ctx *fasthttp.RequestCtx) {
	ctx.SetContentType("application/json")

	status := map[string]any{
		"service": core.ServiceName,
		"version": version.Short(),
		"server": map[string]any{
			"host":           h.config.Host,
			"port":           h.config.Port,
			"tls":            h.config.TLSCertFile != "",
			"active_clients": h.activeClients.Load(),
			"uptime_seconds": int(time.Since(h.startTime).Seconds()),
		},
		"endpoints": map[string]string{
			"stream": h.config.StreamPath,
			"files":  h.config.FilesPath,
			"status": h.config.StatusPath,
		},
		"features": map[string]any{
			"heartbeat": map[string]any{
				"enabled":  h.config.Heartbeat.Enabled,
				"interval": h.config.Heartbeat.IntervalSeconds,
				"format":   h.config.Heartbeat.Format,
			},
			"dashboard": map[string]any{
				"enabled":        h.config.Dashboard.Enabled,
				"producer_match": h.config.Dashboard.ProducerMatch,
				"consumer_match": h.config.Dashboard.ConsumerMatch,
			},
			"net_limit": h.netLimiter.GetStats(),
		},
		"sources":       h.registry.GetStats(),
		"subscriptions": h.subscriptionStats(),
		"statistics": map[string]any{
			"total_clients":    h.totalClients.Load(),
			"records_streamed": h.recordsStreamed.Load(),
			"heartbeats_sent":  h.heartbeatsSent.Load(),
		},
	}

	data, _ := json.Marshal(status)
	ctx.SetBody(data)
}

func (h *HTTPStreamer) servePage(ctx *fasthttp.RequestCtx, page []byte) {
	ctx.SetContentType("text/html; charset=utf-8")
	ctx.SetBody(page)
}

func (h *HTTPStreamer) writeError(ctx *fasthttp.RequestCtx, statusCode int, message string) {
	ctx.SetStatusCode(statusCode)
	ctx.SetContentType("application/json")
	json.NewEncoder(ctx).Encode(map[string]string{
		"error": message,
	})
}

// Unknown paths answer with the endpoint catalog
func (h *HTTPStreamer) writeNotFound(ctx *fasthttp.RequestCtx) {
	endpoints := []string{"/", h.config.FilesPath, h.config.StreamPath, h.config.StatusPath}
	if h.config.Dashboard.Enabled {
		endpoints = append(endpoints, "/dashboard")
	}
	sort.Strings(endpoints)

	ctx.SetStatusCode(fasthttp.StatusNotFound)
	ctx.SetContentType("application/json")
	json.NewEncoder(ctx).Encode(map[string]any{
		"error":     "Not Found",
		"endpoints": endpoints,
	})
}

func (h *HTTPStreamer) trackSub(sub *Subscription) {
	h.subsMu.Lock()
	h.subs[sub.ID] = sub
	h.subsMu.Unlock()
}

func (h *HTTPStreamer) untrackSub(sub *Subscription) {
	h.subsMu.Lock()
	delete(h.subs, sub.ID)
	h.subsMu.Unlock()
}

func (h *HTTPStreamer) subscriptionStats() []SubscriptionStats {
	h.subsMu.Lock()
	stats := make([]SubscriptionStats, 0, len(h.subs))
	for _, sub := range h.subs {
		stats = append(stats, sub.GetStats())
	}
	h.subsMu.Unlock()

	sort.Slice(stats, func(i, j int) bool {
		return stats[i].CreatedAt.Before(stats[j].CreatedAt)
	})
	return stats
}

func (h *HTTPStreamer) GetStats() map[string]any {
	h.subsMu.Lock()
	subscriptions := len(h.subs)
	h.subsMu.Unlock()

	return map[string]any{
		"active_clients":   h.activeClients.Load(),
		"total_clients":    h.totalClients.Load(),
		"subscriptions":    subscriptions,
		"records_streamed": h.recordsStreamed.Load(),
		"heartbeats_sent":  h.heartbeatsSent.Load(),
	}
}
