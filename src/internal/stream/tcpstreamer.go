package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"logmux/src/internal/config"
	"logmux/src/internal/core"
	"logmux/src/internal/filter"
	"logmux/src/internal/format"
	"logmux/src/internal/limit"
	"logmux/src/internal/source"

	"github.com/lixenwraith/log"
	"github.com/lixenwraith/log/compat"
	"github.com/panjf2000/gnet/v2"
)

// Rescan period for feeds that track every matching file
const tcpSourceRefreshInterval = 5 * time.Second

// TCPStreamer pushes one shared merged feed to every connected TCP
// client. The feed's sources, filter, and line format come from
// config; clients get whatever the feed carries, newline-delimited.
type TCPStreamer struct {
	config    *config.TCPConfig
	queueSize int64
	registry  *source.Registry
	logger    *log.Logger

	// Network
	server     *tcpServer
	engine     *gnet.Engine
	engineMu   sync.Mutex
	netLimiter *limit.NetLimiter

	// Feed
	feed      *Subscription
	mux       *Multiplexer
	pred      *filter.Predicate
	formatter format.Formatter

	// Sources attached in dynamic mode
	acqMu    sync.Mutex
	acquired map[string]*source.Tailer

	// Runtime
	done      chan struct{}
	wg        sync.WaitGroup
	startTime time.Time

	// Statistics
	activeConns     atomic.Int64
	totalConns      atomic.Uint64
	recordsStreamed atomic.Uint64

	// Error tracking
	writeErrors            atomic.Uint64
	consecutiveWriteErrors map[gnet.Conn]int
	errorMu                sync.Mutex
}

func NewTCPStreamer(cfg *config.TCPConfig, queueSize int64, registry *source.Registry, logger *log.Logger) (*TCPStreamer, error) {
	pred, err := filter.Compile(cfg.Filter)
	if err != nil {
		return nil, fmt.Errorf("invalid feed filter: %w", err)
	}
	formatter, err := format.New(cfg.Format, logger)
	if err != nil {
		return nil, err
	}

	return &TCPStreamer{
		config:                 cfg,
		queueSize:              queueSize,
		registry:               registry,
		logger:                 logger,
		netLimiter:             limit.New(cfg.NetLimit, logger),
		pred:                   pred,
		formatter:              formatter,
		acquired:               make(map[string]*source.Tailer),
		done:                   make(chan struct{}),
		startTime:              time.Now(),
		consecutiveWriteErrors: make(map[gnet.Conn]int),
	}, nil
}

func (t *TCPStreamer) Start(ctx context.Context) error {
	if err := t.openFeed(); err != nil {
		return err
	}

	t.server = &tcpServer{
		streamer: t,
		clients:  make(map[gnet.Conn]string),
	}

	t.wg.Add(1)
	go t.broadcastLoop(ctx)

	if len(t.config.Sources) == 0 {
		t.wg.Add(1)
		go t.refreshLoop(ctx)
	}

	addr := fmt.Sprintf("tcp://%s:%d", t.config.Host, t.config.Port)
	gnetLogger := compat.NewGnetAdapter(t.logger)

	var opts []gnet.Option
	opts = append(opts,
		gnet.WithLogger(gnetLogger),
		gnet.WithMulticore(true),
		gnet.WithReusePort(true),
	)

	errChan := make(chan error, 1)
	go func() {
		t.logger.Info("msg", "Starting TCP feed server",
			"component", "tcp_streamer",
			"port", t.config.Port)

		err := gnet.Run(t.server, addr, opts...)
		if err != nil {
			t.logger.Error("msg", "TCP feed server failed",
				"component", "tcp_streamer",
				"port", t.config.Port,
				"error", err)
		}
		errChan <- err
	}()

	// Monitor context for shutdown
	go func() {
		<-ctx.Done()
		t.engineMu.Lock()
		if t.engine != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			(*t.engine).Stop(shutdownCtx)
		}
		t.engineMu.Unlock()
	}()

	// Wait briefly for server to start or fail
	select {
	case err := <-errChan:
		close(t.done)
		t.wg.Wait()
		t.feed.Close()
		return err
	case <-time.After(100 * time.Millisecond):
		t.logger.Info("msg", "TCP feed started",
			"component", "tcp_streamer",
			"port", t.config.Port,
			"sources", strings.Join(t.feedSources(), ","),
			"filter", t.pred.String(),
			"format", t.formatter.Name())
		return nil
	}
}

// openFeed wires the shared subscription. Explicit sources attach once
// and must all exist; an empty list starts from whatever is currently
// available and keeps tracking new files as they appear.
func (t *TCPStreamer) openFeed() error {
	if len(t.config.Sources) > 0 {
		feed, err := Open(t.registry, t.config.Sources, t.pred, t.queueSize)
		if err != nil {
			return fmt.Errorf("failed to open feed: %w", err)
		}
		t.feed = feed
		return nil
	}

	t.feed = newSubscription(nil, t.pred.String(), t.queueSize)
	t.mux = &Multiplexer{sub: t.feed, pred: t.pred}
	t.feed.stop = func() {
		t.acqMu.Lock()
		defer t.acqMu.Unlock()
		for name, tl := range t.acquired {
			tl.Detach(t.mux)
			t.registry.Release(name)
		}
		t.acquired = make(map[string]*source.Tailer)
	}
	t.refreshSources()
	return nil
}

func (t *TCPStreamer) Stop() {
	t.logger.Info("msg", "Stopping TCP streamer",
		"component", "tcp_streamer")

	close(t.done)

	t.engineMu.Lock()
	engine := t.engine
	t.engineMu.Unlock()

	if engine != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		(*engine).Stop(ctx)
	}

	t.wg.Wait()
	t.feed.Close()
	t.netLimiter.Stop()

	t.logger.Info("msg", "TCP streamer stopped",
		"component", "tcp_streamer")
}

// broadcastLoop formats feed records and fans them out to every
// connected client.
func (t *TCPStreamer) broadcastLoop(ctx context.Context) {
	defer t.wg.Done()

	var ticker *time.Ticker
	var tickerChan <-chan time.Time
	if t.config.Heartbeat.Enabled {
		ticker = time.NewTicker(time.Duration(t.config.Heartbeat.IntervalSeconds) * time.Second)
		tickerChan = ticker.C
		defer ticker.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-t.feed.Records():
			data, err := t.formatter.Format(rec)
			if err != nil {
				t.logger.Error("msg", "Failed to format record",
					"component", "tcp_streamer",
					"error", err,
					"record_source", rec.Source)
				continue
			}
			t.recordsStreamed.Add(1)
			t.broadcastData(data)

		case <-tickerChan:
			rec, ok := t.heartbeatRecord()
			if !ok {
				continue
			}
			data, err := t.formatter.Format(rec)
			if err != nil {
				t.logger.Error("msg", "Failed to format heartbeat",
					"component", "tcp_streamer",
					"error", err)
				continue
			}
			t.broadcastData(data)

		case <-t.done:
			return
		}
	}
}

func (t *TCPStreamer) refreshLoop(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(tcpSourceRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.refreshSources()
		case <-ctx.Done():
			return
		case <-t.done:
			return
		}
	}
}

// refreshSources attaches files that appeared since the last scan.
// Attached files are never dropped; a deleted file's tailer keeps
// polling for it to come back.
func (t *TCPStreamer) refreshSources() {
	names, err := t.registry.ListSources()
	if err != nil {
		t.logger.Warn("msg", "Source rescan failed",
			"component", "tcp_streamer",
			"error", err)
		return
	}

	t.acqMu.Lock()
	defer t.acqMu.Unlock()
	for _, name := range names {
		if _, tracked := t.acquired[name]; tracked {
			continue
		}
		tl, err := t.registry.Acquire(name)
		if err != nil {
			t.logger.Warn("msg", "Failed to acquire new source",
				"component", "tcp_streamer",
				"source", name,
				"error", err)
			continue
		}
		tl.Attach(t.mux)
		t.acquired[name] = tl
		t.logger.Info("msg", "Feed tracking new source",
			"component", "tcp_streamer",
			"source", name)
	}
}

// broadcastData sends a formatted line to all connected clients.
func (t *TCPStreamer) broadcastData(data []byte) {
	t.server.mu.RLock()
	defer t.server.mu.RUnlock()

	for conn := range t.server.clients {
		conn.AsyncWrite(data, func(c gnet.Conn, err error) error {
			if err != nil {
				t.writeErrors.Add(1)
				t.handleWriteError(c, err)
			} else {
				t.errorMu.Lock()
				delete(t.consecutiveWriteErrors, c)
				t.errorMu.Unlock()
			}
			return nil
		})
	}
}

// handleWriteError closes connections that keep failing async writes.
func (t *TCPStreamer) handleWriteError(c gnet.Conn, err error) {
	t.errorMu.Lock()
	defer t.errorMu.Unlock()

	t.consecutiveWriteErrors[c]++
	errorCount := t.consecutiveWriteErrors[c]

	t.logger.Debug("msg", "AsyncWrite error",
		"component", "tcp_streamer",
		"error", err,
		"consecutive_errors", errorCount)

	// Close connection after 3 consecutive write errors
	if errorCount >= 3 {
		t.logger.Warn("msg", "Closing connection due to repeated write errors",
			"component", "tcp_streamer",
			"error_count", errorCount)
		delete(t.consecutiveWriteErrors, c)
		c.Close()
	}
}

// heartbeatRecord synthesizes a keep-alive record that flows through
// the feed formatter like any producer record.
func (t *TCPStreamer) heartbeatRecord() (core.LogRecord, bool) {
	doc := map[string]any{
		core.FieldLevel:     "INFO",
		core.FieldComponent: core.ServiceName,
		core.FieldEvent:     "heartbeat",
	}
	if t.config.Heartbeat.IncludeTimestamp {
		doc[core.FieldTimestamp] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if t.config.Heartbeat.IncludeStats {
		doc[core.FieldData] = map[string]any{
			"active_connections": t.activeConns.Load(),
			"uptime_seconds":     int64(time.Since(t.startTime).Seconds()),
		}
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return core.LogRecord{}, false
	}
	rec, err := core.ParseRecord(core.ServiceName, raw)
	if err != nil {
		return core.LogRecord{}, false
	}
	return rec, true
}

func (t *TCPStreamer) feedSources() []string {
	if len(t.config.Sources) > 0 {
		return append([]string(nil), t.config.Sources...)
	}

	t.acqMu.Lock()
	defer t.acqMu.Unlock()
	names := make([]string, 0, len(t.acquired))
	for name := range t.acquired {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (t *TCPStreamer) GetStats() map[string]any {
	return map[string]any{
		"active_connections": t.activeConns.Load(),
		"total_connections":  t.totalConns.Load(),
		"records_streamed":   t.recordsStreamed.Load(),
		"write_errors":       t.writeErrors.Load(),
		"sources":            t.feedSources(),
		"filter":             t.pred.String(),
		"format":             t.formatter.Name(),
		"net_limit":          t.netLimiter.GetStats(),
	}
}

// tcpServer implements the gnet event handler for the feed.
type tcpServer struct {
	gnet.BuiltinEventEngine
	streamer *TCPStreamer

	mu      sync.RWMutex
	clients map[gnet.Conn]string
}

func (s *tcpServer) OnBoot(eng gnet.Engine) gnet.Action {
	s.streamer.engineMu.Lock()
	s.streamer.engine = &eng
	s.streamer.engineMu.Unlock()

	s.streamer.logger.Debug("msg", "TCP feed server booted",
		"component", "tcp_streamer",
		"port", s.streamer.config.Port)
	return gnet.None
}

func (s *tcpServer) OnOpen(c gnet.Conn) (out []byte, action gnet.Action) {
	remoteAddr := c.RemoteAddr()
	remoteAddrStr := remoteAddr.String()

	if !s.streamer.netLimiter.CheckTCP(remoteAddr) {
		s.streamer.logger.Warn("msg", "TCP connection net limited",
			"component", "tcp_streamer",
			"remote_addr", remoteAddrStr)
		return nil, gnet.Close
	}
	if !s.streamer.netLimiter.TryAddConnection(remoteAddrStr) {
		s.streamer.logger.Warn("msg", "TCP connection limit reached",
			"component", "tcp_streamer",
			"remote_addr", remoteAddrStr)
		return nil, gnet.Close
	}

	s.mu.Lock()
	s.clients[c] = remoteAddrStr
	s.mu.Unlock()

	s.streamer.totalConns.Add(1)
	newCount := s.streamer.activeConns.Add(1)
	s.streamer.logger.Info("msg", "TCP client connected",
		"component", "tcp_streamer",
		"remote_addr", remoteAddrStr,
		"active_connections", newCount)

	return nil, gnet.None
}

func (s *tcpServer) OnClose(c gnet.Conn, err error) gnet.Action {
	s.mu.Lock()
	remoteAddrStr, tracked := s.clients[c]
	delete(s.clients, c)
	s.mu.Unlock()

	// Rejected in OnOpen before registration
	if !tracked {
		return gnet.None
	}

	s.streamer.errorMu.Lock()
	delete(s.streamer.consecutiveWriteErrors, c)
	s.streamer.errorMu.Unlock()

	s.streamer.netLimiter.RemoveConnection(remoteAddrStr)

	newCount := s.streamer.activeConns.Add(-1)
	s.streamer.logger.Info("msg", "TCP client disconnected",
		"component", "tcp_streamer",
		"remote_addr", remoteAddrStr,
		"active_connections", newCount,
		"error", err)
	return gnet.None
}

func (s *tcpServer) OnTraffic(c gnet.Conn) gnet.Action {
	// The feed is one-way; inbound bytes are discarded
	c.Discard(-1)
	return gnet.None
}
