package limit

import (
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"logmux/src/internal/config"

	"github.com/lixenwraith/log"
	"golang.org/x/time/rate"
)

// DenialReason indicates why a request was denied
type DenialReason string

const (
	ReasonAllowed           DenialReason = ""
	ReasonBlacklisted       DenialReason = "IP denied by blacklist"
	ReasonNotWhitelisted    DenialReason = "IP not in whitelist"
	ReasonRateLimited       DenialReason = "Rate limit exceeded"
	ReasonConnectionLimited DenialReason = "Connection limit exceeded"
	ReasonInvalidIP         DenialReason = "Invalid IP address"
)

const (
	clientIdleTimeout = 10 * time.Minute
	janitorInterval   = time.Minute
)

// NetLimiter applies per client rate limits, IP access lists, and
// connection caps for one listener. A nil limiter allows everything.
type NetLimiter struct {
	cfg    config.NetLimitConfig
	logger *log.Logger

	ipWhitelist []*net.IPNet
	ipBlacklist []*net.IPNet

	mu      sync.Mutex
	clients map[string]*client

	totalConnections atomic.Int64

	// Statistics
	totalRequests      atomic.Uint64
	blockedByBlacklist atomic.Uint64
	blockedByWhitelist atomic.Uint64
	blockedByRateLimit atomic.Uint64
	blockedByConnLimit atomic.Uint64
	blockedByInvalidIP atomic.Uint64

	done chan struct{}
}

type client struct {
	limiter     *rate.Limiter
	connections int64
	lastSeen    time.Time
}

// New returns nil when the section is absent or carries nothing to
// enforce; every method tolerates the nil receiver.
func New(cfg *config.NetLimitConfig, logger *log.Logger) *NetLimiter {
	if cfg == nil {
		return nil
	}
	if !cfg.Enabled && len(cfg.IPWhitelist) == 0 && len(cfg.IPBlacklist) == 0 {
		return nil
	}

	l := &NetLimiter{
		cfg:         *cfg,
		logger:      logger,
		clients:     make(map[string]*client),
		ipWhitelist: parseIPList(cfg.IPWhitelist, "whitelist", logger),
		ipBlacklist: parseIPList(cfg.IPBlacklist, "blacklist", logger),
		done:        make(chan struct{}),
	}
	go l.janitor()

	logger.Info("msg", "Net limiter active",
		"component", "netlimit",
		"rate_limiting", cfg.Enabled,
		"whitelist_entries", len(l.ipWhitelist),
		"blacklist_entries", len(l.ipBlacklist))
	return l
}

func parseIPList(entries []string, listType string, logger *log.Logger) []*net.IPNet {
	var nets []*net.IPNet
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if _, ipNet, err := net.ParseCIDR(entry); err == nil {
			nets = append(nets, ipNet)
			continue
		}
		if ip := net.ParseIP(entry); ip != nil {
			bits := 128
			if ip4 := ip.To4(); ip4 != nil {
				ip = ip4
				bits = 32
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		logger.Warn("msg", "Ignoring invalid IP list entry",
			"component", "netlimit",
			"list", listType,
			"entry", entry)
	}
	return nets
}

func (l *NetLimiter) Stop() {
	if l == nil {
		return
	}
	close(l.done)
	l.logger.Info("msg", "Net limiter stopped", "component", "netlimit")
}

// CheckHTTP decides whether a request may proceed. A denial carries the
// response status code and message.
func (l *NetLimiter) CheckHTTP(remoteAddr string) (allowed bool, statusCode int64, message string) {
	if l == nil {
		return true, 0, ""
	}
	l.totalRequests.Add(1)

	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		l.blockedByInvalidIP.Add(1)
		l.logger.Warn("msg", "Failed to parse client IP",
			"component", "netlimit",
			"remote_addr", remoteAddr)
		return false, 403, string(ReasonInvalidIP)
	}

	if reason := l.checkAccess(ip); reason != ReasonAllowed {
		return false, 403, string(reason)
	}
	if !l.cfg.Enabled {
		return true, 0, ""
	}
	if !l.allowRate(host) {
		l.blockedByRateLimit.Add(1)
		return false, l.denialCode(), l.denialMessage()
	}
	return true, 0, ""
}

// CheckTCP gates connection accepts
func (l *NetLimiter) CheckTCP(remoteAddr net.Addr) bool {
	if l == nil {
		return true
	}
	l.totalRequests.Add(1)

	tcpAddr, ok := remoteAddr.(*net.TCPAddr)
	if !ok {
		l.blockedByInvalidIP.Add(1)
		return false
	}
	if reason := l.checkAccess(tcpAddr.IP); reason != ReasonAllowed {
		return false
	}
	if !l.cfg.Enabled {
		return true
	}
	if !l.allowRate(tcpAddr.IP.String()) {
		l.blockedByRateLimit.Add(1)
		return false
	}
	return true
}

// TryAddConnection reserves a connection slot, false when a cap is hit.
// Paired with RemoveConnection.
func (l *NetLimiter) TryAddConnection(remoteAddr string) bool {
	if l == nil || !l.cfg.Enabled {
		return true
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cfg.MaxConnectionsTotal > 0 && l.totalConnections.Load() >= l.cfg.MaxConnectionsTotal {
		l.blockedByConnLimit.Add(1)
		return false
	}
	c := l.clientLocked(host)
	if l.cfg.MaxConnectionsPerIP > 0 && c.connections >= l.cfg.MaxConnectionsPerIP {
		l.blockedByConnLimit.Add(1)
		return false
	}
	c.connections++
	c.lastSeen = time.Now()
	l.totalConnections.Add(1)
	return true
}

func (l *NetLimiter) RemoveConnection(remoteAddr string) {
	if l == nil || !l.cfg.Enabled {
		return
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if c := l.clients[host]; c != nil && c.connections > 0 {
		c.connections--
		l.totalConnections.Add(-1)
	}
}

func (l *NetLimiter) checkAccess(ip net.IP) DenialReason {
	for _, ipNet := range l.ipBlacklist {
		if ipNet.Contains(ip) {
			l.blockedByBlacklist.Add(1)
			return ReasonBlacklisted
		}
	}
	if len(l.ipWhitelist) > 0 {
		for _, ipNet := range l.ipWhitelist {
			if ipNet.Contains(ip) {
				return ReasonAllowed
			}
		}
		l.blockedByWhitelist.Add(1)
		return ReasonNotWhitelisted
	}
	return ReasonAllowed
}

func (l *NetLimiter) allowRate(host string) bool {
	l.mu.Lock()
	c := l.clientLocked(host)
	c.lastSeen = time.Now()
	limiter := c.limiter
	l.mu.Unlock()

	return limiter.Allow()
}

func (l *NetLimiter) clientLocked(host string) *client {
	c, ok := l.clients[host]
	if !ok {
		c = &client{
			limiter:  rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), int(l.cfg.BurstSize)),
			lastSeen: time.Now(),
		}
		l.clients[host] = c
	}
	return c
}

func (l *NetLimiter) denialCode() int64 {
	if l.cfg.ResponseCode != 0 {
		return l.cfg.ResponseCode
	}
	return 429
}

func (l *NetLimiter) denialMessage() string {
	if l.cfg.ResponseMessage != "" {
		return l.cfg.ResponseMessage
	}
	return string(ReasonRateLimited)
}

// janitor drops idle clients holding no connections
func (l *NetLimiter) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-clientIdleTimeout)
			l.mu.Lock()
			for host, c := range l.clients {
				if c.connections == 0 && c.lastSeen.Before(cutoff) {
					delete(l.clients, host)
				}
			}
			l.mu.Unlock()
		}
	}
}

func (l *NetLimiter) GetStats() map[string]any {
	if l == nil {
		return map[string]any{"enabled": false}
	}

	l.mu.Lock()
	activeClients := len(l.clients)
	l.mu.Unlock()

	return map[string]any{
		"enabled":             l.cfg.Enabled,
		"requests_per_second": l.cfg.RequestsPerSecond,
		"burst_size":          l.cfg.BurstSize,
		"total_requests":      l.totalRequests.Load(),
		"blocked_blacklist":   l.blockedByBlacklist.Load(),
		"blocked_whitelist":   l.blockedByWhitelist.Load(),
		"blocked_rate_limit":  l.blockedByRateLimit.Load(),
		"blocked_conn_limit":  l.blockedByConnLimit.Load(),
		"blocked_invalid_ip":  l.blockedByInvalidIP.Load(),
		"active_clients":      activeClients,
		"active_connections":  l.totalConnections.Load(),
		"whitelist_entries":   len(l.ipWhitelist),
		"blacklist_entries":   len(l.ipBlacklist),
	}
}
