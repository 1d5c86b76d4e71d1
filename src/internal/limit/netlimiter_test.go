package limit

import (
	"net"
	"testing"

	"logmux/src/internal/config"

	"github.com/lixenwraith/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *log.Logger {
	return log.NewLogger()
}

func newLimiter(t *testing.T, cfg *config.NetLimitConfig) *NetLimiter {
	t.Helper()
	l := New(cfg, newTestLogger())
	if l != nil {
		t.Cleanup(l.Stop)
	}
	return l
}

func TestNilLimiterAllowsEverything(t *testing.T) {
	var l *NetLimiter

	ok, code, msg := l.CheckHTTP("10.0.0.1:1234")
	assert.True(t, ok)
	assert.Equal(t, int64(0), code)
	assert.Empty(t, msg)
	assert.True(t, l.CheckTCP(&net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 1234}))
	assert.True(t, l.TryAddConnection("10.0.0.1:1234"))
	l.RemoveConnection("10.0.0.1:1234")
	l.Stop()

	assert.Nil(t, New(nil, newTestLogger()))
	assert.Nil(t, New(&config.NetLimitConfig{}, newTestLogger()))
}

func TestRateLimitBurstThenBlock(t *testing.T) {
	l := newLimiter(t, &config.NetLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 1,
		BurstSize:         3,
	})
	require.NotNil(t, l)

	for i := 0; i < 3; i++ {
		ok, _, _ := l.CheckHTTP("192.168.1.10:5000")
		assert.True(t, ok, "request %d within burst", i)
	}
	ok, code, msg := l.CheckHTTP("192.168.1.10:5000")
	assert.False(t, ok)
	assert.Equal(t, int64(429), code)
	assert.Equal(t, string(ReasonRateLimited), msg)

	// Other clients keep their own bucket
	ok, _, _ = l.CheckHTTP("192.168.1.11:5000")
	assert.True(t, ok)
}

func TestBlacklist(t *testing.T) {
	l := newLimiter(t, &config.NetLimitConfig{
		IPBlacklist: []string{"10.0.0.0/8"},
	})
	require.NotNil(t, l)

	ok, code, msg := l.CheckHTTP("10.1.2.3:9999")
	assert.False(t, ok)
	assert.Equal(t, int64(403), code)
	assert.Equal(t, string(ReasonBlacklisted), msg)

	ok, _, _ = l.CheckHTTP("192.168.1.1:9999")
	assert.True(t, ok)

	assert.False(t, l.CheckTCP(&net.TCPAddr{IP: net.IPv4(10, 9, 9, 9), Port: 1}))
}

func TestWhitelist(t *testing.T) {
	l := newLimiter(t, &config.NetLimitConfig{
		IPWhitelist: []string{"127.0.0.1", "192.168.0.0/16"},
	})
	require.NotNil(t, l)

	ok, _, _ := l.CheckHTTP("127.0.0.1:1000")
	assert.True(t, ok)
	ok, _, _ = l.CheckHTTP("192.168.44.7:1000")
	assert.True(t, ok)

	ok, code, msg := l.CheckHTTP("8.8.8.8:1000")
	assert.False(t, ok)
	assert.Equal(t, int64(403), code)
	assert.Equal(t, string(ReasonNotWhitelisted), msg)
}

func TestConnectionCaps(t *testing.T) {
	l := newLimiter(t, &config.NetLimitConfig{
		Enabled:             true,
		RequestsPerSecond:   100,
		BurstSize:           100,
		MaxConnectionsPerIP: 2,
		MaxConnectionsTotal: 3,
	})
	require.NotNil(t, l)

	assert.True(t, l.TryAddConnection("1.1.1.1:1"))
	assert.True(t, l.TryAddConnection("1.1.1.1:2"))
	assert.False(t, l.TryAddConnection("1.1.1.1:3"), "per-IP cap")

	assert.True(t, l.TryAddConnection("2.2.2.2:1"))
	assert.False(t, l.TryAddConnection("3.3.3.3:1"), "total cap")

	l.RemoveConnection("1.1.1.1:1")
	assert.True(t, l.TryAddConnection("3.3.3.3:1"))

	stats := l.GetStats()
	assert.Equal(t, int64(3), stats["active_connections"])
	assert.Equal(t, uint64(2), stats["blocked_conn_limit"])
}

func TestCustomDenialResponse(t *testing.T) {
	l := newLimiter(t, &config.NetLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 1,
		BurstSize:         1,
		ResponseCode:      503,
		ResponseMessage:   "try later",
	})
	require.NotNil(t, l)

	ok, _, _ := l.CheckHTTP("5.5.5.5:1")
	require.True(t, ok)
	ok, code, msg := l.CheckHTTP("5.5.5.5:1")
	assert.False(t, ok)
	assert.Equal(t, int64(503), code)
	assert.Equal(t, "try later", msg)
}

func TestInvalidRemoteAddr(t *testing.T) {
	l := newLimiter(t, &config.NetLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 10,
		BurstSize:         10,
	})
	require.NotNil(t, l)

	ok, code, _ := l.CheckHTTP("not-an-address")
	assert.False(t, ok)
	assert.Equal(t, int64(403), code)
	assert.Equal(t, uint64(1), l.GetStats()["blocked_invalid_ip"])
}
