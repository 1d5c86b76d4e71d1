package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"logmux/src/internal/config"
	"logmux/src/internal/source"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func testHTTPConfig() *config.HTTPConfig {
	return &config.HTTPConfig{
		Enabled:    true,
		Host:       "127.0.0.1",
		Port:       5050,
		StreamPath: "/stream",
		FilesPath:  "/files",
		StatusPath: "/status",
		Dashboard: config.DashboardConfig{
			Enabled:       true,
			ProducerMatch: "mcp-server",
			ConsumerMatch: "mcp-client",
		},
		Heartbeat: config.HeartbeatConfig{
			Enabled:         true,
			IntervalSeconds: 30,
			Format:          "comment",
		},
	}
}

func newTestStreamer(t *testing.T, dir string) *HTTPStreamer {
	t.Helper()
	reg := newStreamRegistry(t, dir)
	h, err := NewHTTPStreamer(testHTTPConfig(), 16, reg, newTestLogger())
	require.NoError(t, err)
	return h
}

func makeRequestCtx(uri string) *fasthttp.RequestCtx {
	var ctx fasthttp.RequestCtx
	var req fasthttp.Request
	req.SetRequestURI(uri)
	ctx.Init(&req, nil, nil)
	return &ctx
}

func TestHandleFilesListsSources(t *testing.T) {
	dir := t.TempDir()
	writeLine(t, filepath.Join(dir, "b.jsonl"), eventLine("x"))
	writeLine(t, filepath.Join(dir, "a.jsonl"), eventLine("y"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0644))
	h := newTestStreamer(t, dir)

	ctx := makeRequestCtx("/files")
	h.requestHandler(ctx)

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	var names []string
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &names))
	assert.Equal(t, []string{"a.jsonl", "b.jsonl"}, names)
}

func TestHandleFilesEmptyDirectory(t *testing.T) {
	h := newTestStreamer(t, t.TempDir())

	ctx := makeRequestCtx("/files")
	h.requestHandler(ctx)

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	// Empty catalog must encode as [], never null
	assert.JSONEq(t, "[]", string(ctx.Response.Body()))
}

func TestHandleStreamRejectsBadFilter(t *testing.T) {
	dir := t.TempDir()
	writeLine(t, filepath.Join(dir, "a.jsonl"), eventLine("x"))
	h := newTestStreamer(t, dir)

	tests := []struct {
		name string
		uri  string
	}{
		{"missing equals", "/stream?filter=level"},
		{"empty key", "/stream?filter=%3DERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := makeRequestCtx(tt.uri)
			h.requestHandler(ctx)
			assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
		})
	}
}

func TestHandleStreamUnknownFile(t *testing.T) {
	dir := t.TempDir()
	writeLine(t, filepath.Join(dir, "a.jsonl"), eventLine("x"))
	h := newTestStreamer(t, dir)

	ctx := makeRequestCtx("/stream?files=ghost.jsonl")
	h.requestHandler(ctx)
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
}

func TestHandleStreamNoSourcesAvailable(t *testing.T) {
	h := newTestStreamer(t, t.TempDir())

	ctx := makeRequestCtx("/stream")
	h.requestHandler(ctx)
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
}

func TestHandleStreamRejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	writeLine(t, filepath.Join(dir, "a.jsonl"), eventLine("x"))
	h := newTestStreamer(t, dir)

	ctx := makeRequestCtx("/stream?files=..%2Fsecret.jsonl")
	h.requestHandler(ctx)
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
}

func TestResolveSelection(t *testing.T) {
	dir := t.TempDir()
	writeLine(t, filepath.Join(dir, "a.jsonl"), eventLine("x"))
	writeLine(t, filepath.Join(dir, "b.jsonl"), eventLine("y"))
	h := newTestStreamer(t, dir)

	names, err := h.resolveSelection(" a.jsonl , b.jsonl ,")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.jsonl", "b.jsonl"}, names)

	all, err := h.resolveSelection("")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.jsonl", "b.jsonl"}, all)

	_, err = h.resolveSelection("a.jsonl,ghost.jsonl")
	assert.ErrorIs(t, err, source.ErrUnknownSource)
}

func TestUnknownPathReturnsCatalog(t *testing.T) {
	h := newTestStreamer(t, t.TempDir())

	ctx := makeRequestCtx("/nope")
	h.requestHandler(ctx)

	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
	var body struct {
		Error     string   `json:"error"`
		Endpoints []string `json:"endpoints"`
	}
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &body))
	assert.Contains(t, body.Endpoints, "/stream")
	assert.Contains(t, body.Endpoints, "/files")
	assert.Contains(t, body.Endpoints, "/status")
	assert.Contains(t, body.Endpoints, "/dashboard")
}

func TestDashboardDisabledIsNotFound(t *testing.T) {
	cfg := testHTTPConfig()
	cfg.Dashboard.Enabled = false
	reg := newStreamRegistry(t, t.TempDir())
	h, err := NewHTTPStreamer(cfg, 16, reg, newTestLogger())
	require.NoError(t, err)

	ctx := makeRequestCtx("/dashboard")
	h.requestHandler(ctx)
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
}

func TestHandleStatus(t *testing.T) {
	dir := t.TempDir()
	writeLine(t, filepath.Join(dir, "a.jsonl"), eventLine("x"))
	h := newTestStreamer(t, dir)

	ctx := makeRequestCtx("/status")
	h.requestHandler(ctx)

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	var status map[string]any
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &status))
	assert.Equal(t, "logmux", status["service"])

	endpoints := status["endpoints"].(map[string]any)
	assert.Equal(t, "/stream", endpoints["stream"])
	assert.Equal(t, "/files", endpoints["files"])

	sources := status["sources"].(map[string]any)
	assert.Equal(t, "*.jsonl", sources["pattern"])
}

func TestServePages(t *testing.T) {
	h := newTestStreamer(t, t.TempDir())

	ctx := makeRequestCtx("/")
	h.requestHandler(ctx)
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Header.ContentType()), "text/html")
	index := string(ctx.Response.Body())
	assert.Contains(t, index, `id="filter"`)
	assert.Contains(t, index, "/stream")

	ctx = makeRequestCtx("/dashboard")
	h.requestHandler(ctx)
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	dashboard := string(ctx.Response.Body())
	assert.Contains(t, dashboard, `id="panel-producer"`)
	assert.Contains(t, dashboard, `id="panel-consumer"`)
	assert.Contains(t, dashboard, "mcp-server")
	assert.Contains(t, dashboard, "mcp-client")
}

func TestWriteSSERecord(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	raw := []byte(`{"level":"INFO","event":"hello","extra":1}`)
	require.NoError(t, writeSSERecord(w, raw))
	require.NoError(t, w.Flush())

	assert.Equal(t, "data: "+string(raw)+"\n\n", buf.String())
}

func TestWriteConnectedEvent(t *testing.T) {
	h := newTestStreamer(t, t.TempDir())
	sub := newSubscription([]string{"a.jsonl"}, "level=ERROR", 4)
	defer sub.Close()

	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	require.NoError(t, h.writeConnectedEvent(w, sub))

	out := buf.String()
	require.True(t, strings.HasPrefix(out, "event: connected\ndata: "))
	payload := strings.TrimSuffix(strings.TrimPrefix(out, "event: connected\ndata: "), "\n\n")
	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(payload), &info))
	assert.Equal(t, sub.ID, info["subscription_id"])
	assert.Equal(t, "level=ERROR", info["filter"])
}

func TestWriteHeartbeat(t *testing.T) {
	tests := []struct {
		name   string
		format string
		withTS bool
		check  func(t *testing.T, out string)
	}{
		{
			name:   "comment",
			format: "comment",
			check: func(t *testing.T, out string) {
				assert.Equal(t, ": heartbeat\n\n", out)
			},
		},
		{
			name:   "comment with timestamp",
			format: "comment",
			withTS: true,
			check: func(t *testing.T, out string) {
				assert.True(t, strings.HasPrefix(out, ": heartbeat 2"))
				assert.True(t, strings.HasSuffix(out, "\n\n"))
			},
		},
		{
			name:   "json event",
			format: "json",
			check: func(t *testing.T, out string) {
				require.True(t, strings.HasPrefix(out, "event: heartbeat\ndata: "))
				payload := strings.TrimPrefix(out, "event: heartbeat\ndata: ")
				var hb map[string]any
				require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(payload)), &hb))
				assert.Equal(t, "heartbeat", hb["type"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testHTTPConfig()
			cfg.Heartbeat.Format = tt.format
			cfg.Heartbeat.IncludeTimestamp = tt.withTS
			reg := newStreamRegistry(t, t.TempDir())
			h, err := NewHTTPStreamer(cfg, 16, reg, newTestLogger())
			require.NoError(t, err)

			var buf bytes.Buffer
			w := bufio.NewWriter(&buf)
			require.NoError(t, h.writeHeartbeat(w))
			require.NoError(t, w.Flush())
			tt.check(t, buf.String())
		})
	}
}

func TestHTTPNetLimitRejects(t *testing.T) {
	cfg := testHTTPConfig()
	cfg.NetLimit = &config.NetLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 0.01,
		BurstSize:         1,
	}
	reg := newStreamRegistry(t, t.TempDir())
	h, err := NewHTTPStreamer(cfg, 16, reg, newTestLogger())
	require.NoError(t, err)
	defer h.netLimiter.Stop()

	ctx := makeRequestCtx("/files")
	h.requestHandler(ctx)
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	ctx = makeRequestCtx("/files")
	h.requestHandler(ctx)
	assert.Equal(t, fasthttp.StatusTooManyRequests, ctx.Response.StatusCode())
}
