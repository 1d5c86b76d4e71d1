package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, dir string) *Registry {
	t.Helper()
	reg, err := NewRegistry(Config{
		Directory:    dir,
		Pattern:      "*.jsonl",
		PollInterval: 10 * time.Millisecond,
		MaxLineBytes: 1 << 20,
	}, newTestLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	reg.Start(ctx)
	t.Cleanup(func() {
		reg.Stop()
		cancel()
	})
	return reg
}

func TestRegistrySharesTailers(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jsonl"), nil, 0644))
	reg := newTestRegistry(t, dir)

	first, err := reg.Acquire("a.jsonl")
	require.NoError(t, err)
	second, err := reg.Acquire("a.jsonl")
	require.NoError(t, err)

	assert.Same(t, first, second)
	stats := reg.GetStats()
	assert.Equal(t, 1, stats.ActiveTailers)
	require.Len(t, stats.Tailers, 1)
	assert.Equal(t, 2, stats.Tailers[0].Subscribers)

	reg.Release("a.jsonl")
	assert.Equal(t, 1, reg.GetStats().ActiveTailers)

	reg.Release("a.jsonl")
	assert.Equal(t, 0, reg.GetStats().ActiveTailers)
	assert.Equal(t, uint64(1), reg.GetStats().TailersStopped)
}

func TestRegistryAcquireMissingFile(t *testing.T) {
	reg := newTestRegistry(t, t.TempDir())

	// The file does not have to exist; the tailer waits for it
	tl, err := reg.Acquire("ghost.jsonl")
	require.NoError(t, err)
	assert.False(t, tl.GetStats().Available)
	reg.Release("ghost.jsonl")
}

func TestRegistryNameValidation(t *testing.T) {
	reg := newTestRegistry(t, t.TempDir())

	testCases := []struct {
		name   string
		source string
	}{
		{"empty", ""},
		{"dot", "."},
		{"dotdot", ".."},
		{"nested path", "sub/a.jsonl"},
		{"absolute path", "/etc/passwd"},
		{"traversal", "../secrets.jsonl"},
		{"wrong extension", "notes.txt"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := reg.Acquire(tc.source)
			assert.ErrorIs(t, err, ErrInvalidName)
		})
	}
}

func TestRegistryListSources(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mcp-server.jsonl"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mcp-client-chat.jsonl"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), nil, 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "archive.jsonl"), 0755))
	reg := newTestRegistry(t, dir)

	names, err := reg.ListSources()
	require.NoError(t, err)
	assert.Equal(t, []string{"mcp-client-chat.jsonl", "mcp-server.jsonl"}, names)
}

func TestRegistryListSourcesMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "never-created")
	reg, err := NewRegistry(Config{
		Directory:    dir,
		Pattern:      "*.jsonl",
		PollInterval: 10 * time.Millisecond,
		MaxLineBytes: 1 << 20,
	}, newTestLogger())
	require.NoError(t, err)

	names, err := reg.ListSources()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestRegistryResolve(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jsonl"), nil, 0644))
	reg := newTestRegistry(t, dir)

	assert.NoError(t, reg.Resolve("a.jsonl"))
	assert.ErrorIs(t, reg.Resolve("b.jsonl"), ErrUnknownSource)
	assert.ErrorIs(t, reg.Resolve("../a.jsonl"), ErrInvalidName)
}

func TestRegistryAcquireBeforeStart(t *testing.T) {
	reg, err := NewRegistry(Config{
		Directory:    t.TempDir(),
		Pattern:      "*.jsonl",
		PollInterval: 10 * time.Millisecond,
		MaxLineBytes: 1 << 20,
	}, newTestLogger())
	require.NoError(t, err)

	_, err = reg.Acquire("a.jsonl")
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestRegistryRejectsFilePath(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "plain.txt")
	require.NoError(t, os.WriteFile(file, nil, 0644))

	_, err := NewRegistry(Config{
		Directory:    file,
		Pattern:      "*.jsonl",
		PollInterval: 10 * time.Millisecond,
		MaxLineBytes: 1 << 20,
	}, newTestLogger())
	assert.Error(t, err)
}

func TestRegistryDeliveryThroughAcquiredTailer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.jsonl")
	require.NoError(t, os.WriteFile(path, nil, 0644))
	reg := newTestRegistry(t, dir)

	tl, err := reg.Acquire("app.jsonl")
	require.NoError(t, err)
	defer reg.Release("app.jsonl")

	c := &collector{}
	tl.Attach(c)
	defer tl.Detach(c)

	appendLine(t, path, eventLine("through_registry"))
	require.Eventually(t, func() bool { return c.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"through_registry"}, c.events())
}
