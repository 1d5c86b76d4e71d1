package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/lixenwraith/log"
)

var (
	ErrUnknownSource = errors.New("unknown source file")
	ErrInvalidName   = errors.New("invalid source name")
	ErrNotStarted    = errors.New("registry not started")
)

// Config for the registry and its tailers
type Config struct {
	Directory    string
	Pattern      string
	PollInterval time.Duration
	MaxLineBytes int64
}

// Registry owns every tailer, at most one per source file, shared by
// reference count. A file nobody watches costs nothing.
type Registry struct {
	cfg    Config
	logger *log.Logger

	mu      sync.Mutex
	entries map[string]*registryEntry
	ctx     context.Context
	cancel  context.CancelFunc

	tailersStarted uint64
	tailersStopped uint64
}

type registryEntry struct {
	tailer *Tailer
	refs   int
}

func NewRegistry(cfg Config, logger *log.Logger) (*Registry, error) {
	abs, err := filepath.Abs(cfg.Directory)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve source directory: %w", err)
	}
	cfg.Directory = abs

	if info, err := os.Stat(abs); err == nil && !info.IsDir() {
		return nil, fmt.Errorf("source path is not a directory: %s", abs)
	}

	return &Registry{
		cfg:     cfg,
		logger:  logger,
		entries: make(map[string]*registryEntry),
	}, nil
}

func (r *Registry) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctx, r.cancel = context.WithCancel(ctx)

	if err := os.MkdirAll(r.cfg.Directory, 0755); err != nil {
		r.logger.Warn("msg", "Failed to create source directory",
			"component", "registry",
			"directory", r.cfg.Directory,
			"error", err)
	}

	r.logger.Info("msg", "Source registry started",
		"component", "registry",
		"directory", r.cfg.Directory,
		"pattern", r.cfg.Pattern)
}

// Stop tears down every tailer and waits for their goroutines
func (r *Registry) Stop() {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	stopped := make([]*Tailer, 0, len(r.entries))
	for _, e := range r.entries {
		stopped = append(stopped, e.tailer)
	}
	r.entries = make(map[string]*registryEntry)
	r.mu.Unlock()

	for _, t := range stopped {
		t.stop()
	}

	r.logger.Info("msg", "Source registry stopped",
		"component", "registry",
		"tailers", len(stopped))
}

// ListSources returns the base names of files currently present in the
// source directory that match the configured pattern, sorted. A missing
// directory is an empty listing, not an error.
func (r *Registry) ListSources() ([]string, error) {
	dirEntries, err := os.ReadDir(r.cfg.Directory)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read source directory: %w", err)
	}

	var names []string
	for _, e := range dirEntries {
		if e.IsDir() {
			continue
		}
		if ok, _ := filepath.Match(r.cfg.Pattern, e.Name()); ok {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Resolve validates a viewer supplied name against the files currently
// present. Unknown names must reject the whole request.
func (r *Registry) Resolve(name string) error {
	if err := r.validateName(name); err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(r.cfg.Directory, name)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrUnknownSource, name)
		}
		return fmt.Errorf("failed to stat source %q: %w", name, err)
	}
	return nil
}

// Acquire returns the shared tailer for a source, starting one on first
// use. The file does not have to exist yet; the tailer waits for it.
// Every Acquire must be paired with a Release.
func (r *Registry) Acquire(name string) (*Tailer, error) {
	if err := r.validateName(name); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx == nil {
		return nil, ErrNotStarted
	}

	if e, ok := r.entries[name]; ok {
		e.refs++
		return e.tailer, nil
	}

	t := newTailer(name, filepath.Join(r.cfg.Directory, name), r.cfg.PollInterval, r.cfg.MaxLineBytes, r.logger)
	t.start(r.ctx)
	r.entries[name] = &registryEntry{tailer: t, refs: 1}
	r.tailersStarted++

	r.logger.Debug("msg", "Tailer started",
		"component", "registry",
		"source", name)
	return t, nil
}

// Release drops one reference. The last reference stops the tailer.
func (r *Registry) Release(name string) {
	r.mu.Lock()
	e, ok := r.entries[name]
	if !ok {
		r.mu.Unlock()
		return
	}
	e.refs--
	if e.refs > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.entries, name)
	r.tailersStopped++
	r.mu.Unlock()

	e.tailer.stop()
	r.logger.Debug("msg", "Tailer stopped",
		"component", "registry",
		"source", name)
}

func (r *Registry) validateName(name string) error {
	if name == "" || name == "." || name == ".." || name != filepath.Base(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	ok, err := filepath.Match(r.cfg.Pattern, name)
	if err != nil {
		return fmt.Errorf("%w: bad pattern %q: %v", ErrInvalidName, r.cfg.Pattern, err)
	}
	if !ok {
		return fmt.Errorf("%w: %q does not match pattern %q", ErrInvalidName, name, r.cfg.Pattern)
	}
	return nil
}

// Directory returns the resolved absolute source directory
func (r *Registry) Directory() string {
	return r.cfg.Directory
}

type RegistryStats struct {
	Directory      string        `json:"directory"`
	Pattern        string        `json:"pattern"`
	ActiveTailers  int           `json:"active_tailers"`
	TailersStarted uint64        `json:"tailers_started"`
	TailersStopped uint64        `json:"tailers_stopped"`
	Tailers        []TailerStats `json:"tailers,omitempty"`
}

func (r *Registry) GetStats() RegistryStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := RegistryStats{
		Directory:      r.cfg.Directory,
		Pattern:        r.cfg.Pattern,
		ActiveTailers:  len(r.entries),
		TailersStarted: r.tailersStarted,
		TailersStopped: r.tailersStopped,
	}
	for _, e := range r.entries {
		ts := e.tailer.GetStats()
		ts.Subscribers = e.refs
		stats.Tailers = append(stats.Tailers, ts)
	}
	sort.Slice(stats.Tailers, func(i, j int) bool {
		return stats.Tailers[i].Source < stats.Tailers[j].Source
	})
	return stats
}
