package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"logmux/src/internal/config"
	"logmux/src/internal/source"
	"logmux/src/internal/stream"

	"github.com/lixenwraith/log"
)

// Service owns the source registry and the enabled streamers, and
// tears them down together.
type Service struct {
	cfg    *config.Config
	logger *log.Logger

	registry *source.Registry
	http     *stream.HTTPStreamer
	tcp      *stream.TCPStreamer

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds the registry and streamers from config. Nothing is
// started yet.
func New(ctx context.Context, cfg *config.Config, logger *log.Logger) (*Service, error) {
	serviceCtx, cancel := context.WithCancel(ctx)

	registry, err := source.NewRegistry(source.Config{
		Directory:    cfg.Source.Directory,
		Pattern:      cfg.Source.Pattern,
		PollInterval: time.Duration(cfg.Source.PollIntervalMS) * time.Millisecond,
		MaxLineBytes: cfg.Source.MaxLineBytes,
	}, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create source registry: %w", err)
	}

	s := &Service{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		ctx:      serviceCtx,
		cancel:   cancel,
	}

	if cfg.HTTP.Enabled {
		h, err := stream.NewHTTPStreamer(&cfg.HTTP, cfg.Stream.QueueSize, registry, logger)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create HTTP streamer: %w", err)
		}
		s.http = h
	}
	if cfg.TCP.Enabled {
		t, err := stream.NewTCPStreamer(&cfg.TCP, cfg.Stream.QueueSize, registry, logger)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create TCP streamer: %w", err)
		}
		s.tcp = t
	}
	if s.http == nil && s.tcp == nil {
		cancel()
		return nil, fmt.Errorf("no streamer enabled")
	}

	return s, nil
}

// Start brings up the registry first so streamers can acquire sources
// immediately. A streamer that fails to start rolls back everything
// started before it.
func (s *Service) Start() error {
	s.registry.Start(s.ctx)

	var started []func()
	fail := func(err error) error {
		for i := len(started) - 1; i >= 0; i-- {
			started[i]()
		}
		s.registry.Stop()
		s.cancel()
		return err
	}

	if s.http != nil {
		if err := s.http.Start(s.ctx); err != nil {
			return fail(fmt.Errorf("HTTP streamer: %w", err))
		}
		started = append(started, s.http.Stop)
	}
	if s.tcp != nil {
		if err := s.tcp.Start(s.ctx); err != nil {
			return fail(fmt.Errorf("TCP streamer: %w", err))
		}
		started = append(started, s.tcp.Stop)
	}

	s.logger.Info("msg", "Service started",
		"component", "service",
		"source_directory", s.registry.Directory(),
		"http_enabled", s.http != nil,
		"tcp_enabled", s.tcp != nil)
	return nil
}

// Shutdown stops streamers concurrently, then the registry. Streamers
// release their source references on the way down, so the registry
// sees zero subscribers before it stops.
func (s *Service) Shutdown() {
	s.logger.Info("msg", "Service shutdown initiated",
		"component", "service")

	var wg sync.WaitGroup
	if s.http != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.http.Stop()
		}()
	}
	if s.tcp != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.tcp.Stop()
		}()
	}
	wg.Wait()

	s.registry.Stop()
	s.cancel()

	s.logger.Info("msg", "Service shutdown complete",
		"component", "service")
}

// Stats aggregates component statistics for the status reporter and
// anything else that wants a snapshot.
func (s *Service) Stats() map[string]any {
	stats := map[string]any{
		"sources": s.registry.GetStats(),
	}
	if s.http != nil {
		stats["http"] = s.http.GetStats()
	}
	if s.tcp != nil {
		stats["tcp"] = s.tcp.GetStats()
	}
	return stats
}
