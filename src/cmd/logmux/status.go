package main

import (
	"context"
	"fmt"
	"time"

	"logmux/src/internal/config"
	"logmux/src/internal/service"
	"logmux/src/internal/source"
)

// statusReporter periodically logs service status
func statusReporter(ctx context.Context, svc *service.Service) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Clean shutdown
			return
		case <-ticker.C:
			if svc == nil {
				logger.Warn("msg", "Status reporter: service is nil",
					"component", "status_reporter")
				return
			}

			// Safely gather stats with recovery
			func() {
				defer func() {
					if r := recover(); r != nil {
						logger.Error("msg", "Panic in status reporter",
							"component", "status_reporter",
							"panic", r)
					}
				}()

				logStatus(svc.Stats())
			}()
		}
	}
}

// logStatus logs a one-line summary of the service statistics
func logStatus(stats map[string]any) {
	statusFields := []any{
		"msg", "Status report",
		"component", "status_reporter",
	}

	if rs, ok := stats["sources"].(source.RegistryStats); ok {
		statusFields = append(statusFields,
			"active_tailers", rs.ActiveTailers,
			"tailers_started", rs.TailersStarted)
	}

	if hs, ok := stats["http"].(map[string]any); ok {
		if v, ok := hs["active_clients"].(int64); ok {
			statusFields = append(statusFields, "http_clients", v)
		}
		if v, ok := hs["records_streamed"].(uint64); ok {
			statusFields = append(statusFields, "http_records", v)
		}
	}

	if ts, ok := stats["tcp"].(map[string]any); ok {
		if v, ok := ts["active_connections"].(int64); ok {
			statusFields = append(statusFields, "tcp_connections", v)
		}
		if v, ok := ts["records_streamed"].(uint64); ok {
			statusFields = append(statusFields, "tcp_records", v)
		}
	}

	logger.Debug(statusFields...)
}

// displayEndpoints logs the configured listen endpoints
func displayEndpoints(cfg *config.Config) {
	if cfg.HTTP.Enabled {
		scheme := httpScheme(&cfg.HTTP)
		host := displayHost(cfg.HTTP.Host)

		logger.Info("msg", "HTTP endpoints configured",
			"listen", fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
			"stream_url", fmt.Sprintf("%s://%s:%d%s", scheme, host, cfg.HTTP.Port, cfg.HTTP.StreamPath),
			"files_url", fmt.Sprintf("%s://%s:%d%s", scheme, host, cfg.HTTP.Port, cfg.HTTP.FilesPath),
			"status_url", fmt.Sprintf("%s://%s:%d%s", scheme, host, cfg.HTTP.Port, cfg.HTTP.StatusPath))

		if cfg.HTTP.Dashboard.Enabled {
			logger.Info("msg", "Dashboard enabled",
				"index_url", fmt.Sprintf("%s://%s:%d/", scheme, host, cfg.HTTP.Port),
				"dashboard_url", fmt.Sprintf("%s://%s:%d/dashboard", scheme, host, cfg.HTTP.Port))
		}

		if nl := cfg.HTTP.NetLimit; nl != nil && nl.Enabled {
			logger.Info("msg", "HTTP net limiting enabled",
				"requests_per_second", nl.RequestsPerSecond,
				"burst_size", nl.BurstSize)
		}
	}

	if cfg.TCP.Enabled {
		logger.Info("msg", "TCP feed configured",
			"listen", fmt.Sprintf("%s:%d", cfg.TCP.Host, cfg.TCP.Port),
			"endpoint", fmt.Sprintf("%s:%d", displayHost(cfg.TCP.Host), cfg.TCP.Port),
			"format", cfg.TCP.Format)

		if nl := cfg.TCP.NetLimit; nl != nil && nl.Enabled {
			logger.Info("msg", "TCP net limiting enabled",
				"requests_per_second", nl.RequestsPerSecond,
				"burst_size", nl.BurstSize)
		}
	}
}

func httpScheme(cfg *config.HTTPConfig) string {
	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		return "https"
	}
	return "http"
}

func displayHost(host string) string {
	if host == "" || host == "0.0.0.0" || host == "::" {
		return "localhost"
	}
	return host
}
