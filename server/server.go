package server

import (
	"tokenvelocity/internal/logging"
	"tokenvelocity/internal/metrics"
	"tokenvelocity/internal/registry"
	"tokenvelocity/internal/velocity"
)

// Server holds the long-lived components behind the HTTP API
type Server struct {
	Config     EnvironmentConfig
	CORS       CORSConfig
	Catalog    *ProviderCatalog
	Service    *BenchmarkService
	JobManager *JobManager
	Metrics    *metrics.MemorySink
	Hub        *Hub
	Logger     *logging.Logger
}

// New wires the selection, sinks, hub and job manager for catalog. Runs are
// kept in memory and, when MetricsDir is set, written as daily snapshots.
func New(config EnvironmentConfig, cors CORSConfig, catalog *ProviderCatalog, opener velocity.Opener, logger *logging.Logger) *Server {
	logger = logging.OrDefault(logger)

	memory := metrics.NewMemorySink(0, logger)
	if config.PlaceholderMetrics {
		memory.Placeholder = true
		for _, cfg := range catalog.Registry.Providers() {
			memory.PlaceholderProviders = append(memory.PlaceholderProviders, cfg.DisplayName())
		}
	}
	sinks := metrics.MultiSink{memory}
	if config.MetricsDir != "" {
		sinks = append(sinks, &metrics.FileSink{Dir: config.MetricsDir, Logger: logger})
	}

	hub := NewHub(cors, logger)
	service := NewBenchmarkService(registry.NewSelection(catalog.Registry), opener, config, sinks, hub, logger)

	return &Server{
		Config:     config,
		CORS:       cors,
		Catalog:    catalog,
		Service:    service,
		JobManager: NewJobManager(service, hub, logger),
		Metrics:    memory,
		Hub:        hub,
		Logger:     logger,
	}
}

// Handlers returns the HTTP handlers bound to the server components
func (s *Server) Handlers() *Handlers {
	return &Handlers{
		service:    s.Service,
		jobManager: s.JobManager,
		catalog:    s.Catalog,
		metrics:    s.Metrics,
		recentRuns: s.Config.RecentRuns,
		hub:        s.Hub,
		logger:     s.Logger,
	}
}

// Shutdown cancels running jobs and disconnects WebSocket clients
func (s *Server) Shutdown() {
	s.JobManager.Shutdown()
	s.Hub.Close()
}
