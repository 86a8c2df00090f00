package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/esp32-osc-core/internal/audit"
	"github.com/nerrad567/esp32-osc-core/internal/directory"
	"github.com/nerrad567/esp32-osc-core/internal/esp32"
	"github.com/nerrad567/esp32-osc-core/internal/infrastructure/config"
	"github.com/nerrad567/esp32-osc-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/esp32-osc-core/internal/infrastructure/logging"
	"github.com/nerrad567/esp32-osc-core/internal/infrastructure/mqtt"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// commandTimeout bounds how long a command request waits for the frame loop.
const commandTimeout = 5 * time.Second

// DeviceReloader replaces the manager's device list and restarts it.
// *esp32.DeviceListLoader satisfies it.
type DeviceReloader interface {
	Load(ctx context.Context, m *esp32.Manager) error
}

// BrokerStatter reports broker connectivity and traffic. *mqtt.Client
// satisfies it.
type BrokerStatter interface {
	IsConnected() bool
	Stats() mqtt.Stats
}

// TelemetryStatter reports telemetry writer state. *influxdb.Client
// satisfies it.
type TelemetryStatter interface {
	IsConnected() bool
	Stats() influxdb.Stats
}

// PoolStatter exposes connection pool statistics and the file size.
// *database.DB satisfies it.
type PoolStatter interface {
	Stats() sql.DBStats
	SizeBytes() (int64, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Logger    *logging.Logger
	Manager   *esp32.Manager
	Directory directory.Repository // optional: registry endpoints return 503 without it
	Reloader  DeviceReloader       // optional: reload is a plain restart without it
	Audit     audit.Repository     // optional: command history is not kept without it
	MQTT      BrokerStatter        // optional: metrics only
	Telemetry TelemetryStatter     // optional: metrics only
	DB        PoolStatter          // optional: metrics only
	PanelDir  string               // optional: serve the panel from disk instead of the embedded copy

	// ExternalHub is used instead of creating a hub when set.
	ExternalHub *Hub
	Version     string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware and WebSocket hub.
// The server is created with New and started with Start.
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	manager   *esp32.Manager
	directory directory.Repository
	reloader  DeviceReloader
	audit     audit.Repository
	mqtt      BrokerStatter
	telemetry TelemetryStatter
	db        PoolStatter
	panelDir  string
	version   string
	startTime time.Time

	server   *http.Server
	listener net.Listener
	hub      *Hub
	subs     []*esp32.Subscription
	cancel   context.CancelFunc
	serveWG  sync.WaitGroup
}

// New creates a new API server with the given dependencies.
// The server is not started until Start is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Manager == nil {
		return nil, fmt.Errorf("device manager is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		manager:   deps.Manager,
		directory: deps.Directory,
		reloader:  deps.Reloader,
		audit:     deps.Audit,
		mqtt:      deps.MQTT,
		telemetry: deps.Telemetry,
		db:        deps.DB,
		panelDir:  deps.PanelDir,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       deps.ExternalHub,
	}
	return s, nil
}

// Start binds the listener, starts the WebSocket hub, relays manager events
// to it and serves HTTP in a background goroutine. A bind failure is
// returned. Stop the server with Close.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
		go s.hub.Run(srvCtx)
	}
	s.subs = s.relayDeviceEvents()

	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port)),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	s.listener = ln

	s.serveWG.Add(1)
	go func() {
		defer s.serveWG.Done()
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS", "address", ln.Addr().String(), "cert", s.cfg.TLS.CertFile)
			err = s.server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	err := s.server.Shutdown(ctx)
	s.serveWG.Wait()
	if err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
