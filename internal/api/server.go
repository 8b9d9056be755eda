package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/tailnet-monitor/internal/audit"
	"github.com/nerrad567/tailnet-monitor/internal/entity"
	"github.com/nerrad567/tailnet-monitor/internal/infrastructure/config"
	"github.com/nerrad567/tailnet-monitor/internal/infrastructure/logging"
	"github.com/nerrad567/tailnet-monitor/internal/pairing"
	"github.com/nerrad567/tailnet-monitor/internal/supervisor"
	"github.com/nerrad567/tailnet-monitor/internal/tailscale"
	"github.com/nerrad567/tailnet-monitor/internal/tracker"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// EntityManager is the part of the supervisor used by the API.
type EntityManager interface {
	Entities() []entity.Entity
	Entity(id string) (*entity.Entity, error)
	Snapshot(id string) (tracker.Snapshot, error)
	Remove(ctx context.Context, id string) error
	Rename(ctx context.Context, id, name string) (*entity.Entity, error)
	Refresh(ctx context.Context, id string) error
	Client(id string) (supervisor.TailscaleClient, error)
}

// StateReader exposes availability and capability values.
type StateReader interface {
	State(entityID string) entity.State
}

// Pairer runs the pairing flow.
type Pairer interface {
	Validate(ctx context.Context, creds tailscale.Credentials) error
	ListCandidates(ctx context.Context, creds tailscale.Credentials, kind tracker.Kind) ([]pairing.Candidate, error)
	Pair(ctx context.Context, req pairing.Request) (*entity.Entity, error)
}

// BrokerStatus reports the MQTT connection. *mqtt.Client satisfies it.
type BrokerStatus interface {
	IsConnected() bool
	SubscriptionCount() int
	Reconnects() uint64
}

// EventLogStatter reports event-log write counters. *influxdb.Client
// satisfies it.
type EventLogStatter interface {
	Stats() (written, failed uint64)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Entities EntityManager
	State    StateReader
	Pairing  Pairer

	// MQTT, EventLog and DB are optional; they only feed /metrics.
	MQTT     BrokerStatus
	EventLog EventLogStatter
	DB       DBStatter

	// Audit is optional. Without it mutating calls are only logged.
	Audit audit.Repository

	// Hub, if set, is used instead of a server-owned hub. The event sinks
	// need the hub before the server exists.
	Hub *Hub

	Version string
}

// Server is the HTTP API server.
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	secCfg      config.SecurityConfig
	logger      *logging.Logger
	entities    EntityManager
	state       StateReader
	pairing     Pairer
	mqtt        BrokerStatus
	eventLog    EventLogStatter
	db          DBStatter
	auditRepo   audit.Repository
	auditCh     chan *audit.Entry
	version     string
	startTime   time.Time
	tickets     *ticketStore
	server      *http.Server
	hub         *Hub
	externalHub bool
	cancel      context.CancelFunc
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Entities == nil {
		return nil, fmt.Errorf("entity manager is required")
	}
	if deps.State == nil {
		return nil, fmt.Errorf("state reader is required")
	}
	if deps.Pairing == nil {
		return nil, fmt.Errorf("pairing service is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		entities:  deps.Entities,
		state:     deps.State,
		pairing:   deps.Pairing,
		mqtt:      deps.MQTT,
		eventLog:  deps.EventLog,
		db:        deps.DB,
		version:   deps.Version,
		startTime: time.Now(),
		tickets:   newTicketStore(),
	}
	if deps.Audit != nil {
		s.auditRepo = deps.Audit
		s.auditCh = make(chan *audit.Entry, auditChanSize)
	}
	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	}
	return s, nil
}

// Hub returns the WebSocket hub, or nil before Start when none was injected.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start builds the router and listens in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

	go s.cleanTicketsLoop(srvCtx)
	if s.auditCh != nil {
		go s.drainAuditLog(srvCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server, waiting up to 10 seconds for
// in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
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
