package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/wagerline/wagerline-core/internal/admission"
	"github.com/wagerline/wagerline-core/internal/audit"
	"github.com/wagerline/wagerline-core/internal/auth"
	"github.com/wagerline/wagerline-core/internal/device"
	"github.com/wagerline/wagerline-core/internal/devicerequest"
	"github.com/wagerline/wagerline-core/internal/infrastructure/config"
	"github.com/wagerline/wagerline-core/internal/infrastructure/database"
	"github.com/wagerline/wagerline-core/internal/infrastructure/ephemeral"
	"github.com/wagerline/wagerline-core/internal/infrastructure/logging"
	"github.com/wagerline/wagerline-core/internal/infrastructure/mqtt"
	"github.com/wagerline/wagerline-core/internal/session"
	"github.com/wagerline/wagerline-core/internal/tier"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// defaultTicketTTL is used when no WebSocket ticket lifetime is configured.
const defaultTicketTTL = 60 * time.Second

// Metrics receives login and review measurements. *influxdb.Client
// satisfies it.
type Metrics interface {
	WriteLogin(accountID, outcome string)
	WriteReview(kind, decision, requestID string, freed int, revokedSessions int64)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Security  config.SecurityConfig
	TicketTTL time.Duration

	// StoreTimeout bounds the store lookups done by handlers directly.
	StoreTimeout time.Duration
	Limits       tier.Limits

	Logger   *logging.Logger
	DB       *database.DB
	Engine   *admission.Engine
	Workflow *devicerequest.Workflow
	Issuer   *session.Issuer
	Logout   *session.Handler
	Tickets  ephemeral.Store

	MQTT        *mqtt.Client // optional: request events are relayed through the broker when set
	Metrics     Metrics      // optional
	ExternalHub *Hub         // If set, the server uses this hub instead of creating its own
	Version     string
}

// Server is the HTTP API server for the access core.
type Server struct {
	cfg          config.APIConfig
	wsCfg        config.WebSocketConfig
	logger       *logging.Logger
	db           *database.DB
	accounts     *auth.SQLiteAccountRepository
	devices      *device.SQLiteRepository
	auditRepo    audit.Repository
	auditCh      chan *audit.AuditLog
	auditDone    chan struct{}
	engine       *admission.Engine
	workflow     *devicerequest.Workflow
	issuer       *session.Issuer
	logout       *session.Handler
	tickets      ephemeral.Store
	ticketTTL    time.Duration
	storeTimeout time.Duration
	limits       tier.Limits
	mqtt         *mqtt.Client
	metrics      Metrics
	loginLimiter *loginLimiter
	version      string
	startedAt    time.Time

	server      *http.Server
	hub         *Hub
	externalHub bool
	cancel      context.CancelFunc
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger is required")
	case deps.DB == nil:
		return nil, fmt.Errorf("database is required")
	case deps.Engine == nil:
		return nil, fmt.Errorf("admission engine is required")
	case deps.Workflow == nil:
		return nil, fmt.Errorf("device request workflow is required")
	case deps.Issuer == nil:
		return nil, fmt.Errorf("session issuer is required")
	case deps.Logout == nil:
		return nil, fmt.Errorf("logout handler is required")
	case deps.Tickets == nil:
		return nil, fmt.Errorf("ticket store is required")
	}

	ticketTTL := deps.TicketTTL
	if ticketTTL <= 0 {
		ticketTTL = defaultTicketTTL
	}

	s := &Server{
		cfg:          deps.Config,
		wsCfg:        deps.WS,
		logger:       deps.Logger,
		db:           deps.DB,
		accounts:     auth.NewAccountRepository(deps.DB),
		devices:      device.NewSQLiteRepository(deps.DB),
		auditRepo:    audit.NewSQLiteRepository(deps.DB),
		auditCh:      make(chan *audit.AuditLog, auditChanSize),
		auditDone:    make(chan struct{}),
		engine:       deps.Engine,
		workflow:     deps.Workflow,
		issuer:       deps.Issuer,
		logout:       deps.Logout,
		tickets:      deps.Tickets,
		ticketTTL:    ticketTTL,
		storeTimeout: deps.StoreTimeout,
		limits:       deps.Limits,
		mqtt:         deps.MQTT,
		metrics:      deps.Metrics,
		loginLimiter: newLoginLimiter(deps.Security.RateLimit),
		version:      deps.Version,
	}

	if deps.ExternalHub != nil {
		s.hub = deps.ExternalHub
		s.externalHub = true
	} else {
		s.hub = NewHub(s.wsCfg, s.logger)
	}

	return s, nil
}

// Start launches background workers and the HTTP listener.
//
// It starts the WebSocket hub, the audit writer and the login limiter
// sweep, subscribes to request events on the broker when one is
// configured, and listens in a background goroutine until Close.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	s.startedAt = time.Now()

	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}
	go s.drainAuditLog(srvCtx)
	if s.loginLimiter != nil {
		go s.loginLimiter.run(srvCtx)
	}

	if err := s.subscribeRequestEvents(); err != nil {
		s.logger.Warn("failed to subscribe to request events for WebSocket", "error", err)
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

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete, then
// flushes queued audit entries.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	err := s.server.Shutdown(ctx)

	if s.cancel != nil {
		s.cancel()
	}
	select {
	case <-s.auditDone:
	case <-ctx.Done():
		s.logger.Warn("audit log drain did not finish before shutdown deadline")
	}

	if err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
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

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return database.WithTimeout(ctx, s.storeTimeout)
}
