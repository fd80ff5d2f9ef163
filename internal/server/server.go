// Package server wires storage, the node pool, and all services into the
// HTTP server and its background workers.
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/Cafe137/swarmy-backend/internal/alert"
	"github.com/Cafe137/swarmy-backend/internal/bee"
	"github.com/Cafe137/swarmy-backend/internal/billing"
	"github.com/Cafe137/swarmy-backend/internal/config"
	"github.com/Cafe137/swarmy-backend/internal/files"
	"github.com/Cafe137/swarmy-backend/internal/health"
	"github.com/Cafe137/swarmy-backend/internal/hive"
	"github.com/Cafe137/swarmy-backend/internal/logging"
	"github.com/Cafe137/swarmy-backend/internal/metrics"
	"github.com/Cafe137/swarmy-backend/internal/monitor"
	"github.com/Cafe137/swarmy-backend/internal/organization"
	"github.com/Cafe137/swarmy-backend/internal/payment"
	"github.com/Cafe137/swarmy-backend/internal/plan"
	"github.com/Cafe137/swarmy-backend/internal/postage"
	"github.com/Cafe137/swarmy-backend/internal/token"
	"github.com/Cafe137/swarmy-backend/internal/traces"
	"github.com/Cafe137/swarmy-backend/internal/usagemetrics"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg       *config.Config
	hive      *hive.Hive
	hiveStore hive.Store
	alerts    alert.Sender

	orgStore   organization.Store
	orgService *organization.Service
	usage      *usagemetrics.Service
	payments   *payment.Service
	plans      *plan.Service
	billing    *billing.Service
	files      *files.Service

	worker           *postage.Worker
	rolloverTimer    *usagemetrics.RolloverTimer
	maintenanceTimer *monitor.MaintenanceTimer
	expirationTimer  *monitor.ExpirationTimer
	walletTimer      *monitor.WalletTimer
	cryptoTimer      *billing.CryptoTimer

	gateway billing.Gateway       // nil when Stripe is not configured
	charges billing.ChargeCreator // nil when Coinbase is not configured

	healthChecks   *health.Registry
	shutdownTraces func(context.Context) error

	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:          cfg,
		logger:       logging.New(cfg.LogLevel, "json"),
		healthChecks: health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx := context.Background()

	s.alerts = alert.NewService(cfg.AlertWebhookURL, s.logger)

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		planStore  plan.Store
		payStore   payment.Store
		queueStore postage.QueueStore
		usageStore usagemetrics.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.hiveStore = hive.NewPostgresStore(db)
		s.orgStore = organization.NewPostgresStore(db)
		planStore = plan.NewPostgresStore(db)
		payStore = payment.NewPostgresStore(db)
		queueStore = postage.NewPostgresQueueStore(db)
		usageStore = usagemetrics.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		s.hiveStore = hive.NewMemoryStore()
		s.orgStore = organization.NewMemoryStore()
		planStore = plan.NewMemoryStore()
		payStore = payment.NewMemoryStore()
		queueStore = postage.NewMemoryQueueStore()
		usageStore = usagemetrics.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")

		// Dev mode has no bees table to read from, so seed the pool with
		// the configured node.
		if cfg.BeeURL != "" {
			row := &hive.Row{
				URL:             cfg.BeeURL,
				Enabled:         true,
				UploadEnabled:   true,
				DownloadEnabled: true,
			}
			if err := s.hiveStore.Insert(ctx, row); err != nil {
				return nil, fmt.Errorf("failed to seed bee node: %w", err)
			}
			s.logger.Info("seeded bee node from BEE_URL", "url", cfg.BeeURL)
		}
	}

	// Node pool
	factory := func(row hive.Row) *bee.Client {
		return bee.NewClient(bee.Config{
			URL:            row.URL,
			AuthSecret:     row.AuthSecret,
			RequestTimeout: cfg.BeeRequestTimeout,
			CreateTimeout:  cfg.BeeCreateTimeout,
		}, s.logger)
	}
	h, err := hive.New(ctx, s.hiveStore, factory, cfg.BeeRefreshEvery, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build node pool: %w", err)
	}
	s.hive = h

	// Usage accounting
	s.usage = usagemetrics.NewService(usageStore)
	s.rolloverTimer = usagemetrics.NewRolloverTimer(s.usage, s.logger)

	// Stripe gateway doubles as the customer registrar for new organizations
	var customers organization.CustomerCreator
	if cfg.BillingEnabled() {
		gateway := billing.NewStripeGateway(
			cfg.StripeSecretKey,
			cfg.StripeWebhookSecret,
			cfg.CheckoutSuccessURL,
			cfg.CheckoutCancelURL,
		)
		s.gateway = gateway
		customers = gateway
		s.logger.Info("stripe billing enabled")
	}
	s.orgService = organization.NewService(s.orgStore, customers)

	s.payments = payment.NewService(payStore, s.alerts, s.logger)

	// Optional chain reader for cross-checking node-reported balances
	var chainReader monitor.ChainBalanceReader
	if cfg.ChainRPCURL != "" {
		reader, err := token.NewChainReader(cfg.ChainRPCURL, cfg.BZZContract)
		if err != nil {
			s.logger.Warn("failed to create chain reader, balance cross-check disabled", "error", err)
		} else {
			chainReader = reader
			s.logger.Info("chain balance cross-check enabled", "contract", cfg.BZZContract)
		}
	}
	walletMonitor := monitor.NewWalletMonitor(s.hive, chainReader, s.alerts, s.logger)

	// Plan lifecycle
	batches := &hiveBatches{hive: s.hive}
	s.plans = plan.NewService(planStore, s.orgStore, queueStore, s.usage,
		batches, &hivePrice{hive: s.hive}, s.alerts, s.logger)

	// Provisioning worker
	s.worker = postage.NewWorker(queueStore, s.orgStore, &hivePool{hive: s.hive},
		s.alerts, cfg.QueueCycleDelay, s.logger)

	// Billing
	s.billing = billing.NewService(s.orgStore, s.plans, s.payments,
		s.gateway, walletMonitor, s.alerts, s.logger)
	if cfg.CoinbaseAPIKey != "" {
		s.charges = billing.NewCoinbaseClient(cfg.CoinbaseAPIKey)
		s.cryptoTimer = billing.NewCryptoTimer(s.billing, s.charges, s.payments, s.logger)
		s.logger.Info("coinbase crypto payments enabled")
	}

	// File proxy
	s.files = files.NewService(s.hive, s.orgStore, s.usage, s.logger)

	// Scheduled monitors
	maintainer := monitor.NewMaintainer(s.plans, s.orgStore, batches, s.alerts, s.logger)
	s.maintenanceTimer = monitor.NewMaintenanceTimer(maintainer, s.logger)
	s.expirationTimer = monitor.NewExpirationTimer(
		monitor.NewExpirationMonitor(s.hive, s.alerts, s.logger), s.logger)
	s.walletTimer = monitor.NewWalletTimer(walletMonitor, s.logger)

	// Tracing (no-op when the endpoint is unset)
	shutdown, err := traces.Init(ctx, cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.shutdownTraces = shutdown
	}

	s.registerHealthChecks()

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

func (s *Server) registerHealthChecks() {
	if s.db != nil {
		s.healthChecks.Register("database", func(ctx context.Context) health.Status {
			if err := s.db.PingContext(ctx); err != nil {
				return health.Fail("database", err)
			}
			return health.OK("database", "")
		})
	}
	s.healthChecks.Register("hive", func(ctx context.Context) health.Status {
		n := len(s.hive.Nodes())
		if n == 0 {
			return health.Fail("hive", errors.New("no bee nodes in the pool"))
		}
		return health.OK("hive", fmt.Sprintf("%d nodes", n))
	})
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Hive adapters
// -----------------------------------------------------------------------------

// hivePool resolves provisioning targets from the node pool.
type hivePool struct {
	hive *hive.Hive
}

func (p *hivePool) CreationNode() (int64, postage.NodeOps, error) {
	node, err := p.hive.PickForCreation()
	if err != nil {
		return 0, nil, err
	}
	return node.ID, node.Client, nil
}

func (p *hivePool) NodeOps(beeID int64) (postage.NodeOps, error) {
	node, err := p.hive.NodeByID(beeID)
	if err != nil {
		return nil, err
	}
	return node.Client, nil
}

// hiveBatches reads remote batch state from the node that owns the batch.
type hiveBatches struct {
	hive *hive.Hive
}

func (b *hiveBatches) GetBatch(ctx context.Context, beeID int64, batchID string) (*bee.PostageBatch, error) {
	node, err := b.hive.NodeByID(beeID)
	if err != nil {
		return nil, err
	}
	return node.Client.GetPostageBatch(ctx, batchID)
}

// hivePrice reads the network storage price from the first reachable node.
type hivePrice struct {
	hive *hive.Hive
}

func (p *hivePrice) CurrentPricePerBlock(ctx context.Context) (int64, error) {
	node, err := p.hive.FirstNode()
	if err != nil {
		return 0, err
	}
	state, err := node.Client.GetChainState(ctx)
	if err != nil {
		return 0, err
	}
	price, err := strconv.ParseInt(state.CurrentPrice, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing chain price %q: %w", state.CurrentPrice, err)
	}
	return price, nil
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")
		c.Next()
	})

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func generateRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(b)
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// V1 API group
	v1 := s.router.Group("/v1")

	organization.NewHandler(s.orgService, s.usage).RegisterRoutes(v1)
	plan.NewHandler(s.plans).RegisterRoutes(v1)
	payment.NewHandler(s.payments).RegisterRoutes(v1)
	files.NewHandler(s.files).RegisterRoutes(v1)

	billingHandler := billing.NewHandler(s.billing, s.charges)
	if s.gateway != nil || s.charges != nil {
		billingHandler.RegisterRoutes(v1)
	}
	if s.gateway != nil {
		// Provider callbacks authenticate via payload signature, not API keys
		billingHandler.RegisterWebhookRoutes(s.router.Group(""))
	}

	// Admin group for node pool management
	admin := s.router.Group("/admin")
	hive.NewHandler(s.hive, s.hiveStore).RegisterAdminRoutes(admin)
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.healthChecks.CheckAll(c.Request.Context())
	status := "healthy"
	code := http.StatusOK
	if !healthy || !s.healthy.Load() {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status": status,
		"checks": statuses,
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server and all background workers, blocking until a
// shutdown signal arrives or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"nodes", len(s.hive.Nodes()),
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start node pool refresh loop
	go s.hive.Start(runCtx)

	// Start provisioning worker
	go s.worker.Start(runCtx)

	// Start usage period rollover timer
	go s.rolloverTimer.Start(runCtx)

	// Start plan maintenance timer
	go s.maintenanceTimer.Start(runCtx)

	// Start batch expiration timer
	go s.expirationTimer.Start(runCtx)

	// Start wallet balance timer
	go s.walletTimer.Start(runCtx)

	// Start crypto settlement timer
	if s.cryptoTimer != nil {
		go s.cryptoTimer.Start(runCtx)
	}

	// Export database pool stats
	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the HTTP server and background workers.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hive, worker, timers)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	if s.rolloverTimer != nil {
		s.rolloverTimer.Stop()
		s.logger.Info("usage rollover timer stopped")
	}

	if s.maintenanceTimer != nil {
		s.maintenanceTimer.Stop()
		s.logger.Info("maintenance timer stopped")
	}

	if s.expirationTimer != nil {
		s.expirationTimer.Stop()
		s.logger.Info("expiration timer stopped")
	}

	if s.walletTimer != nil {
		s.walletTimer.Stop()
		s.logger.Info("wallet timer stopped")
	}

	if s.cryptoTimer != nil {
		s.cryptoTimer.Stop()
		s.logger.Info("crypto settlement timer stopped")
	}

	if s.shutdownTraces != nil {
		if err := s.shutdownTraces(ctx); err != nil {
			s.logger.Error("trace shutdown error", "error", err)
		}
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
