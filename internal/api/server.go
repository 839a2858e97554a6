// Package api serves the read-only analytics surface of spec §6: a
// single operator's view onto portfolio state, open positions, trade
// history, and signal diagnostics, plus the Prometheus scrape
// endpoint. Grounded on the teacher's internal/api/server.go
// (gin.New + gin.Logger/gin.Recovery + cors.New, a Server struct
// wrapping *http.Server, setupRoutes/Start/Shutdown/handleHealth),
// trimmed to this engine's single-owner scope: no billing, license,
// vault-backed multi-tenant routes, or per-user rate limiter — those
// exist in the teacher to meter many tenants against a shared Binance
// rate limit, which a single-owner engine has no use for.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"hybrid-regime-engine/config"
	"hybrid-regime-engine/internal/auth"
	"hybrid-regime-engine/internal/chat"
	"hybrid-regime-engine/internal/events"
	"hybrid-regime-engine/internal/ledger"
	"hybrid-regime-engine/internal/metrics"
	"hybrid-regime-engine/internal/riskguard"
)

// Server is the read-only analytics HTTP API. It also exposes the
// chat command dispatcher over HTTP (POST /api/chat) as one concrete
// transport among the several spec §6 allows (Telegram/Discord/HTTP);
// a long-poll Telegram loop is the operator's choice to wire in
// front of the same Dispatcher, not something this engine assumes.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	repo       *ledger.Repository
	guard      *riskguard.Guard
	chat       *chat.Dispatcher
	jwtManager *auth.JWTManager
	passwords  *auth.PasswordManager
	wsHub      *wsHub
	cfg        config.ServerConfig
	authCfg    config.AuthConfig
	metricsCfg config.MetricsConfig
}

// NewServer wires the router and its middleware. jwtManager and
// passwords may be nil when authCfg.Enabled is false (local/dev use).
// bus may be nil in tests that don't exercise the websocket stream.
func NewServer(
	cfg config.ServerConfig,
	authCfg config.AuthConfig,
	metricsCfg config.MetricsConfig,
	repo *ledger.Repository,
	guard *riskguard.Guard,
	chatDispatcher *chat.Dispatcher,
	jwtManager *auth.JWTManager,
	passwords *auth.PasswordManager,
	bus *events.EventBus,
) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{cfg.AllowedOrigins}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	hub := newWSHub()
	go hub.run()
	if bus != nil {
		bus.SubscribeAll(hub.broadcastEvent)
	}

	s := &Server{
		router:     router,
		repo:       repo,
		guard:      guard,
		chat:       chatDispatcher,
		jwtManager: jwtManager,
		passwords:  passwords,
		wsHub:      hub,
		cfg:        cfg,
		authCfg:    authCfg,
		metricsCfg: metricsCfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ws", s.handleWebSocket)

	if s.metricsCfg.Enabled {
		s.router.GET(s.metricsCfg.Path, gin.WrapH(metrics.Handler()))
	}

	if s.authCfg.Enabled {
		s.router.POST("/api/auth/login", s.handleLogin)
	}

	if s.chat != nil {
		s.router.POST("/api/chat", s.handleChat)
	}

	api := s.router.Group("/api")
	if s.authCfg.Enabled {
		api.Use(auth.Middleware(s.jwtManager))
	}

	api.GET("/portfolio", s.handleGetPortfolio)
	api.GET("/positions", s.handleGetPositions)
	api.GET("/positions/:symbol", s.handleGetPosition)
	api.GET("/trades", s.handleGetTrades)
	api.GET("/symbols", s.handleGetSymbols)
	api.GET("/signals", s.handleGetSignals)
	api.GET("/risk", s.handleGetRisk)
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := s.repo.HealthCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "database": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "database": "healthy"})
}

func (s *Server) handleLogin(c *gin.Context) {
	var req struct {
		OwnerID  string `json:"owner_id"`
		Password string `json:"password"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.OwnerID != s.authCfg.OwnerID || !s.passwords.VerifyPassword(req.Password, s.authCfg.OwnerPasswordHash) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	pair, err := s.jwtManager.GenerateTokenPair(auth.OwnerClaims{OwnerID: req.OwnerID})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token generation failed"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

func (s *Server) handleChat(c *gin.Context) {
	var req struct {
		Secret  string `json:"secret"`
		Command string `json:"command"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	reply, err := s.chat.Handle(c.Request.Context(), req.Secret, req.Command)
	if err != nil {
		status := http.StatusBadRequest
		if err == chat.ErrUnauthorized {
			status = http.StatusUnauthorized
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reply": reply})
}

func (s *Server) handleGetPortfolio(c *gin.Context) {
	portfolio, err := s.repo.GetPortfolioState(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	openCount, err := s.repo.GetOpenPositionCount(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"balance_cash":            portfolio.BalanceCash,
		"realized_pnl_cumulative": portfolio.RealizedPnLCumulative,
		"win_count":               portfolio.WinCount,
		"loss_count":              portfolio.LossCount,
		"peak_equity":             portfolio.PeakEquity,
		"open_position_count":     openCount,
	})
}

func (s *Server) handleGetPositions(c *gin.Context) {
	positions, err := s.repo.GetAllOpenPositions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, positions)
}

func (s *Server) handleGetPosition(c *gin.Context) {
	pos, err := s.repo.GetOpenPosition(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		if err == ledger.ErrNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "no open position for symbol"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, pos)
}

func (s *Server) handleGetTrades(c *gin.Context) {
	symbol := c.Query("symbol")
	limit := 50
	if v := c.Query("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}
	trades, err := s.repo.GetClosedTrades(c.Request.Context(), symbol, limit, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, trades)
}

func (s *Server) handleGetSymbols(c *gin.Context) {
	symbols, err := s.repo.GetTrackedSymbols(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, symbols)
}

func (s *Server) handleGetSignals(c *gin.Context) {
	symbol := c.Query("symbol")
	limit := 50
	if v := c.Query("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}
	records, err := s.repo.GetSignals(c.Request.Context(), symbol, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, records)
}

func (s *Server) handleGetRisk(c *gin.Context) {
	c.JSON(http.StatusOK, s.guard.Status())
}

// Start begins serving. Blocks until Shutdown causes ListenAndServe
// to return http.ErrServerClosed.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeout) * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
