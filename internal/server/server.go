// Package server exposes the HTTP and WebSocket surface: risk metrics,
// alerts, profile edits, bridge operations, and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"restake-risk-alerts/internal/alerting"
	"restake-risk-alerts/internal/bridge"
	"restake-risk-alerts/internal/config"
	"restake-risk-alerts/internal/profile"
	"restake-risk-alerts/internal/realtime"
	"restake-risk-alerts/internal/service"
)

const defaultAlertLimit = 50

// Server hosts the REST API and the realtime endpoint.
type Server struct {
	svc      *service.Service
	profiles *profile.Store
	manager  *alerting.Manager
	tracker  *bridge.Tracker
	ws       *realtime.WSServer
	logger   zerolog.Logger

	httpServer *http.Server
	shutdown   time.Duration
}

// New assembles the router and returns an unstarted server.
func New(cfg config.ServerConfig, svc *service.Service, profiles *profile.Store, manager *alerting.Manager, tracker *bridge.Tracker, ws *realtime.WSServer, logger zerolog.Logger) *Server {
	s := &Server{
		svc:      svc,
		profiles: profiles,
		manager:  manager,
		tracker:  tracker,
		ws:       ws,
		logger:   logger.With().Str("component", "server").Logger(),
		shutdown: cfg.ShutdownTimeout,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	api := router.Group("/api/v1")
	{
		api.GET("/risk/metrics/:address", s.getRiskMetrics)
		api.GET("/risk/alerts/:address", s.getAlerts)
		api.PUT("/risk/profile/:address", s.putProfile)
		api.PUT("/risk/alerts/:id/read", s.markAlertRead)
		api.POST("/bridge/operations", s.initiateBridgeOperation)
		api.GET("/bridge/operations/:id", s.getBridgeOperation)
	}

	router.GET("/ws", gin.WrapF(ws.ServeWS))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", s.healthz)

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the assembled router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins serving and blocks until the listener stops.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.shutdown > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.shutdown)
		defer cancel()
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request handled")
	}
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getRiskMetrics(c *gin.Context) {
	address := c.Param("address")

	m, err := s.svc.Metrics(c.Request.Context(), address)
	if err != nil {
		if errors.Is(err, service.ErrNoMetrics) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no metrics available for address"})
			return
		}
		s.logger.Error().Err(err).Str("address", address).Msg("metrics lookup failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream scoring failed"})
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) getAlerts(c *gin.Context) {
	address := c.Param("address")

	limit := defaultAlertLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	c.JSON(http.StatusOK, gin.H{"alerts": s.manager.List(address, limit)})
}

type profileRequest struct {
	MaxRiskScore   *float64 `json:"max_risk_score"`
	PreferredYield *float64 `json:"preferred_yield"`
	AutoRebalance  *bool    `json:"auto_rebalance"`
}

func (s *Server) putProfile(c *gin.Context) {
	address := c.Param("address")

	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	update := profile.Update{AutoRebalance: req.AutoRebalance}
	if req.MaxRiskScore != nil {
		v := decimal.NewFromFloat(*req.MaxRiskScore)
		update.MaxRiskScore = &v
	}
	if req.PreferredYield != nil {
		v := decimal.NewFromFloat(*req.PreferredYield)
		update.PreferredYield = &v
	}

	p, err := s.profiles.Update(c.Request.Context(), address, update)
	if err != nil {
		var verr *profile.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
			return
		}
		s.logger.Error().Err(err).Str("address", address).Msg("profile update failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "profile update failed"})
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) markAlertRead(c *gin.Context) {
	id := c.Param("id")

	if err := s.manager.MarkRead(c.Request.Context(), id); err != nil {
		if errors.Is(err, alerting.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
			return
		}
		s.logger.Error().Err(err).Str("alert_id", id).Msg("mark read failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "mark read failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "is_read": true})
}

type bridgeRequest struct {
	User        string `json:"user" binding:"required"`
	Token       string `json:"token" binding:"required"`
	Amount      string `json:"amount" binding:"required"`
	SourceChain string `json:"source_chain" binding:"required"`
	TargetChain string `json:"target_chain" binding:"required"`
}

func (s *Server) initiateBridgeOperation(c *gin.Context) {
	var req bridgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be a decimal string"})
		return
	}

	op, err := s.tracker.Initiate(c.Request.Context(), req.User, req.Token, amount, req.SourceChain, req.TargetChain)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, op)
}

func (s *Server) getBridgeOperation(c *gin.Context) {
	id := c.Param("id")

	op, err := s.tracker.Status(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, bridge.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "operation not found"})
			return
		}
		s.logger.Error().Err(err).Str("operation_id", id).Msg("operation lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "operation lookup failed"})
		return
	}
	c.JSON(http.StatusOK, op)
}
