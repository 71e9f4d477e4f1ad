// Package http exposes the relayer services over a gin HTTP API. It owns
// wire parsing and schema validation only; every chain decision lives in the
// service packages, which receive decoded, validated values.
package http

import (
	"context"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	relayer "github.com/crogas/relayer"
	"github.com/crogas/relayer/facilitation"
	"github.com/crogas/relayer/faucet"
	"github.com/crogas/relayer/forwarder"
)

// RelayService is the meta-transaction surface consumed by the API.
type RelayService interface {
	Relay(ctx context.Context, req forwarder.ForwardRequest, signature []byte, tier relayer.PriorityTier) (*forwarder.RelayResult, error)
	Nonce(ctx context.Context, from common.Address) (*big.Int, error)
	SigningDomain() relayer.TypedDataDomain
}

// FacilitationService is the x402 surface consumed by the API.
type FacilitationService interface {
	Facilitate(ctx context.Context, auth facilitation.Authorization, signature []byte, target relayer.Call) (*facilitation.Result, error)
}

// FaucetService is the disbursement surface consumed by the API.
type FaucetService interface {
	Disburse(ctx context.Context, kind faucet.Kind, to common.Address) (*faucet.Disbursement, error)
}

// Server wires the services into a gin engine.
type Server struct {
	engine      *gin.Engine
	relay       RelayService
	facilitator FacilitationService
	faucet      FaucetService
	log         *zap.Logger
}

// NewServer builds the router. The caller owns the listener lifecycle.
func NewServer(relay RelayService, facilitator FacilitationService, faucetSvc FaucetService, log *zap.Logger) *Server {
	s := &Server{
		relay:       relay,
		facilitator: facilitator,
		faucet:      faucetSvc,
		log:         log,
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger(), browserHeaders())

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	meta := engine.Group("/meta")
	meta.POST("/relay", s.handleRelay)
	meta.GET("/nonce/:address", s.handleNonce)
	meta.GET("/domain", s.handleDomain)

	engine.POST("/x402/facilitate", s.handleFacilitate)

	engine.POST("/faucet/usdc", s.handleFaucet(faucet.KindStablecoin))
	engine.POST("/faucet/native", s.handleFaucet(faucet.KindNative))

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})

	s.engine = engine
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// browserHeaders sets the CORS and security headers for browser clients: any
// origin may call the API, and preflights are answered without touching a
// handler.
func browserHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// requestLogger tags every request with an id and logs its outcome.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := uuid.NewString()
		c.Header("X-Request-ID", requestID)

		start := time.Now()
		c.Next()

		s.log.Info("http request",
			zap.String("requestId", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
