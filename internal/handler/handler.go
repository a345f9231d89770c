// Package handler exposes the read-only operational API: portfolio,
// position, order, trade and snapshot state out of the ledger, plus the
// token endpoint that unlocks it.
package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/tradecore/internal/middleware"
	"github.com/tradecore/internal/store"
	"github.com/tradecore/pkg/response"
	"go.uber.org/zap"
)

// Handler serves the operational API from the ledger.
type Handler struct {
	ledger store.Ledger
	auth   *middleware.Authenticator
	logger *zap.Logger
}

// New creates a Handler.
func New(ledger store.Ledger, auth *middleware.Authenticator, logger *zap.Logger) *Handler {
	return &Handler{ledger: ledger, auth: auth, logger: logger}
}

// RegisterRoutes wires the API onto the router.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)
	r.POST("/api/v1/auth/token", h.IssueToken)

	api := r.Group("/api/v1", middleware.AuthMiddleware(h.auth))
	{
		api.GET("/portfolios", h.GetPortfolios)
		api.GET("/portfolios/:id", h.GetPortfolio)
		api.GET("/portfolios/:id/positions", h.GetPositions)
		api.GET("/portfolios/:id/orders", h.GetOrders)
		api.GET("/portfolios/:id/trades", h.GetTrades)
		api.GET("/portfolios/:id/snapshots", h.GetSnapshots)
	}
}

// Health reports liveness.
// GET /health
func (h *Handler) Health(c *gin.Context) {
	response.Success(c, gin.H{"status": "ok"})
}

// IssueToken exchanges the admin token for a JWT.
// POST /api/v1/auth/token
func (h *Handler) IssueToken(c *gin.Context) {
	var req struct {
		AdminToken string `json:"admin_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	token, err := h.auth.IssueToken(req.AdminToken)
	if err != nil {
		response.Unauthorized(c, "invalid admin token")
		return
	}
	response.Success(c, gin.H{"token": token})
}

// GetPortfolios lists all portfolios.
// GET /api/v1/portfolios
func (h *Handler) GetPortfolios(c *gin.Context) {
	portfolios, err := h.ledger.GetPortfolios()
	if err != nil {
		response.InternalError(c, err.Error())
		return
	}
	response.Success(c, portfolios)
}

// GetPortfolio returns one portfolio.
// GET /api/v1/portfolios/:id
func (h *Handler) GetPortfolio(c *gin.Context) {
	id, ok := h.portfolioID(c)
	if !ok {
		return
	}
	portfolio, err := h.ledger.GetPortfolio(id)
	if err != nil {
		if errors.Is(err, store.ErrPortfolioNotFound) {
			response.NotFound(c, "portfolio not found")
			return
		}
		response.InternalError(c, err.Error())
		return
	}
	response.Success(c, portfolio)
}

// GetPositions lists a portfolio's positions.
// GET /api/v1/portfolios/:id/positions
func (h *Handler) GetPositions(c *gin.Context) {
	id, ok := h.portfolioID(c)
	if !ok {
		return
	}
	positions, err := h.ledger.GetPositions(id)
	if err != nil {
		response.InternalError(c, err.Error())
		return
	}
	response.Success(c, positions)
}

// GetOrders lists a portfolio's orders.
// GET /api/v1/portfolios/:id/orders
func (h *Handler) GetOrders(c *gin.Context) {
	id, ok := h.portfolioID(c)
	if !ok {
		return
	}
	orders, err := h.ledger.GetOrders(id)
	if err != nil {
		response.InternalError(c, err.Error())
		return
	}
	response.Success(c, orders)
}

// GetTrades lists a portfolio's open trades.
// GET /api/v1/portfolios/:id/trades
func (h *Handler) GetTrades(c *gin.Context) {
	id, ok := h.portfolioID(c)
	if !ok {
		return
	}
	trades, err := h.ledger.GetOpenTrades(id)
	if err != nil {
		response.InternalError(c, err.Error())
		return
	}
	response.Success(c, trades)
}

// GetSnapshots lists a portfolio's snapshots, newest first.
// GET /api/v1/portfolios/:id/snapshots
func (h *Handler) GetSnapshots(c *gin.Context) {
	id, ok := h.portfolioID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit < 1 || limit > 1000 {
		limit = 100
	}
	snapshots, err := h.ledger.GetSnapshots(id, limit)
	if err != nil {
		response.InternalError(c, err.Error())
		return
	}
	response.Success(c, snapshots)
}

func (h *Handler) portfolioID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid portfolio id")
		return 0, false
	}
	return uint(id), true
}
