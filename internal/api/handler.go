package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"matching-engine/internal/models"
	"matching-engine/internal/service"
	"matching-engine/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	orchestrator *service.Orchestrator
}

// NewHandler creates a new HTTP handler
func NewHandler(orchestrator *service.Orchestrator) *Handler {
	return &Handler{
		orchestrator: orchestrator,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/items", h.createItem)
		v1.GET("/items/:id/matches", h.getItemMatches)
		v1.GET("/users/:id/matches", h.getUserMatches)
		v1.GET("/chains/:id", h.getChain)
		v1.POST("/chains/:id/respond", h.respondToChain)
		v1.GET("/stats", h.getStats)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createItem registers a listing directly and runs matching for it
func (h *Handler) createItem(c *gin.Context) {
	var item models.Item

	if err := c.ShouldBindJSON(&item); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if err := h.orchestrator.ProcessNewItem(c.Request.Context(), &item); err != nil {
		respondError(c, err, "Failed to create item")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"item": item})
}

// getItemMatches returns persisted matches for one of the caller's items
func (h *Handler) getItemMatches(c *gin.Context) {
	itemID := c.Param("id")
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "user_id is required",
		})
		return
	}

	matches, err := h.orchestrator.GetMatchesForItem(c.Request.Context(), itemID, userID)
	if err != nil {
		respondError(c, err, "Failed to load matches")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"item_id": itemID,
		"matches": matches,
	})
}

// getUserMatches returns every persisted match touching the user
func (h *Handler) getUserMatches(c *gin.Context) {
	userID := c.Param("id")

	matches, err := h.orchestrator.GetMatchesForUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err, "Failed to load matches")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id": userID,
		"matches": matches,
	})
}

// getChain returns a barter chain with its participants
func (h *Handler) getChain(c *gin.Context) {
	chain, err := h.orchestrator.GetChain(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to load chain")
		return
	}

	c.JSON(http.StatusOK, gin.H{"chain": chain})
}

type chainResponseRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Accept *bool  `json:"accept" binding:"required"`
}

// respondToChain records one participant's accept/reject decision
func (h *Handler) respondToChain(c *gin.Context) {
	var req chainResponseRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	chain, err := h.orchestrator.RespondToChain(c.Request.Context(), c.Param("id"), req.UserID, *req.Accept)
	if err != nil {
		respondError(c, err, "Failed to record response")
		return
	}

	c.JSON(http.StatusOK, gin.H{"chain": chain})
}

// getStats returns aggregate matching counters
func (h *Handler) getStats(c *gin.Context) {
	stats, err := h.orchestrator.GetMatchingStats(c.Request.Context())
	if err != nil {
		respondError(c, err, "Failed to load stats")
		return
	}

	c.JSON(http.StatusOK, stats)
}

// respondError maps domain errors to HTTP statuses
func respondError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Not found",
			"details": err.Error(),
		})
	case errors.Is(err, models.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
	case errors.Is(err, models.ErrConcurrencyConflict):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "Trade no longer available",
			"details": err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   fallback,
			"details": err.Error(),
		})
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
