package scoring

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/pulseguard/internal/logging"
)

// Handler provides the HTTP scoring endpoint
type Handler struct {
	service *Service
}

// NewHandler creates a new scoring handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up scoring routes. Extra middleware (rate limiting)
// applies to the score endpoint only.
func (h *Handler) RegisterRoutes(r gin.IRoutes, middleware ...gin.HandlerFunc) {
	handlers := append(middleware, h.Score)
	r.POST("/score", handlers...)
}

// Score handles POST /score
func (h *Handler) Score(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must be {\"tx\": {...}} and/or {\"batch\": [...]}",
		})
		return
	}

	resp, err := h.service.Score(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, ErrEmptyRequest):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "empty_request",
				"message": err.Error(),
			})
		case errors.Is(err, ErrBatchTooLarge):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "batch_too_large",
				"message": err.Error(),
			})
		case errors.Is(err, ErrInvalidTransaction):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_transaction",
				"message": err.Error(),
			})
		default:
			logging.L(c.Request.Context()).Error("scoring failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to score request",
			})
		}
		return
	}

	c.JSON(http.StatusOK, resp)
}
