package alerts

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for sink management
type Handler struct {
	dispatcher *Dispatcher
}

// NewHandler creates a new sink handler
func NewHandler(dispatcher *Dispatcher) *Handler {
	return &Handler{dispatcher: dispatcher}
}

// RegisterRoutes sets up sink routes
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/stream/webhook", h.RegisterSink)
	r.GET("/stream/webhooks", h.ListSinks)
}

// RegisterSinkRequest registers an alert sink
type RegisterSinkRequest struct {
	URL string `json:"url" binding:"required"`
}

// RegisterSink handles POST /stream/webhook
func (h *Handler) RegisterSink(c *gin.Context) {
	var req RegisterSinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must be {\"url\": \"...\"}",
		})
		return
	}

	u, err := h.dispatcher.Register(c.Request.Context(), req.URL)
	if err != nil {
		if errors.Is(err, ErrInvalidSinkURL) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_url",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to register sink",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"registered": u})
}

// ListSinks handles GET /stream/webhooks
func (h *Handler) ListSinks(c *gin.Context) {
	sinks, err := h.dispatcher.Sinks(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list sinks",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sinks": sinks, "count": len(sinks)})
}
