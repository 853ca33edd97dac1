package attest

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler exposes the attestation key and a verification endpoint
type Handler struct {
	attestor *Attestor
}

// NewHandler creates a new attestation handler
func NewHandler(attestor *Attestor) *Handler {
	return &Handler{attestor: attestor}
}

// RegisterRoutes sets up attestation routes
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/attestation", h.Info)
	r.POST("/attestation/verify", h.Verify)
}

// Info handles GET /attestation
func (h *Handler) Info(c *gin.Context) {
	c.JSON(http.StatusOK, h.attestor.Info())
}

// VerifyRequest carries a result exactly as it was returned and its attestation.
type VerifyRequest struct {
	Payload     json.RawMessage `json:"payload" binding:"required"`
	Attestation Attestation     `json:"attestation"`
}

// Verify handles POST /attestation/verify
func (h *Handler) Verify(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must be {\"payload\": {...}, \"attestation\": {...}}",
		})
		return
	}

	valid, err := h.attestor.Verify(req.Payload, req.Attestation)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_payload",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": valid})
}
