package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jonmaxmore/Botanical-Audit-Framework-sub003/internal/models"
	"github.com/jonmaxmore/Botanical-Audit-Framework-sub003/internal/services"
)

// KeyHandler serves the signing-key lifecycle admin API.
type KeyHandler struct {
	keys *services.KeyLifecycleService
}

// NewKeyHandler creates a new KeyHandler instance.
func NewKeyHandler(keys *services.KeyLifecycleService) *KeyHandler {
	return &KeyHandler{keys: keys}
}

// CreateInitial handles POST /api/keys/initial.
func (h *KeyHandler) CreateInitial(c *gin.Context) {
	key, err := h.keys.CreateInitial(c.Request.Context())
	if err != nil {
		if errors.Is(err, models.ErrInvalidKeyState) {
			c.JSON(http.StatusConflict, gin.H{
				"error": "Key versions already exist, use rotation",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Initial key creation failed",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, key)
}

// Rotate handles POST /api/keys/rotate.
func (h *KeyHandler) Rotate(c *gin.Context) {
	key, err := h.keys.Rotate(c.Request.Context())
	if err != nil {
		if errors.Is(err, models.ErrInvalidKeyState) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "Rotation not legal from the current key state",
				"details": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Key rotation failed",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, key)
}

// Revoke handles POST /api/keys/{version}/revoke.
func (h *KeyHandler) Revoke(c *gin.Context) {
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil || version <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid key version",
		})
		return
	}

	var req models.RevokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "A revocation reason is required",
			"details": err.Error(),
		})
		return
	}

	key, err := h.keys.Revoke(c.Request.Context(), version, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrKeyNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Key version not found",
			})
		case errors.Is(err, models.ErrInvalidKeyState):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "Revocation not legal from the current key state",
				"details": err.Error(),
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "Key revocation failed",
				"details": err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusOK, key)
}

// GetActive handles GET /api/keys/active.
func (h *KeyHandler) GetActive(c *gin.Context) {
	key, err := h.keys.Active(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Error fetching active key",
			"details": err.Error(),
		})
		return
	}

	if key == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "No active signing key, signing is blocked",
		})
		return
	}

	c.JSON(http.StatusOK, key)
}

// List handles GET /api/keys.
func (h *KeyHandler) List(c *gin.Context) {
	keys, err := h.keys.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Error listing key versions",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"keys":  keys,
		"total": len(keys),
	})
}

// GetByVersion handles GET /api/keys/{version}.
func (h *KeyHandler) GetByVersion(c *gin.Context) {
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil || version <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid key version",
		})
		return
	}

	key, err := h.keys.ByVersion(c.Request.Context(), version)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Error fetching key version",
			"details": err.Error(),
		})
		return
	}

	if key == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Key version not found",
		})
		return
	}

	c.JSON(http.StatusOK, key)
}
