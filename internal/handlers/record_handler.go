package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jonmaxmore/Botanical-Audit-Framework-sub003/internal/models"
	"github.com/jonmaxmore/Botanical-Audit-Framework-sub003/internal/services"
)

// RecordHandler serves the activity record chain HTTP API.
type RecordHandler struct {
	signer           *services.SignerService
	verifier         *services.VerifierService
	navigator        *services.NavigatorService
	defaultWalkLimit int
	maxChainLimit    int
}

// NewRecordHandler creates a new RecordHandler instance.
func NewRecordHandler(signer *services.SignerService, verifier *services.VerifierService, navigator *services.NavigatorService, defaultWalkLimit, maxChainLimit int) *RecordHandler {
	return &RecordHandler{
		signer:           signer,
		verifier:         verifier,
		navigator:        navigator,
		defaultWalkLimit: defaultWalkLimit,
		maxChainLimit:    maxChainLimit,
	}
}

// CreateRecord handles POST /api/records.
func (h *RecordHandler) CreateRecord(c *gin.Context) {
	var req models.RecordRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	record, err := h.signer.Sign(c.Request.Context(), req.OwnerID, req.Type, req.Data, req.ActorID, req.Timestamp)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNoActiveKey):
			// Fail closed: no active key means no record, ever.
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": "No active signing key, record creation is blocked",
			})
		case errors.Is(err, models.ErrConcurrentAppend):
			c.JSON(http.StatusConflict, gin.H{
				"error": "Concurrent append conflict, retry the request",
			})
		case errors.Is(err, models.ErrTimestampNotCovered):
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":   "Timestamp is outside the active signing key's validity window",
				"details": err.Error(),
			})
		default:
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Record creation failed",
				"details": err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusCreated, record)
}

// GetChain handles GET /api/records/{ownerId}.
func (h *RecordHandler) GetChain(c *gin.Context) {
	ownerID := c.Param("ownerId")
	limit := h.parseLimit(c, h.maxChainLimit)

	records, err := h.navigator.Chain(c.Request.Context(), ownerID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Error loading chain",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ownerId": ownerID,
		"records": records,
		"total":   len(records),
	})
}

// VerifyChain handles GET /api/records/{ownerId}/verify.
func (h *RecordHandler) VerifyChain(c *gin.Context) {
	ownerID := c.Param("ownerId")
	limit := h.parseLimit(c, h.maxChainLimit)

	result, err := h.verifier.VerifyChain(c.Request.Context(), ownerID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Error verifying chain",
			"details": err.Error(),
		})
		return
	}

	// An invalid chain is still a successful verification run; the verdict
	// carries the failing record and reason for the auditor.
	c.JSON(http.StatusOK, result)
}

// VerifyRecord handles GET /api/records/{ownerId}/record/{recordId}/verify.
func (h *RecordHandler) VerifyRecord(c *gin.Context) {
	ownerID := c.Param("ownerId")
	recordID := c.Param("recordId")

	verifiedBy := c.Query("verifiedBy")
	if verifiedBy == "" {
		verifiedBy = "api"
	}

	result, err := h.verifier.VerifyAndAnnotate(c.Request.Context(), ownerID, recordID, verifiedBy)
	if err != nil {
		if errors.Is(err, models.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Record not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Error verifying record",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, result)
}

// Walk handles GET /api/records/{ownerId}/walk.
func (h *RecordHandler) Walk(c *gin.Context) {
	ownerID := c.Param("ownerId")
	fromHash := c.Query("from")
	direction := c.DefaultQuery("direction", models.DirectionBackward)
	limit := h.parseLimit(c, h.defaultWalkLimit)

	var start *models.ActivityRecord
	var err error
	if fromHash != "" {
		start, err = h.navigator.RecordByHash(c.Request.Context(), ownerID, fromHash)
	} else {
		start, err = h.navigator.Tip(c.Request.Context(), ownerID)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Error resolving walk start",
			"details": err.Error(),
		})
		return
	}
	if start == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Starting record not found",
		})
		return
	}

	path, err := h.navigator.Walk(c.Request.Context(), start, direction, limit)
	if err != nil {
		if errors.Is(err, models.ErrForkDetected) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "Fork detected during traversal",
				"details": err.Error(),
				"partial": path,
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Walk failed",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ownerId":   ownerID,
		"start":     start,
		"direction": direction,
		"path":      path,
		"total":     len(path),
	})
}

// parseLimit reads the limit query parameter, clamped to max.
func (h *RecordHandler) parseLimit(c *gin.Context, max int) int {
	limitStr := c.DefaultQuery("limit", strconv.Itoa(max))
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 || limit > max {
		return max
	}
	return limit
}
