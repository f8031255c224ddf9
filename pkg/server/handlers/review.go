package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cognidex/crystal"
	"github.com/cognidex/crystal/pkg/audit"
	"github.com/cognidex/crystal/pkg/server/dto"
)

// ReviewHandler exposes the held-promotion queue and the conflict log to
// human reviewers.
type ReviewHandler struct {
	crystal crystal.ReviewManager
}

// NewReviewHandler creates a new review handler.
func NewReviewHandler(c crystal.ReviewManager) *ReviewHandler {
	return &ReviewHandler{crystal: c}
}

// PendingReviews handles GET /api/v1/review, oldest first.
func (h *ReviewHandler) PendingReviews(c *gin.Context) {
	decisions, err := h.crystal.PendingReviews(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:   "listing reviews failed",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, dto.Result{
		Success: true,
		Data:    gin.H{"pending": decisions, "count": len(decisions)},
	})
}

// Approve handles POST /api/v1/review/:id/approve. The verdict applies on
// the next batch, not immediately.
func (h *ReviewHandler) Approve(c *gin.Context) {
	decisionID := c.Param("id")

	var req dto.ApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "invalid request",
			Message: err.Error(),
		})
		return
	}

	err := h.crystal.Approve(c.Request.Context(), decisionID, req.Reviewer, req.Approved)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, audit.ErrDecisionNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, dto.ErrorResponse{
			Error:   "approval failed",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, dto.Result{
		Success: true,
		Data:    gin.H{"decision_id": decisionID, "approved": req.Approved},
	})
}

// Conflicts handles GET /api/v1/review/conflicts?since=RFC3339.
func (h *ReviewHandler) Conflicts(c *gin.Context) {
	var since time.Time
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{
				Error:   "invalid since parameter",
				Message: err.Error(),
			})
			return
		}
		since = parsed
	}

	conflicts, err := h.crystal.Conflicts(c.Request.Context(), since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:   "listing conflicts failed",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, dto.Result{
		Success: true,
		Data:    gin.H{"conflicts": conflicts, "count": len(conflicts)},
	})
}
