package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cognidex/crystal"
	"github.com/cognidex/crystal/pkg/server/dto"
	"github.com/cognidex/crystal/pkg/types"
)

// Publisher accepts observations into the buffered source. Publication is
// all-or-nothing per request.
type Publisher interface {
	Publish(observations ...*types.Observation) error
}

// IngestHandler accepts observation batches and flush requests.
type IngestHandler struct {
	crystal   crystal.Crystallizer
	publisher Publisher
}

// NewIngestHandler creates a new ingest handler.
func NewIngestHandler(c crystal.Crystallizer, publisher Publisher) *IngestHandler {
	return &IngestHandler{crystal: c, publisher: publisher}
}

// AddObservations handles POST /api/v1/ingest/observations. Accepted
// observations wait in the buffer until the next flush; 202 signals
// acceptance, not crystallization.
func (h *IngestHandler) AddObservations(c *gin.Context) {
	var req dto.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "invalid request",
			Message: err.Error(),
		})
		return
	}

	observations := make([]*types.Observation, 0, len(req.Observations))
	for i, obsReq := range req.Observations {
		if err := obsReq.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{
				Error:   "invalid observation",
				Message: fmt.Sprintf("observation %d: %v", i, err),
			})
			return
		}
		observations = append(observations, obsReq.ToObservation())
	}

	if err := h.publisher.Publish(observations...); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "publish failed",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, dto.Result{
		Success: true,
		Data:    gin.H{"accepted": len(observations)},
	})
}

// Flush handles POST /api/v1/ingest/flush. The trigger coalesces with any
// flush already pending.
func (h *IngestHandler) Flush(c *gin.Context) {
	h.crystal.TriggerFlush()
	c.JSON(http.StatusAccepted, dto.Result{Success: true})
}
