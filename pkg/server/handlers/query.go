package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cognidex/crystal"
	"github.com/cognidex/crystal/pkg/resolver"
	"github.com/cognidex/crystal/pkg/server/dto"
	"github.com/cognidex/crystal/pkg/types"
)

// QueryHandler serves read-only queries over the tiered graph.
type QueryHandler struct {
	crystal crystal.Crystal
}

// NewQueryHandler creates a new query handler.
func NewQueryHandler(c crystal.Crystal) *QueryHandler {
	return &QueryHandler{crystal: c}
}

// EntitiesByTier handles GET /api/v1/tiers/:tier?min_confidence=0.5.
func (h *QueryHandler) EntitiesByTier(c *gin.Context) {
	tier := types.Tier(c.Param("tier"))
	if !tier.Valid() {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "invalid tier",
			Message: "tier must be one of perception, semantic, reasoning, application",
		})
		return
	}

	minConfidence := 0.0
	if raw := c.Query("min_confidence"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed < 0 || parsed > 1 {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{
				Error:   "invalid min_confidence",
				Message: "min_confidence must be a float in [0, 1]",
			})
			return
		}
		minConfidence = parsed
	}

	entities, err := h.crystal.EntitiesByTier(c.Request.Context(), tier, minConfidence)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:   "query failed",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, dto.Result{
		Success: true,
		Data:    gin.H{"tier": tier, "entities": entities, "count": len(entities)},
	})
}

// GetEntity handles GET /api/v1/entities/:id.
func (h *QueryHandler) GetEntity(c *gin.Context) {
	entity, err := h.crystal.GetEntity(c.Request.Context(), c.Param("id"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, crystal.ErrEntityNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, dto.ErrorResponse{
			Error:   "entity lookup failed",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, dto.Result{Success: true, Data: entity})
}

// MatchEntity handles GET /api/v1/entities/match?name=&type=&distance=2.
func (h *QueryHandler) MatchEntity(c *gin.Context) {
	name := c.Query("name")
	entityType := c.Query("type")
	if name == "" || entityType == "" {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "missing parameters",
			Message: "name and type query parameters are required",
		})
		return
	}

	distance := 2
	if raw := c.Query("distance"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{
				Error:   "invalid distance",
				Message: "distance must be a non-negative integer",
			})
			return
		}
		distance = parsed
	}

	entity, err := h.crystal.MatchEntity(c.Request.Context(), name, entityType, distance)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, crystal.ErrEntityNotFound):
			status = http.StatusNotFound
		case errors.Is(err, resolver.ErrAmbiguousMerge):
			status = http.StatusConflict
		}
		c.JSON(status, dto.ErrorResponse{
			Error:   "entity match failed",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, dto.Result{Success: true, Data: entity})
}

// EntityFacts handles GET /api/v1/entities/:id/facts.
func (h *QueryHandler) EntityFacts(c *gin.Context) {
	facts, err := h.crystal.FactUnitsByEntity(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:   "fact lookup failed",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, dto.Result{
		Success: true,
		Data:    gin.H{"facts": facts, "count": len(facts)},
	})
}

// EntityChains handles GET /api/v1/entities/:id/chains.
func (h *QueryHandler) EntityChains(c *gin.Context) {
	chains, err := h.crystal.FindFactChains(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:   "chain traversal failed",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, dto.Result{
		Success: true,
		Data:    gin.H{"chains": chains, "count": len(chains)},
	})
}

// Orphans handles GET /api/v1/orphans.
func (h *QueryHandler) Orphans(c *gin.Context) {
	orphans, err := h.crystal.OrphanEntities(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:   "orphan scan failed",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, dto.Result{
		Success: true,
		Data:    gin.H{"orphans": orphans, "count": len(orphans)},
	})
}

// Stats handles GET /api/v1/stats.
func (h *QueryHandler) Stats(c *gin.Context) {
	stats, err := h.crystal.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:   "stats failed",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, dto.Result{Success: true, Data: stats})
}

// Batches handles GET /api/v1/batches?limit=20, newest first.
func (h *QueryHandler) Batches(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{
				Error:   "invalid limit",
				Message: "limit must be a positive integer",
			})
			return
		}
		limit = parsed
	}

	batches, err := h.crystal.Batches(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:   "batch history failed",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, dto.Result{
		Success: true,
		Data:    gin.H{"batches": batches, "count": len(batches)},
	})
}
