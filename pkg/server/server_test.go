package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognidex/crystal"
	"github.com/cognidex/crystal/pkg/audit"
	"github.com/cognidex/crystal/pkg/config"
	"github.com/cognidex/crystal/pkg/observation"
	"github.com/cognidex/crystal/pkg/store"
	"github.com/cognidex/crystal/pkg/types"
)

func testServer(t *testing.T) (*Server, *crystal.Client, *observation.Queue) {
	t.Helper()

	queue := observation.NewQueue()
	graph := store.NewMemoryStore()
	trail := audit.NewMemoryTrail()
	marks := observation.NewMemoryWatermarkStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	client, err := crystal.NewClient(graph, queue, marks, trail, nil, nil, nil, logger)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.Mode = "test"

	srv := New(cfg, client, queue)
	srv.Setup()
	return srv, client, queue
}

func doRequest(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoints(t *testing.T) {
	srv, _, _ := testServer(t)

	for _, path := range []string{"/health", "/ready", "/live", "/health/detailed"} {
		w := doRequest(t, srv, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestIngestAndQueryRoundTrip(t *testing.T) {
	srv, client, _ := testServer(t)
	now := time.Now().UTC()

	payload := map[string]interface{}{
		"observations": []map[string]interface{}{
			{
				"id": "obs-1", "context_id": "ctx-1",
				"name": "Aspirin", "entity_type": "drug",
				"confidence": 0.9, "source": "neural_inference",
				"observed_at": now.Format(time.RFC3339),
			},
			{
				"id": "obs-2", "context_id": "ctx-1",
				"name": "Atrial Fibrillation", "entity_type": "condition",
				"confidence": 0.8, "source": "neural_inference",
				"observed_at": now.Format(time.RFC3339),
			},
		},
	}

	w := doRequest(t, srv, http.MethodPost, "/api/v1/ingest/observations", payload)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	// Ingestion only buffers; crystallization happens on flush.
	_, err := client.RunBatch(context.Background())
	require.NoError(t, err)

	w = doRequest(t, srv, http.MethodGet, "/api/v1/tiers/perception", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var result struct {
		Success bool `json:"success"`
		Data    struct {
			Count int `json:"count"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.Data.Count)

	w = doRequest(t, srv, http.MethodGet, "/api/v1/stats", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, srv, http.MethodGet, "/api/v1/batches", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestIngestRejectsInvalidObservations(t *testing.T) {
	srv, _, _ := testServer(t)

	w := doRequest(t, srv, http.MethodPost, "/api/v1/ingest/observations", map[string]interface{}{
		"observations": []map[string]interface{}{
			{"id": "obs-1", "name": "Aspirin", "entity_type": "drug",
				"confidence": 1.5, "source": "neural_inference"},
		},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, srv, http.MethodPost, "/api/v1/ingest/observations", map[string]interface{}{
		"observations": []map[string]interface{}{},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code, "empty batches are rejected")

	w = doRequest(t, srv, http.MethodPost, "/api/v1/ingest/observations", map[string]interface{}{
		"observations": []map[string]interface{}{
			{"id": "obs-1", "name": "Aspirin", "entity_type": "drug",
				"confidence": 0.5, "source": "made_up_source"},
		},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code, "unknown source kinds are rejected")
}

func TestTierValidation(t *testing.T) {
	srv, _, _ := testServer(t)

	w := doRequest(t, srv, http.MethodGet, "/api/v1/tiers/mythical", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, srv, http.MethodGet, "/api/v1/tiers/semantic?min_confidence=2.0", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEntityLookupNotFound(t *testing.T) {
	srv, _, _ := testServer(t)

	w := doRequest(t, srv, http.MethodGet, "/api/v1/entities/no-such-entity", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEntityMatchEndpoint(t *testing.T) {
	srv, client, _ := testServer(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, client.Store().UpsertEntity(ctx, &types.Entity{
		ID:               "ent-asp",
		Name:             "Aspirin",
		NormalizedName:   "aspirin",
		EntityType:       "drug",
		Tier:             types.TierPerception,
		Confidence:       0.8,
		ObservationCount: 1,
		FirstObserved:    now,
		LastObserved:     now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}))

	w := doRequest(t, srv, http.MethodGet, "/api/v1/entities/match?name=asprin&type=drug&distance=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var result struct {
		Data types.Entity `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "ent-asp", result.Data.ID)

	w = doRequest(t, srv, http.MethodGet, "/api/v1/entities/match?name=ibuprofen&type=drug", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(t, srv, http.MethodGet, "/api/v1/entities/match?type=drug", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, srv, http.MethodGet, "/api/v1/entities/match?name=x&type=drug&distance=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReviewEndpoints(t *testing.T) {
	srv, client, queue := testServer(t)
	ctx := context.Background()
	now := time.Now()

	// Seed a held high-risk promotion by running a batch over a strong
	// treatment entity at the semantic tier.
	entity := &types.Entity{
		ID:               "ent-treat",
		Name:             "Warfarin",
		NormalizedName:   "warfarin",
		EntityType:       "treatment",
		Tier:             types.TierSemantic,
		Confidence:       0.95,
		ObservationCount: 6,
		OntologyCode:     "ATC:B01AA03",
		SourceIDs:        []string{"seed-1"},
		FirstObserved:    now.Add(-72 * time.Hour),
		LastObserved:     now,
		CreatedAt:        now.Add(-72 * time.Hour),
		UpdatedAt:        now,
	}
	require.NoError(t, client.Store().UpsertEntity(ctx, entity))

	require.NoError(t, queue.Publish(&types.Observation{
		ID: "obs-1", ContextID: "ctx-1",
		Name: "Warfarin", EntityType: "treatment",
		Score: types.ConfidenceScore{
			Value: 0.9, Source: types.SourceNeuralInference, Timestamp: now,
		},
		ObservedAt: now,
	}))
	_, err := client.RunBatch(ctx)
	require.NoError(t, err)

	w := doRequest(t, srv, http.MethodGet, "/api/v1/review", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var listing struct {
		Data struct {
			Pending []struct {
				ID string `json:"id"`
			} `json:"pending"`
			Count int `json:"count"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	require.GreaterOrEqual(t, listing.Data.Count, 1)
	decisionID := listing.Data.Pending[0].ID

	w = doRequest(t, srv, http.MethodPost,
		fmt.Sprintf("/api/v1/review/%s/approve", decisionID),
		map[string]interface{}{"reviewer": "dr-reviewer", "approved": true})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doRequest(t, srv, http.MethodPost, "/api/v1/review/no-such-decision/approve",
		map[string]interface{}{"reviewer": "dr-reviewer", "approved": true})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(t, srv, http.MethodGet, "/api/v1/review/conflicts", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, srv, http.MethodGet, "/api/v1/review/conflicts?since=not-a-time", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFlushEndpoint(t *testing.T) {
	srv, _, _ := testServer(t)

	w := doRequest(t, srv, http.MethodPost, "/api/v1/ingest/flush", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestCORSPreflighting(t *testing.T) {
	srv, _, _ := testServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/stats", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
