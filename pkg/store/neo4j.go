package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/cognidex/crystal/pkg/types"
)

// Neo4jStore implements GraphStore on a Neo4j database. Entities and fact
// units are nodes; relationships and fact participation are edges. All
// writes are MERGE-based upserts keyed on id, and CommitFact runs inside a
// single managed write transaction so a failing statement rolls back the
// whole fact.
type Neo4jStore struct {
	client   neo4j.DriverWithContext
	database string
}

// NewNeo4jStore creates a Neo4j-backed store.
func NewNeo4jStore(uri, username, password, database string) (*Neo4jStore, error) {
	client, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if database == "" {
		database = "neo4j"
	}
	return &Neo4jStore{client: client, database: database}, nil
}

// CreateIndices creates uniqueness constraints and lookup indices.
func (s *Neo4jStore) CreateIndices(ctx context.Context) error {
	session := s.client.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
	defer session.Close(ctx)

	statements := []string{
		`CREATE CONSTRAINT entity_id IF NOT EXISTS FOR (e:Entity) REQUIRE e.id IS UNIQUE`,
		`CREATE CONSTRAINT fact_id IF NOT EXISTS FOR (f:FactUnit) REQUIRE f.id IS UNIQUE`,
		`CREATE INDEX entity_key IF NOT EXISTS FOR (e:Entity) ON (e.normalized_name, e.entity_type)`,
		`CREATE INDEX entity_tier IF NOT EXISTS FOR (e:Entity) ON (e.tier)`,
	}
	for _, stmt := range statements {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

func entityParams(e *types.Entity) map[string]any {
	attrs, _ := json.Marshal(e.Attributes)
	return map[string]any{
		"id":                e.ID,
		"name":              e.Name,
		"normalized_name":   e.NormalizedName,
		"entity_type":       e.EntityType,
		"tier":              string(e.Tier),
		"confidence":        e.Confidence,
		"observation_count": e.ObservationCount,
		"authoritative":     e.Authoritative,
		"first_observed":    e.FirstObserved,
		"last_observed":     e.LastObserved,
		"origin_batch_id":   e.OriginBatchID,
		"ontology_code":     e.OntologyCode,
		"attributes":        string(attrs),
		"source_ids":        e.SourceIDs,
		"created_at":        e.CreatedAt,
		"updated_at":        e.UpdatedAt,
	}
}

const upsertEntityQuery = `
	MERGE (e:Entity {id: $id})
	SET e.name = $name,
	    e.normalized_name = $normalized_name,
	    e.entity_type = $entity_type,
	    e.tier = $tier,
	    e.confidence = $confidence,
	    e.observation_count = $observation_count,
	    e.authoritative = $authoritative,
	    e.first_observed = $first_observed,
	    e.last_observed = $last_observed,
	    e.origin_batch_id = $origin_batch_id,
	    e.ontology_code = $ontology_code,
	    e.attributes = $attributes,
	    e.source_ids = $source_ids,
	    e.created_at = $created_at,
	    e.updated_at = $updated_at
`

func relationshipParams(r *types.Relationship) map[string]any {
	return map[string]any{
		"id":                r.ID,
		"source_id":         r.SourceID,
		"target_id":         r.TargetID,
		"type":              r.Type,
		"tier":              string(r.Tier),
		"confidence":        r.Confidence,
		"observation_count": r.ObservationCount,
		"authoritative":     r.Authoritative,
		"inferred":          r.Inferred,
		"fact_ids":          r.FactIDs,
		"source_ids":        r.SourceIDs,
		"first_observed":    r.FirstObserved,
		"last_observed":     r.LastObserved,
		"created_at":        r.CreatedAt,
		"updated_at":        r.UpdatedAt,
	}
}

const upsertRelationshipQuery = `
	MATCH (s:Entity {id: $source_id}), (t:Entity {id: $target_id})
	MERGE (s)-[r:RELATES_TO {id: $id}]->(t)
	SET r.type = $type,
	    r.tier = $tier,
	    r.confidence = $confidence,
	    r.observation_count = $observation_count,
	    r.authoritative = $authoritative,
	    r.inferred = $inferred,
	    r.fact_ids = $fact_ids,
	    r.source_ids = $source_ids,
	    r.first_observed = $first_observed,
	    r.last_observed = $last_observed,
	    r.created_at = $created_at,
	    r.updated_at = $updated_at
`

func factParams(f *types.FactUnit) map[string]any {
	scores, _ := json.Marshal(f.Scores)
	return map[string]any{
		"id":             f.ID,
		"type":           string(f.Type),
		"scores":         string(scores),
		"confidence":     f.Confidence,
		"chunk_ids":      f.ChunkIDs,
		"validated":      f.Validated,
		"promoted_edges": f.PromotedEdges,
		"created_at":     f.CreatedAt,
		"updated_at":     f.UpdatedAt,
	}
}

const upsertFactQuery = `
	MERGE (f:FactUnit {id: $id})
	SET f.type = $type,
	    f.scores = $scores,
	    f.confidence = $confidence,
	    f.chunk_ids = $chunk_ids,
	    f.validated = $validated,
	    f.promoted_edges = $promoted_edges,
	    f.created_at = $created_at,
	    f.updated_at = $updated_at
`

const linkParticipantQuery = `
	MATCH (f:FactUnit {id: $fact_id}), (e:Entity {id: $entity_id})
	MERGE (f)-[p:INVOLVES]->(e)
	SET p.role = $role
`

// GetEntity retrieves an entity by id.
func (s *Neo4jStore) GetEntity(ctx context.Context, id string) (*types.Entity, error) {
	return s.readEntity(ctx, `MATCH (e:Entity {id: $id}) RETURN e`, map[string]any{"id": id})
}

// GetEntityByKey retrieves an entity by (normalized name, type).
func (s *Neo4jStore) GetEntityByKey(ctx context.Context, normalizedName, entityType string) (*types.Entity, error) {
	return s.readEntity(ctx,
		`MATCH (e:Entity {normalized_name: $name, entity_type: $type}) RETURN e LIMIT 1`,
		map[string]any{"name": normalizedName, "type": entityType})
}

func (s *Neo4jStore) readEntity(ctx context.Context, query string, params map[string]any) (*types.Entity, error) {
	entities, err := s.readEntities(ctx, query, params)
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, ErrNotFound
	}
	return entities[0], nil
}

func (s *Neo4jStore) readEntities(ctx context.Context, query string, params map[string]any) ([]*types.Entity, error) {
	session := s.client.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		var entities []*types.Entity
		for res.Next(ctx) {
			value, found := res.Record().Get("e")
			if !found {
				continue
			}
			node, ok := value.(dbtype.Node)
			if !ok {
				return nil, fmt.Errorf("unexpected record type %T", value)
			}
			entities = append(entities, entityFromNode(node))
		}
		return entities, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return result.([]*types.Entity), nil
}

func entityFromNode(node dbtype.Node) *types.Entity {
	e := &types.Entity{
		ID:             getString(node.Props, "id"),
		Name:           getString(node.Props, "name"),
		NormalizedName: getString(node.Props, "normalized_name"),
		EntityType:     getString(node.Props, "entity_type"),
		Tier:           types.Tier(getString(node.Props, "tier")),
		OriginBatchID:  getString(node.Props, "origin_batch_id"),
		OntologyCode:   getString(node.Props, "ontology_code"),
	}
	if v, ok := node.Props["confidence"].(float64); ok {
		e.Confidence = v
	}
	if v, ok := node.Props["observation_count"].(int64); ok {
		e.ObservationCount = int(v)
	}
	if v, ok := node.Props["authoritative"].(bool); ok {
		e.Authoritative = v
	}
	if v, ok := node.Props["attributes"].(string); ok && v != "" {
		_ = json.Unmarshal([]byte(v), &e.Attributes)
	}
	e.SourceIDs = getStrings(node.Props, "source_ids")
	e.FirstObserved = getTime(node.Props, "first_observed")
	e.LastObserved = getTime(node.Props, "last_observed")
	e.CreatedAt = getTime(node.Props, "created_at")
	e.UpdatedAt = getTime(node.Props, "updated_at")
	return e
}

func getString(props map[string]any, key string) string {
	if v, ok := props[key].(string); ok {
		return v
	}
	return ""
}

func getStrings(props map[string]any, key string) []string {
	raw, ok := props[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func getTime(props map[string]any, key string) time.Time {
	switch v := props[key].(type) {
	case time.Time:
		return v
	case dbtype.Time:
		return v.Time()
	}
	return time.Time{}
}

// EntitiesByType returns all entities of a type.
func (s *Neo4jStore) EntitiesByType(ctx context.Context, entityType string) ([]*types.Entity, error) {
	return s.readEntities(ctx,
		`MATCH (e:Entity {entity_type: $type}) RETURN e`,
		map[string]any{"type": entityType})
}

// EntitiesByTier returns entities at the tier with confidence >= minConfidence.
func (s *Neo4jStore) EntitiesByTier(ctx context.Context, tier types.Tier, minConfidence float64) ([]*types.Entity, error) {
	return s.readEntities(ctx,
		`MATCH (e:Entity {tier: $tier}) WHERE e.confidence >= $min RETURN e`,
		map[string]any{"tier": string(tier), "min": minConfidence})
}

// OrphanEntities returns entities with no incident edges.
func (s *Neo4jStore) OrphanEntities(ctx context.Context) ([]*types.Entity, error) {
	return s.readEntities(ctx,
		`MATCH (e:Entity) WHERE NOT (e)--() RETURN e`, nil)
}

// UpsertEntity writes the entity by id.
func (s *Neo4jStore) UpsertEntity(ctx context.Context, entity *types.Entity) error {
	if err := entity.ValidateForCreate(); err != nil {
		return err
	}
	return s.write(ctx, upsertEntityQuery, entityParams(entity))
}

func (s *Neo4jStore) write(ctx context.Context, query string, params map[string]any) error {
	session := s.client.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, query, params)
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// GetRelationship retrieves a relationship by id.
func (s *Neo4jStore) GetRelationship(ctx context.Context, id string) (*types.Relationship, error) {
	rels, err := s.readRelationships(ctx,
		`MATCH (s:Entity)-[r:RELATES_TO {id: $id}]->(t:Entity) RETURN r, s.id AS source, t.id AS target`,
		map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(rels) == 0 {
		return nil, ErrNotFound
	}
	return rels[0], nil
}

// RelationshipsBetween returns relationships in either direction between two entities.
func (s *Neo4jStore) RelationshipsBetween(ctx context.Context, sourceID, targetID string) ([]*types.Relationship, error) {
	return s.readRelationships(ctx, `
		MATCH (s:Entity {id: $a})-[r:RELATES_TO]-(t:Entity {id: $b})
		RETURN r, startNode(r).id AS source, endNode(r).id AS target`,
		map[string]any{"a": sourceID, "b": targetID})
}

// RelationshipsByEntity returns relationships incident to the entity.
func (s *Neo4jStore) RelationshipsByEntity(ctx context.Context, entityID string) ([]*types.Relationship, error) {
	return s.readRelationships(ctx, `
		MATCH (e:Entity {id: $id})-[r:RELATES_TO]-()
		RETURN r, startNode(r).id AS source, endNode(r).id AS target`,
		map[string]any{"id": entityID})
}

func (s *Neo4jStore) readRelationships(ctx context.Context, query string, params map[string]any) ([]*types.Relationship, error) {
	session := s.client.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		var rels []*types.Relationship
		for res.Next(ctx) {
			record := res.Record()
			value, found := record.Get("r")
			if !found {
				continue
			}
			edge, ok := value.(dbtype.Relationship)
			if !ok {
				return nil, fmt.Errorf("unexpected record type %T", value)
			}
			rel := relationshipFromEdge(edge)
			if source, ok := record.Get("source"); ok {
				rel.SourceID, _ = source.(string)
			}
			if target, ok := record.Get("target"); ok {
				rel.TargetID, _ = target.(string)
			}
			rels = append(rels, rel)
		}
		return rels, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return result.([]*types.Relationship), nil
}

func relationshipFromEdge(edge dbtype.Relationship) *types.Relationship {
	r := &types.Relationship{
		ID:   getString(edge.Props, "id"),
		Type: getString(edge.Props, "type"),
		Tier: types.Tier(getString(edge.Props, "tier")),
	}
	if v, ok := edge.Props["confidence"].(float64); ok {
		r.Confidence = v
	}
	if v, ok := edge.Props["observation_count"].(int64); ok {
		r.ObservationCount = int(v)
	}
	if v, ok := edge.Props["authoritative"].(bool); ok {
		r.Authoritative = v
	}
	if v, ok := edge.Props["inferred"].(bool); ok {
		r.Inferred = v
	}
	r.FactIDs = getStrings(edge.Props, "fact_ids")
	r.SourceIDs = getStrings(edge.Props, "source_ids")
	r.FirstObserved = getTime(edge.Props, "first_observed")
	r.LastObserved = getTime(edge.Props, "last_observed")
	r.CreatedAt = getTime(edge.Props, "created_at")
	r.UpdatedAt = getTime(edge.Props, "updated_at")
	return r
}

// UpsertRelationship writes the relationship by id.
func (s *Neo4jStore) UpsertRelationship(ctx context.Context, rel *types.Relationship) error {
	if err := rel.Validate(); err != nil {
		return err
	}
	return s.write(ctx, upsertRelationshipQuery, relationshipParams(rel))
}

// GetFactUnit retrieves a fact unit with its participants.
func (s *Neo4jStore) GetFactUnit(ctx context.Context, id string) (*types.FactUnit, error) {
	facts, err := s.readFacts(ctx, `
		MATCH (f:FactUnit {id: $id})-[p:INVOLVES]->(e:Entity)
		RETURN f, collect({entity_id: e.id, role: p.role}) AS participants`,
		map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(facts) == 0 {
		return nil, ErrNotFound
	}
	return facts[0], nil
}

// FactUnitsByEntity returns fact units the entity participates in.
func (s *Neo4jStore) FactUnitsByEntity(ctx context.Context, entityID string) ([]*types.FactUnit, error) {
	return s.readFacts(ctx, `
		MATCH (f:FactUnit)-[:INVOLVES]->(:Entity {id: $id})
		MATCH (f)-[p:INVOLVES]->(e:Entity)
		RETURN f, collect({entity_id: e.id, role: p.role}) AS participants`,
		map[string]any{"id": entityID})
}

// AllFactUnits returns every stored fact unit.
func (s *Neo4jStore) AllFactUnits(ctx context.Context) ([]*types.FactUnit, error) {
	return s.readFacts(ctx, `
		MATCH (f:FactUnit)-[p:INVOLVES]->(e:Entity)
		RETURN f, collect({entity_id: e.id, role: p.role}) AS participants`, nil)
}

func (s *Neo4jStore) readFacts(ctx context.Context, query string, params map[string]any) ([]*types.FactUnit, error) {
	session := s.client.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		var facts []*types.FactUnit
		for res.Next(ctx) {
			record := res.Record()
			value, found := record.Get("f")
			if !found {
				continue
			}
			node, ok := value.(dbtype.Node)
			if !ok {
				return nil, fmt.Errorf("unexpected record type %T", value)
			}
			fact := factFromNode(node)
			if raw, ok := record.Get("participants"); ok {
				if list, ok := raw.([]any); ok {
					for _, item := range list {
						if m, ok := item.(map[string]any); ok {
							fact.Participants = append(fact.Participants, types.Participant{
								EntityID: getString(m, "entity_id"),
								Role:     getString(m, "role"),
							})
						}
					}
				}
			}
			facts = append(facts, fact)
		}
		return facts, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return result.([]*types.FactUnit), nil
}

func factFromNode(node dbtype.Node) *types.FactUnit {
	f := &types.FactUnit{
		ID:   getString(node.Props, "id"),
		Type: types.FactType(getString(node.Props, "type")),
	}
	if v, ok := node.Props["confidence"].(float64); ok {
		f.Confidence = v
	}
	if v, ok := node.Props["validated"].(bool); ok {
		f.Validated = v
	}
	if v, ok := node.Props["scores"].(string); ok && v != "" {
		_ = json.Unmarshal([]byte(v), &f.Scores)
	}
	f.ChunkIDs = getStrings(node.Props, "chunk_ids")
	f.PromotedEdges = getStrings(node.Props, "promoted_edges")
	f.CreatedAt = getTime(node.Props, "created_at")
	f.UpdatedAt = getTime(node.Props, "updated_at")
	return f
}

// UpsertFactUnit writes the fact unit and its participant edges.
func (s *Neo4jStore) UpsertFactUnit(ctx context.Context, fact *types.FactUnit) error {
	if err := fact.Validate(); err != nil {
		return err
	}
	session := s.client.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, upsertFactQuery, factParams(fact)); err != nil {
			return nil, err
		}
		for _, p := range fact.Participants {
			if _, err := tx.Run(ctx, linkParticipantQuery, map[string]any{
				"fact_id":   fact.ID,
				"entity_id": p.EntityID,
				"role":      p.Role,
			}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// CommitFact writes all records of one fact inside a single managed write
// transaction. Neo4j rolls the transaction back if any statement fails, so
// partially written facts cannot leak into the graph.
func (s *Neo4jStore) CommitFact(ctx context.Context, write *FactWrite) error {
	session := s.client.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, e := range append(append([]*types.Entity(nil), write.Created...), write.Merged...) {
			if err := e.ValidateForCreate(); err != nil {
				return nil, err
			}
			if _, err := tx.Run(ctx, upsertEntityQuery, entityParams(e)); err != nil {
				return nil, err
			}
		}
		for _, r := range write.Relationships {
			if err := r.Validate(); err != nil {
				return nil, err
			}
			if _, err := tx.Run(ctx, upsertRelationshipQuery, relationshipParams(r)); err != nil {
				return nil, err
			}
		}
		if write.Fact != nil {
			if err := write.Fact.Validate(); err != nil {
				return nil, err
			}
			if _, err := tx.Run(ctx, upsertFactQuery, factParams(write.Fact)); err != nil {
				return nil, err
			}
			for _, p := range write.Fact.Participants {
				if _, err := tx.Run(ctx, linkParticipantQuery, map[string]any{
					"fact_id":   write.Fact.ID,
					"entity_id": p.EntityID,
					"role":      p.Role,
				}); err != nil {
					return nil, err
				}
			}
		}
		for _, c := range write.Contradictions {
			if _, err := tx.Run(ctx, recordContradictionQuery, contradictionParams(c)); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCommitFailed, err)
	}
	return nil
}

func contradictionParams(c *types.Contradiction) map[string]any {
	return map[string]any{
		"id":             c.ID,
		"entity_id":      c.EntityID,
		"attribute":      c.Attribute,
		"prior":          c.Prior,
		"asserted":       c.Asserted,
		"observation_id": c.ObservationID,
		"recorded_at":    c.RecordedAt,
	}
}

const recordContradictionQuery = `
	MATCH (e:Entity {id: $entity_id})
	MERGE (c:Contradiction {id: $id})
	SET c.attribute = $attribute,
	    c.prior = $prior,
	    c.asserted = $asserted,
	    c.observation_id = $observation_id,
	    c.recorded_at = $recorded_at
	MERGE (e)-[:CONTRADICTED_BY]->(c)
`

// RecordContradiction appends a contradiction record for an entity.
func (s *Neo4jStore) RecordContradiction(ctx context.Context, c *types.Contradiction) error {
	return s.write(ctx, recordContradictionQuery, contradictionParams(c))
}

// ContradictionsSince returns contradictions recorded at or after since.
func (s *Neo4jStore) ContradictionsSince(ctx context.Context, entityID string, since time.Time) ([]*types.Contradiction, error) {
	session := s.client.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (:Entity {id: $id})-[:CONTRADICTED_BY]->(c:Contradiction)
			WHERE c.recorded_at >= $since
			RETURN c`,
			map[string]any{"id": entityID, "since": since})
		if err != nil {
			return nil, err
		}
		var out []*types.Contradiction
		for res.Next(ctx) {
			value, found := res.Record().Get("c")
			if !found {
				continue
			}
			node, ok := value.(dbtype.Node)
			if !ok {
				continue
			}
			out = append(out, &types.Contradiction{
				ID:            getString(node.Props, "id"),
				EntityID:      entityID,
				Attribute:     getString(node.Props, "attribute"),
				Prior:         getString(node.Props, "prior"),
				Asserted:      getString(node.Props, "asserted"),
				ObservationID: getString(node.Props, "observation_id"),
				RecordedAt:    getTime(node.Props, "recorded_at"),
			})
		}
		return out, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return result.([]*types.Contradiction), nil
}

// Stats summarizes the graph for the admin surface.
func (s *Neo4jStore) Stats(ctx context.Context) (*GraphStats, error) {
	session := s.client.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		stats := &GraphStats{
			EntitiesByTier: make(map[types.Tier]int64),
			FactsByType:    make(map[types.FactType]int64),
			LastUpdated:    time.Now(),
		}

		res, err := tx.Run(ctx, `MATCH (e:Entity) RETURN e.tier AS tier, count(e) AS n`, nil)
		if err != nil {
			return nil, err
		}
		for res.Next(ctx) {
			record := res.Record()
			tier, _ := record.Get("tier")
			n, _ := record.Get("n")
			if t, ok := tier.(string); ok {
				count := n.(int64)
				stats.EntitiesByTier[types.Tier(t)] = count
				stats.EntityCount += count
			}
		}

		res, err = tx.Run(ctx, `MATCH ()-[r:RELATES_TO]->() RETURN count(r) AS n`, nil)
		if err != nil {
			return nil, err
		}
		if res.Next(ctx) {
			if n, ok := res.Record().Get("n"); ok {
				stats.RelationshipCount = n.(int64)
			}
		}

		res, err = tx.Run(ctx, `MATCH (f:FactUnit) RETURN f.type AS type, count(f) AS n`, nil)
		if err != nil {
			return nil, err
		}
		for res.Next(ctx) {
			record := res.Record()
			factType, _ := record.Get("type")
			n, _ := record.Get("n")
			if t, ok := factType.(string); ok {
				count := n.(int64)
				stats.FactsByType[types.FactType(t)] = count
				stats.FactCount += count
			}
		}

		res, err = tx.Run(ctx, `MATCH (f:FactUnit) RETURN f.confidence AS confidence`, nil)
		if err != nil {
			return nil, err
		}
		for res.Next(ctx) {
			if confidence, ok := res.Record().Get("confidence"); ok {
				if v, ok := confidence.(float64); ok {
					stats.ConfidenceHistogram[HistogramBucket(v)]++
				}
			}
		}

		return stats, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return result.(*GraphStats), nil
}

// Close closes the underlying driver.
func (s *Neo4jStore) Close() error {
	return s.client.Close(context.Background())
}

var _ GraphStore = (*Neo4jStore)(nil)
