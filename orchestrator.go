package crystal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cognidex/crystal/pkg/audit"
	"github.com/cognidex/crystal/pkg/gate"
	"github.com/cognidex/crystal/pkg/observation"
	"github.com/cognidex/crystal/pkg/ontology"
	"github.com/cognidex/crystal/pkg/resolver"
	"github.com/cognidex/crystal/pkg/store"
	"github.com/cognidex/crystal/pkg/types"
	"github.com/cognidex/crystal/pkg/utils"
)

// Orchestrator drives crystallization batches. Batches never overlap: a
// single mutex serializes RunBatch, and flush triggers coalesce through a
// one-slot channel while a batch runs.
type Orchestrator struct {
	client     *Client
	source     observation.Source
	watermarks observation.WatermarkStore
	logger     *slog.Logger

	// keys serializes merge updates per (normalized name, type) key so
	// parallel fact commits cannot race on a shared entity.
	keys    *utils.KeyedMutex
	trigger chan struct{}

	batchMu sync.Mutex
}

// NewOrchestrator wires an Orchestrator to its client and observation feed.
func NewOrchestrator(client *Client, source observation.Source, watermarks observation.WatermarkStore) *Orchestrator {
	return &Orchestrator{
		client:     client,
		source:     source,
		watermarks: watermarks,
		logger:     client.logger,
		keys:       utils.NewKeyedMutex(),
		trigger:    make(chan struct{}, 1),
	}
}

// TriggerFlush requests an immediate batch. A pending trigger absorbs
// further requests.
func (o *Orchestrator) TriggerFlush() {
	select {
	case o.trigger <- struct{}{}:
	default:
	}
}

// Run processes batches until the context is cancelled. A batch starts on
// the flush timer, an explicit trigger, or once the pending window reaches
// the batch size. Cancellation mid-wait defers the buffered observations to
// whoever runs next; no partial flush happens.
func (o *Orchestrator) Run(ctx context.Context) error {
	interval := o.client.config.FlushInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		case <-o.trigger:
		case <-o.source.Notify():
			full, err := o.windowFull(ctx)
			if err != nil {
				o.logger.Error("pending window check failed", "error", err)
			}
			if !full {
				continue
			}
		}

		if _, err := o.RunBatch(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			o.logger.Error("batch failed", "error", err)
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(interval)
	}
}

// windowFull reports whether at least a full batch of observations is
// waiting past the watermark.
func (o *Orchestrator) windowFull(ctx context.Context) (bool, error) {
	watermark, err := o.watermarks.Load(ctx)
	if err != nil {
		return false, err
	}
	pending, err := o.source.Pull(ctx, watermark, o.client.config.BatchSize)
	if err != nil {
		return false, err
	}
	return len(pending) >= o.client.config.BatchSize, nil
}

// contextGroup is one shared textual context: the atomic unit of commit.
type contextGroup struct {
	contextID    string
	observations []*types.Observation
}

// contextResult carries what one committed context touched.
type contextResult struct {
	created  int
	merged   int
	factID   string
	entities []string
	rels     []string
}

// RunBatch pulls the pending observation window and crystallizes it: per
// context, resolve entities, assert relationships, build the fact unit, and
// commit all of it atomically; then evaluate promotions for everything whose
// evidence changed, propagate qualifying facts, and advance the watermark.
//
// A commit failure rolls that fact back, leaves an audit record, and aborts
// the batch without advancing the watermark, so the whole window replays
// once the store recovers. Per-observation validation problems are recorded
// and skipped without stopping the batch.
func (o *Orchestrator) RunBatch(ctx context.Context) (*audit.BatchSummary, error) {
	o.batchMu.Lock()
	defer o.batchMu.Unlock()

	cfg := o.client.config
	watermark, err := o.watermarks.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("crystal: load watermark: %w", err)
	}

	observations, err := o.source.Pull(ctx, watermark, cfg.PullLimit)
	if err != nil {
		return nil, fmt.Errorf("crystal: pull observations: %w", err)
	}

	summary := &audit.BatchSummary{
		BatchID:      uuid.New().String(),
		Observations: len(observations),
		Watermark:    watermark,
		StartedAt:    time.Now(),
	}
	if len(observations) == 0 {
		summary.FinishedAt = time.Now()
		return summary, nil
	}

	o.logger.Info("batch started",
		"batch", summary.BatchID, "observations", len(observations), "watermark", watermark)

	if err := o.applyApprovedReviews(ctx, summary); err != nil {
		o.logger.Error("applying approved reviews failed", "batch", summary.BatchID, "error", err)
	}

	groups := groupByContext(observations)
	results := make([]*contextResult, len(groups))

	work := make([]func() error, len(groups))
	for i, group := range groups {
		i, group := i, group
		work[i] = func() error {
			result, err := o.processContext(ctx, summary.BatchID, group)
			results[i] = result
			return err
		}
	}

	var fatal error
	for i, err := range utils.SemaphoreGather(ctx, cfg.MaxParallelism, work...) {
		if err == nil {
			continue
		}
		summary.Failed++
		if o.fatalToBatch(err) && fatal == nil {
			fatal = err
		}
		o.logger.Error("fact commit failed",
			"batch", summary.BatchID, "context", groups[i].contextID, "error", err)
	}

	touchedEntities := make(map[string]struct{})
	touchedRels := make(map[string]struct{})
	for _, result := range results {
		if result == nil {
			continue
		}
		summary.Created += result.created
		summary.Merged += result.merged
		if result.factID != "" {
			summary.Facts++
		}
		for _, id := range result.entities {
			touchedEntities[id] = struct{}{}
		}
		for _, id := range result.rels {
			touchedRels[id] = struct{}{}
		}
	}

	if fatal != nil {
		// The store is in trouble; stop here so the untouched watermark
		// replays the whole window later.
		summary.FinishedAt = time.Now()
		if err := o.client.trail.RecordBatch(ctx, summary); err != nil {
			o.logger.Error("recording aborted batch failed", "batch", summary.BatchID, "error", err)
		}
		o.alert("crystallization batch aborted",
			fmt.Sprintf("batch %s aborted after %d failed facts: %v", summary.BatchID, summary.Failed, fatal))
		return summary, fatal
	}

	o.evaluatePromotions(ctx, summary, touchedEntities, touchedRels)

	if _, err := o.client.bridge.PropagateToGraph(ctx, cfg.PropagationThreshold); err != nil {
		o.logger.Error("hyperedge propagation failed", "batch", summary.BatchID, "error", err)
	}

	newWatermark := watermark
	for _, obs := range observations {
		if obs.Sequence > newWatermark {
			newWatermark = obs.Sequence
		}
	}
	if err := o.watermarks.Save(ctx, newWatermark); err != nil {
		summary.FinishedAt = time.Now()
		return summary, fmt.Errorf("crystal: save watermark: %w", err)
	}
	summary.Watermark = newWatermark
	summary.FinishedAt = time.Now()

	if err := o.client.trail.RecordBatch(ctx, summary); err != nil {
		o.logger.Error("recording batch failed", "batch", summary.BatchID, "error", err)
	}

	o.logger.Info("batch finished",
		"batch", summary.BatchID,
		"created", summary.Created,
		"merged", summary.Merged,
		"facts", summary.Facts,
		"promoted", summary.Promoted,
		"demoted", summary.Demoted,
		"held", summary.Held,
		"denied", summary.Denied,
		"failed", summary.Failed,
		"watermark", newWatermark,
	)
	return summary, nil
}

// fatalToBatch decides whether a context failure must stop the batch.
// Store-level failures are fatal; invalid observations are not.
func (o *Orchestrator) fatalToBatch(err error) bool {
	return errors.Is(err, store.ErrCommitFailed) ||
		errors.Is(err, store.ErrUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func groupByContext(observations []*types.Observation) []contextGroup {
	index := make(map[string]int)
	var groups []contextGroup
	for _, obs := range observations {
		key := obs.ContextID
		if key == "" {
			// An observation without a context is its own group.
			key = "solo-" + obs.ID
		}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, contextGroup{contextID: key})
		}
		groups[i].observations = append(groups[i].observations, obs)
	}
	return groups
}

// processContext crystallizes one shared context into a single atomic fact
// commit.
func (o *Orchestrator) processContext(ctx context.Context, batchID string, group contextGroup) (*contextResult, error) {
	// Lock every entity key this context touches, in sorted order, so
	// parallel contexts sharing entities serialize instead of racing.
	unlock := o.keys.LockAll(o.contextKeys(group))
	defer unlock()

	write := &store.FactWrite{BatchID: batchID}
	result := &contextResult{}

	// Resolve mentions. Within the context, repeated mentions of the same
	// key fold into the first resolution.
	type resolved struct {
		entity  *types.Entity
		created bool
		role    string
		score   types.ConfidenceScore
	}
	byKey := make(map[string]*resolved)
	var order []string

	invalid := 0
	for _, obs := range group.observations {
		if err := obs.Validate(); err != nil {
			invalid++
			o.recordFailedObservation(ctx, batchID, group.contextID, obs, err)
			continue
		}

		key := resolver.Normalize(obs.Name) + "|" + obs.EntityType
		if prior, ok := byKey[key]; ok {
			o.foldObservation(prior.entity, obs)
			continue
		}

		resolution, err := o.client.resolver.Resolve(ctx, resolver.Candidate{
			Name:          obs.Name,
			EntityType:    obs.EntityType,
			Attributes:    obs.Attributes,
			Score:         obs.Score,
			ObservationID: obs.ID,
			ObservedAt:    obs.ObservedAt,
			BatchID:       batchID,
		})
		if err != nil {
			if errors.Is(err, store.ErrUnavailable) {
				return result, err
			}
			invalid++
			o.recordFailedObservation(ctx, batchID, group.contextID, obs, err)
			continue
		}

		o.classifyEntity(ctx, resolution.Entity)
		write.Contradictions = append(write.Contradictions, resolution.Contradictions...)

		byKey[key] = &resolved{
			entity:  resolution.Entity,
			created: resolution.Created,
			role:    obs.Role,
			score:   obs.Score,
		}
		order = append(order, key)
	}

	if len(byKey) == 0 {
		if invalid > 0 {
			return result, fmt.Errorf("crystal: context %s had no valid observations", group.contextID)
		}
		return result, nil
	}

	for _, key := range order {
		r := byKey[key]
		if r.created {
			write.Created = append(write.Created, r.entity)
			result.created++
		} else {
			write.Merged = append(write.Merged, r.entity)
			result.merged++
		}
		result.entities = append(result.entities, r.entity.ID)
	}

	// Direct relationship assertions.
	lookup := func(name, typ string) *types.Entity {
		if r, ok := byKey[resolver.Normalize(name)+"|"+typ]; ok {
			return r.entity
		}
		return nil
	}
	for _, obs := range group.observations {
		source := lookup(obs.Name, obs.EntityType)
		if source == nil {
			continue
		}
		for _, assertion := range obs.Relations {
			rel, err := o.assertRelationship(ctx, source, assertion, obs, lookup)
			if err != nil {
				if errors.Is(err, store.ErrUnavailable) {
					return result, err
				}
				o.logger.Warn("relation assertion skipped",
					"context", group.contextID, "relation", assertion.Relation, "error", err)
				continue
			}
			if rel != nil {
				write.Relationships = append(write.Relationships, rel)
				result.rels = append(result.rels, rel.ID)
			}
		}
	}

	// Fact unit for multi-entity contexts.
	if len(byKey) >= 2 {
		candidate := FactCandidate{
			Type:      contextFactType(group.observations),
			ContextID: group.contextID,
		}
		for _, key := range order {
			r := byKey[key]
			candidate.Participants = append(candidate.Participants, FactParticipant{
				Entity: r.entity,
				Role:   r.role,
				Score:  r.score,
			})
		}

		fact, err := o.client.bridge.BuildFactUnit(ctx, candidate)
		switch {
		case err == nil:
			write.Fact = fact
			result.factID = fact.ID
			o.detectFactConflicts(ctx, fact)
		case errors.Is(err, ErrNoTypeDiversity),
			errors.Is(err, ErrBelowExtractionFloor),
			errors.Is(err, types.ErrTooFewParticipants):
			o.logger.Debug("context not a fact candidate", "context", group.contextID, "reason", err)
		default:
			return result, err
		}
	}

	if err := o.client.store.CommitFact(ctx, write); err != nil {
		o.recordFailedFact(ctx, batchID, group.contextID, result.factID, err)
		return result, err
	}
	return result, nil
}

// contextKeys collects every (normalized name, type) key a context touches,
// including relation targets.
func (o *Orchestrator) contextKeys(group contextGroup) []string {
	var keys []string
	for _, obs := range group.observations {
		keys = append(keys, resolver.Normalize(obs.Name)+"|"+obs.EntityType)
		for _, rel := range obs.Relations {
			keys = append(keys, resolver.Normalize(rel.TargetName)+"|"+rel.TargetType)
		}
	}
	return keys
}

// foldObservation merges a repeated in-context mention into the entity
// resolved for the first mention, with the same idempotency rules.
func (o *Orchestrator) foldObservation(entity *types.Entity, obs *types.Observation) {
	if entity.HasSource(obs.ID) {
		return
	}
	entity.ObservationCount++
	entity.SourceIDs = append(entity.SourceIDs, obs.ID)
	if obs.Score.Value > entity.Confidence {
		entity.Confidence = obs.Score.Value
	}
	if obs.Score.Source.Authoritative() {
		entity.Authoritative = true
	}
	if obs.ObservedAt.After(entity.LastObserved) {
		entity.LastObserved = obs.ObservedAt
	}
}

// classifyEntity fills in the ontology code once per entity.
func (o *Orchestrator) classifyEntity(ctx context.Context, entity *types.Entity) {
	if entity.OntologyCode != "" {
		return
	}
	code, err := o.client.classifier.Classify(ctx, entity.NormalizedName, entity.EntityType)
	if err != nil {
		o.logger.Warn("ontology lookup failed", "entity", entity.Name, "error", err)
		return
	}
	if code != ontology.CodeUnknown {
		entity.OntologyCode = code
	}
}

// assertRelationship merges a relation assertion into an existing direct
// relationship or creates a new one at Perception.
func (o *Orchestrator) assertRelationship(
	ctx context.Context,
	source *types.Entity,
	assertion types.RelationAssertion,
	obs *types.Observation,
	lookup func(name, typ string) *types.Entity,
) (*types.Relationship, error) {
	if assertion.Relation == "" || assertion.TargetName == "" {
		return nil, fmt.Errorf("incomplete relation assertion")
	}

	target := lookup(assertion.TargetName, assertion.TargetType)
	if target == nil {
		existing, err := o.client.store.GetEntityByKey(ctx,
			resolver.Normalize(assertion.TargetName), assertion.TargetType)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("relation target %q not in context or store", assertion.TargetName)
			}
			return nil, err
		}
		target = existing
	}
	if target.ID == source.ID {
		return nil, fmt.Errorf("self relation on %q", source.Name)
	}

	existing, err := o.client.store.RelationshipsBetween(ctx, source.ID, target.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	for _, rel := range existing {
		if rel.Type != assertion.Relation {
			continue
		}
		if rel.HasSource(obs.ID) {
			// Replay; the stored record already reflects this evidence.
			return nil, nil
		}
		rel.ObservationCount++
		rel.SourceIDs = append(rel.SourceIDs, obs.ID)
		if obs.Score.Value > rel.Confidence {
			rel.Confidence = obs.Score.Value
		}
		if obs.Score.Source.Authoritative() {
			rel.Authoritative = true
		}
		if obs.ObservedAt.After(rel.LastObserved) {
			rel.LastObserved = obs.ObservedAt
		}
		rel.UpdatedAt = time.Now()
		return rel, nil
	}

	now := time.Now()
	return &types.Relationship{
		ID:               uuid.New().String(),
		SourceID:         source.ID,
		TargetID:         target.ID,
		Type:             assertion.Relation,
		Tier:             types.TierPerception,
		Confidence:       obs.Score.Value,
		ObservationCount: 1,
		Authoritative:    obs.Score.Source.Authoritative(),
		SourceIDs:        []string{obs.ID},
		FirstObserved:    obs.ObservedAt,
		LastObserved:     obs.ObservedAt,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

func contextFactType(observations []*types.Observation) types.FactType {
	for _, obs := range observations {
		if obs.FactType != "" {
			return obs.FactType
		}
	}
	return types.FactAssociation
}

// detectFactConflicts records a review item when another fact asserts a
// different type over substantially the same participants. Conflicts are
// never auto-resolved.
func (o *Orchestrator) detectFactConflicts(ctx context.Context, fact *types.FactUnit) {
	seen := make(map[string]struct{})
	for _, entityID := range fact.ParticipantIDs() {
		others, err := o.client.store.FactUnitsByEntity(ctx, entityID)
		if err != nil {
			continue
		}
		for _, other := range others {
			if other.ID == fact.ID || other.Type == fact.Type {
				continue
			}
			if _, dup := seen[other.ID]; dup {
				continue
			}
			if sharedParticipants(fact, other) < 2 {
				continue
			}
			seen[other.ID] = struct{}{}

			conflict := &audit.Conflict{
				ID:         audit.ConflictID(fact.ID, other.ID),
				EntityAID:  fact.ParticipantIDs()[0],
				EntityBID:  entityID,
				FactAID:    fact.ID,
				FactBID:    other.ID,
				TypeA:      string(fact.Type),
				TypeB:      string(other.Type),
				RecordedAt: time.Now(),
			}
			if err := o.client.trail.RecordConflict(ctx, conflict); err != nil {
				o.logger.Error("recording conflict failed", "fact", fact.ID, "error", err)
			} else {
				o.logger.Warn("conflicting fact types held for review",
					"fact_a", fact.ID, "type_a", fact.Type, "fact_b", other.ID, "type_b", other.Type)
			}
		}
	}
}

func sharedParticipants(a, b *types.FactUnit) int {
	ids := make(map[string]struct{}, len(a.Participants))
	for _, p := range a.Participants {
		ids[p.EntityID] = struct{}{}
	}
	shared := 0
	for _, p := range b.Participants {
		if _, ok := ids[p.EntityID]; ok {
			shared++
		}
	}
	return shared
}

// evaluatePromotions runs the gate over everything whose evidence changed
// this batch. Approved transitions mutate the tier here; held ones wait in
// the review queue; denials are audited and left alone.
func (o *Orchestrator) evaluatePromotions(ctx context.Context, summary *audit.BatchSummary, entityIDs, relIDs map[string]struct{}) {
	for id := range entityIDs {
		entity, err := o.client.store.GetEntity(ctx, id)
		if err != nil {
			o.logger.Error("promotion snapshot failed", "entity", id, "error", err)
			continue
		}
		o.evaluateEntity(ctx, summary, entity)
	}
	for id := range relIDs {
		rel, err := o.client.store.GetRelationship(ctx, id)
		if err != nil {
			o.logger.Error("promotion snapshot failed", "relationship", id, "error", err)
			continue
		}
		o.evaluateRelationship(ctx, summary, rel)
	}
}

func (o *Orchestrator) evaluateEntity(ctx context.Context, summary *audit.BatchSummary, entity *types.Entity) {
	lastContradiction := o.lastContradiction(ctx, entity.ID)

	candidate := gate.Candidate{
		Kind:              types.SubjectEntity,
		ID:                entity.ID,
		Name:              entity.Name,
		Type:              entity.EntityType,
		Tier:              entity.Tier,
		Confidence:        entity.Confidence,
		ObservationCount:  entity.ObservationCount,
		Authoritative:     entity.Authoritative,
		EntityClass:       o.classFor(entity.EntityType),
		LastObserved:      entity.LastObserved,
		LastContradiction: lastContradiction,
		DomainValidated:   entity.OntologyCode != "" && entity.OntologyCode != ontology.CodeUnknown,
	}

	// A contradiction recorded since the batch began triggers the
	// explicit demotion path before any promotion attempt.
	if !lastContradiction.IsZero() && lastContradiction.After(summary.StartedAt) && entity.Tier != types.TierPerception {
		decision, err := o.client.gate.EvaluateDemotion(ctx, candidate)
		if err != nil {
			o.logger.Error("demotion evaluation failed", "entity", entity.Name, "error", err)
			return
		}
		o.recordDecision(ctx, decision)
		if decision.Approved {
			entity.Tier = decision.ToTier
			entity.UpdatedAt = time.Now()
			if err := o.client.store.UpsertEntity(ctx, entity); err != nil {
				o.logger.Error("demotion write failed", "entity", entity.Name, "error", err)
				return
			}
			summary.Demoted++
		}
		return
	}

	if entity.Tier == types.TierApplication {
		return
	}

	decision, err := o.client.gate.Evaluate(ctx, candidate)
	if err != nil {
		o.logger.Error("promotion evaluation failed", "entity", entity.Name, "error", err)
		return
	}
	o.recordDecision(ctx, decision)

	switch {
	case decision.Approved:
		entity.Tier = decision.ToTier
		entity.UpdatedAt = time.Now()
		if err := o.client.store.UpsertEntity(ctx, entity); err != nil {
			o.logger.Error("promotion write failed", "entity", entity.Name, "error", err)
			return
		}
		summary.Promoted++
	case decision.RequiresReview:
		summary.Held++
	default:
		summary.Denied++
	}
}

func (o *Orchestrator) evaluateRelationship(ctx context.Context, summary *audit.BatchSummary, rel *types.Relationship) {
	if rel.Tier == types.TierApplication {
		return
	}

	domainValidated, err := o.endpointsValidated(ctx, rel)
	if err != nil {
		o.logger.Error("promotion snapshot failed", "relationship", rel.ID, "error", err)
		return
	}

	candidate := gate.Candidate{
		Kind:             types.SubjectRelationship,
		ID:               rel.ID,
		Name:             rel.Type,
		Type:             rel.Type,
		Tier:             rel.Tier,
		Confidence:       rel.Confidence,
		ObservationCount: rel.ObservationCount,
		Authoritative:    rel.Authoritative,
		EntityClass:      types.ClassDefault,
		LastObserved:     rel.LastObserved,
		DomainValidated:  domainValidated,
	}

	decision, err := o.client.gate.Evaluate(ctx, candidate)
	if err != nil {
		o.logger.Error("promotion evaluation failed", "relationship", rel.ID, "error", err)
		return
	}
	o.recordDecision(ctx, decision)

	switch {
	case decision.Approved:
		rel.Tier = decision.ToTier
		rel.UpdatedAt = time.Now()
		if err := o.client.store.UpsertRelationship(ctx, rel); err != nil {
			o.logger.Error("promotion write failed", "relationship", rel.ID, "error", err)
			return
		}
		summary.Promoted++
	case decision.RequiresReview:
		summary.Held++
	default:
		summary.Denied++
	}
}

// endpointsValidated reports whether both endpoint entities carry a
// recognized ontology code.
func (o *Orchestrator) endpointsValidated(ctx context.Context, rel *types.Relationship) (bool, error) {
	for _, id := range []string{rel.SourceID, rel.TargetID} {
		entity, err := o.client.store.GetEntity(ctx, id)
		if err != nil {
			return false, err
		}
		if entity.OntologyCode == "" || entity.OntologyCode == ontology.CodeUnknown {
			return false, nil
		}
	}
	return true, nil
}

func (o *Orchestrator) lastContradiction(ctx context.Context, entityID string) time.Time {
	contradictions, err := o.client.store.ContradictionsSince(ctx, entityID, time.Time{})
	if err != nil {
		o.logger.Error("contradiction lookup failed", "entity", entityID, "error", err)
		return time.Time{}
	}
	var latest time.Time
	for _, c := range contradictions {
		if c.RecordedAt.After(latest) {
			latest = c.RecordedAt
		}
	}
	return latest
}

func (o *Orchestrator) classFor(entityType string) types.EntityClass {
	if class, ok := o.client.config.ClassByType[entityType]; ok {
		return class
	}
	return types.ClassDefault
}

func (o *Orchestrator) recordDecision(ctx context.Context, decision *types.PromotionDecision) {
	if err := o.client.trail.RecordDecision(ctx, decision); err != nil {
		o.logger.Error("recording decision failed", "decision", decision.ID, "error", err)
	}
}

// applyApprovedReviews performs the tier mutations reviewers signed off on
// since the last batch.
func (o *Orchestrator) applyApprovedReviews(ctx context.Context, summary *audit.BatchSummary) error {
	approved, err := o.client.trail.ApprovedReviews(ctx)
	if err != nil {
		return err
	}

	for _, decision := range approved {
		applied, err := o.applyReview(ctx, decision)
		if err != nil {
			o.logger.Error("applying review failed", "decision", decision.ID, "error", err)
			continue
		}
		if applied {
			summary.Promoted++
		}
		if err := o.client.trail.ConsumeApproval(ctx, decision.ID); err != nil {
			o.logger.Error("consuming approval failed", "decision", decision.ID, "error", err)
		}
	}
	return nil
}

func (o *Orchestrator) applyReview(ctx context.Context, decision *types.PromotionDecision) (bool, error) {
	switch decision.SubjectKind {
	case types.SubjectEntity:
		entity, err := o.client.store.GetEntity(ctx, decision.SubjectID)
		if err != nil {
			return false, err
		}
		if entity.Tier != decision.FromTier {
			// The subject moved since the decision was held; the stale
			// approval is consumed without effect.
			return false, nil
		}
		entity.Tier = decision.ToTier
		entity.UpdatedAt = time.Now()
		return true, o.client.store.UpsertEntity(ctx, entity)

	case types.SubjectRelationship:
		rel, err := o.client.store.GetRelationship(ctx, decision.SubjectID)
		if err != nil {
			return false, err
		}
		if rel.Tier != decision.FromTier {
			return false, nil
		}
		rel.Tier = decision.ToTier
		rel.UpdatedAt = time.Now()
		return true, o.client.store.UpsertRelationship(ctx, rel)

	default:
		return false, fmt.Errorf("crystal: unknown review subject kind %q", decision.SubjectKind)
	}
}

func (o *Orchestrator) recordFailedObservation(ctx context.Context, batchID, contextID string, obs *types.Observation, cause error) {
	o.logger.Warn("observation rejected",
		"batch", batchID, "context", contextID, "observation", obs.ID, "error", cause)
	failed := &audit.FailedFact{
		BatchID:   batchID,
		ContextID: contextID,
		Reason:    fmt.Sprintf("observation %s rejected: %v", obs.ID, cause),
		FailedAt:  time.Now(),
	}
	if err := o.client.trail.RecordFailedFact(ctx, failed); err != nil {
		o.logger.Error("recording failed observation failed", "batch", batchID, "error", err)
	}
}

func (o *Orchestrator) recordFailedFact(ctx context.Context, batchID, contextID, factID string, cause error) {
	failed := &audit.FailedFact{
		BatchID:   batchID,
		ContextID: contextID,
		FactID:    factID,
		Reason:    cause.Error(),
		FailedAt:  time.Now(),
	}
	if err := o.client.trail.RecordFailedFact(ctx, failed); err != nil {
		o.logger.Error("recording failed fact failed", "batch", batchID, "error", err)
	}
}

func (o *Orchestrator) alert(subject, message string) {
	if err := o.client.alerter.Alert(subject, message); err != nil {
		o.logger.Error("alert delivery failed", "subject", subject, "error", err)
	}
}
