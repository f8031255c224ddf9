// Package crystal turns streams of noisy extracted observations into a
// tiered knowledge graph. Raw mentions enter at the Perception tier, are
// deduplicated and merged, aggregated into n-ary fact units, and promoted
// through Semantic, Reasoning, and Application tiers as corroborating
// evidence accumulates. Every promotion decision, rejected fact, and
// conflict leaves an audit record.
//
// The root package exposes the engine facade (Client) and the batch
// orchestrator; the mechanics live under pkg/.
package crystal
