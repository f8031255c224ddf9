// Package types defines the core data model for the crystal knowledge store:
// tiered entities and relationships, typed confidence scores, n-ary fact
// units (hyperedges), promotion decisions, and raw observations.
//
// All types in this package are plain records with validation methods.
// Mutation rules (merge, promotion, demotion) are enforced by the packages
// that own them; types only guards structural invariants such as value
// ranges and required fields.
package types
