// Package domain defines the core business types for the AdPulse reporting
// engine.
//
// Types in this package are pure value objects with no behavior beyond
// derivation and validation: no database handles, no HTTP concerns, no
// imports from other internal/ packages. They are the shared language between
// the period classifier, the funnel parser, the cache tiers, and the two
// orchestrators.
package domain
