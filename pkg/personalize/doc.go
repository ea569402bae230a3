// Package personalize provides a reusable library for persona and
// funnel-stage content personalization with live A/B experimentation layered
// on top.
//
// It exposes a single Service interface that orchestrates content item and
// override authoring, experiment lifecycle management, deterministic session
// bucketing with sticky assignments, and precedence-ordered content
// resolution. Implementations of repositories (memory, Postgres) and a
// Redis-backed assignment store are provided under subpackages.
//
// # Resolution Precedence
//
// Resolve merges four layers, highest precedence first: an admin preview
// override, the session's sticky experiment variant, the most specific
// matching visibility override, and finally the base content item. Missing
// or inconsistent admin data degrades to the next layer instead of failing;
// rendering is never blocked by personalization.
package personalize
