// Package health tracks process readiness. The state moves from loading to
// ready exactly once, when the speech model finishes loading, and never back.
package health
