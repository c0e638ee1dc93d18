// Package activation decides whether a recurring survey schedule is active at
// a given instant and keeps the persisted isActive flag in line with that
// decision.
//
// Evaluate is pure: it reads a Schedule and an instant and nothing else.
// Reconciler runs passes over every recurring schedule and writes only the
// ones whose computed state differs from the stored one. Service is the
// operator-facing surface (set schedule, inspect, reconcile on demand).
//
// All wall-clock comparisons happen in one reference location supplied by
// the caller.
package activation
