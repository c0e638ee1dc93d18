// Package api is the operator HTTP surface: set a schedule, run a
// reconciliation pass on demand, inspect schedules and the trigger.
//
// It has no authentication of its own; bind it to localhost or put it
// behind a proxy that does.
package api
