// Package scheduler triggers named jobs on cron or fixed-interval schedules
// in a configured timezone.
//
// Each job is wrapped in a robfig/cron chain (Recover, SkipIfStillRunning),
// so a tick that arrives while the previous run is still going is dropped and
// a panicking job is logged instead of killing the process. Jobs may also run
// once eagerly when the service starts. Stop cancels the context handed to
// jobs and waits for running ones to return.
package scheduler
