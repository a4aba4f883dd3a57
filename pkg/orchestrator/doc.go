// Package orchestrator implements the Job Orchestrator & Queue Engine
// (C10, §4.9): submission admission against per-queue limits, a
// single-instance processing loop that drains ready jobs in queue-
// discipline order, effective-priority computation, placement hand-off
// to the scheduler and execution engine, and the retry policy on
// placement failure.
//
// Grounded on the teacher's pkg/scheduler.Scheduler.run() loop shape: a
// single background goroutine gated by a start/stop guard, driven by a
// cron "@every 1s" tick instead of the teacher's raw time.Ticker
// (matching the cron-driven loops in pkg/quota/monitor.go and
// pkg/monitor).
package orchestrator
