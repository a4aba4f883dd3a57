/*
Package quota implements the Quota Engine (C5, §4.4): an admission
check run before a job is placed, a set of atomic usage mutation
operations, and a background monitoring loop that scans every enabled
quota against current (not projected) usage and publishes alerts and
violations.

check()'s shape is grounded on the teacher's closest analogue —
pkg/scheduler.scheduleService's early-return decision dispatch — since
warren carries no quota subsystem of its own; the monitoring loop
follows pkg/reconciler's ticker-driven background task, with
robfig/cron replacing the raw ticker.
*/
package quota
