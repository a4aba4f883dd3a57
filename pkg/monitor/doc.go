/*
Package monitor implements the Resource Monitor (C4, §4.3): a
periodic, per-pool utilization sampler running atop pkg/driver. Each
cycle samples every stored pool's instances through the driver,
aggregates CPU/memory/disk/network usage and caches the result per
container for cacheExpiration to cap the fan-out of driver calls a busy
pool would otherwise generate.

Grounded on the teacher's pkg/reconciler loop shape (ticker-driven
background task instrumented with metrics.Timer), with the ticker
replaced by a robfig/cron schedule so the sampling interval reads as
configuration rather than a hardcoded literal.
*/
package monitor
