/*
Package execution implements the Execution Engine (C8, §4.7): once the
orchestrator hands a job off, this package owns it exclusively until a
terminal state — the orchestrator never re-enters.

startExecution provisions a compute instance through pkg/driver,
persists the Execution row and fans out ExecutionEvent/LogLine updates
to pkg/listener. Cancellation signals the worker, waits out a grace
period, then forcibly terminates through the driver. Normal completion
releases the job's quota reservation and tears down the instance.

Per-execution bookkeeping (cancel channel, last-seen state) follows the
teacher's pkg/worker/health_monitor.go shape: a map keyed by entity id
with explicit cancel funcs, synced under a mutex.
*/
package execution
