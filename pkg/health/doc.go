// Package health implements the probe checkers a WorkerTemplate's
// Probes describe (§3): HTTP, TCP and exec liveness/readiness checks.
// pkg/workeragent.Agent.AwaitReady runs them against a worker's own
// environment before the agent registers with the orchestrator, so a
// worker never reports ready while a declared dependency is still
// coming up.
//
// Grounded on the teacher's pkg/health package: the Checker interface
// and the three concrete checkers generalize directly from
// container-level health checks to worker-readiness probes.
package health
