// Package workeragent is the worker-side counterpart the spec's §1
// non-goals leave external in full (the step DSL runtime) but whose
// thin shell IS in scope: connect to the orchestrator's wire session,
// register capabilities, receive a JobRequest, execute its command-line
// form, stream output and status back, participate in the artifact
// cache protocol (§4.2), and heartbeat until the job ends.
//
// Grounded on the teacher's pkg/worker/worker.go connect/register/
// containers-map/stopCh shape, with the containerd-runtime dependency
// and DSL-adjacent handlers (secrets, volumes, DNS) dropped since a
// worker here runs one job's command line directly via os/exec rather
// than hosting arbitrary containers itself — that hosting is the
// compute driver's job (pkg/driver), already done before this agent's
// process starts inside the provisioned instance.
package workeragent
