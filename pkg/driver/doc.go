/*
Package driver defines the Compute Driver port (C2, §4.1) and its
reference implementation against a container daemon.

The port is deliberately narrow: provision, terminate, inspect, list,
scaleTo, availableInstanceTypes and healthCheck. Every operation takes a
context so an ambient deadline governs it, per §5's cancellation model —
an in-flight provision call cannot be aborted mid-API-call, but the
instance it produces is terminated once its id becomes known to the
caller.

	┌──────────────┐   provision/terminate/inspect    ┌───────────────────┐
	│  Scheduler /  │ ───────────────────────────────▶ │  ContainerDriver   │
	│  Autoscaler   │ ◀─────────────────────────────── │  (containerd)      │
	└──────────────┘        instance id / status       └───────────────────┘

Before provisioning, the driver checks the local image cache and blocks
on a pull if the image is absent (§4.1 "Ensure-image policy"); a pull
failure surfaces as ProvisioningError{ImagePullFailure} with no retry
inside the driver — retry is the orchestrator's job (§7).
*/
package driver
