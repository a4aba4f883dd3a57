/*
Package autoscaler implements the Worker Pool Autoscaler (C6, §4.5):
shouldScaleUp/shouldScaleDown gating, calculateOptimal's three sizing
formulas, per-direction cooldown tracking and materialization of scale
decisions through pkg/driver.

The cooldown-gated decide-then-materialize shape follows the teacher's
pkg/manager FSM transitions (a guard function followed by a state
mutation plus a recorded action), generalized from node-join/leave
transitions to worker-pool scale transitions.
*/
package autoscaler
