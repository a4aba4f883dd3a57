/*
Package scheduler implements findPlacement (C7, §4.6): given a job,
filter active resource pools to those whose worker template satisfies
the job's capability and resource requirements and that pass a
dry-run quota check, then rank the survivors by projected utilization,
free capacity, cost weight and pool id.

Grounded on the teacher's pkg/scheduler.scheduleReplicatedService
filter-then-rank shape (filterSchedulableNodes followed by a
best-fit selection), retargeted from container placement onto pools.
*/
package scheduler
