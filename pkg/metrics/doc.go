/*
Package metrics registers the Prometheus instrumentation for a
coriolis node: cluster membership (peers, raft leadership), the
Feature-Flag Coordinator (supported/enabled counts, enable outcomes),
PeerRPC (per-op request counts and latency), and the Memory-Pressure
Feedback Controller (desired duration, registered queues, memory
ratio, push-back count). All metrics are registered at package init
and exposed via Handler() for a /metrics HTTP endpoint.

Timer is a small helper for recording an operation's elapsed time to a
histogram or histogram vec without repeating time.Since(start) at every
call site.
*/
package metrics
