/*
Package memctl implements the Memory-Pressure Feedback Controller: a
single-threaded actor that aggregates per-queue duration reports into
a cluster-wide desired duration, and pushes a new target back to
registered queues only when memory pressure demands they shrink it.
*/
package memctl
