/*
Package flags implements the Feature-Flag Coordinator: a per-node
registry of supported and enabled capability flags, and the
dependency-ordered, migration-executing, cluster-propagating Enable
algorithm that moves a flag from supported to enabled everywhere.
*/
package flags
