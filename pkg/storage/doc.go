/*
Package storage provides node-local bbolt-backed persistence: the
enabled-flags set the Feature-Flag Coordinator treats as durable state
(spec §4.2, §6), and a cache of the last successfully computed app
catalog declarations used as a fallback when a computed catalog
temporarily fails.
*/
package storage
