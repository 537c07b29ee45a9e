/*
Package peerrpc implements the transport named in spec §6, "Peer RPC
surface": the ability to invoke list, are_supported_locally, and
mark_as_enabled_locally on a remote peer within a timeout, returning
either the normal value or a transport-error sentinel.

All three operations (plus a liveness "ping" used by cluster
membership) share one grpc unary method, Invoke, carrying an
(op, args) envelope encoded with a package-registered JSON codec
rather than generated protobuf messages — see codec.go.
*/
package peerrpc
