/*
Package cluster maintains the cluster's voter roster over raft and
supplies the MembershipOracle the Feature-Flag Coordinator needs to
find its running peers, gate cluster join on flag compatibility, and
answer the "join_cluster" PeerRPC op.
*/
package cluster
