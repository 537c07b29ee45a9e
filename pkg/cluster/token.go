package cluster

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// ClusterSecret gates cluster admission with a single shared value,
// the way a RabbitMQ deployment uses a shared Erlang cookie rather
// than per-node join tokens: any node presenting the same secret as
// the leader may join, and any node that doesn't is refused before
// raft ever sees the request.
type ClusterSecret string

// GenerateClusterSecret produces a new random secret for a freshly
// bootstrapped cluster.
func GenerateClusterSecret() (ClusterSecret, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("cluster: generate secret: %w", err)
	}
	return ClusterSecret(hex.EncodeToString(raw)), nil
}

// Equal performs a constant-time comparison, since this value gates
// cluster membership.
func (s ClusterSecret) Equal(other ClusterSecret) bool {
	return subtle.ConstantTimeCompare([]byte(s), []byte(other)) == 1
}
