package hotstuff

import (
	"encoding/binary"

	"github.com/gitzhang10/chainedbft/config"
	"github.com/gitzhang10/chainedbft/sign"
	"go.dedis.ch/kyber/v3/xof/blake2xb"
)

// LeaderElector maps rounds to leaders. Every node derives the same fixed
// permutation of the committee: the sorted members are shuffled with a
// blake2xb stream seeded by the hash of the member list, and round r is led
// by permutation[r mod n].
type LeaderElector struct {
	permutation []string
}

// NewLeaderElector computes the permutation for the committee.
func NewLeaderElector(committee *config.Committee) *LeaderElector {
	authorities := committee.Authorities()
	h := new(sign.Hasher)
	names := make([]string, len(authorities))
	for i, a := range authorities {
		names[i] = a.Name
		h.WriteString(a.Name).WriteBytes(a.PublicKey)
	}
	seed := h.Sum()

	stream := blake2xb.New(seed[:])
	buf := make([]byte, 8)
	for i := len(names) - 1; i > 0; i-- {
		if _, err := stream.Read(buf); err != nil {
			panic(err)
		}
		j := int(binary.BigEndian.Uint64(buf) % uint64(i+1))
		names[i], names[j] = names[j], names[i]
	}
	return &LeaderElector{permutation: names}
}

// Get returns the leader of round.
func (l *LeaderElector) Get(round uint64) string {
	return l.permutation[round%uint64(len(l.permutation))]
}
