package hotstuff

import "github.com/gitzhang10/chainedbft/sign"

// Digest identifies blocks and the signed content of votes and timeouts.
type Digest = sign.Digest

// Block is a leader's proposal for a round. It is immutable once signed.
type Block struct {
	Author    string
	Round     uint64
	Payload   Digest // opaque batch digest from the mempool
	QC        QC     // certifies the parent
	TC        *TC    // set when the round was entered through a timeout
	Signature []byte
}

// Vote is a validator's signature over (block hash, round).
type Vote struct {
	Hash      Digest
	Round     uint64
	Author    string
	Signature []byte
}

// QC proves that a quorum voted for Hash in Round.
type QC struct {
	Hash  Digest
	Round uint64
	Votes map[string][]byte // map from signer to signature
}

// Timeout is broadcast when a validator gives up on a round.
type Timeout struct {
	HighQC    QC
	Round     uint64
	Author    string
	Signature []byte
}

// TimeoutVote is one signer's contribution to a TC.
type TimeoutVote struct {
	Signature   []byte
	HighQCRound uint64
}

// TC proves that a quorum timed out in Round.
type TC struct {
	Round uint64
	Votes map[string]TimeoutVote // map from signer to its signed timeout
}

// AncestorRequest asks a peer for the block with the given digest.
type AncestorRequest struct {
	Digest    Digest
	Requester string
}

// AncestorReply carries a chain of blocks in ascending round order.
type AncestorReply struct {
	Blocks []*Block
}

// GenesisQC returns the certificate of the genesis block.
func GenesisQC() QC {
	return QC{}
}

// GenesisBlock returns the block every chain starts from. Its digest is the zero digest.
func GenesisBlock() *Block {
	return &Block{}
}

// IsGenesis reports whether qc certifies the genesis block.
func (qc *QC) IsGenesis() bool {
	return qc.Round == 0 && qc.Hash.IsZero() && len(qc.Votes) == 0
}

// IsGenesis reports whether b is the genesis block.
func (b *Block) IsGenesis() bool {
	return b.Round == 0 && b.Author == ""
}

// Digest returns the content hash of the block.
func (b *Block) Digest() Digest {
	if b.IsGenesis() {
		return Digest{}
	}
	h := new(sign.Hasher).
		WriteString(b.Author).
		WriteUint64(b.Round).
		WriteDigest(b.Payload).
		WriteDigest(b.QC.Hash).
		WriteUint64(b.QC.Round)
	if b.TC != nil {
		h.WriteUint64(b.TC.Round)
	}
	return h.Sum()
}

// Parent returns the digest of the block certified by b's QC.
func (b *Block) Parent() Digest {
	return b.QC.Hash
}

// Digest returns the signed content of the vote.
func (v *Vote) Digest() Digest {
	return voteDigest(v.Hash, v.Round)
}

func voteDigest(hash Digest, round uint64) Digest {
	return new(sign.Hasher).WriteDigest(hash).WriteUint64(round).Sum()
}

// Digest returns the signed content of the timeout.
func (t *Timeout) Digest() Digest {
	return timeoutDigest(t.Round, t.HighQC.Round)
}

func timeoutDigest(round, highQCRound uint64) Digest {
	return new(sign.Hasher).WriteUint64(round).WriteUint64(highQCRound).Sum()
}

// HighQCRounds returns the high QC round reported by each signer.
func (tc *TC) HighQCRounds() []uint64 {
	rounds := make([]uint64, 0, len(tc.Votes))
	for _, v := range tc.Votes {
		rounds = append(rounds, v.HighQCRound)
	}
	return rounds
}

// MaxHighQCRound returns the highest QC round reported in the TC.
func (tc *TC) MaxHighQCRound() uint64 {
	var highest uint64
	for _, r := range tc.HighQCRounds() {
		if r > highest {
			highest = r
		}
	}
	return highest
}
