package hotstuff

import (
	"fmt"

	"github.com/gitzhang10/chainedbft/config"
	"github.com/gitzhang10/chainedbft/sign"
)

func verifySignature(committee *config.Committee, author string, digest Digest, sig []byte) error {
	pubKey, ok := committee.PublicKey(author)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAuthority, author)
	}
	ok, err := sign.VerifySignEd25519(pubKey, digest[:], sig)
	if err != nil || !ok {
		return fmt.Errorf("%w: from %s", ErrInvalidSignature, author)
	}
	return nil
}

// Verify checks the block's signature and certificates. The leader and round
// rules are enforced by the caller, which knows the leader elector.
func (b *Block) Verify(committee *config.Committee) error {
	if err := verifySignature(committee, b.Author, b.Digest(), b.Signature); err != nil {
		return err
	}
	if err := b.QC.Verify(committee); err != nil {
		return err
	}
	if b.TC != nil {
		if err := b.TC.Verify(committee); err != nil {
			return err
		}
	}
	return nil
}

// Verify checks the vote's signature.
func (v *Vote) Verify(committee *config.Committee) error {
	return verifySignature(committee, v.Author, v.Digest(), v.Signature)
}

// Verify checks that a quorum of distinct members signed (hash, round).
// The genesis QC is valid by definition.
func (qc *QC) Verify(committee *config.Committee) error {
	if qc.IsGenesis() {
		return nil
	}
	if len(qc.Votes) < committee.QuorumThreshold() {
		return fmt.Errorf("%w: %d signers for round %d", ErrInvalidQC, len(qc.Votes), qc.Round)
	}
	digest := voteDigest(qc.Hash, qc.Round)
	for author, sig := range qc.Votes {
		if err := verifySignature(committee, author, digest, sig); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidQC, err)
		}
	}
	return nil
}

// Verify checks the timeout's signature and the QC it carries.
func (t *Timeout) Verify(committee *config.Committee) error {
	if t.HighQC.Round >= t.Round {
		return fmt.Errorf("%w: high qc round %d not below timeout round %d", ErrInvalidRound, t.HighQC.Round, t.Round)
	}
	if err := verifySignature(committee, t.Author, t.Digest(), t.Signature); err != nil {
		return err
	}
	return t.HighQC.Verify(committee)
}

// Verify checks that a quorum of distinct members timed out in the TC's round.
func (tc *TC) Verify(committee *config.Committee) error {
	if len(tc.Votes) < committee.QuorumThreshold() {
		return fmt.Errorf("%w: %d signers for round %d", ErrInvalidTC, len(tc.Votes), tc.Round)
	}
	for author, v := range tc.Votes {
		if v.HighQCRound >= tc.Round {
			return fmt.Errorf("%w: %s reports high qc round %d", ErrInvalidTC, author, v.HighQCRound)
		}
		if err := verifySignature(committee, author, timeoutDigest(tc.Round, v.HighQCRound), v.Signature); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTC, err)
		}
	}
	return nil
}
