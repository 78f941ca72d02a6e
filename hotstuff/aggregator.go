package hotstuff

import "github.com/gitzhang10/chainedbft/config"

// qcMaker collects votes for one (round, digest).
type qcMaker struct {
	votes map[string][]byte // map from voter to signature
	done  bool
}

// tcMaker collects timeouts for one round.
type tcMaker struct {
	votes map[string]TimeoutVote // map from author to signed timeout
	done  bool
}

// Aggregator turns verified votes and timeouts into certificates. A signer
// counts once per key; a certificate is emitted the first time the number of
// distinct signers reaches the quorum and never again for that key.
// Aggregator is owned by the core and is not safe for concurrent use.
type Aggregator struct {
	quorum   int
	votes    map[uint64]map[Digest]*qcMaker // map from round to block digest to maker
	voters   map[uint64]map[string]bool     // map from round to voters seen for any digest
	timeouts map[uint64]*tcMaker            // map from round to maker
}

// NewAggregator creates an aggregator for the committee's quorum threshold.
func NewAggregator(committee *config.Committee) *Aggregator {
	return &Aggregator{
		quorum:   committee.QuorumThreshold(),
		votes:    make(map[uint64]map[Digest]*qcMaker),
		voters:   make(map[uint64]map[string]bool),
		timeouts: make(map[uint64]*tcMaker),
	}
}

// AddVote records a verified vote and returns a QC when it completes the quorum.
// Only the first vote of a signer in a round counts.
func (a *Aggregator) AddVote(vote *Vote) *QC {
	if _, ok := a.votes[vote.Round]; !ok {
		a.votes[vote.Round] = make(map[Digest]*qcMaker)
		a.voters[vote.Round] = make(map[string]bool)
	}
	if a.voters[vote.Round][vote.Author] {
		return nil
	}
	a.voters[vote.Round][vote.Author] = true
	maker, ok := a.votes[vote.Round][vote.Hash]
	if !ok {
		maker = &qcMaker{votes: make(map[string][]byte)}
		a.votes[vote.Round][vote.Hash] = maker
	}
	maker.votes[vote.Author] = vote.Signature
	if maker.done || len(maker.votes) < a.quorum {
		return nil
	}
	maker.done = true
	qc := &QC{
		Hash:  vote.Hash,
		Round: vote.Round,
		Votes: make(map[string][]byte, len(maker.votes)),
	}
	for author, sig := range maker.votes {
		qc.Votes[author] = sig
	}
	return qc
}

// AddTimeout records a verified timeout and returns a TC when it completes the quorum.
func (a *Aggregator) AddTimeout(timeout *Timeout) *TC {
	maker, ok := a.timeouts[timeout.Round]
	if !ok {
		maker = &tcMaker{votes: make(map[string]TimeoutVote)}
		a.timeouts[timeout.Round] = maker
	}
	if _, ok := maker.votes[timeout.Author]; ok {
		return nil
	}
	maker.votes[timeout.Author] = TimeoutVote{
		Signature:   timeout.Signature,
		HighQCRound: timeout.HighQC.Round,
	}
	if maker.done || len(maker.votes) < a.quorum {
		return nil
	}
	maker.done = true
	tc := &TC{
		Round: timeout.Round,
		Votes: make(map[string]TimeoutVote, len(maker.votes)),
	}
	for author, v := range maker.votes {
		tc.Votes[author] = v
	}
	return tc
}

// Cleanup drops every entry at or below round.
func (a *Aggregator) Cleanup(round uint64) {
	for r := range a.votes {
		if r <= round {
			delete(a.votes, r)
			delete(a.voters, r)
		}
	}
	for r := range a.timeouts {
		if r <= round {
			delete(a.timeouts, r)
		}
	}
}

// Len returns the number of rounds with pending entries.
func (a *Aggregator) Len() int {
	return len(a.votes) + len(a.timeouts)
}
