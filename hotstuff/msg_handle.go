package hotstuff

import (
	"context"
	"errors"
	"fmt"
)

// maxRoundsAhead bounds how far past the current round votes and timeouts
// are aggregated. A lagging node catches up through blocks and TCs instead.
const maxRoundsAhead = 100

// handleProposal checks a block received from the network and processes it.
func (c *Core) handleProposal(ctx context.Context, block *Block) error {
	stored, err := c.store.Has(blockKey(block.Digest()))
	if err != nil {
		return wrapStorage(err)
	}
	if stored {
		return nil
	}
	if leader := c.elector.Get(block.Round); block.Author != leader {
		return fmt.Errorf("%w: %s proposed round %d led by %s", ErrNotLeader, block.Author, block.Round, leader)
	}
	if block.Round <= block.QC.Round {
		return fmt.Errorf("%w: block round %d not above qc round %d", ErrInvalidRound, block.Round, block.QC.Round)
	}
	if block.TC == nil && block.Round != block.QC.Round+1 {
		return fmt.Errorf("%w: block round %d does not follow qc round %d", ErrInvalidRound, block.Round, block.QC.Round)
	}
	if block.TC != nil && block.Round != block.TC.Round+1 {
		return fmt.Errorf("%w: block round %d does not follow tc round %d", ErrInvalidRound, block.Round, block.TC.Round)
	}
	if err := block.Verify(c.committee); err != nil {
		return err
	}
	c.logger.Debug("received block", "round", block.Round, "author", block.Author,
		"digest", block.Digest().Short())
	return c.processBlock(ctx, block)
}

// processBlock runs the certificates of a verified block, stores it once its
// parent is known, and then applies the lock, commit and vote rules.
func (c *Core) processBlock(ctx context.Context, block *Block) error {
	c.processQC(&block.QC)
	if block.TC != nil {
		c.advanceRound(block.TC.Round, false)
	}

	// b0 <- b1 <- b2 <- block
	b2, err := c.getBlock(block.Parent())
	if err != nil {
		return err
	}
	if b2 == nil {
		c.logger.Debug("parent missing, syncing", "round", block.Round, "parent", block.Parent().Short())
		return c.syncer.RequestParent(ctx, block)
	}
	b1, err := c.ancestor(b2)
	if err != nil {
		return err
	}
	b0, err := c.ancestor(b1)
	if err != nil {
		return err
	}

	if err := storeBlock(c.store, block); err != nil {
		return err
	}
	if err := c.syncer.Resolved(ctx, block.Digest()); err != nil {
		return err
	}

	if b2.QC.Round > c.lockedQC.Round {
		c.lockedQC = b2.QC
		c.aggregator.Cleanup(c.lockedQC.Round)
	}
	if !b0.IsGenesis() && b0.Round > c.lastCommittedRound &&
		b0.Round+1 == b1.Round && b1.Round+1 == b2.Round {
		if err := c.commit(ctx, b0); err != nil {
			return err
		}
	}
	if err := c.persistState(); err != nil {
		return err
	}

	if block.Round != c.round || !c.safeToVote(block) {
		return nil
	}
	return c.vote(ctx, block)
}

// ancestor returns the parent of a stored block, which must be stored too.
func (c *Core) ancestor(b *Block) (*Block, error) {
	parent, err := c.getBlock(b.Parent())
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, fmt.Errorf("%w: parent of stored block %s missing", ErrStorage, b.Digest().Short())
	}
	return parent, nil
}

// vote records the vote durably before it leaves the node.
func (c *Core) vote(ctx context.Context, block *Block) error {
	c.lastVotedRound = block.Round
	if err := c.persistState(); err != nil {
		return err
	}
	vote, err := c.makeVote(ctx, block)
	if err != nil {
		return err
	}
	next := c.elector.Get(block.Round + 1)
	c.logger.Debug("voted", "round", vote.Round, "digest", vote.Hash.Short(), "to", next)
	if next == c.name {
		return c.handleVote(ctx, vote)
	}
	c.network.Send(next, vote)
	return nil
}

func (c *Core) handleVote(ctx context.Context, vote *Vote) error {
	if vote.Round < c.round {
		return fmt.Errorf("%w: vote for round %d at round %d", ErrStaleRound, vote.Round, c.round)
	}
	if vote.Round > c.round+maxRoundsAhead {
		return fmt.Errorf("%w: vote for round %d at round %d", ErrInvalidRound, vote.Round, c.round)
	}
	if err := vote.Verify(c.committee); err != nil {
		return err
	}
	qc := c.aggregator.AddVote(vote)
	if qc == nil {
		return nil
	}
	c.logger.Debug("assembled qc", "round", qc.Round, "digest", qc.Hash.Short())
	if err := storeQC(c.store, qc); err != nil {
		return err
	}
	c.processQC(qc)
	if err := c.persistState(); err != nil {
		return err
	}
	return c.proposeIfLeader(ctx, nil)
}

// localTimeout gives up on the current round.
func (c *Core) localTimeout(ctx context.Context) error {
	c.logger.Warn("round timed out", "round", c.round, "delay", c.pacemaker.Delay())
	if c.round > c.lastVotedRound {
		c.lastVotedRound = c.round
	}
	if err := c.persistState(); err != nil {
		return err
	}
	timeout, err := c.makeTimeout(ctx)
	if err != nil {
		return err
	}
	c.pacemaker.Expired()
	c.network.Broadcast(timeout)
	return c.handleTimeout(ctx, timeout)
}

func (c *Core) handleTimeout(ctx context.Context, timeout *Timeout) error {
	if timeout.Round < c.round {
		return fmt.Errorf("%w: timeout for round %d at round %d", ErrStaleRound, timeout.Round, c.round)
	}
	if timeout.Round > c.round+maxRoundsAhead {
		return fmt.Errorf("%w: timeout for round %d at round %d", ErrInvalidRound, timeout.Round, c.round)
	}
	if err := timeout.Verify(c.committee); err != nil {
		return err
	}
	c.processQC(&timeout.HighQC)
	tc := c.aggregator.AddTimeout(timeout)
	if tc == nil {
		return c.persistState()
	}
	c.logger.Debug("assembled tc", "round", tc.Round)
	if err := storeTC(c.store, tc); err != nil {
		return err
	}
	c.advanceRound(tc.Round, false)
	if err := c.persistState(); err != nil {
		return err
	}
	c.network.Broadcast(tc)
	return c.proposeIfLeader(ctx, tc)
}

func (c *Core) handleTC(ctx context.Context, tc *TC) error {
	if tc.Round < c.round {
		return fmt.Errorf("%w: tc for round %d at round %d", ErrStaleRound, tc.Round, c.round)
	}
	if err := tc.Verify(c.committee); err != nil {
		return err
	}
	if err := storeTC(c.store, tc); err != nil {
		return err
	}
	c.advanceRound(tc.Round, false)
	if err := c.persistState(); err != nil {
		return err
	}
	return c.proposeIfLeader(ctx, tc)
}

// handleAncestorReply feeds fetched blocks, oldest first, through the
// proposal path. A bad block does not stop the rest of the chain.
func (c *Core) handleAncestorReply(ctx context.Context, reply *AncestorReply) error {
	for _, block := range reply.Blocks {
		if block == nil {
			continue
		}
		err := c.handleProposal(ctx, block)
		if errors.Is(err, ErrStorage) {
			return err
		}
		if err != nil {
			c.logger.Warn("dropped fetched block", "round", block.Round, "author", block.Author, "error", err)
		}
	}
	return nil
}

// proposeIfLeader proposes for the current round when this node leads it.
// tc is used only when it ended the previous round.
func (c *Core) proposeIfLeader(ctx context.Context, tc *TC) error {
	if c.elector.Get(c.round) != c.name {
		return nil
	}
	if tc != nil && tc.Round+1 != c.round {
		tc = nil
	}
	return c.generateProposal(ctx, tc)
}
