package hotstuff

import (
	"context"
	"errors"

	"github.com/gitzhang10/chainedbft/config"
	"github.com/gitzhang10/chainedbft/sign"
	"github.com/gitzhang10/chainedbft/store"
	"github.com/hashicorp/go-hclog"
)

// inboundChanSize bounds the messages waiting for the core.
const inboundChanSize = 1000

// Network delivers messages to peers, best effort. Neither call blocks.
type Network interface {
	Send(to string, msg interface{})
	Broadcast(msg interface{})
}

// Syncer fetches the missing parents of blocks.
type Syncer interface {
	RequestParent(ctx context.Context, block *Block) error
	Resolved(ctx context.Context, digest Digest) error
}

// PayloadSource hands out the payload digest of the next block.
type PayloadSource interface {
	NextPayload() Digest
}

// Signer signs digests with the node's key.
type Signer interface {
	RequestSignature(ctx context.Context, digest Digest) ([]byte, error)
}

// Core is the consensus state machine. All protocol state is owned by the
// goroutine running Run and is only touched while handling one event.
type Core struct {
	name       string
	committee  *config.Committee
	store      Store
	signer     Signer
	elector    *LeaderElector
	mempool    PayloadSource
	network    Network
	syncer     Syncer
	aggregator *Aggregator
	pacemaker  *Pacemaker
	logger     hclog.Logger

	inbound  chan interface{}
	loopback chan *Block
	commitCh chan<- *Block

	round              uint64
	lastVotedRound     uint64
	lastCommittedRound uint64
	lastProposedRound  uint64
	highQC             QC
	lockedQC           QC
}

// NewCore creates the core, restoring its safety state from the store.
// Blocks whose parent was fetched come back on loopback; committed blocks
// leave on commitCh in round order.
func NewCore(name string, committee *config.Committee, params *config.Parameters, store Store, signer Signer,
	mempool PayloadSource, network Network, syncer Syncer, loopback chan *Block, commitCh chan<- *Block,
	logger hclog.Logger) (*Core, error) {
	c := &Core{
		name:       name,
		committee:  committee,
		store:      store,
		signer:     signer,
		elector:    NewLeaderElector(committee),
		mempool:    mempool,
		network:    network,
		syncer:     syncer,
		aggregator: NewAggregator(committee),
		pacemaker:  NewPacemaker(params.TimeoutDelay, params.MaxTimeoutDelay),
		logger:     logger,
		inbound:    make(chan interface{}, inboundChanSize),
		loopback:   loopback,
		commitCh:   commitCh,
		round:      1,
		highQC:     GenesisQC(),
		lockedQC:   GenesisQC(),
	}
	state, err := loadState(store)
	if err != nil {
		return nil, err
	}
	if state != nil {
		c.round = state.Round
		c.lastVotedRound = state.LastVotedRound
		c.lastCommittedRound = state.LastCommittedRound
		c.lastProposedRound = state.LastProposedRound
		c.highQC = state.HighQC
		c.lockedQC = state.LockedQC
		c.logger.Info("restored safety state", "round", c.round, "last-voted", c.lastVotedRound,
			"high-qc", c.highQC.Round, "locked-qc", c.lockedQC.Round)
	}
	return c, nil
}

// Inbound is the channel feeding network messages to the core.
func (c *Core) Inbound() chan<- interface{} {
	return c.inbound
}

// Run processes events until ctx is done or a storage failure occurs.
func (c *Core) Run(ctx context.Context) error {
	defer c.pacemaker.Stop()
	if err := c.checkError(c.bootstrap(ctx)); err != nil {
		return err
	}
	for {
		var err error
		select {
		case <-ctx.Done():
			return nil
		case msg := <-c.inbound:
			err = c.dispatch(ctx, msg)
		case block := <-c.loopback:
			err = c.processBlock(ctx, block)
		case <-c.pacemaker.Chan():
			err = c.localTimeout(ctx)
		}
		if err = c.checkError(err); err != nil {
			return err
		}
	}
}

// bootstrap arms the timer and lets the first leader propose.
func (c *Core) bootstrap(ctx context.Context) error {
	c.pacemaker.Reset(true)
	if c.elector.Get(c.round) == c.name {
		return c.generateProposal(ctx, nil)
	}
	return nil
}

// dispatch routes one inbound message to its handler.
func (c *Core) dispatch(ctx context.Context, msg interface{}) error {
	switch m := msg.(type) {
	case *Block:
		return c.handleProposal(ctx, m)
	case *Vote:
		return c.handleVote(ctx, m)
	case *Timeout:
		return c.handleTimeout(ctx, m)
	case *TC:
		return c.handleTC(ctx, m)
	case *AncestorReply:
		return c.handleAncestorReply(ctx, m)
	default:
		return ErrUnknownMessage
	}
}

// checkError absorbs protocol violations and passes storage failures through.
func (c *Core) checkError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrStorage):
		c.logger.Error("halting on storage failure", "round", c.round, "error", err)
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil
	case errors.Is(err, ErrStaleRound):
		c.logger.Debug("dropped stale message", "round", c.round, "error", err)
	default:
		c.logger.Warn("dropped message", "round", c.round, "error", err)
	}
	return nil
}

func (c *Core) persistState() error {
	return storeState(c.store, &safetyState{
		Round:              c.round,
		LastVotedRound:     c.lastVotedRound,
		LastCommittedRound: c.lastCommittedRound,
		LastProposedRound:  c.lastProposedRound,
		HighQC:             c.highQC,
		LockedQC:           c.lockedQC,
	})
}

// getBlock returns nil for a block that is not stored yet.
func (c *Core) getBlock(digest Digest) (*Block, error) {
	block, err := loadBlock(c.store, digest)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStorage(err)
	}
	return block, nil
}

// advanceRound moves past round. Rounds ended by a QC count as progress for
// the pacemaker.
func (c *Core) advanceRound(round uint64, progress bool) {
	if round < c.round {
		return
	}
	c.round = round + 1
	c.pacemaker.Reset(progress)
	c.logger.Debug("moved to round", "round", c.round, "progress", progress)
}

func (c *Core) processQC(qc *QC) {
	c.advanceRound(qc.Round, true)
	if qc.Round > c.highQC.Round {
		c.highQC = *qc
	}
}

// commit emits block and its uncommitted ancestors in ascending round order.
func (c *Core) commit(ctx context.Context, block *Block) error {
	var chain []*Block
	for b := block; b.Round > c.lastCommittedRound && !b.IsGenesis(); {
		chain = append(chain, b)
		parent, err := c.getBlock(b.Parent())
		if err != nil {
			return err
		}
		if parent == nil {
			c.logger.Error("ancestor of committed block is missing", "round", b.Round, "parent", b.Parent().Short())
			break
		}
		b = parent
	}
	c.lastCommittedRound = block.Round
	if err := c.persistState(); err != nil {
		return err
	}
	for i := len(chain) - 1; i >= 0; i-- {
		b := chain[i]
		c.logger.Info("committed block", "round", b.Round, "author", b.Author,
			"digest", b.Digest().Short())
		select {
		case c.commitCh <- b:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// generateProposal builds, broadcasts and processes this node's block for
// the current round. tc justifies a round entered through a timeout.
func (c *Core) generateProposal(ctx context.Context, tc *TC) error {
	if c.round <= c.lastProposedRound {
		return nil
	}
	if tc == nil && c.highQC.Round+1 != c.round {
		return nil
	}
	c.lastProposedRound = c.round
	if err := c.persistState(); err != nil {
		return err
	}
	block := &Block{
		Author:  c.name,
		Round:   c.round,
		Payload: c.mempool.NextPayload(),
		QC:      c.highQC,
		TC:      tc,
	}
	sig, err := c.signer.RequestSignature(ctx, block.Digest())
	if err != nil {
		return err
	}
	block.Signature = sig
	c.logger.Info("created block", "round", block.Round, "qc", block.QC.Round,
		"digest", block.Digest().Short())
	c.network.Broadcast(block)
	return c.processBlock(ctx, block)
}

func (c *Core) makeVote(ctx context.Context, block *Block) (*Vote, error) {
	vote := &Vote{Hash: block.Digest(), Round: block.Round, Author: c.name}
	sig, err := c.signer.RequestSignature(ctx, vote.Digest())
	if err != nil {
		return nil, err
	}
	vote.Signature = sig
	return vote, nil
}

func (c *Core) makeTimeout(ctx context.Context) (*Timeout, error) {
	timeout := &Timeout{HighQC: c.highQC, Round: c.round, Author: c.name}
	sig, err := c.signer.RequestSignature(ctx, timeout.Digest())
	if err != nil {
		return nil, err
	}
	timeout.Signature = sig
	return timeout, nil
}

// safeToVote is the voting rule: the block must extend the locked QC, or be
// justified by a TC for the previous round and extend the highest QC in it.
func (c *Core) safeToVote(block *Block) bool {
	if block.Round <= c.lastVotedRound {
		return false
	}
	if block.QC.Round >= c.lockedQC.Round {
		return true
	}
	if block.TC != nil {
		return block.TC.Round+1 == block.Round && block.QC.Round >= block.TC.MaxHighQCRound()
	}
	return false
}

var _ Signer = (*sign.SignatureService)(nil)
