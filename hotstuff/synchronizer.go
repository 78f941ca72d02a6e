package hotstuff

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"
)

// missingChanSize bounds the requests queued from the core.
const missingChanSize = 1000

// pendingFetch is an ancestor we asked peers for and the blocks waiting on it.
type pendingFetch struct {
	children map[Digest]*Block // map from child digest to buffered child
	attempts int
	lastSent time.Time
}

// Synchronizer repairs gaps in the local chain. The core hands it blocks whose
// parent is unknown; the synchronizer fetches the parent from peers and, once
// the core reports the parent stored, returns the buffered blocks to the core
// through the loopback channel.
type Synchronizer struct {
	name       string
	store      Store
	network    Network
	retryDelay time.Duration
	retryLimit int
	loopback   chan<- *Block
	logger     hclog.Logger

	missing  chan *Block
	resolved chan Digest

	// owned by Run
	pending map[Digest]*pendingFetch // map from missing digest to fetch
}

// NewSynchronizer creates a synchronizer; call Run to start it.
func NewSynchronizer(name string, store Store, network Network, retryDelay time.Duration, retryLimit int,
	loopback chan<- *Block, logger hclog.Logger) *Synchronizer {
	return &Synchronizer{
		name:       name,
		store:      store,
		network:    network,
		retryDelay: retryDelay,
		retryLimit: retryLimit,
		loopback:   loopback,
		logger:     logger,
		missing:    make(chan *Block, missingChanSize),
		resolved:   make(chan Digest, missingChanSize),
		pending:    make(map[Digest]*pendingFetch),
	}
}

// RequestParent buffers block until its parent is available.
func (s *Synchronizer) RequestParent(ctx context.Context, block *Block) error {
	select {
	case s.missing <- block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Resolved tells the synchronizer that digest is now stored.
func (s *Synchronizer) Resolved(ctx context.Context, digest Digest) error {
	select {
	case s.resolved <- digest:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run serves requests until ctx is done.
func (s *Synchronizer) Run(ctx context.Context) error {
	interval := s.retryDelay / 2
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case block := <-s.missing:
			if err := s.handleMissing(ctx, block, time.Now()); err != nil {
				return err
			}
		case digest := <-s.resolved:
			s.handleResolved(ctx, digest)
		case now := <-ticker.C:
			s.handleTick(now)
		}
	}
}

func (s *Synchronizer) handleMissing(ctx context.Context, block *Block, now time.Time) error {
	parent := block.Parent()
	stored, err := s.store.Has(blockKey(parent))
	if err != nil {
		return wrapStorage(err)
	}
	if stored {
		// The parent arrived while the request was queued.
		s.deliver(ctx, block)
		return nil
	}
	fetch, ok := s.pending[parent]
	if !ok {
		fetch = &pendingFetch{children: make(map[Digest]*Block)}
		s.pending[parent] = fetch
		s.fetch(parent, block.Author, fetch, now)
	}
	fetch.children[block.Digest()] = block
	return nil
}

func (s *Synchronizer) handleResolved(ctx context.Context, digest Digest) {
	fetch, ok := s.pending[digest]
	if !ok {
		return
	}
	delete(s.pending, digest)
	for _, child := range fetch.children {
		s.deliver(ctx, child)
	}
}

func (s *Synchronizer) handleTick(now time.Time) {
	for digest, fetch := range s.pending {
		if now.Sub(fetch.lastSent) < s.retryDelay {
			continue
		}
		if fetch.attempts > s.retryLimit {
			s.logger.Debug("giving up on ancestor", "digest", digest.Short(), "attempts", fetch.attempts)
			delete(s.pending, digest)
			continue
		}
		s.fetch(digest, "", fetch, now)
	}
}

// fetch asks the author of the child first, since it must hold the parent,
// and everyone on retries.
func (s *Synchronizer) fetch(digest Digest, author string, fetch *pendingFetch, now time.Time) {
	req := &AncestorRequest{Digest: digest, Requester: s.name}
	if author != "" && author != s.name {
		s.network.Send(author, req)
	} else {
		s.network.Broadcast(req)
	}
	fetch.attempts++
	fetch.lastSent = now
	s.logger.Debug("requested ancestor", "digest", digest.Short(), "attempt", fetch.attempts)
}

func (s *Synchronizer) deliver(ctx context.Context, block *Block) {
	go func() {
		select {
		case s.loopback <- block:
		case <-ctx.Done():
		}
	}()
}
