package hotstuff

import (
	"context"
	"errors"

	"github.com/gitzhang10/chainedbft/config"
	"github.com/gitzhang10/chainedbft/store"
	"github.com/hashicorp/go-hclog"
	"go.uber.org/ratelimit"
)

const (
	// maxAncestorChain bounds the blocks returned for one request.
	maxAncestorChain = 16

	// helperRepliesPerSecond bounds the replies a node serves.
	helperRepliesPerSecond = 200

	requestChanSize = 1000
)

// Helper answers the ancestor requests of lagging peers from the local store.
type Helper struct {
	committee *config.Committee
	store     Store
	network   Network
	limiter   ratelimit.Limiter
	logger    hclog.Logger

	requests chan *AncestorRequest
}

// NewHelper creates a helper; call Run to start it.
func NewHelper(committee *config.Committee, store Store, network Network, logger hclog.Logger) *Helper {
	return &Helper{
		committee: committee,
		store:     store,
		network:   network,
		limiter:   ratelimit.New(helperRepliesPerSecond),
		logger:    logger,
		requests:  make(chan *AncestorRequest, requestChanSize),
	}
}

// Deliver queues a request, dropping it when the helper is overloaded.
func (h *Helper) Deliver(req *AncestorRequest) {
	select {
	case h.requests <- req:
	default:
		h.logger.Warn("dropped ancestor request", "requester", req.Requester)
	}
}

// Run serves requests until ctx is done.
func (h *Helper) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-h.requests:
			h.limiter.Take()
			if err := h.handleRequest(req); err != nil {
				h.logger.Warn("failed to serve ancestor request", "requester", req.Requester, "error", err)
			}
		}
	}
}

func (h *Helper) handleRequest(req *AncestorRequest) error {
	if !h.committee.Exists(req.Requester) {
		return ErrUnknownAuthority
	}
	chain, err := h.ancestors(req.Digest)
	if err != nil {
		return err
	}
	if len(chain) == 0 {
		return nil
	}
	h.network.Send(req.Requester, &AncestorReply{Blocks: chain})
	return nil
}

// ancestors returns the block with digest and up to maxAncestorChain-1 of its
// ancestors, oldest first. It stops early at genesis or at a missing block.
func (h *Helper) ancestors(digest Digest) ([]*Block, error) {
	var chain []*Block
	for len(chain) < maxAncestorChain && !digest.IsZero() {
		block, err := loadBlock(h.store, digest)
		if errors.Is(err, store.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		chain = append(chain, block)
		digest = block.Parent()
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}
