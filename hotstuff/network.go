package hotstuff

import (
	"context"

	"github.com/gitzhang10/chainedbft/conn"
	"github.com/hashicorp/go-hclog"
)

// receiver routes decoded frames: ancestor requests to the helper and the
// rest of the protocol messages to the core.
type receiver struct {
	msgs   <-chan conn.Message
	core   chan<- interface{}
	helper *Helper
	logger hclog.Logger
}

func (r *receiver) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-r.msgs:
			if !ok {
				return nil
			}
			r.route(ctx, m)
		}
	}
}

func (r *receiver) route(ctx context.Context, m conn.Message) {
	switch msg := m.Msg.(type) {
	case *AncestorRequest:
		r.helper.Deliver(msg)
	case *Block, *Vote, *Timeout, *TC, *AncestorReply:
		select {
		case r.core <- msg:
		case <-ctx.Done():
		}
	default:
		r.logger.Warn("dropped message of unknown type", "tag", m.Tag)
	}
}
