package hotstuff

import (
	"context"
	"fmt"

	"github.com/gitzhang10/chainedbft/config"
	"github.com/gitzhang10/chainedbft/conn"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"
)

// outboundChanSize bounds the messages queued for one peer.
const outboundChanSize = 1000

type outbound struct {
	tag uint8
	msg interface{}
}

// peer is the send queue of one remote authority.
type peer struct {
	name  string
	addr  string
	queue chan outbound
}

// Sender implements Network over the TCP transport. Each peer has its own
// queue and worker so a slow peer does not delay the others. Failed sends are
// logged and dropped; the protocol recovers through timeouts and sync.
type Sender struct {
	name   string
	trans  *conn.NetworkTransport
	peers  map[string]*peer // map from name to peer
	logger hclog.Logger
}

// NewSender creates a sender for every authority except name. Call Run to
// start the workers.
func NewSender(name string, committee *config.Committee, trans *conn.NetworkTransport, logger hclog.Logger) *Sender {
	s := &Sender{
		name:   name,
		trans:  trans,
		peers:  make(map[string]*peer),
		logger: logger,
	}
	for _, a := range committee.Others(name) {
		s.peers[a.Name] = &peer{name: a.Name, addr: a.Address, queue: make(chan outbound, outboundChanSize)}
	}
	return s
}

// Send queues msg for the named authority.
func (s *Sender) Send(to string, msg interface{}) {
	p, ok := s.peers[to]
	if !ok {
		s.logger.Warn("send to unknown peer", "to", to)
		return
	}
	s.enqueue(p, msg)
}

// Broadcast queues msg for every other authority.
func (s *Sender) Broadcast(msg interface{}) {
	for _, p := range s.peers {
		s.enqueue(p, msg)
	}
}

func (s *Sender) enqueue(p *peer, msg interface{}) {
	tag, ok := msgTag(msg)
	if !ok {
		s.logger.Error("refusing to send unknown message type", "to", p.name)
		return
	}
	select {
	case p.queue <- outbound{tag: tag, msg: msg}:
	default:
		s.logger.Warn("send queue full, dropping message", "to", p.name, "tag", tag)
	}
}

// Run drains the peer queues until ctx is done.
func (s *Sender) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, p := range s.peers {
		p := p
		g.Go(func() error {
			s.drain(ctx, p)
			return nil
		})
	}
	return g.Wait()
}

func (s *Sender) drain(ctx context.Context, p *peer) {
	for {
		select {
		case <-ctx.Done():
			return
		case out := <-p.queue:
			if err := s.send(p, out); err != nil {
				s.logger.Debug("failed to send message", "to", p.name, "tag", out.tag, "error", err)
			}
		}
	}
}

func (s *Sender) send(p *peer, out outbound) error {
	netConn, err := s.trans.GetConn(p.addr)
	if err != nil {
		return err
	}
	if err := conn.SendMsg(netConn, out.tag, out.msg); err != nil {
		return fmt.Errorf("send to %s: %w", netConn.Target(), err)
	}
	return s.trans.ReturnConn(netConn)
}
