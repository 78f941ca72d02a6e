package hotstuff

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/gitzhang10/chainedbft/config"
	"github.com/gitzhang10/chainedbft/conn"
	"github.com/gitzhang10/chainedbft/mempool"
	"github.com/gitzhang10/chainedbft/sign"
	"github.com/gitzhang10/chainedbft/store"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"
)

const (
	dialTimeout      = 10 * time.Second
	loopbackChanSize = 1000
	commitChanSize   = 1000
	mempoolCapacity  = 10_000
)

// Node wires the core to its store, transport and helper actors.
type Node struct {
	name   string
	store  *store.Store
	trans  *conn.NetworkTransport
	pool   *mempool.Mempool
	logger hclog.Logger

	core     *Core
	sender   *Sender
	syncer   *Synchronizer
	helper   *Helper
	receiver *receiver
	commitCh chan *Block

	signCancel context.CancelFunc
}

// NewNode loads the committee and key files, opens the store at storePath and
// binds the consensus listener. nil params means the defaults.
func NewNode(committeeFile, keyFile, storePath string, params *config.Parameters) (*Node, error) {
	committee, err := config.LoadCommittee(committeeFile)
	if err != nil {
		return nil, err
	}
	secret, err := config.LoadSecret(keyFile)
	if err != nil {
		return nil, err
	}
	st, err := store.New(storePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	n, err := NewNodeWithConfig(secret, committee, params, st)
	if err != nil {
		st.Close()
		return nil, err
	}
	return n, nil
}

// NewNodeWithConfig creates a node from loaded configuration. The node owns
// st and closes it in Close.
func NewNodeWithConfig(secret *config.Secret, committee *config.Committee, params *config.Parameters,
	st *store.Store) (*Node, error) {
	if params == nil {
		params = config.DefaultParameters()
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	pubKey, ok := committee.PublicKey(secret.Name)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not in the committee", config.ErrConfiguration, secret.Name)
	}
	if !bytes.Equal(pubKey, secret.PublicKey()) {
		return nil, fmt.Errorf("%w: key file does not match the committee entry of %s",
			config.ErrConfiguration, secret.Name)
	}
	addr, _ := committee.Address(secret.Name)

	level := hclog.Level(params.LogLevel)
	newLogger := func(name string) hclog.Logger {
		return hclog.New(&hclog.LoggerOptions{
			Name:   name,
			Output: hclog.DefaultOutput,
			Level:  level,
		}).With("node", secret.Name)
	}

	trans, err := conn.NewTCPTransportWithLogger(addr, dialTimeout, newLogger("BFT-net"), params.MaxPool,
		reflectedTypesMap)
	if err != nil {
		return nil, fmt.Errorf("%w: listen on %s: %v", config.ErrConfiguration, addr, err)
	}

	signCtx, signCancel := context.WithCancel(context.Background())
	signer := sign.NewSignatureService(signCtx, secret.PrivateKey)

	n := &Node{
		name:       secret.Name,
		store:      st,
		trans:      trans,
		pool:       mempool.New(mempoolCapacity),
		logger:     newLogger("hotstuff-node"),
		commitCh:   make(chan *Block, commitChanSize),
		signCancel: signCancel,
	}
	loopback := make(chan *Block, loopbackChanSize)
	n.sender = NewSender(secret.Name, committee, trans, newLogger("BFT-net"))
	n.syncer = NewSynchronizer(secret.Name, st, n.sender, params.SyncRetryDelay, params.SyncRetryLimit, loopback,
		newLogger("hotstuff-sync"))
	n.helper = NewHelper(committee, st, n.sender, newLogger("hotstuff-sync"))
	n.core, err = NewCore(secret.Name, committee, params, st, signer, n.pool, n.sender, n.syncer, loopback,
		n.commitCh, newLogger("hotstuff-core"))
	if err != nil {
		signCancel()
		trans.Close()
		return nil, err
	}
	n.receiver = &receiver{
		msgs:   trans.MsgChan(),
		core:   n.core.Inbound(),
		helper: n.helper,
		logger: n.logger,
	}
	return n, nil
}

// Name returns the node's committee name.
func (n *Node) Name() string {
	return n.name
}

// Mempool returns the payload source proposals draw from.
func (n *Node) Mempool() *mempool.Mempool {
	return n.pool
}

// Run runs the node until ctx is done or the core halts on a storage failure.
// Committed blocks are passed to sink in commit order; a nil sink discards them.
func (n *Node) Run(ctx context.Context, sink func(*Block)) error {
	n.logger.Info("node starts the hotstuff", "addr", n.trans.LocalAddr())
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// the core's error cancels the group
		return n.core.Run(ctx)
	})
	g.Go(func() error { return n.syncer.Run(ctx) })
	g.Go(func() error { return n.helper.Run(ctx) })
	g.Go(func() error { return n.sender.Run(ctx) })
	g.Go(func() error { return n.receiver.Run(ctx) })
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case block := <-n.commitCh:
				if sink != nil {
					sink(block)
				}
			}
		}
	})
	g.Go(func() error {
		<-ctx.Done()
		return n.trans.Close()
	})
	return g.Wait()
}

// Close releases the transport, the signature service and the store.
func (n *Node) Close() error {
	n.signCancel()
	n.trans.Close()
	return n.store.Close()
}
