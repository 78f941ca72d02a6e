package hotstuff

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/gitzhang10/chainedbft/config"
	"github.com/gitzhang10/chainedbft/sign"
	"github.com/gitzhang10/chainedbft/store"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"
)

const testBase = 50 * time.Millisecond

type testCluster struct {
	committee *config.Committee
	keys      map[string]ed25519.PrivateKey
	elector   *LeaderElector
}

func newTestCluster(t *testing.T, n int, basePort int) *testCluster {
	t.Helper()
	keys := make(map[string]ed25519.PrivateKey, n)
	authorities := make([]config.Authority, 0, n)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("node%d", i)
		priv, pub := sign.GenED25519Keys()
		keys[name] = priv
		authorities = append(authorities, config.Authority{
			Name:      name,
			PublicKey: pub,
			Address:   fmt.Sprintf("127.0.0.1:%d", basePort+i),
		})
	}
	committee, err := config.NewCommittee(authorities)
	require.NoError(t, err)
	return &testCluster{committee: committee, keys: keys, elector: NewLeaderElector(committee)}
}

func (tc *testCluster) leader(round uint64) string {
	return tc.elector.Get(round)
}

func (tc *testCluster) block(round uint64, payload byte, qc QC, timeout *TC) *Block {
	b := &Block{
		Author:  tc.leader(round),
		Round:   round,
		Payload: Digest{payload},
		QC:      qc,
		TC:      timeout,
	}
	digest := b.Digest()
	b.Signature = sign.SignEd25519(tc.keys[b.Author], digest[:])
	return b
}

func (tc *testCluster) vote(b *Block, author string) *Vote {
	v := &Vote{Hash: b.Digest(), Round: b.Round, Author: author}
	digest := v.Digest()
	v.Signature = sign.SignEd25519(tc.keys[author], digest[:])
	return v
}

func (tc *testCluster) qc(b *Block, signers ...string) QC {
	qc := QC{Hash: b.Digest(), Round: b.Round, Votes: make(map[string][]byte)}
	for _, s := range signers {
		qc.Votes[s] = tc.vote(b, s).Signature
	}
	return qc
}

func (tc *testCluster) timeout(round uint64, highQC QC, author string) *Timeout {
	t := &Timeout{HighQC: highQC, Round: round, Author: author}
	digest := t.Digest()
	t.Signature = sign.SignEd25519(tc.keys[author], digest[:])
	return t
}

func (tc *testCluster) tc(round uint64, highQC QC, signers ...string) *TC {
	cert := &TC{Round: round, Votes: make(map[string]TimeoutVote)}
	for _, s := range signers {
		cert.Votes[s] = TimeoutVote{
			Signature:   tc.timeout(round, highQC, s).Signature,
			HighQCRound: highQC.Round,
		}
	}
	return cert
}

// others returns the names in sorted order, without exclude.
func (tc *testCluster) others(exclude ...string) []string {
	var res []string
outer:
	for _, name := range tc.committee.Names() {
		for _, e := range exclude {
			if name == e {
				continue outer
			}
		}
		res = append(res, name)
	}
	return res
}

// keySigner signs in the caller's goroutine.
type keySigner struct {
	key ed25519.PrivateKey
}

func (s keySigner) RequestSignature(ctx context.Context, digest Digest) ([]byte, error) {
	return sign.SignEd25519(s.key, digest[:]), nil
}

type fixedPayload struct{}

func (fixedPayload) NextPayload() Digest {
	return Digest{0xaa}
}

type sentMsg struct {
	to  string // empty for broadcasts
	msg interface{}
}

type recordingNetwork struct {
	mu   sync.Mutex
	sent []sentMsg
}

func (n *recordingNetwork) Send(to string, msg interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMsg{to: to, msg: msg})
}

func (n *recordingNetwork) Broadcast(msg interface{}) {
	n.Send("", msg)
}

func (n *recordingNetwork) messages() []sentMsg {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentMsg(nil), n.sent...)
}

func (n *recordingNetwork) votes() []*Vote {
	var res []*Vote
	for _, m := range n.messages() {
		if v, ok := m.msg.(*Vote); ok {
			res = append(res, v)
		}
	}
	return res
}

func (n *recordingNetwork) ancestorRequests() []*AncestorRequest {
	var res []*AncestorRequest
	for _, m := range n.messages() {
		if r, ok := m.msg.(*AncestorRequest); ok {
			res = append(res, r)
		}
	}
	return res
}

type recordingSyncer struct {
	requested []*Block
}

func (s *recordingSyncer) RequestParent(ctx context.Context, block *Block) error {
	s.requested = append(s.requested, block)
	return nil
}

func (s *recordingSyncer) Resolved(ctx context.Context, digest Digest) error {
	return nil
}

var errDiskFull = errors.New("disk full")

// failingStore rejects every write.
type failingStore struct{}

func (failingStore) Write(key, value []byte) error {
	return errDiskFull
}

func (failingStore) Read(key []byte) ([]byte, error) {
	return nil, store.ErrNotFound
}

func (failingStore) Has(key []byte) (bool, error) {
	return false, nil
}

func newMemStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func testParameters() *config.Parameters {
	params := config.DefaultParameters()
	params.TimeoutDelay = testBase
	params.MaxTimeoutDelay = 8 * testBase
	params.SyncRetryDelay = 20 * time.Millisecond
	params.SyncRetryLimit = 2
	return params
}

type coreOptions struct {
	store    Store
	network  Network
	syncer   Syncer
	loopback chan *Block
}

func (tc *testCluster) newCore(t *testing.T, name string, opts coreOptions) (*Core, chan *Block) {
	t.Helper()
	if opts.store == nil {
		opts.store = newMemStore(t)
	}
	if opts.network == nil {
		opts.network = &recordingNetwork{}
	}
	if opts.syncer == nil {
		opts.syncer = &recordingSyncer{}
	}
	if opts.loopback == nil {
		opts.loopback = make(chan *Block, 100)
	}
	commitCh := make(chan *Block, 1000)
	logger := hclog.New(&hclog.LoggerOptions{Name: "hotstuff-core", Level: hclog.Error}).With("node", name)
	c, err := NewCore(name, tc.committee, testParameters(), opts.store, keySigner{tc.keys[name]}, fixedPayload{},
		opts.network, opts.syncer, opts.loopback, commitCh, logger)
	require.NoError(t, err)
	t.Cleanup(c.pacemaker.Stop)
	return c, commitCh
}

func drainCommits(ch chan *Block) []*Block {
	var res []*Block
	for {
		select {
		case b := <-ch:
			res = append(res, b)
		default:
			return res
		}
	}
}

// envelope is a message in flight inside a simulated cluster.
type envelope struct {
	to  string
	msg interface{}
}

// fifoNetwork delivers every message through one global FIFO queue.
// Messages to names without a core are lost.
type fifoNetwork struct {
	queue *[]envelope
	from  string
	names []string
}

func (n *fifoNetwork) Send(to string, msg interface{}) {
	*n.queue = append(*n.queue, envelope{to: to, msg: msg})
}

func (n *fifoNetwork) Broadcast(msg interface{}) {
	for _, name := range n.names {
		if name != n.from {
			n.Send(name, msg)
		}
	}
}

type simCluster struct {
	*testCluster
	queue   []envelope
	cores   map[string]*Core
	commits map[string]chan *Block
}

// newSimCluster creates cores for every member except the crashed ones.
func newSimCluster(t *testing.T, tc *testCluster, crashed ...string) *simCluster {
	sim := &simCluster{
		testCluster: tc,
		cores:       make(map[string]*Core),
		commits:     make(map[string]chan *Block),
	}
	for _, name := range sim.others(crashed...) {
		net := &fifoNetwork{queue: &sim.queue, from: name, names: sim.committee.Names()}
		sim.cores[name], sim.commits[name] = sim.newCore(t, name, coreOptions{network: net})
	}
	return sim
}

// step delivers the oldest message. It returns false once the queue is empty.
func (sim *simCluster) step(t *testing.T, ctx context.Context) bool {
	if len(sim.queue) == 0 {
		return false
	}
	env := sim.queue[0]
	sim.queue = sim.queue[1:]
	c, ok := sim.cores[env.to]
	if !ok {
		return true
	}
	if _, ok := env.msg.(*AncestorRequest); ok {
		return true
	}
	require.NoError(t, c.checkError(c.dispatch(ctx, env.msg)))
	return true
}

// simSyncer asks every peer for a missing parent each time a block waits on
// it, and hands buffered children back once the parent is stored.
type simSyncer struct {
	name     string
	network  Network
	loopback chan<- *Block
	pending  map[Digest][]*Block // map from missing parent to waiting children
}

func (s *simSyncer) RequestParent(ctx context.Context, block *Block) error {
	s.pending[block.Parent()] = append(s.pending[block.Parent()], block)
	s.network.Broadcast(&AncestorRequest{Digest: block.Parent(), Requester: s.name})
	return nil
}

func (s *simSyncer) Resolved(ctx context.Context, digest Digest) error {
	for _, child := range s.pending[digest] {
		s.loopback <- child
	}
	delete(s.pending, digest)
	return nil
}

// randomCluster delivers messages in a seeded random order, drops some and
// fires round timeouts at random nodes.
type randomCluster struct {
	*simCluster
	rng       *rand.Rand
	names     []string
	helpers   map[string]*Helper
	loopbacks map[string]chan *Block
	committed map[string][]*Block
}

const (
	dropRate    = 0.1
	timeoutRate = 0.02
)

func newRandomCluster(t *testing.T, seed int64) *randomCluster {
	tc := newTestCluster(t, 4, 0)
	sim := &simCluster{
		testCluster: tc,
		cores:       make(map[string]*Core),
		commits:     make(map[string]chan *Block),
	}
	rc := &randomCluster{
		simCluster: sim,
		rng:        rand.New(rand.NewSource(seed)),
		names:      tc.committee.Names(),
		helpers:    make(map[string]*Helper),
		loopbacks:  make(map[string]chan *Block),
		committed:  make(map[string][]*Block),
	}
	for _, name := range rc.names {
		net := &fifoNetwork{queue: &sim.queue, from: name, names: rc.names}
		loopback := make(chan *Block, 10000)
		syncer := &simSyncer{name: name, network: net, loopback: loopback, pending: make(map[Digest][]*Block)}
		c, commits := tc.newCore(t, name, coreOptions{network: net, syncer: syncer, loopback: loopback})
		sim.cores[name], sim.commits[name] = c, commits
		rc.loopbacks[name] = loopback
		rc.helpers[name] = NewHelper(tc.committee, c.store, net, hclog.NewNullLogger())
	}
	return rc
}

func (rc *randomCluster) randomStep(t *testing.T, ctx context.Context) {
	if rc.rng.Float64() < timeoutRate {
		name := rc.names[rc.rng.Intn(len(rc.names))]
		c := rc.cores[name]
		require.NoError(t, c.checkError(c.localTimeout(ctx)))
		rc.settle(t, ctx, name)
		return
	}
	if len(rc.queue) == 0 {
		return
	}
	i := rc.rng.Intn(len(rc.queue))
	last := len(rc.queue) - 1
	env := rc.queue[i]
	rc.queue[i] = rc.queue[last]
	rc.queue = rc.queue[:last]
	if rc.rng.Float64() < dropRate {
		return
	}
	if req, ok := env.msg.(*AncestorRequest); ok {
		_ = rc.helpers[env.to].handleRequest(req)
		return
	}
	c := rc.cores[env.to]
	require.NoError(t, c.checkError(c.dispatch(ctx, env.msg)))
	rc.settle(t, ctx, env.to)
}

// settle processes the blocks released by the syncer and collects commits.
func (rc *randomCluster) settle(t *testing.T, ctx context.Context, name string) {
	c := rc.cores[name]
	for len(rc.loopbacks[name]) > 0 {
		require.NoError(t, c.checkError(c.processBlock(ctx, <-rc.loopbacks[name])))
	}
	rc.committed[name] = append(rc.committed[name], drainCommits(rc.commits[name])...)
}
