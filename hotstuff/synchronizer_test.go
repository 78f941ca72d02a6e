package hotstuff

import (
	"context"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynchronizerRetriesThenGivesUp(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cluster := newTestCluster(t, 4, 0)
	b1 := cluster.block(1, 1, GenesisQC(), nil)
	b2 := cluster.block(2, 2, cluster.qc(b1, cluster.others()[:3]...), nil)
	name := cluster.others(b2.Author)[0]

	net := &recordingNetwork{}
	loopback := make(chan *Block, 10)
	syncer := NewSynchronizer(name, newMemStore(t), net, 20*time.Millisecond, 2, loopback, hclog.NewNullLogger())
	go syncer.Run(ctx)

	require.NoError(t, syncer.RequestParent(ctx, b2))
	require.Eventually(t, func() bool { return len(net.ancestorRequests()) == 3 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Len(t, net.ancestorRequests(), 3)

	msgs := net.messages()
	assert.Equal(t, b2.Author, msgs[0].to)
	assert.Equal(t, "", msgs[1].to)

	// the buffered block was dropped with the request
	require.NoError(t, syncer.Resolved(ctx, b1.Digest()))
	select {
	case <-loopback:
		t.Fatal("abandoned block delivered")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSynchronizerDeliversStoredParent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cluster := newTestCluster(t, 4, 0)
	b1 := cluster.block(1, 1, GenesisQC(), nil)
	b2 := cluster.block(2, 2, cluster.qc(b1, cluster.others()[:3]...), nil)

	st := newMemStore(t)
	require.NoError(t, storeBlock(st, b1))
	net := &recordingNetwork{}
	loopback := make(chan *Block, 10)
	syncer := NewSynchronizer("node0", st, net, time.Minute, 2, loopback, hclog.NewNullLogger())
	go syncer.Run(ctx)

	require.NoError(t, syncer.RequestParent(ctx, b2))
	select {
	case b := <-loopback:
		assert.Equal(t, b2.Digest(), b.Digest())
	case <-time.After(time.Second):
		t.Fatal("block not delivered")
	}
	assert.Empty(t, net.ancestorRequests())
}

func TestSynchronizerBuffersSiblings(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cluster := newTestCluster(t, 4, 0)
	b1 := cluster.block(1, 1, GenesisQC(), nil)
	qc1 := cluster.qc(b1, cluster.others()[:3]...)
	b2 := cluster.block(2, 2, qc1, nil)
	b2b := cluster.block(2, 3, qc1, nil)

	st := newMemStore(t)
	net := &recordingNetwork{}
	loopback := make(chan *Block, 10)
	syncer := NewSynchronizer("node0", st, net, time.Minute, 2, loopback, hclog.NewNullLogger())
	go syncer.Run(ctx)

	require.NoError(t, syncer.RequestParent(ctx, b2))
	require.NoError(t, syncer.RequestParent(ctx, b2b))
	require.NoError(t, syncer.RequestParent(ctx, b2))
	require.Eventually(t, func() bool { return len(net.ancestorRequests()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	select {
	case <-loopback:
		t.Fatal("block delivered before its parent")
	default:
	}

	require.NoError(t, storeBlock(st, b1))
	require.NoError(t, syncer.Resolved(ctx, b1.Digest()))

	got := make(map[Digest]bool)
	for i := 0; i < 2; i++ {
		select {
		case b := <-loopback:
			got[b.Digest()] = true
		case <-time.After(time.Second):
			t.Fatal("block not delivered")
		}
	}
	assert.True(t, got[b2.Digest()])
	assert.True(t, got[b2b.Digest()])
	assert.Len(t, net.ancestorRequests(), 1)
	select {
	case <-loopback:
		t.Fatal("block delivered twice")
	case <-time.After(50 * time.Millisecond):
	}
}
