package hotstuff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPacemakerEscalation(t *testing.T) {
	base := 10 * time.Millisecond
	p := NewPacemaker(base, 100*time.Millisecond)
	defer p.Stop()

	want := []time.Duration{20, 40, 80, 100, 100}
	for _, w := range want {
		p.Expired()
		assert.Equal(t, w*time.Millisecond, p.Delay())
	}

	p.Reset(false)
	assert.Equal(t, 100*time.Millisecond, p.Delay())
	p.Reset(true)
	assert.Equal(t, base, p.Delay())
}

func TestPacemakerFires(t *testing.T) {
	p := NewPacemaker(10*time.Millisecond, time.Second)
	defer p.Stop()

	select {
	case <-p.Chan():
		t.Fatal("stopped pacemaker fired")
	case <-time.After(30 * time.Millisecond):
	}

	p.Reset(true)
	select {
	case <-p.Chan():
	case <-time.After(time.Second):
		t.Fatal("pacemaker did not fire")
	}

	// Stop disarms a running timer
	p.Reset(true)
	p.Stop()
	select {
	case <-p.Chan():
		t.Fatal("stopped pacemaker fired")
	case <-time.After(30 * time.Millisecond):
	}
}
