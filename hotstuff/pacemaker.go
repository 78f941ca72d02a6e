package hotstuff

import "time"

// Pacemaker owns the round timer. The delay starts at the base value, doubles
// (up to a cap) each time the timer expires without progress, and returns to
// the base value when a round ends with a QC.
// Pacemaker is owned by the core goroutine and is not safe for concurrent use.
type Pacemaker struct {
	base  time.Duration
	max   time.Duration
	delay time.Duration
	timer *time.Timer
}

// NewPacemaker creates a stopped pacemaker.
func NewPacemaker(base, max time.Duration) *Pacemaker {
	timer := time.NewTimer(base)
	if !timer.Stop() {
		<-timer.C
	}
	return &Pacemaker{
		base:  base,
		max:   max,
		delay: base,
		timer: timer,
	}
}

// Chan fires when the current round times out.
func (p *Pacemaker) Chan() <-chan time.Time {
	return p.timer.C
}

// Delay returns the timeout of the current round.
func (p *Pacemaker) Delay() time.Duration {
	return p.delay
}

// Reset re-arms the timer for a new round. A round reached through a QC is
// progress and brings the delay back to the base value.
func (p *Pacemaker) Reset(progress bool) {
	if progress {
		p.delay = p.base
	}
	p.rearm()
}

// Expired doubles the delay, capped, and re-arms the timer. Call it after
// handling a timer firing.
func (p *Pacemaker) Expired() {
	p.delay *= 2
	if p.delay > p.max || p.delay <= 0 {
		p.delay = p.max
	}
	p.rearm()
}

// Stop disarms the timer.
func (p *Pacemaker) Stop() {
	if !p.timer.Stop() {
		select {
		case <-p.timer.C:
		default:
		}
	}
}

func (p *Pacemaker) rearm() {
	p.Stop()
	p.timer.Reset(p.delay)
}
