package session

import (
	"sync"
	"time"
)

// poller fires tick at a fixed interval until stopped. Every start or stop
// bumps the generation so timers armed earlier never fire or reschedule.
//
// Lock order: Session.mu before poller.mu. tick runs without poller.mu held.
type poller struct {
	mu       sync.Mutex
	timer    *time.Timer
	gen      uint64
	interval time.Duration
	snapshot Status
	active   bool

	tick func(snapshot Status)
}

func newPoller(tick func(snapshot Status)) *poller {
	return &poller{tick: tick}
}

// start (re)arms the poller. snapshot is the status the probes are checked
// against when they run.
func (p *poller) start(interval time.Duration, snapshot Status) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()
	p.interval = interval
	p.snapshot = snapshot
	p.active = true
	p.scheduleLocked(p.gen)
}

func (p *poller) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *poller) stopLocked() {
	p.gen++
	p.active = false
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *poller) scheduleLocked(gen uint64) {
	p.timer = time.AfterFunc(p.interval, func() { p.fire(gen) })
}

func (p *poller) fire(gen uint64) {
	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return
	}
	snapshot := p.snapshot
	p.mu.Unlock()

	p.tick(snapshot)

	p.mu.Lock()
	defer p.mu.Unlock()
	if gen == p.gen {
		p.scheduleLocked(gen)
	}
}

// state returns whether the poller is armed and at which interval.
func (p *poller) state() (bool, time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active, p.interval
}
