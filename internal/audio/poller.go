package audio

import (
	"sync"
	"time"
)

// PollInterval is the analyser observation period.
const PollInterval = 30 * time.Millisecond

// Poller runs registered callbacks on a shared ticker. The ticker only runs
// while at least one callback is registered.
type Poller struct {
	mu       sync.Mutex
	interval time.Duration
	subs     map[string]func(time.Time)
	stop     chan struct{}
}

func NewPoller(interval time.Duration) *Poller {
	if interval <= 0 {
		interval = PollInterval
	}
	return &Poller{interval: interval, subs: make(map[string]func(time.Time))}
}

// Subscribe registers fn under key, replacing any callback already there.
func (p *Poller) Subscribe(key string, fn func(now time.Time)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs[key] = fn
	if p.stop == nil {
		p.stop = make(chan struct{})
		go p.loop(p.stop)
	}
}

func (p *Poller) Unsubscribe(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.subs, key)
	if len(p.subs) == 0 && p.stop != nil {
		close(p.stop)
		p.stop = nil
	}
}

// Running reports whether the ticker is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stop != nil
}

func (p *Poller) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

func (p *Poller) loop(stop <-chan struct{}) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var fns []func(time.Time)
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			p.mu.Lock()
			fns = fns[:0]
			for _, fn := range p.subs {
				fns = append(fns, fn)
			}
			p.mu.Unlock()

			// Callbacks may unsubscribe, so they run without the lock.
			for _, fn := range fns {
				fn(now)
			}
		}
	}
}
