package dispatcher

import "sync"

// pendingConfigs is the append-only, swap-on-read list of reconfigurations
// awaiting the worker. Waiters block on a condition variable until the
// worker's next batch no longer contains their Config.
type pendingConfigs struct {
	mu   sync.Mutex
	cond *sync.Cond
	list []*Config
}

func newPendingConfigs() *pendingConfigs {
	p := &pendingConfigs{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// append adds c to the pending list.
func (p *pendingConfigs) append(c *Config) {
	p.mu.Lock()
	p.list = append(p.list, c)
	p.mu.Unlock()
}

// drainAll atomically clears and returns the full pending list, in
// submission order.
func (p *pendingConfigs) drainAll() []*Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.list) == 0 {
		return nil
	}
	out := p.list
	p.list = nil
	return out
}

// waitConsumed blocks until c is no longer present in the pending list —
// i.e. until some worker batch has drained it, whether or not c ended up
// authoritative in that batch.
func (p *pendingConfigs) waitConsumed(c *Config) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for containsConfig(p.list, c) {
		p.cond.Wait()
	}
}

// signalConsumed wakes every waiter after a batch has been drained.
func (p *pendingConfigs) signalConsumed() {
	p.mu.Lock()
	p.cond.Broadcast()
	p.mu.Unlock()
}

func containsConfig(list []*Config, c *Config) bool {
	for _, item := range list {
		if item == c {
			return true
		}
	}
	return false
}
