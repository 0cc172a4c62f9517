// Package limiter implements admission control for incoming connections.
package limiter

import "sync"

// Limiter bounds the number of concurrent connections overall and per client
// address.
type Limiter struct {
	maxTotal   int
	maxPerAddr int

	mu      sync.Mutex
	total   int
	perAddr map[string]int
}

// Snapshot is a point-in-time copy of the limiter counters.
type Snapshot struct {
	Total   int
	PerAddr map[string]int
}

// New returns a Limiter admitting at most maxTotal connections overall and
// maxPerAddr connections from any single address.
func New(maxTotal, maxPerAddr int) *Limiter {
	return &Limiter{
		maxTotal:   maxTotal,
		maxPerAddr: maxPerAddr,
		perAddr:    make(map[string]int),
	}
}

// TryAcquire reserves one slot for addr. It returns false, leaving the
// counters untouched, when either bound is already reached.
func (l *Limiter) TryAcquire(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.total >= l.maxTotal {
		return false
	}
	if l.perAddr[addr] >= l.maxPerAddr {
		return false
	}
	l.total++
	l.perAddr[addr]++
	return true
}

// Release returns one slot for addr. A release for an address holding no
// slot is ignored. The address entry is dropped once it reaches zero.
func (l *Limiter) Release(addr string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	count, ok := l.perAddr[addr]
	if !ok {
		return
	}
	if l.total > 0 {
		l.total--
	}
	if count <= 1 {
		delete(l.perAddr, addr)
		return
	}
	l.perAddr[addr] = count - 1
}

// Guard owns one acquired slot. Release may be called any number of times;
// only the first call returns the slot.
type Guard struct {
	once    sync.Once
	release func()
}

// Release returns the slot held by the guard.
func (g *Guard) Release() {
	if g == nil {
		return
	}
	g.once.Do(func() {
		if g.release != nil {
			g.release()
		}
	})
}

// Acquire reserves a slot for addr and wraps it in a Guard.
func (l *Limiter) Acquire(addr string) (*Guard, bool) {
	if !l.TryAcquire(addr) {
		return nil, false
	}
	return &Guard{release: func() { l.Release(addr) }}, true
}

// Run executes fn while holding a slot for addr. The slot is released when fn
// returns or panics. It reports false, without calling fn, when admission is
// refused.
func (l *Limiter) Run(addr string, fn func()) bool {
	guard, ok := l.Acquire(addr)
	if !ok {
		return false
	}
	defer guard.Release()
	fn()
	return true
}

// Snapshot returns a copy of the current counters.
func (l *Limiter) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	per := make(map[string]int, len(l.perAddr))
	for addr, count := range l.perAddr {
		per[addr] = count
	}
	return Snapshot{Total: l.total, PerAddr: per}
}
