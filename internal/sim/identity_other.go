//go:build !linux

package sim

import "sync"

// identities runs processors one after another where thread identity is
// unavailable. The application processors run first, as on linux.
type identities struct {
	mu  sync.Mutex
	cur int
}

func (ids *identities) current() int {
	ids.mu.Lock()
	defer ids.mu.Unlock()
	return ids.cur
}

func (ids *identities) set(i int) {
	ids.mu.Lock()
	ids.cur = i
	ids.mu.Unlock()
}

func (ids *identities) run(n int, _ *sync.WaitGroup, fn func()) {
	for i := 1; i < n; i++ {
		ids.set(i)
		fn()
	}
	ids.set(0)
	fn()
}
