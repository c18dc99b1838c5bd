//go:build linux

package sim

import (
	"runtime"
	"sync"

	"golang.org/x/sys/unix"
)

// identities maps locked OS threads to processor indices. Each processor runs
// on its own thread so that the identity is a property of the executing
// thread, as it is on hardware.
type identities struct {
	mu    sync.Mutex
	byTID map[int]int
}

func (ids *identities) current() int {
	tid := unix.Gettid()
	ids.mu.Lock()
	defer ids.mu.Unlock()
	return ids.byTID[tid]
}

func (ids *identities) enter(i int) {
	runtime.LockOSThread()
	ids.mu.Lock()
	defer ids.mu.Unlock()
	if ids.byTID == nil {
		ids.byTID = make(map[int]int)
	}
	ids.byTID[unix.Gettid()] = i
}

func (ids *identities) leave() {
	ids.mu.Lock()
	delete(ids.byTID, unix.Gettid())
	ids.mu.Unlock()
	runtime.UnlockOSThread()
}

func (ids *identities) run(n int, wg *sync.WaitGroup, fn func()) {
	for i := 1; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids.enter(i)
			defer ids.leave()
			fn()
		}()
	}
	ids.enter(0)
	defer ids.leave()
	fn()
}
