package fdaccess

import "sync"

// Guard runs a release function exactly once, no matter how many times or
// from how many goroutines Close is called. Later calls return nil.
type Guard struct {
	mutex  sync.Mutex
	closed bool

	// Release will be called the first time Close is called. It is allowed to call Close itself
	Release func() error
}

// Close runs Release the first time it is called
func (g *Guard) Close() error {
	g.mutex.Lock()
	closed := g.closed
	g.closed = true
	g.mutex.Unlock()

	if closed || g.Release == nil {
		return nil
	}

	return g.Release()
}

// Closed reports whether Close has been called
func (g *Guard) Closed() bool {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	return g.closed
}
