package runner

import (
	"sync"
)

// closeFlag closes a channel exactly once, however often close is called
type closeFlag struct {
	mutex     sync.Mutex
	closed    bool
	closeChan chan (struct{})
}

// Chan returns a channel that is closed once close has been called
func (c *closeFlag) Chan() <-chan (struct{}) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closeChan == nil {
		c.closeChan = make(chan (struct{}))
		if c.closed {
			close(c.closeChan)
		}
	}
	return c.closeChan
}

// Close returns false if the flag was already closed
func (c *closeFlag) Close() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return false
	}
	c.closed = true
	if c.closeChan != nil {
		close(c.closeChan)
	}
	return true
}

func (c *closeFlag) IsClosed() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.closed
}
