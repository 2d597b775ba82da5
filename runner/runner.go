// Package runner starts the parts of the daemon in order and stops them in
// reverse order, on error or on SIGINT/SIGTERM.
package runner

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/yimuchen/GantryMQ/logging"
)

var (
	ErrClosed = errors.New("The runner was closed")
)

// Runnable has a blocking Run that calls ready once it is serving, and a
// Close that makes Run return.
type Runnable interface {
	Run(ready func()) error
	Close() error
}

type item struct {
	name string
	r    Runnable

	started bool
	done    chan struct{}
}

// Group runs Runnables. Each one is started after the previous one called
// ready. If any of them fails, all are closed.
type Group struct {
	mu       sync.Mutex
	items    []*item
	closed   closeFlag
	/* Closed once Close has closed every item */
	finished closeFlag

	Log logging.Emitter
}

// Register adds r, it is started after everything registered before it
func (g *Group) Register(name string, r Runnable) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.items = append(g.items, &item{name: name, r: r})
}

type funcRunnable struct {
	sync.Mutex

	run     func() error
	close   func() error
	doClose bool
}

func (f *funcRunnable) Run(ready func()) error {
	if err := f.run(); err != nil {
		return err
	}

	f.Lock()
	f.doClose = f.close != nil
	f.Unlock()

	ready()
	return nil
}

func (f *funcRunnable) Close() error {
	f.Lock()
	doClose := f.doClose
	f.doClose = false
	f.Unlock()

	if doClose {
		return f.close()
	}
	return nil
}

// RegisterFunc adds a setup step. run is called once; closeFn is called on
// shutdown only if run succeeded.
func (g *Group) RegisterFunc(name string, run func() error, closeFn func() error) {
	g.Register(name, &funcRunnable{run: run, close: closeFn})
}

func (g *Group) log() logging.Source {
	return logging.NewSource(g.Log, "Runner")
}

// Run starts all items and waits for them to return. ready is called once
// every item is serving.
func (g *Group) Run(ready func()) error {
	if g.closed.IsClosed() {
		return ErrClosed
	}

	readyChan := make(chan (struct{}), 1)
	readyFunc := func() {
		select {
		case readyChan <- struct{}{}:
		default:
		}
	}

	var wg sync.WaitGroup
	var resultMutex sync.Mutex
	var result error

	g.mu.Lock()
	items := append([]*item(nil), g.items...)
	g.mu.Unlock()

loop:
	for _, it := range items {
		g.mu.Lock()
		if g.closed.IsClosed() {
			g.mu.Unlock()
			break
		}
		it.started = true
		it.done = make(chan struct{})
		g.mu.Unlock()

		wg.Add(1)
		go func(it *item) {
			defer wg.Done()
			defer close(it.done)

			err := it.r.Run(readyFunc)
			if err != nil {
				g.log().Errorf("[%s] failed: %v", it.name, err)

				resultMutex.Lock()
				if result == nil {
					result = fmt.Errorf("%s: %w", it.name, err)
				}
				resultMutex.Unlock()

				go g.Close()
			}
		}(it)

		select {
		case <-g.closed.Chan():
			break loop
		case <-readyChan:
			g.log().Debugf("[%s] ready", it.name)
		}
	}

	if !g.closed.IsClosed() && ready != nil {
		ready()
	}

	wg.Wait()
	if g.closed.IsClosed() {
		<-g.finished.Chan()
	}

	resultMutex.Lock()
	defer resultMutex.Unlock()
	if result == nil && g.closed.IsClosed() {
		result = ErrClosed
	}
	return result
}

// Close closes all items in reverse order, waiting for each started item to
// return from Run before closing the next.
func (g *Group) Close() error {
	if !g.closed.Close() {
		return nil
	}

	g.mu.Lock()
	items := append([]*item(nil), g.items...)
	g.mu.Unlock()

	var err error
	for i := len(items) - 1; i >= 0; i-- {
		it := items[i]
		g.log().Debugf("Closing [%s]", it.name)

		if err2 := it.r.Close(); err2 != nil && err == nil {
			err = err2
		}

		g.mu.Lock()
		started, done := it.started, it.done
		g.mu.Unlock()
		if started {
			<-done
		}
	}

	g.finished.Close()
	return err
}

// HandleSignals closes the group on SIGINT or SIGTERM. A second signal, or
// a shutdown taking longer than timeout, exits the process.
func (g *Group) HandleSignals(timeout time.Duration) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-c
		g.log().Infof("Received %v, shutting down", sig)

		go func() {
			select {
			case <-c:
				fmt.Fprintln(os.Stderr, "Signalled a second time, quitting right away.")
			case <-time.After(timeout):
				fmt.Fprintln(os.Stderr, "Timeout during shutdown, quitting with dirty state.")
			}
			os.Exit(1)
		}()
		g.Close()
	}()
}
