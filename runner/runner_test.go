package runner

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"
)

type blockingRunnable struct {
	name  string
	order *[]string
	mu    *sync.Mutex

	c      chan struct{}
	closed sync.Once
}

func newBlocking(name string, order *[]string, mu *sync.Mutex) *blockingRunnable {
	return &blockingRunnable{name: name, order: order, mu: mu, c: make(chan struct{})}
}

func (b *blockingRunnable) log(event string) {
	b.mu.Lock()
	*b.order = append(*b.order, event+" "+b.name)
	b.mu.Unlock()
}

func (b *blockingRunnable) Run(ready func()) error {
	b.log("run")
	ready()
	<-b.c
	return nil
}

func (b *blockingRunnable) Close() error {
	b.closed.Do(func() {
		b.log("close")
		close(b.c)
	})
	return nil
}

func TestOrder(t *testing.T) {
	var order []string
	var mu sync.Mutex
	g := &Group{}

	g.Register("a", newBlocking("a", &order, &mu))
	g.Register("b", newBlocking("b", &order, &mu))

	readyCalled := make(chan struct{})
	result := make(chan error)
	go func() { result <- g.Run(func() { close(readyCalled) }) }()

	select {
	case <-readyCalled:
	case <-time.After(time.Second):
		t.Fatal("Ready not called")
	}

	g.Close()
	if err := <-result; err != ErrClosed {
		t.Error("Run returned", err)
	}

	want := []string{"run a", "run b", "close b", "close a"}
	if len(order) != len(want) {
		t.Fatal("Wrong sequence", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatal("Wrong sequence", order)
		}
	}

	if g.Run(nil) != ErrClosed {
		t.Error("Closed group ran again")
	}
}

func TestFailureClosesAll(t *testing.T) {
	var order []string
	var mu sync.Mutex
	g := &Group{}

	setupErr := errors.New("no hardware")
	closedSetup := false

	g.RegisterFunc("setup", func() error { return nil }, func() error { closedSetup = true; return nil })
	g.Register("server", newBlocking("server", &order, &mu))
	g.RegisterFunc("broken", func() error { return setupErr }, nil)
	g.Register("never", newBlocking("never", &order, &mu))

	err := g.Run(nil)
	if !errors.Is(err, setupErr) {
		t.Error("Run returned", err)
	}
	if !closedSetup {
		t.Error("Successful setup not undone")
	}
	for _, e := range order {
		if e == "run never" {
			t.Error("Item after failure was started")
		}
	}
}

func TestFuncCloseOnlyAfterRun(t *testing.T) {
	called := false
	f := &funcRunnable{run: func() error { return nil }, close: func() error { called = true; return nil }}

	f.Close()
	if called {
		t.Error("Close called before run")
	}

	f.Run(func() {})
	f.Close()
	f.Close()
	if !called {
		t.Error("Close not called after run")
	}
}

func TestHTTPServer(t *testing.T) {
	s := &HTTPServer{Server: &http.Server{
		Addr:    "127.0.0.1:0",
		Handler: http.NotFoundHandler(),
	}}

	ready := make(chan struct{})
	result := make(chan error)
	go func() { result <- s.Run(func() { close(ready) }) }()

	<-ready
	if err := s.Close(); err != nil {
		t.Error(err)
	}
	if err := <-result; err != nil {
		t.Error("Run after shutdown returned", err)
	}
}

func TestHTTPServerCancelsRequests(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.Background())
	defer cancelParent()

	started := make(chan struct{})
	handlerErr := make(chan error, 1)
	s := &HTTPServer{
		Context: parent,
		Server: &http.Server{
			Addr: "127.0.0.1:0",
			Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				close(started)
				<-r.Context().Done()
				handlerErr <- r.Context().Err()
			}),
		},
		ShutdownTimeout: 10 * time.Second,
	}

	ready := make(chan struct{})
	result := make(chan error, 1)
	go func() { result <- s.Run(func() { close(ready) }) }()
	<-ready

	go http.Get("http://" + s.Addr().String() + "/")
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("Request not started")
	}

	begin := time.Now()
	if err := s.Close(); err != nil {
		t.Error("Close returned", err)
	}
	if d := time.Since(begin); d > 2*time.Second {
		t.Error("Close waited for the blocked request", d)
	}

	select {
	case err := <-handlerErr:
		if !errors.Is(err, context.Canceled) {
			t.Error("Request context ended with", err)
		}
	case <-time.After(time.Second):
		t.Error("Request context not cancelled")
	}
	if err := <-result; err != nil {
		t.Error("Run after shutdown returned", err)
	}
}

func TestCloseFlag(t *testing.T) {
	var c closeFlag
	ch := c.Chan()

	if !c.Close() || c.Close() {
		t.Error("Close should succeed exactly once")
	}
	select {
	case <-ch:
	default:
		t.Error("Channel not closed")
	}

	var late closeFlag
	late.Close()
	select {
	case <-late.Chan():
	default:
		t.Error("Channel created after close is open")
	}
}
