package runner

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/yimuchen/GantryMQ/logging"
)

// HTTPServer serves Server.Handler on Server.Addr. Request contexts derive
// from Context and are cancelled when Close starts, so handlers blocked on
// hardware waits return before the shutdown waits for them.
type HTTPServer struct {
	Server *http.Server
	Log    logging.Emitter

	// Context is the parent of every request context, may be nil
	Context context.Context
	// ShutdownTimeout bounds the wait for open requests on Close
	ShutdownTimeout time.Duration

	mu     sync.Mutex
	addr   net.Addr
	cancel context.CancelFunc
}

func (s *HTTPServer) Run(ready func()) error {
	log := logging.NewSource(s.Log, "HTTP")

	parent := s.Context
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	s.Server.BaseContext = func(net.Listener) context.Context { return ctx }

	ln, err := net.Listen("tcp", s.Server.Addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.addr = ln.Addr()
	s.cancel = cancel
	s.mu.Unlock()

	log.Infof("Listening on %s", ln.Addr())
	ready()

	err = s.Server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Addr returns the listening address, nil before Run is serving
func (s *HTTPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *HTTPServer) Close() error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	timeout := s.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	ctx, cancelShutdown := context.WithTimeout(context.Background(), timeout)
	defer cancelShutdown()
	return s.Server.Shutdown(ctx)
}
