// Package server exposes gantry instruments over HTTP.
//
// Every call is POST /api/call/{instance}/{method} with the positional
// arguments in a JSON body. Telemetry methods may be called by any client,
// operations only by the client holding the operator claim. Hardware calls
// are serialized by a single mutex, so instruments never see concurrent use.
//
// Each response carries the log records emitted since the previous
// response, followed by either the return value or an exception message.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/yimuchen/GantryMQ/gantry"
	"github.com/yimuchen/GantryMQ/hwerr"
	"github.com/yimuchen/GantryMQ/logging"
	"github.com/yimuchen/GantryMQ/state"
)

// ClientIDHeader identifies the calling client for the operator claim
const ClientIDHeader = "X-Client-ID"

var (
	ErrNotOperator     = errors.New("Client does not hold the operator claim")
	ErrUnknownInstance = errors.New("Unknown instance")
	ErrUnknownMethod   = errors.New("Unknown method")
	ErrDuplicate       = errors.New("Instance already registered")
)

// Response is the body of every API reply
type Response struct {
	Messages  []logging.Record `json:"messages"`
	Return    json.RawMessage  `json:"return,omitempty"`
	Exception string           `json:"exception,omitempty"`
}

// CallRequest is the body of a method call
type CallRequest struct {
	Args []json.RawMessage `json:"args"`
}

// InstanceInfo describes one registered instrument
type InstanceInfo struct {
	Name        string   `json:"name"`
	Initialized bool     `json:"initialized"`
	Dummy       bool     `json:"dummy"`
	Telemetry   []string `json:"telemetry"`
	Operations  []string `json:"operations"`
}

// Options for New
type Options struct {
	// Ring is drained into every response, may be nil
	Ring *logging.Ring
	// Store records successful operations, may be nil
	Store *state.Store
	Log   logging.Emitter

	// RecoveryLog receives recovered panics, may be nil
	RecoveryLog handlers.RecoveryHandlerLogger
}

type Server struct {
	Router *mux.Router

	opts Options
	log  logging.Source

	/* Guards the instruments and the operator claim */
	mu        sync.Mutex
	instances map[string]gantry.Instance
	order     []string
	operator  string
}

// New creates a server with no instruments
func New(opts Options) *Server {
	s := &Server{
		opts:      opts,
		log:       logging.NewSource(opts.Log, "Server"),
		instances: map[string]gantry.Instance{},
	}
	s.configureRouter()
	return s
}

// Register adds an instrument. Instruments are closed in reverse order of
// registration.
func (s *Server) Register(inst gantry.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.instances[inst.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, inst.Name())
	}
	s.instances[inst.Name()] = inst
	s.order = append(s.order, inst.Name())

	telemetry, operations := gantry.MethodNames(inst)
	s.log.Infof("Registered [%s] with %d telemetry and %d operation methods", inst.Name(), len(telemetry), len(operations))
	return nil
}

// Close closes every instrument, last registered first
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var first error
	for i := len(s.order) - 1; i >= 0; i-- {
		name := s.order[i]
		s.log.Debugf("Closing [%s]", name)
		if err := s.instances[name].Close(); err != nil {
			s.log.Warnf("Closing [%s]: %v", name, err)
			if first == nil {
				first = err
			}
		}
	}
	s.order = nil
	s.instances = map[string]gantry.Instance{}
	return first
}

func (s *Server) configureRouter() {
	s.Router = mux.NewRouter()
	s.Router.Use(requestLog(s.log))

	subRouter := s.Router.PathPrefix("/api").Subrouter()
	subRouter.HandleFunc("/instances", s.handleInstances()).Methods("GET")
	subRouter.HandleFunc("/call/{instance}/{method}", s.handleCall()).Methods("POST")
	subRouter.HandleFunc("/operator", s.handleIsOperator()).Methods("GET")
	subRouter.HandleFunc("/operator/claim", s.handleClaim()).Methods("POST")
	subRouter.HandleFunc("/operator/release", s.handleRelease()).Methods("POST")
	subRouter.HandleFunc("/state/{instance}", s.handleState()).Methods("GET")
}

// Handler returns the router wrapped with panic recovery. Requests are
// logged by the router's own middleware.
func (s *Server) Handler() http.Handler {
	recovery := []handlers.RecoveryOption{handlers.PrintRecoveryStack(true)}
	if s.opts.RecoveryLog != nil {
		recovery = append(recovery, handlers.RecoveryLogger(s.opts.RecoveryLog))
	}
	return handlers.RecoveryHandler(recovery...)(s.Router)
}

func clientID(r *http.Request) string {
	if id := r.Header.Get(ClientIDHeader); id != "" {
		return id
	}
	return r.RemoteAddr
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, ErrNotOperator):
		return http.StatusForbidden
	case errors.Is(err, ErrUnknownInstance), errors.Is(err, ErrUnknownMethod):
		return http.StatusNotFound
	}
	return hwerr.HTTPStatus(err)
}

func (s *Server) reply(w http.ResponseWriter, ret interface{}, err error) {
	resp := Response{Messages: []logging.Record{}}
	if s.opts.Ring != nil {
		resp.Messages = s.opts.Ring.Drain()
	}

	if err == nil {
		resp.Return, err = json.Marshal(ret)
	}
	if err != nil {
		resp.Return = nil
		resp.Exception = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusOf(err))
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleInstances() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		infos := make([]InstanceInfo, 0, len(s.order))
		for _, name := range s.order {
			inst := s.instances[name]
			telemetry, operations := gantry.MethodNames(inst)
			infos = append(infos, InstanceInfo{
				Name:        name,
				Initialized: inst.IsInitialized(),
				Dummy:       inst.IsDummy(),
				Telemetry:   telemetry,
				Operations:  operations,
			})
		}
		s.mu.Unlock()

		s.reply(w, infos, nil)
	}
}

func (s *Server) handleCall() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		name, method := vars["instance"], vars["method"]

		var req CallRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
				s.reply(w, nil, hwerr.Wrap(hwerr.ErrInvalidArgument, name, "", err, "Malformed request body"))
				return
			}
		}
		client := clientID(r)

		s.mu.Lock()
		defer s.mu.Unlock()

		inst, ok := s.instances[name]
		if !ok {
			s.reply(w, nil, fmt.Errorf("%w: %s", ErrUnknownInstance, name))
			return
		}

		f, isOperation := inst.Operations()[method]
		if isOperation {
			if client != s.operator {
				s.log.Warnf("Client [%s] called operation [%s.%s] without the operator claim", client, name, method)
				s.reply(w, nil, ErrNotOperator)
				return
			}
		} else if f, ok = inst.Telemetry()[method]; !ok {
			s.reply(w, nil, fmt.Errorf("%w: %s.%s", ErrUnknownMethod, name, method))
			return
		}

		ret, err := f(r.Context(), req.Args)
		if err != nil {
			s.log.Errorf("{%s} %s.%s failed: %v", RequestID(r), name, method, err)
		} else if isOperation {
			s.record(name, method, client, req.Args)
		}
		s.reply(w, ret, err)
	}
}

func (s *Server) record(instance, method, client string, args []json.RawMessage) {
	if s.opts.Store == nil {
		return
	}

	raw, err := json.Marshal(args)
	if err == nil {
		err = s.opts.Store.Put(state.Record{
			Instance: instance,
			Method:   method,
			Args:     raw,
			Client:   client,
		})
	}
	if err != nil {
		s.log.Warnf("Failed to record %s.%s: %v", instance, method, err)
	}
}

func (s *Server) handleIsOperator() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		is := s.operator != "" && s.operator == clientID(r)
		s.mu.Unlock()

		s.reply(w, is, nil)
	}
}

func (s *Server) handleClaim() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client := clientID(r)

		s.mu.Lock()
		if s.operator != "" && s.operator != client {
			s.log.Warnf("Operator claim taken from [%s] by [%s]", s.operator, client)
		} else {
			s.log.Infof("Operator claim held by [%s]", client)
		}
		s.operator = client
		s.mu.Unlock()

		s.reply(w, true, nil)
	}
}

func (s *Server) handleRelease() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client := clientID(r)

		s.mu.Lock()
		var err error
		if s.operator != client {
			err = ErrNotOperator
		} else {
			s.operator = ""
			s.log.Infof("Operator claim released by [%s]", client)
		}
		s.mu.Unlock()

		s.reply(w, nil, err)
	}
}

func (s *Server) handleState() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["instance"]
		if s.opts.Store == nil {
			s.reply(w, nil, hwerr.NotReady("state", "No state database configured"))
			return
		}

		records, err := s.opts.Store.Get(name)
		if records == nil {
			records = []state.Record{}
		}
		s.reply(w, records, err)
	}
}

// Instances returns the registered instrument names, sorted
func (s *Server) Instances() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := append([]string(nil), s.order...)
	sort.Strings(names)
	return names
}
