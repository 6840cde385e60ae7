package dispatch

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/sirupsen/logrus"
)

// handlerPoolSize bounds the number of client connections the router
// serves concurrently, mirroring original_source/src/bin/e_router.rs's
// fixed-size thread pool.
const handlerPoolSize = 5

// Selector is the pair of critical sections every RR realization must
// provide: select_destination and update_weight (spec.md §4.1 steps
// 2 and 7). Both *Router (plain-set RR, and LI/RP/AC) and
// *RoundRobinHeap (the v3 heap-backed RR realization) satisfy it, so
// Server can drive either without knowing which one it holds.
type Selector interface {
	Select() (port uint16, ok bool)
	Update(port uint16, latency time.Duration)
}

// RouteRecorder observes every task the pipeline successfully routes
// end to end (step 7 of spec.md §4.1, after Update). It lets an
// external metrics consumer (pkg/admin) watch the live request path
// without pkg/dispatch importing it back. NewServer installs a no-op
// recorder; callers that enable the admin surface call SetRecorder.
type RouteRecorder interface {
	RecordRouted(port uint16)
}

type noopRecorder struct{}

func (noopRecorder) RecordRouted(uint16) {}

// Server accepts client connections on a listener and dispatches each
// one through a Selector, following the request pipeline in spec.md
// §4.1. It plays the role PauloMaced0-Load-Balancer's load_balancer
// binary gives handleClient, but forwards a single JSON object per
// connection instead of proxying an arbitrary byte stream.
type Server struct {
	router   Selector
	pool     pond.Pool
	log      *logrus.Entry
	dial     func(port uint16) (net.Conn, error)
	recorder RouteRecorder
}

// NewServer builds a request server bounded by the fixed handler pool
// size spec.md's concurrency model calls for.
func NewServer(router Selector, log *logrus.Entry) *Server {
	return &Server{
		router:   router,
		pool:     pond.NewPool(handlerPoolSize),
		log:      log,
		recorder: noopRecorder{},
		dial: func(port uint16) (net.Conn, error) {
			return net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 5*time.Second)
		},
	}
}

// SetRecorder installs rec to observe every task the pipeline
// successfully routes from then on.
func (s *Server) SetRecorder(rec RouteRecorder) {
	s.recorder = rec
}

// Serve runs the accept loop until the listener is closed, submitting
// each accepted connection to the bounded pool.
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.pool.Submit(func() {
			s.handleClient(conn)
		})
	}
}

// handleClient runs the eight-step pipeline from spec.md §4.1 for a
// single client connection, always closing conn on return.
func (s *Server) handleClient(conn net.Conn) {
	defer conn.Close()

	raw, err := ReadMessage(conn)
	if err != nil {
		s.log.WithError(err).Warn("client read failed")
		return
	}
	task, err := DecodeTask(raw)
	if err != nil {
		s.log.WithError(err).Warn("malformed task, closing client")
		return
	}

	port, ok := s.router.Select()
	if !ok {
		if _, err := conn.Write([]byte(NoDestinationReply)); err != nil {
			s.log.WithError(err).Warn("write no-destination reply failed")
		}
		return
	}

	reply, latency, err := s.forward(port, raw)
	if err != nil {
		s.log.WithFields(logrus.Fields{"port": port, "task": task.ID}).WithError(err).Warn("forward failed")
		return
	}

	if _, err := conn.Write(reply); err != nil {
		s.log.WithError(err).Warn("client write failed")
		return
	}

	s.router.Update(port, latency)
	s.recorder.RecordRouted(port)
}

// forward dials the chosen worker, writes the task bytes verbatim, and
// reads back its reply, returning the elapsed round-trip time.
func (s *Server) forward(port uint16, taskBytes []byte) ([]byte, time.Duration, error) {
	upstream, err := s.dial(port)
	if err != nil {
		return nil, 0, fmt.Errorf("dial worker %d: %w", port, err)
	}
	defer upstream.Close()

	t0 := time.Now()
	if _, err := upstream.Write(taskBytes); err != nil {
		return nil, 0, fmt.Errorf("write to worker %d: %w", port, err)
	}
	reply, err := ReadMessage(upstream)
	if err != nil {
		return nil, 0, fmt.Errorf("read from worker %d: %w", port, err)
	}
	return reply, time.Since(t0), nil
}

// Stop waits for in-flight handlers to finish and releases pool
// resources; it does not close the listener, which the caller owns.
func (s *Server) Stop() {
	s.pool.StopAndWait()
}
