// Package server implements the acceptors (C6): independent UDP and TCP
// loops sharing one global concurrency semaphore, each spawning a handler
// per accepted request and observing a shared cancellation context for
// graceful shutdown. Shaped like a Start()/Shutdown() listener pair but
// reimplemented without embedding *dns.Server so the
// group-attribution-before-handler-construction step can run first.
package server

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/tonitrnel/pomelo-dns/internal/config"
	"github.com/tonitrnel/pomelo-dns/internal/handler"
)

// maxInFlight is the global concurrency cap shared across both transports.
const maxInFlight = 1024

// Server owns the two acceptor loops and the resources a Handler needs.
type Server struct {
	accessor *config.Accessor
	deps     handler.Deps
	sem      chan struct{}
}

// New returns a Server ready to accept on UDP and TCP.
func New(accessor *config.Accessor, deps handler.Deps) *Server {
	return &Server{
		accessor: accessor,
		deps:     deps,
		sem:      make(chan struct{}, maxInFlight),
	}
}

// Run binds addr for both UDP and TCP and blocks until ctx is cancelled or
// either loop returns a fatal error, then waits for in-flight handlers to
// finish (the semaphore permits they hold are the only thing tracking them,
// which doubles as Go's answer to the "reap finished tasks" step of the
// acceptor loops: there is no join-set to drain, a finished goroutine has
// already freed its permit).
func (s *Server) Run(ctx context.Context, addr string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.serveUDP(ctx, addr) })
	g.Go(func() error { return s.serveTCP(ctx, addr) })
	err := g.Wait()
	// Taking every permit waits out the handlers still holding one.
	for i := 0; i < maxInFlight; i++ {
		s.sem <- struct{}{}
	}
	for i := 0; i < maxInFlight; i++ {
		<-s.sem
	}
	return err
}

func (s *Server) acquire(ctx context.Context) bool {
	select {
	case s.sem <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Server) release() {
	<-s.sem
}
