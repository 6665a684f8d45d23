// Package server implements the connection listener: it accepts control
// channel connections, decodes requests, hands them to the command engine
// one at a time per connection, and writes responses back in order.
package server

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"go.klb.dev/clipd/internal/engine"
	"go.klb.dev/clipd/internal/message"
	"go.klb.dev/clipd/internal/wire"
)

// Server multiplexes client connections onto the engine mailbox.
type Server struct {
	eng *engine.Engine
	key *[32]byte // encryption for TCP listeners, nil on the unix socket

	mu        sync.Mutex
	conns     map[*wire.Conn]bool // value: a request is in flight
	listeners []net.Listener
	closing   bool
}

// New returns a Server feeding eng.
func New(eng *engine.Engine) *Server {
	return &Server{eng: eng, conns: make(map[*wire.Conn]bool)}
}

// Serve accepts connections on ln until the listener is closed. key is the
// per-listener encryption key; pass nil for the local unix socket.
func (s *Server) Serve(ln net.Listener, key *[32]byte) {
	s.mu.Lock()
	s.listeners = append(s.listeners, ln)
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				slog.Error("accept failed", "err", err)
			}
			return
		}
		go s.handle(wire.New(conn, key))
	}
}

func (s *Server) handle(wc *wire.Conn) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		_ = wc.WriteResponse(shuttingDown())
		_ = wc.Close()
		return
	}
	s.conns[wc] = false
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, wc)
		s.mu.Unlock()
		_ = wc.Close()
	}()

	// One request at a time per connection, responses in request order.
	for {
		req, err := wc.ReadRequest()
		if err != nil {
			if err == io.EOF || errors.Is(err, net.ErrClosed) {
				return
			}
			// Malformed request: report and drop this connection only.
			// During shutdown the broadcast answers it instead; leaving the
			// registry first keeps the broadcast from answering twice.
			s.mu.Lock()
			closing := s.closing
			if !closing {
				delete(s.conns, wc)
			}
			s.mu.Unlock()
			if !closing {
				resp := message.Errorf(message.CodeProtocolError, "%v", err)
				_ = wc.WriteResponse(&resp)
				slog.Warn("protocol error, closing connection", "remote", wc.RemoteAddr(), "err", err)
			}
			return
		}

		s.mu.Lock()
		if s.closing {
			// The shutdown broadcast answers this connection.
			s.mu.Unlock()
			return
		}
		s.conns[wc] = true
		s.mu.Unlock()

		resp := s.eng.Do(req)
		err = wc.WriteResponse(&resp)
		if err != nil {
			slog.Debug("response write failed", "remote", wc.RemoteAddr(), "err", err)
		}

		// Deciding to stop and leaving the registry must be atomic, or a
		// concurrent shutdown broadcast could answer this connection a
		// second time after the loop already delivered shutting_down.
		s.mu.Lock()
		done := err != nil || s.closing ||
			resp.Code == message.CodeProtocolError || resp.Code == message.CodeShuttingDown
		if done {
			delete(s.conns, wc)
		} else {
			s.conns[wc] = false
		}
		s.mu.Unlock()
		if done {
			return
		}
	}
}

// Shutdown stops accepting, then tells every idle connection the server is
// going away before closing it. Connections with a request in flight get
// their shutting_down answer from the handle loop; writing to them here
// would hand the client a stray extra response.
func (s *Server) Shutdown() {
	s.mu.Lock()
	s.closing = true
	listeners := s.listeners
	idle := make([]*wire.Conn, 0, len(s.conns))
	for wc, inflight := range s.conns {
		if !inflight {
			idle = append(idle, wc)
		}
	}
	s.mu.Unlock()

	for _, ln := range listeners {
		_ = ln.Close()
	}
	for _, wc := range idle {
		_ = wc.WriteResponse(shuttingDown())
		_ = wc.Close()
	}
}

func shuttingDown() *message.Response {
	resp := message.Errorf(message.CodeShuttingDown, "server shutting down")
	return &resp
}
