package uds

import (
	"errors"
	"fmt"
	"net"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/mizuno/missiond/internal/logging"
)

// HandlerFunc serves one command.
type HandlerFunc func(req *Request) *Response

// Server answers one request frame per connection. Handlers are looked up by
// command name; a handler panic becomes an INTERNAL_ERROR response instead of
// killing the daemon.
type Server struct {
	socketPath  string
	connTimeout time.Duration
	logger      *logging.Logger

	mu       sync.RWMutex
	handlers map[string]HandlerFunc

	ln net.Listener
	wg sync.WaitGroup
}

func NewServer(socketPath string, logger *logging.Logger) *Server {
	return &Server{
		socketPath:  socketPath,
		connTimeout: 30 * time.Second,
		logger:      logger.WithComponent("uds"),
		handlers:    make(map[string]HandlerFunc),
	}
}

// SetConnTimeout bounds a single request/response exchange.
func (s *Server) SetConnTimeout(d time.Duration) {
	s.connTimeout = d
}

// Handle registers the handler for a command name, replacing any previous one.
func (s *Server) Handle(command string, handler HandlerFunc) {
	s.mu.Lock()
	s.handlers[command] = handler
	s.mu.Unlock()
}

// Start begins accepting connections. A stale socket file from a crashed
// process is removed first; the daemon file lock guarantees it is not live.
func (s *Server) Start() error {
	_ = os.Remove(s.socketPath)

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		_ = ln.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}
	s.ln = ln

	s.wg.Add(1)
	go s.serve(ln)
	return nil
}

// Stop closes the listener, waits for in-flight connections, and removes the
// socket file. Safe to call before Start.
func (s *Server) Stop() error {
	if s.ln != nil {
		_ = s.ln.Close()
	}
	s.wg.Wait()
	_ = os.Remove(s.socketPath)
	return nil
}

func (s *Server) serve(ln net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warnf("accept: %v", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.session(conn)
		}()
	}
}

// session runs the exchange for a single connection.
func (s *Server) session(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(s.connTimeout))

	var req Request
	if err := ReadFrame(conn, &req); err != nil {
		s.logger.Warnf("read request: %v", err)
		return
	}

	if err := WriteFrame(conn, s.dispatch(&req)); err != nil {
		s.logger.Warnf("write response: %v", err)
	}
}

// dispatch routes a request to its handler. A panic is logged with its stack
// and surfaced to the client as INTERNAL_ERROR.
func (s *Server) dispatch(req *Request) (resp *Response) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorf("handler %q panicked: %v\n%s", req.Command, r, debug.Stack())
			resp = ErrorResponse(ErrCodeInternal, "internal error")
		}
	}()

	if req.ProtocolVersion != ProtocolVersion {
		return ErrorResponse(
			ErrCodeProtocolMismatch,
			fmt.Sprintf("protocol version mismatch: got %d, expected %d", req.ProtocolVersion, ProtocolVersion),
		)
	}

	s.mu.RLock()
	handler, ok := s.handlers[req.Command]
	s.mu.RUnlock()
	if !ok {
		return ErrorResponse(ErrCodeUnknownCommand, fmt.Sprintf("unknown command: %q", req.Command))
	}

	return handler(req)
}
