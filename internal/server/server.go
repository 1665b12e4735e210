package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"
)

// Server accepts configuration connections strictly one at a time, the
// way the controller UI expects: connect, send one request, read the
// answer, done. There is no keep-alive and no concurrent handling, a
// second client waits in the listen backlog until the first is served.
type Server struct {
	addr        string
	readTimeout time.Duration
	maxRequest  int
	handlers    *Handlers

	mu sync.Mutex
	ln net.Listener
}

// NewServer creates the acceptor for the given port.
func NewServer(handlers *Handlers, port string, readTimeout time.Duration, maxRequestBytes int) *Server {
	if readTimeout <= 0 {
		readTimeout = 5 * time.Second
	}
	if maxRequestBytes <= 0 {
		maxRequestBytes = 4096
	}
	return &Server{
		addr:        ":" + port,
		readTimeout: readTimeout,
		maxRequest:  maxRequestBytes,
		handlers:    handlers,
	}
}

// Addr reports the bound listen address, empty before Run.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Run listens and serves until the context is canceled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	log.Printf("[Server] listening on %s", ln.Addr())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Printf("[Server] accept failed: %v", err)
			continue
		}
		s.serve(conn)
	}
}

// serve drives one connection through read, parse, dispatch, close.
func (s *Server) serve(conn net.Conn) {
	defer conn.Close()

	buf, err := s.readRequest(conn)
	if err != nil && len(buf) == 0 {
		return
	}
	req := parseRequest(buf)
	if !req.Valid {
		// No request line means no response, just hang up.
		return
	}
	s.handlers.Dispatch(conn, req)
}

// readRequest collects bytes until the header terminator arrived and,
// for a POST, until at least one body byte followed it. The connection
// deadline bounds the whole exchange so a stalled client cannot hold
// the single service slot.
func (s *Server) readRequest(conn net.Conn) ([]byte, error) {
	if err := conn.SetDeadline(time.Now().Add(s.readTimeout)); err != nil {
		return nil, err
	}

	buf := make([]byte, 0, 512)
	chunk := make([]byte, 512)
	for len(buf) < s.maxRequest {
		n, err := conn.Read(chunk)
		if n > 0 {
			if len(buf)+n > s.maxRequest {
				n = s.maxRequest - len(buf)
			}
			buf = append(buf, chunk[:n]...)
			if end := headerEnd(buf); end >= 0 {
				if !bytes.HasPrefix(buf, []byte("POST")) || end < len(buf) {
					return buf, nil
				}
			}
		}
		if err != nil {
			return buf, err
		}
	}
	return buf, nil
}
