package nms

import (
	"bufio"
	"encoding/json"
	"net"

	"github.com/smgw-cluster/segw-core/pkg/log"
)

// Server listens for NMS connections and serves one line-buffered JSON
// request per line, per connection, until the peer closes the socket.
type Server struct {
	Handler  *Handler
	listener net.Listener
	log      log.Component
}

// NewServer binds addr (host:port, the nms.address/nms.service config
// pair joined by the caller) and returns a Server ready to Serve.
func NewServer(addr string, handler *Handler) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{Handler: handler, listener: ln, log: log.Named("nms")}, nil
}

// Addr reports the bound address, useful when addr was ":0" in tests.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Serve accepts connections until the listener is closed.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		go s.serveConn(conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error { return s.listener.Close() }

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), 1<<20)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.log.Warnf("nms: malformed request from %s: %v", conn.RemoteAddr(), err)
			enc.Encode(Response{EC: "malformed request"})
			continue
		}

		resp := s.Handler.Handle(req)
		if err := enc.Encode(resp); err != nil {
			s.log.Warnf("nms: write to %s: %v", conn.RemoteAddr(), err)
			return
		}
	}
	if err := scanner.Err(); err != nil {
		s.log.Debugf("nms: connection %s: %v", conn.RemoteAddr(), err)
	}
}
