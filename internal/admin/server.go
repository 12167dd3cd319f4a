// Package admin exposes a unix domain socket for runtime control of feed
// groups: adding and removing streams, swapping feeds, and inspecting
// counters without restarting the handler.
package admin

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/yanun0323/logs"

	"github.com/RishiDarkDevil/binance-spot-controller/internal/feed"
	"github.com/RishiDarkDevil/binance-spot-controller/internal/group"
	"github.com/RishiDarkDevil/binance-spot-controller/internal/obs"
	"github.com/RishiDarkDevil/binance-spot-controller/pkg/uds"
)

// Ops accepted on the socket.
const (
	OpAddStream    = "add-stream"
	OpRemoveStream = "remove-stream"
	OpAddFeed      = "add-feed"
	OpRemoveFeed   = "remove-feed"
	OpStatus       = "status"
)

// Request is one newline-delimited JSON command.
type Request struct {
	Op     string `json:"op"`
	Group  string `json:"group"`
	Feed   string `json:"feed"`
	Symbol string `json:"symbol"`
	// Worker places an added feed on a specific worker slot.
	Worker int `json:"worker"`
}

// Response is the reply to one request.
type Response struct {
	OK     bool          `json:"ok"`
	Error  string        `json:"error,omitempty"`
	Groups []GroupStatus `json:"groups,omitempty"`
}

// GroupStatus reports one group's shape and counters.
type GroupStatus struct {
	Name     string       `json:"name"`
	Kind     string       `json:"kind"`
	Workers  int          `json:"workers"`
	Counters obs.Snapshot `json:"counters"`
}

// Target is a running group reachable from the socket.
type Target struct {
	Kind    feed.Kind
	Handle  *group.Handle
	Metrics *obs.Metrics
	// DialFeed opens a new upstream connection for an added feed. Groups
	// registered without it reject the add-feed op.
	DialFeed func(name string) (*feed.Feed, error)
}

// Server serves admin requests over a unix socket.
type Server struct {
	srv *uds.Server

	mu      sync.Mutex
	targets map[string]Target
	wg      sync.WaitGroup
	closed  bool
}

// NewServer creates a server bound to the given socket path. Listening
// starts with Serve.
func NewServer(path string) (*Server, error) {
	srv, err := uds.NewServer(path)
	if err != nil {
		return nil, err
	}
	return &Server{
		srv:     srv,
		targets: make(map[string]Target),
	}, nil
}

// Register makes a running group addressable by name.
func (s *Server) Register(name string, target Target) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets[name] = target
}

// Serve listens and handles connections until Close. It blocks.
func (s *Server) Serve() error {
	if err := s.srv.Listen(); err != nil {
		return err
	}
	for {
		conn, err := s.srv.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	sc := bufio.NewScanner(conn)
	enc := json.NewEncoder(conn)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var req Request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			_ = enc.Encode(Response{OK: false, Error: "malformed request: " + err.Error()})
			continue
		}
		resp := s.handle(req)
		if err := enc.Encode(resp); err != nil {
			logs.Errorf("admin: write response, err: %+v", err)
			return
		}
	}
}

func (s *Server) handle(req Request) Response {
	switch req.Op {
	case OpStatus:
		return s.status()
	case OpAddStream:
		return s.streamCommand(req, true)
	case OpRemoveStream:
		return s.streamCommand(req, false)
	case OpAddFeed:
		return s.addFeed(req)
	case OpRemoveFeed:
		return s.removeFeed(req)
	default:
		return Response{OK: false, Error: "unknown op: " + req.Op}
	}
}

func (s *Server) status() Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp := Response{OK: true}
	for name, target := range s.targets {
		status := GroupStatus{
			Name:    name,
			Kind:    target.Kind.String(),
			Workers: target.Handle.Workers(),
		}
		if target.Metrics != nil {
			status.Counters = target.Metrics.Snapshot()
		}
		resp.Groups = append(resp.Groups, status)
	}
	return resp
}

func (s *Server) streamCommand(req Request, add bool) Response {
	if req.Group == "" || req.Feed == "" || req.Symbol == "" {
		return Response{OK: false, Error: "group, feed and symbol are required"}
	}
	target, ok := s.target(req.Group)
	if !ok {
		return Response{OK: false, Error: "unknown group: " + req.Group}
	}

	workerIndex, ok := target.Handle.Assignment(req.Feed)
	if !ok {
		return Response{OK: false, Error: "unknown feed: " + req.Feed}
	}

	stream := feed.Stream{Kind: target.Kind, Name: strings.ToLower(req.Symbol)}
	var cmd group.Command
	if add {
		cmd = group.AddStream(req.Feed, stream)
	} else {
		cmd = group.RemoveStream(req.Feed, stream)
	}
	if err := target.Handle.SendCommand(workerIndex, cmd); err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	return Response{OK: true}
}

func (s *Server) target(name string) (Target, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.targets[name]
	return target, ok
}

func (s *Server) addFeed(req Request) Response {
	if req.Group == "" || req.Feed == "" {
		return Response{OK: false, Error: "group and feed are required"}
	}
	target, ok := s.target(req.Group)
	if !ok {
		return Response{OK: false, Error: "unknown group: " + req.Group}
	}
	if target.DialFeed == nil {
		return Response{OK: false, Error: "group does not accept new feeds"}
	}
	if req.Worker < 0 || req.Worker >= target.Handle.Workers() {
		return Response{OK: false, Error: fmt.Sprintf("worker %d out of range", req.Worker)}
	}

	f, err := target.DialFeed(req.Feed)
	if err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	if err := target.Handle.SendCommand(req.Worker, group.AddFeed(f)); err != nil {
		_ = f.Close()
		return Response{OK: false, Error: err.Error()}
	}
	return Response{OK: true}
}

func (s *Server) removeFeed(req Request) Response {
	if req.Group == "" || req.Feed == "" {
		return Response{OK: false, Error: "group and feed are required"}
	}
	target, ok := s.target(req.Group)
	if !ok {
		return Response{OK: false, Error: "unknown group: " + req.Group}
	}
	workerIndex, ok := target.Handle.Assignment(req.Feed)
	if !ok {
		return Response{OK: false, Error: "unknown feed: " + req.Feed}
	}
	if err := target.Handle.SendCommand(workerIndex, group.RemoveFeed(req.Feed)); err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	return Response{OK: true}
}

// Close stops the listener and waits for in-flight connections.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	err := s.srv.Close()
	s.wg.Wait()
	return err
}
