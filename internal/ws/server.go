package ws

import (
	"context"
	"net/http"
	"time"

	socketio "github.com/googollee/go-socket.io"
	"github.com/googollee/go-socket.io/engineio"
	"github.com/googollee/go-socket.io/engineio/transport"
	"github.com/googollee/go-socket.io/engineio/transport/polling"
	"github.com/googollee/go-socket.io/engineio/transport/websocket"
	"github.com/sirupsen/logrus"
)

// Event names pushed to dashboard clients
const (
	EventActivity = "activity:new"
	EventTasks    = "tasks:update"
	EventProfiles = "profiles:update"
	EventSnapshot = "state:snapshot"
	EventError    = "state:error"

	requestState = "request:state"
	namespace    = "/"
)

// StateFunc builds the full dashboard state for clients that ask for it
type StateFunc func(ctx context.Context) (any, error)

// Server pushes dashboard events over Socket.IO. Polling stays the source of
// truth; a client that misses events can send request:state.
type Server struct {
	io     *socketio.Server
	state  StateFunc
	logger *logrus.Entry
}

// NewServer creates the Socket.IO server and registers its handlers
func NewServer(state StateFunc, logger *logrus.Entry) *Server {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	allowAll := func(r *http.Request) bool { return true }
	s := &Server{
		io: socketio.NewServer(&engineio.Options{
			Transports: []transport.Transport{
				&polling.Transport{CheckOrigin: allowAll},
				&websocket.Transport{CheckOrigin: allowAll},
			},
		}),
		state:  state,
		logger: logger.WithField("component", "ws"),
	}

	s.io.OnConnect(namespace, func(c socketio.Conn) error {
		s.logger.Debugf("Client connected: %s", c.ID())
		c.Emit("connected", map[string]interface{}{"ok": true})
		return nil
	})
	s.io.OnDisconnect(namespace, func(c socketio.Conn, reason string) {
		s.logger.Debugf("Client disconnected: %s, reason: %s", c.ID(), reason)
	})
	s.io.OnError(namespace, func(c socketio.Conn, e error) {
		if c != nil {
			s.logger.Warnf("Error for client %s: %v", c.ID(), e)
			return
		}
		s.logger.Warnf("Socket.IO error: %v", e)
	})
	s.io.OnEvent(namespace, requestState, s.handleRequestState)
	return s
}

// Start runs the Socket.IO event loop in the background
func (s *Server) Start() {
	go func() {
		if err := s.io.Serve(); err != nil {
			s.logger.Errorf("Socket.IO server stopped: %v", err)
		}
	}()
	s.logger.Info("Socket.IO server started")
}

// Close shuts the server down and disconnects clients
func (s *Server) Close() error {
	return s.io.Close()
}

// Handler returns the HTTP handler to mount at /socket.io/, guarded by the
// JWT handshake check when requireToken is set
func (s *Server) Handler(requireToken bool) http.Handler {
	if requireToken {
		return WrapWithAuth(s.io, s.logger)
	}
	return s.io
}

// Publish broadcasts an event to every connected client
func (s *Server) Publish(event string, data any) {
	s.io.BroadcastToNamespace(namespace, event, data)
}

func (s *Server) handleRequestState(c socketio.Conn, _ interface{}) {
	if s.state == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := s.state(ctx)
	if err != nil {
		s.logger.Errorf("Failed to build state for client %s: %v", c.ID(), err)
		c.Emit(EventError, map[string]interface{}{"message": "failed to load dashboard state"})
		return
	}
	c.Emit(EventSnapshot, st)
}
