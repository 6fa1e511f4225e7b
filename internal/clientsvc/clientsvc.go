// Package clientsvc implements the Client Endpoint: a TCP listener that
// accepts one framed JSON request per connection, authenticates, and
// mutates the State Store.
package clientsvc

import (
	"encoding/json"
	"io"
	"net"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"distask/internal/authtoken"
	"distask/internal/clock"
	"distask/internal/store"
	"distask/internal/task"
	"distask/internal/wire"
)

// maxRequestBytes bounds a single framed request per spec §6 (≤4 KiB).
const maxRequestBytes = 4096

// Server is the Client Endpoint.
type Server struct {
	addr  string
	auth  *authtoken.Store
	store *store.Store
	clock *clock.Lamport
	log   *logrus.Entry

	ln net.Listener
}

// New builds a Client Endpoint bound to addr.
func New(addr string, auth *authtoken.Store, st *store.Store, clk *clock.Lamport, log *logrus.Entry) *Server {
	return &Server{addr: addr, auth: auth, store: st, clock: clk, log: log.WithField("component", "client_endpoint")}
}

// Listen binds the TCP listener without serving yet, so callers (and
// tests) can learn the bound address before Serve starts accepting.
func (s *Server) Listen() (net.Addr, error) {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, err
	}
	s.ln = ln
	s.log.WithField("addr", ln.Addr().String()).Info("listening for clients")
	return ln.Addr(), nil
}

// Serve accepts connections until stopCh is closed. It blocks; callers run
// it in its own goroutine. Listen must have been called first.
func (s *Server) Serve(stopCh <-chan struct{}) error {
	go func() {
		<-stopCh
		_ = s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-stopCh:
				return nil
			default:
				s.log.WithError(err).Warn("accept error")
				continue
			}
		}
		go s.handle(conn)
	}
}

// ListenAndServe binds the listener and serves connections until stopCh is
// closed. It blocks; callers run it in its own goroutine.
func (s *Server) ListenAndServe(stopCh <-chan struct{}) error {
	if _, err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(stopCh)
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	buf := make([]byte, maxRequestBytes)
	n, err := conn.Read(buf)
	if err != nil && err != io.EOF {
		s.log.WithError(err).Warn("read error")
		return
	}
	if n == 0 {
		return
	}

	var req wire.ClientRequest
	if err := json.Unmarshal(buf[:n], &req); err != nil {
		s.log.WithError(err).Warn("malformed client request")
		s.writeJSON(conn, wire.ClientResponse{Error: "Requisição inválida"})
		return
	}

	if req.Token == "" {
		if req.Action == wire.ActionLogin {
			s.handleLogin(conn, req)
			return
		}
		s.writeJSON(conn, wire.ClientResponse{Error: "Autenticação necessária"})
		return
	}

	user, ok := s.auth.UserFor(req.Token)
	if !ok {
		s.writeJSON(conn, wire.ClientResponse{Error: "Token inválido ou expirado"})
		return
	}

	switch req.Action {
	case wire.ActionSubmitTask:
		s.handleSubmitTask(conn, user, req)
	case wire.ActionTaskStatus:
		s.handleTaskStatus(conn, req)
	default:
		s.writeJSON(conn, wire.ClientResponse{Error: "Ação desconhecida"})
	}
}

func (s *Server) handleLogin(conn net.Conn, req wire.ClientRequest) {
	if !s.auth.CheckCredentials(req.Username, req.Password) {
		s.log.WithField("username", req.Username).Warn("authentication failed")
		s.writeJSON(conn, wire.ClientResponse{Error: "Credenciais inválidas"})
		return
	}
	token := s.auth.TokenFor(req.Username)
	s.log.WithField("username", req.Username).Info("user authenticated")
	s.writeJSON(conn, wire.ClientResponse{Token: token})
}

func (s *Server) handleSubmitTask(conn net.Conn, clientID string, req wire.ClientRequest) {
	t := &task.Task{
		ID:        uuid.NewString(),
		ClientID:  clientID,
		Status:    task.Pending,
		Data:      req.Data,
		LamportTS: s.clock.Increment(),
	}
	s.store.AddTask(t)
	s.log.WithFields(logrus.Fields{"task_id": t.ID, "client_id": clientID}).Info("task submitted")
	s.writeJSON(conn, wire.ClientResponse{Status: "Tarefa recebida", TaskID: t.ID})
}

func (s *Server) handleTaskStatus(conn net.Conn, req wire.ClientRequest) {
	t, ok := s.store.GetTaskStatus(req.TaskID)
	if !ok {
		s.writeJSON(conn, wire.ClientResponse{Error: "Tarefa não encontrada"})
		return
	}
	s.writeJSON(conn, t)
}

func (s *Server) writeJSON(conn net.Conn, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.WithError(err).Error("failed to marshal response")
		return
	}
	if _, err := conn.Write(data); err != nil {
		s.log.WithError(err).Warn("write error")
	}
}
