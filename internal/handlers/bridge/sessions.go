package bridge

import (
	"net/http"
	"sync"

	"github.com/Inpuzah/stafftools/internal/session"
)

// outbox is the session connection handed to the core. The host drains it by polling.
type outbox struct {
	mutex      sync.Mutex
	messages   []string
	disconnect *string
}

func (o *outbox) SendMessage(text string) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.messages = append(o.messages, text)
}

func (o *outbox) Disconnect(reason string) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.disconnect = &reason
}

func (o *outbox) drain() outboxView {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	res := outboxView{Messages: o.messages, Disconnect: o.disconnect}
	if res.Messages == nil {
		res.Messages = []string{}
	}
	o.messages = nil
	o.disconnect = nil
	return res
}

type outboxView struct {
	Messages   []string `json:"messages"`
	Disconnect *string  `json:"disconnect,omitempty"`
}

type verdict struct {
	Allowed bool   `json:"allowed"`
	Message string `json:"message,omitempty"`
}

type joinRequest struct {
	Name        string          `json:"name"`
	Address     string          `json:"address"`
	Permissions map[string]bool `json:"permissions"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	id, ok := accountVar(w, r)
	if !ok {
		return
	}
	allowed, screen := s.gate.Login(id)
	writeJSON(w, http.StatusOK, verdict{Allowed: allowed, Message: screen})
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	id, ok := accountVar(w, r)
	if !ok {
		return
	}
	var req joinRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	box := &outbox{}
	s.outboxes.Store(id, box)
	err := s.gate.Join(r.Context(), &session.Session{
		AccountID:   id,
		Name:        req.Name,
		Address:     req.Address,
		Permissions: req.Permissions,
		Conn:        box,
	})
	if err != nil {
		s.outboxes.Compute(id, func(current *outbox, loaded bool) (*outbox, bool) {
			return current, !loaded || current == box
		})
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, box.drain())
}

// handleQuit unpublishes the session on the main loop and hands back anything still queued.
func (s *Server) handleQuit(w http.ResponseWriter, r *http.Request) {
	id, ok := accountVar(w, r)
	if !ok {
		return
	}
	if err := s.loop.Call(r.Context(), func() { s.gate.Quit(id) }); err != nil {
		s.getLogEntry().WithError(err).WithField("account", id).Warn("cant run quit on main loop")
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	res := outboxView{Messages: []string{}}
	if box, ok := s.outboxes.LoadAndDelete(id); ok {
		res = box.drain()
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	id, ok := accountVar(w, r)
	if !ok {
		return
	}
	allowed, msg := s.gate.Chat(id)
	writeJSON(w, http.StatusOK, verdict{Allowed: allowed, Message: msg})
}

func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	id, ok := accountVar(w, r)
	if !ok {
		return
	}
	allowed, msg := s.gate.Build(id)
	writeJSON(w, http.StatusOK, verdict{Allowed: allowed, Message: msg})
}

func (s *Server) handleOutbox(w http.ResponseWriter, r *http.Request) {
	id, ok := accountVar(w, r)
	if !ok {
		return
	}
	box, ok := s.outboxes.Load(id)
	if !ok {
		writeError(w, http.StatusNotFound, "no session")
		return
	}
	writeJSON(w, http.StatusOK, box.drain())
}
