// Package bridge is the HTTP surface between the game host and the moderation core. The host
// reports session events and polls queued output; staff tooling issues, removes and reviews.
package bridge

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/puzpuzpuz/xsync/v3"
	log "github.com/sirupsen/logrus"

	"github.com/Inpuzah/stafftools/internal/db"
	errs "github.com/Inpuzah/stafftools/internal/errors"
	"github.com/Inpuzah/stafftools/internal/session"
)

const maxBodyBytes = 1 << 16

type gateway interface {
	Login(accountID uuid.UUID) (bool, string)
	Join(ctx context.Context, s *session.Session) error
	Chat(accountID uuid.UUID) (bool, string)
	Build(accountID uuid.UUID) (bool, string)
	Quit(accountID uuid.UUID)
}

type moderationEngine interface {
	Issue(ctx context.Context, p *db.Punishment) (*db.Punishment, error)
	RemoveByID(ctx context.Context, id int64, actorID uuid.UUID, actorName, reason string) (bool, error)
	RemoveByAccountNameOrID(ctx context.Context, nameOrID string, t db.PunishmentType, actorID uuid.UUID, actorName, reason string) (bool, error)
	Get(ctx context.Context, id int64) (*db.Punishment, error)
	History(ctx context.Context, accountID uuid.UUID) ([]*db.Punishment, error)
	ActiveFor(accountID uuid.UUID) []*db.Punishment
	Recent(ctx context.Context, limit int) ([]*db.Punishment, error)
}

type appealService interface {
	Submit(ctx context.Context, a *db.Appeal) (*db.Appeal, error)
	Review(ctx context.Context, id int64, reviewerID uuid.UUID, reviewerName string, approve bool, note string) (bool, error)
	Get(ctx context.Context, id int64) (*db.Appeal, error)
	List(ctx context.Context, status db.AppealStatus, limit int) ([]*db.Appeal, error)
	ForAccount(ctx context.Context, accountID uuid.UUID) ([]*db.Appeal, error)
}

// mainLoop runs session teardown on the host thread.
type mainLoop interface {
	Call(ctx context.Context, fn func()) error
}

type Deps struct {
	Gate       gateway
	Moderation moderationEngine
	Appeals    appealService
	Loop       mainLoop
}

type Server struct {
	srv        *http.Server
	gate       gateway
	moderation moderationEngine
	appeals    appealService
	loop       mainLoop
	token      string
	outboxes   *xsync.MapOf[uuid.UUID, *outbox]
}

// NewServer builds the bridge. An empty token leaves the API unauthenticated; Appeals may be nil.
func NewServer(addr, token string, deps Deps) *Server {
	s := &Server{
		gate:       deps.Gate,
		moderation: deps.Moderation,
		appeals:    deps.Appeals,
		loop:       deps.Loop,
		token:      token,
		outboxes:   xsync.NewMapOf[uuid.UUID, *outbox](),
	}

	router := mux.NewRouter()
	router.Use(s.authenticate)
	api := router.PathPrefix("/v1").Subrouter()

	api.HandleFunc("/sessions/{account}/login", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{account}", s.handleJoin).Methods(http.MethodPut)
	api.HandleFunc("/sessions/{account}", s.handleQuit).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{account}/chat", s.handleChat).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{account}/build", s.handleBuild).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{account}/outbox", s.handleOutbox).Methods(http.MethodGet)

	api.HandleFunc("/punishments", s.handleIssue).Methods(http.MethodPost)
	api.HandleFunc("/punishments", s.handleRecent).Methods(http.MethodGet)
	api.HandleFunc("/punishments/{id:[0-9]+}", s.handleGetPunishment).Methods(http.MethodGet)
	api.HandleFunc("/punishments/{id:[0-9]+}/removal", s.handleRemoveByID).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{account}/punishments", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{account}/active", s.handleActive).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{account}/punishments/{type}/removal", s.handleRemoveByAccount).Methods(http.MethodPost)

	if s.appeals != nil {
		api.HandleFunc("/appeals", s.handleSubmitAppeal).Methods(http.MethodPost)
		api.HandleFunc("/appeals", s.handleListAppeals).Methods(http.MethodGet)
		api.HandleFunc("/appeals/{id:[0-9]+}", s.handleGetAppeal).Methods(http.MethodGet)
		api.HandleFunc("/appeals/{id:[0-9]+}/review", s.handleReviewAppeal).Methods(http.MethodPost)
		api.HandleFunc("/accounts/{account}/appeals", s.handleAccountAppeals).Methods(http.MethodGet)
	}

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) getLogEntry() *log.Entry {
	return log.WithField("object", "Bridge")
}

func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) Start(ctx context.Context) error {
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.getLogEntry().WithError(err).Error("bridge server failed")
		}
	}()
	s.getLogEntry().WithField("addr", ln.Addr().String()).Info("bridge listening")
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithField("object", "Bridge").WithError(err).Warn("cant write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// fail maps tagged core errors onto HTTP statuses.
func fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errs.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, errs.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errs.ErrAlreadyPunished), errors.Is(err, errs.ErrAlreadyAppealed):
		status = http.StatusConflict
	case errors.Is(err, errs.ErrNotAppealable):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, errs.ErrCooldown):
		status = http.StatusTooManyRequests
	case errors.Is(err, errs.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		log.WithField("object", "Bridge").WithError(err).Error("request failed")
	}
	writeError(w, status, err.Error())
}

func accountVar(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["account"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed account id")
		return uuid.Nil, false
	}
	return id, true
}
