package bridge

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/Inpuzah/stafftools/internal/db"
	"github.com/Inpuzah/stafftools/internal/utils/duration"
)

type punishmentView struct {
	ID            int64      `json:"id"`
	AccountID     uuid.UUID  `json:"account_id"`
	AccountName   string     `json:"account_name"`
	StaffID       uuid.UUID  `json:"staff_id"`
	StaffName     string     `json:"staff_name"`
	Type          string     `json:"type"`
	Reason        string     `json:"reason"`
	Duration      string     `json:"duration"`
	IssuedAt      time.Time  `json:"issued_at"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	Active        bool       `json:"active"`
	RemovedByName *string    `json:"removed_by_name,omitempty"`
	RemovedAt     *time.Time `json:"removed_at,omitempty"`
	RemovedReason *string    `json:"removed_reason,omitempty"`
	ServerName    string     `json:"server_name"`
}

func viewPunishment(p *db.Punishment) punishmentView {
	v := punishmentView{
		ID:            p.ID,
		AccountID:     p.AccountID,
		AccountName:   p.AccountName,
		StaffID:       p.StaffID,
		StaffName:     p.StaffName,
		Type:          string(p.Type),
		Reason:        p.Reason,
		Duration:      duration.FormatMinutes(p.Duration),
		IssuedAt:      p.IssuedTime().UTC(),
		Active:        p.Active,
		RemovedByName: p.RemovedByName,
		RemovedReason: p.RemovedReason,
		ServerName:    p.ServerName,
	}
	if p.ExpiresAt != nil {
		at := p.ExpiresTime().UTC()
		v.ExpiresAt = &at
	}
	if p.RemovedAt != nil {
		at := time.UnixMilli(*p.RemovedAt).UTC()
		v.RemovedAt = &at
	}
	return v
}

func viewPunishments(ps []*db.Punishment) []punishmentView {
	res := make([]punishmentView, 0, len(ps))
	for _, p := range ps {
		res = append(res, viewPunishment(p))
	}
	return res
}

type issueRequest struct {
	AccountID   uuid.UUID `json:"account_id"`
	AccountName string    `json:"account_name"`
	StaffID     uuid.UUID `json:"staff_id"`
	StaffName   string    `json:"staff_name"`
	Type        string    `json:"type"`
	Reason      string    `json:"reason"`
	Duration    string    `json:"duration"`
	Address     string    `json:"address"`
}

type removalRequest struct {
	StaffID   uuid.UUID `json:"staff_id"`
	StaffName string    `json:"staff_name"`
	Reason    string    `json:"reason"`
}

type removalResponse struct {
	Removed bool `json:"removed"`
}

func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if !decode(w, r, &req) {
		return
	}
	kind, err := db.ParseType(req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var minutes int64
	if kind != db.Kick && kind != db.Warn {
		if minutes, err = duration.ParseMinutes(req.Duration); err != nil {
			fail(w, err)
			return
		}
	}
	p := &db.Punishment{
		AccountID:   req.AccountID,
		AccountName: req.AccountName,
		StaffID:     req.StaffID,
		StaffName:   req.StaffName,
		Type:        kind,
		Reason:      req.Reason,
		Duration:    minutes,
	}
	if req.Address != "" {
		addr := req.Address
		p.Address = &addr
	}
	res, err := s.moderation.Issue(r.Context(), p)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewPunishment(res))
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	res, err := s.moderation.Recent(r.Context(), limit)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewPunishments(res))
}

func (s *Server) handleGetPunishment(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	p, err := s.moderation.Get(r.Context(), id)
	if err != nil {
		fail(w, err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "no such punishment")
		return
	}
	writeJSON(w, http.StatusOK, viewPunishment(p))
}

func (s *Server) handleRemoveByID(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	var req removalRequest
	if !decode(w, r, &req) {
		return
	}
	removed, err := s.moderation.RemoveByID(r.Context(), id, req.StaffID, req.StaffName, req.Reason)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, removalResponse{Removed: removed})
}

// handleRemoveByAccount accepts an account name or id in the path.
func (s *Server) handleRemoveByAccount(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	kind, err := db.ParseType(vars["type"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req removalRequest
	if !decode(w, r, &req) {
		return
	}
	removed, err := s.moderation.RemoveByAccountNameOrID(r.Context(), vars["account"], kind, req.StaffID, req.StaffName, req.Reason)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, removalResponse{Removed: removed})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := accountVar(w, r)
	if !ok {
		return
	}
	res, err := s.moderation.History(r.Context(), id)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewPunishments(res))
}

func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	id, ok := accountVar(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewPunishments(s.moderation.ActiveFor(id)))
}
