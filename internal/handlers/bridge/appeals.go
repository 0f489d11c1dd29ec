package bridge

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/Inpuzah/stafftools/internal/db"
)

type appealView struct {
	ID             int64      `json:"id"`
	PunishmentID   int64      `json:"punishment_id"`
	AccountID      uuid.UUID  `json:"account_id"`
	AccountName    string     `json:"account_name"`
	Text           string     `json:"text"`
	CreatedAt      time.Time  `json:"created_at"`
	Status         string     `json:"status"`
	ReviewedByName *string    `json:"reviewed_by_name,omitempty"`
	ReviewedAt     *time.Time `json:"reviewed_at,omitempty"`
	ReviewNote     *string    `json:"review_note,omitempty"`
}

func viewAppeal(a *db.Appeal) appealView {
	v := appealView{
		ID:             a.ID,
		PunishmentID:   a.PunishmentID,
		AccountID:      a.AccountID,
		AccountName:    a.AccountName,
		Text:           a.Text,
		CreatedAt:      time.UnixMilli(a.CreatedAt).UTC(),
		Status:         string(a.Status),
		ReviewedByName: a.ReviewedByName,
		ReviewNote:     a.ReviewNote,
	}
	if a.ReviewedAt != nil {
		at := time.UnixMilli(*a.ReviewedAt).UTC()
		v.ReviewedAt = &at
	}
	return v
}

func viewAppeals(as []*db.Appeal) []appealView {
	res := make([]appealView, 0, len(as))
	for _, a := range as {
		res = append(res, viewAppeal(a))
	}
	return res
}

type appealRequest struct {
	PunishmentID int64     `json:"punishment_id"`
	AccountID    uuid.UUID `json:"account_id"`
	AccountName  string    `json:"account_name"`
	Text         string    `json:"text"`
}

type reviewRequest struct {
	StaffID   uuid.UUID `json:"staff_id"`
	StaffName string    `json:"staff_name"`
	Approve   bool      `json:"approve"`
	Note      string    `json:"note"`
}

type reviewResponse struct {
	Reviewed bool `json:"reviewed"`
}

func (s *Server) handleSubmitAppeal(w http.ResponseWriter, r *http.Request) {
	var req appealRequest
	if !decode(w, r, &req) {
		return
	}
	a, err := s.appeals.Submit(r.Context(), &db.Appeal{
		PunishmentID: req.PunishmentID,
		AccountID:    req.AccountID,
		AccountName:  req.AccountName,
		Text:         req.Text,
	})
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewAppeal(a))
}

// handleListAppeals lists the newest appeals; ?status= narrows to PENDING, APPROVED or DENIED.
func (s *Server) handleListAppeals(w http.ResponseWriter, r *http.Request) {
	var status db.AppealStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		var err error
		if status, err = db.ParseAppealStatus(raw); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	res, err := s.appeals.List(r.Context(), status, limit)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewAppeals(res))
}

func (s *Server) handleGetAppeal(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	a, err := s.appeals.Get(r.Context(), id)
	if err != nil {
		fail(w, err)
		return
	}
	if a == nil {
		writeError(w, http.StatusNotFound, "no such appeal")
		return
	}
	writeJSON(w, http.StatusOK, viewAppeal(a))
}

func (s *Server) handleReviewAppeal(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	var req reviewRequest
	if !decode(w, r, &req) {
		return
	}
	reviewed, err := s.appeals.Review(r.Context(), id, req.StaffID, req.StaffName, req.Approve, req.Note)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reviewResponse{Reviewed: reviewed})
}

func (s *Server) handleAccountAppeals(w http.ResponseWriter, r *http.Request) {
	id, ok := accountVar(w, r)
	if !ok {
		return
	}
	res, err := s.appeals.ForAccount(r.Context(), id)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewAppeals(res))
}
