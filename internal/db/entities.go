package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type PunishmentType string

const (
	Warn     PunishmentType = "WARN"
	Mute     PunishmentType = "MUTE"
	Kick     PunishmentType = "KICK"
	Ban      PunishmentType = "BAN"
	BuildBan PunishmentType = "BUILDBAN"
)

// Permanent is the remaining time reported for punishments without an expiry.
const Permanent time.Duration = -1

const SystemName = "CONSOLE"

// SystemID identifies automated actors such as the expiry sweep.
var SystemID = uuid.Nil

type AppealStatus string

const (
	AppealPending  AppealStatus = "PENDING"
	AppealApproved AppealStatus = "APPROVED"
	AppealDenied   AppealStatus = "DENIED"
)

var (
	allTypes         = []PunishmentType{Warn, Mute, Kick, Ban, BuildBan}
	enforceableTypes = []PunishmentType{Mute, Ban, BuildBan}
)

func AllTypes() []PunishmentType {
	return append([]PunishmentType(nil), allTypes...)
}

// EnforceableTypes lists types limited to one active row per account.
func EnforceableTypes() []PunishmentType {
	return append([]PunishmentType(nil), enforceableTypes...)
}

func ParseType(s string) (PunishmentType, error) {
	t := PunishmentType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown punishment type %q", s)
	}
	return t, nil
}

// ParseAppealStatus accepts the status names case-insensitively.
func ParseAppealStatus(s string) (AppealStatus, error) {
	status := AppealStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch status {
	case AppealPending, AppealApproved, AppealDenied:
		return status, nil
	}
	return "", fmt.Errorf("unknown appeal status %q", s)
}

func (t PunishmentType) Valid() bool {
	for _, known := range allTypes {
		if t == known {
			return true
		}
	}
	return false
}

func (t PunishmentType) Enforceable() bool {
	for _, known := range enforceableTypes {
		if t == known {
			return true
		}
	}
	return false
}

func (t PunishmentType) String() string {
	return string(t)
}

type (
	Punishment struct {
		ID            int64          `db:"id"`
		AccountID     uuid.UUID      `db:"account_id"`
		AccountName   string         `db:"account_name"`
		StaffID       uuid.UUID      `db:"staff_id"`
		StaffName     string         `db:"staff_name"`
		Type          PunishmentType `db:"type"`
		Reason        string         `db:"reason"`
		Duration      int64          `db:"duration_minutes"`
		IssuedAt      int64          `db:"issued_at"`
		ExpiresAt     *int64         `db:"expires_at"`
		Active        bool           `db:"active"`
		RemovedBy     uuid.NullUUID  `db:"removed_by"`
		RemovedByName *string        `db:"removed_by_name"`
		RemovedAt     *int64         `db:"removed_at"`
		RemovedReason *string        `db:"removed_reason"`
		ServerName    string         `db:"server_name"`
		Address       *string        `db:"address"`
	}

	// Removal is the metadata written when a punishment is deactivated.
	Removal struct {
		By     uuid.UUID
		ByName string
		At     int64
		Reason string
	}

	BuildBanGroup struct {
		AccountID        uuid.UUID `db:"account_id"`
		OriginalGroup    string    `db:"original_group"`
		NeedsRestoration bool      `db:"needs_restoration"`
	}

	Account struct {
		ID          uuid.UUID `db:"id"`
		Name        string    `db:"name"`
		LastAddress *string   `db:"last_address"`
		LastSeen    int64     `db:"last_seen"`
	}

	BlockEntry struct {
		AccountID   uuid.UUID `db:"account_id"`
		AccountName string    `db:"account_name"`
		Reason      string    `db:"reason"`
		Source      string    `db:"source"`
		CreatedAt   int64     `db:"created_at"`
		ExpiresAt   *int64    `db:"expires_at"`
	}

	PermissionUser struct {
		AccountID    uuid.UUID `db:"account_id"`
		PrimaryGroup string    `db:"primary_group"`
		Nodes        map[string]bool
	}

	Appeal struct {
		ID             int64         `db:"id"`
		PunishmentID   int64         `db:"punishment_id"`
		AccountID      uuid.UUID     `db:"account_id"`
		AccountName    string        `db:"account_name"`
		Text           string        `db:"text"`
		CreatedAt      int64         `db:"created_at"`
		Status         AppealStatus  `db:"status"`
		ReviewedBy     uuid.NullUUID `db:"reviewed_by"`
		ReviewedByName *string       `db:"reviewed_by_name"`
		ReviewedAt     *int64        `db:"reviewed_at"`
		ReviewNote     *string       `db:"review_note"`
	}

	// Review is the decision written when a pending appeal is closed.
	Review struct {
		Status AppealStatus
		By     uuid.UUID
		ByName string
		At     int64
		Note   string
	}

	AuditEntry struct {
		ID         int64         `db:"id"`
		ActorID    uuid.UUID     `db:"actor_id"`
		ActorName  string        `db:"actor_name"`
		Action     string        `db:"action"`
		TargetID   uuid.NullUUID `db:"target_id"`
		TargetName string        `db:"target_name"`
		Details    string        `db:"details"`
		CreatedAt  int64         `db:"created_at"`
		ServerName string        `db:"server_name"`
	}
)

// Stamp fixes the issue time and derives the expiry from the duration.
func (p *Punishment) Stamp(now time.Time) {
	p.IssuedAt = now.UnixMilli()
	p.ExpiresAt = nil
	if p.Duration > 0 {
		expiresAt := p.IssuedAt + p.Duration*time.Minute.Milliseconds()
		p.ExpiresAt = &expiresAt
	}
}

func (p *Punishment) IsPermanent() bool {
	return p.ExpiresAt == nil
}

func (p *Punishment) IsExpired(now time.Time) bool {
	return p.Active && p.ExpiresAt != nil && now.UnixMilli() > *p.ExpiresAt
}

// Remaining returns the time left before expiry, zero once expired and Permanent when there is no expiry.
func (p *Punishment) Remaining(now time.Time) time.Duration {
	if p.ExpiresAt == nil {
		return Permanent
	}
	left := *p.ExpiresAt - now.UnixMilli()
	if left < 0 {
		return 0
	}
	return time.Duration(left) * time.Millisecond
}

func (p *Punishment) IssuedTime() time.Time {
	return time.UnixMilli(p.IssuedAt)
}

func (p *Punishment) ExpiresTime() time.Time {
	if p.ExpiresAt == nil {
		return time.Time{}
	}
	return time.UnixMilli(*p.ExpiresAt)
}

// MarkRemoved copies removal metadata onto an in-memory record.
func (p *Punishment) MarkRemoved(r Removal) {
	p.Active = false
	p.RemovedBy = uuid.NullUUID{UUID: r.By, Valid: true}
	p.RemovedByName = &r.ByName
	p.RemovedAt = &r.At
	p.RemovedReason = &r.Reason
}

func (p *Punishment) Clone() *Punishment {
	if p == nil {
		return nil
	}
	c := *p
	c.ExpiresAt = cloneInt64(p.ExpiresAt)
	c.RemovedAt = cloneInt64(p.RemovedAt)
	c.RemovedByName = cloneString(p.RemovedByName)
	c.RemovedReason = cloneString(p.RemovedReason)
	c.Address = cloneString(p.Address)
	return &c
}

func (e *BlockEntry) IsExpired(now time.Time) bool {
	return e.ExpiresAt != nil && now.UnixMilli() > *e.ExpiresAt
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
