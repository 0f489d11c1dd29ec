package db

import (
	"context"

	"github.com/google/uuid"
)

type Client interface {
	Close() error
	Ping(ctx context.Context) error

	InsertPunishment(ctx context.Context, p *Punishment) (int64, error)
	GetPunishment(ctx context.Context, id int64) (*Punishment, error)
	GetPunishmentsByAccount(ctx context.Context, accountID uuid.UUID) ([]*Punishment, error)
	CountPunishments(ctx context.Context, accountID uuid.UUID) (int, error)
	GetRecentPunishments(ctx context.Context, limit int) ([]*Punishment, error)
	GetActivePunishments(ctx context.Context, types ...PunishmentType) ([]*Punishment, error)
	GetActivePunishment(ctx context.Context, accountID uuid.UUID, t PunishmentType) (*Punishment, error)
	FindActivePunishment(ctx context.Context, nameOrID string, t PunishmentType) (*Punishment, error)
	DeactivatePunishment(ctx context.Context, id int64, removal Removal) (bool, error)

	GetBuildBanGroup(ctx context.Context, accountID uuid.UUID) (*BuildBanGroup, error)
	SaveOriginalGroup(ctx context.Context, accountID uuid.UUID, group string) error
	MarkNeedsRestoration(ctx context.Context, accountID uuid.UUID) error
	DeleteBuildBanGroup(ctx context.Context, accountID uuid.UUID) error

	InsertAppeal(ctx context.Context, a *Appeal) (int64, error)
	GetAppeal(ctx context.Context, id int64) (*Appeal, error)
	GetAppeals(ctx context.Context, status AppealStatus, limit int) ([]*Appeal, error)
	GetAppealsByAccount(ctx context.Context, accountID uuid.UUID) ([]*Appeal, error)
	LatestAppealAt(ctx context.Context, accountID uuid.UUID) (int64, error)
	ReviewAppeal(ctx context.Context, id int64, review Review) (bool, error)

	UpsertAccount(ctx context.Context, account *Account) error
	GetAccount(ctx context.Context, id uuid.UUID) (*Account, error)
	GetAccountByName(ctx context.Context, name string) (*Account, error)

	UpsertBlock(ctx context.Context, entry *BlockEntry) error
	GetBlock(ctx context.Context, accountID uuid.UUID) (*BlockEntry, error)
	DeleteBlock(ctx context.Context, accountID uuid.UUID) (bool, error)

	GetPermissionUser(ctx context.Context, accountID uuid.UUID) (*PermissionUser, error)
	SavePermissionUser(ctx context.Context, user *PermissionUser) error

	InsertAuditEntry(ctx context.Context, entry *AuditEntry) (int64, error)
	GetRecentAuditEntries(ctx context.Context, limit int) ([]*AuditEntry, error)
	DeleteAuditEntriesBefore(ctx context.Context, cutoff int64) (int64, error)

	GetKV(ctx context.Context, key string) (string, error)
	SetKV(ctx context.Context, key string, value string) error
}
