package service

import (
	"context"

	"github.com/josh-kwaku/simsync/internal/domain"
	"github.com/josh-kwaku/simsync/internal/notify"
	"github.com/josh-kwaku/simsync/internal/provider"
)

type tokenRefresher interface {
	RefreshToken(ctx context.Context, id provider.Identity, refreshToken string) (*provider.TokenAttributes, error)
}

type accountReader interface {
	Dashboard(ctx context.Context, id provider.Identity) (string, error)
	PointDashboard(ctx context.Context, id provider.Identity) (int64, error)
	Balance(ctx context.Context, id provider.Identity) (provider.Balance, error)
	ClaimList(ctx context.Context, id provider.Identity) (*domain.ClaimPoints, error)
}

type pointsClaimer interface {
	Claim(ctx context.Context, id provider.Identity, pointsID string) error
}

type pointsTransferrer interface {
	TransferPoints(ctx context.Context, id provider.Identity, recipient string, amount int64) (provider.TransferResult, error)
	ConfirmTransfer(ctx context.Context, id provider.Identity, recipient string, amount int64, otp, requestID string) (provider.TransferResult, error)
	PointDetails(ctx context.Context, id provider.Identity) (provider.PointDetails, error)
}

type tokenLifecycle interface {
	Refresh(ctx context.Context, rec domain.AccountRecord, force bool) domain.AccountRecord
}

type sessionCaller interface {
	Call(ctx context.Context, rec domain.AccountRecord, call func(context.Context, provider.Identity) error) (domain.AccountRecord, error)
}

type accountProcessor interface {
	Process(ctx context.Context, rec domain.AccountRecord, opts ProcessOptions) domain.Outcome
}

type recordWriter interface {
	Upsert(ctx context.Context, rec *domain.AccountRecord) error
}

type recordStore interface {
	recordWriter
	GetPage(ctx context.Context, page, size int) ([]domain.AccountRecord, error)
	GetAll(ctx context.Context) ([]domain.AccountRecord, error)
}

type accountStore interface {
	recordWriter
	Insert(ctx context.Context, rec *domain.AccountRecord, limit int) error
	GetByKey(ctx context.Context, userID domain.UserID) (*domain.AccountRecord, error)
	DeleteByKey(ctx context.Context, userID domain.UserID) error
	DeleteAll(ctx context.Context) error
}

type soldStore interface {
	Upsert(ctx context.Context, rec *domain.SoldRecord) error
	GetAll(ctx context.Context) ([]domain.SoldRecord, error)
	DeleteByKey(ctx context.Context, userID domain.UserID) error
}

type recordMirror interface {
	Upsert(ctx context.Context, key string, doc domain.AccountRecord) error
	GetAll(ctx context.Context) ([]domain.AccountRecord, error)
	Delete(ctx context.Context, key string) error
}

type soldMirror interface {
	Upsert(ctx context.Context, key string, doc domain.SoldRecord) error
	Delete(ctx context.Context, key string) error
}

type mirrorSyncer interface {
	Sync(ctx context.Context) (int, error)
}

type eventPublisher interface {
	Publish(ctx context.Context, event notify.BatchCompleted) error
}
