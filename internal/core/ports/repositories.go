package ports

import (
	"context"

	"roadwatch/internal/core/domain"
)

// ResultRepository keeps recent FrameResults for the query API.
type ResultRepository interface {
	Save(ctx context.Context, result domain.FrameResult) error
	Latest(ctx context.Context) (*domain.FrameResult, error)
	Recent(ctx context.Context, limit int) ([]domain.FrameResult, error)
	Close() error
}

// ReportStore persists FrameResults durably.
type ReportStore interface {
	SaveReport(ctx context.Context, result domain.FrameResult) error
	Close() error
}

// FrameStore persists frame images.
type FrameStore interface {
	SaveFrame(ctx context.Context, result domain.FrameResult, frame domain.Frame) (string, error)
}
