package repository

import (
	"context"

	"nictopo/internal/domain"
)

// ReportSink persists the reports of one run
type ReportSink interface {
	// SaveRun replaces the stored snapshot with reports
	SaveRun(ctx context.Context, reports []domain.HostReport) error

	// Close releases resources
	Close() error
}

// ReportStore is a sink that can also read the snapshot back
type ReportStore interface {
	ReportSink

	// LoadRun returns the stored reports ordered by host name
	LoadRun(ctx context.Context) ([]domain.HostReport, error)
}
