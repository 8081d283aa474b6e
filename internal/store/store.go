package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/dupreaper/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")
var ErrInvalidTransition = errors.New("invalid run status transition")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error

	CreateRun(ctx context.Context, run *models.Run) error
	GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*models.Run, int, error)
	UpdateRunStatus(ctx context.Context, id uuid.UUID, status string, opts ...RunUpdateOption) error
	AddRunWindow(ctx context.Context, window *models.RunWindow) error
}

type RunFilter struct {
	Index  string
	Status string
	Page   int
	Limit  int
}

// RunUpdate collects the optional fields of a status change.
type RunUpdate struct {
	ErrorMessage *string
	Totals       *models.RunTotals
}

type RunUpdateOption func(*RunUpdate)

func WithErrorMessage(msg string) RunUpdateOption {
	return func(p *RunUpdate) {
		p.ErrorMessage = &msg
	}
}

// WithTotals stores the aggregated window counters on the run.
func WithTotals(t models.RunTotals) RunUpdateOption {
	return func(p *RunUpdate) {
		p.Totals = &t
	}
}
