package querylog

import (
	"context"
	"errors"

	"github.com/aman-zulfiqar/defi-nlq/internal/models"
	"github.com/aman-zulfiqar/defi-nlq/internal/storage"
)

// Multi hands each record to every sink. A failing sink does not stop the
// others; their errors are joined.
type Multi []storage.QueryLogStore

func (m Multi) LogQuery(ctx context.Context, rec *models.QueryLog) error {
	var errs []error
	for _, s := range m {
		if err := s.LogQuery(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Ping(ctx context.Context) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Ping(ctx))
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
