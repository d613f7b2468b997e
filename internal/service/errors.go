// Package service holds helpers shared by the domain services.
package service

import (
	"context"
	stderrors "errors"

	"github.com/jwalitptl/teleconsult-api/internal/repository"
	"github.com/jwalitptl/teleconsult-api/pkg/errors"
)

// MapStoreError turns a storage failure into an AppError. AppErrors raised
// inside a transaction pass through untouched.
func MapStoreError(resource string, err error) error {
	if err == nil {
		return nil
	}

	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}

	switch {
	case stderrors.Is(err, repository.ErrNotFound):
		return errors.NotFound(resource, err)
	case repository.IsRetryable(err), stderrors.Is(err, context.DeadlineExceeded):
		return errors.Conflict(resource+" is busy, retry the request", err)
	}
	return errors.Internal(err)
}
