// Package repository declares the narrow storage view the outbox relay
// needs, so pkg/worker does not depend on the full store interfaces.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/teleconsult-api/internal/model"
)

type OutboxRepository interface {
	// GetPendingEventsWithLock must run inside WithTx; rows stay locked
	// until the transaction ends and concurrent relays skip them.
	GetPendingEventsWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string, retryAt *time.Time) error
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}

type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}
