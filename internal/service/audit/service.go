package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/teleconsult-api/internal/model"
	"github.com/jwalitptl/teleconsult-api/internal/repository"
	"github.com/jwalitptl/teleconsult-api/pkg/errors"
)

type Service struct {
	repo repository.AuditRepository
}

func NewService(repo repository.AuditRepository) *Service {
	return &Service{repo: repo}
}

// Log appends an audit entry. Call it with the ctx of the transaction that
// performs the recorded change so both commit together. userID is nil for
// system-originated changes such as payment webhooks.
func (s *Service) Log(ctx context.Context, userID *uuid.UUID, action, entityType string, entityID uuid.UUID, data interface{}) error {
	entry := &model.AuditLog{
		UserID:     userID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID.String(),
	}

	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal audit data: %w", err)
		}
		entry.EventData = raw
	}

	if err := s.repo.Create(ctx, entry); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// EntityHistory lists the entries of one entity, oldest first. Admin only.
func (s *Service) EntityHistory(ctx context.Context, actor model.Actor, entityType string, entityID uuid.UUID) ([]*model.AuditLog, error) {
	if actor.Role != model.RoleAdmin {
		return nil, errors.Forbidden("only admins can read the audit trail")
	}

	logs, err := s.repo.ListByEntity(ctx, entityType, entityID.String())
	if err != nil {
		return nil, errors.Internal(err)
	}
	return logs, nil
}
