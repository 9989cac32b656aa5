package logs

import (
	"context"
	"encoding/json"
	"time"

	"log/slog"

	"github.com/selfbase/panel/internal/domain"
	"github.com/selfbase/panel/internal/repository"
	"github.com/selfbase/panel/internal/ws"
)

// Service persists deployment events and streams them to subscribers.
type Service struct {
	repo   repository.LogRepository
	hub    *ws.Hub
	logger *slog.Logger
}

// New constructs a log service.
func New(repo repository.LogRepository, hub *ws.Hub, logger *slog.Logger) Service {
	return Service{repo: repo, hub: hub, logger: logger}
}

// Append stores and broadcasts a log entry.
func (s Service) Append(ctx context.Context, entry domain.ProjectLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	entry.CreatedAt = entry.CreatedAt.UTC()
	if entry.Level == "" {
		entry.Level = "info"
	}
	if err := s.repo.AppendLog(ctx, entry); err != nil {
		return err
	}
	s.broadcast(entry)
	return nil
}

// List returns persisted entries for a project, newest first.
func (s Service) List(ctx context.Context, projectID string, limit, offset int) ([]domain.ProjectLog, error) {
	return s.repo.ListLogsByProject(ctx, projectID, limit, offset)
}

// Hub exposes the stream hub for the HTTP layer.
func (s Service) Hub() *ws.Hub {
	return s.hub
}

func (s Service) broadcast(entry domain.ProjectLog) {
	if s.hub == nil {
		return
	}
	payload, err := MarshalEntry(entry)
	if err != nil {
		s.logger.Warn("failed to marshal log payload", "error", err)
		return
	}
	s.hub.Broadcast(entry.ProjectID, payload)
}

// MarshalEntry formats a log entry for streaming payloads.
func MarshalEntry(entry domain.ProjectLog) ([]byte, error) {
	var metadata any
	if len(entry.Metadata) > 0 {
		metadata = json.RawMessage(entry.Metadata)
	}
	payload := map[string]any{
		"id":         entry.ID,
		"project_id": entry.ProjectID,
		"source":     entry.Source,
		"level":      entry.Level,
		"message":    entry.Message,
		"metadata":   metadata,
		"created_at": entry.CreatedAt.Format(time.RFC3339Nano),
	}
	return json.Marshal(payload)
}
