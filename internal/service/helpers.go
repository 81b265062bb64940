package service

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/livechat-service/internal/domain"
	"github.com/spec-kit/livechat-service/internal/events"
	apperrors "github.com/spec-kit/livechat-service/pkg/util/errorutil"
)

const previewLimit = 100

// notFoundOr maps pgx.ErrNoRows to a not-found DomainError.
func notFoundOr(err error, resource string, details map[string]any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NewNotFound(resource, details)
	}
	return apperrors.MapError(err)
}

func isNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || apperrors.HasCode(err, "NOT_FOUND")
}

func publishEvent(ctx context.Context, dispatcher events.Dispatcher, logger *zap.Logger, eventType events.EventType, aggregateID string, actor events.Actor, payload any) {
	if dispatcher == nil {
		return
	}
	event := events.Event{
		ID:          uuid.NewString(),
		Type:        eventType,
		AggregateID: aggregateID,
		Actor:       actor,
		Timestamp:   time.Now().UTC(),
		Payload:     payload,
	}
	if err := dispatcher.Publish(ctx, event); err != nil && logger != nil {
		logger.Warn("publish domain event", zap.String("type", string(eventType)), zap.Error(err))
	}
}

func actorOf(p domain.Principal) events.Actor {
	return events.Actor{PrincipalID: p.ExternalID, Role: p.Role}
}

var systemActor = events.Actor{PrincipalID: domain.SystemSenderID}

// messagePreview shortens content for list rows and notifications.
func messagePreview(content string, kind domain.MessageType) string {
	if kind == domain.MessageTypeImage {
		return "Image"
	}
	if utf8.RuneCountInString(content) <= previewLimit {
		return content
	}
	runes := []rune(content)
	return string(runes[:previewLimit]) + "..."
}

func ptr[T any](v T) *T {
	return &v
}

func nopLogger(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

func clockOrNow(now func() time.Time) func() time.Time {
	if now == nil {
		return time.Now
	}
	return now
}

// validID rejects ids that cannot exist so storage never sees malformed keys.
func validID(id, resource string) error {
	if _, err := uuid.Parse(id); err != nil {
		return apperrors.NewNotFound(resource, map[string]any{"id": id})
	}
	return nil
}
