package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/livechat-service/internal/api/dto"
	"github.com/spec-kit/livechat-service/internal/domain"
	"github.com/spec-kit/livechat-service/internal/realtime"
	"github.com/spec-kit/livechat-service/internal/repository"
	apperrors "github.com/spec-kit/livechat-service/pkg/util/errorutil"
)

const generalRoomTitle = "General"

// RoomService manages internal operator rooms. The general room always lists
// every operator; other rooms have explicit participants.
type RoomService struct {
	rooms       repository.RoomRepository
	messages    repository.RoomMessageRepository
	users       repository.UserRepository
	ledger      *LedgerService
	broadcaster Broadcaster
	logger      *zap.Logger
	pageSize    int
	now         func() time.Time
}

// RoomDependencies bundles collaborators.
type RoomDependencies struct {
	RoomRepo        repository.RoomRepository
	RoomMessageRepo repository.RoomMessageRepository
	UserRepo        repository.UserRepository
	LedgerService   *LedgerService
	Broadcaster     Broadcaster
	Logger          *zap.Logger
	PageSize        int
	Now             func() time.Time
}

// NewRoomService creates the service.
func NewRoomService(deps RoomDependencies) *RoomService {
	pageSize := deps.PageSize
	if pageSize <= 0 {
		pageSize = defaultHistoryLimit
	}
	return &RoomService{
		rooms:       deps.RoomRepo,
		messages:    deps.RoomMessageRepo,
		users:       deps.UserRepo,
		ledger:      deps.LedgerService,
		broadcaster: deps.Broadcaster,
		logger:      nopLogger(deps.Logger),
		pageSize:    pageSize,
		now:         clockOrNow(deps.Now),
	}
}

func (s *RoomService) operatorIDs(ctx context.Context) ([]string, error) {
	operators, err := s.users.ListByRoles(ctx, domain.RoleSupport, domain.RoleAdmin)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	ids := make([]string, 0, len(operators))
	for _, op := range operators {
		ids = append(ids, op.ExternalID)
	}
	return ids, nil
}

// EnsureGeneral returns the general room, creating it or adding operators
// missing from its participants.
func (s *RoomService) EnsureGeneral(ctx context.Context) (*domain.Room, error) {
	operators, err := s.operatorIDs(ctx)
	if err != nil {
		return nil, err
	}

	room, err := s.rooms.GetGeneral(ctx)
	if err != nil && !isNotFound(err) {
		return nil, apperrors.MapError(err)
	}
	if room == nil {
		room = &domain.Room{
			Title:        generalRoomTitle,
			Participants: operators,
			IsGeneral:    true,
			CreatedBy:    domain.SystemSenderID,
			CreatedAt:    s.now(),
		}
		if err := s.rooms.Create(ctx, room); err != nil {
			if !repository.IsUniqueViolation(err) {
				return nil, apperrors.MapError(err)
			}
			if room, err = s.rooms.GetGeneral(ctx); err != nil {
				return nil, apperrors.MapError(err)
			}
		} else {
			s.logger.Info("general room created", zap.String("room_id", room.ID), zap.Int("participants", len(operators)))
			return room, nil
		}
	}

	merged, changed := mergeParticipants(room.Participants, operators)
	if !changed {
		return room, nil
	}
	if err := s.rooms.UpdateDetails(ctx, room.ID, room.Title, merged); err != nil {
		return nil, notFoundOr(err, "room", map[string]any{"room_id": room.ID})
	}
	room.Participants = merged
	return room, nil
}

// Create opens a room. The creator is always a participant and every
// participant must be an operator.
func (s *RoomService) Create(ctx context.Context, actor domain.Principal, req dto.CreateRoomRequest) (*domain.Room, error) {
	if !actor.Role.IsOperator() {
		return nil, apperrors.NewForbidden("operator role required")
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, apperrors.NewValidationError("title required", nil)
	}
	participants, err := s.validParticipants(ctx, append([]string{actor.ExternalID}, req.Participants...))
	if err != nil {
		return nil, err
	}
	room := &domain.Room{
		Title:        title,
		Participants: participants,
		CreatedBy:    actor.ExternalID,
		CreatedAt:    s.now(),
	}
	room.LastMessageAt = room.CreatedAt
	if err := s.rooms.Create(ctx, room); err != nil {
		return nil, apperrors.MapError(err)
	}
	s.logger.Info("room created", zap.String("room_id", room.ID), zap.String("created_by", actor.ExternalID))

	view := dto.NewRoomResponse(room)
	for _, p := range room.Participants {
		s.broadcaster.ToPrincipal(p, realtime.EventInternalRoomUpdated, view)
	}
	return room, nil
}

// List returns the rooms visible to the principal. Admins see every room.
func (s *RoomService) List(ctx context.Context, actor domain.Principal) ([]domain.Room, error) {
	if !actor.Role.IsOperator() {
		return nil, apperrors.NewForbidden("operator role required")
	}
	if _, err := s.EnsureGeneral(ctx); err != nil {
		s.logger.Warn("ensure general room", zap.Error(err))
	}
	var (
		rooms []domain.Room
		err   error
	)
	if actor.Role == domain.RoleAdmin {
		rooms, err = s.rooms.List(ctx)
	} else {
		rooms, err = s.rooms.ListForParticipant(ctx, actor.ExternalID)
	}
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return rooms, nil
}

// Get loads a room the principal participates in.
func (s *RoomService) Get(ctx context.Context, actor domain.Principal, roomID string) (*domain.Room, error) {
	if !actor.Role.IsOperator() {
		return nil, apperrors.NewForbidden("operator role required")
	}
	if err := validID(roomID, "room"); err != nil {
		return nil, err
	}
	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, notFoundOr(err, "room", map[string]any{"room_id": roomID})
	}
	if !room.HasParticipant(actor.ExternalID) && actor.Role != domain.RoleAdmin {
		return nil, apperrors.NewNotFound("room", map[string]any{"room_id": roomID})
	}
	return room, nil
}

// UpdateParticipants replaces the title and participant list of a room.
// Removed participants lose their unread entries.
func (s *RoomService) UpdateParticipants(ctx context.Context, actor domain.Principal, roomID string, req dto.UpdateParticipantsRequest) (*domain.Room, error) {
	room, err := s.Get(ctx, actor, roomID)
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = room.Title
	}
	participants := room.Participants
	if !room.IsGeneral {
		participants, err = s.validParticipants(ctx, req.Participants)
		if err != nil {
			return nil, err
		}
		if len(participants) == 0 {
			return nil, apperrors.NewValidationError("at least one participant required", nil)
		}
	} else if len(req.Participants) > 0 {
		return nil, apperrors.NewValidationError("general room participants are managed automatically", nil)
	}

	removed := missingFrom(room.Participants, participants)
	if err := s.rooms.UpdateDetails(ctx, room.ID, title, participants); err != nil {
		return nil, notFoundOr(err, "room", map[string]any{"room_id": room.ID})
	}
	room.Title = title
	room.Participants = participants

	if len(removed) > 0 {
		ledger, err := s.ledger.RemoveRoomParticipants(ctx, room.ID, removed)
		if err != nil {
			s.logger.Warn("drop removed participants from ledger", zap.String("room_id", room.ID), zap.Error(err))
		} else {
			room.Unread = *ledger
		}
	}

	view := dto.NewRoomResponse(room)
	s.broadcaster.ToRoom(realtime.InternalRoom(room.ID), realtime.EventInternalRoomUpdated, view)
	for _, p := range participants {
		s.broadcaster.ToPrincipal(p, realtime.EventInternalRoomUpdated, view)
	}
	for _, p := range removed {
		s.broadcaster.ToPrincipal(p, realtime.EventInternalRoomUpdated, view)
	}
	return room, nil
}

// PostMessage stores a room message, bumps the other participants and
// broadcasts it to the room.
func (s *RoomService) PostMessage(ctx context.Context, actor domain.Principal, req dto.RoomMessageRequest) (*domain.RoomMessage, error) {
	room, err := s.Get(ctx, actor, req.RoomID)
	if err != nil {
		return nil, err
	}
	if !room.HasParticipant(actor.ExternalID) {
		return nil, apperrors.NewNotFound("room", map[string]any{"room_id": room.ID})
	}
	content := strings.TrimSpace(req.Content)
	msgType := req.MessageType
	if msgType == "" {
		msgType = domain.MessageTypeText
	}
	if msgType == domain.MessageTypeSystem || !msgType.Valid() {
		return nil, apperrors.NewValidationError("unsupported message type", map[string]any{"message_type": msgType})
	}
	if content == "" && req.Metadata == nil {
		return nil, apperrors.NewValidationError("content required", nil)
	}

	msg := &domain.RoomMessage{
		RoomID:     room.ID,
		SenderID:   actor.ExternalID,
		SenderName: actor.DisplayName,
		SenderRole: actor.Role,
		Content:    content,
		Type:       msgType,
		Metadata:   req.Metadata,
		CreatedAt:  s.now(),
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, apperrors.MapError(err)
	}
	if err := s.rooms.TouchLastMessage(ctx, room.ID, msg.CreatedAt); err != nil {
		s.logger.Warn("touch room", zap.String("room_id", room.ID), zap.Error(err))
	}
	if _, err := s.ledger.RecordRoomMessage(ctx, room, actor.ExternalID); err != nil {
		s.logger.Warn("update room ledger", zap.String("room_id", room.ID), zap.Error(err))
	}
	s.broadcaster.ToRoom(realtime.InternalRoom(room.ID), realtime.EventInternalRoomMessage, dto.NewRoomMessageResponse(msg))
	return msg, nil
}

// MarkRead zeroes the principal's unread entry for a room.
func (s *RoomService) MarkRead(ctx context.Context, actor domain.Principal, roomID string) (*domain.UnreadLedger, error) {
	room, err := s.Get(ctx, actor, roomID)
	if err != nil {
		return nil, err
	}
	return s.ledger.MarkRoomRead(ctx, room.ID, actor.ExternalID)
}

// Messages returns the latest room messages in chronological order.
func (s *RoomService) Messages(ctx context.Context, actor domain.Principal, roomID string, limit int) ([]domain.RoomMessage, error) {
	room, err := s.Get(ctx, actor, roomID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > s.pageSize {
		limit = s.pageSize
	}
	msgs, err := s.messages.ListRecent(ctx, room.ID, limit)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return msgs, nil
}

// Join subscribes the connection to a room and replays recent messages.
func (s *RoomService) Join(ctx context.Context, sess Session, roomID string) error {
	actor := sess.Principal()
	room, err := s.Get(ctx, actor, roomID)
	if err != nil {
		return err
	}
	msgs, err := s.messages.ListRecent(ctx, room.ID, s.pageSize)
	if err != nil {
		return apperrors.MapError(err)
	}
	sess.JoinRoom(realtime.InternalRoom(room.ID))
	sess.Emit(realtime.EventInternalRoomJoined, dto.RoomJoinedPayload{
		Room:     dto.NewRoomResponse(room),
		Messages: dto.NewRoomMessageResponses(msgs),
	})
	return nil
}

// JoinAll subscribes an operator connection to every room it belongs to.
func (s *RoomService) JoinAll(ctx context.Context, sess Session) error {
	if _, err := s.EnsureGeneral(ctx); err != nil {
		return err
	}
	rooms, err := s.rooms.ListForParticipant(ctx, sess.Principal().ExternalID)
	if err != nil {
		return apperrors.MapError(err)
	}
	for _, room := range rooms {
		sess.JoinRoom(realtime.InternalRoom(room.ID))
	}
	return nil
}

// validParticipants dedupes ids and rejects anyone who is not an operator.
func (s *RoomService) validParticipants(ctx context.Context, ids []string) ([]string, error) {
	operators, err := s.operatorIDs(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[string]struct{}, len(operators))
	for _, id := range operators {
		known[id] = struct{}{}
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		if _, ok := known[id]; !ok {
			return nil, apperrors.NewValidationError("participants must be operators", map[string]any{"participant": id})
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

func mergeParticipants(current, required []string) ([]string, bool) {
	merged := append([]string(nil), current...)
	changed := false
	for _, id := range missingFrom(required, current) {
		merged = append(merged, id)
		changed = true
	}
	return merged, changed
}

// missingFrom returns the entries of from that are absent in in.
func missingFrom(from, in []string) []string {
	set := make(map[string]struct{}, len(in))
	for _, id := range in {
		set[id] = struct{}{}
	}
	var out []string
	for _, id := range from {
		if _, ok := set[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
