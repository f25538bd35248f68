package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"parley-backend/internal/apperr"
	"parley-backend/internal/models"
	"parley-backend/internal/repository"
	"parley-backend/internal/stream"

	"github.com/google/uuid"
)

// SignalRequest é uma mensagem de sinalização WebRTC
type SignalRequest struct {
	Type string          `json:"type" validate:"required,oneof=offer answer ice"`
	Data json.RawMessage `json:"data" validate:"required"`
}

// CallStatus descreve a chamada de um canal
type CallStatus struct {
	Active       bool                      `json:"active"`
	Answered     bool                      `json:"answered,omitempty"`
	StartedBy    string                    `json:"startedBy,omitempty"`
	StartedAt    *time.Time                `json:"startedAt,omitempty"`
	Participants []*models.CallParticipant `json:"participants,omitempty"`
}

// JoinResult diz se a chamada foi iniciada ou se o usuário entrou numa existente
type JoinResult struct {
	Started bool `json:"started,omitempty"`
	Joined  bool `json:"joined,omitempty"`
}

// CallService lida com chamadas de voz em DMs
type CallService struct {
	store    repository.Store
	notifier *stream.Notifier
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

// NewCallService cria um novo serviço de chamadas
func NewCallService(store repository.Store, notifier *stream.Notifier, opts Options, logger *slog.Logger) *CallService {
	return &CallService{store: store, notifier: notifier, opts: opts, logger: logger, now: time.Now}
}

func (s *CallService) member(ctx context.Context, userID, channelID uuid.UUID) (*models.Channel, error) {
	if _, err := s.store.GetMember(ctx, channelID, userID); err != nil {
		return nil, fromStore(err, "Channel not found")
	}
	channel, err := s.store.GetChannel(ctx, channelID)
	if err != nil {
		return nil, fromStore(err, "Channel not found")
	}
	return channel, nil
}

// Join inicia a chamada do DM ou entra na que já existe. O usuário sai
// antes de qualquer outra chamada em que esteja.
func (s *CallService) Join(ctx context.Context, userID, channelID uuid.UUID) (*JoinResult, error) {
	if !s.opts.CallsEnabled {
		return nil, apperr.PermissionDenied("Calls are disabled")
	}
	channel, err := s.member(ctx, userID, channelID)
	if err != nil {
		return nil, err
	}
	if channel.Type != models.ChannelDM {
		return nil, apperr.Validation("Calls are only supported in DM channels")
	}
	if err := s.checkNotBlocked(ctx, userID, channelID); err != nil {
		return nil, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fromStore(err, "User not found")
	}

	active, err := s.store.ListUserActiveCalls(ctx, userID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	for _, other := range active {
		if other == channelID {
			continue
		}
		if err := s.leave(ctx, other, user); err != nil {
			return nil, err
		}
	}

	now := s.now()
	call, err := s.store.GetCall(ctx, channelID)
	switch {
	case err == nil:
		participant, err := s.store.GetParticipant(ctx, channelID, userID)
		if err == nil && participant.LeftAt == nil {
			return nil, apperr.Validation("You are already in this call")
		}
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.Internal(err)
		}
		if err := s.store.JoinCall(ctx, channelID, userID, now); err != nil {
			return nil, apperr.Internal(err)
		}
		s.notifier.CallJoin(channelID, user.Info())
		return &JoinResult{Joined: true}, nil

	case !errors.Is(err, repository.ErrNotFound):
		return nil, apperr.Internal(err)
	}

	call = &models.Call{
		ChannelID:         channelID,
		StartedBy:         userID,
		StartedByUsername: user.Username,
		StartedAt:         now,
	}
	if err := s.store.CreateCall(ctx, call); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, apperr.Conflict("A call was just started in this channel")
		}
		return nil, apperr.Internal(err)
	}
	if err := s.store.JoinCall(ctx, channelID, userID, now); err != nil {
		return nil, apperr.Internal(err)
	}
	s.logger.Info("chamada iniciada", "channel", channelID, "user", userID)
	s.notifier.CallStart(call)
	return &JoinResult{Started: true}, nil
}

// checkNotBlocked recusa a entrada quando o outro lado da DM bloqueou o usuário
func (s *CallService) checkNotBlocked(ctx context.Context, userID, channelID uuid.UUID) error {
	members, err := s.store.ListMembers(ctx, channelID)
	if err != nil {
		return apperr.Internal(err)
	}
	for _, member := range members {
		if member.UserID == userID {
			continue
		}
		blocked, err := s.store.IsBlocked(ctx, member.UserID, userID)
		if err != nil {
			return apperr.Internal(err)
		}
		if blocked {
			return apperr.PermissionDenied("You are blocked by this user")
		}
	}
	return nil
}

// Leave tira o usuário da chamada; a chamada acaba quando esvazia
func (s *CallService) Leave(ctx context.Context, userID, channelID uuid.UUID) error {
	if _, err := s.member(ctx, userID, channelID); err != nil {
		return err
	}
	participant, err := s.store.GetParticipant(ctx, channelID, userID)
	if err != nil {
		return fromStore(err, "You are not in this call")
	}
	if participant.LeftAt != nil {
		return apperr.Validation("You already left this call")
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return fromStore(err, "User not found")
	}
	return s.leave(ctx, channelID, user)
}

func (s *CallService) leave(ctx context.Context, channelID uuid.UUID, user *models.User) error {
	if err := s.store.LeaveCall(ctx, channelID, user.ID, s.now()); err != nil {
		return fromStore(err, "You are not in this call")
	}
	s.notifier.CallLeft(channelID, user.Info())

	remaining, err := s.store.ListActiveParticipants(ctx, channelID)
	if err != nil {
		return apperr.Internal(err)
	}
	if len(remaining) == 0 {
		if err := s.store.DeleteCall(ctx, channelID); err != nil {
			return apperr.Internal(err)
		}
		s.logger.Info("chamada encerrada", "channel", channelID)
	}
	return nil
}

// Signal repassa offer/answer/ice para o outro participante
func (s *CallService) Signal(ctx context.Context, userID, channelID uuid.UUID, req SignalRequest) error {
	if _, err := s.member(ctx, userID, channelID); err != nil {
		return err
	}
	participant, err := s.store.GetParticipant(ctx, channelID, userID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && participant.LeftAt != nil) {
		return apperr.PermissionDenied("You are not in this call")
	}
	if err != nil {
		return apperr.Internal(err)
	}
	switch req.Type {
	case "offer", "answer", "ice":
	default:
		return apperr.Validation("Invalid signal type")
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return fromStore(err, "User not found")
	}
	if err := s.notifier.CallSignal(channelID, userID, user.Username, req.Type, req.Data); err != nil {
		return apperr.Wrap(apperr.KindValidation, "Invalid signal data", err)
	}
	return nil
}

// Status retorna a chamada do canal, se houver
func (s *CallService) Status(ctx context.Context, userID, channelID uuid.UUID) (*CallStatus, error) {
	if _, err := s.member(ctx, userID, channelID); err != nil {
		return nil, err
	}
	call, err := s.store.GetCall(ctx, channelID)
	if errors.Is(err, repository.ErrNotFound) {
		return &CallStatus{Active: false}, nil
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	participants, err := s.store.ListActiveParticipants(ctx, channelID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	startedAt := call.StartedAt
	return &CallStatus{
		Active:       true,
		Answered:     len(participants) >= 2,
		StartedBy:    call.StartedByUsername,
		StartedAt:    &startedAt,
		Participants: participants,
	}, nil
}
