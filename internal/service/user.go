package service

import (
	"context"
	"errors"
	"log/slog"
	"time"
	"unicode/utf8"

	"parley-backend/internal/apperr"
	"parley-backend/internal/models"
	"parley-backend/internal/repository"
	"parley-backend/internal/stream"

	"github.com/google/uuid"
)

// Limites do nome de exibição
const (
	minDisplayLength = 2
	maxDisplayLength = 24
)

// ProfileUpdate é o corpo do PATCH /me. Display vazio remove o nome.
type ProfileUpdate struct {
	Display *string `json:"display"`
}

// SessionView é uma sessão listada para o próprio usuário
type SessionView struct {
	*models.Session
	Current bool `json:"current"`
}

// UserService lida com perfil e sessões do usuário autenticado
type UserService struct {
	store    repository.Store
	notifier *stream.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewUserService cria um novo serviço de usuário
func NewUserService(store repository.Store, notifier *stream.Notifier, logger *slog.Logger) *UserService {
	return &UserService{
		store:    store,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Me retorna o perfil do usuário
func (s *UserService) Me(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fromStore(err, "User not found")
	}
	return user, nil
}

// UpdateProfile troca o nome de exibição e avisa os canais do usuário
func (s *UserService) UpdateProfile(ctx context.Context, userID uuid.UUID, req ProfileUpdate) (*models.User, error) {
	if req.Display == nil {
		return nil, apperr.Validation("No valid parameters to update")
	}

	var display *string
	if *req.Display != "" {
		n := utf8.RuneCountInString(*req.Display)
		if n < minDisplayLength || n > maxDisplayLength {
			return nil, apperr.Validation("Invalid display parameter, error: length")
		}
		display = req.Display
	}

	if err := s.store.UpdateUserDisplayName(ctx, userID, display); err != nil {
		return nil, fromStore(err, "User not found")
	}
	user, err := s.Me(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.notifier.MemberInfoChanged(ctx, userID, user.Info())
	return user, nil
}

// Logout encerra a sessão atual
func (s *UserService) Logout(ctx context.Context, userID, sessionID uuid.UUID) error {
	return s.RevokeSession(ctx, userID, sessionID)
}

// ListSessions lista as sessões do usuário, marcando a atual
func (s *UserService) ListSessions(ctx context.Context, userID, currentID uuid.UUID) ([]SessionView, error) {
	sessions, err := s.store.ListSessions(ctx, userID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	views := make([]SessionView, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, SessionView{Session: session, Current: session.ID == currentID})
	}
	return views, nil
}

// RevokeSession remove uma sessão do próprio usuário. Os streams abertos
// por ela caem na próxima verificação de sessão.
func (s *UserService) RevokeSession(ctx context.Context, userID, sessionID uuid.UUID) error {
	deleted, err := s.store.DeleteSession(ctx, userID, sessionID)
	if err != nil {
		return apperr.Internal(err)
	}
	if !deleted {
		return apperr.NotFound("Session not found")
	}
	return nil
}

// RevokeAllSessions remove todas as sessões, inclusive a atual
func (s *UserService) RevokeAllSessions(ctx context.Context, userID uuid.UUID) (int64, error) {
	deleted, err := s.store.DeleteUserSessions(ctx, userID)
	if err != nil {
		return 0, apperr.Internal(err)
	}
	s.logger.Info("sessões revogadas", "user", userID, "count", deleted)
	return deleted, nil
}

// ListBlocks lista os usuários bloqueados, do bloqueio mais recente ao mais antigo
func (s *UserService) ListBlocks(ctx context.Context, userID uuid.UUID) ([]*models.Block, error) {
	blocks, err := s.store.ListBlocks(ctx, userID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return blocks, nil
}

// Block bloqueia o usuário. Um bloqueado não consegue entrar em chamada
// na DM com quem o bloqueou.
func (s *UserService) Block(ctx context.Context, userID uuid.UUID, username string) error {
	target, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return fromStore(err, "User not found")
	}
	if target.ID == userID {
		return apperr.Validation("Cannot block yourself")
	}
	block := &models.Block{BlockerID: userID, BlockedID: target.ID, BlockedAt: s.now()}
	if err := s.store.CreateBlock(ctx, block); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return apperr.Conflict("User is already blocked")
		}
		return apperr.Internal(err)
	}
	s.logger.Info("usuário bloqueado", "user", userID, "target", target.ID)
	return nil
}

// Unblock desfaz o bloqueio
func (s *UserService) Unblock(ctx context.Context, userID uuid.UUID, username string) error {
	target, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return fromStore(err, "User not found")
	}
	deleted, err := s.store.DeleteBlock(ctx, userID, target.ID)
	if err != nil {
		return apperr.Internal(err)
	}
	if !deleted {
		return apperr.NotFound("User is not blocked")
	}
	return nil
}
